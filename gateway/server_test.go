package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"intentd/executor"
)

type stubPipeline struct {
	lastPayload     []byte
	lastInstruction string
	result          *executor.Result
}

func (s *stubPipeline) RunExecutionPayload(ctx context.Context, raw []byte, dryRunOverride bool) *executor.Result {
	s.lastPayload = raw
	return s.result
}

func (s *stubPipeline) RunInstruction(ctx context.Context, instruction string, dryRun bool) *executor.Result {
	s.lastInstruction = instruction
	return s.result
}

func TestHealthz(t *testing.T) {
	server := NewServer(&stubPipeline{result: &executor.Result{OK: true}}, nil, nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ok"`)
}

func TestExecuteReturnsPipelineResult(t *testing.T) {
	pipeline := &stubPipeline{result: &executor.Result{OK: true, RunID: "run_1_deadbeef", Source: "execution_plane"}}
	server := NewServer(pipeline, nil, nil)

	body := strings.NewReader(`{"schemaVersion":"v1"}`)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/execute", body))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "run_1_deadbeef")
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	require.JSONEq(t, `{"schemaVersion":"v1"}`, string(pipeline.lastPayload))
}

func TestExecuteFailureMapsTo422(t *testing.T) {
	pipeline := &stubPipeline{result: &executor.Result{
		OK: false, RunID: "run_2_cafecafe",
		Error: &executor.ErrorShape{Code: "A2A_AUTH_REQUIRED", Message: "unsigned"},
	}}
	server := NewServer(pipeline, nil, nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/execute", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "A2A_AUTH_REQUIRED")
}

func TestInstructionEndpoint(t *testing.T) {
	pipeline := &stubPipeline{result: &executor.Result{OK: true, RunID: "run_3_0badf00d"}}
	server := NewServer(pipeline, nil, nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/instruction",
		strings.NewReader(`{"instruction":"/saldo","dryRun":true}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "/saldo", pipeline.lastInstruction)

	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/instruction", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimiterRejectsBursts(t *testing.T) {
	pipeline := &stubPipeline{result: &executor.Result{OK: true}}
	server := NewServer(pipeline, NewRateLimiter(1, 2), nil)

	statuses := map[int]int{}
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.9:1234"
		server.ServeHTTP(rec, req)
		statuses[rec.Code]++
	}
	require.Equal(t, 2, statuses[http.StatusOK])
	require.Equal(t, 3, statuses[http.StatusTooManyRequests])
}
