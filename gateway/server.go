// Package gateway exposes the execution plane over HTTP. The surface is
// deliberately thin: decode JSON, hand the payload to the executor, encode
// the pipeline result. Authentication happens inside the pipeline (A2A),
// not at the transport.
package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"intentd/executor"
)

// maxPayloadBytes bounds how much of a request body is read.
const maxPayloadBytes = 1 << 20 // 1 MiB

// Pipeline is the executor surface the gateway depends on.
type Pipeline interface {
	RunExecutionPayload(ctx context.Context, raw []byte, dryRunOverride bool) *executor.Result
	RunInstruction(ctx context.Context, instruction string, dryRun bool) *executor.Result
}

// Server routes execution-plane requests into the pipeline.
type Server struct {
	pipeline Pipeline
	logger   *slog.Logger
	router   chi.Router
}

func NewServer(pipeline Pipeline, limiter *RateLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{pipeline: pipeline, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestID)
	if limiter != nil {
		r.Use(limiter.Middleware)
	}
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Post("/v1/execute", s.handleExecute)
	r.Post("/v1/instruction", s.handleInstruction)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestID stamps every request with a correlation id for access logs.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleExecute ingests an execution-plane envelope. The pipeline result is
// returned verbatim; ok=false results map to 422 so upstream agents can
// branch on transport status without parsing the body.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes+1))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	if len(raw) > maxPayloadBytes {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	res := s.pipeline.RunExecutionPayload(r.Context(), raw, false)
	s.logger.Info("execution payload processed",
		"runId", res.RunID, "source", res.Source, "code", errorCode(res))
	status := http.StatusOK
	if !res.OK {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

type instructionRequest struct {
	Instruction string `json:"instruction"`
	DryRun      bool   `json:"dryRun"`
}

func (s *Server) handleInstruction(w http.ResponseWriter, r *http.Request) {
	var req instructionRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxPayloadBytes))
	if err := dec.Decode(&req); err != nil || strings.TrimSpace(req.Instruction) == "" {
		http.Error(w, "instruction is required", http.StatusBadRequest)
		return
	}
	res := s.pipeline.RunInstruction(r.Context(), req.Instruction, req.DryRun)
	s.logger.Info("instruction processed",
		"runId", res.RunID, "source", res.Source, "code", errorCode(res))
	status := http.StatusOK
	if !res.OK {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func errorCode(res *executor.Result) string {
	if res.Error == nil {
		return ""
	}
	return res.Error.Code
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
