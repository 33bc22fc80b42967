package breaker

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"intentd/oerr"
)

func newTestBreaker(t *testing.T) *Breaker {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "circuit-breaker.json"), time.Second, time.Minute)
}

func TestDisabledBreakerAlwaysAllows(t *testing.T) {
	b := newTestBreaker(t)
	cfg := Config{Enabled: false, MaxFailures: 1, WindowSec: 60, CooldownSec: 60}
	require.NoError(t, b.RegisterFailure(cfg, ErrorInfo{Code: "X"}))
	require.NoError(t, b.AssertCanExecute(cfg))
}

func TestOpensAfterMaxFailures(t *testing.T) {
	b := newTestBreaker(t)
	cfg := Config{Enabled: true, MaxFailures: 3, WindowSec: 300, CooldownSec: 600}

	for i := 0; i < 2; i++ {
		require.NoError(t, b.RegisterFailure(cfg, ErrorInfo{Code: "HYPERLIQUID_EXECUTION_FAILED", Message: "boom"}))
		require.NoError(t, b.AssertCanExecute(cfg))
	}
	require.NoError(t, b.RegisterFailure(cfg, ErrorInfo{Code: "HYPERLIQUID_EXECUTION_FAILED", Message: "boom"}))

	err := b.AssertCanExecute(cfg)
	require.Error(t, err)
	coded := oerr.From(err)
	require.Equal(t, "CIRCUIT_BREAKER_OPEN", coded.Code)
	require.Contains(t, coded.Details, "openUntil")
	require.Contains(t, coded.Details, "lastError")
}

func TestWindowPruningForgetsOldFailures(t *testing.T) {
	b := newTestBreaker(t)
	cfg := Config{Enabled: true, MaxFailures: 2, WindowSec: 10, CooldownSec: 600}

	base := time.Now()
	b.nowFn = func() time.Time { return base }
	require.NoError(t, b.RegisterFailure(cfg, ErrorInfo{Code: "A"}))

	b.nowFn = func() time.Time { return base.Add(30 * time.Second) }
	require.NoError(t, b.RegisterFailure(cfg, ErrorInfo{Code: "B"}))
	require.NoError(t, b.AssertCanExecute(cfg), "first failure fell out of the window")
}

func TestCooldownExpires(t *testing.T) {
	b := newTestBreaker(t)
	cfg := Config{Enabled: true, MaxFailures: 1, WindowSec: 60, CooldownSec: 30}

	base := time.Now()
	b.nowFn = func() time.Time { return base }
	require.NoError(t, b.RegisterFailure(cfg, ErrorInfo{Code: "A"}))
	require.Error(t, b.AssertCanExecute(cfg))

	b.nowFn = func() time.Time { return base.Add(31 * time.Second) }
	require.NoError(t, b.AssertCanExecute(cfg))
}

func TestRegisterSuccessOnlyPrunes(t *testing.T) {
	b := newTestBreaker(t)
	cfg := Config{Enabled: true, MaxFailures: 1, WindowSec: 60, CooldownSec: 600}
	require.NoError(t, b.RegisterFailure(cfg, ErrorInfo{Code: "A"}))
	require.NoError(t, b.RegisterSuccess(cfg))
	require.Error(t, b.AssertCanExecute(cfg), "success must not close an open circuit")
}
