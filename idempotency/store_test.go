package idempotency

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "idempotency.json"), time.Second, time.Minute)
}

func TestComputeStableAcrossFieldOrder(t *testing.T) {
	a := map[string]any{"action": "transfer", "amount": "0.001", "chain": "base"}
	b := map[string]any{"chain": "base", "amount": "0.001", "action": "transfer"}

	ka, err := Compute(a, "1")
	require.NoError(t, err)
	kb, err := Compute(b, "1")
	require.NoError(t, err)
	require.Equal(t, ka, kb)

	kc, err := Compute(a, "2")
	require.NoError(t, err)
	require.NotEqual(t, ka, kc, "policy version must shift the fingerprint")
}

func TestMarkLifecycle(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.Get("deadbeef")
	require.NoError(t, err)
	require.Nil(t, rec)

	require.NoError(t, store.MarkPending("deadbeef", "run_1"))
	rec, err = store.Get("deadbeef")
	require.NoError(t, err)
	require.Equal(t, StatusPending, rec.Status)
	require.Equal(t, "run_1", rec.RunID)
	require.NotEmpty(t, rec.UpdatedAt)

	require.NoError(t, store.MarkSuccess("deadbeef", "run_1", map[string]string{"tx": "0xabc"}))
	rec, err = store.Get("deadbeef")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, rec.Status)

	require.NoError(t, store.MarkFailure("cafe", "run_2", map[string]string{"code": "X"}))
	rec, err = store.Get("cafe")
	require.NoError(t, err)
	require.Equal(t, StatusFailure, rec.Status)
}

func TestCleanupExpired(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.MarkSuccess("old", "run_1", nil))
	require.NoError(t, store.MarkSuccess("fresh", "run_2", nil))

	store.nowFn = func() time.Time { return time.Now().Add(48 * time.Hour) }
	require.NoError(t, store.MarkSuccess("future", "run_3", nil))

	removed, err := store.CleanupExpired(1)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	rec, err := store.Get("old")
	require.NoError(t, err)
	require.Nil(t, rec)
	rec, err = store.Get("future")
	require.NoError(t, err)
	require.NotNil(t, rec)
}
