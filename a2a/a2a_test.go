package a2a

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"intentd/oerr"
)

const (
	keyID  = "bot-alpha"
	secret = "secret-1"
)

func newTestVerifier(t *testing.T, mode string, allowUnsigned bool) *Verifier {
	t.Helper()
	replay := NewReplayStore(filepath.Join(t.TempDir(), "a2a-nonce.json"), time.Second, time.Minute)
	return NewVerifier(replay, Options{
		Mode:              mode,
		Keyring:           map[string]string{keyID: secret},
		AllowUnsignedLive: allowUnsigned,
	})
}

func signedPayload(t *testing.T, nonce string, ts time.Time) map[string]any {
	t.Helper()
	payload := map[string]any{
		"schemaVersion": "v1",
		"plane":         "execution",
		"operation":     "transfer",
		"requestId":     "req-000001",
		"correlationId": "corr-000001",
		"dryRun":        true,
		"intent": map[string]any{
			"amount":    "0.001",
			"asset":     "ETH",
			"recipient": "0x000000000000000000000000000000000000dEaD",
		},
		"auth": map[string]any{
			"scheme":    Scheme,
			"keyId":     keyID,
			"nonce":     nonce,
			"timestamp": ts.UTC().Format(time.RFC3339),
		},
	}
	sig, err := Sign(secret, payload)
	require.NoError(t, err)
	payload["auth"].(map[string]any)["signature"] = sig
	return payload
}

// reorder round-trips the payload through JSON to shuffle logical ordering;
// verification must be insensitive to it.
func reorder(t *testing.T, payload map[string]any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	require.NoError(t, dec.Decode(&out))
	return out
}

func TestEnforceRejectsUnsignedLive(t *testing.T) {
	v := newTestVerifier(t, ModeEnforce, false)
	_, err := v.Verify(map[string]any{"operation": "transfer"}, false)
	require.Equal(t, "A2A_AUTH_REQUIRED", oerr.From(err).Code)
}

func TestEnforceAllowsUnsignedDryRun(t *testing.T) {
	v := newTestVerifier(t, ModeEnforce, false)
	res, err := v.Verify(map[string]any{"operation": "transfer"}, true)
	require.NoError(t, err)
	require.False(t, res.Verified)
}

func TestAllowUnsignedLiveOverride(t *testing.T) {
	v := newTestVerifier(t, ModeEnforce, true)
	res, err := v.Verify(map[string]any{"operation": "transfer"}, false)
	require.NoError(t, err)
	require.False(t, res.Verified)
}

func TestValidSignatureThenReplay(t *testing.T) {
	v := newTestVerifier(t, ModeEnforce, false)
	payload := signedPayload(t, "nonce-001", time.Now())

	res, err := v.Verify(reorder(t, payload), true)
	require.NoError(t, err)
	require.True(t, res.Verified)
	require.Equal(t, keyID, res.KeyID)
	require.Equal(t, "nonce-001", res.Nonce)

	_, err = v.Verify(reorder(t, payload), true)
	require.Equal(t, "A2A_NONCE_REPLAY", oerr.From(err).Code)
}

func TestSignatureMismatch(t *testing.T) {
	v := newTestVerifier(t, ModeEnforce, false)
	payload := signedPayload(t, "nonce-002", time.Now())
	payload["intent"].(map[string]any)["amount"] = "999"
	_, err := v.Verify(payload, true)
	require.Equal(t, "A2A_SIGNATURE_MISMATCH", oerr.From(err).Code)
}

func TestUnknownKey(t *testing.T) {
	v := newTestVerifier(t, ModeEnforce, false)
	payload := signedPayload(t, "nonce-003", time.Now())
	payload["auth"].(map[string]any)["keyId"] = "bot-zeta"
	_, err := v.Verify(payload, true)
	require.Equal(t, "A2A_KEY_UNKNOWN", oerr.From(err).Code)
}

func TestTimestampSkew(t *testing.T) {
	v := newTestVerifier(t, ModeEnforce, false)
	payload := signedPayload(t, "nonce-004", time.Now().Add(-time.Hour))
	_, err := v.Verify(payload, true)
	require.Equal(t, "A2A_TIMESTAMP_SKEW", oerr.From(err).Code)
}

func TestWarnModeAllowsBadSignature(t *testing.T) {
	v := newTestVerifier(t, ModeWarn, false)
	payload := signedPayload(t, "nonce-005", time.Now())
	payload["auth"].(map[string]any)["signature"] = "deadbeef"
	res, err := v.Verify(payload, false)
	require.NoError(t, err)
	require.False(t, res.Verified)
	require.Equal(t, "A2A_SIGNATURE_MISMATCH", res.Reason)
}

func TestObserveModeNeverFails(t *testing.T) {
	v := newTestVerifier(t, ModeObserve, false)
	res, err := v.Verify(map[string]any{"operation": "transfer"}, false)
	require.NoError(t, err)
	require.Equal(t, ModeObserve, res.Mode)
}

func TestReplayStoreExpiry(t *testing.T) {
	store := NewReplayStore(filepath.Join(t.TempDir(), "a2a-nonce.json"), time.Second, time.Minute)
	now := time.Now()
	require.NoError(t, store.Consume(keyID, "n1", now.Add(time.Minute), now))
	err := store.Consume(keyID, "n1", now.Add(time.Minute), now)
	require.Equal(t, "A2A_NONCE_REPLAY", oerr.From(err).Code)

	// Same nonce after expiry is accepted again.
	later := now.Add(2 * time.Minute)
	require.NoError(t, store.Consume(keyID, "n1", later.Add(time.Minute), later))
}
