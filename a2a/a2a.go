// Package a2a authenticates execution-plane payloads exchanged between
// agents. Signatures are HMAC-SHA256 over the canonical JSON rendering of
// the payload with auth.signature removed; replay protection is a
// file-backed one-shot (keyId, nonce) store.
package a2a

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"intentd/canonical"
	"intentd/filelock"
	"intentd/oerr"
	"intentd/statefile"
)

// Security modes. Observe never fails, warn logs and allows, enforce fails
// closed.
const (
	ModeObserve = "observe"
	ModeWarn    = "warn"
	ModeEnforce = "enforce"
)

// Scheme is the only supported signature scheme.
const Scheme = "hmac-sha256-v1"

// DefaultMaxSkew bounds how far an auth timestamp may drift from the
// verifier clock.
const DefaultMaxSkew = 2 * time.Minute

// Result is the verification outcome recorded into the execution-plane
// event.
type Result struct {
	Verified bool   `json:"verified"`
	KeyID    string `json:"keyId,omitempty"`
	Nonce    string `json:"nonce,omitempty"`
	Mode     string `json:"mode"`
	Reason   string `json:"reason,omitempty"`
}

// Verifier checks payload signatures against a shared-secret keyring.
type Verifier struct {
	mode              string
	keyring           map[string]string
	maxSkew           time.Duration
	allowUnsignedLive bool
	replay            *ReplayStore
	logger            *slog.Logger
	nowFn             func() time.Time
}

// Options tunes the verifier; zero values select defaults.
type Options struct {
	Mode              string
	Keyring           map[string]string
	MaxSkew           time.Duration
	AllowUnsignedLive bool
	Logger            *slog.Logger
}

func NewVerifier(replay *ReplayStore, opts Options) *Verifier {
	mode := strings.ToLower(strings.TrimSpace(opts.Mode))
	switch mode {
	case ModeObserve, ModeWarn, ModeEnforce:
	default:
		mode = ModeObserve
	}
	maxSkew := opts.MaxSkew
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	keyring := make(map[string]string, len(opts.Keyring))
	for id, secret := range opts.Keyring {
		keyring[strings.TrimSpace(id)] = strings.TrimSpace(secret)
	}
	return &Verifier{
		mode:              mode,
		keyring:           keyring,
		maxSkew:           maxSkew,
		allowUnsignedLive: opts.AllowUnsignedLive,
		replay:            replay,
		logger:            logger,
		nowFn:             time.Now,
	}
}

// Verify authenticates the raw payload. payload must be the decoded JSON
// document (json.Number preserved) so canonical bytes match what the sender
// signed.
func (v *Verifier) Verify(payload map[string]any, dryRun bool) (*Result, error) {
	auth, hasAuth := payload["auth"].(map[string]any)
	if !hasAuth {
		if v.mode == ModeEnforce && !dryRun && !v.allowUnsignedLive {
			return nil, oerr.New("A2A_AUTH_REQUIRED", "live execution-plane payloads must be signed")
		}
		return &Result{Verified: false, Mode: v.mode, Reason: "unsigned"}, nil
	}
	result, err := v.verifySigned(payload, auth)
	if err != nil {
		switch v.mode {
		case ModeEnforce:
			return nil, err
		case ModeWarn:
			v.logger.Warn("a2a verification failed", "code", oerr.From(err).Code, "error", err.Error())
		}
		return &Result{Verified: false, Mode: v.mode, Reason: oerr.From(err).Code}, nil
	}
	result.Mode = v.mode
	return result, nil
}

func (v *Verifier) verifySigned(payload, auth map[string]any) (*Result, error) {
	scheme, _ := auth["scheme"].(string)
	if scheme != Scheme {
		return nil, oerr.New("A2A_SCHEME_UNSUPPORTED", "unsupported auth scheme %q", scheme)
	}
	keyID := strings.TrimSpace(stringField(auth, "keyId"))
	secret, ok := v.keyring[keyID]
	if keyID == "" || !ok || secret == "" {
		return nil, oerr.New("A2A_KEY_UNKNOWN", "unknown signing key %q", keyID)
	}
	ts, err := parseTimestamp(stringField(auth, "timestamp"))
	if err != nil {
		return nil, oerr.New("A2A_TIMESTAMP_SKEW", "unparsable auth timestamp")
	}
	now := v.nowFn()
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return nil, oerr.New("A2A_TIMESTAMP_SKEW", "auth timestamp outside allowed skew of %s", v.maxSkew)
	}
	nonce := strings.TrimSpace(stringField(auth, "nonce"))
	if nonce == "" {
		return nil, oerr.New("A2A_NONCE_REPLAY", "auth nonce is required")
	}
	provided := strings.ToLower(strings.TrimSpace(stringField(auth, "signature")))
	providedBytes, err := hex.DecodeString(provided)
	if err != nil || len(providedBytes) == 0 {
		return nil, oerr.New("A2A_SIGNATURE_MISMATCH", "signature is not valid hex")
	}
	expected, err := signatureBytes(secret, payload)
	if err != nil {
		return nil, fmt.Errorf("a2a: compute signature: %w", err)
	}
	if !hmac.Equal(providedBytes, expected) {
		return nil, oerr.New("A2A_SIGNATURE_MISMATCH", "signature does not match canonical payload")
	}
	expiresAt := ts.Add(2 * v.maxSkew)
	if err := v.replay.Consume(keyID, nonce, expiresAt, now); err != nil {
		return nil, err
	}
	return &Result{Verified: true, KeyID: keyID, Nonce: nonce}, nil
}

// Sign computes the hex signature for payload (auth.signature excluded) so
// upstream agents and tests can produce valid envelopes.
func Sign(secret string, payload map[string]any) (string, error) {
	sig, err := signatureBytes(secret, payload)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

func signatureBytes(secret string, payload map[string]any) ([]byte, error) {
	stripped := stripSignature(payload)
	body, err := canonical.Stringify(stripped)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return mac.Sum(nil), nil
}

// stripSignature deep-copies the payload map one level into auth and drops
// auth.signature.
func stripSignature(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	if auth, ok := payload["auth"].(map[string]any); ok {
		cleaned := make(map[string]any, len(auth))
		for k, v := range auth {
			if k == "signature" {
				continue
			}
			cleaned[k] = v
		}
		out["auth"] = cleaned
	}
	return out
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if secs > 1e12 { // millisecond precision
			return time.UnixMilli(secs), nil
		}
		return time.Unix(secs, 0), nil
	}
	return time.Time{}, fmt.Errorf("unparsable timestamp %q", raw)
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	return ""
}

type replayEntry struct {
	ExpiresAtMs int64 `json:"expiresAtMs"`
}

type replayShape struct {
	Entries map[string]replayEntry `json:"entries"`
}

// ReplayStore is the file-backed one-shot (keyId, nonce) set.
type ReplayStore struct {
	path string
	lock *filelock.Lock
}

func NewReplayStore(path string, lockTimeout, lockStale time.Duration) *ReplayStore {
	return &ReplayStore{
		path: path,
		lock: filelock.New(path+".lock", lockTimeout, lockStale),
	}
}

// Consume registers (keyID, nonce) until expiresAt. A second consumption
// before expiry fails with A2A_NONCE_REPLAY.
func (s *ReplayStore) Consume(keyID, nonce string, expiresAt, now time.Time) error {
	key := keyID + ":" + nonce
	var replayed bool
	err := s.lock.WithLock(func() error {
		state := replayShape{Entries: map[string]replayEntry{}}
		if _, err := statefile.ReadJSON(s.path, &state); err != nil {
			return err
		}
		if state.Entries == nil {
			state.Entries = map[string]replayEntry{}
		}
		nowMs := now.UnixMilli()
		for k, entry := range state.Entries {
			if entry.ExpiresAtMs <= nowMs {
				delete(state.Entries, k)
			}
		}
		if _, exists := state.Entries[key]; exists {
			replayed = true
			return nil
		}
		state.Entries[key] = replayEntry{ExpiresAtMs: expiresAt.UnixMilli()}
		return statefile.WriteJSON(s.path, state)
	})
	if err != nil {
		return fmt.Errorf("a2a: replay store: %w", err)
	}
	if replayed {
		return oerr.New("A2A_NONCE_REPLAY", "nonce %q already consumed for key %q", nonce, keyID)
	}
	return nil
}
