package hlnonce

import (
	"fmt"
	"strings"
	"time"

	"intentd/filelock"
	"intentd/statefile"
)

// Hyperliquid requires exchange nonces to be unique, increasing and at least
// the current wall clock in milliseconds. The coordinator dispenses such
// nonces per signer from a file-locked critical section so concurrent
// pipelines on one machine never collide.

const (
	// DefaultLockTimeout bounds the wait for the nonce critical section.
	DefaultLockTimeout = 5 * time.Second
	// DefaultLockStale is the staleness override for crashed holders.
	DefaultLockStale = 15 * time.Second
)

type signerState struct {
	LastNonce int64  `json:"lastNonce"`
	UpdatedAt string `json:"updatedAt"`
}

type fileShape struct {
	Signers map[string]signerState `json:"signers"`
}

// Coordinator dispenses monotonic per-signer nonces.
type Coordinator struct {
	path  string
	lock  *filelock.Lock
	nowFn func() time.Time
}

func New(path string, lockTimeout, lockStale time.Duration) *Coordinator {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	if lockStale <= 0 {
		lockStale = DefaultLockStale
	}
	return &Coordinator{
		path:  path,
		lock:  filelock.New(path+".lock", lockTimeout, lockStale),
		nowFn: time.Now,
	}
}

// Next returns the next nonce for signer: max(nowMs, floor, lastNonce+1).
// The value is persisted before the lock is released, so a crash after
// return can only skip nonces, never reuse one.
func (c *Coordinator) Next(signer string, floor int64) (int64, error) {
	key := strings.ToLower(strings.TrimSpace(signer))
	if key == "" {
		return 0, fmt.Errorf("hlnonce: empty signer")
	}
	var nonce int64
	err := c.lock.WithLock(func() error {
		state := fileShape{Signers: map[string]signerState{}}
		if _, err := statefile.ReadJSON(c.path, &state); err != nil {
			return err
		}
		if state.Signers == nil {
			state.Signers = map[string]signerState{}
		}
		now := c.nowFn()
		candidate := now.UnixMilli()
		if floor > candidate {
			candidate = floor
		}
		if last := state.Signers[key].LastNonce; last+1 > candidate {
			candidate = last + 1
		}
		state.Signers[key] = signerState{
			LastNonce: candidate,
			UpdatedAt: now.UTC().Format(time.RFC3339Nano),
		}
		if err := statefile.WriteJSON(c.path, state); err != nil {
			return err
		}
		nonce = candidate
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("hlnonce: %w", err)
	}
	return nonce, nil
}

// Last reports the most recently dispensed nonce for signer, zero when none.
func (c *Coordinator) Last(signer string) (int64, error) {
	var state fileShape
	if _, err := statefile.ReadJSON(c.path, &state); err != nil {
		return 0, err
	}
	return state.Signers[strings.ToLower(strings.TrimSpace(signer))].LastNonce, nil
}
