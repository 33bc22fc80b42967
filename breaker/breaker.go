package breaker

import (
	"time"

	"intentd/filelock"
	"intentd/oerr"
	"intentd/statefile"
)

// Config is the operator-policy slice the breaker evaluates against.
type Config struct {
	Enabled     bool
	MaxFailures int
	WindowSec   int
	CooldownSec int
}

// ErrorInfo is the last failure remembered while the circuit is open.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type state struct {
	Failures  []int64    `json:"failures"`
	OpenUntil int64      `json:"openUntil,omitempty"`
	LastError *ErrorInfo `json:"lastError,omitempty"`
	UpdatedAt string     `json:"updatedAt"`
}

// Breaker is the file-backed sliding-window circuit breaker gating live
// dispatch. Failures older than the window are pruned on every touch.
type Breaker struct {
	path  string
	lock  *filelock.Lock
	nowFn func() time.Time
}

func New(path string, lockTimeout, lockStale time.Duration) *Breaker {
	return &Breaker{
		path:  path,
		lock:  filelock.New(path+".lock", lockTimeout, lockStale),
		nowFn: time.Now,
	}
}

// AssertCanExecute fails with CIRCUIT_BREAKER_OPEN while the cooldown runs.
func (b *Breaker) AssertCanExecute(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}
	var err error
	lockErr := b.lock.WithLock(func() error {
		st, readErr := b.read()
		if readErr != nil {
			return readErr
		}
		now := b.nowFn().UnixMilli()
		if st.OpenUntil > now {
			coded := oerr.New("CIRCUIT_BREAKER_OPEN", "circuit breaker open until %d", st.OpenUntil).
				With("openUntil", st.OpenUntil)
			if st.LastError != nil {
				coded = coded.With("lastError", *st.LastError)
			}
			err = coded
		}
		return nil
	})
	if lockErr != nil {
		return lockErr
	}
	return err
}

// RegisterFailure appends a failure and opens the circuit when the window
// threshold is reached.
func (b *Breaker) RegisterFailure(cfg Config, info ErrorInfo) error {
	if !cfg.Enabled {
		return nil
	}
	return b.lock.WithLock(func() error {
		st, err := b.read()
		if err != nil {
			return err
		}
		now := b.nowFn().UnixMilli()
		st.Failures = prune(st.Failures, now, cfg.WindowSec)
		st.Failures = append(st.Failures, now)
		st.LastError = &info
		if cfg.MaxFailures > 0 && len(st.Failures) >= cfg.MaxFailures {
			st.OpenUntil = now + int64(cfg.CooldownSec)*1000
		}
		return b.write(st)
	})
}

// RegisterSuccess prunes the window; it never closes an open circuit early.
func (b *Breaker) RegisterSuccess(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}
	return b.lock.WithLock(func() error {
		st, err := b.read()
		if err != nil {
			return err
		}
		st.Failures = prune(st.Failures, b.nowFn().UnixMilli(), cfg.WindowSec)
		return b.write(st)
	})
}

func prune(failures []int64, nowMs int64, windowSec int) []int64 {
	if windowSec <= 0 {
		return failures
	}
	cutoff := nowMs - int64(windowSec)*1000
	kept := failures[:0]
	for _, ts := range failures {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	return kept
}

func (b *Breaker) read() (state, error) {
	var st state
	if _, err := statefile.ReadJSON(b.path, &st); err != nil {
		return state{}, err
	}
	return st, nil
}

func (b *Breaker) write(st state) error {
	st.UpdatedAt = b.nowFn().UTC().Format(time.RFC3339Nano)
	return statefile.WriteJSON(b.path, st)
}
