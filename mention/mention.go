// Package mention gates cross-bot handoffs. A gated execution-plane payload
// must reference the triggering chat message; the gate validates the
// delegation envelope and consumes each (targetBot, message) pair at most
// once per TTL.
package mention

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"intentd/filelock"
	"intentd/oerr"
	"intentd/statefile"
)

const (
	// ModeGated is the only delegation mode that activates the gate.
	ModeGated = "gated"

	// DefaultLockTimeout bounds the dedupe critical section wait.
	DefaultLockTimeout = 3 * time.Second
	// DefaultLockStale is the dedupe lock staleness override.
	DefaultLockStale = 10 * time.Second

	minTTLSeconds = 5
	maxTTLSeconds = 3600
)

var (
	channelRe   = regexp.MustCompile(`^discord:(channel|thread):[0-9]{6,30}$`)
	messageIDRe = regexp.MustCompile(`^[0-9]{6,30}$`)
)

var riskClassifications = map[string]bool{
	"read": true, "diagnostic": true, "sensitive": true, "live": true,
}

// Delegation is the validated mention-delegation envelope.
type Delegation struct {
	Channel            string `json:"channel"`
	MessageID          string `json:"messageId"`
	OriginBotID        string `json:"originBotId"`
	TargetBotID        string `json:"targetBotId"`
	DedupeBy           string `json:"dedupeBy"`
	TTLSeconds         int    `json:"ttlSeconds"`
	ObservedAt         string `json:"observedAt"`
	RiskClassification string `json:"riskClassification,omitempty"`
	AuthorizationRef   string `json:"authorizationRef,omitempty"`

	expiresAt time.Time
}

// ExpiresAt is observedAt + ttlSeconds.
func (d *Delegation) ExpiresAt() time.Time { return d.expiresAt }

// Validate checks the raw meta.mentionDelegation object against the gate
// contract. now is injected for deterministic expiry checks.
func Validate(raw map[string]any, now time.Time) (*Delegation, error) {
	if raw == nil {
		return nil, oerr.New("EXECUTION_MENTION_DELEGATION_INVALID", "gated delegation requires meta.mentionDelegation")
	}
	d := &Delegation{
		Channel:     str(raw["channel"]),
		MessageID:   str(raw["messageId"]),
		OriginBotID: str(raw["originBotId"]),
		TargetBotID: str(raw["targetBotId"]),
		DedupeBy:    str(raw["dedupeBy"]),
		ObservedAt:  str(raw["observedAt"]),
	}
	if !channelRe.MatchString(d.Channel) {
		return nil, oerr.New("EXECUTION_MENTION_DELEGATION_INVALID", "channel must match discord:(channel|thread):<id>")
	}
	if !messageIDRe.MatchString(d.MessageID) {
		return nil, oerr.New("EXECUTION_MENTION_DELEGATION_INVALID", "messageId must be a 6..30 digit snowflake")
	}
	if d.OriginBotID == "" || d.TargetBotID == "" {
		return nil, oerr.New("EXECUTION_MENTION_DELEGATION_INVALID", "originBotId and targetBotId are required")
	}
	if d.OriginBotID == d.TargetBotID {
		return nil, oerr.New("EXECUTION_MENTION_DELEGATION_LOOP", "origin and target bot are both %q", d.OriginBotID)
	}
	if d.DedupeBy != "messageId" {
		return nil, oerr.New("EXECUTION_MENTION_DELEGATION_INVALID", "dedupeBy must be messageId")
	}
	ttl, err := intField(raw["ttlSeconds"])
	if err != nil || ttl < minTTLSeconds || ttl > maxTTLSeconds {
		return nil, oerr.New("EXECUTION_MENTION_DELEGATION_INVALID", "ttlSeconds must be an integer in [%d, %d]", minTTLSeconds, maxTTLSeconds)
	}
	d.TTLSeconds = ttl
	observed, err := time.Parse(time.RFC3339, d.ObservedAt)
	if err != nil {
		observed, err = time.Parse(time.RFC3339Nano, d.ObservedAt)
	}
	if err != nil {
		return nil, oerr.New("EXECUTION_MENTION_DELEGATION_INVALID", "observedAt must be ISO-8601")
	}
	d.expiresAt = observed.Add(time.Duration(ttl) * time.Second)
	if !d.expiresAt.After(now) {
		return nil, oerr.New("EXECUTION_MENTION_DELEGATION_EXPIRED", "delegation expired at %s", d.expiresAt.UTC().Format(time.RFC3339))
	}
	if err := validateProxy(raw["delegatedHumanProxy"], d); err != nil {
		return nil, err
	}
	return d, nil
}

func validateProxy(raw any, d *Delegation) error {
	proxy, ok := raw.(map[string]any)
	if !ok {
		return oerr.New("EXECUTION_MENTION_DELEGATION_INVALID", "delegatedHumanProxy is required")
	}
	if str(proxy["mode"]) != "delegated-human-proxy" {
		return oerr.New("EXECUTION_MENTION_DELEGATION_INVALID", "delegatedHumanProxy.mode must be delegated-human-proxy")
	}
	for _, gate := range []string{"policyValidated", "envelopeValidated", "riskGatePassed"} {
		passed, ok := proxy[gate].(bool)
		if !ok || !passed {
			return oerr.New("EXECUTION_MENTION_DELEGATION_INVALID", "delegatedHumanProxy.%s must be true", gate)
		}
	}
	if rc := str(proxy["riskClassification"]); rc != "" {
		if !riskClassifications[rc] {
			return oerr.New("EXECUTION_MENTION_DELEGATION_INVALID", "unknown riskClassification %q", rc)
		}
		d.RiskClassification = rc
		if rc == "sensitive" || rc == "live" {
			ref := str(proxy["authorizationRef"])
			if ref == "" {
				return oerr.New("EXECUTION_MENTION_DELEGATION_INVALID", "%s delegation requires authorizationRef", rc)
			}
			d.AuthorizationRef = ref
		}
	}
	return nil
}

type dedupeEntry struct {
	ExpiresAtMs int64  `json:"expiresAtMs"`
	Channel     string `json:"channel,omitempty"`
	OriginBotID string `json:"originBotId,omitempty"`
}

type fileShape struct {
	Entries map[string]dedupeEntry `json:"entries"`
}

// Deduper consumes delegation triggers at most once per TTL. State is a
// file-locked JSON map keyed targetBotId:messageId.
type Deduper struct {
	path  string
	lock  *filelock.Lock
	nowFn func() time.Time
}

func NewDeduper(path string, lockTimeout, lockStale time.Duration) *Deduper {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	if lockStale <= 0 {
		lockStale = DefaultLockStale
	}
	return &Deduper{
		path:  path,
		lock:  filelock.New(path+".lock", lockTimeout, lockStale),
		nowFn: time.Now,
	}
}

// Register consumes the delegation trigger. A second registration for the
// same target and message within TTL fails with
// EXECUTION_MENTION_DELEGATION_DUPLICATE.
func (s *Deduper) Register(d *Delegation) error {
	key := d.TargetBotID + ":" + d.MessageID
	var duplicate bool
	err := s.lock.WithLock(func() error {
		state := fileShape{Entries: map[string]dedupeEntry{}}
		if _, err := statefile.ReadJSON(s.path, &state); err != nil {
			return err
		}
		if state.Entries == nil {
			state.Entries = map[string]dedupeEntry{}
		}
		nowMs := s.nowFn().UnixMilli()
		for k, entry := range state.Entries {
			if entry.ExpiresAtMs <= nowMs {
				delete(state.Entries, k)
			}
		}
		if _, exists := state.Entries[key]; exists {
			duplicate = true
			return nil
		}
		state.Entries[key] = dedupeEntry{
			ExpiresAtMs: d.ExpiresAt().UnixMilli(),
			Channel:     d.Channel,
			OriginBotID: d.OriginBotID,
		}
		return statefile.WriteJSON(s.path, state)
	})
	if err != nil {
		if errors.Is(err, filelock.ErrTimeout) {
			return oerr.Wrap("EXECUTION_MENTION_DELEGATION_LOCK_TIMEOUT", "dedupe lock wait exceeded", err)
		}
		return fmt.Errorf("mention: register: %w", err)
	}
	if duplicate {
		return oerr.New("EXECUTION_MENTION_DELEGATION_DUPLICATE", "message %s already delegated to %s", d.MessageID, d.TargetBotID)
	}
	return nil
}

func str(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func intField(v any) (int, error) {
	switch value := v.(type) {
	case json.Number:
		n, err := value.Int64()
		return int(n), err
	case float64:
		if value != float64(int64(value)) {
			return 0, fmt.Errorf("not an integer")
		}
		return int(value), nil
	case int:
		return value, nil
	case int64:
		return int(value), nil
	}
	return 0, fmt.Errorf("not an integer")
}
