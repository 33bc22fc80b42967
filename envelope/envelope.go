// Package envelope validates execution-plane payloads: the outer envelope,
// the per-operation intent shape, and the mention-delegation meta block,
// then canonicalizes the intent.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"intentd/intent"
	"intentd/mention"
	"intentd/oerr"
)

// SchemaVersion is the only accepted envelope version.
const SchemaVersion = "v1"

// Plane is the only accepted plane for this ingestion path.
const Plane = "execution"

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]{6,128}$`)

// Envelope is the validated outer payload.
type Envelope struct {
	SchemaVersion  string         `json:"schemaVersion"`
	Plane          string         `json:"plane"`
	Operation      string         `json:"operation"`
	RequestID      string         `json:"requestId"`
	CorrelationID  string         `json:"correlationId"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
	Timestamp      string         `json:"timestamp,omitempty"`
	DryRun         bool           `json:"dryRun"`
	Intent         map[string]any `json:"intent"`
	Meta           map[string]any `json:"meta,omitempty"`
	Auth           map[string]any `json:"auth,omitempty"`
}

// Parsed is the full validation outcome handed to the executor.
type Parsed struct {
	Envelope  *Envelope
	Payload   map[string]any
	Canonical *intent.Canonical
	Mention   *mention.Delegation
}

var envelopeFields = map[string]bool{
	"schemaVersion": true, "plane": true, "operation": true,
	"requestId": true, "correlationId": true, "idempotencyKey": true,
	"timestamp": true, "dryRun": true, "intent": true, "meta": true, "auth": true,
}

// Parse validates raw JSON bytes end to end. Schema failures surface as
// EXECUTION_SCHEMA_INVALID carrying the collected error list; normalization
// failures keep their specific codes.
func Parse(raw []byte, now time.Time) (*Parsed, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, oerr.New("EXECUTION_SCHEMA_INVALID", "payload is not a JSON object").With("errors", []string{err.Error()})
	}
	return ParseMap(payload, now)
}

// ParseMap validates an already-decoded payload (json.Number preserved).
func ParseMap(payload map[string]any, now time.Time) (*Parsed, error) {
	var schemaErrs []string
	addErr := func(format string, args ...any) {
		schemaErrs = append(schemaErrs, fmt.Sprintf(format, args...))
	}

	for key := range payload {
		if !envelopeFields[key] {
			addErr("unknown envelope field %q", key)
		}
	}

	env := &Envelope{
		SchemaVersion:  str(payload["schemaVersion"]),
		Plane:          str(payload["plane"]),
		Operation:      str(payload["operation"]),
		RequestID:      str(payload["requestId"]),
		CorrelationID:  str(payload["correlationId"]),
		IdempotencyKey: str(payload["idempotencyKey"]),
		Timestamp:      str(payload["timestamp"]),
	}
	if env.SchemaVersion != SchemaVersion {
		addErr("schemaVersion must be %q", SchemaVersion)
	}
	if env.Plane != Plane {
		addErr("plane must be %q", Plane)
	}
	if !idPattern.MatchString(env.RequestID) {
		addErr("requestId must match %s", idPattern.String())
	}
	if !idPattern.MatchString(env.CorrelationID) {
		addErr("correlationId must match %s", idPattern.String())
	}
	if dryRun, present := payload["dryRun"]; present {
		b, ok := dryRun.(bool)
		if !ok {
			addErr("dryRun must be a boolean")
		}
		env.DryRun = b
	}
	intentRaw, ok := payload["intent"].(map[string]any)
	if !ok {
		addErr("intent object is required")
	}
	env.Intent = intentRaw
	if meta, present := payload["meta"]; present {
		m, ok := meta.(map[string]any)
		if !ok {
			addErr("meta must be an object")
		}
		env.Meta = m
	}
	if auth, present := payload["auth"]; present {
		a, ok := auth.(map[string]any)
		if !ok {
			addErr("auth must be an object")
		}
		env.Auth = a
	}

	if env.Operation == "" || !intent.Known(intent.Action(env.Operation)) {
		if len(schemaErrs) > 0 {
			return nil, schemaInvalid(schemaErrs)
		}
		return nil, oerr.New("EXECUTION_OPERATION_UNKNOWN", "unknown operation %q", env.Operation)
	}

	if env.Intent != nil {
		schemaErrs = append(schemaErrs, validateIntentShape(intent.Action(env.Operation), env.Intent)...)
	}
	if len(schemaErrs) > 0 {
		return nil, schemaInvalid(schemaErrs)
	}

	parsed := &Parsed{Envelope: env, Payload: payload}

	if env.Meta != nil && str(env.Meta["mentionDelegationMode"]) == mention.ModeGated {
		delegation, ok := env.Meta["mentionDelegation"].(map[string]any)
		if !ok {
			return nil, oerr.New("EXECUTION_MENTION_DELEGATION_INVALID", "gated mode requires meta.mentionDelegation")
		}
		validated, err := mention.Validate(delegation, now)
		if err != nil {
			return nil, err
		}
		parsed.Mention = validated
	}

	unchecked := uncheckedFromIntent(env.Operation, env.Intent)
	canonicalIntent, err := intent.Normalize(unchecked)
	if err != nil {
		return nil, err
	}
	parsed.Canonical = canonicalIntent
	return parsed, nil
}

func schemaInvalid(errs []string) error {
	return oerr.New("EXECUTION_SCHEMA_INVALID", "payload failed schema validation").With("errors", errs)
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindAmount           // number or non-empty string up to 64 chars
	kindBps              // integer 0..10000
	kindInt
	kindBool
)

type opSchema struct {
	required map[string]fieldKind
	optional map[string]fieldKind
}

var opSchemas = map[intent.Action]opSchema{
	intent.ActionTransfer: {
		required: map[string]fieldKind{"amount": kindAmount, "asset": kindString, "recipient": kindString},
		optional: map[string]fieldKind{"chain": kindString},
	},
	intent.ActionSend: {
		required: map[string]fieldKind{"amount": kindAmount, "asset": kindString, "recipient": kindString},
		optional: map[string]fieldKind{"chain": kindString},
	},
	intent.ActionBridge: {
		required: map[string]fieldKind{"amount": kindAmount, "asset": kindString, "fromChain": kindString, "toChain": kindString},
		optional: map[string]fieldKind{"recipient": kindString, "provider": kindString},
	},
	intent.ActionSwapJupiter: swapSchema(),
	intent.ActionSwapRaydium: swapSchema(),
	intent.ActionSwapPumpfun: swapSchema(),
	intent.ActionHlOrder: {
		required: map[string]fieldKind{"side": kindString, "amount": kindAmount, "market": kindString},
		optional: map[string]fieldKind{
			"marketType": kindString, "price": kindAmount, "slippageBps": kindBps,
			"leverage": kindInt, "reduceOnly": kindBool, "tif": kindString,
			"cloid": kindString, "venue": kindString,
		},
	},
	intent.ActionHlCancel: {
		required: map[string]fieldKind{"market": kindString},
		optional: map[string]fieldKind{"oid": kindInt, "cloid": kindString, "venue": kindString},
	},
	intent.ActionHlModify: {
		required: map[string]fieldKind{"market": kindString},
		optional: map[string]fieldKind{"oid": kindInt, "cloid": kindString, "price": kindAmount, "amount": kindAmount, "venue": kindString},
	},
	intent.ActionHlDeposit: {
		required: map[string]fieldKind{"amount": kindAmount},
		optional: map[string]fieldKind{"asset": kindString},
	},
	intent.ActionHlBridgeDeposit: {
		required: map[string]fieldKind{"amount": kindAmount},
		optional: map[string]fieldKind{"asset": kindString},
	},
	intent.ActionHlBridgeWithdraw: {
		required: map[string]fieldKind{"amount": kindAmount},
		optional: map[string]fieldKind{"asset": kindString},
	},
	intent.ActionDefiDeposit:  defiSchema(),
	intent.ActionDefiWithdraw: defiSchema(),
	intent.ActionPortfolioBalance: {
		optional: map[string]fieldKind{"chain": kindString},
	},
	intent.ActionContractCall: {
		required: map[string]fieldKind{"contract": kindString, "calldata": kindString},
		optional: map[string]fieldKind{"value": kindAmount, "chain": kindString},
	},
}

func swapSchema() opSchema {
	return opSchema{
		required: map[string]fieldKind{"amount": kindAmount, "assetIn": kindString, "assetOut": kindString},
		optional: map[string]fieldKind{"slippageBps": kindBps, "mode": kindString},
	}
}

func defiSchema() opSchema {
	return opSchema{
		required: map[string]fieldKind{"amount": kindAmount, "protocol": kindString, "chain": kindString, "asset": kindString},
	}
}

// validateIntentShape rejects unknown fields and type mismatches. Semantic
// constraints (address formats, chain/asset conditionals) are the
// normalizer's job and carry their own codes.
func validateIntentShape(op intent.Action, raw map[string]any) []string {
	schema := opSchemas[op]
	var errs []string
	allowed := func(field string) (fieldKind, bool) {
		if kind, ok := schema.required[field]; ok {
			return kind, true
		}
		kind, ok := schema.optional[field]
		return kind, ok
	}
	for field, value := range raw {
		kind, ok := allowed(field)
		if !ok {
			errs = append(errs, fmt.Sprintf("intent.%s is not permitted for %s", field, op))
			continue
		}
		if msg := checkKind(field, kind, value); msg != "" {
			errs = append(errs, msg)
		}
	}
	for field := range schema.required {
		if _, present := raw[field]; !present {
			errs = append(errs, fmt.Sprintf("intent.%s is required for %s", field, op))
		}
	}
	return errs
}

func checkKind(field string, kind fieldKind, value any) string {
	switch kind {
	case kindString:
		if s, ok := value.(string); !ok || strings.TrimSpace(s) == "" {
			return fmt.Sprintf("intent.%s must be a non-empty string", field)
		}
	case kindAmount:
		switch v := value.(type) {
		case json.Number:
		case string:
			if trimmed := strings.TrimSpace(v); trimmed == "" || len(trimmed) > 64 {
				return fmt.Sprintf("intent.%s must be a number or a 1..64 char string", field)
			}
		default:
			return fmt.Sprintf("intent.%s must be a number or string", field)
		}
	case kindBps:
		n, ok := value.(json.Number)
		if !ok {
			return fmt.Sprintf("intent.%s must be an integer", field)
		}
		i, err := n.Int64()
		if err != nil || i < 0 || i > 10000 {
			return fmt.Sprintf("intent.%s must be an integer in [0, 10000]", field)
		}
	case kindInt:
		n, ok := value.(json.Number)
		if !ok {
			if s, isStr := value.(string); isStr && strings.TrimSpace(s) != "" {
				return ""
			}
			return fmt.Sprintf("intent.%s must be an integer", field)
		}
		if _, err := n.Int64(); err != nil {
			return fmt.Sprintf("intent.%s must be an integer", field)
		}
	case kindBool:
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("intent.%s must be a boolean", field)
		}
	}
	return ""
}

// uncheckedFromIntent maps the validated intent object onto the loose
// normalizer input.
func uncheckedFromIntent(op string, raw map[string]any) *intent.Unchecked {
	u := &intent.Unchecked{
		Action:    op,
		Chain:     str(raw["chain"]),
		FromChain: str(raw["fromChain"]),
		ToChain:   str(raw["toChain"]),
		Asset:     str(raw["asset"]),
		AssetIn:   str(raw["assetIn"]),
		AssetOut:  str(raw["assetOut"]),
		Amount:    raw["amount"],
		Recipient: str(raw["recipient"]),
		Provider:  str(raw["provider"]),
		Venue:     str(raw["venue"]),
		Mode:      str(raw["mode"]),
		Market:    str(raw["market"]),
		MarketType:  str(raw["marketType"]),
		Side:        str(raw["side"]),
		Price:       raw["price"],
		SlippageBps: raw["slippageBps"],
		Leverage:    raw["leverage"],
		TIF:         str(raw["tif"]),
		Oid:         raw["oid"],
		Cloid:       str(raw["cloid"]),
		Contract:    str(raw["contract"]),
		Calldata:    str(raw["calldata"]),
		Value:       raw["value"],
		Protocol:    str(raw["protocol"]),
	}
	if reduceOnly, ok := raw["reduceOnly"].(bool); ok {
		u.ReduceOnly = &reduceOnly
	}
	return u
}

func str(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
