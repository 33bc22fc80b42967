package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"intentd/oerr"
)

// FlexDecimal accepts either a JSON/YAML number or a string and keeps the
// exact decimal text.
type FlexDecimal string

func (f *FlexDecimal) UnmarshalJSON(raw []byte) error {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		*f = FlexDecimal(strings.TrimSpace(asString))
		return nil
	}
	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		*f = FlexDecimal(asNumber.String())
		return nil
	}
	return fmt.Errorf("policy: value %s is neither number nor string", raw)
}

func (f *FlexDecimal) UnmarshalYAML(node *yaml.Node) error {
	*f = FlexDecimal(strings.TrimSpace(node.Value))
	return nil
}

// Decimal parses the value; empty means unset.
func (f FlexDecimal) Decimal() (decimal.Decimal, bool, error) {
	if f == "" {
		return decimal.Zero, false, nil
	}
	d, err := decimal.NewFromString(string(f))
	if err != nil {
		return decimal.Zero, false, err
	}
	return d, true, nil
}

// Execution holds the run-mode switches.
type Execution struct {
	AllowMainnetOnly          bool `json:"allowMainnetOnly" yaml:"allowMainnetOnly"`
	DefaultDryRun             bool `json:"defaultDryRun" yaml:"defaultDryRun"`
	RequireKeySegregation     bool `json:"requireKeySegregation" yaml:"requireKeySegregation"`
	RequireRecipientAllowlist bool `json:"requireRecipientAllowlist" yaml:"requireRecipientAllowlist"`
}

// Allowlists bound what the operator may touch. Empty asset/contract/symbol
// lists mean unrestricted; the chain list is always enforced.
type Allowlists struct {
	Chains             []string `json:"chains" yaml:"chains"`
	Assets             []string `json:"assets" yaml:"assets"`
	Recipients         []string `json:"recipients" yaml:"recipients"`
	Contracts          []string `json:"contracts" yaml:"contracts"`
	BridgeRoutes       []string `json:"bridgeRoutes" yaml:"bridgeRoutes"`
	HyperliquidSymbols []string `json:"hyperliquidSymbols" yaml:"hyperliquidSymbols"`
}

// Limits are the per-transaction caps.
type Limits struct {
	MaxOrderSize        FlexDecimal `json:"maxOrderSize" yaml:"maxOrderSize"`
	MaxNotionalUsdPerTx FlexDecimal `json:"maxNotionalUsdPerTx" yaml:"maxNotionalUsdPerTx"`
	MaxSlippageBps      int         `json:"maxSlippageBps" yaml:"maxSlippageBps"`
	DefaultSlippageBps  int         `json:"defaultSlippageBps" yaml:"defaultSlippageBps"`
	MaxPerpLeverage     int         `json:"maxPerpLeverage" yaml:"maxPerpLeverage"`
}

// Idempotency controls record retention.
type Idempotency struct {
	TTLDays int `json:"ttlDays" yaml:"ttlDays"`
}

// CircuitBreaker mirrors breaker.Config in the policy document.
type CircuitBreaker struct {
	Enabled     bool `json:"enabled" yaml:"enabled"`
	MaxFailures int  `json:"maxFailures" yaml:"maxFailures"`
	WindowSec   int  `json:"windowSec" yaml:"windowSec"`
	CooldownSec int  `json:"cooldownSec" yaml:"cooldownSec"`
}

// MarketData pins the price sources the operator may consult.
type MarketData struct {
	PrimaryPriceSource  string `json:"primaryPriceSource" yaml:"primaryPriceSource"`
	FallbackPriceSource string `json:"fallbackPriceSource" yaml:"fallbackPriceSource"`
}

// Routing pins operational roles.
type Routing struct {
	HyperliquidOperationalRole string `json:"hyperliquidOperationalRole" yaml:"hyperliquidOperationalRole"`
}

// Reporting names where run outcomes are surfaced.
type Reporting struct {
	DiscordChannelID string `json:"discordChannelId" yaml:"discordChannelId"`
}

// Document is the versioned operator policy.
type Document struct {
	Version        string         `json:"version" yaml:"version"`
	Execution      Execution      `json:"execution" yaml:"execution"`
	Allowlists     Allowlists     `json:"allowlists" yaml:"allowlists"`
	Limits         Limits         `json:"limits" yaml:"limits"`
	Idempotency    Idempotency    `json:"idempotency" yaml:"idempotency"`
	CircuitBreaker CircuitBreaker `json:"circuitBreaker" yaml:"circuitBreaker"`
	MarketData     MarketData     `json:"marketData" yaml:"marketData"`
	Routing        Routing        `json:"routing" yaml:"routing"`
	Reporting      Reporting      `json:"reporting" yaml:"reporting"`
}

// Load reads and validates a policy document. JSON is the primary format;
// .yaml/.yml documents are accepted as well.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, oerr.New("POLICY_NOT_FOUND", "policy document %s does not exist", path)
		}
		return nil, oerr.Wrap("POLICY_NOT_FOUND", "policy document unreadable", err)
	}
	doc := &Document{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(doc); err != nil {
			return nil, oerr.Wrap("POLICY_INVALID", "policy document is not valid YAML", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(doc); err != nil {
			return nil, oerr.Wrap("POLICY_INVALID", "policy document is not valid JSON", err)
		}
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// Validate performs structural checks that make a document loadable at all.
// Operational conformance (mainnet flag, routing role, price sources) is the
// engine's job so each run records the failing check.
func (d *Document) Validate() error {
	if strings.TrimSpace(d.Version) == "" {
		return oerr.New("POLICY_INVALID", "policy version is required")
	}
	if len(d.Allowlists.Chains) == 0 {
		return oerr.New("POLICY_INVALID", "allowlists.chains must not be empty")
	}
	if d.Limits.MaxSlippageBps < 0 || d.Limits.MaxSlippageBps > 10000 {
		return oerr.New("POLICY_INVALID", "limits.maxSlippageBps out of range")
	}
	if d.Limits.DefaultSlippageBps < 0 || d.Limits.DefaultSlippageBps > 10000 {
		return oerr.New("POLICY_INVALID", "limits.defaultSlippageBps out of range")
	}
	if _, _, err := d.Limits.MaxOrderSize.Decimal(); err != nil {
		return oerr.New("POLICY_INVALID", "limits.maxOrderSize is not a decimal")
	}
	if _, _, err := d.Limits.MaxNotionalUsdPerTx.Decimal(); err != nil {
		return oerr.New("POLICY_INVALID", "limits.maxNotionalUsdPerTx is not a decimal")
	}
	if d.Idempotency.TTLDays < 0 {
		return oerr.New("POLICY_INVALID", "idempotency.ttlDays must not be negative")
	}
	return nil
}

// BreakerConfig maps the policy slice consumed by the circuit breaker.
func (d *Document) BreakerConfig() (enabled bool, maxFailures, windowSec, cooldownSec int) {
	cb := d.CircuitBreaker
	return cb.Enabled, cb.MaxFailures, cb.WindowSec, cb.CooldownSec
}
