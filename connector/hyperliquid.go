package connector

import (
	"context"
	"strconv"

	"intentd/hlnonce"
	"intentd/intent"
	"intentd/oerr"
	"intentd/policy"
)

// Hyperliquid simulates the Hyperliquid venue connector. Live dispatches
// draw exchange nonces from the shared coordinator; info queries answer
// from the configured quote source.
type Hyperliquid struct {
	signer string
	nonces *hlnonce.Coordinator
	quotes QuoteSource
}

func NewHyperliquid(signer string, nonces *hlnonce.Coordinator, quotes QuoteSource) *Hyperliquid {
	return &Hyperliquid{signer: signer, nonces: nonces, quotes: quotes}
}

func (h *Hyperliquid) Name() string { return intent.ChainHyperliquid }

// EnrichIntentForPolicy hydrates market orders so the notional cap can be
// enforced: the venue mid becomes referencePrice, and the policy default
// slippage is injected when the order carries none. The returned intent is
// a copy; the original (and its fingerprint) stays untouched.
func (h *Hyperliquid) EnrichIntentForPolicy(c *intent.Canonical, doc *policy.Document) (*intent.Canonical, error) {
	if c.Action != intent.ActionHlOrder {
		return c, nil
	}
	enriched := c.Clone()
	if enriched.IsMarketOrder() {
		if enriched.SlippageBps == "" && doc.Limits.DefaultSlippageBps > 0 {
			enriched.SlippageBps = strconv.Itoa(doc.Limits.DefaultSlippageBps)
		}
		if enriched.ReferencePrice == "" {
			mid, ok := h.quotes.Mid(enriched.Market)
			if !ok {
				return nil, oerr.New("HYPERLIQUID_INFO_FAILED", "no mid price for %s", enriched.Market)
			}
			enriched.ReferencePrice = mid
		}
	}
	return enriched, nil
}

// Info answers venue metadata queries. Supported: "mids".
func (h *Hyperliquid) Info(ctx context.Context, query string) (map[string]any, error) {
	switch query {
	case "mids":
		out := map[string]any{}
		if static, ok := h.quotes.(StaticQuotes); ok {
			for market, mid := range static {
				out[market] = mid
			}
		}
		return out, nil
	}
	return nil, oerr.New("HYPERLIQUID_INFO_FAILED", "unsupported info query %q", query)
}

func (h *Hyperliquid) Preflight(ctx context.Context, c *intent.Canonical) (*PreflightReport, error) {
	if err := h.check(c); err != nil {
		return nil, err
	}
	return &PreflightReport{
		Connector: intent.ChainHyperliquid,
		Operation: string(c.Action),
		Ok:        true,
		Summary:   "order accepted by simulator",
		Details:   reportDetail("signer", h.signer),
	}, nil
}

func (h *Hyperliquid) Execute(ctx context.Context, c *intent.Canonical, rc RunContext) (*ExecutionReport, error) {
	if err := h.check(c); err != nil {
		return nil, err
	}
	nonce, err := h.nonces.Next(h.signer, 0)
	if err != nil {
		return nil, oerr.Wrap("HYPERLIQUID_EXECUTION_FAILED", "nonce coordination failed", err)
	}
	report := &ExecutionReport{
		Connector: intent.ChainHyperliquid,
		Operation: string(c.Action),
		Status:    "submitted",
		Nonce:     nonce,
		Details:   reportDetail("signer", h.signer, "idempotencyKey", rc.IdempotencyKey),
	}
	if c.Action == intent.ActionHlOrder || c.Action == intent.ActionHlModify {
		report.OrderID = strconv.FormatInt(nonce%1_000_000_000, 10)
	}
	return report, nil
}

func (h *Hyperliquid) check(c *intent.Canonical) error {
	if !c.Action.IsHyperliquid() {
		return oerr.New("CONNECTOR_UNSUPPORTED_OPERATION", "hyperliquid connector cannot run %s", c.Action)
	}
	if c.Action == intent.ActionHlOrder && c.IsMarketOrder() && c.SlippageBps == "" {
		return oerr.New("HYPERLIQUID_PREFLIGHT_FAILED", "market orders require slippageBps")
	}
	return nil
}
