package connector

import (
	"context"

	"intentd/intent"
	"intentd/oerr"
)

// SwapVenue simulates a Solana swap aggregator (Jupiter, Raydium or
// Pumpfun). The three venues share behavior; only naming and error codes
// differ.
type SwapVenue struct {
	name   string
	action intent.Action
	quotes QuoteSource
	// failWith, when set, makes every call fail. Used to exercise the
	// Jupiter fallback path without a network.
	failWith error
}

func NewJupiter(quotes QuoteSource) *SwapVenue {
	return &SwapVenue{name: "jupiter", action: intent.ActionSwapJupiter, quotes: quotes}
}

func NewRaydium(quotes QuoteSource) *SwapVenue {
	return &SwapVenue{name: "raydium", action: intent.ActionSwapRaydium, quotes: quotes}
}

func NewPumpfun(quotes QuoteSource) *SwapVenue {
	return &SwapVenue{name: "pumpfun", action: intent.ActionSwapPumpfun, quotes: quotes}
}

// FailWith injects a permanent failure; pass nil to clear.
func (v *SwapVenue) FailWith(err error) { v.failWith = err }

func (v *SwapVenue) Name() string { return v.name }

func (v *SwapVenue) Preflight(ctx context.Context, c *intent.Canonical) (*PreflightReport, error) {
	if err := v.check(c); err != nil {
		return nil, err
	}
	return &PreflightReport{
		Connector: v.name,
		Operation: string(c.Action),
		Ok:        true,
		Summary:   "route quoted",
		Details:   reportDetail("mode", c.Mode),
	}, nil
}

func (v *SwapVenue) Execute(ctx context.Context, c *intent.Canonical, rc RunContext) (*ExecutionReport, error) {
	if err := v.check(c); err != nil {
		return nil, err
	}
	return &ExecutionReport{
		Connector: v.name,
		Operation: string(c.Action),
		Status:    "submitted",
		TxHash:    pseudoHash(rc.RunID, v.name, string(c.Action)),
		Details:   reportDetail("idempotencyKey", rc.IdempotencyKey),
	}, nil
}

func (v *SwapVenue) check(c *intent.Canonical) error {
	if v.failWith != nil {
		return v.failWith
	}
	if c.Action != v.action {
		return oerr.New("CONNECTOR_UNSUPPORTED_OPERATION", "%s connector cannot run %s", v.name, c.Action)
	}
	return nil
}
