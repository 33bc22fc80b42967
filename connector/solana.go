package connector

import (
	"context"

	"intentd/intent"
	"intentd/oerr"
)

// Solana simulates the Solana chain connector: native SOL transfers, defi
// operations and balance reads. Swaps go through the dedicated venue
// connectors.
type Solana struct {
	quotes QuoteSource
}

func NewSolana(quotes QuoteSource) *Solana {
	return &Solana{quotes: quotes}
}

func (s *Solana) Name() string { return intent.ChainSolana }

func (s *Solana) Preflight(ctx context.Context, c *intent.Canonical) (*PreflightReport, error) {
	if err := s.check(c); err != nil {
		return nil, err
	}
	return &PreflightReport{
		Connector: intent.ChainSolana,
		Operation: string(c.Action),
		Ok:        true,
		Summary:   "simulation passed",
		Details:   reportDetail("computeUnits", 1400),
	}, nil
}

func (s *Solana) Execute(ctx context.Context, c *intent.Canonical, rc RunContext) (*ExecutionReport, error) {
	if err := s.check(c); err != nil {
		return nil, err
	}
	return &ExecutionReport{
		Connector: intent.ChainSolana,
		Operation: string(c.Action),
		Status:    "submitted",
		TxHash:    pseudoHash(rc.RunID, intent.ChainSolana, string(c.Action)),
		Details:   reportDetail("idempotencyKey", rc.IdempotencyKey),
	}, nil
}

func (s *Solana) check(c *intent.Canonical) error {
	switch c.Action {
	case intent.ActionTransfer, intent.ActionSend:
		if c.Chain != intent.ChainSolana {
			return oerr.New("CONNECTOR_CHAIN_MISMATCH", "solana connector cannot execute on %s", c.Chain)
		}
		if !intent.ValidSolanaAddress(c.Recipient) {
			return oerr.New("ADDRESS_INVALID", "recipient is not a solana address")
		}
	case intent.ActionBridge:
		if c.FromChain != intent.ChainSolana {
			return oerr.New("CONNECTOR_CHAIN_MISMATCH", "bridge source %s is not solana", c.FromChain)
		}
	case intent.ActionDefiDeposit, intent.ActionDefiWithdraw, intent.ActionPortfolioBalance:
	default:
		return oerr.New("CONNECTOR_UNSUPPORTED_OPERATION", "solana connector cannot run %s", c.Action)
	}
	return nil
}
