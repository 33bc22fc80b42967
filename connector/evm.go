package connector

import (
	"context"

	"intentd/intent"
	"intentd/oerr"
)

// EVM simulates an EVM chain connector (Base and Arbitrum deployments use
// the same implementation under different names). It handles native
// transfers, contract calls, deBridge sends and defi operations originating
// on its chain.
type EVM struct {
	chain  string
	quotes QuoteSource
}

func NewEVM(chain string, quotes QuoteSource) *EVM {
	return &EVM{chain: chain, quotes: quotes}
}

func (e *EVM) Name() string { return e.chain }

func (e *EVM) Preflight(ctx context.Context, c *intent.Canonical) (*PreflightReport, error) {
	if err := e.check(c); err != nil {
		return nil, err
	}
	report := &PreflightReport{
		Connector: e.chain,
		Operation: string(c.Action),
		Ok:        true,
		Summary:   "simulation passed",
		Details:   reportDetail("estimatedGas", simulatedGas(c)),
	}
	return report, nil
}

func (e *EVM) Execute(ctx context.Context, c *intent.Canonical, rc RunContext) (*ExecutionReport, error) {
	if err := e.check(c); err != nil {
		return nil, err
	}
	return &ExecutionReport{
		Connector: e.chain,
		Operation: string(c.Action),
		Status:    "submitted",
		TxHash:    pseudoHash(rc.RunID, e.chain, string(c.Action)),
		Details:   reportDetail("idempotencyKey", rc.IdempotencyKey),
	}, nil
}

func (e *EVM) check(c *intent.Canonical) error {
	switch c.Action {
	case intent.ActionTransfer, intent.ActionSend:
		if c.Chain != e.chain {
			return oerr.New("CONNECTOR_CHAIN_MISMATCH", "%s connector cannot execute on %s", e.chain, c.Chain)
		}
		if !intent.ValidEVMAddress(c.Recipient) {
			return oerr.New("ADDRESS_INVALID", "recipient is not an EVM address")
		}
	case intent.ActionBridge:
		if c.FromChain != e.chain {
			return oerr.New("CONNECTOR_CHAIN_MISMATCH", "bridge source %s is not %s", c.FromChain, e.chain)
		}
	case intent.ActionContractCall:
		if !intent.ValidEVMAddress(c.Contract) {
			return oerr.New("CONTRACT_INVALID", "contract is not an EVM address")
		}
	case intent.ActionDefiDeposit, intent.ActionDefiWithdraw, intent.ActionPortfolioBalance:
	default:
		return oerr.New("CONNECTOR_UNSUPPORTED_OPERATION", "%s cannot run %s", e.chain, c.Action)
	}
	return nil
}

func simulatedGas(c *intent.Canonical) int64 {
	switch c.Action {
	case intent.ActionContractCall:
		return 120000
	case intent.ActionBridge:
		return 210000
	default:
		return 21000
	}
}
