package plan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"intentd/intent"
)

func stepIDs(p *Plan) []string {
	ids := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		ids = append(ids, s.ID)
	}
	return ids
}

func TestTransferDryRunPlan(t *testing.T) {
	c := &intent.Canonical{Action: intent.ActionTransfer, Chain: "base"}
	p := Build(c, true)
	require.Equal(t, "dry-run", p.Mode)
	require.Equal(t, []string{"validate-policy", "preflight-transfer"}, stepIDs(p))
	require.Equal(t, "base", p.Steps[1].Connector)
}

func TestTransferLivePlan(t *testing.T) {
	c := &intent.Canonical{Action: intent.ActionTransfer, Chain: "base"}
	p := Build(c, false)
	require.Equal(t, []string{"validate-policy", "preflight-transfer", "execute-transfer"}, stepIDs(p))
}

func TestBalancePlanIsReadOnly(t *testing.T) {
	c := &intent.Canonical{Action: intent.ActionPortfolioBalance}
	p := Build(c, false)
	require.Equal(t, []string{"validate-policy", "fetch-balances", "mark-to-market", "format-discord-response"}, stepIDs(p))
}

func TestBridgeExecuteAttributedToSourceChain(t *testing.T) {
	c := &intent.Canonical{Action: intent.ActionBridge, FromChain: "base", ToChain: "solana"}
	p := Build(c, false)
	last := p.Steps[len(p.Steps)-1]
	require.Equal(t, "execute-bridge", last.ID)
	require.Equal(t, "base", last.Connector)
}

func TestConnectorRouting(t *testing.T) {
	require.Equal(t, "hyperliquid", ConnectorFor(&intent.Canonical{Action: intent.ActionHlOrder}))
	require.Equal(t, "jupiter", ConnectorFor(&intent.Canonical{Action: intent.ActionSwapJupiter}))
	require.Equal(t, "raydium", ConnectorFor(&intent.Canonical{Action: intent.ActionSwapRaydium}))
	require.Equal(t, "solana", ConnectorFor(&intent.Canonical{Action: intent.ActionTransfer, Chain: "solana"}))
}
