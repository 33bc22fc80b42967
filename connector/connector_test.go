package connector

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"intentd/hlnonce"
	"intentd/intent"
	"intentd/oerr"
	"intentd/policy"
)

var testQuotes = StaticQuotes{"BTC": "50000", "ETH": "3000", "SOL": "150"}

func testPolicyDoc() *policy.Document {
	return &policy.Document{
		Version: "3",
		Limits:  policy.Limits{DefaultSlippageBps: 50, MaxSlippageBps: 100},
	}
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewSolana(testQuotes))
	c, err := reg.Resolve("solana")
	require.NoError(t, err)
	require.Equal(t, "solana", c.Name())

	_, err = reg.Resolve("osmosis")
	require.Equal(t, "CONNECTOR_NOT_FOUND", oerr.From(err).Code)
}

func TestHyperliquidEnrichMarketOrder(t *testing.T) {
	nonces := hlnonce.New(filepath.Join(t.TempDir(), "hyperliquid-nonce.json"), time.Second, time.Minute)
	hl := NewHyperliquid("0xabc0000000000000000000000000000000000001", nonces, testQuotes)

	order := &intent.Canonical{
		Action: intent.ActionHlOrder, Market: "BTC", MarketType: "perp",
		Side: "buy", Amount: "0.001", Price: "market",
	}
	enriched, err := hl.EnrichIntentForPolicy(order, testPolicyDoc())
	require.NoError(t, err)
	require.Equal(t, "50000", enriched.ReferencePrice)
	require.Equal(t, "50", enriched.SlippageBps)
	require.Empty(t, order.ReferencePrice, "original intent must stay untouched")

	limit := &intent.Canonical{
		Action: intent.ActionHlOrder, Market: "BTC", MarketType: "perp",
		Side: "buy", Amount: "0.001", Price: "49000",
	}
	enriched, err = hl.EnrichIntentForPolicy(limit, testPolicyDoc())
	require.NoError(t, err)
	require.Empty(t, enriched.ReferencePrice, "limit orders need no hydration")
}

func TestHyperliquidEnrichUnknownMarket(t *testing.T) {
	nonces := hlnonce.New(filepath.Join(t.TempDir(), "hyperliquid-nonce.json"), time.Second, time.Minute)
	hl := NewHyperliquid("0xabc0000000000000000000000000000000000001", nonces, testQuotes)
	order := &intent.Canonical{
		Action: intent.ActionHlOrder, Market: "DOGE", MarketType: "perp",
		Side: "buy", Amount: "1", Price: "market",
	}
	_, err := hl.EnrichIntentForPolicy(order, testPolicyDoc())
	require.Equal(t, "HYPERLIQUID_INFO_FAILED", oerr.From(err).Code)
}

func TestHyperliquidExecuteDrawsNonces(t *testing.T) {
	nonces := hlnonce.New(filepath.Join(t.TempDir(), "hyperliquid-nonce.json"), time.Second, time.Minute)
	hl := NewHyperliquid("0xabc0000000000000000000000000000000000001", nonces, testQuotes)
	order := &intent.Canonical{
		Action: intent.ActionHlOrder, Market: "BTC", MarketType: "perp",
		Side: "buy", Amount: "0.001", Price: "49000",
	}
	first, err := hl.Execute(context.Background(), order, RunContext{RunID: "run_1"})
	require.NoError(t, err)
	second, err := hl.Execute(context.Background(), order, RunContext{RunID: "run_2"})
	require.NoError(t, err)
	require.Greater(t, second.Nonce, first.Nonce)
}

func TestJupiterFallbackOnNetworkError(t *testing.T) {
	jupiter := NewJupiter(testQuotes)
	raydium := NewRaydium(testQuotes)
	decorated := NewJupiterWithFallback(jupiter, raydium)

	swap := &intent.Canonical{
		Action: intent.ActionSwapJupiter, Chain: "solana",
		AssetIn: "SOL", AssetOut: "USDC", Amount: "1", Mode: "ExactIn",
	}

	jupiter.FailWith(oerr.New("JUPITER_EXECUTION_FAILED", "connection reset by peer"))
	report, err := decorated.Execute(context.Background(), swap, RunContext{RunID: "run_1"})
	require.NoError(t, err)
	require.Equal(t, "raydium", report.Connector)
	fallback, ok := report.Details["fallback"].(FallbackInfo)
	require.True(t, ok)
	require.Equal(t, "jupiter", fallback.From)
	require.Equal(t, "network", fallback.Reason)
}

func TestJupiterFallbackOnRetryableHTTPStatus(t *testing.T) {
	jupiter := NewJupiter(testQuotes)
	raydium := NewRaydium(testQuotes)
	decorated := NewJupiterWithFallback(jupiter, raydium)
	swap := &intent.Canonical{
		Action: intent.ActionSwapJupiter, Chain: "solana",
		AssetIn: "SOL", AssetOut: "USDC", Amount: "1", Mode: "ExactIn",
	}

	for _, status := range []int{408, 425, 429, 500, 503, 599} {
		jupiter.FailWith(oerr.New("JUPITER_HTTP_ERROR", "upstream error").With("status", status))
		report, err := decorated.Execute(context.Background(), swap, RunContext{})
		require.NoError(t, err, "status %d", status)
		require.Equal(t, "raydium", report.Connector)
	}
}

func TestJupiterNonNetworkErrorsSurface(t *testing.T) {
	jupiter := NewJupiter(testQuotes)
	raydium := NewRaydium(testQuotes)
	decorated := NewJupiterWithFallback(jupiter, raydium)
	swap := &intent.Canonical{
		Action: intent.ActionSwapJupiter, Chain: "solana",
		AssetIn: "SOL", AssetOut: "USDC", Amount: "1", Mode: "ExactIn",
	}

	jupiter.FailWith(oerr.New("JUPITER_EXECUTION_FAILED", "insufficient output amount"))
	_, err := decorated.Execute(context.Background(), swap, RunContext{})
	require.Equal(t, "JUPITER_EXECUTION_FAILED", oerr.From(err).Code)

	jupiter.FailWith(oerr.New("JUPITER_HTTP_ERROR", "bad request").With("status", 400))
	_, err = decorated.Execute(context.Background(), swap, RunContext{})
	require.Equal(t, "JUPITER_HTTP_ERROR", oerr.From(err).Code)
}

func TestEVMConnectorChecks(t *testing.T) {
	base := NewEVM(intent.ChainBase, testQuotes)
	_, err := base.Preflight(context.Background(), &intent.Canonical{
		Action: intent.ActionTransfer, Chain: "solana",
		Recipient: "0x000000000000000000000000000000000000dEaD",
	})
	require.Equal(t, "CONNECTOR_CHAIN_MISMATCH", oerr.From(err).Code)

	report, err := base.Preflight(context.Background(), &intent.Canonical{
		Action: intent.ActionTransfer, Chain: "base", Amount: "0.001", Asset: "ETH",
		Recipient: "0x000000000000000000000000000000000000dEaD",
	})
	require.NoError(t, err)
	require.True(t, report.Ok)
}
