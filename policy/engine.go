package policy

import (
	"strings"

	"github.com/shopspring/decimal"

	"intentd/intent"
	"intentd/oerr"
)

// Check records one evaluated guardrail.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Evaluation is the successful outcome of a policy pass.
type Evaluation struct {
	Checks      []Check `json:"checks"`
	NotionalUsd string  `json:"notionalUsd,omitempty"`
}

var allowedPriceSources = map[string]bool{"chainlink": true, "pyth": true}

// stableAssets are treated as USD-denominated when deriving notional.
var stableAssets = map[string]bool{"USDC": true, "USDT": true, "DAI": true}

// Evaluate runs every guardrail against the canonical intent, in order,
// short-circuiting on the first violation.
func Evaluate(doc *Document, c *intent.Canonical) (*Evaluation, error) {
	ev := &Evaluation{}
	pass := func(name string) { ev.Checks = append(ev.Checks, Check{Name: name, Status: "pass"}) }

	if !doc.Execution.AllowMainnetOnly {
		return nil, oerr.New("POLICY_MAINNET_REQUIRED", "policy must pin execution to mainnet")
	}
	pass("mainnet-only")

	if doc.Routing.HyperliquidOperationalRole != "destination_l3" {
		return nil, oerr.New("POLICY_HL_ROLE_INVALID", "hyperliquid operational role must be destination_l3")
	}
	pass("hyperliquid-role")

	if !allowedPriceSources[doc.MarketData.PrimaryPriceSource] || !allowedPriceSources[doc.MarketData.FallbackPriceSource] {
		return nil, oerr.New("POLICY_MARKETDATA_INVALID", "price sources must be chainlink or pyth")
	}
	pass("market-data-sources")

	if strings.TrimSpace(doc.Reporting.DiscordChannelID) == "" {
		return nil, oerr.New("POLICY_REPORTING_CHANNEL_REQUIRED", "reporting.discordChannelId is required")
	}
	pass("reporting-channel")

	for _, chain := range intentChains(c) {
		if !containsFold(doc.Allowlists.Chains, chain) {
			return nil, oerr.New("POLICY_CHAIN_DENIED", "chain %s is not allowlisted", chain).With("chain", chain)
		}
	}
	pass("chain-allowlist")

	if len(doc.Allowlists.Assets) > 0 {
		for _, asset := range intentAssets(c) {
			if !containsFold(doc.Allowlists.Assets, asset) {
				return nil, oerr.New("POLICY_ASSET_DENIED", "asset %s is not allowlisted", asset).With("asset", asset)
			}
		}
	}
	pass("asset-allowlist")

	if doc.Execution.RequireRecipientAllowlist && c.Recipient != "" {
		if !containsFold(doc.Allowlists.Recipients, c.Recipient) {
			return nil, oerr.New("POLICY_RECIPIENT_DENIED", "recipient is not allowlisted").With("recipient", c.Recipient)
		}
		pass("recipient-allowlist")
	} else if doc.Execution.RequireRecipientAllowlist && c.Action.RequiresRecipient() {
		return nil, oerr.New("POLICY_RECIPIENT_REQUIRED", "recipient allowlisting is required for %s", c.Action)
	}

	if c.Action == intent.ActionContractCall && len(doc.Allowlists.Contracts) > 0 {
		if !containsFold(doc.Allowlists.Contracts, c.Contract) {
			return nil, oerr.New("POLICY_CONTRACT_DENIED", "contract is not allowlisted").With("contract", c.Contract)
		}
		pass("contract-allowlist")
	}

	if c.Action == intent.ActionBridge {
		if c.Provider != "debridge" {
			return nil, oerr.New("POLICY_BRIDGE_PROVIDER_DENIED", "bridge provider %s is not permitted", c.Provider)
		}
		if !containsFold(doc.Allowlists.Chains, c.FromChain) {
			return nil, oerr.New("POLICY_BRIDGE_SOURCE_DENIED", "bridge source %s is not permitted", c.FromChain)
		}
		route := c.FromChain + "->" + c.ToChain
		if !containsFold(doc.Allowlists.BridgeRoutes, route) {
			return nil, oerr.New("POLICY_BRIDGE_ROUTE_DENIED", "bridge route %s is not allowlisted", route).With("route", route)
		}
		pass("bridge-route")
	}

	if c.Action.IsHyperliquid() && c.Market != "" && len(doc.Allowlists.HyperliquidSymbols) > 0 {
		if !containsFold(doc.Allowlists.HyperliquidSymbols, c.Market) {
			return nil, oerr.New("POLICY_HL_SYMBOL_DENIED", "market %s is not allowlisted", c.Market).With("market", c.Market)
		}
		pass("hyperliquid-symbols")
	}

	if err := checkOrderLimits(doc, c, ev); err != nil {
		return nil, err
	}

	notional, err := notionalUsd(c)
	if err != nil {
		return nil, err
	}
	if notional != nil {
		maxNotional, set, err := doc.Limits.MaxNotionalUsdPerTx.Decimal()
		if err == nil && set && notional.Cmp(maxNotional) > 0 {
			return nil, oerr.New("POLICY_NOTIONAL_EXCEEDED", "notional %s USD exceeds cap %s", notional.String(), maxNotional.String()).
				With("notionalUsd", notional.String()).With("maxNotionalUsdPerTx", maxNotional.String())
		}
		ev.NotionalUsd = notional.String()
		pass("notional-cap")
	}

	return ev, nil
}

func checkOrderLimits(doc *Document, c *intent.Canonical, ev *Evaluation) error {
	orderLike := c.Action == intent.ActionHlOrder || (c.Action == intent.ActionHlModify && c.Amount != "")
	if !orderLike {
		return nil
	}
	if maxSize, set, err := doc.Limits.MaxOrderSize.Decimal(); err == nil && set && c.Amount != "" {
		amount, err := decimal.NewFromString(c.Amount)
		if err == nil && amount.Cmp(maxSize) > 0 {
			return oerr.New("POLICY_ORDER_SIZE_EXCEEDED", "order size %s exceeds cap %s", c.Amount, maxSize.String())
		}
		ev.Checks = append(ev.Checks, Check{Name: "order-size", Status: "pass"})
	}
	if c.IsMarketOrder() {
		if c.SlippageBps == "" {
			return oerr.New("POLICY_SLIPPAGE_REQUIRED", "market orders must carry slippageBps")
		}
		bps, err := decimal.NewFromString(c.SlippageBps)
		if err != nil || (doc.Limits.MaxSlippageBps > 0 && bps.Cmp(decimal.NewFromInt(int64(doc.Limits.MaxSlippageBps))) > 0) {
			return oerr.New("POLICY_SLIPPAGE_EXCEEDED", "slippage %s bps exceeds cap %d", c.SlippageBps, doc.Limits.MaxSlippageBps)
		}
		ev.Checks = append(ev.Checks, Check{Name: "slippage-cap", Status: "pass"})
	}
	if c.MarketType == "perp" && c.Leverage != "" && doc.Limits.MaxPerpLeverage > 0 {
		lev, err := decimal.NewFromString(c.Leverage)
		if err != nil || lev.Cmp(decimal.NewFromInt(int64(doc.Limits.MaxPerpLeverage))) > 0 {
			return oerr.New("POLICY_LEVERAGE_EXCEEDED", "leverage %s exceeds cap %d", c.Leverage, doc.Limits.MaxPerpLeverage)
		}
		ev.Checks = append(ev.Checks, Check{Name: "leverage-cap", Status: "pass"})
	}
	return nil
}

// notionalUsd derives the USD notional when possible: stable-denominated
// amounts count verbatim; orders multiply size by the limit price or the
// hydrated reference price. A nil return means the cap does not apply.
func notionalUsd(c *intent.Canonical) (*decimal.Decimal, error) {
	if c.Amount == "" {
		return nil, nil
	}
	amount, err := decimal.NewFromString(c.Amount)
	if err != nil {
		return nil, nil
	}
	if stableAssets[c.Asset] || stableAssets[c.AssetIn] {
		return &amount, nil
	}
	if c.Action == intent.ActionHlOrder {
		priceText := c.Price
		if priceText == "market" || priceText == "" {
			priceText = c.ReferencePrice
		}
		if priceText == "" {
			return nil, oerr.New("POLICY_NOTIONAL_UNPRICED", "order notional cannot be derived without a price")
		}
		price, err := decimal.NewFromString(priceText)
		if err != nil {
			return nil, oerr.New("POLICY_NOTIONAL_UNPRICED", "order price %q is not a decimal", priceText)
		}
		notional := amount.Mul(price)
		return &notional, nil
	}
	return nil, nil
}

func intentChains(c *intent.Canonical) []string {
	var chains []string
	seen := map[string]bool{}
	add := func(chain string) {
		if chain != "" && !seen[chain] {
			seen[chain] = true
			chains = append(chains, chain)
		}
	}
	add(c.Chain)
	add(c.FromChain)
	add(c.ToChain)
	if c.Action.IsHyperliquid() {
		add(intent.ChainHyperliquid)
	}
	return chains
}

func intentAssets(c *intent.Canonical) []string {
	var assets []string
	for _, asset := range []string{c.Asset, c.AssetIn, c.AssetOut} {
		if asset != "" {
			assets = append(assets, asset)
		}
	}
	return assets
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), value) {
			return true
		}
	}
	return false
}
