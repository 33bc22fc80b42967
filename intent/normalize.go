package intent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"intentd/oerr"
)

var chainAliases = map[string]string{
	"base":         ChainBase,
	"base mainnet": ChainBase,
	"solana":       ChainSolana,
	"sol":          ChainSolana,
	"arbitrum":     ChainArbitrum,
	"arbitrum one": ChainArbitrum,
	"arb":          ChainArbitrum,
	"hyperliquid":  ChainHyperliquid,
	"hl":           ChainHyperliquid,
	"hyper":        ChainHyperliquid,
}

// nativeAssets constrains transfer/send assets per chain.
var nativeAssets = map[string]string{
	ChainBase:   "ETH",
	ChainSolana: "SOL",
}

var (
	evmAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	cloidRe      = regexp.MustCompile(`^0x[0-9a-f]{32}$`)
	oidRe        = regexp.MustCompile(`^[0-9]+$`)
	calldataRe   = regexp.MustCompile(`^0x(?:[0-9a-fA-F]{2})*$`)
)

// ResolveChain maps a chain alias to its canonical identifier.
func ResolveChain(alias string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(alias))
	if chain, ok := chainAliases[key]; ok {
		return chain, nil
	}
	return "", oerr.New("CHAIN_UNSUPPORTED", "unsupported chain %q", alias)
}

// ValidEVMAddress reports whether addr is a 0x-prefixed 20-byte hex address.
// Checksum casing is not enforced; the pattern match is the contract.
func ValidEVMAddress(addr string) bool {
	return evmAddressRe.MatchString(addr) && common.IsHexAddress(addr)
}

// ValidSolanaAddress reports whether addr is a base58 32-byte public key
// rendered as 32..44 characters.
func ValidSolanaAddress(addr string) bool {
	if len(addr) < 32 || len(addr) > 44 {
		return false
	}
	return len(base58.Decode(addr)) == 32
}

// AddressMatchesChain checks addr against the address format of chain.
func AddressMatchesChain(chain, addr string) bool {
	switch chain {
	case ChainSolana:
		return ValidSolanaAddress(addr)
	case ChainBase, ChainArbitrum, ChainHyperliquid:
		return ValidEVMAddress(addr)
	}
	return false
}

// Normalize validates the loose intent and produces the canonical form. All
// failures carry precise operator error codes.
func Normalize(u *Unchecked) (*Canonical, error) {
	action := Action(strings.TrimSpace(u.Action))
	if !Known(action) {
		return nil, oerr.New("INTENT_ACTION_UNKNOWN", "unknown action %q", u.Action)
	}
	c := &Canonical{Action: action}

	switch action {
	case ActionTransfer, ActionSend:
		return normalizeTransfer(u, c)
	case ActionBridge:
		return normalizeBridge(u, c)
	case ActionSwapJupiter, ActionSwapRaydium, ActionSwapPumpfun:
		return normalizeSwap(u, c)
	case ActionHlOrder:
		return normalizeHlOrder(u, c)
	case ActionHlCancel, ActionHlModify:
		return normalizeHlOrderRef(u, c)
	case ActionHlDeposit:
		return normalizeHlDeposit(u, c)
	case ActionHlBridgeDeposit, ActionHlBridgeWithdraw:
		return normalizeHlBridge(u, c)
	case ActionDefiDeposit, ActionDefiWithdraw:
		return normalizeDefi(u, c)
	case ActionPortfolioBalance:
		if strings.TrimSpace(u.Chain) != "" {
			chain, err := ResolveChain(u.Chain)
			if err != nil {
				return nil, err
			}
			c.Chain = chain
		}
		return c, nil
	case ActionContractCall:
		return normalizeContractCall(u, c)
	}
	return nil, oerr.New("INTENT_ACTION_UNKNOWN", "unknown action %q", u.Action)
}

func normalizeTransfer(u *Unchecked, c *Canonical) (*Canonical, error) {
	amount, err := positiveDecimal(u.Amount, "amount")
	if err != nil {
		return nil, err
	}
	c.Amount = amount
	c.Asset = strings.ToUpper(strings.TrimSpace(u.Asset))
	if c.Asset == "" {
		return nil, oerr.New("ASSET_UNSUPPORTED", "transfer requires an asset")
	}
	recipient := strings.TrimSpace(u.Recipient)
	if recipient == "" {
		return nil, oerr.New("ADDRESS_INVALID", "transfer requires a recipient")
	}

	if strings.TrimSpace(u.Chain) != "" {
		chain, err := ResolveChain(u.Chain)
		if err != nil {
			return nil, err
		}
		c.Chain = chain
	} else {
		chain, err := inferTransferChain(c.Asset, recipient)
		if err != nil {
			return nil, err
		}
		c.Chain = chain
	}

	native, ok := nativeAssets[c.Chain]
	if !ok {
		return nil, oerr.New("CHAIN_UNSUPPORTED", "transfers are not supported on %s", c.Chain)
	}
	if c.Asset != native {
		return nil, oerr.New("ASSET_UNSUPPORTED", "only %s transfers are supported on %s", native, c.Chain)
	}
	if !AddressMatchesChain(c.Chain, recipient) {
		return nil, oerr.New("ADDRESS_INVALID", "recipient does not match %s address format", c.Chain)
	}
	c.Recipient = recipient
	return c, nil
}

// inferTransferChain resolves the chain for a transfer that names none:
// first by asset, then by recipient address shape.
func inferTransferChain(asset, recipient string) (string, error) {
	switch asset {
	case "ETH":
		return ChainBase, nil
	case "SOL":
		return ChainSolana, nil
	}
	evm := ValidEVMAddress(recipient)
	sol := ValidSolanaAddress(recipient)
	switch {
	case evm && !sol:
		return ChainBase, nil
	case sol && !evm:
		return ChainSolana, nil
	}
	return "", oerr.New("CHAIN_AMBIGUOUS", "cannot infer chain for asset %s", asset)
}

func normalizeBridge(u *Unchecked, c *Canonical) (*Canonical, error) {
	amount, err := positiveDecimal(u.Amount, "amount")
	if err != nil {
		return nil, err
	}
	c.Amount = amount
	c.Asset = strings.ToUpper(strings.TrimSpace(u.Asset))
	if c.Asset == "" {
		return nil, oerr.New("ASSET_UNSUPPORTED", "bridge requires an asset")
	}
	from, err := ResolveChain(u.FromChain)
	if err != nil {
		return nil, err
	}
	to, err := ResolveChain(u.ToChain)
	if err != nil {
		return nil, err
	}
	if from == to {
		return nil, oerr.New("BRIDGE_ROUTE_INVALID", "bridge source and destination are both %s", from)
	}
	c.FromChain = from
	c.ToChain = to
	c.Provider = strings.ToLower(strings.TrimSpace(u.Provider))
	if c.Provider == "" {
		c.Provider = "debridge"
	}
	if recipient := strings.TrimSpace(u.Recipient); recipient != "" {
		if !AddressMatchesChain(to, recipient) {
			return nil, oerr.New("ADDRESS_INVALID", "bridge recipient does not match %s address format", to)
		}
		c.Recipient = recipient
	}
	return c, nil
}

func normalizeSwap(u *Unchecked, c *Canonical) (*Canonical, error) {
	amount, err := positiveDecimal(u.Amount, "amount")
	if err != nil {
		return nil, err
	}
	c.Amount = amount
	c.Chain = ChainSolana
	c.AssetIn = strings.ToUpper(strings.TrimSpace(u.AssetIn))
	c.AssetOut = strings.ToUpper(strings.TrimSpace(u.AssetOut))
	if c.AssetIn == "" || c.AssetOut == "" {
		return nil, oerr.New("ASSET_UNSUPPORTED", "swap requires input and output assets")
	}
	if c.AssetIn == c.AssetOut {
		return nil, oerr.New("SWAP_ASSETS_IDENTICAL", "swap input and output are both %s", c.AssetIn)
	}
	c.Mode = strings.TrimSpace(u.Mode)
	if c.Mode == "" {
		c.Mode = "ExactIn"
	}
	if u.SlippageBps != nil {
		bps, err := slippageBps(u.SlippageBps)
		if err != nil {
			return nil, err
		}
		c.SlippageBps = bps
	}
	return c, nil
}

func normalizeHlOrder(u *Unchecked, c *Canonical) (*Canonical, error) {
	amount, err := positiveDecimal(u.Amount, "amount")
	if err != nil {
		return nil, err
	}
	c.Amount = amount

	side := strings.ToLower(strings.TrimSpace(u.Side))
	if side != "buy" && side != "sell" {
		return nil, oerr.New("ORDER_SIDE_INVALID", "order side must be buy or sell, got %q", u.Side)
	}
	c.Side = side

	market := strings.ToUpper(strings.TrimSpace(u.Market))
	if market == "" {
		return nil, oerr.New("MARKET_INVALID", "order requires a market")
	}
	c.Market = market
	marketType := strings.ToLower(strings.TrimSpace(u.MarketType))
	if marketType == "" {
		if strings.Contains(market, "/") {
			marketType = "spot"
		} else {
			marketType = "perp"
		}
	}
	if marketType != "perp" && marketType != "spot" {
		return nil, oerr.New("MARKET_INVALID", "market type must be perp or spot, got %q", u.MarketType)
	}
	if marketType == "spot" && !strings.Contains(market, "/") {
		return nil, oerr.New("MARKET_INVALID", "spot market %q must contain '/'", market)
	}
	c.MarketType = marketType

	if u.Price == nil {
		c.Price = "market"
	} else if raw, ok := u.Price.(string); ok && strings.EqualFold(strings.TrimSpace(raw), "market") {
		c.Price = "market"
	} else {
		price, err := positiveDecimal(u.Price, "price")
		if err != nil {
			return nil, oerr.New("PRICE_INVALID", "order price must be a positive decimal or \"market\"")
		}
		c.Price = price
	}

	if u.SlippageBps != nil {
		bps, err := slippageBps(u.SlippageBps)
		if err != nil {
			return nil, err
		}
		c.SlippageBps = bps
	}
	if u.Leverage != nil {
		lev, err := positiveInteger(u.Leverage)
		if err != nil {
			return nil, oerr.New("LEVERAGE_INVALID", "leverage must be a positive integer")
		}
		c.Leverage = lev
	}
	if u.ReduceOnly != nil {
		c.ReduceOnly = *u.ReduceOnly
	}
	if tif := strings.TrimSpace(u.TIF); tif != "" {
		normalized, ok := normalizeTIF(tif)
		if !ok {
			return nil, oerr.New("TIF_INVALID", "tif must be Alo, Ioc or Gtc, got %q", tif)
		}
		c.TIF = normalized
	}
	if cloid := strings.TrimSpace(u.Cloid); cloid != "" {
		lowered := strings.ToLower(cloid)
		if !cloidRe.MatchString(lowered) {
			return nil, oerr.New("ORDER_REF_INVALID", "cloid must be 0x-prefixed 32 hex chars")
		}
		c.Cloid = lowered
	}
	c.Venue = ChainHyperliquid
	return c, nil
}

func normalizeHlOrderRef(u *Unchecked, c *Canonical) (*Canonical, error) {
	market := strings.ToUpper(strings.TrimSpace(u.Market))
	if market == "" {
		return nil, oerr.New("MARKET_INVALID", "order reference requires a market")
	}
	c.Market = market

	oid := strings.TrimSpace(anyToString(u.Oid))
	cloid := strings.TrimSpace(u.Cloid)
	switch {
	case oid != "" && cloid != "":
		return nil, oerr.New("ORDER_REF_INVALID", "provide either oid or cloid, not both")
	case oid != "":
		if !oidRe.MatchString(oid) || strings.TrimLeft(oid, "0") == "" {
			return nil, oerr.New("ORDER_REF_INVALID", "oid must be a positive integer")
		}
		c.Oid = oid
	case cloid != "":
		lowered := strings.ToLower(cloid)
		if !cloidRe.MatchString(lowered) {
			return nil, oerr.New("ORDER_REF_INVALID", "cloid must be 0x-prefixed 32 hex chars")
		}
		c.Cloid = lowered
	default:
		return nil, oerr.New("ORDER_REF_INVALID", "order reference requires an oid or cloid")
	}

	if c.Action == ActionHlModify {
		if u.Price != nil {
			price, err := positiveDecimal(u.Price, "price")
			if err != nil {
				return nil, oerr.New("PRICE_INVALID", "modified price must be a positive decimal")
			}
			c.Price = price
		}
		if u.Amount != nil {
			amount, err := positiveDecimal(u.Amount, "amount")
			if err != nil {
				return nil, err
			}
			c.Amount = amount
		}
	}
	c.Venue = ChainHyperliquid
	return c, nil
}

func normalizeHlDeposit(u *Unchecked, c *Canonical) (*Canonical, error) {
	amount, err := positiveDecimal(u.Amount, "amount")
	if err != nil {
		return nil, err
	}
	c.Amount = amount
	asset := strings.ToUpper(strings.TrimSpace(u.Asset))
	if asset == "" {
		asset = "USDC"
	}
	if asset != "USDC" {
		return nil, oerr.New("ASSET_UNSUPPORTED", "hyperliquid deposits accept USDC only")
	}
	c.Asset = asset
	c.Venue = ChainHyperliquid
	return c, nil
}

func normalizeHlBridge(u *Unchecked, c *Canonical) (*Canonical, error) {
	amount, err := positiveDecimal(u.Amount, "amount")
	if err != nil {
		return nil, err
	}
	c.Amount = amount
	asset := strings.ToUpper(strings.TrimSpace(u.Asset))
	if asset == "" {
		asset = "USDC"
	}
	if asset != "USDC" {
		return nil, oerr.New("ASSET_UNSUPPORTED", "hyperliquid bridge moves USDC only")
	}
	c.Asset = asset
	if c.Action == ActionHlBridgeDeposit {
		c.FromChain = ChainArbitrum
		c.ToChain = ChainHyperliquid
	} else {
		c.FromChain = ChainHyperliquid
		c.ToChain = ChainArbitrum
	}
	return c, nil
}

func normalizeDefi(u *Unchecked, c *Canonical) (*Canonical, error) {
	amount, err := positiveDecimal(u.Amount, "amount")
	if err != nil {
		return nil, err
	}
	c.Amount = amount
	c.Protocol = strings.ToLower(strings.TrimSpace(u.Protocol))
	if c.Protocol == "" {
		return nil, oerr.New("PROTOCOL_INVALID", "defi operation requires a protocol")
	}
	chain, err := ResolveChain(u.Chain)
	if err != nil {
		return nil, err
	}
	c.Chain = chain
	c.Asset = strings.ToUpper(strings.TrimSpace(u.Asset))
	if c.Asset == "" {
		return nil, oerr.New("ASSET_UNSUPPORTED", "defi operation requires an asset")
	}
	return c, nil
}

func normalizeContractCall(u *Unchecked, c *Canonical) (*Canonical, error) {
	contract := strings.TrimSpace(u.Contract)
	if !ValidEVMAddress(contract) {
		return nil, oerr.New("CONTRACT_INVALID", "contract address must match the EVM format")
	}
	c.Contract = contract
	c.Chain = ChainBase
	if strings.TrimSpace(u.Chain) != "" {
		chain, err := ResolveChain(u.Chain)
		if err != nil {
			return nil, err
		}
		c.Chain = chain
	}
	calldata := strings.TrimSpace(u.Calldata)
	if calldata == "" || !calldataRe.MatchString(calldata) {
		return nil, oerr.New("CALLDATA_INVALID", "calldata must be 0x-prefixed hex bytes")
	}
	c.Calldata = strings.ToLower(calldata)
	if u.Value != nil {
		value, err := nonNegativeDecimal(u.Value)
		if err != nil {
			return nil, oerr.New("INVALID_AMOUNT", "call value must be a non-negative decimal")
		}
		c.Value = value
	}
	return c, nil
}

func normalizeTIF(v string) (string, bool) {
	switch strings.ToLower(v) {
	case "alo":
		return "Alo", true
	case "ioc":
		return "Ioc", true
	case "gtc":
		return "Gtc", true
	}
	return "", false
}

// positiveDecimal parses v as a strictly positive decimal and renders it
// back as a normalized string.
func positiveDecimal(v any, field string) (string, error) {
	d, err := toDecimal(v)
	if err != nil || !d.IsPositive() {
		return "", oerr.New("INVALID_AMOUNT", "%s must be a positive decimal", field)
	}
	return d.String(), nil
}

func nonNegativeDecimal(v any) (string, error) {
	d, err := toDecimal(v)
	if err != nil || d.IsNegative() {
		return "", fmt.Errorf("negative or unparsable decimal")
	}
	return d.String(), nil
}

func slippageBps(v any) (string, error) {
	d, err := toDecimal(v)
	if err != nil || !d.IsInteger() || d.IsNegative() || d.Cmp(decimal.NewFromInt(10000)) > 0 {
		return "", oerr.New("SLIPPAGE_INVALID", "slippage must be an integer between 0 and 10000 bps")
	}
	return d.String(), nil
}

func positiveInteger(v any) (string, error) {
	d, err := toDecimal(v)
	if err != nil || !d.IsInteger() || !d.IsPositive() {
		return "", fmt.Errorf("not a positive integer")
	}
	return d.String(), nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch value := v.(type) {
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" || len(trimmed) > 64 {
			return decimal.Zero, fmt.Errorf("empty or oversized decimal string")
		}
		return decimal.NewFromString(trimmed)
	case json.Number:
		return decimal.NewFromString(value.String())
	case float64:
		return decimal.NewFromFloat(value), nil
	case int:
		return decimal.NewFromInt(int64(value)), nil
	case int64:
		return decimal.NewFromInt(value), nil
	case decimal.Decimal:
		return value, nil
	case nil:
		return decimal.Zero, fmt.Errorf("missing value")
	}
	return decimal.Zero, fmt.Errorf("unsupported numeric type %T", v)
}

func anyToString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case json.Number:
		return value.String()
	case float64:
		d := decimal.NewFromFloat(value)
		if d.IsInteger() {
			return d.String()
		}
		return ""
	case int:
		return fmt.Sprintf("%d", value)
	case int64:
		return fmt.Sprintf("%d", value)
	}
	return ""
}
