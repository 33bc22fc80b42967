// Package nlparse maps free-form pt/en trading instructions onto the loose
// intent shape. Recognition is pattern driven and ordered; the first
// matching operation wins.
package nlparse

import (
	"regexp"
	"strings"

	"intentd/intent"
	"intentd/oerr"
)

const (
	amountPat  = `([0-9]+(?:[.,][0-9]+)?)`
	assetPat   = `([A-Za-z]{2,10})`
	addressPat = `(0x[0-9a-fA-F]{40}|[1-9A-HJ-NP-Za-km-z]{32,44})`
	marketPat  = `([A-Za-z0-9]+(?:/[A-Za-z0-9]+)?)`
)

var (
	balanceRe = regexp.MustCompile(`(?i)^\s*(?:/saldo\b|saldo\b|(?:show\s+|mostre\s+o\s+)?balance\b)`)

	transferEnRe = regexp.MustCompile(`(?i)\b(?:send|transfer)\s+` + amountPat + `\s+` + assetPat + `\s+to\s+` + addressPat + `(?:\s+on\s+([a-zA-Z ]+?))?\s*$`)
	transferPtRe = regexp.MustCompile(`(?i)\b(?:envie|envia|transfira|transfere)\s+` + amountPat + `\s+` + assetPat + `\s+para\s+` + addressPat + `(?:\s+(?:na|no|em)\s+([a-zA-Z ]+?))?\s*$`)

	cancelRe = regexp.MustCompile(`(?i)\b(?:cancel(?:ar)?|cancele)\s+(?:order|ordem)\s+([0-9]+|0x[0-9a-fA-F]{32})\s+` + marketPat)
	modifyRe = regexp.MustCompile(`(?i)\b(?:modify|modifique|alterar?|altere)\s+(?:order|ordem)\s+([0-9]+|0x[0-9a-fA-F]{32})\s+` + marketPat)

	orderRe = regexp.MustCompile(`(?i)\b(buy|sell|comprar?|compre|vender?|venda)\s+` + amountPat + `\s+` + marketPat + `(?:\s+(perp|spot))?(?:\s+(?:at|a)\s+(market|mercado|[0-9]+(?:[.,][0-9]+)?))?`)

	swapRe = regexp.MustCompile(`(?i)\b(?:swap|troque|trocar|troca)\s+` + amountPat + `\s+` + assetPat + `\s+(?:for|por)\s+` + assetPat + `(?:\s+(?:on|via|em|no|na)\s+(jupiter|raydium|pumpfun))?`)

	bridgeRe = regexp.MustCompile(`(?i)\b(?:bridge|ponte|transfira|transfere|move|mova)\s+` + amountPat + `\s+` + assetPat + `\s+(?:from|de)\s+([a-zA-Z]+)\s+(?:to|para)\s+([a-zA-Z]+)(?:\s+(?:to|para)\s+` + addressPat + `)?`)

	contractRe = regexp.MustCompile(`(?i)\b(?:call|chame)\s+(0x[0-9a-fA-F]{40})\s+(?:on|em|na)\s+base\s+(?:with\s+)?(?:data|calldata|com\s+dados)\s+(0x[0-9a-fA-F]+)(?:\s+(?:with\s+)?(?:value|valor)\s+` + amountPat + `)?`)

	reduceOnlyRe = regexp.MustCompile(`(?i)\breduce[ -]only\b`)
	leverageRe   = regexp.MustCompile(`(?i)\b(?:leverage|alavancagem)\s+([0-9]+)\b`)
	slippageRe   = regexp.MustCompile(`(?i)\bslippage\s+([0-9]+)\s*bps\b|\b([0-9]+)\s*bps\s+(?:of\s+)?slippage\b`)
	tifRe        = regexp.MustCompile(`(?i)\btif\s+(alo|ioc|gtc)\b`)
	cloidRe      = regexp.MustCompile(`(?i)\bcloid\s+(0x[0-9a-fA-F]{32})\b`)
	hlVenueRe    = regexp.MustCompile(`(?i)\b(?:on|na|no|em)\s+hyperliquid\b`)

	modifyPriceRe  = regexp.MustCompile(`(?i)\b(?:price|preço|preco)\s+([0-9]+(?:[.,][0-9]+)?)`)
	modifyAmountRe = regexp.MustCompile(`(?i)\b(?:amount|size|quantidade)\s+([0-9]+(?:[.,][0-9]+)?)`)

	ptMarkerRe = regexp.MustCompile(`(?i)\b(envie|envia|transfira|transfere|para|comprar|compre|vender|venda|troque|trocar|troca|saldo|ponte|mercado|ordem|cancele|cancelar|alavancagem|valor|mova)\b`)
)

// Parse recognizes the instruction and returns the loose intent. Unmatched
// input fails with INTENT_PARSE_ERROR.
func Parse(instruction string) (*intent.Unchecked, error) {
	raw := strings.TrimSpace(instruction)
	if raw == "" {
		return nil, oerr.New("INTENT_PARSE_ERROR", "empty instruction")
	}
	u := &intent.Unchecked{Raw: raw, Language: detectLanguage(raw)}

	if balanceRe.MatchString(raw) {
		u.Action = string(intent.ActionPortfolioBalance)
		return u, nil
	}
	if m := transferEnRe.FindStringSubmatch(raw); m != nil {
		return parseTransfer(u, m)
	}
	if m := transferPtRe.FindStringSubmatch(raw); m != nil {
		return parseTransfer(u, m)
	}
	if m := cancelRe.FindStringSubmatch(raw); m != nil {
		return parseOrderRef(u, intent.ActionHlCancel, m)
	}
	if m := modifyRe.FindStringSubmatch(raw); m != nil {
		return parseOrderRef(u, intent.ActionHlModify, m)
	}
	if m := orderRe.FindStringSubmatch(raw); m != nil {
		return parseOrder(u, raw, m)
	}
	if m := swapRe.FindStringSubmatch(raw); m != nil {
		return parseSwap(u, raw, m)
	}
	if m := bridgeRe.FindStringSubmatch(raw); m != nil {
		return parseBridge(u, m)
	}
	if m := contractRe.FindStringSubmatch(raw); m != nil {
		u.Action = string(intent.ActionContractCall)
		u.Contract = m[1]
		u.Calldata = m[2]
		if m[3] != "" {
			u.Value = normalizeLocaleNumber(m[3])
		}
		return u, nil
	}
	return nil, oerr.New("INTENT_PARSE_ERROR", "unrecognized instruction")
}

func parseTransfer(u *intent.Unchecked, m []string) (*intent.Unchecked, error) {
	u.Action = string(intent.ActionTransfer)
	u.Amount = normalizeLocaleNumber(m[1])
	u.Asset = m[2]
	u.Recipient = m[3]
	if len(m) > 4 {
		u.Chain = strings.TrimSpace(m[4])
	}
	return u, nil
}

func parseOrderRef(u *intent.Unchecked, action intent.Action, m []string) (*intent.Unchecked, error) {
	u.Action = string(action)
	ref := m[1]
	if strings.HasPrefix(strings.ToLower(ref), "0x") {
		u.Cloid = ref
	} else {
		u.Oid = ref
	}
	u.Market = m[2]
	if action == intent.ActionHlModify {
		if pm := modifyPriceRe.FindStringSubmatch(u.Raw); pm != nil {
			u.Price = normalizeLocaleNumber(pm[1])
		}
		if am := modifyAmountRe.FindStringSubmatch(u.Raw); am != nil {
			u.Amount = normalizeLocaleNumber(am[1])
		}
	}
	return u, nil
}

func parseOrder(u *intent.Unchecked, raw string, m []string) (*intent.Unchecked, error) {
	u.Action = string(intent.ActionHlOrder)
	u.Side = canonicalSide(m[1])
	u.Amount = normalizeLocaleNumber(m[2])
	u.Market = m[3]
	if m[4] != "" {
		u.MarketType = strings.ToLower(m[4])
	}
	if m[5] != "" {
		price := strings.ToLower(m[5])
		if price == "market" || price == "mercado" {
			u.Price = "market"
		} else {
			u.Price = normalizeLocaleNumber(m[5])
		}
	}
	if hlVenueRe.MatchString(raw) {
		u.Venue = intent.ChainHyperliquid
	}
	applyOrderExtras(u, raw)
	return u, nil
}

func applyOrderExtras(u *intent.Unchecked, raw string) {
	if reduceOnlyRe.MatchString(raw) {
		yes := true
		u.ReduceOnly = &yes
	}
	if m := leverageRe.FindStringSubmatch(raw); m != nil {
		u.Leverage = m[1]
	}
	if m := slippageRe.FindStringSubmatch(raw); m != nil {
		if m[1] != "" {
			u.SlippageBps = m[1]
		} else {
			u.SlippageBps = m[2]
		}
	}
	if m := tifRe.FindStringSubmatch(raw); m != nil {
		u.TIF = m[1]
	}
	if m := cloidRe.FindStringSubmatch(raw); m != nil {
		u.Cloid = m[1]
	}
}

func parseSwap(u *intent.Unchecked, raw string, m []string) (*intent.Unchecked, error) {
	venue := strings.ToLower(m[4])
	switch venue {
	case "raydium":
		u.Action = string(intent.ActionSwapRaydium)
	case "pumpfun":
		u.Action = string(intent.ActionSwapPumpfun)
	default:
		u.Action = string(intent.ActionSwapJupiter)
	}
	u.Amount = normalizeLocaleNumber(m[1])
	u.AssetIn = m[2]
	u.AssetOut = m[3]
	if sm := slippageRe.FindStringSubmatch(raw); sm != nil {
		if sm[1] != "" {
			u.SlippageBps = sm[1]
		} else {
			u.SlippageBps = sm[2]
		}
	}
	return u, nil
}

func parseBridge(u *intent.Unchecked, m []string) (*intent.Unchecked, error) {
	u.Action = string(intent.ActionBridge)
	u.Amount = normalizeLocaleNumber(m[1])
	u.Asset = m[2]
	u.FromChain = m[3]
	u.ToChain = m[4]
	if m[5] != "" {
		u.Recipient = m[5]
	}
	return u, nil
}

func canonicalSide(word string) string {
	switch strings.ToLower(word) {
	case "buy", "comprar", "compra", "compre":
		return "buy"
	default:
		return "sell"
	}
}

// normalizeLocaleNumber converts pt decimal commas to dots: 0,01 -> 0.01.
func normalizeLocaleNumber(v string) string {
	if strings.Count(v, ",") == 1 && !strings.Contains(v, ".") {
		return strings.Replace(v, ",", ".", 1)
	}
	return v
}

func detectLanguage(raw string) string {
	if ptMarkerRe.MatchString(raw) {
		return "pt"
	}
	return "en"
}
