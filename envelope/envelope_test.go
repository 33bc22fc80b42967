package envelope

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"intentd/intent"
	"intentd/oerr"
)

func validTransferPayload() map[string]any {
	return map[string]any{
		"schemaVersion": "v1",
		"plane":         "execution",
		"operation":     "transfer",
		"requestId":     "req-000001",
		"correlationId": "corr-000001",
		"dryRun":        true,
		"intent": map[string]any{
			"amount":    "0.001",
			"asset":     "ETH",
			"recipient": "0x000000000000000000000000000000000000dEaD",
			"chain":     "base",
		},
	}
}

func TestParseValidTransfer(t *testing.T) {
	raw, err := json.Marshal(validTransferPayload())
	require.NoError(t, err)

	parsed, err := Parse(raw, time.Now())
	require.NoError(t, err)
	require.Equal(t, "transfer", parsed.Envelope.Operation)
	require.True(t, parsed.Envelope.DryRun)
	require.Equal(t, intent.ActionTransfer, parsed.Canonical.Action)
	require.Equal(t, "base", parsed.Canonical.Chain)
	require.Equal(t, "0.001", parsed.Canonical.Amount)
	require.Nil(t, parsed.Mention)
}

func TestParseRejectsBadEnvelope(t *testing.T) {
	payload := validTransferPayload()
	payload["plane"] = "control"
	payload["requestId"] = "x"
	payload["extraneous"] = 1
	raw, _ := json.Marshal(payload)

	_, err := Parse(raw, time.Now())
	coded := oerr.From(err)
	require.Equal(t, "EXECUTION_SCHEMA_INVALID", coded.Code)
	errs := coded.Details["errors"].([]string)
	require.GreaterOrEqual(t, len(errs), 3)
}

func TestParseUnknownOperation(t *testing.T) {
	payload := validTransferPayload()
	payload["operation"] = "yeet"
	raw, _ := json.Marshal(payload)
	_, err := Parse(raw, time.Now())
	require.Equal(t, "EXECUTION_OPERATION_UNKNOWN", oerr.From(err).Code)
}

func TestParseRejectsUnknownIntentField(t *testing.T) {
	payload := validTransferPayload()
	payload["intent"].(map[string]any)["memo"] = "hello"
	raw, _ := json.Marshal(payload)
	_, err := Parse(raw, time.Now())
	require.Equal(t, "EXECUTION_SCHEMA_INVALID", oerr.From(err).Code)
}

func TestParseRejectsMissingRequiredField(t *testing.T) {
	payload := validTransferPayload()
	delete(payload["intent"].(map[string]any), "recipient")
	raw, _ := json.Marshal(payload)
	_, err := Parse(raw, time.Now())
	require.Equal(t, "EXECUTION_SCHEMA_INVALID", oerr.From(err).Code)
}

func TestParseBpsBounds(t *testing.T) {
	payload := validTransferPayload()
	payload["operation"] = "swap_jupiter"
	payload["intent"] = map[string]any{
		"amount":      "1",
		"assetIn":     "SOL",
		"assetOut":    "USDC",
		"slippageBps": 10001,
	}
	raw, _ := json.Marshal(payload)
	_, err := Parse(raw, time.Now())
	require.Equal(t, "EXECUTION_SCHEMA_INVALID", oerr.From(err).Code)
}

func TestParseNumberAmountSurvivesCanonicalization(t *testing.T) {
	payload := validTransferPayload()
	payload["intent"].(map[string]any)["amount"] = 0.001
	raw, _ := json.Marshal(payload)
	parsed, err := Parse(raw, time.Now())
	require.NoError(t, err)
	require.Equal(t, "0.001", parsed.Canonical.Amount)
}

func TestParseNormalizationErrorsKeepTheirCodes(t *testing.T) {
	payload := validTransferPayload()
	payload["intent"].(map[string]any)["amount"] = "0"
	raw, _ := json.Marshal(payload)
	_, err := Parse(raw, time.Now())
	require.Equal(t, "INVALID_AMOUNT", oerr.From(err).Code)
}

func TestParseHlOrderEnvelope(t *testing.T) {
	payload := map[string]any{
		"schemaVersion": "v1",
		"plane":         "execution",
		"operation":     "hl_order",
		"requestId":     "req-hl-0001",
		"correlationId": "corr-hl-0001",
		"dryRun":        true,
		"intent": map[string]any{
			"side":        "buy",
			"amount":      "0.001",
			"market":      "BTC",
			"marketType":  "perp",
			"price":       "market",
			"slippageBps": 50,
			"reduceOnly":  false,
		},
	}
	raw, _ := json.Marshal(payload)
	parsed, err := Parse(raw, time.Now())
	require.NoError(t, err)
	require.True(t, parsed.Canonical.IsMarketOrder())
	require.Equal(t, "50", parsed.Canonical.SlippageBps)
}

func TestParseGatedMentionDelegation(t *testing.T) {
	now := time.Now()
	payload := validTransferPayload()
	payload["meta"] = map[string]any{
		"mentionDelegationMode": "gated",
		"mentionDelegation": map[string]any{
			"channel":     "discord:thread:987654321",
			"messageId":   "1473395000000000777",
			"originBotId": "decision-router",
			"targetBotId": "execution-operator",
			"dedupeBy":    "messageId",
			"ttlSeconds":  300,
			"observedAt":  now.UTC().Format(time.RFC3339),
			"delegatedHumanProxy": map[string]any{
				"mode":              "delegated-human-proxy",
				"policyValidated":   true,
				"envelopeValidated": true,
				"riskGatePassed":    true,
			},
		},
	}
	raw, _ := json.Marshal(payload)
	parsed, err := Parse(raw, now)
	require.NoError(t, err)
	require.NotNil(t, parsed.Mention)
	require.Equal(t, "1473395000000000777", parsed.Mention.MessageID)

	payload["meta"].(map[string]any)["mentionDelegation"].(map[string]any)["targetBotId"] = "decision-router"
	raw, _ = json.Marshal(payload)
	_, err = Parse(raw, now)
	require.Equal(t, "EXECUTION_MENTION_DELEGATION_LOOP", oerr.From(err).Code)
}

func TestParseGatedModeWithoutDelegationObject(t *testing.T) {
	payload := validTransferPayload()
	payload["meta"] = map[string]any{"mentionDelegationMode": "gated"}
	raw, _ := json.Marshal(payload)
	_, err := Parse(raw, time.Now())
	require.Equal(t, "EXECUTION_MENTION_DELEGATION_INVALID", oerr.From(err).Code)
}
