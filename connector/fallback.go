package connector

import (
	"context"
	"strconv"
	"strings"

	"intentd/intent"
	"intentd/oerr"
)

// Fallback attributes attached to a report that was served by Raydium after
// a Jupiter network failure.
type FallbackInfo struct {
	From   string `json:"from"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// JupiterWithFallback decorates the Jupiter connector: when Jupiter fails
// with a network-class error, the same intent is re-dispatched to Raydium
// and the report carries a fallback record. Policy/plan still see the
// original action.
type JupiterWithFallback struct {
	jupiter Connector
	raydium Connector
}

func NewJupiterWithFallback(jupiter, raydium Connector) *JupiterWithFallback {
	return &JupiterWithFallback{jupiter: jupiter, raydium: raydium}
}

func (j *JupiterWithFallback) Name() string { return j.jupiter.Name() }

func (j *JupiterWithFallback) Preflight(ctx context.Context, c *intent.Canonical) (*PreflightReport, error) {
	report, err := j.jupiter.Preflight(ctx, c)
	if err == nil {
		return report, nil
	}
	reason, ok := classifyNetworkError(err)
	if !ok {
		return nil, err
	}
	fallbackReport, fbErr := j.raydium.Preflight(ctx, rerouted(c))
	if fbErr != nil {
		return nil, err
	}
	attachFallback(&fallbackReport.Details, reason, err)
	return fallbackReport, nil
}

func (j *JupiterWithFallback) Execute(ctx context.Context, c *intent.Canonical, rc RunContext) (*ExecutionReport, error) {
	report, err := j.jupiter.Execute(ctx, c, rc)
	if err == nil {
		return report, nil
	}
	reason, ok := classifyNetworkError(err)
	if !ok {
		return nil, err
	}
	fallbackReport, fbErr := j.raydium.Execute(ctx, rerouted(c), rc)
	if fbErr != nil {
		return nil, err
	}
	attachFallback(&fallbackReport.Details, reason, err)
	return fallbackReport, nil
}

func rerouted(c *intent.Canonical) *intent.Canonical {
	clone := c.Clone()
	clone.Action = intent.ActionSwapRaydium
	return clone
}

func attachFallback(details *map[string]any, reason string, cause error) {
	if *details == nil {
		*details = map[string]any{}
	}
	(*details)["fallback"] = FallbackInfo{
		From:   "jupiter",
		Reason: reason,
		Detail: oerr.From(cause).Message,
	}
}

// classifyNetworkError decides whether a Jupiter failure warrants the
// Raydium reroute: preflight/execution failures whose message indicates a
// network condition, or HTTP errors with a retryable status.
func classifyNetworkError(err error) (string, bool) {
	coded := oerr.From(err)
	switch coded.Code {
	case "JUPITER_PREFLIGHT_FAILED", "JUPITER_EXECUTION_FAILED":
		if messageIndicatesNetwork(coded.Message) {
			return "network", true
		}
	case "JUPITER_HTTP_ERROR":
		if status, ok := httpStatus(coded); ok && retryableStatus(status) {
			return "http_" + strconv.Itoa(status), true
		}
	}
	return "", false
}

func messageIndicatesNetwork(message string) bool {
	lowered := strings.ToLower(message)
	for _, marker := range []string{
		"timeout", "timed out", "network", "connection", "econnreset",
		"econnrefused", "socket", "unreachable", "dns", "tls",
	} {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

func httpStatus(coded *oerr.E) (int, bool) {
	switch v := coded.Details["status"].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func retryableStatus(status int) bool {
	switch status {
	case 408, 425, 429:
		return true
	}
	return status >= 500 && status <= 599
}
