// Package plan renders the ordered step list for a canonical intent. The
// plan is advisory: the executor drives connectors itself, but the plan is
// emitted as an audit artifact and mirrors what the executor will do.
package plan

import (
	"intentd/intent"
)

// Step is one pipeline stage attributed to a connector.
type Step struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Connector string `json:"connector,omitempty"`
}

// Plan is the ordered step list for one run.
type Plan struct {
	Mode  string `json:"mode"`
	Steps []Step `json:"steps"`
}

// Build produces the plan. Every plan begins with validate-policy; reads
// add the balance pipeline; writes add a preflight and, when live, an
// execute step.
func Build(c *intent.Canonical, dryRun bool) *Plan {
	mode := "live"
	if dryRun {
		mode = "dry-run"
	}
	p := &Plan{Mode: mode}
	p.Steps = append(p.Steps, Step{ID: "validate-policy", Type: "policy"})

	if c.Action.IsRead() {
		p.Steps = append(p.Steps,
			Step{ID: "fetch-balances", Type: "read", Connector: ConnectorFor(c)},
			Step{ID: "mark-to-market", Type: "read"},
			Step{ID: "format-discord-response", Type: "report"},
		)
		return p
	}

	op := string(c.Action)
	connector := ConnectorFor(c)
	p.Steps = append(p.Steps, Step{ID: "preflight-" + op, Type: "preflight", Connector: connector})
	if !dryRun {
		executeConnector := connector
		if c.Action == intent.ActionBridge {
			executeConnector = c.FromChain
		}
		p.Steps = append(p.Steps, Step{ID: "execute-" + op, Type: "execute", Connector: executeConnector})
	}
	return p
}

// ConnectorFor names the connector a canonical intent dispatches to.
func ConnectorFor(c *intent.Canonical) string {
	switch {
	case c.Action.IsHyperliquid():
		return intent.ChainHyperliquid
	case c.Action == intent.ActionSwapJupiter:
		return "jupiter"
	case c.Action == intent.ActionSwapRaydium:
		return "raydium"
	case c.Action == intent.ActionSwapPumpfun:
		return "pumpfun"
	case c.Action == intent.ActionBridge:
		return c.FromChain
	case c.Chain != "":
		return c.Chain
	}
	return intent.ChainBase
}
