// Package connector defines the capability surface the executor requires
// from every venue, plus the in-process connectors that implement it as
// deterministic preflight simulators. Real RPC construction and signing
// live behind this surface and are out of the operator's scope.
package connector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"intentd/intent"
	"intentd/oerr"
	"intentd/policy"
)

// RunContext identifies the run a dispatch belongs to.
type RunContext struct {
	RunID          string
	IdempotencyKey string
}

// PreflightReport is the structured outcome of a dry-run simulation.
type PreflightReport struct {
	Connector string         `json:"connector"`
	Operation string         `json:"operation"`
	Ok        bool           `json:"ok"`
	Summary   string         `json:"summary,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// ExecutionReport is the structured outcome of a live dispatch. The
// executor serializes it into the audit log without interpreting it.
type ExecutionReport struct {
	Connector string         `json:"connector"`
	Operation string         `json:"operation"`
	Status    string         `json:"status"`
	TxHash    string         `json:"txHash,omitempty"`
	OrderID   string         `json:"orderId,omitempty"`
	Nonce     int64          `json:"nonce,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Connector is the trait surface every venue implements.
type Connector interface {
	Name() string
	Preflight(ctx context.Context, c *intent.Canonical) (*PreflightReport, error)
	Execute(ctx context.Context, c *intent.Canonical, rc RunContext) (*ExecutionReport, error)
}

// Enricher is the additional surface Hyperliquid connectors expose so the
// executor can hydrate market orders before policy evaluation.
type Enricher interface {
	EnrichIntentForPolicy(c *intent.Canonical, doc *policy.Document) (*intent.Canonical, error)
	Info(ctx context.Context, query string) (map[string]any, error)
}

// QuoteSource supplies venue mid prices for hydration and balance
// mark-to-market.
type QuoteSource interface {
	Mid(market string) (string, bool)
}

// StaticQuotes is a fixed QuoteSource, used for dry runs and tests.
type StaticQuotes map[string]string

func (q StaticQuotes) Mid(market string) (string, bool) {
	mid, ok := q[strings.ToUpper(market)]
	return mid, ok
}

// Registry resolves connectors by name. Registration happens at process
// start; resolution is read-mostly.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]Connector
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Connector)}
}

// Register binds c under its own name, replacing any previous binding.
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[c.Name()] = c
}

// Resolve returns the connector registered under name.
func (r *Registry) Resolve(name string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[name]
	if !ok {
		return nil, oerr.New("CONNECTOR_NOT_FOUND", "no connector registered for %q", name)
	}
	return c, nil
}

// pseudoHash derives a deterministic 32-byte identifier for simulated
// submissions.
func pseudoHash(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return "0x" + hex.EncodeToString(sum[:])
}

func reportDetail(kv ...any) map[string]any {
	details := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		details[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return details
}
