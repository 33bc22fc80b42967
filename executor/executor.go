// Package executor binds the intent pipeline: normalization, A2A security,
// mention gating, policy, planning, idempotency, circuit breaking and
// connector dispatch. Errors never escape the public entry points; every
// run resolves to a Result.
package executor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"intentd/a2a"
	"intentd/audit"
	"intentd/breaker"
	"intentd/config"
	"intentd/connector"
	"intentd/envelope"
	"intentd/idempotency"
	"intentd/intent"
	"intentd/mention"
	"intentd/nlparse"
	"intentd/observability/logging"
	"intentd/oerr"
	"intentd/plan"
	"intentd/policy"
)

// Sources a run can originate from.
const (
	SourceInstruction    = "instruction"
	SourceNative         = "native_command"
	SourceExecutionPlane = "execution_plane"
)

// ErrorShape is the public failure representation.
type ErrorShape struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ExecutionPlaneInfo is recorded for execution-plane runs.
type ExecutionPlaneInfo struct {
	RequestID         string              `json:"requestId"`
	CorrelationID     string              `json:"correlationId"`
	Security          *a2a.Result         `json:"security,omitempty"`
	MentionDelegation *mention.Delegation `json:"mentionDelegation,omitempty"`
}

// Result is the public pipeline return. OK=false carries Error; the
// executor never panics or returns a Go error across this boundary.
type Result struct {
	OK              bool                `json:"ok"`
	RunID           string              `json:"runId"`
	Source          string              `json:"source"`
	DryRun          bool                `json:"dryRun"`
	IdempotencyKey  string              `json:"idempotencyKey,omitempty"`
	ExecutionPlane  *ExecutionPlaneInfo `json:"executionPlane,omitempty"`
	Intent          *intent.Canonical   `json:"intent,omitempty"`
	CanonicalIntent *intent.Canonical   `json:"canonicalIntent,omitempty"`
	Plan            *plan.Plan          `json:"plan,omitempty"`
	ExecResult      any                 `json:"result,omitempty"`
	Error           *ErrorShape         `json:"error,omitempty"`
}

// Metrics is the observability surface the executor reports into.
type Metrics interface {
	RunStarted(source string)
	RunCompleted(action, mode string)
	RunFailed(code string)
	FallbackTaken()
	BreakerRejected()
	ObserveConnector(connector string, elapsed time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RunStarted(string)                        {}
func (noopMetrics) RunCompleted(string, string)              {}
func (noopMetrics) RunFailed(string)                         {}
func (noopMetrics) FallbackTaken()                           {}
func (noopMetrics) BreakerRejected()                         {}
func (noopMetrics) ObserveConnector(string, time.Duration)   {}

// Options wires the executor's collaborators.
type Options struct {
	PolicyPath    string
	Secrets       *config.Secrets
	Registry      *connector.Registry
	Audit         *audit.Log
	Idempotency   *idempotency.Store
	Breaker       *breaker.Breaker
	Verifier      *a2a.Verifier
	MentionDedupe *mention.Deduper
	Logger        *slog.Logger
	Metrics       Metrics
}

// Executor drives runs through the pipeline.
type Executor struct {
	policyPath    string
	secrets       *config.Secrets
	registry      *connector.Registry
	audit         *audit.Log
	idempotency   *idempotency.Store
	breaker       *breaker.Breaker
	verifier      *a2a.Verifier
	mentionDedupe *mention.Deduper
	logger        *slog.Logger
	metrics       Metrics
	nowFn         func() time.Time
	randFn        func() string
}

func New(opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	secrets := opts.Secrets
	if secrets == nil {
		secrets = &config.Secrets{}
	}
	return &Executor{
		policyPath:    opts.PolicyPath,
		secrets:       secrets,
		registry:      opts.Registry,
		audit:         opts.Audit,
		idempotency:   opts.Idempotency,
		breaker:       opts.Breaker,
		verifier:      opts.Verifier,
		mentionDedupe: opts.MentionDedupe,
		logger:        logger,
		metrics:       metrics,
		nowFn:         time.Now,
		randFn:        randHex,
	}
}

func randHex() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func (e *Executor) newRunID() string {
	return fmt.Sprintf("run_%d_%s", e.nowFn().UnixMilli(), e.randFn())
}

// RunInstruction drives a free-text control-plane instruction.
func (e *Executor) RunInstruction(ctx context.Context, instruction string, dryRun bool) *Result {
	runID := e.newRunID()
	e.metrics.RunStarted(SourceInstruction)
	res := &Result{RunID: runID, Source: SourceInstruction}

	unchecked, err := nlparse.Parse(instruction)
	if err != nil {
		return e.fail(res, err, failureOpts{})
	}
	e.emit(runID, "intent.parsed", map[string]any{
		"action":   unchecked.Action,
		"language": unchecked.Language,
	})
	canonical, err := intent.Normalize(unchecked)
	if err != nil {
		return e.fail(res, err, failureOpts{})
	}
	e.emit(runID, "intent.normalized", canonical)
	return e.runIntentPipeline(ctx, res, canonical, dryRun)
}

// RunNativeCommand drives an already-shaped loose intent (the thin CLI's
// structured subcommands).
func (e *Executor) RunNativeCommand(ctx context.Context, unchecked *intent.Unchecked, dryRun bool) *Result {
	runID := e.newRunID()
	e.metrics.RunStarted(SourceNative)
	res := &Result{RunID: runID, Source: SourceNative}

	canonical, err := intent.Normalize(unchecked)
	if err != nil {
		return e.fail(res, err, failureOpts{})
	}
	e.emit(runID, "intent.normalized", canonical)
	return e.runIntentPipeline(ctx, res, canonical, dryRun)
}

// RunExecutionPayload drives a signed execution-plane envelope through
// validation, A2A security and the mention gate before the shared pipeline.
func (e *Executor) RunExecutionPayload(ctx context.Context, raw []byte, dryRunOverride bool) *Result {
	runID := e.newRunID()
	e.metrics.RunStarted(SourceExecutionPlane)
	res := &Result{RunID: runID, Source: SourceExecutionPlane}

	now := e.nowFn()
	parsed, err := envelope.Parse(raw, now)
	if err != nil {
		return e.fail(res, err, failureOpts{})
	}
	env := parsed.Envelope
	argDryRun := env.DryRun || dryRunOverride

	info := &ExecutionPlaneInfo{
		RequestID:     env.RequestID,
		CorrelationID: env.CorrelationID,
	}
	res.ExecutionPlane = info

	security, err := e.verifier.Verify(parsed.Payload, argDryRun)
	if err != nil {
		return e.fail(res, err, failureOpts{})
	}
	info.Security = security

	if parsed.Mention != nil {
		if err := e.mentionDedupe.Register(parsed.Mention); err != nil {
			return e.fail(res, err, failureOpts{})
		}
		info.MentionDelegation = parsed.Mention
	}

	e.emit(runID, "execution_plane.received", map[string]any{
		"requestId":     env.RequestID,
		"correlationId": env.CorrelationID,
		"operation":     env.Operation,
		"security":      security,
	})
	e.emit(runID, "intent.normalized", parsed.Canonical)

	if env.IdempotencyKey != "" {
		res.IdempotencyKey = env.IdempotencyKey
	}
	return e.runIntentPipeline(ctx, res, parsed.Canonical, argDryRun)
}

// runIntentPipeline is the shared tail of every entry point: policy,
// hydration, plan, safety gates, dispatch, persistence.
func (e *Executor) runIntentPipeline(ctx context.Context, res *Result, canonical *intent.Canonical, argDryRun bool) *Result {
	runID := res.RunID
	res.CanonicalIntent = canonical
	res.Intent = canonical

	doc, err := policy.Load(e.policyPath)
	if err != nil {
		return e.fail(res, err, failureOpts{})
	}

	// Hydrate and enrich before policy so notional and slippage caps see
	// the effective order. The fingerprint below is taken over the ORIGINAL
	// canonical intent so venue price drift never shifts the key.
	effective := canonical
	if enricher := e.enricherFor(canonical); enricher != nil {
		enriched, err := enricher.EnrichIntentForPolicy(canonical, doc)
		if err != nil {
			return e.fail(res, err, failureOpts{})
		}
		if *enriched != *canonical {
			effective = enriched
			e.emit(runID, "intent.policy_enriched", effective)
		}
	}
	res.Intent = effective

	effectiveDryRun := argDryRun || doc.Execution.DefaultDryRun
	res.DryRun = effectiveDryRun

	evaluation, err := policy.Evaluate(doc, effective)
	if err != nil {
		return e.fail(res, err, failureOpts{})
	}
	e.emit(runID, "policy.checked", evaluation)

	builtPlan := plan.Build(effective, effectiveDryRun)
	res.Plan = builtPlan
	e.emit(runID, "plan.generated", builtPlan)

	if res.IdempotencyKey == "" {
		key, err := idempotency.Compute(canonical, doc.Version)
		if err != nil {
			return e.fail(res, err, failureOpts{})
		}
		res.IdempotencyKey = key
	}

	liveWrite := !effectiveDryRun && !canonical.Action.IsRead()
	failOpts := failureOpts{}

	if liveWrite {
		if err := e.assertKeySegregation(doc); err != nil {
			return e.fail(res, err, failOpts)
		}
		if err := e.breaker.AssertCanExecute(breakerConfig(doc)); err != nil {
			e.metrics.BreakerRejected()
			return e.fail(res, err, failOpts)
		}
		record, err := e.idempotency.Get(res.IdempotencyKey)
		if err != nil {
			return e.fail(res, err, failOpts)
		}
		if record != nil && (record.Status == idempotency.StatusSuccess || record.Status == idempotency.StatusPending) {
			return e.fail(res, oerr.New("IDEMPOTENCY_DUPLICATE", "intent already %s under run %s", record.Status, record.RunID).
				With("status", record.Status).With("priorRunId", record.RunID), failOpts)
		}
		if err := e.idempotency.MarkPending(res.IdempotencyKey, runID); err != nil {
			return e.fail(res, err, failOpts)
		}
		// From here on failures are execution failures: they mark the key
		// failed and count against the circuit breaker.
		failOpts = failureOpts{markFailure: true, registerFailure: true, doc: doc}
	}

	report, err := e.dispatch(ctx, effective, connector.RunContext{
		RunID:          runID,
		IdempotencyKey: res.IdempotencyKey,
	}, effectiveDryRun)
	if err != nil {
		return e.fail(res, err, failOpts)
	}
	res.ExecResult = report

	if liveWrite {
		runLog := logging.RunLogger(e.logger, runID, res.Source)
		if err := e.idempotency.MarkSuccess(res.IdempotencyKey, runID, report); err != nil {
			runLog.Error("idempotency success mark failed", "error", err.Error())
		}
		if err := e.breaker.RegisterSuccess(breakerConfig(doc)); err != nil {
			runLog.Error("circuit breaker success registration failed", "error", err.Error())
		}
	}

	e.emit(runID, "execution.completed", map[string]any{
		"dryRun": effectiveDryRun,
		"action": string(canonical.Action),
	})
	e.metrics.RunCompleted(string(canonical.Action), builtPlan.Mode)
	res.OK = true
	return res
}

// dispatch resolves the connector and runs preflight (always) and execute
// (live only). Read actions resolve to a preflight-style fetch.
func (e *Executor) dispatch(ctx context.Context, c *intent.Canonical, rc connector.RunContext, dryRun bool) (any, error) {
	name := plan.ConnectorFor(c)
	conn, err := e.registry.Resolve(name)
	if err != nil {
		return nil, err
	}
	started := e.nowFn()
	defer func() { e.metrics.ObserveConnector(name, e.nowFn().Sub(started)) }()

	preflight, err := conn.Preflight(ctx, c)
	if err != nil {
		return nil, err
	}
	if dryRun || c.Action.IsRead() {
		return preflight, nil
	}
	report, err := conn.Execute(ctx, c, rc)
	if err != nil {
		return nil, err
	}
	if _, ok := report.Details["fallback"]; ok {
		e.metrics.FallbackTaken()
		e.emit(rc.RunID, "execution.fallback", report.Details["fallback"])
	}
	return report, nil
}

func (e *Executor) enricherFor(c *intent.Canonical) connector.Enricher {
	if !c.Action.IsHyperliquid() {
		return nil
	}
	conn, err := e.registry.Resolve(intent.ChainHyperliquid)
	if err != nil {
		return nil
	}
	enricher, ok := conn.(connector.Enricher)
	if !ok {
		return nil
	}
	return enricher
}

// assertKeySegregation checks that all three wallet keys are configured and
// that the Base and Hyperliquid signers are distinct keys.
func (e *Executor) assertKeySegregation(doc *policy.Document) error {
	if !doc.Execution.RequireKeySegregation {
		return nil
	}
	s := e.secrets
	if s.BasePrivateKey == "" || !s.SolanaConfigured() || s.HyperliquidPrivateKey == "" {
		return oerr.New("KEY_SEGREGATION_KEYS_MISSING", "base, solana and hyperliquid wallet keys must all be configured")
	}
	if normalizeHexKey(s.BasePrivateKey) == normalizeHexKey(s.HyperliquidPrivateKey) {
		return oerr.New("KEY_SEGREGATION_VIOLATION", "base and hyperliquid must not share a signing key")
	}
	return nil
}

func normalizeHexKey(key string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(key), "0x"))
}

func breakerConfig(doc *policy.Document) breaker.Config {
	enabled, maxFailures, windowSec, cooldownSec := doc.BreakerConfig()
	return breaker.Config{
		Enabled:     enabled,
		MaxFailures: maxFailures,
		WindowSec:   windowSec,
		CooldownSec: cooldownSec,
	}
}

type failureOpts struct {
	markFailure     bool
	registerFailure bool
	doc             *policy.Document
}

// fail converts any error to the public failure shape, emits the audit
// event and updates persistent failure state when the run had passed the
// live-write gates.
func (e *Executor) fail(res *Result, err error, opts failureOpts) *Result {
	coded := oerr.From(err)
	res.OK = false
	res.Error = &ErrorShape{Code: coded.Code, Message: coded.Message, Details: coded.Details}

	e.emit(res.RunID, "execution.failed", map[string]any{
		"code":    coded.Code,
		"message": coded.Message,
	})
	e.metrics.RunFailed(coded.Code)
	runLog := logging.RunLogger(e.logger, res.RunID, res.Source)
	runLog.Warn("run failed", "code", coded.Code)

	if opts.markFailure && res.IdempotencyKey != "" {
		if markErr := e.idempotency.MarkFailure(res.IdempotencyKey, res.RunID, res.Error); markErr != nil {
			runLog.Error("idempotency failure mark failed", "error", markErr.Error())
		}
	}
	if opts.registerFailure && opts.doc != nil {
		info := breaker.ErrorInfo{Code: coded.Code, Message: coded.Message}
		if regErr := e.breaker.RegisterFailure(breakerConfig(opts.doc), info); regErr != nil {
			runLog.Error("circuit breaker failure registration failed", "error", regErr.Error())
		}
	}
	return res
}

func (e *Executor) emit(runID, event string, data any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Append(runID, event, data); err != nil {
		e.logger.Error("audit append failed", "runId", runID, "error", err.Error())
	}
}
