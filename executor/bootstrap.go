package executor

import (
	"log/slog"

	"intentd/a2a"
	"intentd/audit"
	"intentd/breaker"
	"intentd/config"
	"intentd/connector"
	"intentd/hlnonce"
	"intentd/idempotency"
	"intentd/mention"
	"intentd/observability/metrics"
)

// Bootstrap assembles a fully wired executor from configuration: the
// file-backed stores under cfg.StateDir, the default connector set and the
// A2A verifier from the environment secrets.
func Bootstrap(cfg *config.Config, secrets *config.Secrets, quotes connector.QuoteSource, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if quotes == nil {
		quotes = connector.StaticQuotes{}
	}

	nonces := hlnonce.New(cfg.StatePath("hyperliquid-nonce.json"), cfg.LockTimeout(), cfg.LockStale())

	registry := connector.NewRegistry()
	registry.Register(connector.NewEVM("base", quotes))
	registry.Register(connector.NewEVM("arbitrum", quotes))
	registry.Register(connector.NewSolana(quotes))
	registry.Register(connector.NewHyperliquid(secrets.HyperliquidAccount, nonces, quotes))
	registry.Register(connector.NewJupiterWithFallback(
		connector.NewJupiter(quotes),
		connector.NewRaydium(quotes),
	))
	registry.Register(connector.NewRaydium(quotes))
	registry.Register(connector.NewPumpfun(quotes))

	replay := a2a.NewReplayStore(cfg.StatePath("a2a-nonce.json"), cfg.LockTimeout(), cfg.LockStale())
	verifier := a2a.NewVerifier(replay, a2a.Options{
		Mode:              secrets.A2ASecurityMode,
		Keyring:           secrets.A2AKeyring,
		MaxSkew:           cfg.A2AMaxSkew(),
		AllowUnsignedLive: secrets.A2AAllowUnsignedLive,
		Logger:            logger,
	})

	return New(Options{
		PolicyPath:    cfg.PolicyPath,
		Secrets:       secrets,
		Registry:      registry,
		Audit:         audit.New(cfg.StatePath("audit.jsonl")),
		Idempotency:   idempotency.New(cfg.StatePath("idempotency.json"), cfg.LockTimeout(), cfg.LockStale()),
		Breaker:       breaker.New(cfg.StatePath("circuit-breaker.json"), cfg.LockTimeout(), cfg.LockStale()),
		Verifier:      verifier,
		MentionDedupe: mention.NewDeduper(cfg.StatePath("mention-delegation-dedupe.json"), mention.DefaultLockTimeout, mention.DefaultLockStale),
		Logger:        logger,
		Metrics:       metrics.Pipeline(),
	})
}
