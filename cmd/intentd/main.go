package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"intentd/config"
	"intentd/connector"
	"intentd/executor"
	"intentd/gateway"
	"intentd/idempotency"
	"intentd/observability/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	logger := logging.Setup("intentd", os.Getenv("INTENTD_ENV"))

	cfg, err := config.Load(envOr("INTENTD_CONFIG", "./intentd.toml"))
	if err != nil {
		fatal("load config: %v", err)
	}
	secrets, err := config.SecretsFromEnv()
	if err != nil {
		fatal("load secrets: %v", err)
	}
	exec := executor.Bootstrap(cfg, secrets, loadQuotes(), logger)

	switch os.Args[1] {
	case "run":
		if len(os.Args) < 3 {
			fatal("usage: intentd run <instruction> [--live]")
		}
		res := exec.RunInstruction(context.Background(), os.Args[2], !hasFlag("--live"))
		printResult(res)
	case "exec":
		if len(os.Args) < 3 {
			fatal("usage: intentd exec <payload.json> [--live]")
		}
		raw, err := os.ReadFile(os.Args[2])
		if err != nil {
			fatal("read payload: %v", err)
		}
		res := exec.RunExecutionPayload(context.Background(), raw, !hasFlag("--live"))
		printResult(res)
	case "serve":
		serve(cfg, exec, logger)
	case "state-gc":
		ttlDays := 7
		if len(os.Args) > 2 {
			if parsed, err := strconv.Atoi(os.Args[2]); err == nil {
				ttlDays = parsed
			}
		}
		store := idempotency.New(cfg.StatePath("idempotency.json"), cfg.LockTimeout(), cfg.LockStale())
		removed, err := store.CleanupExpired(ttlDays)
		if err != nil {
			fatal("cleanup: %v", err)
		}
		fmt.Printf("removed %d expired idempotency records\n", removed)
	default:
		printUsage()
		os.Exit(2)
	}
}

func serve(cfg *config.Config, exec *executor.Executor, logger *slog.Logger) {
	limiter := gateway.NewRateLimiter(5, 10)
	server := gateway.NewServer(exec, limiter, logger)
	srv := &http.Server{Addr: cfg.ListenAddress, Handler: server}

	go func() {
		logger.Info("gateway listening", "addr", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down gateway")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// loadQuotes reads an optional static quote map for dry-run hydration, e.g.
// {"BTC": "50000"}.
func loadQuotes() connector.QuoteSource {
	path := envOr("INTENTD_QUOTES_JSON", "")
	if path == "" {
		return connector.StaticQuotes{}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		fatal("read quotes: %v", err)
	}
	quotes := connector.StaticQuotes{}
	if err := json.Unmarshal(raw, &quotes); err != nil {
		fatal("parse quotes: %v", err)
	}
	return quotes
}

func printResult(res *executor.Result) {
	encoded, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		fatal("encode result: %v", err)
	}
	fmt.Println(string(encoded))
	if !res.OK {
		os.Exit(1)
	}
}

func hasFlag(flag string) bool {
	for _, arg := range os.Args[2:] {
		if arg == flag {
			return true
		}
	}
	return false
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func printUsage() {
	fmt.Println(`usage: intentd <command>

commands:
  run <instruction> [--live]   execute a natural-language instruction
  exec <payload.json> [--live] execute a signed execution-plane payload
  serve                        start the execution-plane HTTP gateway
  state-gc [ttlDays]           drop expired idempotency records`)
}
