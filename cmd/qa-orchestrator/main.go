// Command qa-orchestrator runs one query through the QA orchestration
// engine and prints the resulting answer, grounded on the teacher's
// example commands (examples/multi-llm-review/main.go's flag parsing
// and config-loading shape, examples/prometheus_monitoring/main.go's
// promhttp.Handler wiring for the optional metrics endpoint).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/qa-orchestrator/internal/analyzer"
	"github.com/dshills/qa-orchestrator/internal/cache"
	"github.com/dshills/qa-orchestrator/internal/config"
	"github.com/dshills/qa-orchestrator/internal/domain"
	"github.com/dshills/qa-orchestrator/internal/engine"
	"github.com/dshills/qa-orchestrator/internal/evaluator"
	"github.com/dshills/qa-orchestrator/internal/llm"
	"github.com/dshills/qa-orchestrator/internal/llm/anthropic"
	"github.com/dshills/qa-orchestrator/internal/llm/google"
	"github.com/dshills/qa-orchestrator/internal/llm/openai"
	"github.com/dshills/qa-orchestrator/internal/metrics"
	"github.com/dshills/qa-orchestrator/internal/observability"
	"github.com/dshills/qa-orchestrator/internal/planner"
	"github.com/dshills/qa-orchestrator/internal/scheduler"
	"github.com/dshills/qa-orchestrator/internal/statestore"
	"github.com/dshills/qa-orchestrator/internal/statestore/memory"
	"github.com/dshills/qa-orchestrator/internal/statestore/mysql"
	"github.com/dshills/qa-orchestrator/internal/statestore/sqlite"
	"github.com/dshills/qa-orchestrator/internal/synthesizer"
	"github.com/dshills/qa-orchestrator/internal/worker"
	"github.com/dshills/qa-orchestrator/internal/worker/finance"
	"github.com/dshills/qa-orchestrator/internal/worker/legal"
	"github.com/dshills/qa-orchestrator/internal/worker/location"
	"github.com/dshills/qa-orchestrator/internal/worker/pricesearch"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to a YAML configuration file (defaults built in if empty)")
		query       = flag.String("query", "", "the question to ask (required)")
		threadID    = flag.String("thread-id", "", "thread id to resume or create (random if empty)")
		sessionID   = flag.String("session-id", "", "session id for the thread (random if empty)")
		userID      = flag.String("user-id", "anonymous", "user id recorded on the context carrier")
		metricsAddr = flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")
		jsonOutput  = flag.Bool("json", false, "print the full RunState as JSON instead of just the answer")
	)
	flag.Parse()

	if *query == "" {
		fmt.Fprintln(os.Stderr, "Error: -query is required")
		os.Exit(1)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if *threadID == "" {
		*threadID = uuid.NewString()
	}
	if *sessionID == "" {
		*sessionID = uuid.NewString()
	}

	reg := buildRegistry()

	store, err := buildStore(cfg.StateStore)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening state store: %v\n", err)
		os.Exit(1)
	}

	client := buildLLMClient(cfg.LLM)

	mtr := metrics.New(nil)
	if *metricsAddr != "" {
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server stopped: %v\n", err)
			}
		}()
	}

	eng, err := engine.New(engine.Config{
		Store: store,
		Analyzer: analyzer.New(
			analyzer.WithLLM(client),
			analyzer.WithMinConfidence(cfg.IntentMinConfidenceThreshold),
		),
		Planner: planner.New(planner.Options{
			MaxWorkersPerPlan: cfg.MaxWorkersPerPlan,
			MaxConcurrent:     cfg.MaxConcurrent,
			TotalRunBudget:    cfg.TotalRunTimeout,
			RetryPolicy:       cfg.Retry.Backoff.ToRetryPolicy(cfg.MaxRetries),
		}),
		Scheduler: scheduler.New(reg, cfg.MaxConcurrent),
		Evaluator: evaluator.New(evaluator.Options{
			MaxRetries:             cfg.MaxRetries,
			MinQualityThreshold:    cfg.EvaluatorMinQualityThreshold,
			LowConfidenceThreshold: cfg.EvaluatorLowConfidenceThresh,
		}),
		Synthesizer: synthesizer.New(synthesizer.WithLLM(client)),
		WorkerNames: reg.Names(),
		Cache:       cache.New(cfg.Cache.ToStrategyConfig()),
		Metrics:     mtr,
		Emitter:     observability.NewLogEmitter(nil),

		RunWallClockBudget: cfg.TotalRunTimeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building engine: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	now := time.Now()
	requestID := uuid.NewString()
	q := domain.Query{RequestID: requestID, Text: *query, ArrivedAt: now}
	carrier := engine.NewContextCarrier(*userID, *sessionID, *threadID, requestID, cfg.Language, cfg.DebugMode, nil, *query)

	ctx := context.Background()
	state, err := eng.Execute(ctx, q, carrier)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if state.ThreadID != "" {
			printResult(state, *jsonOutput)
		}
		os.Exit(1)
	}

	printResult(state, *jsonOutput)
}

func printResult(state domain.RunState, asJSON bool) {
	if asJSON {
		encoded, _ := json.MarshalIndent(state, "", "  ")
		fmt.Println(string(encoded))
		return
	}
	fmt.Println(state.FinalAnswer)
	for _, s := range state.Sources {
		if s.URL != "" {
			fmt.Printf("- %s (%s)\n", s.Title, s.URL)
		} else {
			fmt.Printf("- %s\n", s.Title)
		}
	}
}

func buildRegistry() *worker.Registry {
	reg := worker.NewRegistry()
	// price_search and location stand in for calls to external lookup
	// services, so each gets a per-process call budget; finance and legal
	// are pure computation and are left unlimited.
	reg.Register(pricesearch.Name, worker.RateLimited(pricesearch.New(nil), 5, 10))
	reg.Register(finance.Name, finance.New())
	reg.Register(legal.Name, legal.New())
	reg.Register(location.Name, worker.RateLimited(location.New(nil), 5, 10))
	return reg
}

func buildStore(cfg config.StateStoreConfig) (statestore.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return sqlite.Open(cfg.DSN)
	case "mysql":
		return mysql.Open(cfg.DSN)
	default:
		return memory.New(), nil
	}
}

// buildLLMClient selects a provider client from config.LLM.Provider,
// reading its API key from the matching environment variable (the same
// "leave it out of the YAML, read it from the environment" convention
// the teacher's example config template documents). An unset or unknown
// provider falls back to a client with an empty key, which every
// internal/llm provider treats as llm.ErrUnavailable — the analyzer and
// synthesizer's deterministic fallbacks take over from there.
func buildLLMClient(cfg config.LLMConfig) llm.Client {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.New(os.Getenv("ANTHROPIC_API_KEY"), modelFor(cfg, "anthropic"))
	case "openai":
		return openai.New(os.Getenv("OPENAI_API_KEY"), modelFor(cfg, "openai"))
	case "google":
		return google.New(os.Getenv("GOOGLE_API_KEY"), modelFor(cfg, "google"))
	default:
		return anthropic.New("", "")
	}
}

func modelFor(cfg config.LLMConfig, provider string) string {
	if cfg.ModelPerPurpose == nil {
		return ""
	}
	return cfg.ModelPerPurpose[provider]
}
