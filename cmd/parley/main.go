package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MikeSquared-Agency/parley/internal/api"
	"github.com/MikeSquared-Agency/parley/internal/config"
	"github.com/MikeSquared-Agency/parley/internal/extractor"
	"github.com/MikeSquared-Agency/parley/internal/grader"
	"github.com/MikeSquared-Agency/parley/internal/hermes"
	"github.com/MikeSquared-Agency/parley/internal/openai"
	"github.com/MikeSquared-Agency/parley/internal/pipeline"
	"github.com/MikeSquared-Agency/parley/internal/processor"
	"github.com/MikeSquared-Agency/parley/internal/rescore"
	"github.com/MikeSquared-Agency/parley/internal/scenario"
	"github.com/MikeSquared-Agency/parley/internal/slack"
	"github.com/MikeSquared-Agency/parley/internal/storage"
	"github.com/MikeSquared-Agency/parley/internal/tips"
)

func main() {
	rescoreMode := flag.Bool("rescore", false, "re-score stored transcripts with the current rules, then exit")
	rescoreSession := flag.String("session", "", "rescore only this session id")
	rescoreSince := flag.String("since", "", "rescore only sessions starting on or after this date (YYYY-MM-DD)")
	rescoreUntil := flag.String("until", "", "rescore only sessions starting on or before this date (YYYY-MM-DD)")
	rescoreDryRun := flag.Bool("dry-run", false, "score without rewriting stored reports")
	rescoreBatch := flag.Int("batch-size", 10, "sessions to rescore per batch before pausing")
	flag.Parse()

	// A local .env is optional; real deployments set the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	setupLogging(cfg)

	if problems := cfg.Validate(); len(problems) > 0 {
		for _, p := range problems {
			slog.Error("invalid configuration", "problem", p)
		}
		os.Exit(1)
	}

	slog.Info("parley starting", "port", cfg.Port, "storage", cfg.StorageType)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	store, err := storage.New(ctx, storage.Config{
		Type:        cfg.StorageType,
		Path:        cfg.StoragePath,
		DatabaseURL: cfg.DatabaseURL,
	}, slog.Default())
	if err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("storage ready", "type", cfg.StorageType)

	// Scenario rule packs
	scenarios := scenario.Default()
	if cfg.ScenariosPath != "" {
		scenarios, err = scenario.Load(cfg.ScenariosPath)
		if err != nil {
			slog.Error("failed to load scenario packs", "path", cfg.ScenariosPath, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("scenarios loaded", "count", len(scenarios.IDs()))

	// One model client shared by the three model-driven stages.
	llm := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAITemperature)
	if cfg.OpenAIBaseURL != "" {
		llm.SetBaseURL(cfg.OpenAIBaseURL)
	}
	slog.Info("model client ready", "model", cfg.OpenAIModel)

	pipe := pipeline.New(
		scenarios,
		extractor.New(llm, slog.Default()),
		grader.New(llm, slog.Default(), cfg.MaxRetries, cfg.RetryBackoff()),
		tips.New(llm, slog.Default()),
		slog.Default(),
		pipeline.Config{
			ConfidenceThreshold: cfg.EventConfidenceThreshold,
			MinFactQuestions:    cfg.MinFactQuestionsBase,
			GradingTimeout:      cfg.GradingTimeout,
		},
	)

	if *rescoreMode {
		runRescore(ctx, cancel, store, pipe, rescoreFlags{
			session:   *rescoreSession,
			since:     *rescoreSince,
			until:     *rescoreUntil,
			dryRun:    *rescoreDryRun,
			batchSize: *rescoreBatch,
		})
		return
	}

	// NATS (optional; without it parley scores over HTTP only)
	var hermesClient *hermes.Client
	var bus processor.Publisher
	if cfg.NatsURL != "" {
		hermesClient, err = hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer hermesClient.Close()
		bus = hermesClient
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS not configured, scoring over HTTP only")
	}

	// Slack poster (optional; parley works without it, just no summaries)
	var notifier processor.Notifier
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		notifier = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default())
		slog.Info("slack poster ready", "channel", cfg.SlackChannel)
	} else {
		slog.Warn("slack not configured, summaries disabled")
	}

	// Processor, the main scoring flow
	proc := processor.New(store, pipe, bus, notifier, slog.Default())

	// Subscribe to completed sessions
	if hermesClient != nil {
		if err := hermesClient.Subscribe(hermes.SubjectSessionCompleted, proc.HandleSessionCompleted); err != nil {
			slog.Error("failed to subscribe to session events", "error", err)
			os.Exit(1)
		}
		slog.Info("subscribed", "subject", hermes.SubjectSessionCompleted)
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, proc, store, scenarios, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Announce registration
	if hermesClient != nil {
		if err := hermesClient.Publish("swarm.agent.parley.registered", map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"port":      cfg.Port,
			"scenarios": scenarios.IDs(),
		}); err != nil {
			slog.Warn("failed to publish registration", "error", err)
		}
	}

	slog.Info("parley ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("parley stopped")
}

type rescoreFlags struct {
	session   string
	since     string
	until     string
	dryRun    bool
	batchSize int
}

// runRescore executes the rescore runner instead of serving. An
// interrupt cancels the context so the runner can save its state and
// resume on the next invocation.
func runRescore(ctx context.Context, cancel context.CancelFunc, store storage.Backend, pipe *pipeline.Pipeline, flags rescoreFlags) {
	runCfg := rescore.Config{
		DryRun:    flags.dryRun,
		BatchSize: flags.batchSize,
		SessionID: flags.session,
	}
	if flags.since != "" {
		t, err := time.Parse("2006-01-02", flags.since)
		if err != nil {
			slog.Error("invalid -since date", "value", flags.since, "error", err)
			os.Exit(1)
		}
		runCfg.Since = t
	}
	if flags.until != "" {
		t, err := time.Parse("2006-01-02", flags.until)
		if err != nil {
			slog.Error("invalid -until date", "value", flags.until, "error", err)
			os.Exit(1)
		}
		// The named day is included in the window.
		runCfg.Until = t.Add(24*time.Hour - time.Nanosecond)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("interrupt received, stopping rescore")
		cancel()
	}()

	runner := rescore.NewRunner(runCfg, store, pipe, slog.Default())
	if err := runner.Run(ctx); err != nil {
		slog.Error("rescore failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Config) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	slog.SetDefault(slog.New(handler))
}
