package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/solwatch/mintready/internal/config"
	"github.com/solwatch/mintready/internal/density"
	"github.com/solwatch/mintready/internal/event"
	"github.com/solwatch/mintready/internal/evidence"
	"github.com/solwatch/mintready/internal/metrics"
	"github.com/solwatch/mintready/internal/pipeline"
	"github.com/solwatch/mintready/internal/quote"
	"github.com/solwatch/mintready/internal/readiness"
	"github.com/solwatch/mintready/internal/rpc/pool"
	signalengine "github.com/solwatch/mintready/internal/signal"
	"github.com/solwatch/mintready/internal/slotclock"
	"github.com/solwatch/mintready/internal/tracing"
)

const (
	eventBufferSize = 256
	tickBufferSize  = 64

	// Feed lines can carry full transaction payloads.
	maxFeedLineBytes = 4 << 20
)

func main() {
	logLevel := slog.LevelInfo
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting mint readiness watcher",
		"rpc_endpoints", len(cfg.Solana.RPCURLs),
		"private_rpc", cfg.Solana.PrivateRPCURL != "",
		"quote_base", cfg.Quote.BaseURL,
		"slot_poll_interval", cfg.Solana.SlotPollInterval,
		"score_threshold", cfg.Readiness.ScoreThreshold,
	)

	shutdownTracing, err := tracing.Init(context.Background(),
		cfg.Tracing.ServiceName, cfg.Tracing.OTLPEndpoint, cfg.Tracing.Insecure, cfg.Tracing.SampleRatio)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.OTLPEndpoint != "" {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.OTLPEndpoint)
	}

	rpcPool, err := pool.New(pool.Config{
		URLs:             cfg.Solana.RPCURLs,
		PrivateURL:       cfg.Solana.PrivateRPCURL,
		RequestTimeout:   cfg.Solana.RequestTimeout,
		FailureThreshold: cfg.Solana.PoolFailureThreshold,
		ExclusionBase:    cfg.Solana.PoolExclusionBase,
	}, logger.With("component", "rpc_pool"))
	if err != nil {
		logger.Error("failed to build rpc pool", "error", err)
		os.Exit(1)
	}

	quotes := quote.NewClient(cfg.Quote.BaseURL, cfg.Quote.RequestTimeout, logger.With("component", "quote"))

	engine := signalengine.New(signalengine.Config{
		WindowSlots:      cfg.Signal.WindowSlots,
		DensityThreshold: cfg.Signal.DensityThreshold,
		RequiredBits:     cfg.Signal.RequiredBits,
	})
	agg := evidence.New(evidence.Config{
		Shards:              cfg.Evidence.Shards,
		Retention:           cfg.Evidence.Retention,
		SignatureTTL:        cfg.Evidence.SignatureTTL,
		LegacyAloneEligible: cfg.Evidence.LegacyAloneEligible,
	})
	tracker := density.New(cfg.Density.RingSize, cfg.Density.StrongThreshold)
	machine := readiness.New(readiness.Config{
		ProbeTTL:           cfg.Readiness.ProbeTTL,
		ProbeRetries:       cfg.Readiness.ProbeRetries,
		ProbeBackoffBase:   cfg.Readiness.ProbeBackoffBase,
		FinalReprobeBudget: cfg.Readiness.FinalReprobeBudget,
		QuoteReprobeBudget: cfg.Readiness.QuoteReprobeBudget,
		ScoreThreshold:     cfg.Readiness.ScoreThreshold,
		LedgerScale:        cfg.Readiness.LedgerScale,
		LegacyBonus:        cfg.Readiness.LegacyBonus,
		HistorySize:        cfg.Readiness.HistorySize,
		EvidenceWindow:     cfg.Evidence.Retention,
		StateTTL:           cfg.Readiness.StateTTL,
		SweepInterval:      cfg.Readiness.SweepInterval,
		QuoteProbeAmount:   cfg.Quote.ProbeAmount,
	}, rpcPool, quotes, agg, engine, logger.With("component", "readiness"))

	// Triggers are the watcher's output: one JSON line per ready asset.
	triggerOut := json.NewEncoder(os.Stdout)
	machine.OnTrigger(func(tr event.Trigger) {
		if err := triggerOut.Encode(tr); err != nil {
			logger.Error("failed to write trigger", "asset", tr.AssetID, "error", err)
		}
	})

	events := make(chan event.Ledger, eventBufferSize)
	ticks := make(chan event.SlotTick, tickBufferSize)

	clock := slotclock.New(rpcPool, cfg.Solana.SlotPollInterval, ticks, logger.With("component", "slotclock"))
	pipe := pipeline.New(pipeline.Config{
		DetectorFirst: cfg.Evidence.DetectorFirst,
	}, engine, agg, machine, tracker, events, ticks, logger.With("component", "pipeline"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHealthServer(gCtx, cfg.Server.HealthPort, logger)
	})

	g.Go(func() error {
		return clock.Run(gCtx)
	})

	g.Go(func() error {
		return pipe.Run(gCtx)
	})

	g.Go(func() error {
		return runFeed(gCtx, os.Stdin, events, logger.With("component", "feed"))
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("watcher exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("watcher shut down gracefully")
}

// runFeed reads newline-delimited ledger events from r until EOF or cancel.
// Malformed lines are counted and skipped; the feed never aborts on bad
// input. EOF is a normal end of stream, not an error.
func runFeed(ctx context.Context, r io.Reader, out chan<- event.Ledger, logger *slog.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFeedLineBytes)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var ev event.Ledger
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			metrics.EventErrorsTotal.Inc()
			logger.Warn("skipping malformed feed line", "error", err)
			continue
		}
		if ev.ObservedAt.IsZero() {
			ev.ObservedAt = time.Now()
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("feed read: %w", err)
	}

	logger.Info("feed closed")
	return nil
}

func runHealthServer(ctx context.Context, port int, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("health server shutdown error", "error", err)
		}
	}()

	logger.Info("health server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
