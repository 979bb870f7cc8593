package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/runmerge/internal/duckdb"
	"github.com/tinytelemetry/runmerge/internal/httpserver"
	"github.com/tinytelemetry/runmerge/internal/logging"
	"github.com/tinytelemetry/runmerge/internal/metrics"
	"github.com/tinytelemetry/runmerge/internal/model"
	"github.com/tinytelemetry/runmerge/internal/pipeline"
)

// run processes the input tree and, in serve mode, keeps the API up until
// interrupted.
func run(cfg appConfig) error {
	logger := logging.Init(cfg.LogFormat, logging.ParseLevel(cfg.LogLevel))
	m := metrics.New()

	var store *duckdb.Store
	if cfg.DBPath != "" {
		var err error
		store, err = duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
		if err != nil {
			return fmt.Errorf("failed to initialize DuckDB: %w", err)
		}
		defer store.Close()
		store.SetLogger(logger)

		if cfg.RetentionDays > 0 {
			cutoff := time.Now().Add(-time.Duration(cfg.RetentionDays) * 24 * time.Hour)
			n, err := store.DeleteRunsBefore(context.Background(), cutoff)
			if err != nil {
				logger.Warn("duckdb: retention cleanup failed", "err", err)
			} else if n > 0 {
				logger.Info("duckdb: expired runs deleted", "runs", n, "retention_days", cfg.RetentionDays)
			}
		}
	}

	if cfg.APIEnabled {
		apiServer := httpserver.NewServer(cfg.APIAddr, store,
			httpserver.WithGatherer(m.Registry()),
			httpserver.WithNotFound(duckdb.ErrRunNotFound),
			httpserver.WithLogger(logger),
		)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		fmt.Fprintln(os.Stderr, "\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nForce shutdown.")
		case <-deadline.C:
			fmt.Fprintln(os.Stderr, "Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	if !cfg.Quiet {
		printStartupBanner(os.Stdout, cfg)
	}

	batch := newBatch(cfg, logger, m, store)

	var (
		summary pipeline.Summary
		elapsed time.Duration
	)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if cfg.InputDir == "" {
			return nil
		}
		start := time.Now()
		s, err := batch.Run(gctx)
		summary, elapsed = s, time.Since(start)
		if errors.Is(err, context.Canceled) {
			logger.Warn("batch interrupted", "processed", s.Processed)
			return nil
		}
		if err != nil {
			return fmt.Errorf("batch: %w", err)
		}

		if cfg.DBSnapshot != "" && store != nil {
			if err := store.SnapshotTo(gctx, cfg.DBSnapshot); err != nil {
				logger.Error("duckdb: snapshot failed", "path", cfg.DBSnapshot, "err", err)
			}
		}
		if !cfg.Serve {
			cancel()
		}
		return nil
	})

	// Serve mode keeps the API up until a signal arrives.
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if cfg.InputDir != "" {
		if !cfg.Quiet {
			printSummary(os.Stdout, summary, elapsed)
		}
		if summary.Failed > 0 {
			return fmt.Errorf("%d of %d pairs failed", summary.Failed, summary.Processed+summary.Failed)
		}
	}
	return nil
}

func newBatch(cfg appConfig, logger *slog.Logger, m *metrics.Metrics, store *duckdb.Store) *pipeline.Batch {
	opts := pipeline.Options{
		OutputDir:      cfg.OutputDir,
		Compress:       cfg.Compress,
		SplitTables:    cfg.SplitTables,
		ClockOffset:    cfg.ClockOffset,
		JoinTolerance:  cfg.JoinTolerance,
		MergeThreshold: cfg.MergeThreshold,
		JoinPhy:        cfg.JoinPhy,
		PhyChannel:     cfg.PhyChannel,
		MinLevel:       cfg.MinLevel,
		MaxLineSize:    cfg.MaxLineSize,
		Metrics:        m,
		Logger:         logger,
	}
	// A nil *Store must not become a non-nil interface.
	if store != nil {
		opts.Store = model.RunWriter(store)
	}
	return &pipeline.Batch{
		Root:          cfg.InputDir,
		PrimarySuffix: cfg.PrimarySuffix,
		ToolSuffix:    cfg.ToolSuffix,
		Workers:       cfg.Workers,
		Overwrite:     cfg.Overwrite,
		Options:       opts,
	}
}
