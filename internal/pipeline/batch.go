package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/runmerge/internal/metrics"
	"github.com/tinytelemetry/runmerge/internal/table"
)

// Summary counts pair outcomes for one batch.
type Summary struct {
	BatchID   string
	Processed int
	Skipped   int
	Missing   int
	Failed    int
	Failures  map[string]error // run key -> error
}

// Batch processes every run pair under Root.
type Batch struct {
	Root          string
	PrimarySuffix string
	ToolSuffix    string
	Workers       int
	Overwrite     bool
	Options       Options
}

// Run discovers pairs and processes them concurrently, at most Workers at a
// time. Pairs share no mutable state. A failed pair is logged and counted;
// the batch continues. Cancelling ctx stops new pairs from starting and is
// reported as the returned error along with the partial summary.
func (b *Batch) Run(ctx context.Context) (Summary, error) {
	opts := b.Options.withDefaults()
	if opts.BatchID == "" {
		opts.BatchID = uuid.NewString()
	}
	logger := opts.Logger.With("batch", opts.BatchID)
	opts.Logger = logger

	summary := Summary{BatchID: opts.BatchID, Failures: make(map[string]error)}

	pairs, err := DiscoverPairs(b.Root, b.PrimarySuffix, b.ToolSuffix)
	if err != nil {
		return summary, err
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return summary, fmt.Errorf("create output dir: %w", err)
	}

	workers := b.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var mu sync.Mutex
	record := func(status string, key string, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch status {
		case metrics.StatusProcessed:
			summary.Processed++
		case metrics.StatusSkipped:
			summary.Skipped++
		case metrics.StatusMissing:
			summary.Missing++
		case metrics.StatusFailed:
			summary.Failed++
			summary.Failures[key] = err
		}
		opts.Metrics.Pair(status)
	}

	g := new(errgroup.Group)
	g.SetLimit(workers)

	for _, d := range pairs {
		if ctx.Err() != nil {
			break
		}
		if d.Missing {
			logger.Warn("pipeline: missing throughput log, pair skipped", "run", d.Key(), "primary", d.PrimaryLog)
			record(metrics.StatusMissing, d.Key(), ErrMissingPair)
			continue
		}
		if !b.Overwrite {
			if out := opts.OutputPath(d.Pair, TableMerged); outputComplete(out) {
				logger.Info("pipeline: output exists, skipping", "run", d.Key(), "path", out)
				record(metrics.StatusSkipped, d.Key(), nil)
				continue
			}
		}

		pair := d.Pair
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			started := time.Now()
			logger.Info("pipeline: processing", "run", pair.Key(), "primary", pair.PrimaryLog, "tool", pair.ToolLog)

			res, err := ProcessPair(ctx, pair, opts)
			opts.Metrics.ObservePair(time.Since(started))
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				logger.Error("pipeline: pair failed", "run", pair.Key(), "err", err)
				record(metrics.StatusFailed, pair.Key(), err)
				return nil
			}

			logger.Info("pipeline: pair done", "run", pair.Key(),
				"rows", res.Run.Table(TableMerged).Len(), "files", len(res.Files),
				"elapsed", time.Since(started).Round(time.Millisecond))
			record(metrics.StatusProcessed, pair.Key(), nil)
			return nil
		})
	}

	_ = g.Wait()
	return summary, ctx.Err()
}

// outputComplete reports whether path holds a non-empty table that reads
// back to the end, decompressing .zst files.
func outputComplete(path string) bool {
	rc, err := table.OpenFile(path)
	if err != nil {
		return false
	}
	defer rc.Close()
	n, err := io.Copy(io.Discard, rc)
	return err == nil && n > 0
}
