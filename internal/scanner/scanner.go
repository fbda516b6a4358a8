// Package scanner walks a directory tree and drives the sync engine over
// every supported file.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/corpusd/internal/syncer"
)

// Syncer is the subset of the sync engine the scanner needs.
type Syncer interface {
	AddOrUpdate(ctx context.Context, path string) (syncer.Status, error)
}

// Supported reports whether a path has a parser strategy.
type Supported func(path string) bool

// Result summarizes one directory scan.
type Result struct {
	// Indexed is the number of files whose chunks were (re)written.
	Indexed int

	// Unchanged is the number of files skipped by the hash check.
	Unchanged int

	// Failed is the number of files whose sync aborted. Per-file failures
	// never abort the scan.
	Failed int

	// Skipped is the number of files with unsupported extensions.
	Skipped int
}

// Scanner scans directory trees with bounded parallelism.
type Scanner struct {
	engine    Syncer
	supported Supported
	workers   int
	logger    *zap.Logger
}

// New creates a scanner. workers bounds concurrent file syncs to respect
// embedding-service rate limits; values below 1 mean serial.
func New(engine Syncer, supported Supported, workers int, logger *zap.Logger) *Scanner {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		engine:    engine,
		supported: supported,
		workers:   workers,
		logger:    logger,
	}
}

// Scan enumerates all supported files under root and syncs each one.
// Distinct files run concurrently up to the worker bound; per-path
// serialization is the engine's job. Only a walk failure on root itself or
// context cancellation aborts the scan.
func (s *Scanner) Scan(ctx context.Context, root string) (Result, error) {
	var indexed, unchanged, failed, skipped atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			// Unreadable subtree: log and move on.
			s.logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			failed.Add(1)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !s.supported(path) {
			skipped.Add(1)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		g.Go(func() error {
			status, err := s.engine.AddOrUpdate(ctx, path)
			switch {
			case err != nil:
				// Local failure: the file stays stale and is retried on
				// the next scan.
				s.logger.Warn("sync failed", zap.String("path", path), zap.Error(err))
				failed.Add(1)
			case status == syncer.StatusIndexed:
				indexed.Add(1)
			default:
				unchanged.Add(1)
			}
			return nil
		})
		return nil
	})

	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("scanning %s: %w", root, err)
	}
	if walkErr != nil {
		return Result{}, fmt.Errorf("scanning %s: %w", root, walkErr)
	}

	result := Result{
		Indexed:   int(indexed.Load()),
		Unchanged: int(unchanged.Load()),
		Failed:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
	}
	s.logger.Info("scan complete",
		zap.String("root", root),
		zap.Int("indexed", result.Indexed),
		zap.Int("unchanged", result.Unchanged),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}
