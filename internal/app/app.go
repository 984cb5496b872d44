// Package app runs the pull, cache, analyze and report pipeline selected by the mode flags.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hal9000y/gmail-analyzer/internal/cache"
	"github.com/hal9000y/gmail-analyzer/internal/message"
	"github.com/hal9000y/gmail-analyzer/internal/report"
	"github.com/hal9000y/gmail-analyzer/internal/stats"
)

// ErrNoCachedData is returned in analyze-only mode when the query was never pulled.
var ErrNoCachedData = errors.New("no cached data found, run with --pull-data first")

// ErrModeConflict is returned when more than one mode flag is set.
var ErrModeConflict = errors.New("--pull-data, --refresh-data, and --analyze-only are mutually exclusive")

// FetchFunc pulls every record matching query from the mail provider.
type FetchFunc func(ctx context.Context, query string) ([]message.Record, error)

// Options select the mode and parameters of a run.
type Options struct {
	Query        string
	Top          int
	InactiveDays int
	PullOnly     bool
	Refresh      bool
	AnalyzeOnly  bool
	ExportCSV    string
}

// Validate checks the mode flags.
func (o Options) Validate() error {
	set := 0
	for _, f := range []bool{o.PullOnly, o.Refresh, o.AnalyzeOnly} {
		if f {
			set++
		}
	}
	if set > 1 {
		return ErrModeConflict
	}
	return nil
}

// Runner wires the cache, the fetcher and the reporter.
type Runner struct {
	Store  cache.Store
	Fetch  FetchFunc
	Out    io.Writer
	TTL    time.Duration
	Now    func() time.Time
	Logger *log.Logger
}

// Run executes one pipeline pass.
func (r *Runner) Run(ctx context.Context, opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	records, err := r.records(ctx, opts)
	if err != nil {
		return err
	}

	if opts.ExportCSV != "" {
		if err := report.WriteCSV(opts.ExportCSV, records); err != nil {
			return fmt.Errorf("report.WriteCSV failed: %w", err)
		}
		r.logger().Info("Exported CSV", "path", opts.ExportCSV, "messages", len(records))
	}

	if opts.PullOnly || opts.Refresh {
		r.logger().Info("Data pull complete", "messages", len(records))
		return nil
	}

	statsOpts := stats.Options{Top: opts.Top, InactiveDays: opts.InactiveDays, Now: r.now()}
	snap := stats.Compute(records, statsOpts)

	if err := report.NewTerminal(r.Out).Render(snap, statsOpts); err != nil {
		return fmt.Errorf("render failed: %w", err)
	}
	r.logger().Info("Analysis complete")

	return nil
}

func (r *Runner) records(ctx context.Context, opts Options) ([]message.Record, error) {
	if opts.AnalyzeOnly {
		entry, err := r.Store.Load(ctx, opts.Query)
		if errors.Is(err, cache.ErrMiss) {
			return nil, fmt.Errorf("query %q: %w", opts.Query, ErrNoCachedData)
		}
		if err != nil {
			return nil, fmt.Errorf("Store.Load failed: %w", err)
		}
		if entry.IsStale(r.now(), r.ttl()) {
			r.logger().Warn("Cached data is stale", "query", opts.Query, "created", entry.CreatedAt)
		}
		r.logger().Info("Loaded messages from cache", "messages", len(entry.Records))
		return entry.Records, nil
	}

	if !opts.Refresh {
		entry, err := r.Store.Load(ctx, opts.Query)
		switch {
		case err == nil && !entry.IsStale(r.now(), r.ttl()):
			r.logger().Info("Loaded messages from cache", "messages", len(entry.Records))
			return entry.Records, nil
		case err == nil:
			r.logger().Info("Cached data is stale, pulling", "created", entry.CreatedAt)
		case errors.Is(err, cache.ErrMiss):
			r.logger().Debug("No cached data", "query", opts.Query)
		default:
			r.logger().Warn("Ignoring unreadable cache", "error", err)
		}
	}

	records, err := r.Fetch(ctx, opts.Query)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}

	if err := r.Store.Save(ctx, opts.Query, records); err != nil {
		return nil, fmt.Errorf("Store.Save failed: %w", err)
	}

	return records, nil
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func (r *Runner) ttl() time.Duration {
	if r.TTL <= 0 {
		return cache.DefaultTTL
	}
	return r.TTL
}

func (r *Runner) logger() *log.Logger {
	if r.Logger == nil {
		return log.Default()
	}
	return r.Logger
}
