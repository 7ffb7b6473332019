// Package pipeline runs ingestion and backlog processing for configured
// feeds.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/TobiSchelling/feedkeeper/internal/backlog"
	"github.com/TobiSchelling/feedkeeper/internal/config"
	"github.com/TobiSchelling/feedkeeper/internal/database"
	"github.com/TobiSchelling/feedkeeper/internal/feedformat"
	"github.com/TobiSchelling/feedkeeper/internal/ingest"
	"github.com/TobiSchelling/feedkeeper/internal/metrics"
)

// Ingester records new articles of a feed.
type Ingester interface {
	Ingest(ctx context.Context, db *database.DB, feed config.Feed) (*ingest.Result, error)
}

// BacklogProcessor fetches the pending articles of a feed.
type BacklogProcessor interface {
	Process(ctx context.Context, db *database.DB, feedName string) (*backlog.Result, error)
}

// InterruptScope derives the context one feed's backlog runs under.
type InterruptScope func(ctx context.Context) (context.Context, context.CancelFunc)

// OSInterrupt cancels the scope on SIGINT.
func OSInterrupt(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt)
}

// StepResult holds the result of a single step for one feed.
type StepResult struct {
	Feed    string
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a run.
type Result struct {
	Started  time.Time
	Finished time.Time
	Steps    []StepResult
}

// Failed reports whether any step ended with an error.
func (r *Result) Failed() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

// Runner orchestrates ingestion and backlog processing.
type Runner struct {
	cfg       *config.Config
	registry  *feedformat.Registry
	ingester  Ingester
	processor BacklogProcessor
	logger    *slog.Logger
	interrupt InterruptScope
}

// New creates a runner.
func New(cfg *config.Config, registry *feedformat.Registry, ingester Ingester, processor BacklogProcessor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:       cfg,
		registry:  registry,
		ingester:  ingester,
		processor: processor,
		logger:    logger,
		interrupt: OSInterrupt,
	}
}

// WithInterruptScope replaces the per-feed interrupt handling.
func (r *Runner) WithInterruptScope(scope InterruptScope) *Runner {
	r.interrupt = scope
	return r
}

type target struct {
	feed   config.Feed
	dbPath string
}

// resolve validates everything a feed needs before any work starts.
func (r *Runner) resolve(name string) (target, error) {
	feed, err := r.cfg.Feed(name)
	if err != nil {
		return target{}, err
	}
	if _, err := r.registry.Lookup(feed.Name, feed.Type); err != nil {
		return target{}, err
	}
	path, err := r.cfg.DatabasePath(feed)
	if err != nil {
		return target{}, fmt.Errorf("feed %s: %w", feed.Name, err)
	}
	return target{feed: feed, dbPath: path}, nil
}

// ProcessFeed ingests one feed and then works through its backlog.
func (r *Runner) ProcessFeed(ctx context.Context, name string) (*Result, error) {
	t, err := r.resolve(name)
	if err != nil {
		return nil, err
	}

	res := &Result{Started: time.Now()}
	res.Steps = append(res.Steps, r.runIngest(ctx, t))
	step, err := r.runBacklog(ctx, t)
	res.Steps = append(res.Steps, step)
	res.Finished = time.Now()
	return res, err
}

// resolveAll resolves the named feeds, or every configured feed when no
// name is given.
func (r *Runner) resolveAll(names []string) ([]target, error) {
	if len(names) == 0 {
		for _, f := range r.cfg.Feeds {
			names = append(names, f.Name)
		}
	}
	targets := make([]target, 0, len(names))
	for _, name := range names {
		t, err := r.resolve(name)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// ProcessAll ingests every configured feed, then processes every backlog.
// An interrupt during one backlog only abandons that feed's backlog.
func (r *Runner) ProcessAll(ctx context.Context) (*Result, error) {
	targets, err := r.resolveAll(nil)
	if err != nil {
		return nil, err
	}

	res := &Result{Started: time.Now()}
	defer func() {
		res.Finished = time.Now()
		metrics.LastRunTimestamp.Set(float64(res.Finished.Unix()))
	}()

	r.logger.Info("phase 1/2: ingesting feeds", "feeds", len(targets))
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Steps = append(res.Steps, r.runIngest(ctx, t))
	}

	r.logger.Info("phase 2/2: processing backlogs", "feeds", len(targets))
	return res, r.runBacklogs(ctx, targets, res)
}

// ProcessBacklogs works through the backlogs of the named feeds, or of
// every configured feed, without ingesting first. Interrupts are scoped
// per feed as in ProcessAll.
func (r *Runner) ProcessBacklogs(ctx context.Context, names ...string) (*Result, error) {
	targets, err := r.resolveAll(names)
	if err != nil {
		return nil, err
	}

	res := &Result{Started: time.Now()}
	defer func() { res.Finished = time.Now() }()
	return res, r.runBacklogs(ctx, targets, res)
}

func (r *Runner) runBacklogs(ctx context.Context, targets []target, res *Result) error {
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		scoped, stop := r.interrupt(ctx)
		step, err := r.runBacklog(scoped, t)
		stop()
		res.Steps = append(res.Steps, step)
		if err != nil && ctx.Err() == nil && errors.Is(err, context.Canceled) {
			r.logger.Warn("backlog abandoned, continuing with next feed", "feed", t.feed.Name)
		}
	}
	return nil
}

func (r *Runner) runIngest(ctx context.Context, t target) StepResult {
	r.logger.Info("ingesting", "feed", t.feed.Name)
	step := StepResult{Feed: t.feed.Name, Name: "Ingest"}

	db, err := database.Open(t.dbPath, t.feed.Schema)
	if err != nil {
		step.Err = err
		r.logger.Error("opening store failed", "feed", t.feed.Name, "error", err)
		return step
	}
	defer db.Close()

	result, err := r.ingester.Ingest(ctx, db, t.feed)
	if err != nil {
		step.Err = err
		r.logger.Error("ingest failed", "feed", t.feed.Name, "error", err)
		return step
	}
	step.Summary = fmt.Sprintf("%d new, %d known, %d without url", result.New, result.Known, result.SkippedNoURL)
	return step
}

// runBacklog returns a non-nil error only when the pass was interrupted.
func (r *Runner) runBacklog(ctx context.Context, t target) (StepResult, error) {
	r.logger.Info("processing backlog", "feed", t.feed.Name)
	step := StepResult{Feed: t.feed.Name, Name: "Backlog"}

	db, err := database.Open(t.dbPath, t.feed.Schema)
	if err != nil {
		step.Err = err
		r.logger.Error("opening store failed", "feed", t.feed.Name, "error", err)
		return step, nil
	}
	defer db.Close()

	result, err := r.processor.Process(ctx, db, t.feed.Name)
	if result != nil {
		step.Summary = fmt.Sprintf("%d of %d fetched, %d failed (%d transport errors)",
			result.Fetched, result.Total, result.Failed, result.TransportErrors)
	}
	if err != nil {
		step.Err = err
		if result != nil && result.Interrupted {
			step.Summary += ", interrupted"
			return step, err
		}
		r.logger.Error("backlog failed", "feed", t.feed.Name, "error", err)
	}
	return step, nil
}
