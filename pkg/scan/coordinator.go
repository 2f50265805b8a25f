// pkg/scan/coordinator.go
package scan

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gjvnq/ftp-scan/pkg/catalog"
	"github.com/gjvnq/ftp-scan/pkg/probe"
)

// bannerFetcher is the probe dependency of the coordinator. probe.Fetcher
// satisfies it; tests substitute their own.
type bannerFetcher interface {
	Fetch(ctx context.Context, target probe.Target) probe.Outcome
}

// Coordinator fans a target list out over a bounded worker pool, retries
// transient failures, classifies captured banners, and streams terminal
// results in completion order.
type Coordinator struct {
	cfg     Config
	catalog *catalog.Catalog
	fetcher bannerFetcher
	logger  zerolog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithFetcher substitutes the banner fetcher, mainly for tests.
func WithFetcher(f bannerFetcher) CoordinatorOption {
	return func(c *Coordinator) {
		c.fetcher = f
	}
}

// NewCoordinator validates cfg and builds a coordinator. A nil catalog falls
// back to the built-in signature set.
func NewCoordinator(cfg Config, cat *catalog.Catalog, opts ...CoordinatorOption) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cat == nil {
		cat = catalog.Builtin()
	}

	c := &Coordinator{
		cfg:     cfg,
		catalog: cat,
		logger:  log.With().Str("component", "scan").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.fetcher == nil {
		c.fetcher = probe.NewFetcher(cfg.Timeout, cfg.MaxBannerBytes)
	}

	return c, nil
}

// task is one pending attempt against a target. attempt counts from 1;
// started is fixed at first dispatch so Elapsed spans retries.
type task struct {
	target  probe.Target
	attempt int
	started time.Time
}

// Run starts the scan and returns the result stream. The channel yields one
// Result per terminal target in completion order and closes when the run is
// over. Cancelling ctx (or exceeding cfg.Deadline) stops dispatching; targets
// still queued or in flight at that point are dropped without a result.
func (c *Coordinator) Run(ctx context.Context, targets []probe.Target) <-chan Result {
	results := make(chan Result)

	runCtx := ctx
	var cancel context.CancelFunc
	if c.cfg.Deadline > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.cfg.Deadline)
	}

	tasks := make(chan task)
	var pending sync.WaitGroup // one unit per target, not per goroutine
	pending.Add(len(targets))

	for range c.cfg.Concurrency {
		go c.worker(runCtx, &pending, tasks, results)
	}

	c.logger.Info().
		Int("targets", len(targets)).
		Int("concurrency", c.cfg.Concurrency).
		Int("retries", c.cfg.Retries).
		Msg("Starting banner scan")

	// Feeder. On cancellation the remaining targets are released unsent.
	go func() {
		for _, target := range targets {
			select {
			case tasks <- task{target: target, attempt: 1, started: time.Now()}:
			case <-runCtx.Done():
				pending.Done()
			}
		}
	}()

	go func() {
		pending.Wait()
		close(tasks)
		close(results)
		if cancel != nil {
			cancel()
		}
		c.logger.Info().Msg("Banner scan completed")
	}()

	return results
}

func (c *Coordinator) worker(ctx context.Context, pending *sync.WaitGroup, tasks chan task, results chan<- Result) {
	for tk := range tasks {
		c.runAttempt(ctx, pending, tk, tasks, results)
	}
}

func (c *Coordinator) runAttempt(ctx context.Context, pending *sync.WaitGroup, tk task, tasks chan task, results chan<- Result) {
	if ctx.Err() != nil {
		pending.Done()
		return
	}

	c.logger.Debug().
		Str("target", tk.target.String()).
		Int("attempt", tk.attempt).
		Str("status", StatusInFlight.String()).
		Msg("Probing target")

	outcome := c.fetcher.Fetch(ctx, tk.target)

	// A cancelled run drops in-flight targets silently.
	if ctx.Err() != nil {
		pending.Done()
		return
	}

	if outcome.Kind == probe.KindBanner {
		c.emit(ctx, pending, results, Result{
			Target:         tk.target,
			Status:         StatusSucceeded,
			Outcome:        outcome,
			Classification: c.catalog.Classify(outcome.Banner),
			Attempts:       tk.attempt,
			Elapsed:        time.Since(tk.started),
		})
		return
	}

	if outcome.Retryable() && tk.attempt <= c.cfg.Retries {
		c.logger.Debug().
			Str("target", tk.target.String()).
			Int("attempt", tk.attempt).
			Str("status", StatusRetrying.String()).
			Str("detail", outcome.Detail).
			Msg("Scheduling retry")
		c.scheduleRetry(ctx, pending, tasks, task{
			target:  tk.target,
			attempt: tk.attempt + 1,
			started: tk.started,
		})
		return
	}

	c.emit(ctx, pending, results, Result{
		Target:   tk.target,
		Status:   StatusFailed,
		Outcome:  outcome,
		Attempts: tk.attempt,
		Elapsed:  time.Since(tk.started),
	})
}

// scheduleRetry waits out the backoff on its own goroutine so the worker that
// hit the failure returns to the pool immediately. The target stays pending
// until its retry reaches a terminal state or the run is cancelled.
func (c *Coordinator) scheduleRetry(ctx context.Context, pending *sync.WaitGroup, tasks chan task, tk task) {
	go func() {
		timer := time.NewTimer(c.cfg.Backoff)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			pending.Done()
			return
		}

		select {
		case tasks <- tk:
		case <-ctx.Done():
			pending.Done()
		}
	}()
}

func (c *Coordinator) emit(ctx context.Context, pending *sync.WaitGroup, results chan<- Result, r Result) {
	defer pending.Done()

	select {
	case results <- r:
	case <-ctx.Done():
	}
}
