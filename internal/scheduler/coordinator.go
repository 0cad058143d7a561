// Package scheduler runs the recurring outreach jobs. Each job has its own
// non-overlap guard: a tick that arrives while the previous run is still
// active is skipped, never queued.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/outreach-orchestrator/internal/eventbus"
	"github.com/wolfman30/outreach-orchestrator/internal/jobruns"
	"github.com/wolfman30/outreach-orchestrator/internal/observability/metrics"
	"github.com/wolfman30/outreach-orchestrator/internal/outreach"
	"github.com/wolfman30/outreach-orchestrator/pkg/logging"
)

var (
	ErrUnknownJob   = errors.New("scheduler: unknown job")
	ErrDuplicateJob = errors.New("scheduler: job already registered")
)

const (
	defaultCeiling = 5 * time.Minute
	ledgerTimeout  = 5 * time.Second
)

// JobFunc is a job body. It must stop between items once ctx is done.
type JobFunc func(ctx context.Context) *outreach.Report

// Ledger records finished runs.
type Ledger interface {
	Record(ctx context.Context, run jobruns.Run) error
}

// RunSummary describes the last finished run of a job.
type RunSummary struct {
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Counts     outreach.Counts `json:"counts"`
	Abandoned  bool            `json:"abandoned"`
	Panicked   bool            `json:"panicked"`
}

// JobStatus is a snapshot of one registered job.
type JobStatus struct {
	Name         string      `json:"name"`
	Interval     string      `json:"interval"`
	Running      bool        `json:"running"`
	SkippedTicks int64       `json:"skipped_ticks"`
	LastRun      *RunSummary `json:"last_run,omitempty"`
}

type job struct {
	name     string
	interval time.Duration
	run      JobFunc

	running atomic.Bool
	skipped atomic.Int64

	mu   sync.Mutex
	last *RunSummary
}

// Coordinator owns the job timers.
type Coordinator struct {
	mu      sync.RWMutex
	jobs    map[string]*job
	ceiling time.Duration

	bus     *eventbus.Bus
	logger  *logging.Logger
	metrics *metrics.JobMetrics
	ledger  Ledger
	tracer  trace.Tracer

	base context.Context
	wg   sync.WaitGroup
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithCeiling bounds each invocation.
func WithCeiling(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.ceiling = d
		}
	}
}

// WithMetrics records run metrics.
func WithMetrics(m *metrics.JobMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithLedger records every finished run.
func WithLedger(l Ledger) Option {
	return func(c *Coordinator) {
		c.ledger = l
	}
}

// NewCoordinator creates a coordinator with no jobs.
func NewCoordinator(bus *eventbus.Bus, logger *logging.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = logging.Default()
	}
	c := &Coordinator{
		jobs:    make(map[string]*job),
		ceiling: defaultCeiling,
		bus:     bus,
		logger:  logger,
		tracer:  otel.Tracer("outreach.internal.scheduler"),
		base:    context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a job. It must be called before Start. A zero interval
// registers an on-demand job with no timer.
func (c *Coordinator) Register(name string, interval time.Duration, fn JobFunc) error {
	if interval < 0 {
		return fmt.Errorf("scheduler: job %s: negative interval", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	c.jobs[name] = &job{name: name, interval: interval, run: fn}
	return nil
}

// Start launches one timer goroutine per job. Timers stop when ctx is done;
// runs already in flight see the cancellation at their next item boundary.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	c.base = ctx
	jobs := make([]*job, 0, len(c.jobs))
	for _, j := range c.jobs {
		if j.interval > 0 {
			jobs = append(jobs, j)
		}
	}
	c.mu.Unlock()

	for _, j := range jobs {
		c.logger.Info("starting scheduled job", "job", j.name, "interval", j.interval.String())
		c.wg.Add(1)
		go c.loop(ctx, j)
	}
}

// Wait blocks until every timer and in-flight run has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) loop(ctx context.Context, j *job) {
	defer c.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("scheduled job shutting down", "job", j.name)
			return
		case <-ticker.C:
			c.fire(ctx, j)
		}
	}
}

// fire starts j in the background unless it is already running.
func (c *Coordinator) fire(ctx context.Context, j *job) bool {
	if !j.running.CompareAndSwap(false, true) {
		n := j.skipped.Add(1)
		c.logger.Warn("previous run still active; skipping tick", "job", j.name, "skipped_total", n)
		c.metrics.ObserveSkippedTick(j.name)
		c.bus.Warn(fmt.Sprintf("%s still running; tick skipped", j.name), map[string]any{"job": j.name})
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer j.running.Store(false)
		c.execute(ctx, j)
	}()
	return true
}

// TriggerNow starts a job on demand under the same guard as its timer. It
// reports false when the job is already running.
func (c *Coordinator) TriggerNow(name string) (bool, error) {
	c.mu.RLock()
	j, ok := c.jobs[name]
	base := c.base
	c.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return c.fire(base, j), nil
}

// RunNow runs a job synchronously under its guard. The report is nil when
// the job was already running or panicked.
func (c *Coordinator) RunNow(ctx context.Context, name string) (*outreach.Report, bool, error) {
	c.mu.RLock()
	j, ok := c.jobs[name]
	c.mu.RUnlock()
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !j.running.CompareAndSwap(false, true) {
		j.skipped.Add(1)
		c.metrics.ObserveSkippedTick(j.name)
		return nil, false, nil
	}
	defer j.running.Store(false)
	return c.execute(ctx, j), true, nil
}

func (c *Coordinator) execute(parent context.Context, j *job) (report *outreach.Report) {
	ctx, cancel := context.WithTimeout(parent, c.ceiling)
	defer cancel()
	ctx, span := c.tracer.Start(ctx, "scheduler."+j.name)
	defer span.End()

	started := time.Now().UTC()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("scheduled job panicked", "job", j.name, "panic", fmt.Sprint(r))
			span.SetStatus(codes.Error, "panic")
			span.RecordError(fmt.Errorf("panic: %v", r))
			c.bus.Error(fmt.Sprintf("%s crashed", j.name), map[string]any{"job": j.name, "panic": fmt.Sprint(r)})
			c.finish(ctx, j, nil, started, true)
			report = nil
		}
	}()

	report = j.run(ctx)
	if report == nil {
		report = outreach.NewReport(j.name, started)
		report.FinishedAt = time.Now().UTC()
	}
	counts := report.Counts()
	span.SetAttributes(
		attribute.Int("scheduler.items.success", counts.Success),
		attribute.Int("scheduler.items.skipped", counts.Skipped),
		attribute.Int("scheduler.items.failed", counts.Failed),
		attribute.Bool("scheduler.abandoned", report.Abandoned),
	)
	c.finish(ctx, j, report, started, false)
	return report
}

func (c *Coordinator) finish(ctx context.Context, j *job, report *outreach.Report, started time.Time, panicked bool) {
	finished := time.Now().UTC()
	summary := RunSummary{StartedAt: started, FinishedAt: finished, Panicked: panicked}
	var failedKeys []string
	if report != nil {
		summary.Counts = report.Counts()
		summary.Abandoned = report.Abandoned
		failedKeys = report.FailedKeys()
	}

	j.mu.Lock()
	j.last = &summary
	j.mu.Unlock()

	result := "ok"
	switch {
	case panicked:
		result = "panic"
	case summary.Abandoned:
		result = "abandoned"
	}
	duration := finished.Sub(started)
	c.metrics.ObserveRun(j.name, result, duration.Seconds())
	c.metrics.ObserveItems(j.name, string(outreach.OutcomeSuccess), summary.Counts.Success)
	c.metrics.ObserveItems(j.name, string(outreach.OutcomeSkipped), summary.Counts.Skipped)
	c.metrics.ObserveItems(j.name, string(outreach.OutcomeFailed), summary.Counts.Failed)

	if !panicked {
		c.logger.Info("scheduled job finished",
			"job", j.name,
			"duration_ms", duration.Milliseconds(),
			"success", summary.Counts.Success,
			"skipped", summary.Counts.Skipped,
			"failed", summary.Counts.Failed,
			"abandoned", summary.Abandoned,
		)
		if total := summary.Counts.Success + summary.Counts.Skipped + summary.Counts.Failed; total > 0 || summary.Abandoned {
			msg := fmt.Sprintf("%s: %d succeeded, %d skipped, %d failed", j.name,
				summary.Counts.Success, summary.Counts.Skipped, summary.Counts.Failed)
			extra := map[string]any{"job": j.name, "abandoned": summary.Abandoned}
			if summary.Counts.Failed > 0 || summary.Abandoned {
				c.bus.Warn(msg, extra)
			} else {
				c.bus.Info(msg, extra)
			}
		}
	}

	if c.ledger == nil {
		return
	}
	ledgerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()
	err := c.ledger.Record(ledgerCtx, jobruns.Run{
		Job:        j.name,
		StartedAt:  started,
		FinishedAt: finished,
		Succeeded:  summary.Counts.Success,
		Skipped:    summary.Counts.Skipped,
		Failed:     summary.Counts.Failed,
		Abandoned:  summary.Abandoned,
		Panicked:   panicked,
		FailedKeys: failedKeys,
	})
	if err != nil {
		c.logger.Warn("failed to record job run", "job", j.name, "error", err)
	}
}

// Status lists the registered jobs by name.
func (c *Coordinator) Status() []JobStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]JobStatus, 0, len(c.jobs))
	for _, j := range c.jobs {
		interval := "on demand"
		if j.interval > 0 {
			interval = j.interval.String()
		}
		st := JobStatus{
			Name:         j.name,
			Interval:     interval,
			Running:      j.running.Load(),
			SkippedTicks: j.skipped.Load(),
		}
		j.mu.Lock()
		if j.last != nil {
			last := *j.last
			st.LastRun = &last
		}
		j.mu.Unlock()
		out = append(out, st)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}
