package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"omnibox.app/ingest/internal/model"
)

// DispatcherConfig sizes the per-platform isolation boundary.
type DispatcherConfig struct {
	WorkersPerPlatform    int
	QueueDepthPerPlatform int
	RunTimeout            time.Duration
}

type job struct {
	ctx     context.Context
	payload json.RawMessage
	done    chan outcome
}

type outcome struct {
	result Result
	err    error
}

// Dispatcher runs an independent worker pool per platform so that one
// platform's slowdown or persistent failure cannot stall ingestion for
// another. A full platform queue sheds load as RetryableFailure instead of
// blocking the webhook caller.
type Dispatcher struct {
	pipeline *Pipeline
	cfg      DispatcherConfig
	queues   map[model.Platform]chan job
	logger   *slog.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewDispatcher(pipeline *Pipeline, platforms []model.Platform, cfg DispatcherConfig, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if cfg.WorkersPerPlatform <= 0 {
		cfg.WorkersPerPlatform = 4
	}
	if cfg.QueueDepthPerPlatform <= 0 {
		cfg.QueueDepthPerPlatform = 256
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 10 * time.Second
	}

	d := &Dispatcher{
		pipeline: pipeline,
		cfg:      cfg,
		queues:   make(map[model.Platform]chan job, len(platforms)),
		logger:   log,
		stopCh:   make(chan struct{}),
	}
	for _, p := range platforms {
		d.queues[p] = make(chan job, cfg.QueueDepthPerPlatform)
	}
	return d
}

// Start launches the worker pools. Call Stop to drain them.
func (d *Dispatcher) Start() {
	for p, queue := range d.queues {
		for i := 0; i < d.cfg.WorkersPerPlatform; i++ {
			d.wg.Add(1)
			go d.work(p, queue)
		}
	}
}

// Stop prevents new submissions and waits for in-flight runs to finish.
// Queued but unstarted jobs are abandoned; their callers get RetryableFailure
// and the platform redelivers.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
	d.wg.Wait()
}

// Ingest submits one event to its platform's pool and waits for the terminal
// result. Unknown platforms are rejected; a saturated platform or an expired
// caller deadline yields RetryableFailure.
func (d *Dispatcher) Ingest(ctx context.Context, plat model.Platform, payload json.RawMessage) (Result, error) {
	queue, ok := d.queues[plat]
	if !ok {
		return Result{Status: StatusRejected, Reason: fmt.Sprintf("unknown platform %q", plat)}, nil
	}

	j := job{ctx: ctx, payload: payload, done: make(chan outcome, 1)}

	select {
	case <-d.stopCh:
		err := fmt.Errorf("dispatcher stopped")
		return Result{Status: StatusRetryable, Reason: err.Error()}, err
	case <-ctx.Done():
		return Result{Status: StatusRetryable, Reason: ctx.Err().Error()}, ctx.Err()
	case queue <- j:
	default:
		err := fmt.Errorf("platform %s ingestion queue full", plat)
		return Result{Status: StatusRetryable, Reason: err.Error()}, err
	}

	select {
	case <-ctx.Done():
		return Result{Status: StatusRetryable, Reason: ctx.Err().Error()}, ctx.Err()
	case <-d.stopCh:
		// Prefer a result that raced the shutdown.
		select {
		case out := <-j.done:
			return out.result, out.err
		default:
		}
		err := fmt.Errorf("dispatcher stopped")
		return Result{Status: StatusRetryable, Reason: err.Error()}, err
	case out := <-j.done:
		return out.result, out.err
	}
}

func (d *Dispatcher) work(plat model.Platform, queue chan job) {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopCh:
			return
		case j := <-queue:
			runCtx, cancel := context.WithTimeout(j.ctx, d.cfg.RunTimeout)
			result, err := d.runSafe(runCtx, plat, j.payload)
			cancel()
			j.done <- outcome{result: result, err: err}
		}
	}
}

// runSafe keeps a panicking pipeline run from taking down the whole pool.
func (d *Dispatcher) runSafe(ctx context.Context, plat model.Platform, payload json.RawMessage) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in pipeline run: %v", r)
			result = Result{Status: StatusRetryable, Reason: err.Error()}
			d.logger.ErrorContext(ctx, "panic recovered in pipeline run", "platform", plat, "panic", r)
		}
	}()
	return d.pipeline.Ingest(ctx, plat, payload)
}
