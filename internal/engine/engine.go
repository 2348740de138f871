// Package engine is the client side of logsync: it scans watched
// directories, detects new and modified files, queues them and uploads them
// to the ingestion server on an independent schedule.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bamsammich/logsync/internal/metrics"
	"github.com/bamsammich/logsync/internal/stats"
	"github.com/jonboulle/clockwork"
)

// Config describes a client session.
type Config struct {
	Detector       DetectorConfig
	Uploader       Uploader
	CheckInterval  time.Duration
	UploadInterval time.Duration
	Workers        int
	Clock          clockwork.Clock
	Logger         *slog.Logger
	Stats          *stats.Collector
}

// DrainResult summarizes one drain of the queue.
type DrainResult struct {
	Attempted int
	Failed    int
}

// Engine runs detection and upload on two independent tickers.
type Engine struct {
	cfg      Config
	detector *Detector
	queue    *Queue
	pool     *WorkerPool
	clock    clockwork.Clock
	logger   *slog.Logger
	stats    *stats.Collector
	drainMu  sync.Mutex
}

// New creates an engine. The detector and worker pool share cfg's clock,
// logger and stats collector.
func New(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NewCollector()
	}
	if cfg.Detector.Queue == nil {
		cfg.Detector.Queue = NewQueue()
	}
	cfg.Detector.Clock = cfg.Clock
	cfg.Detector.Stats = cfg.Stats
	if cfg.Detector.Logger == nil {
		cfg.Detector.Logger = cfg.Logger
	}

	return &Engine{
		cfg:      cfg,
		detector: NewDetector(cfg.Detector),
		queue:    cfg.Detector.Queue,
		pool: NewWorkerPool(WorkerConfig{
			NumWorkers: cfg.Workers,
			Uploader:   cfg.Uploader,
			Stats:      cfg.Stats,
			Logger:     cfg.Logger,
		}),
		clock:  cfg.Clock,
		logger: cfg.Logger,
		stats:  cfg.Stats,
	}
}

// Queue returns the engine's upload queue.
func (e *Engine) Queue() *Queue {
	return e.queue
}

// Stats returns the session counters.
func (e *Engine) Stats() stats.Snapshot {
	return e.stats.Snapshot()
}

// Run performs an initial detection cycle, then detects on CheckInterval and
// drains the queue on UploadInterval until ctx is cancelled. A drain in
// progress at cancellation finishes the sends it already started.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("watching directories",
		"roots", e.cfg.Detector.Roots,
		"check_interval", e.cfg.CheckInterval,
		"upload_interval", e.cfg.UploadInterval)

	e.cycle(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.every(ctx, e.cfg.CheckInterval, e.cycle)
	}()
	go func() {
		defer wg.Done()
		e.every(ctx, e.cfg.UploadInterval, func(ctx context.Context) { e.Drain(ctx) })
	}()
	wg.Wait()

	e.logger.Info("client stopped", "stats", e.stats.Snapshot().String(), "pending", e.queue.Len())
	return nil
}

// every calls fn on each tick until ctx is done. Ticks that arrive while fn
// is running are coalesced.
func (e *Engine) every(ctx context.Context, d time.Duration, fn func(context.Context)) {
	ticker := e.clock.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			fn(ctx)
		}
	}
}

func (e *Engine) cycle(ctx context.Context) {
	_, _ = e.Detect(ctx) //nolint:errcheck // only cancellation fails a cycle
}

// Detect runs one detection cycle and logs what it queued.
func (e *Engine) Detect(ctx context.Context) (Result, error) {
	res, err := e.detector.Cycle(ctx)
	if err != nil {
		return res, err
	}
	if len(res.Changes) > 0 {
		e.logger.Info("detected new or updated files",
			"changes", len(res.Changes),
			"queued", res.Queued,
			"rejected", res.Rejected,
			"pending", e.queue.Len())
	}
	return res, nil
}

// Drain pops and sends tasks until the queue is empty or ctx is done. Tasks
// queued while the drain runs are sent by the same drain.
func (e *Engine) Drain(ctx context.Context) DrainResult {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()

	if e.queue.Len() == 0 {
		e.logger.Debug("no files to upload")
		return DrainResult{}
	}

	var res DrainResult
	tasks := make(chan UploadTask)
	errs := make(chan error)

	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for range errs {
			res.Failed++
		}
	}()

	go func() {
		defer close(tasks)
		for ctx.Err() == nil {
			task, ok := e.queue.Pop()
			if !ok {
				return
			}
			select {
			case tasks <- task:
				res.Attempted++
			case <-ctx.Done():
				e.queue.Push(task)
				return
			}
		}
	}()

	e.pool.Run(ctx, tasks, errs)
	close(errs)
	<-collected

	metrics.SetQueueDepth(e.queue.Len())
	e.logger.Info("upload cycle complete",
		"attempted", res.Attempted,
		"failed", res.Failed,
		"stats", e.stats.Snapshot().String())
	return res
}
