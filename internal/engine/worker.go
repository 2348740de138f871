package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bamsammich/logsync/internal/stats"
)

// Uploader sends one task to the server.
type Uploader interface {
	Send(ctx context.Context, task UploadTask) (Receipt, error)
}

// WorkerConfig controls the upload worker pool.
type WorkerConfig struct {
	NumWorkers int
	Uploader   Uploader
	Stats      *stats.Collector
	Logger     *slog.Logger
}

// WorkerPool sends queued tasks with a fixed number of workers. With one
// worker tasks are sent strictly in the order they arrive.
type WorkerPool struct {
	cfg WorkerConfig
}

// NewWorkerPool creates a worker pool.
func NewWorkerPool(cfg WorkerConfig) *WorkerPool {
	if cfg.NumWorkers < 1 {
		cfg.NumWorkers = 1
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NewCollector()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WorkerPool{cfg: cfg}
}

// Run starts workers that consume tasks. It blocks until tasks is closed and
// every received task has been sent. A task already handed to a worker is
// sent to completion even if ctx is cancelled. Errors are sent to errs,
// which must be drained by the caller, unless it is nil.
func (wp *WorkerPool) Run(ctx context.Context, tasks <-chan UploadTask, errs chan<- error) {
	sendCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for range wp.cfg.NumWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				if err := wp.processTask(sendCtx, task); err != nil && errs != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
}

func (wp *WorkerPool) processTask(ctx context.Context, task UploadTask) error {
	receipt, err := wp.cfg.Uploader.Send(ctx, task)
	if err != nil {
		wp.cfg.Stats.AddFilesFailed(1)
		wp.cfg.Logger.Error("upload failed, file dropped", "path", task.Record.Path, "error", err)
		return err
	}
	wp.cfg.Stats.AddUpload(task.Record.Size)
	wp.cfg.Logger.Info("uploaded", "path", task.Record.Path, "name", receipt.Name)
	return nil
}
