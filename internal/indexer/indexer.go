package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	rerrors "rscope/internal/errors"
	"rscope/internal/slogutil"
)

// Handler indexes job.URI and returns the files it references directly.
type Handler func(ctx context.Context, job *Job) ([]string, error)

// Config bounds the queue and the transitive expansion.
type Config struct {
	QueueSize          int
	MaxTransitiveDepth int
	// OnIdle runs on the worker each time the queue drains after at least
	// one job completed, with the number of completed jobs.
	OnIdle func(completed int)
}

// DefaultConfig mirrors the onDemand configuration defaults.
func DefaultConfig() Config {
	return Config{QueueSize: 50, MaxTransitiveDepth: 2}
}

// Indexer runs jobs one at a time in submission order. A URI is queued at
// most once; re-submitting a queued URI returns the existing job.
type Indexer struct {
	handler Handler
	config  Config
	logger  *slog.Logger

	mu      sync.Mutex
	queue   []*Job
	pending map[string]*Job
	running *Job
	stopped bool

	wake   chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	processed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// New creates an indexer. Call Start to launch the worker.
func New(handler Handler, config Config, logger *slog.Logger) *Indexer {
	if config.QueueSize <= 0 {
		config.QueueSize = 50
	}
	if config.MaxTransitiveDepth < 0 {
		config.MaxTransitiveDepth = 0
	}
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Indexer{
		handler: handler,
		config:  config,
		logger:  logger,
		pending: make(map[string]*Job),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker.
func (ix *Indexer) Start() {
	ix.logger.Info("Starting background indexer",
		"queueSize", ix.config.QueueSize,
		"maxTransitiveDepth", ix.config.MaxTransitiveDepth)
	ix.wg.Add(1)
	go ix.worker()
}

// Submit queues uri. It fails with QUEUE_FULL when the queue is at
// capacity and INDEXER_STOPPED after Stop.
func (ix *Indexer) Submit(uri string, depth int, reason Reason) (*Job, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.stopped {
		return nil, rerrors.NewRscopeError(rerrors.IndexerStopped, "indexer is shutting down", nil)
	}
	if job, ok := ix.pending[uri]; ok {
		if depth < job.Depth {
			job.Depth = depth
		}
		return job, nil
	}
	if len(ix.queue) >= ix.config.QueueSize {
		ix.rejected.Add(1)
		return nil, rerrors.NewRscopeError(rerrors.QueueFull,
			fmt.Sprintf("index queue full (%d jobs)", len(ix.queue)), nil).
			WithDetails(map[string]string{"uri": uri})
	}

	job := NewJob(uri, depth, reason)
	ix.queue = append(ix.queue, job)
	ix.pending[uri] = job
	ix.logger.Debug("Index job queued", "jobId", job.ID, "uri", uri, "depth", depth, "reason", reason)

	select {
	case ix.wake <- struct{}{}:
	default:
	}
	return job, nil
}

// Stop cancels the running job, drops queued jobs and waits up to timeout
// for the worker to exit.
func (ix *Indexer) Stop(timeout time.Duration) error {
	ix.mu.Lock()
	if ix.stopped {
		ix.mu.Unlock()
		return nil
	}
	ix.stopped = true
	for _, job := range ix.queue {
		job.MarkCancelled()
	}
	ix.queue = nil
	ix.pending = make(map[string]*Job)
	ix.mu.Unlock()

	ix.logger.Info("Stopping background indexer")
	close(ix.done)
	ix.cancel()

	finished := make(chan struct{})
	go func() {
		ix.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		ix.logger.Info("Background indexer stopped cleanly")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("indexer shutdown timed out after %v", timeout)
	}
}

// QueueLength returns the number of queued jobs.
func (ix *Indexer) QueueLength() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.queue)
}

// IsQueued reports whether uri is waiting or running.
func (ix *Indexer) IsQueued(uri string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.pending[uri]; ok {
		return true
	}
	return ix.running != nil && ix.running.URI == uri
}

// Idle reports whether there is nothing queued or running.
func (ix *Indexer) Idle() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.queue) == 0 && ix.running == nil
}

// WaitIdle blocks until the indexer is idle or ctx ends.
func (ix *Indexer) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for !ix.Idle() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (ix *Indexer) next() *Job {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if len(ix.queue) == 0 {
		return nil
	}
	job := ix.queue[0]
	ix.queue[0] = nil
	ix.queue = ix.queue[1:]
	delete(ix.pending, job.URI)
	ix.running = job
	return job
}

func (ix *Indexer) worker() {
	defer ix.wg.Done()
	completed := 0
	for {
		select {
		case <-ix.done:
			return
		case <-ix.wake:
		}
		for {
			job := ix.next()
			if job == nil {
				break
			}
			if ix.process(job) {
				completed++
			}
			if ix.ctx.Err() != nil {
				return
			}
		}
		if completed > 0 && ix.config.OnIdle != nil {
			ix.config.OnIdle(completed)
		}
		completed = 0
		// running stays set through OnIdle so WaitIdle observes its effects
		ix.mu.Lock()
		ix.running = nil
		ix.mu.Unlock()
	}
}

func (ix *Indexer) process(job *Job) (ok bool) {
	job.MarkStarted()
	defer func() {
		if p := recover(); p != nil {
			job.MarkFailed(fmt.Errorf("panic: %v", p))
			ix.failed.Add(1)
			ix.logger.Error("Index job panicked", "jobId", job.ID, "uri", job.URI, "panic", fmt.Sprint(p))
			ok = false
		}
	}()

	next, err := ix.handler(ix.ctx, job)
	if err != nil {
		if errors.Is(err, context.Canceled) || ix.ctx.Err() != nil {
			job.MarkCancelled()
			ix.logger.Debug("Index job cancelled", "jobId", job.ID, "uri", job.URI)
			return false
		}
		job.MarkFailed(err)
		ix.failed.Add(1)
		ix.logger.Warn("Index job failed", "jobId", job.ID, "uri", job.URI, "error", err.Error())
		return false
	}
	job.MarkCompleted()
	ix.processed.Add(1)
	ix.logger.Debug("Index job completed", "jobId", job.ID, "uri", job.URI, "duration", job.Duration())

	if job.Depth >= ix.config.MaxTransitiveDepth {
		return true
	}
	for _, uri := range next {
		if _, err := ix.Submit(uri, job.Depth+1, ReasonTransitive); err != nil {
			ix.logger.Debug("Transitive index job not queued", "uri", uri, "error", err.Error())
		}
	}
	return true
}

// Stats returns indexer counters.
func (ix *Indexer) Stats() map[string]interface{} {
	ix.mu.Lock()
	queued := len(ix.queue)
	running := ix.running != nil
	ix.mu.Unlock()
	return map[string]interface{}{
		"queueLength":    queued,
		"queueCapacity":  ix.config.QueueSize,
		"running":        running,
		"processedTotal": ix.processed.Load(),
		"failedTotal":    ix.failed.Load(),
		"rejectedTotal":  ix.rejected.Load(),
	}
}
