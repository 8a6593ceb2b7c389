package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"shortlink/internal/config"
	"shortlink/internal/metrics"
	"shortlink/internal/model"
)

// ClickStore is the authoritative side of click accounting.
type ClickStore interface {
	IncrementClicks(ctx context.Context, code string) error
	RecordClick(ctx context.Context, code string, meta model.ClickMetadata) error
}

// ClickCounter bumps the ephemeral "clicks:<code>" counter.
type ClickCounter interface {
	IncrClicks(ctx context.Context, code string) (int64, bool)
}

type clickTask struct {
	ctx  context.Context
	code string
	meta model.ClickMetadata
}

// ClickAccountant records clicks on a fixed pool of workers fed by a bounded
// queue. Nothing it does is ever reported back to the redirect path.
type ClickAccountant struct {
	store   ClickStore
	counter ClickCounter
	workers int
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	stopped bool
	tasks   chan clickTask
	wg      sync.WaitGroup
	start   sync.Once
	stop    sync.Once
}

func NewClickAccountant(store ClickStore, counter ClickCounter, cfg config.ClicksConfig, logger *zap.Logger, m *metrics.Metrics) *ClickAccountant {
	return &ClickAccountant{
		store:   store,
		counter: counter,
		workers: cfg.Workers,
		timeout: cfg.Timeout,
		logger:  logger.Named("clicks"),
		metrics: m,
		tasks:   make(chan clickTask, cfg.QueueSize),
	}
}

func (a *ClickAccountant) Start() {
	a.start.Do(func() {
		for i := 0; i < a.workers; i++ {
			a.wg.Add(1)
			go a.worker()
		}
		a.logger.Info("click accountant started", zap.Int("workers", a.workers), zap.Int("queue", cap(a.tasks)))
	})
}

// Stop closes the queue and waits for the workers to drain it, or for ctx to expire.
func (a *ClickAccountant) Stop(ctx context.Context) error {
	a.stop.Do(func() {
		a.mu.Lock()
		a.stopped = true
		close(a.tasks)
		a.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("click accountant stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("service.ClickAccountant.Stop: %d clicks left in queue: %w", len(a.tasks), ctx.Err())
	}
}

// Enqueue never blocks. It returns false when the click was dropped because
// the queue is full or the accountant has stopped.
func (a *ClickAccountant) Enqueue(ctx context.Context, code string, meta model.ClickMetadata) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.stopped {
		a.dropped(code, "stopped")
		return false
	}

	select {
	case a.tasks <- clickTask{ctx: context.WithoutCancel(ctx), code: code, meta: meta}:
		a.metrics.ClickTasks.WithLabelValues("queued").Inc()
		return true
	default:
		a.dropped(code, "queue full")
		return false
	}
}

// Record performs the three accounting steps independently. A failing step is
// logged and counted; the remaining steps still run.
func (a *ClickAccountant) Record(ctx context.Context, code string, meta model.ClickMetadata) {
	if err := a.store.IncrementClicks(ctx, code); err != nil {
		a.fail("increment", code, err)
	}
	if !meta.Empty() {
		if err := a.store.RecordClick(ctx, code, meta); err != nil {
			a.fail("event", code, err)
		}
	}
	// The cache gateway logs and counts its own failures.
	a.counter.IncrClicks(ctx, code)
}

func (a *ClickAccountant) worker() {
	defer a.wg.Done()
	for task := range a.tasks {
		a.handle(task)
	}
}

func (a *ClickAccountant) handle(task clickTask) {
	defer func() {
		if r := recover(); r != nil {
			a.metrics.ClickFailures.WithLabelValues("panic").Inc()
			a.logger.Error("click task panicked", zap.String("code", task.code), zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(task.ctx, a.timeout)
	defer cancel()

	a.Record(ctx, task.code, task.meta)
	a.metrics.ClickTasks.WithLabelValues("done").Inc()
}

func (a *ClickAccountant) dropped(code, reason string) {
	a.metrics.ClickTasks.WithLabelValues("dropped").Inc()
	a.logger.Warn("click dropped", zap.String("code", code), zap.String("reason", reason))
}

func (a *ClickAccountant) fail(step, code string, err error) {
	a.metrics.ClickFailures.WithLabelValues(step).Inc()
	a.logger.Warn("click accounting failed", zap.String("step", step), zap.String("code", code), zap.Error(err))
}
