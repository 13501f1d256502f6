package payment

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/storefront-payments/internal/core/datamodel/order"
)

type ReconcileJob struct {
	Order *order.Order
}

type Worker struct {
	ID         int
	WorkerPool chan chan ReconcileJob
	JobChannel chan ReconcileJob
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan ReconcileJob, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan ReconcileJob),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(ReconcileJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			w.WorkerPool <- w.JobChannel

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker reconciling order", "worker_id", w.ID, "order_id", job.Order.ID)
				processFunc(job)
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type OrderReconciler interface {
	StaleOrders(ctx context.Context, olderThan time.Duration, limit int) ([]*order.Order, error)
	ReconcileOrder(ctx context.Context, o *order.Order) (*StatusView, error)
}

type SweeperConfig struct {
	StaleAfter time.Duration
	Interval   time.Duration
	BatchSize  int
	MaxWorkers int
}

// Sweeper polls the gateway for pending sessions that no channel has
// settled, using a bounded worker pool.
type Sweeper struct {
	reconciler OrderReconciler
	cfg        SweeperConfig
	logger     *slog.Logger
}

func NewSweeper(reconciler OrderReconciler, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	return &Sweeper{reconciler: reconciler, cfg: cfg, logger: logger}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("reconcile sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("reconcile sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) RunOnce(ctx context.Context) (ReconcileSummary, error) {
	var summary ReconcileSummary

	orders, err := s.reconciler.StaleOrders(ctx, s.cfg.StaleAfter, s.cfg.BatchSize)
	if err != nil {
		return summary, err
	}
	if len(orders) == 0 {
		s.logger.Debug("no stale payment sessions")
		return summary, nil
	}

	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	poolSize := s.cfg.MaxWorkers
	if poolSize > len(orders) {
		poolSize = len(orders)
	}
	workerPool := make(chan chan ReconcileJob, poolSize)

	var (
		mu      sync.Mutex
		jobs    sync.WaitGroup
		running sync.WaitGroup
	)
	process := func(job ReconcileJob) {
		defer jobs.Done()
		view, err := s.reconciler.ReconcileOrder(ctx, job.Order)
		if err != nil {
			s.logger.Error("order reconciliation failed", "order_id", job.Order.ID, "error", err)
		}
		mu.Lock()
		summary.add(view, err)
		mu.Unlock()
	}

	for i := 0; i < poolSize; i++ {
		NewWorker(i, workerPool, s.logger).Start(poolCtx, &running, process)
	}

dispatch:
	for _, o := range orders {
		select {
		case jobChannel := <-workerPool:
			jobs.Add(1)
			// the worker owning jobChannel may already have exited on cancel
			select {
			case jobChannel <- ReconcileJob{Order: o}:
			case <-ctx.Done():
				jobs.Done()
				break dispatch
			}
		case <-ctx.Done():
			break dispatch
		}
	}

	jobs.Wait()
	cancel()
	running.Wait()

	s.logger.Info("reconcile sweep finished",
		"checked", summary.Checked,
		"completed", summary.Completed,
		"failed", summary.Failed,
		"pending", summary.Pending,
		"errors", summary.Errors)
	return summary, ctx.Err()
}
