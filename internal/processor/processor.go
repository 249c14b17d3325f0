package processor

import (
	"context"
	"sync"
	"time"

	"github.com/nimasrn/smpp-transport/internal/model"
	"github.com/nimasrn/smpp-transport/internal/queue"
	"github.com/nimasrn/smpp-transport/pkg/logger"
	"github.com/nimasrn/smpp-transport/pkg/prom"
	"github.com/nimasrn/smpp-transport/pkg/redis"
	"github.com/nimasrn/smpp-transport/pkg/worker"
)

const (
	DefaultConcurrency     = 16
	DefaultMetricsInterval = 30 * time.Second
	DefaultHealthInterval  = 30 * time.Second
	DefaultShutdownTimeout = time.Minute
	highLagThreshold       = 10_000
)

// Processor handles one queue entry and settles it.
type Processor interface {
	Process(ctx context.Context, message *queue.Message) error
	GetType() string
}

type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[model.RequestStatus]int64, error)
}

type ServiceOptions struct {
	Concurrency     int
	MetricsInterval time.Duration
	HealthInterval  time.Duration
	ShutdownTimeout time.Duration
	// Ready gates polling; jobs are not popped while it reports false.
	Ready func() bool
}

// ProcessorService feeds queue entries to a bounded worker pool and runs the
// periodic sweeper, metrics and health loops around it.
type ProcessorService struct {
	adapter   redis.RedisAdapter
	queue     *queue.Queue
	processor Processor
	sweeper   *ExpirySweeper
	counter   StatusCounter
	opts      ServiceOptions
	metrics   *ServiceMetrics
	worker    *worker.WorkerManager

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewProcessorService(adapter redis.RedisAdapter, q *queue.Queue, p Processor, sweeper *ExpirySweeper, counter StatusCounter, opts ServiceOptions) *ProcessorService {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.MetricsInterval <= 0 {
		opts.MetricsInterval = DefaultMetricsInterval
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = DefaultHealthInterval
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessorService{
		adapter:   adapter,
		queue:     q,
		processor: p,
		sweeper:   sweeper,
		counter:   counter,
		opts:      opts,
		metrics:   NewServiceMetrics(),
		worker:    worker.NewWorkerManager(opts.Concurrency, opts.Concurrency, nil),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *ProcessorService) Metrics() *ServiceMetrics {
	return s.metrics
}

func (s *ProcessorService) Start() error {
	logger.Info("Starting Processor Service...", "processor", s.processor.GetType())

	s.worker.SetWorker(s.workerHandler)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(); err != nil {
			logger.Info("Worker manager stopped", "reason", err)
		}
	}()

	opts := []queue.ConsumeOption{queue.WithCapacity(s.worker.Free)}
	if s.opts.Ready != nil {
		opts = append(opts, queue.WithReadyGate(s.opts.Ready))
	}
	if err := s.queue.Consume(s.messageHandler, opts...); err != nil {
		s.cancel()
		s.worker.Exit()
		return err
	}

	s.wg.Add(2)
	go s.metricsReporter()
	go s.healthChecker()

	if s.sweeper != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.sweeper.Run(s.ctx)
		}()
	}

	logger.Info("Processor Service started", "queue", s.queue.Name(), "workers", s.opts.Concurrency)
	return nil
}

// Stop stops polling, lets in-flight jobs finish, then shuts the pool down.
// Jobs still running at the deadline are cancelled and retried by their handler
// or reclaimed from the pending list.
func (s *ProcessorService) Stop() {
	logger.Info("Shutting down Processor Service...")

	if err := s.queue.Stop(s.opts.ShutdownTimeout); err != nil {
		logger.Warn("Error stopping queue", "error", err)
	}

	deadline := time.Now().Add(s.opts.ShutdownTimeout)
	for s.worker.Busy() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if busy := s.worker.Busy(); busy > 0 {
		logger.Warn("Shutdown deadline reached with jobs in flight", "busy", busy)
	}

	s.cancel()
	s.worker.Exit()
	s.wg.Wait()

	s.reportMetrics()
	logger.Info("Processor Service stopped")
}

// messageHandler runs on the poll loop; capacity gating keeps Enqueue from blocking.
func (s *ProcessorService) messageHandler(_ context.Context, msg *queue.Message) {
	s.worker.Enqueue(msg)
}

func (s *ProcessorService) workerHandler(workerIndex int, job interface{}) {
	msg, ok := job.(*queue.Message)
	if !ok {
		logger.Error("Invalid job type in worker", "worker", workerIndex)
		return
	}

	pool := s.processor.GetType()
	prom.WorkerStarted(pool)
	defer prom.WorkerFinished(pool)

	start := time.Now()
	if err := s.processor.Process(s.ctx, msg); err != nil {
		s.metrics.RecordFailure()
		logger.Error("Failed to process message", "worker", workerIndex, "entry", msg.ID, "error", err)
		// Unsettled entries stay pending and are reclaimed after the visibility timeout.
		_ = msg.Nack()
		return
	}
	s.metrics.RecordSuccess(time.Since(start))
}

func (s *ProcessorService) metricsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportMetrics()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) reportMetrics() {
	stats := s.metrics.Snapshot()
	logger.Info("Metrics",
		"total_processed", stats.Processed,
		"total_failed", stats.Failed,
		"rate_per_second", stats.RatePerSecond,
		"avg_duration_ms", stats.AvgDuration.Milliseconds(),
		"uptime_seconds", stats.Uptime.Seconds(),
		"workers", s.worker.Size(),
		"worker_backlog", s.worker.GetUnreadCount())
	prom.SetWorkerPool(s.processor.GetType(), s.worker.Size(), s.worker.GetUnreadCount())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if qStats, err := s.queue.GetStats(ctx); err == nil {
		for _, p := range queue.Priorities {
			prom.SetQueueDepth(string(p), qStats.Depth(p))
		}
		logger.Info("Queue stats",
			"high", qStats.Depth(queue.PriorityHigh),
			"normal", qStats.Depth(queue.PriorityNormal),
			"low", qStats.Depth(queue.PriorityLow),
			"processing", qStats.Processing,
			"dead_letter", qStats.DeadLetter)
	}

	if s.counter != nil {
		if counts, err := s.counter.CountByStatus(ctx); err == nil {
			logger.Info("Request stats",
				"queued", counts[model.RequestStatusQueued],
				"sent", counts[model.RequestStatusSent],
				"delivered", counts[model.RequestStatusDelivered],
				"failed", counts[model.RequestStatusFailed])
		}
	}
}

func (s *ProcessorService) healthChecker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.performHealthCheck()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) performHealthCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.adapter.Ping(ctx); err != nil {
		logger.Error("HEALTH CHECK FAILED: Redis connection error", "error", err)
		return
	}

	stats, err := s.queue.GetStats(ctx)
	if err != nil {
		logger.Warn("HEALTH CHECK WARNING: Queue stats unavailable", "error", err)
		return
	}
	for p, ps := range stats.Priorities {
		if ps.Pending > highLagThreshold {
			logger.Warn("HEALTH CHECK WARNING: Queue has high lag", "priority", p, "pending_messages", ps.Pending)
		}
	}
	if s.opts.Ready != nil && !s.opts.Ready() {
		logger.Warn("HEALTH CHECK WARNING: SMPP session not bound")
		return
	}
	logger.Debug("HEALTH CHECK: OK - Service healthy")
}
