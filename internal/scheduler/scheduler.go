package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pharmasentinel/orchestrator/internal/metrics"
	"github.com/pharmasentinel/orchestrator/internal/notify"
	"github.com/pharmasentinel/orchestrator/internal/pipeline"
)

// Runner executes pipeline runs. Satisfied by pipeline.Coordinator.
type Runner interface {
	RunFull(ctx context.Context, trigger string) (*pipeline.Run, error)
	RunQuick(ctx context.Context, trigger string) (*pipeline.Run, error)
}

// Config holds scheduler settings.
type Config struct {
	// Interval between periodic full runs.
	Interval time.Duration
	// MinInterval is the notification debounce: a notification arriving
	// less than this after the previous dispatch is dropped. Elapsed time
	// exactly equal to MinInterval dispatches.
	MinInterval time.Duration
	// Table filters notifications; changes to other tables are ignored.
	Table string
}

// Scheduler is the single owner of run triggering. One goroutine consumes
// both trigger sources, applies the debounce and submits runs to the pool,
// so no locking is needed around the debounce timestamp.
type Scheduler struct {
	config Config
	runner Runner
	pool   *Pool
	events <-chan notify.Notification
	logger *zap.Logger

	lastDispatch time.Time
	now          func() time.Time
}

// New creates a scheduler. events may be nil when no notification source
// is configured; the periodic ticker still runs.
func New(config Config, runner Runner, pool *Pool, events <-chan notify.Notification, logger *zap.Logger) *Scheduler {
	if config.Interval == 0 {
		config.Interval = time.Hour
	}
	if config.MinInterval == 0 {
		config.MinInterval = 2 * time.Second
	}
	return &Scheduler{
		config: config,
		runner: runner,
		pool:   pool,
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

// Run consumes triggers until ctx is cancelled, then stops the pool,
// letting queued runs drain.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("Scheduler started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("debounce", s.config.MinInterval),
		zap.String("table", s.config.Table),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping")
			s.pool.Stop()
			return

		case <-ticker.C:
			metrics.TriggersReceived.WithLabelValues("periodic").Inc()
			s.dispatchFull(ctx, "periodic")

		case n, ok := <-s.events:
			if !ok {
				s.events = nil
				continue
			}
			s.handleNotification(ctx, n)
		}
	}
}

// handleNotification applies the relevance filter and the debounce before
// dispatching a quick run. Relevance requires both the monitored table and
// a data mutation; source-specific events (heartbeats, reconnect markers)
// carry other op strings and must not trigger runs.
func (s *Scheduler) handleNotification(ctx context.Context, n notify.Notification) {
	metrics.TriggersReceived.WithLabelValues("notification").Inc()

	if s.config.Table != "" && n.Table != s.config.Table {
		s.logger.Debug("Ignoring change on unwatched table", zap.String("table", n.Table))
		return
	}
	if !mutationOp(n.Op) {
		s.logger.Debug("Ignoring non-mutation notification",
			zap.String("table", n.Table), zap.String("op", n.Op))
		return
	}
	if s.now().Sub(s.lastDispatch) < s.config.MinInterval {
		metrics.TriggersDebounced.Inc()
		s.logger.Debug("Notification debounced",
			zap.String("table", n.Table), zap.String("op", n.Op))
		return
	}

	s.logger.Info("Change notification accepted",
		zap.String("table", n.Table), zap.String("op", n.Op))
	s.dispatchQuick(ctx, "notification")
}

func mutationOp(op string) bool {
	switch op {
	case "INSERT", "UPDATE", "DELETE":
		return true
	}
	return false
}

func (s *Scheduler) dispatchFull(ctx context.Context, trigger string) {
	s.lastDispatch = s.now()
	s.pool.Submit(func() {
		if _, err := s.runner.RunFull(ctx, trigger); err != nil {
			s.logger.Error("Full run failed", zap.Error(err))
		}
	})
}

func (s *Scheduler) dispatchQuick(ctx context.Context, trigger string) {
	s.lastDispatch = s.now()
	s.pool.Submit(func() {
		if _, err := s.runner.RunQuick(ctx, trigger); err != nil {
			s.logger.Error("Quick run failed", zap.Error(err))
		}
	})
}
