package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"inventory-decision-engine/internal/broker"
	"inventory-decision-engine/internal/models"
	"inventory-decision-engine/internal/service"
	"inventory-decision-engine/internal/util"

	"go.uber.org/zap"
)

// PostMortemRunner produces and acknowledges post-mortem reports
type PostMortemRunner interface {
	GeneratePostMortemByID(ctx context.Context, sessionID string) (*service.PostMortemReport, error)
	MarkNotified(ctx context.Context, sessionID string) (bool, error)
}

// ReportPublisher delivers a finished report to the notifier
type ReportPublisher interface {
	PublishPostMortemCompleted(ctx context.Context, report *service.PostMortemReport) error
}

// SessionLister lets the sweep find closed sessions whose event was missed
type SessionLister interface {
	ListTenants(ctx context.Context) ([]string, error)
	ListSessions(ctx context.Context, tenantID string) ([]models.FreezeSession, error)
}

// Claimer grants a short exclusive claim across processes; the Redis client
// satisfies it
type Claimer interface {
	ClaimOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// PostMortemConfig controls the post-mortem worker
type PostMortemConfig struct {
	Delay         time.Duration
	SweepInterval time.Duration
	ClaimTTL      time.Duration
}

// PostMortemWorker runs the post-mortem for each thawed session once its
// delay has passed and publishes the report exactly once.
// FREEZE_CLOSED events queue a session; a periodic sweep of the store picks
// up sessions whose event was lost or arrived while the worker was down.
type PostMortemWorker struct {
	consumer  *broker.Consumer
	handler   *broker.EventHandler
	runner    PostMortemRunner
	publisher ReportPublisher
	sessions  SessionLister
	claimer   Claimer
	cfg       PostMortemConfig
	now       func() time.Time

	mu      sync.Mutex
	pending map[string]time.Time

	logger *zap.Logger
}

// NewPostMortemWorker creates a worker. consumer may be nil, in which case
// only the sweep drives it.
func NewPostMortemWorker(
	consumer *broker.Consumer,
	runner PostMortemRunner,
	publisher ReportPublisher,
	sessions SessionLister,
	cfg PostMortemConfig,
) *PostMortemWorker {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 10 * time.Minute
	}

	w := &PostMortemWorker{
		consumer:  consumer,
		handler:   broker.NewEventHandler(),
		runner:    runner,
		publisher: publisher,
		sessions:  sessions,
		cfg:       cfg,
		now:       time.Now,
		pending:   make(map[string]time.Time),
		logger:    util.ComponentLogger("post-mortem-worker"),
	}
	w.handler.OnFreezeClosed(w.HandleFreezeClosed)
	return w
}

// WithClaimer deduplicates publication across worker replicas
func (w *PostMortemWorker) WithClaimer(c Claimer) *PostMortemWorker {
	w.claimer = c
	return w
}

// Start consumes events and runs the due queue and sweep until ctx ends
func (w *PostMortemWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting post-mortem worker",
		zap.Duration("delay", w.cfg.Delay),
		zap.Duration("sweep_interval", w.cfg.SweepInterval))

	if w.consumer != nil {
		go func() {
			if err := w.consumer.StartConsuming(ctx, w.handler.HandleMessage); err != nil && ctx.Err() == nil {
				w.logger.Error("Post-mortem consumer stopped", zap.Error(err))
			}
		}()
	}

	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.RunDue(ctx)
			if err := w.Sweep(ctx); err != nil {
				w.logger.Warn("Post-mortem sweep failed", zap.Error(err))
			}
		}
	}
}

// Stop closes the consumer
func (w *PostMortemWorker) Stop() error {
	w.logger.Info("Stopping post-mortem worker")
	if w.consumer == nil {
		return nil
	}
	return w.consumer.Close()
}

// HandleFreezeClosed runs a due post-mortem right away and queues the rest
func (w *PostMortemWorker) HandleFreezeClosed(ctx context.Context, event *models.FreezeClosedEvent) error {
	if event.RunAfter.After(w.now()) {
		w.mu.Lock()
		w.pending[event.SessionID] = event.RunAfter
		w.mu.Unlock()
		w.logger.Info("Post-mortem queued",
			zap.String("session_id", event.SessionID),
			zap.Time("run_after", event.RunAfter))
		return nil
	}
	return w.process(ctx, event.SessionID)
}

// Pending returns the number of queued sessions
func (w *PostMortemWorker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// RunDue processes every queued session whose run_after has passed
func (w *PostMortemWorker) RunDue(ctx context.Context) {
	now := w.now()

	w.mu.Lock()
	var due []string
	for id, runAfter := range w.pending {
		if !runAfter.After(now) {
			due = append(due, id)
			delete(w.pending, id)
		}
	}
	w.mu.Unlock()

	for _, id := range due {
		if err := w.process(ctx, id); err != nil {
			w.logger.Error("Post-mortem failed", zap.String("session_id", id), zap.Error(err))
		}
	}
}

// Sweep processes closed, unnotified sessions that ended at least Delay ago
func (w *PostMortemWorker) Sweep(ctx context.Context) error {
	if w.sessions == nil {
		return nil
	}
	tenants, err := w.sessions.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tenants: %w", err)
	}

	cutoff := w.now().Add(-w.cfg.Delay)
	for _, tenantID := range tenants {
		sessions, err := w.sessions.ListSessions(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("failed to list sessions for %s: %w", tenantID, err)
		}
		for _, s := range sessions {
			if s.IsOpen() || s.PostMortemSent || s.EndedAt.After(cutoff) {
				continue
			}
			if err := w.process(ctx, s.ID); err != nil {
				w.logger.Error("Post-mortem failed",
					zap.String("tenant_id", tenantID),
					zap.String("session_id", s.ID),
					zap.Error(err))
			}
		}
	}
	return nil
}

func (w *PostMortemWorker) process(ctx context.Context, sessionID string) error {
	report, err := w.runner.GeneratePostMortemByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to generate post-mortem: %w", err)
	}
	if report.AlreadyNotified {
		return nil
	}

	if w.claimer != nil {
		claimed, err := w.claimer.ClaimOnce(ctx, "post-mortem:"+sessionID, w.cfg.ClaimTTL)
		if err != nil {
			return fmt.Errorf("failed to claim post-mortem: %w", err)
		}
		if !claimed {
			w.logger.Debug("Post-mortem claimed elsewhere", zap.String("session_id", sessionID))
			return nil
		}
	}

	if err := w.publisher.PublishPostMortemCompleted(ctx, report); err != nil {
		return fmt.Errorf("failed to publish post-mortem: %w", err)
	}

	marked, err := w.runner.MarkNotified(ctx, sessionID)
	if err != nil {
		return err
	}
	if !marked {
		w.logger.Warn("Post-mortem was already marked notified", zap.String("session_id", sessionID))
	}

	w.logger.Info("Post-mortem published",
		zap.String("tenant_id", report.TenantID),
		zap.String("session_id", sessionID),
		zap.String("opportunity_cost", report.OpportunityCost.StringFixed(2)),
		zap.String("recommendation", report.Recommendation))
	return nil
}
