package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"inventory-decision-engine/internal/models"
	"inventory-decision-engine/internal/service"
	"inventory-decision-engine/internal/util"

	"go.uber.org/zap"
)

// TenantLister enumerates the tenants to re-simulate
type TenantLister interface {
	ListTenants(ctx context.Context) ([]string, error)
}

// TenantSnapshot is the latest scheduled run for one tenant
type TenantSnapshot struct {
	TenantID   string                       `json:"tenant_id"`
	RunAt      time.Time                    `json:"run_at"`
	Entries    []service.PortfolioEntry     `json:"entries"`
	Liquidity  *service.LiquidityEvaluation `json:"liquidity,omitempty"`
	Error      string                       `json:"error,omitempty"`
	DurationMS int64                        `json:"duration_ms"`
}

// SimulationScheduler re-simulates every tenant's catalog and re-evaluates
// its liquidity on a fixed cadence
type SimulationScheduler struct {
	tenants   TenantLister
	portfolio *service.PortfolioService
	guard     *service.LiquidityGuard
	registry  *service.TenantRegistry
	interval  time.Duration
	opts      service.PortfolioOptions
	now       func() time.Time

	mu        sync.RWMutex
	snapshots map[string]*TenantSnapshot

	logger *zap.Logger
}

// NewSimulationScheduler creates a scheduler. guard may be nil to skip the
// liquidity pass.
func NewSimulationScheduler(
	tenants TenantLister,
	portfolio *service.PortfolioService,
	guard *service.LiquidityGuard,
	registry *service.TenantRegistry,
	interval time.Duration,
	opts service.PortfolioOptions,
) *SimulationScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SimulationScheduler{
		tenants:   tenants,
		portfolio: portfolio,
		guard:     guard,
		registry:  registry,
		interval:  interval,
		opts:      opts,
		now:       time.Now,
		snapshots: make(map[string]*TenantSnapshot),
		logger:    util.ComponentLogger("simulation-scheduler"),
	}
}

// Start runs once immediately and then on every tick until ctx ends
func (s *SimulationScheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting simulation scheduler", zap.Duration("interval", s.interval))

	if err := s.RunOnce(ctx); err != nil {
		s.logger.Warn("Scheduled run failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping simulation scheduler")
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Warn("Scheduled run failed", zap.Error(err))
			}
		}
	}
}

// RunOnce processes every tenant. A failing tenant is recorded in its
// snapshot and does not stop the others.
func (s *SimulationScheduler) RunOnce(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "SimulationScheduler.RunOnce")
	defer span.End()

	tenants, err := s.tenants.ListTenants(ctx)
	if err != nil {
		util.RecordSpanError(span, err)
		return fmt.Errorf("failed to list tenants: %w", err)
	}

	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		snap := s.runTenant(ctx, tenantID)
		s.mu.Lock()
		s.snapshots[tenantID] = snap
		s.mu.Unlock()
	}
	return nil
}

// Snapshot returns the tenant's latest run, or nil before the first one
func (s *SimulationScheduler) Snapshot(tenantID string) *TenantSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshots[tenantID]
}

func (s *SimulationScheduler) runTenant(ctx context.Context, tenantID string) *TenantSnapshot {
	start := s.now()
	snap := &TenantSnapshot{TenantID: tenantID, RunAt: start.UTC()}

	opts := s.opts
	opts.AsOf = start.UTC()
	entries, err := s.portfolio.AnalyzeCatalog(ctx, tenantID, opts)
	switch {
	case errors.Is(err, models.ErrNotFound):
		s.logger.Debug("Tenant has no catalog", zap.String("tenant_id", tenantID))
	case err != nil:
		snap.Error = err.Error()
		s.logger.Error("Catalog simulation failed", zap.String("tenant_id", tenantID), zap.Error(err))
	default:
		snap.Entries = entries
	}

	if s.guard != nil {
		eval, err := s.guard.EvaluateTenant(ctx, s.registry.Get(tenantID))
		if err != nil {
			s.logger.Error("Liquidity evaluation failed", zap.String("tenant_id", tenantID), zap.Error(err))
			if snap.Error == "" {
				snap.Error = err.Error()
			}
		} else {
			snap.Liquidity = eval
		}
	}

	snap.DurationMS = s.now().Sub(start).Milliseconds()
	return snap
}
