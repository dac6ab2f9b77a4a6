package service

import (
	"context"
	"fmt"
	"time"

	"inventory-decision-engine/internal/models"
	"inventory-decision-engine/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Post-mortem recommendations and their cost bounds in currency units
const (
	RecommendRaiseThreshold = "raise freeze threshold"
	RecommendAcceptable     = "acceptable balance"
	RecommendJustified      = "freeze was justified"
)

var (
	raiseThresholdAbove = decimal.NewFromInt(1000)
	acceptableFrom      = decimal.NewFromInt(500)
)

// PostMortemReport prices one closed freeze session
type PostMortemReport struct {
	SessionID       string          `json:"session_id"`
	TenantID        string          `json:"tenant_id"`
	StartedAt       time.Time       `json:"started_at"`
	EndedAt         time.Time       `json:"ended_at"`
	FreezeDays      float64         `json:"freeze_days"`
	UnitsSold       int             `json:"units_sold"`
	AvgVelocity     decimal.Decimal `json:"avg_velocity"`
	MarginPerUnit   decimal.Decimal `json:"margin_per_unit"`
	BlockedReorders int             `json:"blocked_reorders"`
	OpportunityCost decimal.Decimal `json:"opportunity_cost"`
	Recommendation  string          `json:"recommendation"`
	AlreadyNotified bool            `json:"already_notified"`
}

// PostMortemAnalyzer quantifies what a freeze cost in missed margin
type PostMortemAnalyzer struct {
	sessions FreezeSessionRepository
	ledger   SalesLedger
	catalog  ProductCatalog
	blocked  BlockedActionLog
	logger   *zap.Logger
}

// NewPostMortemAnalyzer creates a new analyzer
func NewPostMortemAnalyzer(sessions FreezeSessionRepository, ledger SalesLedger, catalog ProductCatalog, blocked BlockedActionLog) *PostMortemAnalyzer {
	return &PostMortemAnalyzer{
		sessions: sessions,
		ledger:   ledger,
		catalog:  catalog,
		blocked:  blocked,
		logger:   util.GetLogger(),
	}
}

// GeneratePostMortem analyzes a closed session. The first analysis is stored
// whole; every later call returns it unchanged.
func (a *PostMortemAnalyzer) GeneratePostMortem(ctx context.Context, session *models.FreezeSession) (*PostMortemReport, error) {
	if session == nil {
		return nil, newValidationError("session", "must not be nil", nil)
	}
	ctx, span := util.StartSpan(ctx, "PostMortemAnalyzer.GeneratePostMortem",
		attribute.String("session_id", session.ID))
	defer span.End()

	stored, err := a.sessions.GetSession(ctx, session.ID)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, fmt.Errorf("failed to get freeze session: %w", err)
	}
	if stored.IsOpen() {
		return nil, newValidationError("session", "freeze session still open", stored.ID)
	}

	if stored.Analysis == nil {
		figures, err := a.analyze(ctx, stored)
		if err != nil {
			util.RecordSpanError(span, err)
			return nil, err
		}
		persisted, err := a.sessions.SavePostMortem(ctx, stored.ID, *figures)
		if err != nil {
			return nil, fmt.Errorf("failed to save post-mortem: %w", err)
		}
		if persisted.Analysis == nil {
			// stored before figures were kept; report what was computed now
			persisted.Analysis = figures
		}
		stored = persisted
		util.PostMortemsTotal.WithLabelValues(figures.Recommendation).Inc()
		a.logger.Info("Post-mortem completed",
			zap.String("tenant_id", stored.TenantID),
			zap.String("session_id", stored.ID),
			zap.String("opportunity_cost", figures.OpportunityCost.StringFixed(2)),
			zap.String("recommendation", figures.Recommendation))
	}

	return newReport(stored), nil
}

// newReport builds the report from the stored analysis only, so it never
// mixes persisted cost with a recount of a ledger that changed since
func newReport(s *models.FreezeSession) *PostMortemReport {
	f := s.Analysis
	report := &PostMortemReport{
		SessionID:       s.ID,
		TenantID:        s.TenantID,
		StartedAt:       s.StartedAt,
		EndedAt:         *s.EndedAt,
		FreezeDays:      f.FreezeDays,
		UnitsSold:       f.UnitsSold,
		AvgVelocity:     f.AvgVelocity,
		MarginPerUnit:   f.MarginPerUnit,
		BlockedReorders: f.BlockedReorders,
		OpportunityCost: f.OpportunityCost,
		Recommendation:  f.Recommendation,
		AlreadyNotified: s.PostMortemSent,
	}
	if s.OpportunityCost != nil {
		report.OpportunityCost = *s.OpportunityCost
	}
	if s.Recommendation != nil {
		report.Recommendation = *s.Recommendation
	}
	return report
}

// GeneratePostMortemByID loads the session and analyzes it
func (a *PostMortemAnalyzer) GeneratePostMortemByID(ctx context.Context, sessionID string) (*PostMortemReport, error) {
	session, err := a.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get freeze session: %w", err)
	}
	return a.GeneratePostMortem(ctx, session)
}

// MarkNotified records that the report was delivered. It returns false when
// another caller already did, so the notification is not sent twice.
func (a *PostMortemAnalyzer) MarkNotified(ctx context.Context, sessionID string) (bool, error) {
	flipped, err := a.sessions.MarkPostMortemSent(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to mark post-mortem sent: %w", err)
	}
	return flipped, nil
}

func (a *PostMortemAnalyzer) analyze(ctx context.Context, s *models.FreezeSession) (*models.PostMortemFigures, error) {
	ended := *s.EndedAt
	figures := &models.PostMortemFigures{}

	duration := ended.Sub(s.StartedAt)
	if duration < 0 {
		duration = 0
	}
	days := decimal.NewFromFloat(duration.Hours()).Div(decimal.NewFromInt(24))
	figures.FreezeDays = days.Round(4).InexactFloat64()

	sales, err := a.ledger.QueryTenant(ctx, s.TenantID, s.StartedAt, ended)
	if err != nil {
		return nil, fmt.Errorf("failed to query freeze sales: %w", err)
	}
	products, err := a.catalog.ListProducts(ctx, s.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	blocked, err := a.blocked.ListBlockedActions(ctx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocked actions: %w", err)
	}

	for _, sale := range sales {
		figures.UnitsSold += sale.Quantity
	}
	if days.IsPositive() {
		figures.AvgVelocity = decimal.NewFromInt(int64(figures.UnitsSold)).Div(days)
	}
	figures.MarginPerUnit = marginPerUnit(sales, products)
	figures.BlockedReorders = countBlockedReorders(blocked)

	missed := figures.AvgVelocity.Mul(days).Mul(figures.MarginPerUnit)
	reorders := decimal.NewFromInt(int64(figures.BlockedReorders)).Mul(figures.MarginPerUnit)
	figures.OpportunityCost = missed.Add(reorders).Round(2)
	figures.AvgVelocity = figures.AvgVelocity.Round(4)
	figures.Recommendation = RecommendFreezePolicy(figures.OpportunityCost)
	return figures, nil
}

// RecommendFreezePolicy maps an opportunity cost to a policy recommendation
func RecommendFreezePolicy(cost decimal.Decimal) string {
	switch {
	case cost.GreaterThan(raiseThresholdAbove):
		return RecommendRaiseThreshold
	case cost.GreaterThanOrEqual(acceptableFrom):
		return RecommendAcceptable
	default:
		return RecommendJustified
	}
}

// marginPerUnit is the quantity-weighted unit margin of the freeze's sales,
// falling back to the catalog's mean margin when no sale has a known cost.
// Negative margins count as zero.
func marginPerUnit(sales []models.SaleEvent, products []models.Product) decimal.Decimal {
	costs := make(map[string]decimal.Decimal, len(products))
	for _, p := range products {
		if p.Cost > 0 {
			costs[p.SKU] = decimal.NewFromFloat(p.Cost)
		}
	}

	total := decimal.Zero
	units := int64(0)
	for _, sale := range sales {
		cost, ok := costs[sale.SKU]
		if !ok || sale.Quantity <= 0 {
			continue
		}
		unit := decimal.NewFromFloat(sale.UnitPrice).Sub(cost)
		total = total.Add(unit.Mul(decimal.NewFromInt(int64(sale.Quantity))))
		units += int64(sale.Quantity)
	}

	var margin decimal.Decimal
	if units > 0 {
		margin = total.Div(decimal.NewFromInt(units))
	} else {
		n := int64(0)
		for _, p := range products {
			if p.Cost <= 0 {
				continue
			}
			total = total.Add(decimal.NewFromFloat(p.Price).Sub(decimal.NewFromFloat(p.Cost)))
			n++
		}
		if n == 0 {
			return decimal.Zero
		}
		margin = total.Div(decimal.NewFromInt(n))
	}

	if margin.IsNegative() {
		return decimal.Zero
	}
	return margin.Round(4)
}

// countBlockedReorders counts distinct A/B SKUs whose reorder was blocked
// while understocked
func countBlockedReorders(blocked []models.BlockedAction) int {
	seen := make(map[string]bool)
	for _, b := range blocked {
		if b.Action != models.ActionReorder {
			continue
		}
		if b.Category != models.CategoryA && b.Category != models.CategoryB {
			continue
		}
		if b.Coverage != models.CoverageLow && b.Coverage != models.CoverageCritical {
			continue
		}
		seen[b.SKU] = true
	}
	return len(seen)
}
