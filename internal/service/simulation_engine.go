package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"inventory-decision-engine/internal/models"
	"inventory-decision-engine/internal/signals"
	"inventory-decision-engine/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/exp/rand"
)

// MaxDecay caps the combined recency decay
const MaxDecay = 0.9

// SimulationConfig holds the simulator's calibratable values
type SimulationConfig struct {
	BaseDecay         float64
	HorizonDays       int
	LookbackDays      int
	BoostLookbackDays int
	MaxIterations     int
	DefaultLocale     string
}

// DefaultSimulationConfig returns the production defaults
func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		BaseDecay:         0.05,
		HorizonDays:       30,
		LookbackDays:      60,
		BoostLookbackDays: 7,
		MaxIterations:     50000,
		DefaultLocale:     "CA-ON",
	}
}

// SimulationRequest is one product's simulation input. Seed is always
// supplied by the caller; identical requests produce identical results.
type SimulationRequest struct {
	TenantID           string
	Product            models.Product
	Sales              []models.SaleEvent
	Iterations         int
	UseExternalSignals bool
	Seed               int64
	UserID             string
	Locale             string
	AsOf               time.Time
	HorizonDays        int
}

// SimulationEngine runs seeded Monte Carlo ROI projections
type SimulationEngine struct {
	calc    MetricsCalculator
	rules   *signals.Engine
	source  SignalSource
	tracker *InteractionTracker
	cfg     SimulationConfig
	logger  *zap.Logger
}

// NewSimulationEngine creates an engine. source and tracker may be nil, in
// which case external signals are absent and the adaptive boost is zero.
func NewSimulationEngine(cfg SimulationConfig, rules *signals.Engine, source SignalSource, tracker *InteractionTracker) *SimulationEngine {
	if rules == nil {
		rules = signals.NewEngine(nil)
	}
	return &SimulationEngine{
		rules:   rules,
		source:  source,
		tracker: tracker,
		cfg:     cfg,
		logger:  util.GetLogger(),
	}
}

// RunROISimulation projects demand and ROI for one product
func (e *SimulationEngine) RunROISimulation(ctx context.Context, req SimulationRequest) (*models.SimulationResult, error) {
	ctx, span := util.StartSpan(ctx, "SimulationEngine.RunROISimulation",
		attribute.String("sku", req.Product.SKU),
		attribute.Int("iterations", req.Iterations))
	defer span.End()

	if err := e.validate(req); err != nil {
		util.SimulationsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	start := time.Now()
	defer func() { util.SimulationLatency.Observe(time.Since(start).Seconds()) }()
	util.SimulationIterations.Observe(float64(req.Iterations))

	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}
	horizon := req.HorizonDays
	if horizon == 0 {
		horizon = e.cfg.HorizonDays
	}

	boost := e.adaptiveBoost(ctx, req.UserID, asOf)
	decay := math.Min(math.Max(e.cfg.BaseDecay+boost, 0), MaxDecay)

	daily, observed := e.dailySeries(req.Product.SKU, req.Sales, asOf)
	mean, std := weightedMoments(daily, decay)

	multiplier, reason := signals.NeutralMultiplier, signals.ReasonDisabled
	if req.UseExternalSignals {
		locale := req.Locale
		if locale == "" {
			locale = e.cfg.DefaultLocale
		}
		var sig *models.ContextualSignal
		if e.source != nil {
			sig = e.source.Context(ctx, locale, asOf)
		}
		multiplier, reason = e.rules.Evaluate(req.Product.Kind, sig)
	}
	adjusted := mean * multiplier

	result := &models.SimulationResult{
		TenantID:             req.TenantID,
		SKU:                  req.Product.SKU,
		WeightedMeanVelocity: round(mean, 4),
		WeightedStdVelocity:  round(std, 4),
		Multiplier:           multiplier,
		SignalReason:         reason,
		DecayFactor:          round(decay, 4),
		AdaptiveBoost:        boost,
		Iterations:           req.Iterations,
		Seed:                 req.Seed,
		HorizonDays:          horizon,
		Category:             req.Product.Category,
	}
	if result.TenantID == "" {
		result.TenantID = req.Product.TenantID
	}

	if days, ok := e.calc.DaysToStockout(req.Product.Stock, adjusted); ok {
		d := round(days, 2)
		result.DaysToStockout = &d
	}
	result.Coverage = e.calc.CoverageStatus(req.Product.Stock, adjusted)

	if observed == 0 {
		result.Flags = append(result.Flags, models.FlagInsufficientData)
		result.Reason = models.FlagInsufficientData
	}

	if req.Product.Stock == 0 {
		result.Flags = append(result.Flags, models.FlagNoInventory)
		result.Reason = models.FlagNoInventory
		result.VelocityP10, result.VelocityP50, result.VelocityP90 = round(adjusted, 4), round(adjusted, 4), round(adjusted, 4)
		result.Narrative = e.narrative(result)
		util.SimulationsTotal.WithLabelValues(models.FlagNoInventory).Inc()
		return result, nil
	}

	costValid := e.calc.ROI(req.Product.Price, req.Product.Cost).Valid()
	if !costValid {
		result.Flags = append(result.Flags, models.FlagCostInvalid)
		result.Reason = models.FlagCostInvalid
	}

	sampler := newDemandSampler(adjusted, std, rand.NewSource(uint64(req.Seed)))
	stock := float64(req.Product.Stock)
	invested := stock * req.Product.Cost

	velocities := make([]float64, req.Iterations)
	var rois []float64
	if costValid {
		rois = make([]float64, req.Iterations)
	}
	for i := 0; i < req.Iterations; i++ {
		v := sampler.draw()
		velocities[i] = v
		if costValid {
			units := math.Min(v*float64(horizon), stock)
			rois[i] = *e.calc.ROI(units*req.Product.Price, invested).Percent
		}
	}

	vp := percentiles(velocities, 10, 50, 90)
	result.VelocityP10, result.VelocityP50, result.VelocityP90 = round(vp[0], 4), round(vp[1], 4), round(vp[2], 4)
	result.ProjectedUnitsP50 = round(math.Min(vp[1]*float64(horizon), stock), 2)

	if costValid {
		rp := percentiles(rois, 10, 50, 90)
		p10, p50, p90 := round(rp[0], 2), round(rp[1], 2), round(rp[2], 2)
		median := p50
		result.ROI, result.ROIP10, result.ROIP50, result.ROIP90 = &median, &p10, &p50, &p90
	}

	result.Narrative = e.narrative(result)

	outcome := "ok"
	if result.Reason != "" {
		outcome = result.Reason
	}
	util.SimulationsTotal.WithLabelValues(outcome).Inc()
	e.logger.Debug("Simulation complete",
		zap.String("sku", result.SKU),
		zap.Float64("multiplier", multiplier),
		zap.Float64("decay", decay),
		zap.Strings("flags", result.Flags))

	return result, nil
}

// ValidateRun checks the knobs shared by every product of a run
func (e *SimulationEngine) ValidateRun(iterations, horizonDays int) error {
	if iterations < 1 || iterations > e.cfg.MaxIterations {
		return newValidationError("iterations", fmt.Sprintf("must be between 1 and %d", e.cfg.MaxIterations), iterations)
	}
	if horizonDays < 0 {
		return newValidationError("horizon_days", "must not be negative", horizonDays)
	}
	return nil
}

func (e *SimulationEngine) validate(req SimulationRequest) error {
	if req.Product.SKU == "" {
		return newValidationError("product.sku", "must not be empty", nil)
	}
	if err := e.ValidateRun(req.Iterations, req.HorizonDays); err != nil {
		return err
	}
	if req.Product.Stock < 0 {
		return newValidationError("product.stock", "must not be negative", req.Product.Stock)
	}
	if req.Product.Price < 0 || math.IsNaN(req.Product.Price) {
		return newValidationError("product.price", "must not be negative", req.Product.Price)
	}
	return nil
}

// adaptiveBoost degrades to zero when the interaction log is unavailable
func (e *SimulationEngine) adaptiveBoost(ctx context.Context, userID string, asOf time.Time) float64 {
	if e.tracker == nil || userID == "" {
		return 0
	}
	boost, err := e.tracker.AdaptiveDecayBoost(ctx, userID, e.cfg.BoostLookbackDays, asOf)
	if err != nil {
		e.logger.Warn("Adaptive boost unavailable, using base decay",
			zap.String("user_id", userID),
			zap.Error(err))
		return 0
	}
	return boost
}

// dailySeries buckets sales into per-day quantities indexed by age in days
// from asOf. The series spans from the oldest sale inside the lookback window
// to asOf, zero days included. observed is the number of sale rows used.
func (e *SimulationEngine) dailySeries(sku string, sales []models.SaleEvent, asOf time.Time) (daily []float64, observed int) {
	lookback := e.cfg.LookbackDays
	if lookback <= 0 {
		lookback = 1
	}
	buckets := make([]float64, lookback)
	oldest := -1

	for _, s := range sales {
		if s.SKU != "" && s.SKU != sku {
			continue
		}
		if s.SoldAt.After(asOf) {
			continue
		}
		age := int(asOf.Sub(s.SoldAt).Hours() / 24)
		if age >= lookback {
			continue
		}
		buckets[age] += float64(s.Quantity)
		observed++
		if age > oldest {
			oldest = age
		}
	}

	if oldest < 0 {
		return nil, 0
	}
	return buckets[:oldest+1], observed
}

func (e *SimulationEngine) narrative(r *models.SimulationResult) string {
	var b strings.Builder
	switch {
	case r.HasFlag(models.FlagNoInventory):
		b.WriteString("No inventory on hand; ROI not simulated.")
	case r.ROIP50 == nil:
		fmt.Fprintf(&b, "ROI unavailable (%s).", models.FlagCostInvalid)
	default:
		fmt.Fprintf(&b, "Median ROI %.1f%% over %d days (p10 %.1f%%, p90 %.1f%%).",
			*r.ROIP50, r.HorizonDays, *r.ROIP10, *r.ROIP90)
	}
	fmt.Fprintf(&b, " Expected demand %.2f/day", r.VelocityP50)
	if r.Multiplier != signals.NeutralMultiplier {
		fmt.Fprintf(&b, " including a x%.2f contextual uplift", r.Multiplier)
	}
	fmt.Fprintf(&b, " (%s). Recency decay %.2f", r.SignalReason, r.DecayFactor)
	if r.AdaptiveBoost > 0 {
		fmt.Fprintf(&b, " with +%.2f adaptive boost", r.AdaptiveBoost)
	}
	b.WriteString(".")
	if r.HasFlag(models.FlagInsufficientData) {
		b.WriteString(" No sales in the lookback window.")
	}
	return b.String()
}
