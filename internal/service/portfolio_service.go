package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"inventory-decision-engine/internal/models"
	"inventory-decision-engine/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PortfolioConfig controls catalog-wide runs
type PortfolioConfig struct {
	LookbackDays int
	PoolSize     int
	LeadTimeDays int
}

// PortfolioOptions are the caller-chosen knobs of one run. Iterations and
// Seed have no defaults.
type PortfolioOptions struct {
	Iterations         int
	Seed               int64
	UseExternalSignals bool
	UserID             string
	Locale             string
	AsOf               time.Time
	HorizonDays        int
}

// PortfolioEntry pairs a product's simulation with its recommendation
type PortfolioEntry struct {
	Product        models.Product           `json:"product"`
	Result         *models.SimulationResult `json:"result,omitempty"`
	Recommendation *Recommendation          `json:"recommendation,omitempty"`
	Error          string                   `json:"error,omitempty"`
}

// PortfolioService reads a tenant's catalog and ledger, classifies products,
// simulates them and proposes actions
type PortfolioService struct {
	catalog ProductCatalog
	ledger  SalesLedger
	engine  *SimulationEngine
	calc    MetricsCalculator
	cfg     PortfolioConfig
	logger  *zap.Logger
}

// NewPortfolioService creates a new portfolio service
func NewPortfolioService(catalog ProductCatalog, ledger SalesLedger, engine *SimulationEngine, cfg PortfolioConfig) *PortfolioService {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 60
	}
	if cfg.LeadTimeDays <= 0 {
		cfg.LeadTimeDays = DefaultLeadTimeDays
	}
	return &PortfolioService{
		catalog: catalog,
		ledger:  ledger,
		engine:  engine,
		cfg:     cfg,
		logger:  util.GetLogger(),
	}
}

// AnalyzeCatalog simulates every product of a tenant, ranked by median ROI
func (s *PortfolioService) AnalyzeCatalog(ctx context.Context, tenantID string, opts PortfolioOptions) ([]PortfolioEntry, error) {
	ctx, span := util.StartSpan(ctx, "PortfolioService.AnalyzeCatalog",
		attribute.String("tenant_id", tenantID))
	defer span.End()

	opts, err := s.prepare(opts)
	if err != nil {
		return nil, err
	}
	products, salesBySKU, err := s.load(ctx, tenantID, opts.AsOf)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}

	reqs := make([]SimulationRequest, len(products))
	bySKU := make(map[string]models.Product, len(products))
	for i, p := range products {
		reqs[i] = s.request(tenantID, p, salesBySKU[p.SKU], opts)
		bySKU[p.SKU] = p
	}

	outcomes, err := s.engine.SimulateCatalog(ctx, reqs, s.cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to simulate catalog: %w", err)
	}

	entries := make([]PortfolioEntry, 0, len(outcomes))
	for _, o := range outcomes {
		p := bySKU[o.SKU]
		entry := PortfolioEntry{Product: p, Result: o.Result}
		if o.Err != nil {
			entry.Error = o.Err.Error()
		} else {
			rec := s.calc.Recommend(p, o.Result, s.cfg.LeadTimeDays)
			entry.Recommendation = &rec
		}
		entries = append(entries, entry)
	}

	s.logger.Info("Catalog analyzed",
		zap.String("tenant_id", tenantID),
		zap.Int("products", len(entries)))
	return entries, nil
}

// SimulateProduct runs one product with its catalog-derived category
func (s *PortfolioService) SimulateProduct(ctx context.Context, tenantID, sku string, opts PortfolioOptions) (*PortfolioEntry, error) {
	ctx, span := util.StartSpan(ctx, "PortfolioService.SimulateProduct",
		attribute.String("tenant_id", tenantID),
		attribute.String("sku", sku))
	defer span.End()

	opts, err := s.prepare(opts)
	if err != nil {
		return nil, err
	}
	products, salesBySKU, err := s.load(ctx, tenantID, opts.AsOf)
	if err != nil {
		return nil, err
	}

	for _, p := range products {
		if p.SKU != sku {
			continue
		}
		res, err := s.engine.RunROISimulation(ctx, s.request(tenantID, p, salesBySKU[p.SKU], opts))
		if err != nil {
			return nil, err
		}
		rec := s.calc.Recommend(p, res, s.cfg.LeadTimeDays)
		return &PortfolioEntry{Product: p, Result: res, Recommendation: &rec}, nil
	}
	return nil, fmt.Errorf("product %s: %w", sku, models.ErrNotFound)
}

// ProductContext returns a product with its current category, as the guard
// needs it when recording a blocked action
func (s *PortfolioService) ProductContext(ctx context.Context, tenantID, sku string, asOf time.Time) (*models.Product, error) {
	products, _, err := s.load(ctx, tenantID, asOf)
	if err != nil {
		return nil, err
	}
	for i := range products {
		if products[i].SKU == sku {
			return &products[i], nil
		}
	}
	return nil, fmt.Errorf("product %s: %w", sku, models.ErrNotFound)
}

// prepare rejects run-wide faults before anything is loaded
func (s *PortfolioService) prepare(opts PortfolioOptions) (PortfolioOptions, error) {
	if err := s.engine.ValidateRun(opts.Iterations, opts.HorizonDays); err != nil {
		return opts, err
	}
	if opts.AsOf.IsZero() {
		opts.AsOf = time.Now().UTC()
	}
	return opts, nil
}

func (s *PortfolioService) request(tenantID string, p models.Product, sales []models.SaleEvent, opts PortfolioOptions) SimulationRequest {
	return SimulationRequest{
		TenantID:           tenantID,
		Product:            p,
		Sales:              sales,
		Iterations:         opts.Iterations,
		UseExternalSignals: opts.UseExternalSignals,
		Seed:               productSeed(opts.Seed, p.SKU),
		UserID:             opts.UserID,
		Locale:             opts.Locale,
		AsOf:               opts.AsOf,
		HorizonDays:        opts.HorizonDays,
	}
}

// load returns the catalog with category and trailing velocity filled in,
// plus the lookback window's sales grouped by SKU
func (s *PortfolioService) load(ctx context.Context, tenantID string, asOf time.Time) ([]models.Product, map[string][]models.SaleEvent, error) {
	products, err := s.catalog.ListProducts(ctx, tenantID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list products: %w", err)
	}
	if len(products) == 0 {
		return nil, nil, fmt.Errorf("catalog for tenant %s: %w", tenantID, models.ErrNotFound)
	}

	since := asOf.Add(-time.Duration(s.cfg.LookbackDays) * 24 * time.Hour)
	sales, err := s.ledger.QueryTenant(ctx, tenantID, since, asOf)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query sales: %w", err)
	}

	salesBySKU := make(map[string][]models.SaleEvent)
	revenue := make(map[string]float64)
	lastSale := make(map[string]time.Time)
	for _, sale := range sales {
		salesBySKU[sale.SKU] = append(salesBySKU[sale.SKU], sale)
		revenue[sale.SKU] += float64(sale.Quantity) * sale.UnitPrice
		if sale.SoldAt.After(lastSale[sale.SKU]) {
			lastSale[sale.SKU] = sale.SoldAt
		}
	}

	for i := range products {
		p := &products[i]
		if t, ok := lastSale[p.SKU]; ok && (p.LastSaleDate == nil || t.After(*p.LastSaleDate)) {
			t := t
			p.LastSaleDate = &t
		}
		p.VelocityDaily = s.calc.Velocity(salesBySKU[p.SKU], s.cfg.LookbackDays)
	}

	categories := s.calc.ClassifyCatalog(products, revenue, asOf)
	for i := range products {
		products[i].Category = categories[products[i].SKU]
	}
	return products, salesBySKU, nil
}

// productSeed derives a stable per-product seed so catalog runs stay
// reproducible regardless of scheduling order
func productSeed(base int64, sku string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(sku))
	return base ^ int64(h.Sum64())
}

// IsNotFound reports whether err wraps models.ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
