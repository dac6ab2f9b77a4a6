package service

import (
	"context"
	"fmt"
	"sort"

	"inventory-decision-engine/internal/models"
	"inventory-decision-engine/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultPoolSize bounds concurrent simulations when the caller passes 0
const DefaultPoolSize = 8

// CatalogOutcome is one product's entry in a catalog run. Err is set when
// that product's request was rejected; the rest of the run is unaffected.
type CatalogOutcome struct {
	SKU    string                   `json:"sku"`
	Result *models.SimulationResult `json:"result,omitempty"`
	Err    error                    `json:"-"`
}

// SimulateCatalog runs many simulations on a bounded pool and returns them
// ranked by median ROI, highest first; undefined ROI sorts last.
func (e *SimulationEngine) SimulateCatalog(ctx context.Context, reqs []SimulationRequest, workers int) ([]CatalogOutcome, error) {
	ctx, span := util.StartSpan(ctx, "SimulationEngine.SimulateCatalog",
		attribute.Int("products", len(reqs)))
	defer span.End()

	if workers <= 0 {
		workers = DefaultPoolSize
	}

	outcomes := make([]CatalogOutcome, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range reqs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := e.RunROISimulation(gctx, reqs[i])
			outcomes[i] = CatalogOutcome{SKU: reqs[i].Product.SKU, Result: res, Err: err}
			if err != nil && !IsValidationError(err) {
				return fmt.Errorf("failed to simulate %s: %w", reqs[i].Product.SKU, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}

	for _, o := range outcomes {
		if o.Err != nil {
			e.logger.Warn("Product skipped in catalog simulation",
				zap.String("sku", o.SKU),
				zap.Error(o.Err))
		}
	}

	RankOutcomes(outcomes)
	return outcomes, nil
}

// RankOutcomes orders outcomes by median ROI descending, then by SKU
func RankOutcomes(outcomes []CatalogOutcome) {
	sort.SliceStable(outcomes, func(i, j int) bool {
		ri, rj := roiOf(outcomes[i]), roiOf(outcomes[j])
		switch {
		case ri != nil && rj != nil && *ri != *rj:
			return *ri > *rj
		case ri != nil && rj == nil:
			return true
		case ri == nil && rj != nil:
			return false
		}
		return outcomes[i].SKU < outcomes[j].SKU
	})
}

func roiOf(o CatalogOutcome) *float64 {
	if o.Result == nil {
		return nil
	}
	return o.Result.ROIP50
}
