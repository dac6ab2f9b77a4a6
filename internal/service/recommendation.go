package service

import (
	"fmt"
	"math"

	"inventory-decision-engine/internal/models"
)

// ActionHold means no action is recommended
const ActionHold models.ActionType = "HOLD"

// SurgePriceFactor is the price multiplier proposed by a SURGE
const SurgePriceFactor = 1.10

// BundleCoverDays is the cover beyond which slow C items are bundled
const BundleCoverDays = 90.0

// Recommendation is the action proposed for one product
type Recommendation struct {
	SKU         string            `json:"sku"`
	Action      models.ActionType `json:"action"`
	Quantity    int               `json:"quantity,omitempty"`
	PriceFactor float64           `json:"price_factor,omitempty"`
	Category    models.Category   `json:"category"`
	Coverage    models.Coverage   `json:"coverage"`
	ROI         *float64          `json:"roi"`
	Rationale   string            `json:"rationale"`
}

// Recommend turns a simulation into one action:
//   - understocked A/B items are reordered up to lead time plus target cover
//   - understocked high-margin items of other classes get a price surge
//   - dead stock and C items with long cover are bundled
//   - everything else is held
func (c MetricsCalculator) Recommend(p models.Product, r *models.SimulationResult, leadTimeDays int) Recommendation {
	rec := Recommendation{
		SKU:      p.SKU,
		Action:   ActionHold,
		Category: p.Category,
		Coverage: r.Coverage,
		ROI:      r.ROI,
	}

	velocity := math.Max(r.VelocityP50, r.WeightedMeanVelocity*r.Multiplier)
	understocked := r.Coverage == models.CoverageCritical || r.Coverage == models.CoverageLow
	unit := c.ROI(p.Price, p.Cost)

	switch {
	case understocked && (p.Category == models.CategoryA || p.Category == models.CategoryB):
		qty := c.ReorderQuantity(velocity, p.Stock, leadTimeDays, DefaultTargetCover)
		if qty > 0 {
			rec.Action = models.ActionReorder
			rec.Quantity = qty
			rec.Rationale = fmt.Sprintf("%s item with %s cover; reorder %d units for %d days lead plus %d days cover",
				p.Category, r.Coverage, qty, leadTimeDays, DefaultTargetCover)
			return rec
		}
	case understocked && unit.Valid() && c.IsHighROI(*unit.Percent):
		rec.Action = models.ActionSurge
		rec.PriceFactor = SurgePriceFactor
		rec.Rationale = fmt.Sprintf("%s cover on a %.0f%% margin item; raise price x%.2f while stock lasts",
			r.Coverage, *unit.Percent, SurgePriceFactor)
		return rec
	case p.Category == models.CategoryDead:
		rec.Action = models.ActionBundle
		rec.Rationale = "no sales in the dead-stock window; bundle to release capital"
		return rec
	case p.Category == models.CategoryC && p.Stock > 0 && (r.DaysToStockout == nil || *r.DaysToStockout > BundleCoverDays):
		rec.Action = models.ActionBundle
		rec.Rationale = fmt.Sprintf("C item with more than %.0f days of cover; bundle with a faster mover", BundleCoverDays)
		return rec
	}

	rec.Rationale = "stock and demand balanced"
	return rec
}
