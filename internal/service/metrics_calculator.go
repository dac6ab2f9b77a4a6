package service

import (
	"math"
	"sort"
	"time"

	"inventory-decision-engine/internal/models"
)

// Calibratable thresholds
const (
	HighROIThreshold    = 100.0
	CriticalCoverDays   = 3.0
	LowCoverDays        = 7.0
	DeadStockDays       = 90
	CategoryAShare      = 0.80
	CategoryBShare      = 0.95
	DefaultTargetCover  = 30
	DefaultLeadTimeDays = 7
)

// ROIResult is a percentage return, or nil with a reason when undefined
type ROIResult struct {
	Percent *float64 `json:"percent"`
	Reason  string   `json:"reason,omitempty"`
}

// Valid reports whether the ROI is defined
func (r ROIResult) Valid() bool {
	return r.Percent != nil
}

// MetricsCalculator holds the pure inventory arithmetic. The zero value is
// ready to use.
type MetricsCalculator struct{}

// Velocity returns units sold per day over windowDays. A non-positive window
// is a programming error.
func (MetricsCalculator) Velocity(sales []models.SaleEvent, windowDays int) float64 {
	if windowDays <= 0 {
		panic("velocity window must be positive")
	}
	total := 0
	for _, s := range sales {
		total += s.Quantity
	}
	return float64(total) / float64(windowDays)
}

// ROI is (price-cost)/cost as a percentage; undefined when cost is not positive
func (MetricsCalculator) ROI(price, cost float64) ROIResult {
	if cost <= 0 || math.IsNaN(cost) || math.IsNaN(price) {
		return ROIResult{Reason: models.FlagCostInvalid}
	}
	roi := (price - cost) / cost * 100
	return ROIResult{Percent: &roi}
}

// DaysToStockout returns stock/velocity; ok is false when velocity is not positive
func (MetricsCalculator) DaysToStockout(stock int, velocity float64) (days float64, ok bool) {
	if velocity <= 0 {
		return 0, false
	}
	if stock <= 0 {
		return 0, true
	}
	return float64(stock) / velocity, true
}

// CoverageStatus buckets days of cover
func (c MetricsCalculator) CoverageStatus(stock int, velocity float64) models.Coverage {
	days, ok := c.DaysToStockout(stock, velocity)
	switch {
	case !ok:
		return models.CoverageOK
	case days < CriticalCoverDays:
		return models.CoverageCritical
	case days < LowCoverDays:
		return models.CoverageLow
	default:
		return models.CoverageOK
	}
}

// IsHighROI reports whether roi clears HighROIThreshold
func (MetricsCalculator) IsHighROI(roi float64) bool {
	return roi > HighROIThreshold
}

// ClassifyCatalog assigns ABC classes by cumulative revenue share. Products
// with no revenue and no sale within DeadStockDays of asOf are DEAD; a product
// belongs to a class when the share accumulated before it is under that
// class's bound, so the top seller is always A.
func (MetricsCalculator) ClassifyCatalog(products []models.Product, revenueBySKU map[string]float64, asOf time.Time) map[string]models.Category {
	out := make(map[string]models.Category, len(products))

	type ranked struct {
		sku     string
		revenue float64
	}
	var earning []ranked
	total := 0.0
	for _, p := range products {
		rev := revenueBySKU[p.SKU]
		if rev <= 0 {
			if p.LastSaleDate == nil || asOf.Sub(*p.LastSaleDate) > DeadStockDays*24*time.Hour {
				out[p.SKU] = models.CategoryDead
			} else {
				out[p.SKU] = models.CategoryC
			}
			continue
		}
		earning = append(earning, ranked{sku: p.SKU, revenue: rev})
		total += rev
	}

	sort.SliceStable(earning, func(i, j int) bool {
		if earning[i].revenue == earning[j].revenue {
			return earning[i].sku < earning[j].sku
		}
		return earning[i].revenue > earning[j].revenue
	})

	cumulative := 0.0
	for _, r := range earning {
		share := cumulative / total
		switch {
		case share < CategoryAShare:
			out[r.sku] = models.CategoryA
		case share < CategoryBShare:
			out[r.sku] = models.CategoryB
		default:
			out[r.sku] = models.CategoryC
		}
		cumulative += r.revenue
	}
	return out
}

// ReorderQuantity tops stock up to cover lead time plus targetCoverDays of
// demand. It returns 0 when there is no demand or stock already covers it.
func (MetricsCalculator) ReorderQuantity(velocity float64, stock, leadTimeDays, targetCoverDays int) int {
	if velocity <= 0 {
		return 0
	}
	if leadTimeDays < 0 {
		leadTimeDays = 0
	}
	if targetCoverDays <= 0 {
		targetCoverDays = DefaultTargetCover
	}
	target := int(math.Ceil(velocity * float64(leadTimeDays+targetCoverDays)))
	if need := target - stock; need > 0 {
		return need
	}
	return 0
}
