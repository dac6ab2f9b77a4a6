package service

import (
	"testing"
	"time"

	"inventory-decision-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVelocity(t *testing.T) {
	calc := MetricsCalculator{}
	sales := []models.SaleEvent{{Quantity: 3}, {Quantity: 5}, {Quantity: 2}}

	assert.Equal(t, 2.0, calc.Velocity(sales, 5))
	assert.Equal(t, 0.0, calc.Velocity(nil, 30))
	assert.Panics(t, func() { calc.Velocity(sales, 0) })
	assert.Panics(t, func() { calc.Velocity(sales, -1) })
}

func TestROI(t *testing.T) {
	calc := MetricsCalculator{}

	res := calc.ROI(100, 50)
	require.True(t, res.Valid())
	assert.Equal(t, 100.0, *res.Percent)

	for _, cost := range []float64{0, -5} {
		res = calc.ROI(100, cost)
		assert.False(t, res.Valid())
		assert.Equal(t, models.FlagCostInvalid, res.Reason)
	}

	res = calc.ROI(25, 50)
	require.True(t, res.Valid())
	assert.Equal(t, -50.0, *res.Percent)
}

func TestDaysToStockout(t *testing.T) {
	calc := MetricsCalculator{}

	tests := []struct {
		name     string
		stock    int
		velocity float64
		days     float64
		ok       bool
	}{
		{"normal", 10, 2, 5, true},
		{"zero velocity", 10, 0, 0, false},
		{"negative velocity", 10, -1, 0, false},
		{"no stock", 0, 3, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			days, ok := calc.DaysToStockout(tt.stock, tt.velocity)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.days, days)
		})
	}
}

func TestCoverageStatus(t *testing.T) {
	calc := MetricsCalculator{}

	tests := []struct {
		name     string
		stock    int
		velocity float64
		want     models.Coverage
	}{
		{"empty shelf with demand", 0, 3, models.CoverageCritical},
		{"two days left", 10, 5, models.CoverageCritical},
		{"four days left", 20, 5, models.CoverageLow},
		{"exactly seven days", 35, 5, models.CoverageOK},
		{"no demand", 10, 0, models.CoverageOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, calc.CoverageStatus(tt.stock, tt.velocity))
		})
	}
}

func TestIsHighROI(t *testing.T) {
	calc := MetricsCalculator{}
	assert.False(t, calc.IsHighROI(100))
	assert.True(t, calc.IsHighROI(100.01))
}

func TestClassifyCatalog(t *testing.T) {
	calc := MetricsCalculator{}
	asOf := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	recent := asOf.AddDate(0, 0, -10)
	stale := asOf.AddDate(0, 0, -120)

	products := []models.Product{
		{SKU: "top"}, {SKU: "second"}, {SKU: "mid"}, {SKU: "tail"},
		{SKU: "never-sold"},
		{SKU: "quiet", LastSaleDate: &recent},
		{SKU: "stale", LastSaleDate: &stale},
	}
	revenue := map[string]float64{"top": 700, "second": 200, "mid": 60, "tail": 40}

	got := calc.ClassifyCatalog(products, revenue, asOf)

	assert.Equal(t, models.CategoryA, got["top"])
	assert.Equal(t, models.CategoryA, got["second"])
	assert.Equal(t, models.CategoryB, got["mid"])
	assert.Equal(t, models.CategoryC, got["tail"])
	assert.Equal(t, models.CategoryDead, got["never-sold"])
	assert.Equal(t, models.CategoryC, got["quiet"])
	assert.Equal(t, models.CategoryDead, got["stale"])
}

func TestClassifyCatalogSingleDominantProduct(t *testing.T) {
	calc := MetricsCalculator{}
	got := calc.ClassifyCatalog(
		[]models.Product{{SKU: "only"}, {SKU: "small"}},
		map[string]float64{"only": 990, "small": 10},
		time.Now(),
	)
	assert.Equal(t, models.CategoryA, got["only"])
	assert.Equal(t, models.CategoryC, got["small"])
}

func TestReorderQuantity(t *testing.T) {
	calc := MetricsCalculator{}

	assert.Equal(t, 64, calc.ReorderQuantity(2.0, 10, 7, 30))
	assert.Equal(t, 0, calc.ReorderQuantity(0, 10, 7, 30))
	assert.Equal(t, 0, calc.ReorderQuantity(1.0, 100, 7, 30))
	assert.Equal(t, 37, calc.ReorderQuantity(1.0, 0, 7, 0))
}
