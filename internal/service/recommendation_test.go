package service

import (
	"testing"

	"inventory-decision-engine/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestRecommend(t *testing.T) {
	calc := MetricsCalculator{}
	long, short := 120.0, 2.0

	tests := []struct {
		name    string
		product models.Product
		result  models.SimulationResult
		action  models.ActionType
		qty     int
	}{
		{
			name:    "understocked A item is reordered",
			product: models.Product{SKU: "A1", Category: models.CategoryA, Stock: 10, Price: 20, Cost: 10},
			result:  models.SimulationResult{Coverage: models.CoverageLow, VelocityP50: 2, WeightedMeanVelocity: 2, Multiplier: 1},
			action:  models.ActionReorder,
			qty:     64,
		},
		{
			name:    "understocked high margin C item surges",
			product: models.Product{SKU: "C1", Category: models.CategoryC, Stock: 2, Price: 30, Cost: 10},
			result:  models.SimulationResult{Coverage: models.CoverageCritical, VelocityP50: 1, WeightedMeanVelocity: 1, Multiplier: 1},
			action:  models.ActionSurge,
		},
		{
			name:    "understocked thin margin C item holds",
			product: models.Product{SKU: "C2", Category: models.CategoryC, Stock: 2, Price: 12, Cost: 10},
			result:  models.SimulationResult{Coverage: models.CoverageCritical, DaysToStockout: &short, VelocityP50: 1, WeightedMeanVelocity: 1, Multiplier: 1},
			action:  ActionHold,
		},
		{
			name:    "dead stock is bundled",
			product: models.Product{SKU: "D1", Category: models.CategoryDead, Stock: 40, Price: 12, Cost: 10},
			result:  models.SimulationResult{Coverage: models.CoverageOK, Multiplier: 1},
			action:  models.ActionBundle,
		},
		{
			name:    "slow C item is bundled",
			product: models.Product{SKU: "C3", Category: models.CategoryC, Stock: 120, Price: 12, Cost: 10},
			result:  models.SimulationResult{Coverage: models.CoverageOK, DaysToStockout: &long, VelocityP50: 1, Multiplier: 1},
			action:  models.ActionBundle,
		},
		{
			name:    "healthy A item holds",
			product: models.Product{SKU: "A2", Category: models.CategoryA, Stock: 100, Price: 20, Cost: 10},
			result:  models.SimulationResult{Coverage: models.CoverageOK, VelocityP50: 2, Multiplier: 1},
			action:  ActionHold,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := calc.Recommend(tt.product, &tt.result, 7)
			assert.Equal(t, tt.action, rec.Action)
			assert.Equal(t, tt.qty, rec.Quantity)
			assert.NotEmpty(t, rec.Rationale)
			if tt.action == models.ActionSurge {
				assert.Equal(t, SurgePriceFactor, rec.PriceFactor)
			}
		})
	}
}
