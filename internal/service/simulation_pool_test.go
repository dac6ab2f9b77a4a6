package service

import (
	"context"
	"testing"

	"inventory-decision-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func catalogRequests() []SimulationRequest {
	high := baseRequest()
	high.Product = models.Product{SKU: "HIGH", Kind: "hat", Stock: 100, Price: 30, Cost: 10}
	high.Sales = dailySales("HIGH", testAsOf, 10, 2)

	low := baseRequest()
	low.Product = models.Product{SKU: "LOW", Kind: "mug", Stock: 100, Price: 12, Cost: 10}
	low.Sales = dailySales("LOW", testAsOf, 10, 2)

	noCost := baseRequest()
	noCost.Product = models.Product{SKU: "FREE", Kind: "sticker", Stock: 100, Price: 1}

	bad := baseRequest()
	bad.Product = models.Product{SKU: "BAD", Stock: -3, Price: 5, Cost: 1}

	return []SimulationRequest{bad, low, noCost, high}
}

func TestSimulateCatalogRanksByMedianROI(t *testing.T) {
	engine := newTestEngine(nil, nil)

	outcomes, err := engine.SimulateCatalog(context.Background(), catalogRequests(), 2)
	require.NoError(t, err)
	require.Len(t, outcomes, 4)

	assert.Equal(t, "HIGH", outcomes[0].SKU)
	assert.InDelta(t, 80.0, *outcomes[0].Result.ROI, 1e-9)
	assert.Equal(t, "LOW", outcomes[1].SKU)
	assert.InDelta(t, -28.0, *outcomes[1].Result.ROI, 1e-9)

	// undefined ROI sorts last, by SKU
	assert.Equal(t, "BAD", outcomes[2].SKU)
	assert.Nil(t, outcomes[2].Result)
	assert.True(t, IsValidationError(outcomes[2].Err))
	assert.Equal(t, "FREE", outcomes[3].SKU)
	assert.Nil(t, outcomes[3].Result.ROI)
}

func TestSimulateCatalogMatchesSequentialRuns(t *testing.T) {
	engine := newTestEngine(nil, nil)
	reqs := catalogRequests()[1:]

	outcomes, err := engine.SimulateCatalog(context.Background(), reqs, 8)
	require.NoError(t, err)

	bySKU := map[string]*models.SimulationResult{}
	for _, o := range outcomes {
		bySKU[o.SKU] = o.Result
	}
	for _, req := range reqs {
		want, err := engine.RunROISimulation(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, want, bySKU[req.Product.SKU])
	}
}

func TestSimulateCatalogCancelled(t *testing.T) {
	engine := newTestEngine(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.SimulateCatalog(ctx, catalogRequests(), 1)
	assert.ErrorIs(t, err, context.Canceled)
}
