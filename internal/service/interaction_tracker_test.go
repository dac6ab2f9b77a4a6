package service

import (
	"context"
	"testing"
	"time"

	"inventory-decision-engine/internal/models"
	"inventory-decision-engine/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(now time.Time) (*InteractionTracker, *store.MemoryStore) {
	mem := store.NewMemoryStore()
	tracker := NewInteractionTracker(mem)
	tracker.now = func() time.Time { return now }
	return tracker, mem
}

func seedInteractions(t *testing.T, mem *store.MemoryStore, user string, action models.ActionType, n int, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, mem.AppendInteraction(context.Background(), &models.InteractionEvent{
			ID:         string(action) + "-" + at.Format(time.RFC3339) + "-" + string(rune('a'+i)),
			UserID:     user,
			Action:     action,
			OccurredAt: at,
		}))
	}
}

func TestRecordInteraction(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tracker, mem := newTestTracker(now)
	ctx := context.Background()

	event, err := tracker.RecordInteraction(ctx, "u1", models.ActionSurge, "JKT-1", map[string]string{"source": "digest"})
	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, now, event.OccurredAt)

	stored, err := mem.ListInteractions(ctx, "u1", time.Time{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "digest", stored[0].Context["source"])
}

func TestRecordInteractionValidation(t *testing.T) {
	tracker, _ := newTestTracker(time.Now())
	ctx := context.Background()

	_, err := tracker.RecordInteraction(ctx, "u1", models.ActionType("LAUNCH"), "", nil)
	assert.True(t, IsValidationError(err))

	_, err = tracker.RecordInteraction(ctx, "", models.ActionSurge, "", nil)
	assert.True(t, IsValidationError(err))
}

func TestAdaptiveDecayBoost(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	recent := now.Add(-2 * 24 * time.Hour)

	tests := []struct {
		name       string
		aggressive int
		other      int
		want       float64
	}{
		{"no interactions", 0, 0, 0},
		{"only calm usage", 0, 4, 0},
		{"two aggressive", 2, 1, 0},
		{"three aggressive", 3, 0, BoostLow},
		{"four aggressive among many", 4, 20, BoostLow},
		{"five aggressive", 5, 0, BoostHigh},
		{"many aggressive", 12, 3, BoostHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker, mem := newTestTracker(now)
			seedInteractions(t, mem, "u1", models.ActionSimulateAggressive, tt.aggressive, recent)
			seedInteractions(t, mem, "u1", models.ActionSimulate, tt.other, recent)

			boost, err := tracker.AdaptiveDecayBoost(context.Background(), "u1", 7, time.Time{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, boost)
		})
	}
}

func TestAdaptiveDecayBoostIgnoresOldInteractions(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tracker, mem := newTestTracker(now)
	seedInteractions(t, mem, "u1", models.ActionSimulateAggressive, 5, now.Add(-10*24*time.Hour))

	boost, err := tracker.AdaptiveDecayBoost(context.Background(), "u1", 7, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, boost)

	boost, err = tracker.AdaptiveDecayBoost(context.Background(), "u1", 14, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, BoostHigh, boost)
}

func TestAdaptiveDecayBoostWindowEndsAtAsOf(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	asOf := now.AddDate(0, -1, 0)
	tracker, mem := newTestTracker(now)
	seedInteractions(t, mem, "u1", models.ActionSimulateAggressive, 3, asOf.Add(-24*time.Hour))
	seedInteractions(t, mem, "u1", models.ActionSimulateAggressive, 5, now.Add(-time.Hour))

	boost, err := tracker.AdaptiveDecayBoost(context.Background(), "u1", 7, asOf)
	require.NoError(t, err)
	assert.Equal(t, BoostLow, boost)

	boost, err = tracker.AdaptiveDecayBoost(context.Background(), "u1", 7, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, BoostHigh, boost)
}

func TestAdaptiveDecayBoostRejectsBadWindow(t *testing.T) {
	tracker, _ := newTestTracker(time.Now())
	_, err := tracker.AdaptiveDecayBoost(context.Background(), "u1", 0, time.Time{})
	assert.True(t, IsValidationError(err))
}

func TestButtonUsage(t *testing.T) {
	now := time.Now()
	tracker, mem := newTestTracker(now)
	seedInteractions(t, mem, "u1", models.ActionSurge, 2, now.Add(-40*24*time.Hour))
	seedInteractions(t, mem, "u1", models.ActionDismiss, 1, now)
	seedInteractions(t, mem, "u2", models.ActionSurge, 3, now)

	usage, err := tracker.ButtonUsage(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, map[models.ActionType]int{models.ActionSurge: 2, models.ActionDismiss: 1}, usage)
}
