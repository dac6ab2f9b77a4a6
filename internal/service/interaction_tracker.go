package service

import (
	"context"
	"fmt"
	"time"

	"inventory-decision-engine/internal/models"
	"inventory-decision-engine/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Adaptive boost tiers, keyed on aggressive simulations in the lookback window
const (
	AggressiveHighCount = 5
	AggressiveLowCount  = 3
	BoostHigh           = 0.15
	BoostLow            = 0.10
)

// InteractionTracker records button presses and turns them into a recency
// bias for the simulator
type InteractionTracker struct {
	log    InteractionLog
	now    func() time.Time
	logger *zap.Logger
}

// NewInteractionTracker creates a tracker over the given log
func NewInteractionTracker(log InteractionLog) *InteractionTracker {
	return &InteractionTracker{
		log:    log,
		now:    time.Now,
		logger: util.GetLogger(),
	}
}

// RecordInteraction validates and appends one event
func (t *InteractionTracker) RecordInteraction(ctx context.Context, userID string, action models.ActionType, targetSKU string, attrs map[string]string) (*models.InteractionEvent, error) {
	ctx, span := util.StartSpan(ctx, "InteractionTracker.RecordInteraction",
		attribute.String("action", string(action)))
	defer span.End()

	if userID == "" {
		return nil, newValidationError("user_id", "must not be empty", nil)
	}
	if !action.Valid() {
		return nil, newValidationError("action", "unknown action", action)
	}

	event := &models.InteractionEvent{
		ID:         uuid.New().String(),
		UserID:     userID,
		Action:     action,
		TargetSKU:  targetSKU,
		Context:    attrs,
		OccurredAt: t.now().UTC(),
	}
	if err := t.log.AppendInteraction(ctx, event); err != nil {
		util.RecordSpanError(span, err)
		return nil, fmt.Errorf("failed to append interaction: %w", err)
	}

	util.InteractionsRecordedTotal.WithLabelValues(string(action)).Inc()
	t.logger.Debug("Interaction recorded",
		zap.String("user_id", userID),
		zap.String("action", string(action)),
		zap.String("sku", targetSKU))
	return event, nil
}

// AdaptiveDecayBoost maps aggressive simulations in the lookbackDays ending at
// asOf to an extra decay. A zero asOf means now. The tiers are absolute
// counts, not a share of all interactions.
func (t *InteractionTracker) AdaptiveDecayBoost(ctx context.Context, userID string, lookbackDays int, asOf time.Time) (float64, error) {
	ctx, span := util.StartSpan(ctx, "InteractionTracker.AdaptiveDecayBoost")
	defer span.End()

	if lookbackDays <= 0 {
		return 0, newValidationError("lookback_days", "must be positive", lookbackDays)
	}

	if asOf.IsZero() {
		asOf = t.now()
	}
	since := asOf.Add(-time.Duration(lookbackDays) * 24 * time.Hour)
	events, err := t.log.ListInteractions(ctx, userID, since)
	if err != nil {
		util.RecordSpanError(span, err)
		return 0, fmt.Errorf("failed to list interactions: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	aggressive := 0
	for _, e := range events {
		if e.OccurredAt.After(asOf) {
			continue
		}
		if e.Action == models.ActionSimulateAggressive {
			aggressive++
		}
	}

	switch {
	case aggressive >= AggressiveHighCount:
		return BoostHigh, nil
	case aggressive >= AggressiveLowCount:
		return BoostLow, nil
	default:
		return 0, nil
	}
}

// ButtonUsage counts every recorded action for a user
func (t *InteractionTracker) ButtonUsage(ctx context.Context, userID string) (map[models.ActionType]int, error) {
	ctx, span := util.StartSpan(ctx, "InteractionTracker.ButtonUsage")
	defer span.End()

	events, err := t.log.ListInteractions(ctx, userID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to list interactions: %w", err)
	}

	usage := make(map[models.ActionType]int)
	for _, e := range events {
		usage[e.Action]++
	}
	return usage, nil
}
