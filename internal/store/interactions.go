package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"inventory-decision-engine/internal/models"
)

type interactionRow struct {
	models.InteractionEvent
	ContextJSON []byte `db:"context"`
}

// AppendInteraction stores one interaction event
func (s *Store) AppendInteraction(ctx context.Context, e *models.InteractionEvent) error {
	attrs := e.Context
	if attrs == nil {
		attrs = map[string]string{}
	}
	payload, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("failed to marshal interaction context: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO interaction_events (id, user_id, action, target_sku, context, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.UserID, e.Action, e.TargetSKU, payload, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to insert interaction: %w", err)
	}
	return nil
}

// ListInteractions returns a user's interactions at or after since
func (s *Store) ListInteractions(ctx context.Context, userID string, since time.Time) ([]models.InteractionEvent, error) {
	var rows []interactionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, user_id, action, target_sku, context, occurred_at FROM interaction_events
		 WHERE user_id = $1 AND occurred_at >= $2 ORDER BY occurred_at`,
		userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list interactions: %w", err)
	}

	events := make([]models.InteractionEvent, 0, len(rows))
	for _, r := range rows {
		e := r.InteractionEvent
		if len(r.ContextJSON) > 0 {
			if err := json.Unmarshal(r.ContextJSON, &e.Context); err != nil {
				return nil, fmt.Errorf("failed to decode interaction context: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, nil
}
