package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"inventory-decision-engine/internal/models"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const sessionColumns = `id, tenant_id, started_at, ended_at, initiator, reason, ccc_at_freeze,
	opportunity_cost, recommendation, analysis, post_mortem_sent`

// OpenSession inserts a new open session. The partial unique index on open
// sessions turns a concurrent second freeze into ErrSessionAlreadyOpen.
func (s *Store) OpenSession(ctx context.Context, session *models.FreezeSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO freeze_sessions (id, tenant_id, started_at, initiator, reason, ccc_at_freeze)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		session.ID, session.TenantID, session.StartedAt, session.Initiator, session.Reason, session.CCCAtFreeze)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return models.ErrSessionAlreadyOpen
		}
		return fmt.Errorf("failed to insert freeze session: %w", err)
	}
	return nil
}

// CloseSession ends the tenant's open session inside a transaction holding a
// row lock, so concurrent thaws close it at most once
func (s *Store) CloseSession(ctx context.Context, tenantID string, endedAt time.Time) (*models.FreezeSession, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var id string
	err = tx.GetContext(ctx, &id,
		"SELECT id FROM freeze_sessions WHERE tenant_id = $1 AND ended_at IS NULL FOR UPDATE", tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNoOpenSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock freeze session: %w", err)
	}

	var closed models.FreezeSession
	err = tx.GetContext(ctx, &closed,
		"UPDATE freeze_sessions SET ended_at = $1 WHERE id = $2 AND ended_at IS NULL RETURNING "+sessionColumns,
		endedAt, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNoOpenSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to close freeze session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &closed, nil
}

// GetOpenSession returns the tenant's open session, or nil when it has none
func (s *Store) GetOpenSession(ctx context.Context, tenantID string) (*models.FreezeSession, error) {
	var session models.FreezeSession
	err := s.db.GetContext(ctx, &session,
		"SELECT "+sessionColumns+" FROM freeze_sessions WHERE tenant_id = $1 AND ended_at IS NULL", tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession retrieves a session by ID
func (s *Store) GetSession(ctx context.Context, sessionID string) (*models.FreezeSession, error) {
	var session models.FreezeSession
	err := s.db.GetContext(ctx, &session,
		"SELECT "+sessionColumns+" FROM freeze_sessions WHERE id = $1", sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("freeze session %s: %w", sessionID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions returns a tenant's sessions, newest first
func (s *Store) ListSessions(ctx context.Context, tenantID string) ([]models.FreezeSession, error) {
	var sessions []models.FreezeSession
	err := s.db.SelectContext(ctx, &sessions,
		"SELECT "+sessionColumns+" FROM freeze_sessions WHERE tenant_id = $1 ORDER BY started_at DESC", tenantID)
	return sessions, err
}

// SavePostMortem stores the analysis only when none is stored yet and
// returns the row as persisted
func (s *Store) SavePostMortem(ctx context.Context, sessionID string, figures models.PostMortemFigures) (*models.FreezeSession, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE freeze_sessions SET opportunity_cost = $2, recommendation = $3, analysis = $4
		 WHERE id = $1 AND opportunity_cost IS NULL`,
		sessionID, figures.OpportunityCost, figures.Recommendation, figures)
	if err != nil {
		return nil, fmt.Errorf("failed to save post-mortem: %w", err)
	}
	return s.GetSession(ctx, sessionID)
}

// MarkPostMortemSent flips the notification flag once
func (s *Store) MarkPostMortemSent(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE freeze_sessions SET post_mortem_sent = TRUE WHERE id = $1 AND post_mortem_sent = FALSE",
		sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to mark post-mortem sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return false, err
	}
	return false, nil
}

// RecordBlockedAction appends a blocked execution request
func (s *Store) RecordBlockedAction(ctx context.Context, a *models.BlockedAction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blocked_actions (id, session_id, tenant_id, sku, action, category, coverage, requested_by, blocked_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.SessionID, a.TenantID, a.SKU, a.Action, a.Category, a.Coverage, a.RequestedBy, a.BlockedAt)
	if err != nil {
		return fmt.Errorf("failed to insert blocked action: %w", err)
	}
	return nil
}

// ListBlockedActions returns the requests blocked during a session
func (s *Store) ListBlockedActions(ctx context.Context, sessionID string) ([]models.BlockedAction, error) {
	var actions []models.BlockedAction
	err := s.db.SelectContext(ctx, &actions,
		`SELECT id, session_id, tenant_id, sku, action, category, coverage, requested_by, blocked_at
		 FROM blocked_actions WHERE session_id = $1 ORDER BY blocked_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocked actions: %w", err)
	}
	return actions, nil
}
