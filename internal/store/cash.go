package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"inventory-decision-engine/internal/models"
)

// CashPosition returns the tenant's most recent cash position
func (s *Store) CashPosition(ctx context.Context, tenantID string) (*models.CashPosition, error) {
	var pos models.CashPosition
	err := s.db.GetContext(ctx, &pos,
		`SELECT tenant_id, period_days, inventory_value, cogs, receivables, revenue, payables, as_of
		 FROM cash_positions WHERE tenant_id = $1 ORDER BY as_of DESC LIMIT 1`, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cash position for %s: %w", tenantID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// SaveCashPosition records a position snapshot
func (s *Store) SaveCashPosition(ctx context.Context, pos *models.CashPosition) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cash_positions (tenant_id, as_of, period_days, inventory_value, cogs, receivables, revenue, payables)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (tenant_id, as_of) DO UPDATE SET
			period_days = EXCLUDED.period_days,
			inventory_value = EXCLUDED.inventory_value,
			cogs = EXCLUDED.cogs,
			receivables = EXCLUDED.receivables,
			revenue = EXCLUDED.revenue,
			payables = EXCLUDED.payables`,
		pos.TenantID, pos.AsOf, pos.PeriodDays, pos.InventoryValue, pos.COGS, pos.Receivables, pos.Revenue, pos.Payables)
	if err != nil {
		return fmt.Errorf("failed to save cash position: %w", err)
	}
	return nil
}
