package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"inventory-decision-engine/internal/models"
)

const productColumns = "tenant_id, sku, name, kind, stock, price, cost, last_sale_date"

// ListProducts retrieves a tenant's catalog
func (s *Store) ListProducts(ctx context.Context, tenantID string) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products,
		"SELECT "+productColumns+" FROM products WHERE tenant_id = $1 ORDER BY sku", tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// GetProduct retrieves one product
func (s *Store) GetProduct(ctx context.Context, tenantID, sku string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		"SELECT "+productColumns+" FROM products WHERE tenant_id = $1 AND sku = $2", tenantID, sku)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", sku, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// UpsertProduct creates or replaces a catalog entry
func (s *Store) UpsertProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (tenant_id, sku, name, kind, stock, price, cost, last_sale_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, sku) DO UPDATE SET
			name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			stock = EXCLUDED.stock,
			price = EXCLUDED.price,
			cost = EXCLUDED.cost,
			last_sale_date = COALESCE(EXCLUDED.last_sale_date, products.last_sale_date),
			updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, query,
		p.TenantID, p.SKU, p.Name, p.Kind, p.Stock, p.Price, p.Cost, p.LastSaleDate)
	if err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	return nil
}

// RecordSale appends a ledger row and advances the product's last sale date
func (s *Store) RecordSale(ctx context.Context, sale *models.SaleEvent) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sale_events (id, tenant_id, sku, quantity, unit_price, sold_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		sale.ID, sale.TenantID, sale.SKU, sale.Quantity, sale.UnitPrice, sale.SoldAt)
	if err != nil {
		return fmt.Errorf("failed to insert sale: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE products SET last_sale_date = GREATEST(COALESCE(last_sale_date, $1), $1), updated_at = NOW()
		 WHERE tenant_id = $2 AND sku = $3`,
		sale.SoldAt, sale.TenantID, sale.SKU)
	if err != nil {
		return fmt.Errorf("failed to update last sale date: %w", err)
	}

	return tx.Commit()
}

// Query returns a product's sales since the given time, oldest first
func (s *Store) Query(ctx context.Context, tenantID, sku string, since time.Time) ([]models.SaleEvent, error) {
	var sales []models.SaleEvent
	err := s.db.SelectContext(ctx, &sales,
		`SELECT id, tenant_id, sku, quantity, unit_price, sold_at FROM sale_events
		 WHERE tenant_id = $1 AND sku = $2 AND sold_at >= $3 ORDER BY sold_at`,
		tenantID, sku, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	return sales, nil
}

// QueryTenant returns all of a tenant's sales in [since, until], oldest first
func (s *Store) QueryTenant(ctx context.Context, tenantID string, since, until time.Time) ([]models.SaleEvent, error) {
	var sales []models.SaleEvent
	err := s.db.SelectContext(ctx, &sales,
		`SELECT id, tenant_id, sku, quantity, unit_price, sold_at FROM sale_events
		 WHERE tenant_id = $1 AND sold_at >= $2 AND sold_at <= $3 ORDER BY sold_at`,
		tenantID, since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant sales: %w", err)
	}
	return sales, nil
}
