package service

import (
	"context"
	"time"

	"inventory-decision-engine/internal/models"
)

// SalesLedger is the read-only view of order ingestion
type SalesLedger interface {
	Query(ctx context.Context, tenantID, sku string, since time.Time) ([]models.SaleEvent, error)
	QueryTenant(ctx context.Context, tenantID string, since, until time.Time) ([]models.SaleEvent, error)
}

// ProductCatalog lists a tenant's products
type ProductCatalog interface {
	ListProducts(ctx context.Context, tenantID string) ([]models.Product, error)
	GetProduct(ctx context.Context, tenantID, sku string) (*models.Product, error)
}

// InteractionLog is append-only storage for user interactions
type InteractionLog interface {
	AppendInteraction(ctx context.Context, event *models.InteractionEvent) error
	ListInteractions(ctx context.Context, userID string, since time.Time) ([]models.InteractionEvent, error)
}

// FreezeSessionRepository persists freeze sessions. OpenSession must fail with
// models.ErrSessionAlreadyOpen when the tenant already has an open session and
// CloseSession with models.ErrNoOpenSession when it has none.
type FreezeSessionRepository interface {
	OpenSession(ctx context.Context, session *models.FreezeSession) error
	CloseSession(ctx context.Context, tenantID string, endedAt time.Time) (*models.FreezeSession, error)
	GetOpenSession(ctx context.Context, tenantID string) (*models.FreezeSession, error)
	GetSession(ctx context.Context, sessionID string) (*models.FreezeSession, error)
	// SavePostMortem stores the result only if none is stored yet and returns
	// the row as persisted.
	SavePostMortem(ctx context.Context, sessionID string, figures models.PostMortemFigures) (*models.FreezeSession, error)
	// MarkPostMortemSent reports whether this call flipped the flag
	MarkPostMortemSent(ctx context.Context, sessionID string) (bool, error)
}

// BlockedActionLog records execution requests refused during a freeze
type BlockedActionLog interface {
	RecordBlockedAction(ctx context.Context, action *models.BlockedAction) error
	ListBlockedActions(ctx context.Context, sessionID string) ([]models.BlockedAction, error)
}

// CashPositionSource supplies the aggregates behind the cash conversion cycle
type CashPositionSource interface {
	CashPosition(ctx context.Context, tenantID string) (*models.CashPosition, error)
}

// SignalSource returns the day's external context; it never fails, missing
// data is simply absent.
type SignalSource interface {
	Context(ctx context.Context, locale string, asOf time.Time) *models.ContextualSignal
}

// PostMortemScheduler arranges a deferred post-mortem run after a thaw
type PostMortemScheduler interface {
	SchedulePostMortem(ctx context.Context, session *models.FreezeSession, runAfter time.Time) error
}

// GuardEvents receives notifications about guard activity
type GuardEvents interface {
	FreezeOpened(ctx context.Context, session *models.FreezeSession) error
	ActionBlocked(ctx context.Context, action *models.BlockedAction) error
}

// ActionExecutor applies an approved decision outside the engine
type ActionExecutor interface {
	Execute(ctx context.Context, decision *ActionDecision) error
}

// TenantLocker provides cross-process mutual exclusion per tenant
type TenantLocker interface {
	Lock(ctx context.Context, tenantID string) (release func(), err error)
}
