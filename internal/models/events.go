package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeFreezeOpened        = "FREEZE_OPENED"
	EventTypeFreezeClosed        = "FREEZE_CLOSED"
	EventTypeActionBlocked       = "ACTION_BLOCKED"
	EventTypeActionApproved      = "ACTION_APPROVED"
	EventTypePostMortemCompleted = "POST_MORTEM_COMPLETED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// FreezeOpenedEvent published when a tenant enters FROZEN
type FreezeOpenedEvent struct {
	BaseEvent
	TenantID  string   `json:"tenant_id"`
	SessionID string   `json:"session_id"`
	Initiator string   `json:"initiator"`
	Reason    string   `json:"reason"`
	CCCDays   *float64 `json:"ccc_days,omitempty"`
}

// FreezeClosedEvent published on thaw; consumers run the post-mortem no
// earlier than RunAfter.
type FreezeClosedEvent struct {
	BaseEvent
	TenantID  string    `json:"tenant_id"`
	SessionID string    `json:"session_id"`
	Initiator string    `json:"initiator"`
	RunAfter  time.Time `json:"run_after"`
}

// ActionBlockedEvent published when the guard refuses an execution request
type ActionBlockedEvent struct {
	BaseEvent
	TenantID  string     `json:"tenant_id"`
	SessionID string     `json:"session_id"`
	SKU       string     `json:"sku"`
	Action    ActionType `json:"action"`
}

// ActionApprovedEvent hands an allowed decision to the action executor
type ActionApprovedEvent struct {
	BaseEvent
	TenantID    string     `json:"tenant_id"`
	SKU         string     `json:"sku"`
	Action      ActionType `json:"action"`
	Quantity    int        `json:"quantity,omitempty"`
	PriceFactor float64    `json:"price_factor,omitempty"`
	RequestedBy string     `json:"requested_by"`
}

// PostMortemCompletedEvent is consumed by the external notifier
type PostMortemCompletedEvent struct {
	BaseEvent
	TenantID        string          `json:"tenant_id"`
	SessionID       string          `json:"session_id"`
	OpportunityCost decimal.Decimal `json:"opportunity_cost"`
	Recommendation  string          `json:"recommendation"`
	FreezeDays      float64         `json:"freeze_days"`
}
