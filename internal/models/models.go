package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog item as seen by the engine. Category is derived from
// revenue share on every run and is never treated as ground truth.
type Product struct {
	TenantID      string     `db:"tenant_id" json:"tenant_id"`
	SKU           string     `db:"sku" json:"sku"`
	Name          string     `db:"name" json:"name"`
	Kind          string     `db:"kind" json:"kind"`
	Category      Category   `db:"-" json:"category,omitempty"`
	Stock         int        `db:"stock" json:"stock"`
	Price         float64    `db:"price" json:"price"`
	Cost          float64    `db:"cost" json:"cost"`
	VelocityDaily float64    `db:"-" json:"velocity_daily"`
	LastSaleDate  *time.Time `db:"last_sale_date" json:"last_sale_date,omitempty"`
}

// SaleEvent is an immutable ledger row written by order ingestion
type SaleEvent struct {
	ID        string    `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	SKU       string    `db:"sku" json:"sku"`
	Quantity  int       `db:"quantity" json:"quantity"`
	UnitPrice float64   `db:"unit_price" json:"unit_price"`
	SoldAt    time.Time `db:"sold_at" json:"sold_at"`
}

// Category is the ABC class of a product
type Category string

const (
	CategoryA    Category = "A"
	CategoryB    Category = "B"
	CategoryC    Category = "C"
	CategoryDead Category = "DEAD"
)

// Coverage classifies how many days of stock remain
type Coverage string

const (
	CoverageCritical Coverage = "CRITICAL"
	CoverageLow      Coverage = "LOW"
	CoverageOK       Coverage = "OK"
)

// ActionType enumerates the buttons a user can press
type ActionType string

const (
	ActionSurge              ActionType = "SURGE"
	ActionBundle             ActionType = "BUNDLE"
	ActionReorder            ActionType = "REORDER"
	ActionSimulate           ActionType = "SIMULATE"
	ActionSimulateAggressive ActionType = "SIMULATE_AGGRESSIVE"
	ActionSnooze             ActionType = "SNOOZE"
	ActionDismiss            ActionType = "DISMISS"
	ActionFreeze             ActionType = "FREEZE"
	ActionThaw               ActionType = "THAW"
)

var knownActions = map[ActionType]bool{
	ActionSurge:              true,
	ActionBundle:             true,
	ActionReorder:            true,
	ActionSimulate:           true,
	ActionSimulateAggressive: true,
	ActionSnooze:             true,
	ActionDismiss:            true,
	ActionFreeze:             true,
	ActionThaw:               true,
}

// Valid reports whether a is a known action
func (a ActionType) Valid() bool {
	return knownActions[a]
}

// InteractionEvent is one append-only record of user behavior
type InteractionEvent struct {
	ID         string            `db:"id" json:"id"`
	UserID     string            `db:"user_id" json:"user_id"`
	Action     ActionType        `db:"action" json:"action"`
	TargetSKU  string            `db:"target_sku" json:"target_sku,omitempty"`
	Context    map[string]string `db:"-" json:"context,omitempty"`
	OccurredAt time.Time         `db:"occurred_at" json:"occurred_at"`
}

// Simulation result flags
const (
	FlagNoInventory      = "no_inventory"
	FlagInsufficientData = "insufficient_data"
	FlagCostInvalid      = "cost_invalid"
)

// SimulationResult is the Monte Carlo projection for one product
type SimulationResult struct {
	TenantID string `json:"tenant_id"`
	SKU      string `json:"sku"`

	ROI    *float64 `json:"roi"`
	ROIP10 *float64 `json:"roi_p10"`
	ROIP50 *float64 `json:"roi_p50"`
	ROIP90 *float64 `json:"roi_p90"`

	VelocityP10          float64 `json:"velocity_p10"`
	VelocityP50          float64 `json:"velocity_p50"`
	VelocityP90          float64 `json:"velocity_p90"`
	WeightedMeanVelocity float64 `json:"weighted_mean_velocity"`
	WeightedStdVelocity  float64 `json:"weighted_std_velocity"`
	ProjectedUnitsP50    float64 `json:"projected_units_p50"`

	Multiplier    float64 `json:"multiplier"`
	SignalReason  string  `json:"signal_reason"`
	DecayFactor   float64 `json:"decay_factor"`
	AdaptiveBoost float64 `json:"adaptive_boost"`

	Iterations  int   `json:"iterations"`
	Seed        int64 `json:"seed"`
	HorizonDays int   `json:"horizon_days"`

	DaysToStockout *float64 `json:"days_to_stockout"`
	Coverage       Coverage `json:"coverage"`
	Category       Category `json:"category,omitempty"`

	Flags     []string `json:"flags,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	Narrative string   `json:"narrative"`
}

// HasFlag reports whether the result carries the given flag
func (r *SimulationResult) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// FreezeSession is one FROZEN period of a tenant's liquidity guard
type FreezeSession struct {
	ID              string             `db:"id" json:"id"`
	TenantID        string             `db:"tenant_id" json:"tenant_id"`
	StartedAt       time.Time          `db:"started_at" json:"started_at"`
	EndedAt         *time.Time         `db:"ended_at" json:"ended_at,omitempty"`
	Initiator       string             `db:"initiator" json:"initiator"`
	Reason          string             `db:"reason" json:"reason"`
	CCCAtFreeze     *float64           `db:"ccc_at_freeze" json:"ccc_at_freeze,omitempty"`
	OpportunityCost *decimal.Decimal   `db:"opportunity_cost" json:"opportunity_cost,omitempty"`
	Recommendation  *string            `db:"recommendation" json:"recommendation,omitempty"`
	Analysis        *PostMortemFigures `db:"analysis" json:"analysis,omitempty"`
	PostMortemSent  bool               `db:"post_mortem_sent" json:"post_mortem_sent"`
}

// PostMortemFigures is the full first analysis of a closed session. It is
// stored once so later reads agree with the cost that was reported.
type PostMortemFigures struct {
	FreezeDays      float64         `json:"freeze_days"`
	UnitsSold       int             `json:"units_sold"`
	AvgVelocity     decimal.Decimal `json:"avg_velocity"`
	MarginPerUnit   decimal.Decimal `json:"margin_per_unit"`
	BlockedReorders int             `json:"blocked_reorders"`
	OpportunityCost decimal.Decimal `json:"opportunity_cost"`
	Recommendation  string          `json:"recommendation"`
}

// Value stores the figures as JSONB
func (f PostMortemFigures) Value() (driver.Value, error) {
	return json.Marshal(f)
}

// Scan reads the figures from a JSONB column
func (f *PostMortemFigures) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, f)
	case string:
		return json.Unmarshal([]byte(v), f)
	default:
		return fmt.Errorf("cannot scan %T into PostMortemFigures", src)
	}
}

// IsOpen reports whether the session has not been thawed yet
func (s *FreezeSession) IsOpen() bool {
	return s.EndedAt == nil
}

// BlockedAction records an execution request refused during a freeze
type BlockedAction struct {
	ID          string     `db:"id" json:"id"`
	SessionID   string     `db:"session_id" json:"session_id"`
	TenantID    string     `db:"tenant_id" json:"tenant_id"`
	SKU         string     `db:"sku" json:"sku"`
	Action      ActionType `db:"action" json:"action"`
	Category    Category   `db:"category" json:"category"`
	Coverage    Coverage   `db:"coverage" json:"coverage"`
	RequestedBy string     `db:"requested_by" json:"requested_by"`
	BlockedAt   time.Time  `db:"blocked_at" json:"blocked_at"`
}

// CashPosition holds the per-tenant aggregates the cash conversion cycle is
// computed from, all over the same trailing period.
type CashPosition struct {
	TenantID       string          `db:"tenant_id" json:"tenant_id"`
	PeriodDays     int             `db:"period_days" json:"period_days"`
	InventoryValue decimal.Decimal `db:"inventory_value" json:"inventory_value"`
	COGS           decimal.Decimal `db:"cogs" json:"cogs"`
	Receivables    decimal.Decimal `db:"receivables" json:"receivables"`
	Revenue        decimal.Decimal `db:"revenue" json:"revenue"`
	Payables       decimal.Decimal `db:"payables" json:"payables"`
	AsOf           time.Time       `db:"as_of" json:"as_of"`
}
