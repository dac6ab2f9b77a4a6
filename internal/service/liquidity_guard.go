package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inventory-decision-engine/internal/models"
	"inventory-decision-engine/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Initiators recorded on freeze sessions
const (
	InitiatorSystem = "system"
)

// TransitionStatus is the outcome of a freeze or thaw request
type TransitionStatus string

const (
	StatusFrozen        TransitionStatus = "FROZEN"
	StatusThawed        TransitionStatus = "THAWED"
	StatusStateConflict TransitionStatus = "STATE_CONFLICT"
)

// TransitionResult reports a transition attempt. A STATE_CONFLICT result
// leaves state and storage untouched.
type TransitionResult struct {
	Status   TransitionStatus      `json:"status"`
	State    GuardState            `json:"state"`
	Session  *models.FreezeSession `json:"session,omitempty"`
	RunAfter *time.Time            `json:"post_mortem_after,omitempty"`
	Reason   string                `json:"reason,omitempty"`
}

// LiquidityDecision summarizes an evaluation
type LiquidityDecision string

const (
	DecisionHealthy          LiquidityDecision = "HEALTHY"
	DecisionFreeze           LiquidityDecision = "FREEZE"
	DecisionAlreadyFrozen    LiquidityDecision = "ALREADY_FROZEN"
	DecisionThawEligible     LiquidityDecision = "THAW_ELIGIBLE"
	DecisionInsufficientData LiquidityDecision = "INSUFFICIENT_DATA"
)

// LiquidityEvaluation is the cash conversion cycle check for one tenant
type LiquidityEvaluation struct {
	TenantID      string            `json:"tenant_id"`
	CCCDays       *float64          `json:"ccc_days"`
	DIO           *float64          `json:"dio"`
	DSO           *float64          `json:"dso"`
	DPO           *float64          `json:"dpo"`
	ThresholdDays float64           `json:"threshold_days"`
	Decision      LiquidityDecision `json:"decision"`
	Reason        string            `json:"reason,omitempty"`
	State         GuardState        `json:"state"`
	Transition    *TransitionResult `json:"transition,omitempty"`
}

// ActionStatus is the guard's answer to an execution request
type ActionStatus string

const (
	ActionAllowed       ActionStatus = "ACTION_ALLOWED"
	ActionBlockedFrozen ActionStatus = "ACTION_BLOCKED_FROZEN"
)

// ActionRequest asks to execute a pricing or reorder action
type ActionRequest struct {
	SKU         string            `json:"sku"`
	Action      models.ActionType `json:"action"`
	Category    models.Category   `json:"category"`
	Coverage    models.Coverage   `json:"coverage"`
	Quantity    int               `json:"quantity,omitempty"`
	PriceFactor float64           `json:"price_factor,omitempty"`
	RequestedBy string            `json:"requested_by"`
}

// ActionDecision is the guard's ruling on a request
type ActionDecision struct {
	TenantID    string            `json:"tenant_id"`
	SKU         string            `json:"sku"`
	Action      models.ActionType `json:"action"`
	Status      ActionStatus      `json:"status"`
	SessionID   string            `json:"session_id,omitempty"`
	Quantity    int               `json:"quantity,omitempty"`
	PriceFactor float64           `json:"price_factor,omitempty"`
	RequestedBy string            `json:"requested_by"`
	Reason      string            `json:"reason,omitempty"`
}

var gatedActions = map[models.ActionType]bool{
	models.ActionSurge:   true,
	models.ActionBundle:  true,
	models.ActionReorder: true,
}

// IsGated reports whether the guard decides on this action
func IsGated(a models.ActionType) bool {
	return gatedActions[a]
}

// GuardConfig holds the guard's calibratable values
type GuardConfig struct {
	CCCThresholdDays float64
	PostMortemDelay  time.Duration
}

// GuardOption configures optional collaborators
type GuardOption func(*LiquidityGuard)

// WithLocker adds cross-process tenant locking
func WithLocker(l TenantLocker) GuardOption {
	return func(g *LiquidityGuard) { g.locker = l }
}

// WithScheduler arranges post-mortems after thaw
func WithScheduler(s PostMortemScheduler) GuardOption {
	return func(g *LiquidityGuard) { g.scheduler = s }
}

// WithEvents publishes guard activity
func WithEvents(e GuardEvents) GuardOption {
	return func(g *LiquidityGuard) { g.events = e }
}

// WithExecutor dispatches allowed actions
func WithExecutor(e ActionExecutor) GuardOption {
	return func(g *LiquidityGuard) { g.executor = e }
}

// WithCashSource lets EvaluateTenant fetch cash positions itself
func WithCashSource(c CashPositionSource) GuardOption {
	return func(g *LiquidityGuard) { g.cash = c }
}

// LiquidityGuard is the NORMAL/FROZEN state machine gating pricing and
// reorder execution on cash conversion cycle risk
type LiquidityGuard struct {
	sessions  FreezeSessionRepository
	blocked   BlockedActionLog
	cash      CashPositionSource
	scheduler PostMortemScheduler
	events    GuardEvents
	executor  ActionExecutor
	locker    TenantLocker
	cfg       GuardConfig
	now       func() time.Time
	logger    *zap.Logger
}

// NewLiquidityGuard creates a guard over the session and blocked-action stores
func NewLiquidityGuard(sessions FreezeSessionRepository, blocked BlockedActionLog, cfg GuardConfig, opts ...GuardOption) *LiquidityGuard {
	g := &LiquidityGuard{
		sessions: sessions,
		blocked:  blocked,
		cfg:      cfg,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// LoadTenantState builds a TenantState from the stored open session
func (g *LiquidityGuard) LoadTenantState(ctx context.Context, tenantID string) (*TenantState, error) {
	st := NewTenantState(tenantID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := g.sync(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// CCCBreakdown holds the cash conversion cycle and its terms in days
type CCCBreakdown struct {
	DIO     float64
	DSO     float64
	DPO     float64
	CCC     float64
	Defined bool
	Reason  string
}

// ComputeCCC returns DIO + DSO - DPO over the position's period. COGS or
// revenue that is not positive leaves the cycle undefined.
func ComputeCCC(pos *models.CashPosition) CCCBreakdown {
	if pos == nil || pos.PeriodDays <= 0 || !pos.COGS.IsPositive() || !pos.Revenue.IsPositive() {
		return CCCBreakdown{Reason: models.FlagInsufficientData}
	}
	days := decimal.NewFromInt(int64(pos.PeriodDays))
	dio := pos.InventoryValue.Div(pos.COGS).Mul(days)
	dso := pos.Receivables.Div(pos.Revenue).Mul(days)
	dpo := pos.Payables.Div(pos.COGS).Mul(days)
	ccc := dio.Add(dso).Sub(dpo)

	return CCCBreakdown{
		DIO:     dio.Round(2).InexactFloat64(),
		DSO:     dso.Round(2).InexactFloat64(),
		DPO:     dpo.Round(2).InexactFloat64(),
		CCC:     ccc.Round(2).InexactFloat64(),
		Defined: true,
	}
}

// EvaluateLiquidity computes the cycle and freezes a NORMAL tenant whose
// cycle exceeds the threshold. A frozen tenant back under the threshold is
// reported thaw-eligible; thawing stays a deliberate call.
func (g *LiquidityGuard) EvaluateLiquidity(ctx context.Context, st *TenantState, pos *models.CashPosition) (*LiquidityEvaluation, error) {
	ctx, span := util.StartSpan(ctx, "LiquidityGuard.EvaluateLiquidity",
		attribute.String("tenant_id", st.TenantID))
	defer span.End()

	st.mu.Lock()
	defer st.mu.Unlock()

	release, err := g.lock(ctx, st.TenantID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := g.sync(ctx, st); err != nil {
		return nil, err
	}

	eval := &LiquidityEvaluation{
		TenantID:      st.TenantID,
		ThresholdDays: g.cfg.CCCThresholdDays,
		State:         st.state,
	}

	b := ComputeCCC(pos)
	if !b.Defined {
		eval.Decision = DecisionInsufficientData
		eval.Reason = b.Reason
		util.LiquidityEvaluationsTotal.WithLabelValues(string(eval.Decision)).Inc()
		return eval, nil
	}

	eval.CCCDays, eval.DIO, eval.DSO, eval.DPO = &b.CCC, &b.DIO, &b.DSO, &b.DPO
	util.CashConversionCycleDays.WithLabelValues(st.TenantID).Set(b.CCC)

	over := b.CCC > g.cfg.CCCThresholdDays
	switch {
	case over && st.state == GuardNormal:
		reason := fmt.Sprintf("cash conversion cycle %.1f days exceeds %.1f", b.CCC, g.cfg.CCCThresholdDays)
		ccc := b.CCC
		res, err := g.freezeLocked(ctx, st, InitiatorSystem, reason, &ccc)
		if err != nil {
			util.RecordSpanError(span, err)
			return nil, err
		}
		eval.Transition = res
		eval.Reason = reason
		eval.Decision = DecisionFreeze
		if res.Status == StatusStateConflict {
			eval.Decision = DecisionAlreadyFrozen
		}
	case over:
		eval.Decision = DecisionAlreadyFrozen
	case st.state == GuardFrozen:
		eval.Decision = DecisionThawEligible
		eval.Reason = fmt.Sprintf("cash conversion cycle %.1f days back within %.1f", b.CCC, g.cfg.CCCThresholdDays)
	default:
		eval.Decision = DecisionHealthy
	}

	eval.State = st.state
	util.LiquidityEvaluationsTotal.WithLabelValues(string(eval.Decision)).Inc()
	g.logger.Info("Liquidity evaluated",
		zap.String("tenant_id", st.TenantID),
		zap.Float64("ccc_days", b.CCC),
		zap.String("decision", string(eval.Decision)))
	return eval, nil
}

// EvaluateTenant fetches the tenant's cash position and evaluates it
func (g *LiquidityGuard) EvaluateTenant(ctx context.Context, st *TenantState) (*LiquidityEvaluation, error) {
	if g.cash == nil {
		return nil, errors.New("no cash position source configured")
	}
	pos, err := g.cash.CashPosition(ctx, st.TenantID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to get cash position: %w", err)
	}
	return g.EvaluateLiquidity(ctx, st, pos)
}

// Freeze opens a freeze session. A tenant already frozen gets STATE_CONFLICT.
func (g *LiquidityGuard) Freeze(ctx context.Context, st *TenantState, initiator, reason string) (*TransitionResult, error) {
	ctx, span := util.StartSpan(ctx, "LiquidityGuard.Freeze",
		attribute.String("tenant_id", st.TenantID))
	defer span.End()

	if initiator == "" {
		return nil, newValidationError("initiator", "must not be empty", nil)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	release, err := g.lock(ctx, st.TenantID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := g.sync(ctx, st); err != nil {
		return nil, err
	}
	return g.freezeLocked(ctx, st, initiator, reason, nil)
}

func (g *LiquidityGuard) freezeLocked(ctx context.Context, st *TenantState, initiator, reason string, ccc *float64) (*TransitionResult, error) {
	if st.state == GuardFrozen {
		util.GuardTransitionsTotal.WithLabelValues("freeze", string(StatusStateConflict)).Inc()
		return &TransitionResult{
			Status:  StatusStateConflict,
			State:   st.state,
			Session: copySession(st.session),
			Reason:  "tenant already frozen",
		}, nil
	}

	session := &models.FreezeSession{
		ID:          uuid.New().String(),
		TenantID:    st.TenantID,
		StartedAt:   g.now().UTC(),
		Initiator:   initiator,
		Reason:      reason,
		CCCAtFreeze: ccc,
	}

	if err := g.sessions.OpenSession(ctx, session); err != nil {
		if errors.Is(err, models.ErrSessionAlreadyOpen) {
			if err := g.sync(ctx, st); err != nil {
				return nil, err
			}
			util.GuardTransitionsTotal.WithLabelValues("freeze", string(StatusStateConflict)).Inc()
			return &TransitionResult{
				Status:  StatusStateConflict,
				State:   st.state,
				Session: copySession(st.session),
				Reason:  "tenant already frozen",
			}, nil
		}
		return nil, fmt.Errorf("failed to open freeze session: %w", err)
	}

	st.adopt(session)
	util.GuardTransitionsTotal.WithLabelValues("freeze", string(StatusFrozen)).Inc()
	g.logger.Info("Tenant frozen",
		zap.String("tenant_id", st.TenantID),
		zap.String("session_id", session.ID),
		zap.String("initiator", initiator),
		zap.String("reason", reason))

	if g.events != nil {
		if err := g.events.FreezeOpened(ctx, session); err != nil {
			g.logger.Warn("Failed to publish freeze opened", zap.Error(err))
		}
	}

	return &TransitionResult{Status: StatusFrozen, State: GuardFrozen, Session: copySession(session)}, nil
}

// Thaw closes the open session and schedules its post-mortem. A tenant that
// is not frozen gets STATE_CONFLICT.
func (g *LiquidityGuard) Thaw(ctx context.Context, st *TenantState, initiator string) (*TransitionResult, error) {
	ctx, span := util.StartSpan(ctx, "LiquidityGuard.Thaw",
		attribute.String("tenant_id", st.TenantID))
	defer span.End()

	if initiator == "" {
		return nil, newValidationError("initiator", "must not be empty", nil)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	release, err := g.lock(ctx, st.TenantID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := g.sync(ctx, st); err != nil {
		return nil, err
	}

	if st.state != GuardFrozen {
		util.GuardTransitionsTotal.WithLabelValues("thaw", string(StatusStateConflict)).Inc()
		return &TransitionResult{Status: StatusStateConflict, State: st.state, Reason: "no open freeze session"}, nil
	}

	now := g.now().UTC()
	closed, err := g.sessions.CloseSession(ctx, st.TenantID, now)
	if err != nil {
		if errors.Is(err, models.ErrNoOpenSession) {
			st.adopt(nil)
			util.GuardTransitionsTotal.WithLabelValues("thaw", string(StatusStateConflict)).Inc()
			return &TransitionResult{Status: StatusStateConflict, State: st.state, Reason: "no open freeze session"}, nil
		}
		util.RecordSpanError(span, err)
		return nil, fmt.Errorf("failed to close freeze session: %w", err)
	}

	st.adopt(nil)
	runAfter := now.Add(g.cfg.PostMortemDelay)
	res := &TransitionResult{Status: StatusThawed, State: GuardNormal, Session: copySession(closed), RunAfter: &runAfter}

	util.GuardTransitionsTotal.WithLabelValues("thaw", string(StatusThawed)).Inc()
	g.logger.Info("Tenant thawed",
		zap.String("tenant_id", st.TenantID),
		zap.String("session_id", closed.ID),
		zap.String("initiator", initiator),
		zap.Time("post_mortem_after", runAfter))

	if g.scheduler != nil {
		if err := g.scheduler.SchedulePostMortem(ctx, closed, runAfter); err != nil {
			g.logger.Error("Failed to schedule post-mortem",
				zap.String("session_id", closed.ID),
				zap.Error(err))
			res.Reason = "post-mortem scheduling failed"
		}
	}
	return res, nil
}

// AuthorizeAction allows or blocks a pricing or reorder action. While frozen,
// SURGE, BUNDLE and REORDER are refused and recorded against the session.
func (g *LiquidityGuard) AuthorizeAction(ctx context.Context, st *TenantState, req ActionRequest) (*ActionDecision, error) {
	ctx, span := util.StartSpan(ctx, "LiquidityGuard.AuthorizeAction",
		attribute.String("tenant_id", st.TenantID),
		attribute.String("action", string(req.Action)))
	defer span.End()

	if !req.Action.Valid() {
		return nil, newValidationError("action", "unknown action", req.Action)
	}
	if IsGated(req.Action) && req.SKU == "" {
		return nil, newValidationError("sku", "must not be empty", nil)
	}

	decision := &ActionDecision{
		TenantID:    st.TenantID,
		SKU:         req.SKU,
		Action:      req.Action,
		Status:      ActionAllowed,
		Quantity:    req.Quantity,
		PriceFactor: req.PriceFactor,
		RequestedBy: req.RequestedBy,
	}
	if !IsGated(req.Action) {
		return decision, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if err := g.sync(ctx, st); err != nil {
		return nil, err
	}
	if st.state != GuardFrozen {
		return decision, nil
	}

	blocked := &models.BlockedAction{
		ID:          uuid.New().String(),
		SessionID:   st.session.ID,
		TenantID:    st.TenantID,
		SKU:         req.SKU,
		Action:      req.Action,
		Category:    req.Category,
		Coverage:    req.Coverage,
		RequestedBy: req.RequestedBy,
		BlockedAt:   g.now().UTC(),
	}
	if err := g.blocked.RecordBlockedAction(ctx, blocked); err != nil {
		util.RecordSpanError(span, err)
		return nil, fmt.Errorf("failed to record blocked action: %w", err)
	}

	decision.Status = ActionBlockedFrozen
	decision.SessionID = st.session.ID
	decision.Reason = "tenant frozen: " + st.session.Reason

	util.ActionsBlockedTotal.WithLabelValues(string(req.Action)).Inc()
	g.logger.Info("Action blocked by freeze",
		zap.String("tenant_id", st.TenantID),
		zap.String("sku", req.SKU),
		zap.String("action", string(req.Action)))

	if g.events != nil {
		if err := g.events.ActionBlocked(ctx, blocked); err != nil {
			g.logger.Warn("Failed to publish action blocked", zap.Error(err))
		}
	}
	return decision, nil
}

// ExecuteAction authorizes a request and hands allowed gated actions to the
// executor
func (g *LiquidityGuard) ExecuteAction(ctx context.Context, st *TenantState, req ActionRequest) (*ActionDecision, error) {
	decision, err := g.AuthorizeAction(ctx, st, req)
	if err != nil {
		return nil, err
	}
	if decision.Status != ActionAllowed || !IsGated(req.Action) || g.executor == nil {
		return decision, nil
	}
	if err := g.executor.Execute(ctx, decision); err != nil {
		return nil, fmt.Errorf("failed to dispatch action: %w", err)
	}
	return decision, nil
}

// sync must be called with st.mu held
func (g *LiquidityGuard) sync(ctx context.Context, st *TenantState) error {
	open, err := g.sessions.GetOpenSession(ctx, st.TenantID)
	if err != nil {
		return fmt.Errorf("failed to load open freeze session: %w", err)
	}
	st.adopt(open)
	return nil
}

func (g *LiquidityGuard) lock(ctx context.Context, tenantID string) (func(), error) {
	if g.locker == nil {
		return func() {}, nil
	}
	release, err := g.locker.Lock(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire tenant lock: %w", err)
	}
	return release, nil
}

func copySession(s *models.FreezeSession) *models.FreezeSession {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
