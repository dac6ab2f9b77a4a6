package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"inventory-decision-engine/internal/models"
	"inventory-decision-engine/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var guardNow = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

type recordingScheduler struct {
	mu       sync.Mutex
	sessions []string
	runAfter []time.Time
	err      error
}

func (s *recordingScheduler) SchedulePostMortem(_ context.Context, session *models.FreezeSession, runAfter time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, session.ID)
	s.runAfter = append(s.runAfter, runAfter)
	return s.err
}

type recordingExecutor struct {
	decisions []*ActionDecision
}

func (e *recordingExecutor) Execute(_ context.Context, d *ActionDecision) error {
	e.decisions = append(e.decisions, d)
	return nil
}

type countingLocker struct {
	mu       sync.Mutex
	locks    int
	releases int
	err      error
}

func (l *countingLocker) Lock(context.Context, string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.locks++
	return func() {
		l.mu.Lock()
		l.releases++
		l.mu.Unlock()
	}, nil
}

func newTestGuard(opts ...GuardOption) (*LiquidityGuard, *store.MemoryStore) {
	mem := store.NewMemoryStore()
	g := NewLiquidityGuard(mem, mem, GuardConfig{CCCThresholdDays: 45, PostMortemDelay: 24 * time.Hour}, opts...)
	g.now = func() time.Time { return guardNow }
	return g, mem
}

// position builds a 30-day position with the given inventory, receivables
// and payables against COGS and revenue of 1000
func position(inventory, receivables, payables int64) *models.CashPosition {
	return &models.CashPosition{
		TenantID:       "t1",
		PeriodDays:     30,
		InventoryValue: decimal.NewFromInt(inventory),
		COGS:           decimal.NewFromInt(1000),
		Receivables:    decimal.NewFromInt(receivables),
		Revenue:        decimal.NewFromInt(1000),
		Payables:       decimal.NewFromInt(payables),
	}
}

func tenantSessions(t *testing.T, mem *store.MemoryStore, tenant string) []models.FreezeSession {
	t.Helper()
	all, err := mem.ListSessions(context.Background(), tenant)
	require.NoError(t, err)
	return all
}

func TestComputeCCC(t *testing.T) {
	b := ComputeCCC(position(1500, 500, 0))
	require.True(t, b.Defined)
	assert.Equal(t, 45.0, b.DIO)
	assert.Equal(t, 15.0, b.DSO)
	assert.Equal(t, 0.0, b.DPO)
	assert.Equal(t, 60.0, b.CCC)

	b = ComputeCCC(position(1000, 0, 500))
	assert.Equal(t, 15.0, b.CCC)

	zeroCOGS := position(1000, 0, 0)
	zeroCOGS.COGS = decimal.Zero
	b = ComputeCCC(zeroCOGS)
	assert.False(t, b.Defined)
	assert.Equal(t, models.FlagInsufficientData, b.Reason)

	zeroRevenue := position(1000, 0, 0)
	zeroRevenue.Revenue = decimal.Zero
	assert.False(t, ComputeCCC(zeroRevenue).Defined)
	assert.False(t, ComputeCCC(nil).Defined)
}

func TestEvaluateLiquidityFreezesOverThreshold(t *testing.T) {
	guard, mem := newTestGuard()
	st := NewTenantState("t1")
	ctx := context.Background()

	eval, err := guard.EvaluateLiquidity(ctx, st, position(1500, 500, 0))
	require.NoError(t, err)

	assert.Equal(t, DecisionFreeze, eval.Decision)
	require.NotNil(t, eval.CCCDays)
	assert.Equal(t, 60.0, *eval.CCCDays)
	assert.Equal(t, GuardFrozen, eval.State)
	assert.Equal(t, GuardFrozen, st.State())
	require.NotNil(t, eval.Transition)
	assert.Equal(t, StatusFrozen, eval.Transition.Status)

	sessions := tenantSessions(t, mem, "t1")
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].IsOpen())
	assert.Equal(t, InitiatorSystem, sessions[0].Initiator)
	require.NotNil(t, sessions[0].CCCAtFreeze)
	assert.Equal(t, 60.0, *sessions[0].CCCAtFreeze)

	eval, err = guard.EvaluateLiquidity(ctx, st, position(1500, 500, 0))
	require.NoError(t, err)
	assert.Equal(t, DecisionAlreadyFrozen, eval.Decision)
	assert.Len(t, tenantSessions(t, mem, "t1"), 1)
}

func TestEvaluateLiquidityOutcomes(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy", func(t *testing.T) {
		guard, mem := newTestGuard()
		st := NewTenantState("t1")
		eval, err := guard.EvaluateLiquidity(ctx, st, position(900, 100, 0))
		require.NoError(t, err)
		assert.Equal(t, DecisionHealthy, eval.Decision)
		assert.Equal(t, GuardNormal, st.State())
		assert.Empty(t, tenantSessions(t, mem, "t1"))
	})

	t.Run("exactly at threshold stays normal", func(t *testing.T) {
		guard, _ := newTestGuard()
		st := NewTenantState("t1")
		eval, err := guard.EvaluateLiquidity(ctx, st, position(1500, 0, 0))
		require.NoError(t, err)
		assert.Equal(t, DecisionHealthy, eval.Decision)
	})

	t.Run("insufficient data never transitions", func(t *testing.T) {
		guard, mem := newTestGuard()
		st := NewTenantState("t1")
		pos := position(90000, 500, 0)
		pos.COGS = decimal.Zero
		eval, err := guard.EvaluateLiquidity(ctx, st, pos)
		require.NoError(t, err)
		assert.Equal(t, DecisionInsufficientData, eval.Decision)
		assert.Equal(t, models.FlagInsufficientData, eval.Reason)
		assert.Nil(t, eval.CCCDays)
		assert.Equal(t, GuardNormal, st.State())
		assert.Empty(t, tenantSessions(t, mem, "t1"))
	})

	t.Run("frozen tenant back under threshold is thaw eligible", func(t *testing.T) {
		guard, _ := newTestGuard()
		st := NewTenantState("t1")
		_, err := guard.Freeze(ctx, st, "ops", "manual")
		require.NoError(t, err)

		eval, err := guard.EvaluateLiquidity(ctx, st, position(300, 100, 0))
		require.NoError(t, err)
		assert.Equal(t, DecisionThawEligible, eval.Decision)
		assert.Equal(t, GuardFrozen, st.State())
	})
}

func TestEvaluateTenantUsesCashSource(t *testing.T) {
	mem := store.NewMemoryStore()
	guard := NewLiquidityGuard(mem, mem, GuardConfig{CCCThresholdDays: 45}, WithCashSource(mem))
	ctx := context.Background()
	st := NewTenantState("t1")

	eval, err := guard.EvaluateTenant(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, DecisionInsufficientData, eval.Decision)

	require.NoError(t, mem.SaveCashPosition(ctx, position(1500, 500, 0)))
	eval, err = guard.EvaluateTenant(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, DecisionFreeze, eval.Decision)
}

func TestFreezeTwiceIsStateConflict(t *testing.T) {
	guard, mem := newTestGuard()
	st := NewTenantState("t1")
	ctx := context.Background()

	first, err := guard.Freeze(ctx, st, "ops", "supplier dispute")
	require.NoError(t, err)
	assert.Equal(t, StatusFrozen, first.Status)
	require.NotNil(t, first.Session)
	assert.Equal(t, guardNow, first.Session.StartedAt)

	second, err := guard.Freeze(ctx, st, "ops", "again")
	require.NoError(t, err)
	assert.Equal(t, StatusStateConflict, second.Status)
	assert.Equal(t, GuardFrozen, second.State)
	assert.Equal(t, first.Session.ID, second.Session.ID)

	sessions := tenantSessions(t, mem, "t1")
	require.Len(t, sessions, 1)
	assert.Equal(t, "supplier dispute", sessions[0].Reason)
}

func TestThawWithoutSessionIsStateConflict(t *testing.T) {
	scheduler := &recordingScheduler{}
	guard, mem := newTestGuard(WithScheduler(scheduler))
	st := NewTenantState("t1")

	res, err := guard.Thaw(context.Background(), st, "ops")
	require.NoError(t, err)
	assert.Equal(t, StatusStateConflict, res.Status)
	assert.Equal(t, GuardNormal, res.State)
	assert.Empty(t, tenantSessions(t, mem, "t1"))
	assert.Empty(t, scheduler.sessions)
}

func TestThawClosesSessionAndSchedulesPostMortem(t *testing.T) {
	scheduler := &recordingScheduler{}
	guard, mem := newTestGuard(WithScheduler(scheduler))
	st := NewTenantState("t1")
	ctx := context.Background()

	frozen, err := guard.Freeze(ctx, st, "ops", "manual")
	require.NoError(t, err)

	res, err := guard.Thaw(ctx, st, "ops")
	require.NoError(t, err)
	assert.Equal(t, StatusThawed, res.Status)
	assert.Equal(t, GuardNormal, st.State())
	assert.Nil(t, st.OpenSession())
	require.NotNil(t, res.Session.EndedAt)
	require.NotNil(t, res.RunAfter)
	assert.Equal(t, guardNow.Add(24*time.Hour), *res.RunAfter)

	assert.Equal(t, []string{frozen.Session.ID}, scheduler.sessions)
	assert.Equal(t, []time.Time{guardNow.Add(24 * time.Hour)}, scheduler.runAfter)

	open, err := mem.GetOpenSession(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, open)

	again, err := guard.Freeze(ctx, st, "ops", "second round")
	require.NoError(t, err)
	assert.Equal(t, StatusFrozen, again.Status)
	assert.Len(t, tenantSessions(t, mem, "t1"), 2)
}

func TestThawSchedulingFailureStillThaws(t *testing.T) {
	scheduler := &recordingScheduler{err: errors.New("broker down")}
	guard, _ := newTestGuard(WithScheduler(scheduler))
	st := NewTenantState("t1")
	ctx := context.Background()

	_, err := guard.Freeze(ctx, st, "ops", "manual")
	require.NoError(t, err)
	res, err := guard.Thaw(ctx, st, "ops")
	require.NoError(t, err)
	assert.Equal(t, StatusThawed, res.Status)
	assert.NotEmpty(t, res.Reason)
}

func TestSeparateStatesShareStoredSession(t *testing.T) {
	guard, mem := newTestGuard()
	ctx := context.Background()
	a := NewTenantState("t1")
	b := NewTenantState("t1")

	res, err := guard.Freeze(ctx, a, "ops", "first")
	require.NoError(t, err)
	assert.Equal(t, StatusFrozen, res.Status)

	res, err = guard.Freeze(ctx, b, "ops", "second")
	require.NoError(t, err)
	assert.Equal(t, StatusStateConflict, res.Status)
	assert.Equal(t, GuardFrozen, b.State())

	res, err = guard.Thaw(ctx, b, "ops")
	require.NoError(t, err)
	assert.Equal(t, StatusThawed, res.Status)

	res, err = guard.Thaw(ctx, a, "ops")
	require.NoError(t, err)
	assert.Equal(t, StatusStateConflict, res.Status)
	assert.Len(t, tenantSessions(t, mem, "t1"), 1)
}

func TestConcurrentFreezesOpenOneSession(t *testing.T) {
	guard, mem := newTestGuard()
	ctx := context.Background()
	states := []*TenantState{NewTenantState("t1"), NewTenantState("t1")}

	var wg sync.WaitGroup
	results := make([]*TransitionResult, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := guard.Freeze(ctx, states[i%2], "ops", "race")
			if err == nil {
				results[i] = res
			}
		}(i)
	}
	wg.Wait()

	frozen := 0
	for _, r := range results {
		require.NotNil(t, r)
		if r.Status == StatusFrozen {
			frozen++
		} else {
			assert.Equal(t, StatusStateConflict, r.Status)
		}
	}
	assert.Equal(t, 1, frozen)
	assert.Len(t, tenantSessions(t, mem, "t1"), 1)
}

func TestConcurrentFreezeAndThaw(t *testing.T) {
	sched := &recordingScheduler{}
	guard, mem := newTestGuard(WithScheduler(sched))
	ctx := context.Background()
	states := []*TenantState{NewTenantState("t1"), NewTenantState("t1")}

	var wg sync.WaitGroup
	results := make([]*TransitionResult, 40)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var res *TransitionResult
			var err error
			if i%4 < 2 {
				res, err = guard.Freeze(ctx, states[i%2], "ops", "race")
			} else {
				res, err = guard.Thaw(ctx, states[i%2], "ops")
			}
			if err == nil {
				results[i] = res
			}
		}(i)
	}
	wg.Wait()

	frozen, thawed := 0, 0
	for _, r := range results {
		require.NotNil(t, r)
		switch r.Status {
		case StatusFrozen:
			frozen++
		case StatusThawed:
			thawed++
		default:
			assert.Equal(t, StatusStateConflict, r.Status)
		}
	}

	sessions := tenantSessions(t, mem, "t1")
	open := 0
	for _, s := range sessions {
		if s.IsOpen() {
			open++
		}
	}
	assert.Len(t, sessions, frozen)
	assert.Equal(t, frozen-thawed, open)
	assert.LessOrEqual(t, open, 1)

	openSession, err := mem.GetOpenSession(ctx, "t1")
	require.NoError(t, err)
	if open == 1 {
		require.NotNil(t, openSession)
	} else {
		assert.Nil(t, openSession)
	}

	seen := make(map[string]bool)
	for _, id := range sched.sessions {
		assert.False(t, seen[id], "session %s closed twice", id)
		seen[id] = true
	}
	assert.Len(t, sched.sessions, thawed)
}

func TestGuardUsesTenantLocker(t *testing.T) {
	locker := &countingLocker{}
	guard, _ := newTestGuard(WithLocker(locker))
	st := NewTenantState("t1")
	ctx := context.Background()

	_, err := guard.Freeze(ctx, st, "ops", "manual")
	require.NoError(t, err)
	_, err = guard.Thaw(ctx, st, "ops")
	require.NoError(t, err)
	assert.Equal(t, 2, locker.locks)
	assert.Equal(t, 2, locker.releases)

	locker.err = errors.New("lock held")
	_, err = guard.Freeze(ctx, st, "ops", "manual")
	assert.Error(t, err)
	assert.Equal(t, GuardNormal, st.State())
}

func TestAuthorizeAction(t *testing.T) {
	guard, mem := newTestGuard()
	st := NewTenantState("t1")
	ctx := context.Background()

	req := ActionRequest{SKU: "JKT-1", Action: models.ActionReorder, Category: models.CategoryA, Coverage: models.CoverageLow, RequestedBy: "u1"}

	decision, err := guard.AuthorizeAction(ctx, st, req)
	require.NoError(t, err)
	assert.Equal(t, ActionAllowed, decision.Status)

	frozen, err := guard.Freeze(ctx, st, "ops", "cash crunch")
	require.NoError(t, err)

	for _, action := range []models.ActionType{models.ActionSurge, models.ActionBundle, models.ActionReorder} {
		req.Action = action
		decision, err = guard.AuthorizeAction(ctx, st, req)
		require.NoError(t, err)
		assert.Equal(t, ActionBlockedFrozen, decision.Status, action)
		assert.Equal(t, frozen.Session.ID, decision.SessionID)
	}

	req.Action = models.ActionSimulate
	decision, err = guard.AuthorizeAction(ctx, st, req)
	require.NoError(t, err)
	assert.Equal(t, ActionAllowed, decision.Status)

	blocked, err := mem.ListBlockedActions(ctx, frozen.Session.ID)
	require.NoError(t, err)
	require.Len(t, blocked, 3)
	assert.Equal(t, models.CategoryA, blocked[2].Category)
	assert.Equal(t, models.CoverageLow, blocked[2].Coverage)
}

func TestAuthorizeActionValidation(t *testing.T) {
	guard, _ := newTestGuard()
	st := NewTenantState("t1")

	_, err := guard.AuthorizeAction(context.Background(), st, ActionRequest{SKU: "A", Action: "PANIC"})
	assert.True(t, IsValidationError(err))

	_, err = guard.AuthorizeAction(context.Background(), st, ActionRequest{Action: models.ActionSurge})
	assert.True(t, IsValidationError(err))
}

func TestExecuteActionDispatchesOnlyAllowed(t *testing.T) {
	executor := &recordingExecutor{}
	guard, _ := newTestGuard(WithExecutor(executor))
	st := NewTenantState("t1")
	ctx := context.Background()

	req := ActionRequest{SKU: "JKT-1", Action: models.ActionSurge, PriceFactor: 1.1, RequestedBy: "u1"}
	decision, err := guard.ExecuteAction(ctx, st, req)
	require.NoError(t, err)
	assert.Equal(t, ActionAllowed, decision.Status)
	require.Len(t, executor.decisions, 1)
	assert.Equal(t, 1.1, executor.decisions[0].PriceFactor)

	_, err = guard.Freeze(ctx, st, "ops", "manual")
	require.NoError(t, err)
	decision, err = guard.ExecuteAction(ctx, st, req)
	require.NoError(t, err)
	assert.Equal(t, ActionBlockedFrozen, decision.Status)
	assert.Len(t, executor.decisions, 1)
}

func TestLoadTenantState(t *testing.T) {
	guard, _ := newTestGuard()
	ctx := context.Background()

	_, err := guard.Freeze(ctx, NewTenantState("t1"), "ops", "manual")
	require.NoError(t, err)

	st, err := guard.LoadTenantState(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, GuardFrozen, st.State())
	require.NotNil(t, st.OpenSession())

	other, err := guard.LoadTenantState(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, GuardNormal, other.State())
}

func TestTenantRegistry(t *testing.T) {
	r := NewTenantRegistry()
	a := r.Get("t1")
	assert.Same(t, a, r.Get("t1"))
	assert.NotSame(t, a, r.Get("t2"))
	assert.ElementsMatch(t, []string{"t1", "t2"}, r.Tenants())
}
