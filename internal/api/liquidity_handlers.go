package api

import (
	"net/http"
	"time"

	"inventory-decision-engine/internal/models"
	"inventory-decision-engine/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type cashPositionRequest struct {
	PeriodDays     int             `json:"period_days" binding:"required,min=1"`
	InventoryValue decimal.Decimal `json:"inventory_value"`
	COGS           decimal.Decimal `json:"cogs"`
	Receivables    decimal.Decimal `json:"receivables"`
	Revenue        decimal.Decimal `json:"revenue"`
	Payables       decimal.Decimal `json:"payables"`
	AsOf           *time.Time      `json:"as_of"`
}

func (r cashPositionRequest) position(tenantID string, now time.Time) *models.CashPosition {
	pos := &models.CashPosition{
		TenantID:       tenantID,
		PeriodDays:     r.PeriodDays,
		InventoryValue: r.InventoryValue,
		COGS:           r.COGS,
		Receivables:    r.Receivables,
		Revenue:        r.Revenue,
		Payables:       r.Payables,
		AsOf:           now.UTC(),
	}
	if r.AsOf != nil {
		pos.AsOf = r.AsOf.UTC()
	}
	return pos
}

// liquidityState reports the tenant's guard state from storage
func (h *Handler) liquidityState(c *gin.Context) {
	st, err := h.deps.Guard.LoadTenantState(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		h.respondError(c, "Failed to load guard state", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tenant_id": st.TenantID,
		"state":     st.State(),
		"session":   st.OpenSession(),
	})
}

// evaluateLiquidity evaluates the posted cash position, or the stored one
// when the body is empty
func (h *Handler) evaluateLiquidity(c *gin.Context) {
	tenantID := c.Param("tenant")
	st := h.deps.Registry.Get(tenantID)

	var (
		eval *service.LiquidityEvaluation
		err  error
	)
	if c.Request.ContentLength > 0 {
		var req cashPositionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body", err)
			return
		}
		eval, err = h.deps.Guard.EvaluateLiquidity(c.Request.Context(), st, req.position(tenantID, h.now()))
	} else {
		eval, err = h.deps.Guard.EvaluateTenant(c.Request.Context(), st)
	}
	if err != nil {
		h.respondError(c, "Failed to evaluate liquidity", err)
		return
	}
	c.JSON(http.StatusOK, eval)
}

type transitionRequest struct {
	Initiator string `json:"initiator" binding:"required"`
	Reason    string `json:"reason"`
}

// freeze opens a manual freeze session
func (h *Handler) freeze(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	tenantID := c.Param("tenant")
	res, err := h.deps.Guard.Freeze(c.Request.Context(), h.deps.Registry.Get(tenantID), req.Initiator, req.Reason)
	if err != nil {
		h.respondError(c, "Failed to freeze", err)
		return
	}
	h.track(c, req.Initiator, models.ActionFreeze, "", map[string]string{"tenant_id": tenantID})
	c.JSON(transitionStatus(res), res)
}

// thaw closes the open freeze session
func (h *Handler) thaw(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	tenantID := c.Param("tenant")
	res, err := h.deps.Guard.Thaw(c.Request.Context(), h.deps.Registry.Get(tenantID), req.Initiator)
	if err != nil {
		h.respondError(c, "Failed to thaw", err)
		return
	}
	h.track(c, req.Initiator, models.ActionThaw, "", map[string]string{"tenant_id": tenantID})
	c.JSON(transitionStatus(res), res)
}

func transitionStatus(res *service.TransitionResult) int {
	if res.Status == service.StatusStateConflict {
		return http.StatusConflict
	}
	return http.StatusOK
}

type actionRequest struct {
	SKU         string            `json:"sku"`
	Action      models.ActionType `json:"action" binding:"required"`
	Quantity    int               `json:"quantity"`
	PriceFactor float64           `json:"price_factor"`
	RequestedBy string            `json:"requested_by"`
}

// executeAction passes a pricing or reorder action through the guard. The
// product's current category and cover are attached so a blocked request
// can be priced by the post-mortem.
func (h *Handler) executeAction(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	tenantID := c.Param("tenant")
	ar := service.ActionRequest{
		SKU:         req.SKU,
		Action:      req.Action,
		Quantity:    req.Quantity,
		PriceFactor: req.PriceFactor,
		RequestedBy: req.RequestedBy,
	}

	if service.IsGated(req.Action) && req.SKU != "" {
		p, err := h.deps.Portfolio.ProductContext(c.Request.Context(), tenantID, req.SKU, h.now().UTC())
		if err != nil {
			h.respondError(c, "Failed to load product", err)
			return
		}
		ar.Category = p.Category
		ar.Coverage = h.calc.CoverageStatus(p.Stock, p.VelocityDaily)
		if ar.Action == models.ActionReorder && ar.Quantity == 0 {
			ar.Quantity = h.calc.ReorderQuantity(p.VelocityDaily, p.Stock, h.deps.LeadTime, service.DefaultTargetCover)
		}
		if ar.Action == models.ActionSurge && ar.PriceFactor == 0 {
			ar.PriceFactor = service.SurgePriceFactor
		}
	}

	decision, err := h.deps.Guard.ExecuteAction(c.Request.Context(), h.deps.Registry.Get(tenantID), ar)
	if err != nil {
		h.respondError(c, "Failed to execute action", err)
		return
	}
	h.track(c, req.RequestedBy, req.Action, req.SKU, map[string]string{
		"tenant_id": tenantID,
		"status":    string(decision.Status),
	})
	c.JSON(http.StatusOK, decision)
}

// listSessions returns the tenant's freeze history
func (h *Handler) listSessions(c *gin.Context) {
	sessions, err := h.deps.Repository.ListSessions(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		h.respondError(c, "Failed to list freeze sessions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tenant_id": c.Param("tenant"),
		"sessions":  sessions,
	})
}

// postMortem returns the session's post-mortem, computing it on first read
func (h *Handler) postMortem(c *gin.Context) {
	ctx := c.Request.Context()
	session, err := h.deps.Repository.GetSession(ctx, c.Param("id"))
	if err != nil {
		h.respondError(c, "Freeze session not found", err)
		return
	}
	if session.TenantID != c.Param("tenant") {
		c.JSON(http.StatusNotFound, gin.H{"error": "Freeze session not found"})
		return
	}

	report, err := h.deps.Analyzer.GeneratePostMortem(ctx, session)
	if err != nil {
		h.respondError(c, "Failed to generate post-mortem", err)
		return
	}

	blocked, err := h.deps.Repository.ListBlockedActions(ctx, session.ID)
	if err != nil {
		h.respondError(c, "Failed to list blocked actions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"report":          report,
		"blocked_actions": blocked,
	})
}
