package api

import (
	"net/http"
	"strconv"
	"time"

	"inventory-decision-engine/internal/models"
	"inventory-decision-engine/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type simulateRequest struct {
	Iterations         *int       `json:"iterations"`
	Seed               *int64     `json:"seed"`
	UseExternalSignals bool       `json:"use_external_signals"`
	UserID             string     `json:"user_id"`
	Locale             string     `json:"locale"`
	AsOf               *time.Time `json:"as_of"`
	HorizonDays        int        `json:"horizon_days"`
}

// options requires iterations and seed to be stated; a run is only
// reproducible when the caller knows both
func (r simulateRequest) options() (service.PortfolioOptions, error) {
	if r.Iterations == nil {
		return service.PortfolioOptions{}, &service.ValidationError{Field: "iterations", Reason: "is required"}
	}
	if r.Seed == nil {
		return service.PortfolioOptions{}, &service.ValidationError{Field: "seed", Reason: "is required"}
	}
	opts := service.PortfolioOptions{
		Iterations:         *r.Iterations,
		Seed:               *r.Seed,
		UseExternalSignals: r.UseExternalSignals,
		UserID:             r.UserID,
		Locale:             r.Locale,
		HorizonDays:        r.HorizonDays,
	}
	if r.AsOf != nil {
		opts.AsOf = r.AsOf.UTC()
	}
	return opts, nil
}

// simulateProduct runs the Monte Carlo projection for one SKU
func (h *Handler) simulateProduct(c *gin.Context) {
	var req simulateRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	opts, err := req.options()
	if err != nil {
		h.respondError(c, "Invalid simulation request", err)
		return
	}

	tenantID, sku := c.Param("tenant"), c.Param("sku")
	entry, err := h.deps.Portfolio.SimulateProduct(c.Request.Context(), tenantID, sku, opts)
	if err != nil {
		h.respondError(c, "Failed to simulate product", err)
		return
	}

	h.track(c, req.UserID, models.ActionSimulate, sku, map[string]string{"tenant_id": tenantID})
	c.JSON(http.StatusOK, entry)
}

// simulateCatalog simulates and ranks a tenant's whole catalog
func (h *Handler) simulateCatalog(c *gin.Context) {
	var req simulateRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	opts, err := req.options()
	if err != nil {
		h.respondError(c, "Invalid simulation request", err)
		return
	}

	tenantID := c.Param("tenant")
	entries, err := h.deps.Portfolio.AnalyzeCatalog(c.Request.Context(), tenantID, opts)
	if err != nil {
		h.respondError(c, "Failed to simulate catalog", err)
		return
	}

	h.track(c, req.UserID, models.ActionSimulate, "", map[string]string{"tenant_id": tenantID, "scope": "catalog"})
	c.JSON(http.StatusOK, gin.H{
		"tenant_id": tenantID,
		"entries":   entries,
	})
}

// latestCatalog returns the scheduler's last run for the tenant
func (h *Handler) latestCatalog(c *gin.Context) {
	if h.deps.Snapshots == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Scheduler not running"})
		return
	}
	snap := h.deps.Snapshots.Snapshot(c.Param("tenant"))
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No scheduled run yet"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// multiplierPreview shows the contextual multiplier for a product kind.
// Explicit weather in the query overrides the live signal.
func (h *Handler) multiplierPreview(c *gin.Context) {
	kind := c.Query("kind")
	if kind == "" {
		badRequest(c, "kind is required", nil)
		return
	}
	asOf, err := parseAsOf(c.Query("as_of"))
	if err != nil {
		badRequest(c, "Invalid as_of", err)
		return
	}
	if asOf.IsZero() {
		asOf = h.now().UTC()
	}
	locale := c.DefaultQuery("locale", h.deps.Locale)

	var signal *models.ContextualSignal
	if raw := c.Query("temp_c"); raw != "" {
		temp, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			badRequest(c, "Invalid temp_c", err)
			return
		}
		signal = &models.ContextualSignal{
			Locale: locale,
			Day:    asOf,
			Weather: &models.WeatherSnapshot{
				Locale:       locale,
				TemperatureC: temp,
				Condition:    c.Query("condition"),
				ObservedAt:   asOf,
			},
		}
	} else if h.deps.Signals != nil {
		signal = h.deps.Signals.Context(c.Request.Context(), locale, asOf)
	}

	multiplier, reason := h.deps.Rules.Evaluate(kind, signal)
	c.JSON(http.StatusOK, gin.H{
		"kind":          kind,
		"locale":        locale,
		"multiplier":    multiplier,
		"reason":        reason,
		"rules_version": h.deps.Rules.RulesVersion(),
		"signal":        signal,
	})
}

type interactionRequest struct {
	Action    models.ActionType `json:"action" binding:"required"`
	TargetSKU string            `json:"target_sku"`
	Context   map[string]string `json:"context"`
}

// recordInteraction appends one button press
func (h *Handler) recordInteraction(c *gin.Context) {
	var req interactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	event, err := h.deps.Tracker.RecordInteraction(c.Request.Context(), c.Param("user"), req.Action, req.TargetSKU, req.Context)
	if err != nil {
		h.respondError(c, "Failed to record interaction", err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

// buttonUsage counts a user's button presses by action
func (h *Handler) buttonUsage(c *gin.Context) {
	usage, err := h.deps.Tracker.ButtonUsage(c.Request.Context(), c.Param("user"))
	if err != nil {
		h.respondError(c, "Failed to get usage", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id": c.Param("user"),
		"usage":   usage,
	})
}

// adaptiveBoost reports the decay boost the simulator would apply
func (h *Handler) adaptiveBoost(c *gin.Context) {
	lookback := h.deps.BoostLookback
	if raw := c.Query("lookback_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "Invalid lookback_days", err)
			return
		}
		lookback = n
	}
	asOf, err := parseAsOf(c.Query("as_of"))
	if err != nil {
		badRequest(c, "Invalid as_of", err)
		return
	}

	boost, err := h.deps.Tracker.AdaptiveDecayBoost(c.Request.Context(), c.Param("user"), lookback, asOf)
	if err != nil {
		h.respondError(c, "Failed to compute boost", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":       c.Param("user"),
		"lookback_days": lookback,
		"boost":         boost,
	})
}

// track records telemetry for a request made on a user's behalf. Failures
// are logged and never fail the request.
func (h *Handler) track(c *gin.Context, userID string, action models.ActionType, sku string, attrs map[string]string) {
	if userID == "" || h.deps.Tracker == nil {
		return
	}
	if _, err := h.deps.Tracker.RecordInteraction(c.Request.Context(), userID, action, sku, attrs); err != nil {
		h.logger.Warn("Failed to record interaction",
			zap.String("user_id", userID),
			zap.String("action", string(action)),
			zap.Error(err))
	}
}
