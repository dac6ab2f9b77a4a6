package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"inventory-decision-engine/internal/models"
	"inventory-decision-engine/internal/service"
	"inventory-decision-engine/internal/signals"
	"inventory-decision-engine/internal/util"
	"inventory-decision-engine/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Repository is the write and listing side of the store used by the adapter
type Repository interface {
	UpsertProduct(ctx context.Context, p *models.Product) error
	RecordSale(ctx context.Context, sale *models.SaleEvent) error
	SaveCashPosition(ctx context.Context, pos *models.CashPosition) error
	ListSessions(ctx context.Context, tenantID string) ([]models.FreezeSession, error)
	GetSession(ctx context.Context, sessionID string) (*models.FreezeSession, error)
	ListBlockedActions(ctx context.Context, sessionID string) ([]models.BlockedAction, error)
}

// SnapshotSource serves the scheduler's latest per-tenant run
type SnapshotSource interface {
	Snapshot(tenantID string) *worker.TenantSnapshot
}

// Dependencies wires the handler to the engine
type Dependencies struct {
	Repository    Repository
	Portfolio     *service.PortfolioService
	Tracker       *service.InteractionTracker
	Guard         *service.LiquidityGuard
	Registry      *service.TenantRegistry
	Analyzer      *service.PostMortemAnalyzer
	Rules         *signals.Engine
	Signals       service.SignalSource
	Snapshots     SnapshotSource
	LeadTime      int
	BoostLookback int
	Locale        string
}

// Handler contains HTTP handlers
type Handler struct {
	deps   Dependencies
	calc   service.MetricsCalculator
	now    func() time.Time
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Dependencies) *Handler {
	if deps.Rules == nil {
		deps.Rules = signals.NewEngine(nil)
	}
	if deps.Registry == nil {
		deps.Registry = service.NewTenantRegistry()
	}
	if deps.LeadTime <= 0 {
		deps.LeadTime = service.DefaultLeadTimeDays
	}
	if deps.BoostLookback <= 0 {
		deps.BoostLookback = 7
	}
	return &Handler{
		deps:   deps,
		now:    time.Now,
		logger: util.ComponentLogger("api"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		tenant := v1.Group("/tenants/:tenant")
		tenant.PUT("/products/:sku", h.upsertProduct)
		tenant.POST("/sales", h.recordSale)
		tenant.PUT("/cash-position", h.saveCashPosition)

		tenant.POST("/products/:sku/simulate", h.simulateProduct)
		tenant.POST("/catalog/simulate", h.simulateCatalog)
		tenant.GET("/catalog/latest", h.latestCatalog)

		tenant.GET("/liquidity", h.liquidityState)
		tenant.POST("/liquidity/evaluate", h.evaluateLiquidity)
		tenant.POST("/liquidity/freeze", h.freeze)
		tenant.POST("/liquidity/thaw", h.thaw)
		tenant.POST("/actions", h.executeAction)

		tenant.GET("/freeze-sessions", h.listSessions)
		tenant.GET("/freeze-sessions/:id/post-mortem", h.postMortem)

		v1.GET("/signals/multiplier", h.multiplierPreview)

		users := v1.Group("/users/:user")
		users.POST("/interactions", h.recordInteraction)
		users.GET("/usage", h.buttonUsage)
		users.GET("/boost", h.adaptiveBoost)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ready",
		"rules_version": h.deps.Rules.RulesVersion(),
		"time":          time.Now().Unix(),
	})
}

// respondError maps engine errors onto status codes
func (h *Handler) respondError(c *gin.Context, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case service.IsValidationError(err):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrSessionAlreadyOpen), errors.Is(err, models.ErrNoOpenSession):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.logger.Error(message, zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}

func badRequest(c *gin.Context, message string, err error) {
	body := gin.H{"error": message}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}

// bindOptionalJSON binds the body when there is one
func bindOptionalJSON(c *gin.Context, dest interface{}) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(dest)
}

// parseAsOf accepts RFC3339 or a bare date
func parseAsOf(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
