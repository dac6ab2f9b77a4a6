package api

import (
	"net/http"
	"time"

	"inventory-decision-engine/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type productRequest struct {
	Name  string  `json:"name" binding:"required"`
	Kind  string  `json:"kind"`
	Stock int     `json:"stock" binding:"min=0"`
	Price float64 `json:"price" binding:"min=0"`
	Cost  float64 `json:"cost"`
}

// upsertProduct creates or replaces a catalog entry
func (h *Handler) upsertProduct(c *gin.Context) {
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	p := &models.Product{
		TenantID: c.Param("tenant"),
		SKU:      c.Param("sku"),
		Name:     req.Name,
		Kind:     req.Kind,
		Stock:    req.Stock,
		Price:    req.Price,
		Cost:     req.Cost,
	}
	if err := h.deps.Repository.UpsertProduct(c.Request.Context(), p); err != nil {
		h.respondError(c, "Failed to save product", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type saleRequest struct {
	ID        string     `json:"id"`
	SKU       string     `json:"sku" binding:"required"`
	Quantity  int        `json:"quantity" binding:"required,min=1"`
	UnitPrice float64    `json:"unit_price" binding:"min=0"`
	SoldAt    *time.Time `json:"sold_at"`
}

// recordSale appends one ledger row. Re-posting an id is a no-op.
func (h *Handler) recordSale(c *gin.Context) {
	var req saleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	sale := &models.SaleEvent{
		ID:        req.ID,
		TenantID:  c.Param("tenant"),
		SKU:       req.SKU,
		Quantity:  req.Quantity,
		UnitPrice: req.UnitPrice,
		SoldAt:    h.now().UTC(),
	}
	if sale.ID == "" {
		sale.ID = uuid.New().String()
	}
	if req.SoldAt != nil {
		sale.SoldAt = req.SoldAt.UTC()
	}

	if err := h.deps.Repository.RecordSale(c.Request.Context(), sale); err != nil {
		h.respondError(c, "Failed to record sale", err)
		return
	}
	c.JSON(http.StatusCreated, sale)
}

// saveCashPosition stores the tenant's latest working-capital aggregates
func (h *Handler) saveCashPosition(c *gin.Context) {
	var req cashPositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	pos := req.position(c.Param("tenant"), h.now())
	if err := h.deps.Repository.SaveCashPosition(c.Request.Context(), pos); err != nil {
		h.respondError(c, "Failed to save cash position", err)
		return
	}
	c.JSON(http.StatusOK, pos)
}
