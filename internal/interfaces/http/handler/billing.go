package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/staryer/backend/internal/application/billingsync"
	"github.com/staryer/backend/internal/domain/metering"
	"github.com/staryer/backend/internal/domain/tiers"
)

// BillingSyncer is the application surface the billing handler needs
type BillingSyncer interface {
	SyncBillingPeriod(ctx context.Context, tenantID uuid.UUID, billingPeriod string) (*billingsync.SyncResult, error)
	SettleOverages(ctx context.Context, tenantID uuid.UUID, billingPeriod string) ([]*tiers.TierUsageOverage, error)
	CreateMeterBasedPrice(ctx context.Context, tenantID, meterID uuid.UUID, input billingsync.CreatePriceInput) (*metering.UsageMeter, error)
}

// BillingHandler serves on-demand billing sync and overage settlement
type BillingHandler struct {
	BaseHandler
	syncer BillingSyncer
}

// NewBillingHandler creates a new billing handler
func NewBillingHandler(syncer BillingSyncer) *BillingHandler {
	return &BillingHandler{syncer: syncer}
}

// RegisterRoutes registers billing routes
func (h *BillingHandler) RegisterRoutes(rg *gin.RouterGroup) {
	billing := rg.Group("/billing")
	{
		billing.POST("/sync", h.Sync)
		billing.POST("/overages/settle", h.SettleOverages)
		billing.POST("/meters/:id/price", h.CreateMeterPrice)
	}
}

// SyncRequest selects the billing period to sync. Empty means the
// current period.
type SyncRequest struct {
	BillingPeriod string `json:"billing_period" binding:"omitempty,len=7"`
}

// CreateMeterPriceRequest provisions a metered price for a meter
type CreateMeterPriceRequest struct {
	ProductName string          `json:"product_name" binding:"required"`
	UnitAmount  decimal.Decimal `json:"unit_amount"`
	Currency    string          `json:"currency"`
	Interval    string          `json:"interval" binding:"omitempty,oneof=monthly yearly month year"`
}

// OverageResponse is the wire representation of a settled overage
type OverageResponse struct {
	ID            uuid.UUID        `json:"id"`
	MeterID       uuid.UUID        `json:"meter_id"`
	CustomerID    string           `json:"customer_id"`
	PlanName      string           `json:"plan_name"`
	BillingPeriod string           `json:"billing_period"`
	LimitValue    int64            `json:"limit_value"`
	UsageValue    int64            `json:"usage_value"`
	OverageAmount int64            `json:"overage_amount"`
	OverageCost   *decimal.Decimal `json:"overage_cost,omitempty"`
	Billed        bool             `json:"billed"`
	BilledAt      *time.Time       `json:"billed_at,omitempty"`
}

func toOverageResponse(o *tiers.TierUsageOverage) OverageResponse {
	return OverageResponse{
		ID:            o.ID,
		MeterID:       o.MeterID,
		CustomerID:    o.CustomerID,
		PlanName:      o.PlanName,
		BillingPeriod: o.BillingPeriod,
		LimitValue:    o.LimitValue,
		UsageValue:    o.UsageValue,
		OverageAmount: o.OverageAmount,
		OverageCost:   o.OverageCost,
		Billed:        o.Billed,
		BilledAt:      o.BilledAt,
	}
}

func (h *BillingHandler) bindPeriod(c *gin.Context) (string, bool) {
	var req SyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.BadRequest(c, "Invalid request body: "+err.Error())
			return "", false
		}
	}
	if req.BillingPeriod == "" {
		return metering.CurrentBillingPeriod(), true
	}
	return req.BillingPeriod, true
}

// Sync reports the period's unreported usage to the billing provider
func (h *BillingHandler) Sync(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context is required")
		return
	}

	period, ok := h.bindPeriod(c)
	if !ok {
		return
	}

	result, err := h.syncer.SyncBillingPeriod(c.Request.Context(), tenantID, period)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, result)
}

// SettleOverages computes and records overage charges for the period
func (h *BillingHandler) SettleOverages(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context is required")
		return
	}

	period, ok := h.bindPeriod(c)
	if !ok {
		return
	}

	overages, err := h.syncer.SettleOverages(c.Request.Context(), tenantID, period)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	out := make([]OverageResponse, 0, len(overages))
	for _, o := range overages {
		out = append(out, toOverageResponse(o))
	}
	h.Success(c, out)
}

// CreateMeterPrice provisions a billing meter and metered price for a
// meter and attaches their provider IDs
func (h *BillingHandler) CreateMeterPrice(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context is required")
		return
	}

	meterID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid meter ID format")
		return
	}

	var req CreateMeterPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	meter, err := h.syncer.CreateMeterBasedPrice(c.Request.Context(), tenantID, meterID, billingsync.CreatePriceInput{
		ProductName: req.ProductName,
		UnitAmount:  req.UnitAmount,
		Currency:    req.Currency,
		Interval:    req.Interval,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toMeterResponse(meter))
}
