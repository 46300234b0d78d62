package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	appmetering "github.com/staryer/backend/internal/application/metering"
	"github.com/staryer/backend/internal/domain/metering"
)

// MeterRegistry is the application surface the meter handler needs
type MeterRegistry interface {
	CreateMeter(ctx context.Context, tenantID uuid.UUID, input appmetering.CreateMeterInput) (*metering.UsageMeter, error)
	CreatePlanLimits(ctx context.Context, tenantID, meterID uuid.UUID, inputs []appmetering.PlanLimitInput) ([]*metering.MeterPlanLimit, error)
	GetMeter(ctx context.Context, tenantID, meterID uuid.UUID) (*metering.UsageMeter, error)
	ListMeters(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]*metering.UsageMeter, error)
	ListPlanLimits(ctx context.Context, tenantID, meterID uuid.UUID) ([]*metering.MeterPlanLimit, error)
	DeactivateMeter(ctx context.Context, tenantID, meterID uuid.UUID) (*metering.UsageMeter, error)
}

// MeterHandler serves the usage meter registry
type MeterHandler struct {
	BaseHandler
	registry MeterRegistry
}

// NewMeterHandler creates a new meter handler
func NewMeterHandler(registry MeterRegistry) *MeterHandler {
	return &MeterHandler{registry: registry}
}

// RegisterRoutes registers meter routes
func (h *MeterHandler) RegisterRoutes(rg *gin.RouterGroup) {
	meters := rg.Group("/meters")
	{
		meters.POST("", h.Create)
		meters.GET("", h.List)
		meters.GET("/:id", h.Get)
		meters.DELETE("/:id", h.Deactivate)
		meters.PUT("/:id/limits", h.SetPlanLimits)
		meters.GET("/:id/limits", h.ListPlanLimits)
	}
}

// CreateMeterRequest is the payload for registering a usage meter
type CreateMeterRequest struct {
	EventName    string `json:"event_name" binding:"required"`
	DisplayName  string `json:"display_name"`
	Description  string `json:"description"`
	Aggregation  string `json:"aggregation" binding:"required,oneof=count sum unique duration max"`
	UnitName     string `json:"unit_name"`
	BillingModel string `json:"billing_model" binding:"omitempty,oneof=metered licensed hybrid"`
}

// PlanLimitRequest is one plan's limit definition for a meter
type PlanLimitRequest struct {
	PlanName           string           `json:"plan_name" binding:"required"`
	LimitValue         *int64           `json:"limit_value"`
	OveragePrice       *decimal.Decimal `json:"overage_price"`
	SoftLimitThreshold float64          `json:"soft_limit_threshold" binding:"omitempty,gt=0,lte=1"`
	HardCap            bool             `json:"hard_cap"`
}

// SetPlanLimitsRequest replaces the plan limits of a meter
type SetPlanLimitsRequest struct {
	Limits []PlanLimitRequest `json:"limits" binding:"required,min=1,dive"`
}

// MeterResponse is the wire representation of a usage meter
type MeterResponse struct {
	ID            uuid.UUID `json:"id"`
	EventName     string    `json:"event_name"`
	DisplayName   string    `json:"display_name"`
	Description   string    `json:"description,omitempty"`
	Aggregation   string    `json:"aggregation"`
	UnitName      string    `json:"unit_name,omitempty"`
	BillingModel  string    `json:"billing_model"`
	Active        bool      `json:"active"`
	StripeMeterID string    `json:"stripe_meter_id,omitempty"`
	StripePriceID string    `json:"stripe_price_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PlanLimitResponse is the wire representation of a plan limit
type PlanLimitResponse struct {
	ID                 uuid.UUID        `json:"id"`
	MeterID            uuid.UUID        `json:"meter_id"`
	PlanName           string           `json:"plan_name"`
	LimitValue         *int64           `json:"limit_value"`
	OveragePrice       *decimal.Decimal `json:"overage_price,omitempty"`
	SoftLimitThreshold float64          `json:"soft_limit_threshold"`
	HardCap            bool             `json:"hard_cap"`
}

func toMeterResponse(m *metering.UsageMeter) MeterResponse {
	return MeterResponse{
		ID:            m.ID,
		EventName:     m.EventName,
		DisplayName:   m.DisplayName,
		Description:   m.Description,
		Aggregation:   string(m.Aggregation),
		UnitName:      m.UnitName,
		BillingModel:  string(m.BillingModel),
		Active:        m.Active,
		StripeMeterID: m.StripeMeterID,
		StripePriceID: m.StripePriceID,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func toPlanLimitResponse(l *metering.MeterPlanLimit) PlanLimitResponse {
	return PlanLimitResponse{
		ID:                 l.ID,
		MeterID:            l.MeterID,
		PlanName:           l.PlanName,
		LimitValue:         l.LimitValue,
		OveragePrice:       l.OveragePrice,
		SoftLimitThreshold: l.SoftLimitThreshold,
		HardCap:            l.HardCap,
	}
}

// Create registers a new usage meter
func (h *MeterHandler) Create(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context is required")
		return
	}

	var req CreateMeterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	meter, err := h.registry.CreateMeter(c.Request.Context(), tenantID, appmetering.CreateMeterInput{
		EventName:    req.EventName,
		DisplayName:  req.DisplayName,
		Description:  req.Description,
		Aggregation:  req.Aggregation,
		UnitName:     req.UnitName,
		BillingModel: req.BillingModel,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, toMeterResponse(meter))
}

// List returns the tenant's meters, optionally only active ones
func (h *MeterHandler) List(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context is required")
		return
	}

	activeOnly := c.Query("active") == "true"

	meters, err := h.registry.ListMeters(c.Request.Context(), tenantID, activeOnly)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	out := make([]MeterResponse, 0, len(meters))
	for _, m := range meters {
		out = append(out, toMeterResponse(m))
	}
	h.Success(c, out)
}

// Get returns a single meter by ID
func (h *MeterHandler) Get(c *gin.Context) {
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

	meter, err := h.registry.GetMeter(c.Request.Context(), tenantID, meterID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toMeterResponse(meter))
}

// Deactivate stops ingestion for a meter. Historical events are kept.
func (h *MeterHandler) Deactivate(c *gin.Context) {
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

	meter, err := h.registry.DeactivateMeter(c.Request.Context(), tenantID, meterID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toMeterResponse(meter))
}

// SetPlanLimits replaces the per-plan limits of a meter
func (h *MeterHandler) SetPlanLimits(c *gin.Context) {
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

	var req SetPlanLimitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	inputs := make([]appmetering.PlanLimitInput, 0, len(req.Limits))
	for _, l := range req.Limits {
		inputs = append(inputs, appmetering.PlanLimitInput{
			PlanName:           l.PlanName,
			LimitValue:         l.LimitValue,
			OveragePrice:       l.OveragePrice,
			SoftLimitThreshold: l.SoftLimitThreshold,
			HardCap:            l.HardCap,
		})
	}

	limits, err := h.registry.CreatePlanLimits(c.Request.Context(), tenantID, meterID, inputs)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	out := make([]PlanLimitResponse, 0, len(limits))
	for _, l := range limits {
		out = append(out, toPlanLimitResponse(l))
	}
	h.Success(c, out)
}

// ListPlanLimits returns the plan limits configured for a meter
func (h *MeterHandler) ListPlanLimits(c *gin.Context) {
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

	limits, err := h.registry.ListPlanLimits(c.Request.Context(), tenantID, meterID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	out := make([]PlanLimitResponse, 0, len(limits))
	for _, l := range limits {
		out = append(out, toPlanLimitResponse(l))
	}
	h.Success(c, out)
}
