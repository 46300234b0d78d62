package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apppricing "github.com/staryer/backend/internal/application/pricing"
	"github.com/staryer/backend/internal/domain/pricing"
)

// PricingAnalyzer is the application surface the pricing handler needs
type PricingAnalyzer interface {
	AnalyzeChangeImpact(ctx context.Context, tenantID, tierID uuid.UUID, newPrice decimal.Decimal) (*apppricing.ImpactAnalysis, error)
	ValidatePricingChange(input apppricing.ValidateChangeInput) apppricing.ValidationResult
	CreateChange(ctx context.Context, tenantID, tierID uuid.UUID, newPrice decimal.Decimal, effectiveDate time.Time, reason string, removedFeatures []string) (*pricing.PricingChangeNotification, error)
	ApproveChange(ctx context.Context, tenantID, changeID uuid.UUID) (*pricing.PricingChangeNotification, error)
	ScheduleChange(ctx context.Context, tenantID, changeID uuid.UUID) (*pricing.PricingChangeNotification, error)
	CancelChange(ctx context.Context, tenantID, changeID uuid.UUID) (*pricing.PricingChangeNotification, error)
	MarkChangeSent(ctx context.Context, tenantID, changeID uuid.UUID) (*pricing.PricingChangeNotification, error)
	ListChanges(ctx context.Context, tenantID, tierID uuid.UUID) ([]*pricing.PricingChangeNotification, error)
}

// PricingHandler serves pricing impact analysis and the change
// notification lifecycle
type PricingHandler struct {
	BaseHandler
	analyzer PricingAnalyzer
}

// NewPricingHandler creates a new pricing handler
func NewPricingHandler(analyzer PricingAnalyzer) *PricingHandler {
	return &PricingHandler{analyzer: analyzer}
}

// RegisterRoutes registers pricing routes
func (h *PricingHandler) RegisterRoutes(rg *gin.RouterGroup) {
	pricingGroup := rg.Group("/pricing")
	{
		pricingGroup.POST("/validate", h.Validate)
		pricingGroup.POST("/tiers/:id/analyze", h.Analyze)
		pricingGroup.POST("/tiers/:id/changes", h.CreateChange)
		pricingGroup.GET("/tiers/:id/changes", h.ListChanges)
		pricingGroup.POST("/changes/:id/approve", h.ApproveChange)
		pricingGroup.POST("/changes/:id/schedule", h.ScheduleChange)
		pricingGroup.POST("/changes/:id/cancel", h.CancelChange)
		pricingGroup.POST("/changes/:id/sent", h.MarkChangeSent)
	}
}

// AnalyzeImpactRequest proposes a new price for impact estimation
type AnalyzeImpactRequest struct {
	NewPrice decimal.Decimal `json:"new_price"`
}

// ValidateChangeRequest is a proposed pricing change to check
type ValidateChangeRequest struct {
	OldPrice        decimal.Decimal `json:"old_price"`
	NewPrice        decimal.Decimal `json:"new_price"`
	EffectiveDate   time.Time       `json:"effective_date" binding:"required"`
	RemovedFeatures []string        `json:"removed_features"`
}

// CreateChangeRequest creates a pricing change notification
type CreateChangeRequest struct {
	NewPrice        decimal.Decimal `json:"new_price"`
	EffectiveDate   time.Time       `json:"effective_date" binding:"required"`
	Reason          string          `json:"reason"`
	RemovedFeatures []string        `json:"removed_features"`
}

// ChangeResponse is the wire representation of a change notification
type ChangeResponse struct {
	ID              uuid.UUID       `json:"id"`
	TierID          uuid.UUID       `json:"tier_id"`
	TierName        string          `json:"tier_name"`
	ChangeType      string          `json:"change_type"`
	OldPrice        decimal.Decimal `json:"old_price"`
	NewPrice        decimal.Decimal `json:"new_price"`
	RemovedFeatures []string        `json:"removed_features,omitempty"`
	EffectiveDate   time.Time       `json:"effective_date"`
	Reason          string          `json:"reason,omitempty"`
	Status          string          `json:"status"`
	CreatorApproved bool            `json:"creator_approved"`
	ScheduledAt     *time.Time      `json:"scheduled_at,omitempty"`
	SentAt          *time.Time      `json:"sent_at,omitempty"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

func toChangeResponse(n *pricing.PricingChangeNotification) ChangeResponse {
	return ChangeResponse{
		ID:              n.ID,
		TierID:          n.TierID,
		TierName:        n.TierName,
		ChangeType:      string(n.ChangeType),
		OldPrice:        n.OldPrice,
		NewPrice:        n.NewPrice,
		RemovedFeatures: n.RemovedFeatures,
		EffectiveDate:   n.EffectiveDate,
		Reason:          n.Reason,
		Status:          string(n.Status),
		CreatorApproved: n.CreatorApproved,
		ScheduledAt:     n.ScheduledAt,
		SentAt:          n.SentAt,
		CancelledAt:     n.CancelledAt,
		CreatedAt:       n.CreatedAt,
	}
}

// Analyze estimates the revenue and churn impact of a price change
func (h *PricingHandler) Analyze(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context is required")
		return
	}

	tierID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid tier ID format")
		return
	}

	var req AnalyzeImpactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	analysis, err := h.analyzer.AnalyzeChangeImpact(c.Request.Context(), tenantID, tierID, req.NewPrice)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, analysis)
}

// Validate checks a proposed change against the pricing rules without
// creating anything
func (h *PricingHandler) Validate(c *gin.Context) {
	var req ValidateChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	result := h.analyzer.ValidatePricingChange(apppricing.ValidateChangeInput{
		OldPrice:        req.OldPrice,
		NewPrice:        req.NewPrice,
		EffectiveDate:   req.EffectiveDate,
		RemovedFeatures: req.RemovedFeatures,
	})

	h.Success(c, result)
}

// CreateChange drafts a pricing change notification for a tier
func (h *PricingHandler) CreateChange(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context is required")
		return
	}

	tierID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid tier ID format")
		return
	}

	var req CreateChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	change, err := h.analyzer.CreateChange(c.Request.Context(), tenantID, tierID, req.NewPrice, req.EffectiveDate, req.Reason, req.RemovedFeatures)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, toChangeResponse(change))
}

// ListChanges returns a tier's pricing change notifications
func (h *PricingHandler) ListChanges(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context is required")
		return
	}

	tierID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid tier ID format")
		return
	}

	changes, err := h.analyzer.ListChanges(c.Request.Context(), tenantID, tierID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	out := make([]ChangeResponse, 0, len(changes))
	for _, n := range changes {
		out = append(out, toChangeResponse(n))
	}
	h.Success(c, out)
}

// ApproveChange records creator approval for a draft change
func (h *PricingHandler) ApproveChange(c *gin.Context) {
	h.changeAction(c, h.analyzer.ApproveChange)
}

// ScheduleChange schedules an approved change for delivery
func (h *PricingHandler) ScheduleChange(c *gin.Context) {
	h.changeAction(c, h.analyzer.ScheduleChange)
}

// CancelChange cancels a change that has not been sent
func (h *PricingHandler) CancelChange(c *gin.Context) {
	h.changeAction(c, h.analyzer.CancelChange)
}

// MarkChangeSent records that the notification went out
func (h *PricingHandler) MarkChangeSent(c *gin.Context) {
	h.changeAction(c, h.analyzer.MarkChangeSent)
}

func (h *PricingHandler) changeAction(c *gin.Context, op func(context.Context, uuid.UUID, uuid.UUID) (*pricing.PricingChangeNotification, error)) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context is required")
		return
	}

	changeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid change ID format")
		return
	}

	change, err := op(c.Request.Context(), tenantID, changeID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toChangeResponse(change))
}
