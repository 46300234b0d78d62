package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apptiers "github.com/staryer/backend/internal/application/tiers"
	"github.com/staryer/backend/internal/domain/tiers"
)

// TierManager is the application surface the tier handler needs
type TierManager interface {
	CreateTier(ctx context.Context, tenantID uuid.UUID, input apptiers.CreateTierInput) (*tiers.SubscriptionTier, error)
	ActivateTier(ctx context.Context, tenantID, tierID uuid.UUID) (*tiers.SubscriptionTier, error)
	ArchiveTier(ctx context.Context, tenantID, tierID uuid.UUID) (*tiers.SubscriptionTier, error)
	GetTier(ctx context.Context, tenantID, tierID uuid.UUID) (*tiers.SubscriptionTier, error)
	ListTiers(ctx context.Context, tenantID uuid.UUID, status tiers.TierStatus) ([]*tiers.SubscriptionTier, error)
	AssignCustomer(ctx context.Context, tenantID, tierID uuid.UUID, customerID string, periodStart, periodEnd time.Time) (*tiers.CustomerTierAssignment, error)
	GetCustomerAssignment(ctx context.Context, tenantID uuid.UUID, customerID string) (*tiers.CustomerTierAssignment, error)
	ActivateAssignment(ctx context.Context, tenantID, assignmentID uuid.UUID) (*tiers.CustomerTierAssignment, error)
	PauseAssignment(ctx context.Context, tenantID, assignmentID uuid.UUID) (*tiers.CustomerTierAssignment, error)
	MarkAssignmentPastDue(ctx context.Context, tenantID, assignmentID uuid.UUID) (*tiers.CustomerTierAssignment, error)
	CancelAssignment(ctx context.Context, tenantID, assignmentID uuid.UUID, atPeriodEnd bool) (*tiers.CustomerTierAssignment, error)
	RenewAssignment(ctx context.Context, tenantID, assignmentID uuid.UUID, periodStart, periodEnd time.Time) (*tiers.CustomerTierAssignment, error)
}

// TierHandler serves subscription tiers and customer assignments
type TierHandler struct {
	BaseHandler
	manager TierManager
}

// NewTierHandler creates a new tier handler
func NewTierHandler(manager TierManager) *TierHandler {
	return &TierHandler{manager: manager}
}

// RegisterRoutes registers tier and assignment routes
func (h *TierHandler) RegisterRoutes(rg *gin.RouterGroup) {
	tiersGroup := rg.Group("/tiers")
	{
		tiersGroup.POST("", h.Create)
		tiersGroup.GET("", h.List)
		tiersGroup.GET("/:id", h.Get)
		tiersGroup.POST("/:id/activate", h.Activate)
		tiersGroup.POST("/:id/archive", h.Archive)
		tiersGroup.POST("/:id/assignments", h.AssignCustomer)
	}

	assignments := rg.Group("/assignments")
	{
		assignments.GET("/customer/:customer_id", h.GetCustomerAssignment)
		assignments.POST("/:id/activate", h.ActivateAssignment)
		assignments.POST("/:id/pause", h.PauseAssignment)
		assignments.POST("/:id/past-due", h.MarkPastDue)
		assignments.POST("/:id/cancel", h.CancelAssignment)
		assignments.POST("/:id/renew", h.RenewAssignment)
	}
}

// CreateTierRequest is the payload for creating a subscription tier
type CreateTierRequest struct {
	Name            string           `json:"name" binding:"required"`
	Description     string           `json:"description"`
	Price           decimal.Decimal  `json:"price"`
	Currency        string           `json:"currency"`
	BillingInterval string           `json:"billing_interval" binding:"omitempty,oneof=monthly yearly"`
	Features        []string         `json:"features"`
	UsageCaps       map[string]int64 `json:"usage_caps"`
	TrialDays       int              `json:"trial_days" binding:"omitempty,min=0"`
	IsDefault       bool             `json:"is_default"`
}

// AssignCustomerRequest subscribes a customer to a tier
type AssignCustomerRequest struct {
	CustomerID  string     `json:"customer_id" binding:"required"`
	PeriodStart *time.Time `json:"period_start"`
	PeriodEnd   *time.Time `json:"period_end"`
}

// CancelAssignmentRequest controls when the cancellation takes effect
type CancelAssignmentRequest struct {
	AtPeriodEnd bool `json:"at_period_end"`
}

// RenewAssignmentRequest advances the billing period of an assignment
type RenewAssignmentRequest struct {
	PeriodStart time.Time `json:"period_start" binding:"required"`
	PeriodEnd   time.Time `json:"period_end" binding:"required"`
}

// TierResponse is the wire representation of a subscription tier
type TierResponse struct {
	ID              uuid.UUID        `json:"id"`
	Name            string           `json:"name"`
	Description     string           `json:"description,omitempty"`
	Price           decimal.Decimal  `json:"price"`
	Currency        string           `json:"currency"`
	BillingInterval string           `json:"billing_interval"`
	Features        []string         `json:"features,omitempty"`
	UsageCaps       map[string]int64 `json:"usage_caps,omitempty"`
	TrialDays       int              `json:"trial_days"`
	IsDefault       bool             `json:"is_default"`
	Status          string           `json:"status"`
	StripePriceID   string           `json:"stripe_price_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// AssignmentResponse is the wire representation of a customer assignment
type AssignmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	CustomerID         string     `json:"customer_id"`
	TierID             uuid.UUID  `json:"tier_id"`
	PlanName           string     `json:"plan_name"`
	Status             string     `json:"status"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	TrialEndsAt        *time.Time `json:"trial_ends_at,omitempty"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	CanceledAt         *time.Time `json:"canceled_at,omitempty"`
	SubscribedAt       time.Time  `json:"subscribed_at"`
}

func toTierResponse(t *tiers.SubscriptionTier) TierResponse {
	return TierResponse{
		ID:              t.ID,
		Name:            t.Name,
		Description:     t.Description,
		Price:           t.Price,
		Currency:        t.Currency,
		BillingInterval: string(t.BillingInterval),
		Features:        t.Features,
		UsageCaps:       t.UsageCaps,
		TrialDays:       t.TrialDays,
		IsDefault:       t.IsDefault,
		Status:          string(t.Status),
		StripePriceID:   t.StripePriceID,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func toAssignmentResponse(a *tiers.CustomerTierAssignment) AssignmentResponse {
	return AssignmentResponse{
		ID:                 a.ID,
		CustomerID:         a.CustomerID,
		TierID:             a.TierID,
		PlanName:           a.PlanName,
		Status:             string(a.Status),
		CurrentPeriodStart: a.CurrentPeriodStart,
		CurrentPeriodEnd:   a.CurrentPeriodEnd,
		TrialEndsAt:        a.TrialEndsAt,
		CancelAtPeriodEnd:  a.CancelAtPeriodEnd,
		CanceledAt:         a.CanceledAt,
		SubscribedAt:       a.SubscribedAt,
	}
}

// Create creates a draft tier
func (h *TierHandler) Create(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context is required")
		return
	}

	var req CreateTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	tier, err := h.manager.CreateTier(c.Request.Context(), tenantID, apptiers.CreateTierInput{
		Name:            req.Name,
		Description:     req.Description,
		Price:           req.Price,
		Currency:        req.Currency,
		BillingInterval: req.BillingInterval,
		Features:        req.Features,
		UsageCaps:       req.UsageCaps,
		TrialDays:       req.TrialDays,
		IsDefault:       req.IsDefault,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, toTierResponse(tier))
}

// List returns the tenant's tiers, optionally filtered by status
func (h *TierHandler) List(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context is required")
		return
	}

	status := tiers.TierStatus(c.Query("status"))

	list, err := h.manager.ListTiers(c.Request.Context(), tenantID, status)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	out := make([]TierResponse, 0, len(list))
	for _, t := range list {
		out = append(out, toTierResponse(t))
	}
	h.Success(c, out)
}

// Get returns a single tier by ID
func (h *TierHandler) Get(c *gin.Context) {
	h.tierAction(c, h.manager.GetTier)
}

// Activate opens a tier for subscription
func (h *TierHandler) Activate(c *gin.Context) {
	h.tierAction(c, h.manager.ActivateTier)
}

// Archive retires a tier. Existing assignments keep running.
func (h *TierHandler) Archive(c *gin.Context) {
	h.tierAction(c, h.manager.ArchiveTier)
}

func (h *TierHandler) tierAction(c *gin.Context, op func(context.Context, uuid.UUID, uuid.UUID) (*tiers.SubscriptionTier, error)) {
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

	tier, err := op(c.Request.Context(), tenantID, tierID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toTierResponse(tier))
}

// AssignCustomer subscribes a customer to a tier. The billing period
// defaults to one interval starting now.
func (h *TierHandler) AssignCustomer(c *gin.Context) {
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

	var req AssignCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	periodStart := time.Now().UTC()
	if req.PeriodStart != nil {
		periodStart = *req.PeriodStart
	}
	periodEnd := periodStart.AddDate(0, 1, 0)
	if req.PeriodEnd != nil {
		periodEnd = *req.PeriodEnd
	}

	assignment, err := h.manager.AssignCustomer(c.Request.Context(), tenantID, tierID, req.CustomerID, periodStart, periodEnd)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, toAssignmentResponse(assignment))
}

// GetCustomerAssignment returns a customer's usable assignment
func (h *TierHandler) GetCustomerAssignment(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context is required")
		return
	}

	customerID := c.Param("customer_id")
	assignment, err := h.manager.GetCustomerAssignment(c.Request.Context(), tenantID, customerID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toAssignmentResponse(assignment))
}

// ActivateAssignment activates a trialing or paused assignment
func (h *TierHandler) ActivateAssignment(c *gin.Context) {
	h.assignmentAction(c, h.manager.ActivateAssignment)
}

// PauseAssignment pauses an active assignment
func (h *TierHandler) PauseAssignment(c *gin.Context) {
	h.assignmentAction(c, h.manager.PauseAssignment)
}

// MarkPastDue flags an assignment whose payment failed
func (h *TierHandler) MarkPastDue(c *gin.Context) {
	h.assignmentAction(c, h.manager.MarkAssignmentPastDue)
}

func (h *TierHandler) assignmentAction(c *gin.Context, op func(context.Context, uuid.UUID, uuid.UUID) (*tiers.CustomerTierAssignment, error)) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context is required")
		return
	}

	assignmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid assignment ID format")
		return
	}

	assignment, err := op(c.Request.Context(), tenantID, assignmentID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toAssignmentResponse(assignment))
}

// CancelAssignment cancels an assignment now or at period end
func (h *TierHandler) CancelAssignment(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context is required")
		return
	}

	assignmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid assignment ID format")
		return
	}

	var req CancelAssignmentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.BadRequest(c, "Invalid request body: "+err.Error())
			return
		}
	}

	assignment, err := h.manager.CancelAssignment(c.Request.Context(), tenantID, assignmentID, req.AtPeriodEnd)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toAssignmentResponse(assignment))
}

// RenewAssignment advances an assignment into its next billing period
func (h *TierHandler) RenewAssignment(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context is required")
		return
	}

	assignmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid assignment ID format")
		return
	}

	var req RenewAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	assignment, err := h.manager.RenewAssignment(c.Request.Context(), tenantID, assignmentID, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toAssignmentResponse(assignment))
}
