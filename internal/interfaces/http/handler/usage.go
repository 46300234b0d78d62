package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appmetering "github.com/staryer/backend/internal/application/metering"
	"github.com/staryer/backend/internal/domain/metering"
)

// UsageTracker ingests usage events and serves usage summaries
type UsageTracker interface {
	TrackUsage(ctx context.Context, tenantID uuid.UUID, input appmetering.TrackUsageInput) (*appmetering.TrackUsageResult, error)
	GetUsageSummary(ctx context.Context, tenantID uuid.UUID, userID, billingPeriod string) ([]*metering.UsageAggregate, error)
}

// EnforcementChecker answers pre-flight limit checks and manages alerts
type EnforcementChecker interface {
	CheckUsageEnforcement(ctx context.Context, tenantID uuid.UUID, customerID, eventName string, requestedUsage int64) (*appmetering.EnforcementCheck, error)
	AcknowledgeAlert(ctx context.Context, tenantID, alertID uuid.UUID) (*metering.UsageAlert, error)
	ListOpenAlerts(ctx context.Context, tenantID uuid.UUID) ([]*metering.UsageAlert, error)
}

// UsageHandler serves usage ingestion, enforcement checks and alerts
type UsageHandler struct {
	BaseHandler
	tracker     UsageTracker
	enforcement EnforcementChecker
}

// NewUsageHandler creates a new usage handler
func NewUsageHandler(tracker UsageTracker, enforcement EnforcementChecker) *UsageHandler {
	return &UsageHandler{tracker: tracker, enforcement: enforcement}
}

// RegisterRoutes registers usage routes
func (h *UsageHandler) RegisterRoutes(rg *gin.RouterGroup) {
	usage := rg.Group("/usage")
	{
		usage.POST("/track", h.Track)
		usage.GET("/check", h.Check)
		usage.GET("/summary", h.Summary)
		usage.GET("/alerts", h.ListAlerts)
		usage.POST("/alerts/:id/acknowledge", h.AcknowledgeAlert)
	}
}

// TrackUsageRequest is one usage occurrence to record
type TrackUsageRequest struct {
	EventName  string         `json:"event_name" binding:"required"`
	UserID     string         `json:"user_id" binding:"required"`
	Value      float64        `json:"value"`
	Properties map[string]any `json:"properties"`
	OccurredAt *time.Time     `json:"occurred_at"`
}

// UsageEventResponse is the wire representation of a recorded usage event
type UsageEventResponse struct {
	ID            uuid.UUID `json:"id"`
	MeterID       uuid.UUID `json:"meter_id"`
	EventName     string    `json:"event_name"`
	UserID        string    `json:"user_id"`
	Value         float64   `json:"value"`
	BillingPeriod string    `json:"billing_period"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// UsageAggregateResponse is the wire representation of a period rollup
type UsageAggregateResponse struct {
	MeterID        uuid.UUID  `json:"meter_id"`
	UserID         string     `json:"user_id"`
	BillingPeriod  string     `json:"billing_period"`
	AggregateValue float64    `json:"aggregate_value"`
	EventCount     int64      `json:"event_count"`
	LastEventAt    *time.Time `json:"last_event_at,omitempty"`
}

// TrackUsageResponse combines the recorded event with the refreshed
// aggregate and the enforcement outcome
type TrackUsageResponse struct {
	Event       UsageEventResponse            `json:"event"`
	Aggregate   UsageAggregateResponse        `json:"aggregate"`
	Enforcement *metering.EnforcementDecision `json:"enforcement,omitempty"`
}

// EnforcementCheckResponse is the outcome of a pre-flight limit check
type EnforcementCheckResponse struct {
	EventName     string                       `json:"event_name"`
	PlanName      string                       `json:"plan_name,omitempty"`
	BillingPeriod string                       `json:"billing_period"`
	Decision      metering.EnforcementDecision `json:"decision"`
}

// UsageAlertResponse is the wire representation of a usage alert
type UsageAlertResponse struct {
	ID             uuid.UUID  `json:"id"`
	MeterID        uuid.UUID  `json:"meter_id"`
	UserID         string     `json:"user_id"`
	AlertType      string     `json:"alert_type"`
	BillingPeriod  string     `json:"billing_period"`
	UsageValue     int64      `json:"usage_value"`
	LimitValue     int64      `json:"limit_value"`
	UsagePercent   float64    `json:"usage_percent"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toAggregateResponse(a *metering.UsageAggregate) UsageAggregateResponse {
	return UsageAggregateResponse{
		MeterID:        a.MeterID,
		UserID:         a.UserID,
		BillingPeriod:  a.BillingPeriod,
		AggregateValue: a.AggregateValue,
		EventCount:     a.EventCount,
		LastEventAt:    a.LastEventAt,
	}
}

func toAlertResponse(a *metering.UsageAlert) UsageAlertResponse {
	return UsageAlertResponse{
		ID:             a.ID,
		MeterID:        a.MeterID,
		UserID:         a.UserID,
		AlertType:      string(a.AlertType),
		BillingPeriod:  a.BillingPeriod,
		UsageValue:     a.UsageValue,
		LimitValue:     a.LimitValue,
		UsagePercent:   a.UsagePercent,
		Acknowledged:   a.Acknowledged,
		AcknowledgedAt: a.AcknowledgedAt,
		CreatedAt:      a.CreatedAt,
	}
}

// Track records a usage event and returns the refreshed aggregate plus
// the enforcement outcome
func (h *UsageHandler) Track(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context is required")
		return
	}

	var req TrackUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	input := appmetering.TrackUsageInput{
		EventName:  req.EventName,
		UserID:     req.UserID,
		Value:      req.Value,
		Properties: req.Properties,
	}
	if req.OccurredAt != nil {
		input.OccurredAt = *req.OccurredAt
	}

	result, err := h.tracker.TrackUsage(c.Request.Context(), tenantID, input)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	resp := TrackUsageResponse{
		Event: UsageEventResponse{
			ID:            result.Event.ID,
			MeterID:       result.Event.MeterID,
			EventName:     result.Event.EventName,
			UserID:        result.Event.UserID,
			Value:         result.Event.Value,
			BillingPeriod: result.Event.BillingPeriod(),
			OccurredAt:    result.Event.OccurredAt,
		},
		Aggregate: toAggregateResponse(result.Aggregate),
	}
	if result.Check != nil {
		resp.Enforcement = &result.Check.Decision
	}

	h.Created(c, resp)
}

// Check answers whether a customer may consume more usage without
// recording anything
func (h *UsageHandler) Check(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context is required")
		return
	}

	customerID := c.Query("user_id")
	eventName := c.Query("event_name")
	if customerID == "" || eventName == "" {
		h.BadRequest(c, "user_id and event_name are required")
		return
	}

	requested := int64(1)
	if raw := c.Query("requested"); raw != "" {
		requested, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || requested < 0 {
			h.BadRequest(c, "requested must be a non-negative integer")
			return
		}
	}

	check, err := h.enforcement.CheckUsageEnforcement(c.Request.Context(), tenantID, customerID, eventName, requested)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, EnforcementCheckResponse{
		EventName:     check.Meter.EventName,
		PlanName:      check.PlanName,
		BillingPeriod: check.BillingPeriod,
		Decision:      check.Decision,
	})
}

// Summary returns a user's aggregates for a billing period across all meters
func (h *UsageHandler) Summary(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context is required")
		return
	}

	userID := c.Query("user_id")
	if userID == "" {
		h.BadRequest(c, "user_id is required")
		return
	}
	billingPeriod := c.Query("billing_period")

	aggregates, err := h.tracker.GetUsageSummary(c.Request.Context(), tenantID, userID, billingPeriod)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	out := make([]UsageAggregateResponse, 0, len(aggregates))
	for _, a := range aggregates {
		out = append(out, toAggregateResponse(a))
	}
	h.Success(c, out)
}

// ListAlerts returns the tenant's unacknowledged usage alerts
func (h *UsageHandler) ListAlerts(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context is required")
		return
	}

	alerts, err := h.enforcement.ListOpenAlerts(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	out := make([]UsageAlertResponse, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, toAlertResponse(a))
	}
	h.Success(c, out)
}

// AcknowledgeAlert closes a usage alert
func (h *UsageHandler) AcknowledgeAlert(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context is required")
		return
	}

	alertID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid alert ID format")
		return
	}

	alert, err := h.enforcement.AcknowledgeAlert(c.Request.Context(), tenantID, alertID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toAlertResponse(alert))
}
