package metering

import (
	"strings"

	"github.com/google/uuid"

	"github.com/staryer/backend/internal/domain/shared"
)

// AggregationType determines how raw usage events fold into a period total
type AggregationType string

const (
	AggregationCount    AggregationType = "count"
	AggregationSum      AggregationType = "sum"
	AggregationUnique   AggregationType = "unique"
	AggregationDuration AggregationType = "duration"
	AggregationMax      AggregationType = "max"
)

// IsValid checks if the aggregation type is valid
func (a AggregationType) IsValid() bool {
	switch a {
	case AggregationCount, AggregationSum, AggregationUnique, AggregationDuration, AggregationMax:
		return true
	}
	return false
}

// ParseAggregationType parses a string into an AggregationType
func ParseAggregationType(s string) (AggregationType, error) {
	a := AggregationType(strings.ToLower(strings.TrimSpace(s)))
	if !a.IsValid() {
		return "", shared.NewDomainError("INVALID_AGGREGATION_TYPE", "Invalid aggregation type: "+s)
	}
	return a, nil
}

// BillingModel determines how metered usage relates to the subscription price
type BillingModel string

const (
	// BillingModelMetered bills purely on reported usage
	BillingModelMetered BillingModel = "metered"
	// BillingModelLicensed bills a flat per-seat fee regardless of usage
	BillingModelLicensed BillingModel = "licensed"
	// BillingModelHybrid bills a base fee plus metered overage
	BillingModelHybrid BillingModel = "hybrid"
)

// IsValid checks if the billing model is valid
func (b BillingModel) IsValid() bool {
	switch b {
	case BillingModelMetered, BillingModelLicensed, BillingModelHybrid:
		return true
	}
	return false
}

// UsageMeter defines a billable usage dimension owned by a creator (tenant).
// The event name is the join key between ingestion and the meter definition
// and is unique within a tenant.
type UsageMeter struct {
	shared.TenantAggregateRoot
	EventName     string
	DisplayName   string
	Description   string
	Aggregation   AggregationType
	UnitName      string
	BillingModel  BillingModel
	Active        bool
	StripeMeterID string
	StripePriceID string
}

// NewUsageMeter creates a new usage meter
func NewUsageMeter(tenantID uuid.UUID, eventName, displayName string, aggregation AggregationType, billingModel BillingModel) (*UsageMeter, error) {
	eventName = strings.TrimSpace(eventName)
	if eventName == "" {
		return nil, shared.NewDomainError("INVALID_EVENT_NAME", "Event name cannot be empty")
	}
	if displayName == "" {
		displayName = eventName
	}
	if !aggregation.IsValid() {
		return nil, shared.NewDomainError("INVALID_AGGREGATION_TYPE", "Invalid aggregation type: "+string(aggregation))
	}
	if billingModel == "" {
		billingModel = BillingModelMetered
	}
	if !billingModel.IsValid() {
		return nil, shared.NewDomainError("INVALID_BILLING_MODEL", "Invalid billing model: "+string(billingModel))
	}

	return &UsageMeter{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		EventName:           eventName,
		DisplayName:         displayName,
		Aggregation:         aggregation,
		BillingModel:        billingModel,
		Active:              true,
	}, nil
}

// Deactivate stops the meter from accepting new events. Historical
// events and aggregates are retained.
func (m *UsageMeter) Deactivate() error {
	if !m.Active {
		return shared.NewDomainError("METER_ALREADY_INACTIVE", "Meter is already inactive")
	}
	m.Active = false
	m.IncrementVersion()
	return nil
}

// Activate re-enables an inactive meter
func (m *UsageMeter) Activate() error {
	if m.Active {
		return shared.NewDomainError("METER_ALREADY_ACTIVE", "Meter is already active")
	}
	m.Active = true
	m.IncrementVersion()
	return nil
}

// AttachStripeMeter records the external billing meter created for this meter
func (m *UsageMeter) AttachStripeMeter(stripeMeterID string) {
	m.StripeMeterID = stripeMeterID
	m.IncrementVersion()
}

// AttachStripePrice records the metered price created for this meter
func (m *UsageMeter) AttachStripePrice(stripePriceID string) {
	m.StripePriceID = stripePriceID
	m.IncrementVersion()
}
