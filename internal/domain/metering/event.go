package metering

import (
	"time"

	"github.com/google/uuid"

	"github.com/staryer/backend/internal/domain/shared"
)

// PropertyUniqueID is the event property the unique aggregation
// deduplicates on. Events without it fall back to their UserID.
const PropertyUniqueID = "unique_id"

// UsageEvent is a single immutable usage occurrence reported by a
// creator's application. Events are append-only; corrections happen by
// recomputing aggregates, never by mutating history.
type UsageEvent struct {
	shared.BaseEntity
	TenantID   uuid.UUID
	MeterID    uuid.UUID
	EventName  string
	UserID     string
	Value      float64
	Properties map[string]any
	OccurredAt time.Time
	Reported   bool
	ReportedAt *time.Time
}

// NewUsageEvent creates a usage event after validating it against the meter
func NewUsageEvent(meter *UsageMeter, userID string, value float64, properties map[string]any, occurredAt time.Time) (*UsageEvent, error) {
	if meter == nil {
		return nil, shared.ErrNotFound
	}
	if !meter.Active {
		return nil, shared.NewDomainError("METER_INACTIVE", "Meter is not active: "+meter.EventName)
	}
	if userID == "" {
		return nil, shared.NewDomainError("INVALID_USER_ID", "User ID cannot be empty")
	}

	switch meter.Aggregation {
	case AggregationCount, AggregationSum, AggregationDuration:
		if value < 0 {
			return nil, shared.NewDomainError("INVALID_EVENT_VALUE", "Event value cannot be negative for "+string(meter.Aggregation)+" meters")
		}
	}
	if meter.Aggregation == AggregationCount && value == 0 {
		value = 1
	}

	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	if properties == nil {
		properties = map[string]any{}
	}

	return &UsageEvent{
		BaseEntity: shared.NewBaseEntity(),
		TenantID:   meter.TenantID,
		MeterID:    meter.ID,
		EventName:  meter.EventName,
		UserID:     userID,
		Value:      value,
		Properties: properties,
		OccurredAt: occurredAt,
	}, nil
}

// BillingPeriod returns the calendar-month period the event falls into, UTC
func (e *UsageEvent) BillingPeriod() string {
	return FormatBillingPeriod(e.OccurredAt)
}

// UniqueKey returns the value the unique aggregation deduplicates on
func (e *UsageEvent) UniqueKey() string {
	if v, ok := e.Properties[PropertyUniqueID]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return e.UserID
}

// MarkReported flags the event as durably reported to the billing provider.
// The marker is written before the external call so a crash between the
// write and the call loses at most one report, never double-bills.
func (e *UsageEvent) MarkReported(at time.Time) {
	e.Reported = true
	e.ReportedAt = &at
}
