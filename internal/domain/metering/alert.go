package metering

import (
	"time"

	"github.com/google/uuid"

	"github.com/staryer/backend/internal/domain/shared"
)

// AlertType classifies usage alerts
type AlertType string

const (
	// AlertSoftLimit fires when usage crosses the soft-limit threshold
	AlertSoftLimit AlertType = "soft_limit"
	// AlertHardLimit fires when usage reaches a hard-capped limit
	AlertHardLimit AlertType = "hard_limit"
	// AlertOverage fires when usage exceeds a non-capped limit
	AlertOverage AlertType = "overage"
)

// IsValid checks if the alert type is valid
func (a AlertType) IsValid() bool {
	switch a {
	case AlertSoftLimit, AlertHardLimit, AlertOverage:
		return true
	}
	return false
}

// UsageAlert notifies a creator that a customer crossed a usage threshold.
// At most one unacknowledged alert exists per (meter, user, type); tracking
// more usage at the same threshold does not pile up duplicates.
type UsageAlert struct {
	shared.TenantAggregateRoot
	MeterID        uuid.UUID
	UserID         string
	AlertType      AlertType
	BillingPeriod  string
	UsageValue     int64
	LimitValue     int64
	UsagePercent   float64
	Acknowledged   bool
	AcknowledgedAt *time.Time
}

// NewUsageAlert creates a usage alert
func NewUsageAlert(tenantID, meterID uuid.UUID, userID string, alertType AlertType, billingPeriod string, usage, limit int64, usagePercent float64) (*UsageAlert, error) {
	if !alertType.IsValid() {
		return nil, shared.NewDomainError("INVALID_ALERT_TYPE", "Invalid alert type: "+string(alertType))
	}
	if userID == "" {
		return nil, shared.NewDomainError("INVALID_USER_ID", "User ID cannot be empty")
	}
	return &UsageAlert{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		MeterID:             meterID,
		UserID:              userID,
		AlertType:           alertType,
		BillingPeriod:       billingPeriod,
		UsageValue:          usage,
		LimitValue:          limit,
		UsagePercent:        usagePercent,
	}, nil
}

// Acknowledge marks the alert as seen by the creator
func (a *UsageAlert) Acknowledge() error {
	if a.Acknowledged {
		return shared.NewDomainError("ALERT_ALREADY_ACKNOWLEDGED", "Alert is already acknowledged")
	}
	now := time.Now()
	a.Acknowledged = true
	a.AcknowledgedAt = &now
	a.IncrementVersion()
	return nil
}
