package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/staryer/backend/internal/domain/metering"
	"github.com/staryer/backend/internal/domain/shared"
)

// UsageAlertModel is the GORM model for usage alerts
type UsageAlertModel struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	TenantID       uuid.UUID  `gorm:"type:uuid;not null;index:idx_alerts_dedup"`
	MeterID        uuid.UUID  `gorm:"type:uuid;not null;index:idx_alerts_dedup"`
	UserID         string     `gorm:"type:varchar(255);not null;index:idx_alerts_dedup"`
	AlertType      string     `gorm:"type:varchar(20);not null;index:idx_alerts_dedup"`
	BillingPeriod  string     `gorm:"type:varchar(7);not null"`
	UsageValue     int64      `gorm:"not null"`
	LimitValue     int64      `gorm:"not null"`
	UsagePercent   float64    `gorm:"not null"`
	Acknowledged   bool       `gorm:"not null;default:false"`
	AcknowledgedAt *time.Time `gorm:""`
	Version        int        `gorm:"not null;default:1"`
	CreatedAt      time.Time  `gorm:"autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (UsageAlertModel) TableName() string {
	return "usage_alerts"
}

// ToEntity converts the model to a domain entity
func (m *UsageAlertModel) ToEntity() *metering.UsageAlert {
	return &metering.UsageAlert{
		TenantAggregateRoot: shared.TenantAggregateRoot{
			BaseAggregateRoot: shared.BaseAggregateRoot{
				BaseEntity: shared.BaseEntity{
					ID:        m.ID,
					CreatedAt: m.CreatedAt,
					UpdatedAt: m.UpdatedAt,
				},
				Version: m.Version,
			},
			TenantID: m.TenantID,
		},
		MeterID:        m.MeterID,
		UserID:         m.UserID,
		AlertType:      metering.AlertType(m.AlertType),
		BillingPeriod:  m.BillingPeriod,
		UsageValue:     m.UsageValue,
		LimitValue:     m.LimitValue,
		UsagePercent:   m.UsagePercent,
		Acknowledged:   m.Acknowledged,
		AcknowledgedAt: m.AcknowledgedAt,
	}
}

// UsageAlertModelFromEntity creates a model from a domain entity
func UsageAlertModelFromEntity(e *metering.UsageAlert) *UsageAlertModel {
	return &UsageAlertModel{
		ID:             e.ID,
		TenantID:       e.TenantID,
		MeterID:        e.MeterID,
		UserID:         e.UserID,
		AlertType:      string(e.AlertType),
		BillingPeriod:  e.BillingPeriod,
		UsageValue:     e.UsageValue,
		LimitValue:     e.LimitValue,
		UsagePercent:   e.UsagePercent,
		Acknowledged:   e.Acknowledged,
		AcknowledgedAt: e.AcknowledgedAt,
		Version:        e.Version,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

// AlertRepository implements the metering.AlertRepository interface
type AlertRepository struct {
	db *gorm.DB
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *gorm.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Save persists a new alert
func (r *AlertRepository) Save(ctx context.Context, alert *metering.UsageAlert) error {
	model := UsageAlertModelFromEntity(alert)
	return r.db.WithContext(ctx).Create(model).Error
}

// Update persists changes to an existing alert
func (r *AlertRepository) Update(ctx context.Context, alert *metering.UsageAlert) error {
	model := UsageAlertModelFromEntity(alert)
	result := r.db.WithContext(ctx).
		Model(&UsageAlertModel{}).
		Where("id = ? AND tenant_id = ?", model.ID, model.TenantID).
		Select("acknowledged", "acknowledged_at", "version", "updated_at").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// FindByID retrieves an alert by its ID
func (r *AlertRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*metering.UsageAlert, error) {
	var model UsageAlertModel
	err := r.db.WithContext(ctx).
		First(&model, "id = ? AND tenant_id = ?", id, tenantID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// FindUnacknowledged retrieves the open alert for a meter, user and type.
// At most one exists; tracking dedups against this lookup before emitting.
func (r *AlertRepository) FindUnacknowledged(ctx context.Context, tenantID, meterID uuid.UUID, userID string, alertType metering.AlertType) (*metering.UsageAlert, error) {
	var model UsageAlertModel
	err := r.db.WithContext(ctx).
		First(&model, "tenant_id = ? AND meter_id = ? AND user_id = ? AND alert_type = ? AND acknowledged = ?",
			tenantID, meterID, userID, string(alertType), false).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// ListUnacknowledged retrieves all open alerts for a tenant
func (r *AlertRepository) ListUnacknowledged(ctx context.Context, tenantID uuid.UUID) ([]*metering.UsageAlert, error) {
	var models []UsageAlertModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND acknowledged = ?", tenantID, false).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	alerts := make([]*metering.UsageAlert, len(models))
	for i, model := range models {
		alerts[i] = model.ToEntity()
	}
	return alerts, nil
}

// Ensure AlertRepository implements the interface
var _ metering.AlertRepository = (*AlertRepository)(nil)
