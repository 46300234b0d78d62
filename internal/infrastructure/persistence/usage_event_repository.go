package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/staryer/backend/internal/domain/metering"
	"github.com/staryer/backend/internal/domain/shared"
)

// UsageEventModel is the GORM model for usage events
type UsageEventModel struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	TenantID      uuid.UUID  `gorm:"type:uuid;not null;index:idx_events_tenant_meter_period"`
	MeterID       uuid.UUID  `gorm:"type:uuid;not null;index:idx_events_tenant_meter_period"`
	EventName     string     `gorm:"type:varchar(255);not null"`
	UserID        string     `gorm:"type:varchar(255);not null;index"`
	Value         float64    `gorm:"not null"`
	Properties    []byte     `gorm:"type:jsonb;default:'{}'"`
	BillingPeriod string     `gorm:"type:varchar(7);not null;index:idx_events_tenant_meter_period"`
	OccurredAt    time.Time  `gorm:"not null;index"`
	Reported      bool       `gorm:"not null;default:false;index"`
	ReportedAt    *time.Time `gorm:""`
	CreatedAt     time.Time  `gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (UsageEventModel) TableName() string {
	return "usage_events"
}

// ToEntity converts the model to a domain entity
func (m *UsageEventModel) ToEntity() *metering.UsageEvent {
	var properties map[string]any
	if len(m.Properties) > 0 {
		_ = json.Unmarshal(m.Properties, &properties)
	}
	if properties == nil {
		properties = map[string]any{}
	}

	return &metering.UsageEvent{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		TenantID:   m.TenantID,
		MeterID:    m.MeterID,
		EventName:  m.EventName,
		UserID:     m.UserID,
		Value:      m.Value,
		Properties: properties,
		OccurredAt: m.OccurredAt,
		Reported:   m.Reported,
		ReportedAt: m.ReportedAt,
	}
}

// UsageEventModelFromEntity creates a model from a domain entity
func UsageEventModelFromEntity(e *metering.UsageEvent) *UsageEventModel {
	var propertyBytes []byte
	if e.Properties != nil {
		propertyBytes, _ = json.Marshal(e.Properties)
	} else {
		propertyBytes = []byte("{}")
	}

	return &UsageEventModel{
		ID:            e.ID,
		TenantID:      e.TenantID,
		MeterID:       e.MeterID,
		EventName:     e.EventName,
		UserID:        e.UserID,
		Value:         e.Value,
		Properties:    propertyBytes,
		BillingPeriod: e.BillingPeriod(),
		OccurredAt:    e.OccurredAt,
		Reported:      e.Reported,
		ReportedAt:    e.ReportedAt,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

// UsageEventRepository implements the metering.UsageEventRepository interface.
// The event log is append-only; the only mutation is the reported marker.
type UsageEventRepository struct {
	db *gorm.DB
}

// NewUsageEventRepository creates a new usage event repository
func NewUsageEventRepository(db *gorm.DB) *UsageEventRepository {
	return &UsageEventRepository{db: db}
}

// Save persists a new usage event
func (r *UsageEventRepository) Save(ctx context.Context, event *metering.UsageEvent) error {
	model := UsageEventModelFromEntity(event)
	return r.db.WithContext(ctx).Create(model).Error
}

// FindByID retrieves a usage event by its ID
func (r *UsageEventRepository) FindByID(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (*metering.UsageEvent, error) {
	var model UsageEventModel
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

// List retrieves usage events for a tenant matching the filter
func (r *UsageEventRepository) List(ctx context.Context, tenantID uuid.UUID, filter metering.EventFilter) ([]*metering.UsageEvent, error) {
	query := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	query = r.applyFilter(query, filter)

	var models []UsageEventModel
	if err := query.Order("occurred_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	events := make([]*metering.UsageEvent, len(models))
	for i, model := range models {
		events[i] = model.ToEntity()
	}
	return events, nil
}

// ListPeriodUsers returns the distinct user IDs with events for a meter in a period
func (r *UsageEventRepository) ListPeriodUsers(ctx context.Context, tenantID, meterID uuid.UUID, billingPeriod string) ([]string, error) {
	var userIDs []string
	err := r.db.WithContext(ctx).
		Model(&UsageEventModel{}).
		Distinct("user_id").
		Where("tenant_id = ? AND meter_id = ? AND billing_period = ?", tenantID, meterID, billingPeriod).
		Order("user_id ASC").
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, err
	}
	return userIDs, nil
}

// MarkReported flags events as durably reported to the billing provider
func (r *UsageEventRepository) MarkReported(ctx context.Context, tenantID uuid.UUID, eventIDs []uuid.UUID, at time.Time) error {
	if len(eventIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&UsageEventModel{}).
		Where("tenant_id = ? AND id IN ?", tenantID, eventIDs).
		Updates(map[string]any{"reported": true, "reported_at": at}).Error
}

// applyFilter applies filter options to a query
func (r *UsageEventRepository) applyFilter(query *gorm.DB, filter metering.EventFilter) *gorm.DB {
	if filter.MeterID != nil {
		query = query.Where("meter_id = ?", *filter.MeterID)
	}
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.BillingPeriod != "" {
		query = query.Where("billing_period = ?", filter.BillingPeriod)
	}
	if filter.From != nil {
		query = query.Where("occurred_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("occurred_at < ?", *filter.To)
	}
	if filter.OnlyUnreported {
		query = query.Where("reported = ?", false)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	return query
}

// Ensure UsageEventRepository implements the interface
var _ metering.UsageEventRepository = (*UsageEventRepository)(nil)
