package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// SQLite-compatible mirror models for testing. The repositories themselves
// operate on the postgres models; these only shape the tables.

type usageMeterSQLite struct {
	ID            string `gorm:"primaryKey"`
	TenantID      string `gorm:"not null;uniqueIndex:idx_meters_tenant_event"`
	EventName     string `gorm:"not null;uniqueIndex:idx_meters_tenant_event"`
	DisplayName   string `gorm:"not null"`
	Description   string
	Aggregation   string `gorm:"not null"`
	UnitName      string
	BillingModel  string `gorm:"not null;default:'metered'"`
	Active        bool   `gorm:"not null;default:true"`
	StripeMeterID string
	StripePriceID string
	Version       int `gorm:"not null;default:1"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (usageMeterSQLite) TableName() string { return "usage_meters" }

type meterPlanLimitSQLite struct {
	ID                 string `gorm:"primaryKey"`
	TenantID           string `gorm:"not null;uniqueIndex:idx_plan_limits_meter_plan"`
	MeterID            string `gorm:"not null;uniqueIndex:idx_plan_limits_meter_plan"`
	PlanName           string `gorm:"not null;uniqueIndex:idx_plan_limits_meter_plan"`
	LimitValue         *int64
	OveragePrice       *string
	SoftLimitThreshold float64 `gorm:"not null;default:0.8"`
	HardCap            bool    `gorm:"not null;default:false"`
	Version            int     `gorm:"not null;default:1"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (meterPlanLimitSQLite) TableName() string { return "meter_plan_limits" }

type usageEventSQLite struct {
	ID            string `gorm:"primaryKey"`
	TenantID      string `gorm:"not null;index"`
	MeterID       string `gorm:"not null;index"`
	EventName     string `gorm:"not null"`
	UserID        string `gorm:"not null;index"`
	Value         float64
	Properties    string
	BillingPeriod string `gorm:"not null;index"`
	OccurredAt    time.Time
	Reported      bool `gorm:"not null;default:false"`
	ReportedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (usageEventSQLite) TableName() string { return "usage_events" }

type usageAggregateSQLite struct {
	ID             string `gorm:"primaryKey"`
	TenantID       string `gorm:"not null;uniqueIndex:idx_aggregates_scope"`
	MeterID        string `gorm:"not null;uniqueIndex:idx_aggregates_scope"`
	UserID         string `gorm:"not null;uniqueIndex:idx_aggregates_scope"`
	BillingPeriod  string `gorm:"not null;uniqueIndex:idx_aggregates_scope"`
	AggregateValue float64
	EventCount     int64
	LastEventAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (usageAggregateSQLite) TableName() string { return "usage_aggregates" }

type usageAlertSQLite struct {
	ID             string `gorm:"primaryKey"`
	TenantID       string `gorm:"not null;index"`
	MeterID        string `gorm:"not null;index"`
	UserID         string `gorm:"not null;index"`
	AlertType      string `gorm:"not null"`
	BillingPeriod  string `gorm:"not null"`
	UsageValue     int64
	LimitValue     int64
	UsagePercent   float64
	Acknowledged   bool `gorm:"not null;default:false"`
	AcknowledgedAt *time.Time
	Version        int `gorm:"not null;default:1"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (usageAlertSQLite) TableName() string { return "usage_alerts" }

type subscriptionTierSQLite struct {
	ID              string `gorm:"primaryKey"`
	TenantID        string `gorm:"not null;uniqueIndex:idx_tiers_tenant_name"`
	Name            string `gorm:"not null;uniqueIndex:idx_tiers_tenant_name"`
	Description     string
	Price           string `gorm:"not null"`
	Currency        string `gorm:"not null;default:'usd'"`
	BillingInterval string `gorm:"not null;default:'monthly'"`
	Features        string
	UsageCaps       string
	TrialDays       int    `gorm:"not null;default:0"`
	IsDefault       bool   `gorm:"not null;default:false"`
	Status          string `gorm:"not null;default:'draft'"`
	StripePriceID   string
	Version         int `gorm:"not null;default:1"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (subscriptionTierSQLite) TableName() string { return "subscription_tiers" }

type customerTierAssignmentSQLite struct {
	ID                 string `gorm:"primaryKey"`
	TenantID           string `gorm:"not null;index"`
	CustomerID         string `gorm:"not null;index"`
	TierID             string `gorm:"not null;index"`
	PlanName           string `gorm:"not null"`
	Status             string `gorm:"not null"`
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	TrialEndsAt        *time.Time
	CancelAtPeriodEnd  bool `gorm:"not null;default:false"`
	CanceledAt         *time.Time
	SubscribedAt       time.Time
	Version            int `gorm:"not null;default:1"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (customerTierAssignmentSQLite) TableName() string { return "customer_tier_assignments" }

type tierUsageOverageSQLite struct {
	ID            string `gorm:"primaryKey"`
	TenantID      string `gorm:"not null;uniqueIndex:idx_overages_scope"`
	MeterID       string `gorm:"not null;uniqueIndex:idx_overages_scope"`
	CustomerID    string `gorm:"not null;uniqueIndex:idx_overages_scope"`
	PlanName      string `gorm:"not null"`
	BillingPeriod string `gorm:"not null;uniqueIndex:idx_overages_scope"`
	LimitValue    int64
	UsageValue    int64
	OverageAmount int64
	OverageCost   *string
	Billed        bool `gorm:"not null;default:false"`
	BilledAt      *time.Time
	Version       int `gorm:"not null;default:1"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (tierUsageOverageSQLite) TableName() string { return "tier_usage_overages" }

type pricingChangeSQLite struct {
	ID              string `gorm:"primaryKey"`
	TenantID        string `gorm:"not null;index"`
	TierID          string `gorm:"not null;index"`
	TierName        string `gorm:"not null"`
	ChangeType      string `gorm:"not null"`
	OldPrice        string `gorm:"not null"`
	NewPrice        string `gorm:"not null"`
	RemovedFeatures string
	EffectiveDate   time.Time
	Reason          string
	Status          string `gorm:"not null;default:'draft'"`
	CreatorApproved bool   `gorm:"not null;default:false"`
	ScheduledAt     *time.Time
	SentAt          *time.Time
	CancelledAt     *time.Time
	Version         int `gorm:"not null;default:1"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (pricingChangeSQLite) TableName() string { return "pricing_change_notifications" }

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&usageMeterSQLite{},
		&meterPlanLimitSQLite{},
		&usageEventSQLite{},
		&usageAggregateSQLite{},
		&usageAlertSQLite{},
		&subscriptionTierSQLite{},
		&customerTierAssignmentSQLite{},
		&tierUsageOverageSQLite{},
		&pricingChangeSQLite{},
	)
	require.NoError(t, err)

	return db
}
