package billing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/staryer/backend/internal/application/billingsync"
)

// LogReporter is a development stand-in for the Stripe adapter. It logs
// meter events instead of reporting them and hands out fake provider IDs,
// so the rest of the sync pipeline can run without credentials.
type LogReporter struct {
	logger *zap.Logger
	serial int
}

// NewLogReporter creates a reporter that only logs
func NewLogReporter(logger *zap.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

// CreateBillingMeter returns a locally generated meter ID
func (r *LogReporter) CreateBillingMeter(_ context.Context, eventName, displayName string) (string, error) {
	r.serial++
	id := fmt.Sprintf("mtr_local_%d", r.serial)
	r.logger.Info("Billing meter created (log only)",
		zap.String("event_name", eventName),
		zap.String("display_name", displayName),
		zap.String("stripe_meter_id", id))
	return id, nil
}

// CreateMeteredPrice returns a locally generated price ID
func (r *LogReporter) CreateMeteredPrice(_ context.Context, stripeMeterID string, input billingsync.CreatePriceInput) (string, error) {
	r.serial++
	id := fmt.Sprintf("price_local_%d", r.serial)
	r.logger.Info("Metered price created (log only)",
		zap.String("stripe_meter_id", stripeMeterID),
		zap.String("product_name", input.ProductName),
		zap.String("unit_amount", input.UnitAmount.String()),
		zap.String("stripe_price_id", id))
	return id, nil
}

// ReportMeterEvent logs the event and reports success
func (r *LogReporter) ReportMeterEvent(_ context.Context, input billingsync.ReportUsageInput) error {
	r.logger.Info("Meter event reported (log only)",
		zap.String("event_name", input.EventName),
		zap.String("customer_id", input.CustomerID),
		zap.Float64("value", input.Value),
		zap.String("idempotency_key", input.IdempotencyKey))
	return nil
}

var _ billingsync.MeterEventReporter = (*LogReporter)(nil)
