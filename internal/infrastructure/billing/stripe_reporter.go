package billing

import (
	"context"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/billing/meter"
	"github.com/stripe/stripe-go/v81/billing/meterevent"
	"github.com/stripe/stripe-go/v81/price"
	"go.uber.org/zap"

	"github.com/staryer/backend/internal/application/billingsync"
	"github.com/staryer/backend/internal/infrastructure/config"
)

// StripeReporter implements the billing provider port on top of Stripe's
// usage-based billing APIs: billing meters, metered prices and meter events.
type StripeReporter struct {
	cfg    *config.StripeConfig
	logger *zap.Logger
}

// NewStripeReporter creates a Stripe reporter and initializes the client
func NewStripeReporter(cfg *config.StripeConfig, logger *zap.Logger) (*StripeReporter, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("stripe: secret key is required")
	}

	stripe.Key = cfg.SecretKey
	if cfg.MaxRetries > 0 {
		stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			MaxNetworkRetries: stripe.Int64(int64(cfg.MaxRetries)),
		}))
	}

	return &StripeReporter{cfg: cfg, logger: logger}, nil
}

// CreateBillingMeter creates a Stripe billing meter keyed by the event name.
// Reported values are pre-folded per period, so the meter always sums.
func (r *StripeReporter) CreateBillingMeter(ctx context.Context, eventName, displayName string) (string, error) {
	params := &stripe.BillingMeterParams{
		DisplayName: stripe.String(displayName),
		EventName:   stripe.String(eventName),
		DefaultAggregation: &stripe.BillingMeterDefaultAggregationParams{
			Formula: stripe.String("sum"),
		},
		CustomerMapping: &stripe.BillingMeterCustomerMappingParams{
			EventPayloadKey: stripe.String("stripe_customer_id"),
			Type:            stripe.String("by_id"),
		},
		ValueSettings: &stripe.BillingMeterValueSettingsParams{
			EventPayloadKey: stripe.String("value"),
		},
	}
	params.Context = ctx

	m, err := meter.New(params)
	if err != nil {
		r.logger.Error("Failed to create Stripe billing meter",
			zap.String("event_name", eventName),
			zap.Error(err))
		return "", fmt.Errorf("stripe: failed to create billing meter: %w", err)
	}

	r.logger.Info("Created Stripe billing meter",
		zap.String("event_name", eventName),
		zap.String("stripe_meter_id", m.ID))

	return m.ID, nil
}

// CreateMeteredPrice creates a metered recurring price bound to a billing meter
func (r *StripeReporter) CreateMeteredPrice(ctx context.Context, stripeMeterID string, input billingsync.CreatePriceInput) (string, error) {
	if stripeMeterID == "" {
		return "", fmt.Errorf("stripe: billing meter ID is required")
	}

	params := &stripe.PriceParams{
		Currency:          stripe.String(input.Currency),
		UnitAmountDecimal: stripe.Float64(input.UnitAmount.InexactFloat64()),
		Recurring: &stripe.PriceRecurringParams{
			Interval:  stripe.String(stripeInterval(input.Interval)),
			UsageType: stripe.String("metered"),
			Meter:     stripe.String(stripeMeterID),
		},
		ProductData: &stripe.PriceProductDataParams{
			Name: stripe.String(input.ProductName),
		},
	}
	params.Context = ctx

	p, err := price.New(params)
	if err != nil {
		r.logger.Error("Failed to create Stripe metered price",
			zap.String("stripe_meter_id", stripeMeterID),
			zap.Error(err))
		return "", fmt.Errorf("stripe: failed to create metered price: %w", err)
	}

	r.logger.Info("Created Stripe metered price",
		zap.String("stripe_meter_id", stripeMeterID),
		zap.String("stripe_price_id", p.ID))

	return p.ID, nil
}

// ReportMeterEvent pushes one grouped usage value to Stripe. The identifier
// doubles as Stripe's dedup key, so replaying a report is harmless.
func (r *StripeReporter) ReportMeterEvent(ctx context.Context, input billingsync.ReportUsageInput) error {
	if input.CustomerID == "" {
		return fmt.Errorf("stripe: customer ID is required")
	}
	if input.Value < 0 {
		return fmt.Errorf("stripe: usage value cannot be negative")
	}

	params := &stripe.BillingMeterEventParams{
		EventName: stripe.String(input.EventName),
		Payload:   meterEventPayload(input),
	}
	if input.IdempotencyKey != "" {
		params.Identifier = stripe.String(input.IdempotencyKey)
		params.SetIdempotencyKey(input.IdempotencyKey)
	}
	if !input.Timestamp.IsZero() {
		params.Timestamp = stripe.Int64(input.Timestamp.Unix())
	}
	params.Context = ctx

	event, err := meterevent.New(params)
	if err != nil {
		r.logger.Error("Failed to report Stripe meter event",
			zap.String("event_name", input.EventName),
			zap.String("customer_id", input.CustomerID),
			zap.Error(err))
		return fmt.Errorf("stripe: failed to report meter event: %w", err)
	}

	r.logger.Info("Reported Stripe meter event",
		zap.String("event_name", event.EventName),
		zap.String("customer_id", input.CustomerID),
		zap.Float64("value", input.Value))

	return nil
}

// stripeInterval maps a billing interval to Stripe's recurring interval
func stripeInterval(interval string) string {
	switch interval {
	case "yearly", "year":
		return "year"
	default:
		return "month"
	}
}

// meterEventPayload builds the meter event payload Stripe expects
func meterEventPayload(input billingsync.ReportUsageInput) map[string]string {
	return map[string]string{
		"stripe_customer_id": input.CustomerID,
		"value":              strconv.FormatFloat(input.Value, 'f', -1, 64),
	}
}

// Ensure StripeReporter implements the outbound port
var _ billingsync.MeterEventReporter = (*StripeReporter)(nil)
