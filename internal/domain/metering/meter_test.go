package metering

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUsageMeter(t *testing.T) {
	tenantID := uuid.New()

	t.Run("valid meter", func(t *testing.T) {
		meter, err := NewUsageMeter(tenantID, "api_call", "API Calls", AggregationCount, BillingModelMetered)
		require.NoError(t, err)
		assert.Equal(t, "api_call", meter.EventName)
		assert.True(t, meter.Active)
		assert.Equal(t, 1, meter.Version)
	})

	t.Run("empty event name rejected", func(t *testing.T) {
		_, err := NewUsageMeter(tenantID, "  ", "API Calls", AggregationCount, BillingModelMetered)
		assert.Error(t, err)
	})

	t.Run("invalid aggregation rejected", func(t *testing.T) {
		_, err := NewUsageMeter(tenantID, "api_call", "", AggregationType("median"), BillingModelMetered)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "median")
	})

	t.Run("billing model defaults to metered", func(t *testing.T) {
		meter, err := NewUsageMeter(tenantID, "api_call", "", AggregationCount, "")
		require.NoError(t, err)
		assert.Equal(t, BillingModelMetered, meter.BillingModel)
	})

	t.Run("display name defaults to event name", func(t *testing.T) {
		meter, err := NewUsageMeter(tenantID, "api_call", "", AggregationCount, BillingModelMetered)
		require.NoError(t, err)
		assert.Equal(t, "api_call", meter.DisplayName)
	})
}

func TestUsageMeter_Deactivate(t *testing.T) {
	meter, err := NewUsageMeter(uuid.New(), "api_call", "", AggregationCount, BillingModelMetered)
	require.NoError(t, err)

	require.NoError(t, meter.Deactivate())
	assert.False(t, meter.Active)

	err = meter.Deactivate()
	assert.Error(t, err)

	require.NoError(t, meter.Activate())
	assert.True(t, meter.Active)
}

func TestParseAggregationType(t *testing.T) {
	a, err := ParseAggregationType(" Sum ")
	require.NoError(t, err)
	assert.Equal(t, AggregationSum, a)

	_, err = ParseAggregationType("average")
	assert.Error(t, err)
}

func TestNewUsageEvent(t *testing.T) {
	meter, err := NewUsageMeter(uuid.New(), "storage_gb", "Storage", AggregationSum, BillingModelMetered)
	require.NoError(t, err)

	t.Run("valid event", func(t *testing.T) {
		event, err := NewUsageEvent(meter, "user-1", 2.5, nil, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, meter.ID, event.MeterID)
		assert.Equal(t, meter.TenantID, event.TenantID)
		assert.False(t, event.OccurredAt.IsZero())
		assert.False(t, event.Reported)
	})

	t.Run("negative value rejected for sum", func(t *testing.T) {
		_, err := NewUsageEvent(meter, "user-1", -1, nil, time.Now())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "negative")
	})

	t.Run("negative value allowed for max", func(t *testing.T) {
		maxMeter, err := NewUsageMeter(uuid.New(), "temp", "", AggregationMax, BillingModelMetered)
		require.NoError(t, err)
		_, err = NewUsageEvent(maxMeter, "user-1", -1, nil, time.Now())
		assert.NoError(t, err)
	})

	t.Run("inactive meter rejected", func(t *testing.T) {
		inactive, err := NewUsageMeter(uuid.New(), "api_call", "", AggregationCount, BillingModelMetered)
		require.NoError(t, err)
		require.NoError(t, inactive.Deactivate())
		_, err = NewUsageEvent(inactive, "user-1", 1, nil, time.Now())
		assert.Error(t, err)
	})

	t.Run("empty user rejected", func(t *testing.T) {
		_, err := NewUsageEvent(meter, "", 1, nil, time.Now())
		assert.Error(t, err)
	})

	t.Run("count value defaults to one", func(t *testing.T) {
		countMeter, err := NewUsageMeter(uuid.New(), "login", "", AggregationCount, BillingModelMetered)
		require.NoError(t, err)
		event, err := NewUsageEvent(countMeter, "user-1", 0, nil, time.Now())
		require.NoError(t, err)
		assert.Equal(t, 1.0, event.Value)
	})
}
