package metering

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func TestNewMeterPlanLimit(t *testing.T) {
	tenantID := uuid.New()
	meterID := uuid.New()

	t.Run("valid limit", func(t *testing.T) {
		limit, err := NewMeterPlanLimit(tenantID, meterID, "pro", int64Ptr(100), 0.8, false)
		require.NoError(t, err)
		assert.Equal(t, "pro", limit.PlanName)
		assert.Equal(t, int64(100), *limit.LimitValue)
		assert.False(t, limit.IsUnlimited())
	})

	t.Run("nil limit means unlimited", func(t *testing.T) {
		limit, err := NewMeterPlanLimit(tenantID, meterID, "enterprise", nil, 0.8, false)
		require.NoError(t, err)
		assert.True(t, limit.IsUnlimited())
	})

	t.Run("threshold above one rejected", func(t *testing.T) {
		_, err := NewMeterPlanLimit(tenantID, meterID, "pro", int64Ptr(100), 1.5, false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "between 0 and 1")
	})

	t.Run("negative threshold rejected", func(t *testing.T) {
		_, err := NewMeterPlanLimit(tenantID, meterID, "pro", int64Ptr(100), -0.1, false)
		assert.Error(t, err)
	})

	t.Run("negative limit rejected", func(t *testing.T) {
		_, err := NewMeterPlanLimit(tenantID, meterID, "pro", int64Ptr(-5), 0.8, false)
		assert.Error(t, err)
	})

	t.Run("empty plan name rejected", func(t *testing.T) {
		_, err := NewMeterPlanLimit(tenantID, meterID, "", int64Ptr(100), 0.8, false)
		assert.Error(t, err)
	})

	t.Run("negative overage price rejected", func(t *testing.T) {
		limit, err := NewMeterPlanLimit(tenantID, meterID, "pro", int64Ptr(100), 0.8, false)
		require.NoError(t, err)
		err = limit.SetOveragePrice(decimal.NewFromFloat(-0.01))
		assert.Error(t, err)
	})
}

func TestMeterPlanLimit_Check(t *testing.T) {
	tenantID := uuid.New()
	meterID := uuid.New()

	newLimit := func(limit *int64, threshold float64, hardCap bool) *MeterPlanLimit {
		l, err := NewMeterPlanLimit(tenantID, meterID, "pro", limit, threshold, hardCap)
		require.NoError(t, err)
		return l
	}

	t.Run("unlimited plan always allowed", func(t *testing.T) {
		decision := newLimit(nil, 0.8, true).Check(1_000_000)
		assert.True(t, decision.Allowed)
		assert.Equal(t, EnforcementUnderLimit, decision.Status)
		assert.Zero(t, decision.UsagePercent)
		assert.Nil(t, decision.Remaining)
	})

	t.Run("under soft limit", func(t *testing.T) {
		decision := newLimit(int64Ptr(100), 0.8, false).Check(50)
		assert.True(t, decision.Allowed)
		assert.Equal(t, EnforcementUnderLimit, decision.Status)
		assert.False(t, decision.ShouldWarn)
		assert.InDelta(t, 50.0, decision.UsagePercent, 0.001)
		assert.Equal(t, int64(50), *decision.Remaining)
	})

	t.Run("85 of 100 crosses soft limit", func(t *testing.T) {
		decision := newLimit(int64Ptr(100), 0.8, false).Check(85)
		assert.True(t, decision.Allowed)
		assert.Equal(t, EnforcementWarned, decision.Status)
		assert.True(t, decision.ShouldWarn)
		assert.InDelta(t, 85.0, decision.UsagePercent, 0.001)
	})

	t.Run("105 of 100 hard capped is blocked", func(t *testing.T) {
		decision := newLimit(int64Ptr(100), 0.8, true).Check(105)
		assert.False(t, decision.Allowed)
		assert.Equal(t, EnforcementBlocked, decision.Status)
		assert.Equal(t, int64(5), decision.Overage)
		assert.Equal(t, int64(0), *decision.Remaining)
	})

	t.Run("at limit hard capped is blocked", func(t *testing.T) {
		decision := newLimit(int64Ptr(100), 0.8, true).Check(100)
		assert.False(t, decision.Allowed)
		assert.Equal(t, EnforcementBlocked, decision.Status)
		assert.Zero(t, decision.Overage)
	})

	t.Run("over limit without hard cap accrues overage", func(t *testing.T) {
		decision := newLimit(int64Ptr(100), 0.8, false).Check(120)
		assert.True(t, decision.Allowed)
		assert.Equal(t, EnforcementWarned, decision.Status)
		assert.True(t, decision.ShouldWarn)
		assert.Equal(t, int64(20), decision.Overage)
	})

	t.Run("exactly at soft threshold warns", func(t *testing.T) {
		decision := newLimit(int64Ptr(100), 0.8, false).Check(80)
		assert.True(t, decision.Allowed)
		assert.Equal(t, EnforcementWarned, decision.Status)
	})

	t.Run("zero threshold disables soft warning", func(t *testing.T) {
		decision := newLimit(int64Ptr(100), 0, false).Check(99)
		assert.Equal(t, EnforcementUnderLimit, decision.Status)
		assert.False(t, decision.ShouldWarn)
	})
}
