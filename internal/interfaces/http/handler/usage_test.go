package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appmetering "github.com/staryer/backend/internal/application/metering"
	"github.com/staryer/backend/internal/domain/metering"
	"github.com/staryer/backend/internal/domain/shared"
)

type fakeTracker struct {
	meter      *metering.UsageMeter
	aggregates []*metering.UsageAggregate
	lastInput  appmetering.TrackUsageInput
}

func (f *fakeTracker) TrackUsage(_ context.Context, tenantID uuid.UUID, input appmetering.TrackUsageInput) (*appmetering.TrackUsageResult, error) {
	if f.meter == nil || f.meter.EventName != input.EventName {
		return nil, shared.ErrNotFound
	}
	f.lastInput = input
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	event, err := metering.NewUsageEvent(f.meter, input.UserID, input.Value, input.Properties, occurredAt)
	if err != nil {
		return nil, err
	}
	agg := metering.FoldEvents(f.meter, input.UserID, event.BillingPeriod(), []*metering.UsageEvent{event})
	return &appmetering.TrackUsageResult{Event: event, Aggregate: agg}, nil
}

func (f *fakeTracker) GetUsageSummary(_ context.Context, _ uuid.UUID, userID, _ string) ([]*metering.UsageAggregate, error) {
	var out []*metering.UsageAggregate
	for _, a := range f.aggregates {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeEnforcement struct {
	check  *appmetering.EnforcementCheck
	alerts map[uuid.UUID]*metering.UsageAlert
}

func (f *fakeEnforcement) CheckUsageEnforcement(_ context.Context, _ uuid.UUID, _, eventName string, _ int64) (*appmetering.EnforcementCheck, error) {
	if f.check == nil || f.check.Meter.EventName != eventName {
		return nil, shared.ErrNotFound
	}
	return f.check, nil
}

func (f *fakeEnforcement) AcknowledgeAlert(_ context.Context, _, alertID uuid.UUID) (*metering.UsageAlert, error) {
	alert, ok := f.alerts[alertID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	if err := alert.Acknowledge(); err != nil {
		return nil, err
	}
	return alert, nil
}

func (f *fakeEnforcement) ListOpenAlerts(_ context.Context, _ uuid.UUID) ([]*metering.UsageAlert, error) {
	var out []*metering.UsageAlert
	for _, a := range f.alerts {
		if !a.Acknowledged {
			out = append(out, a)
		}
	}
	return out, nil
}

func newUsageFixture(t *testing.T, tenantID uuid.UUID) (*fakeTracker, *fakeEnforcement) {
	t.Helper()
	meter, err := metering.NewUsageMeter(tenantID, "api_call", "API Calls", metering.AggregationCount, metering.BillingModelMetered)
	require.NoError(t, err)
	return &fakeTracker{meter: meter}, &fakeEnforcement{alerts: make(map[uuid.UUID]*metering.UsageAlert)}
}

func TestUsageHandler_Track(t *testing.T) {
	tenantID := uuid.New()
	tracker, enforcement := newUsageFixture(t, tenantID)
	r := newTestRouter(NewUsageHandler(tracker, enforcement))

	t.Run("records an event", func(t *testing.T) {
		w := doRequest(t, r, http.MethodPost, "/api/v1/usage/track", tenantID, TrackUsageRequest{
			EventName: "api_call",
			UserID:    "cus_1",
			Value:     1,
			Properties: map[string]any{
				"endpoint": "/v1/chat",
			},
		})

		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var resp TrackUsageResponse
		decodeData(t, w, &resp)
		assert.Equal(t, "api_call", resp.Event.EventName)
		assert.Equal(t, "cus_1", resp.Event.UserID)
		assert.Equal(t, int64(1), resp.Aggregate.EventCount)
		assert.Equal(t, "/v1/chat", tracker.lastInput.Properties["endpoint"])
	})

	t.Run("unknown event name is not found", func(t *testing.T) {
		w := doRequest(t, r, http.MethodPost, "/api/v1/usage/track", tenantID, TrackUsageRequest{
			EventName: "no_such_event",
			UserID:    "cus_1",
		})

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing user_id fails binding", func(t *testing.T) {
		w := doRequest(t, r, http.MethodPost, "/api/v1/usage/track", tenantID, map[string]any{
			"event_name": "api_call",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestUsageHandler_Check(t *testing.T) {
	tenantID := uuid.New()
	tracker, enforcement := newUsageFixture(t, tenantID)
	limit := int64(100)
	enforcement.check = &appmetering.EnforcementCheck{
		Meter:         tracker.meter,
		PlanName:      "starter",
		BillingPeriod: metering.CurrentBillingPeriod(),
		Decision: metering.EnforcementDecision{
			Allowed:      true,
			Status:       metering.EnforcementUnderLimit,
			CurrentUsage: 40,
			LimitValue:   &limit,
			UsagePercent: 40,
		},
	}
	r := newTestRouter(NewUsageHandler(tracker, enforcement))

	t.Run("returns the decision", func(t *testing.T) {
		w := doRequest(t, r, http.MethodGet, "/api/v1/usage/check?user_id=cus_1&event_name=api_call&requested=5", tenantID, nil)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp EnforcementCheckResponse
		decodeData(t, w, &resp)
		assert.True(t, resp.Decision.Allowed)
		assert.Equal(t, "starter", resp.PlanName)
		assert.Equal(t, int64(40), resp.Decision.CurrentUsage)
	})

	t.Run("requires user_id and event_name", func(t *testing.T) {
		w := doRequest(t, r, http.MethodGet, "/api/v1/usage/check?user_id=cus_1", tenantID, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects negative requested", func(t *testing.T) {
		w := doRequest(t, r, http.MethodGet, "/api/v1/usage/check?user_id=cus_1&event_name=api_call&requested=-2", tenantID, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestUsageHandler_Summary(t *testing.T) {
	tenantID := uuid.New()
	tracker, enforcement := newUsageFixture(t, tenantID)
	tracker.aggregates = []*metering.UsageAggregate{
		{TenantID: tenantID, MeterID: tracker.meter.ID, UserID: "cus_1", BillingPeriod: "2026-08", AggregateValue: 12, EventCount: 12},
		{TenantID: tenantID, MeterID: uuid.New(), UserID: "cus_2", BillingPeriod: "2026-08", AggregateValue: 3, EventCount: 3},
	}
	r := newTestRouter(NewUsageHandler(tracker, enforcement))

	w := doRequest(t, r, http.MethodGet, "/api/v1/usage/summary?user_id=cus_1&billing_period=2026-08", tenantID, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp []UsageAggregateResponse
	decodeData(t, w, &resp)
	require.Len(t, resp, 1)
	assert.Equal(t, float64(12), resp[0].AggregateValue)
}

func TestUsageHandler_Alerts(t *testing.T) {
	tenantID := uuid.New()
	tracker, enforcement := newUsageFixture(t, tenantID)
	alert, err := metering.NewUsageAlert(tenantID, tracker.meter.ID, "cus_1", metering.AlertSoftLimit, "2026-08", 85, 100, 85)
	require.NoError(t, err)
	enforcement.alerts[alert.ID] = alert
	r := newTestRouter(NewUsageHandler(tracker, enforcement))

	t.Run("lists open alerts", func(t *testing.T) {
		w := doRequest(t, r, http.MethodGet, "/api/v1/usage/alerts", tenantID, nil)

		require.Equal(t, http.StatusOK, w.Code)
		var resp []UsageAlertResponse
		decodeData(t, w, &resp)
		require.Len(t, resp, 1)
		assert.Equal(t, "soft_limit", resp[0].AlertType)
	})

	t.Run("acknowledge closes the alert", func(t *testing.T) {
		w := doRequest(t, r, http.MethodPost, "/api/v1/usage/alerts/"+alert.ID.String()+"/acknowledge", tenantID, nil)

		require.Equal(t, http.StatusOK, w.Code)
		var resp UsageAlertResponse
		decodeData(t, w, &resp)
		assert.True(t, resp.Acknowledged)

		// Acknowledging twice is an invalid state transition
		w = doRequest(t, r, http.MethodPost, "/api/v1/usage/alerts/"+alert.ID.String()+"/acknowledge", tenantID, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "ERR_INVALID_STATE", errorCode(t, w))
	})
}
