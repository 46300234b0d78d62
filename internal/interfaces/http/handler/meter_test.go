package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appmetering "github.com/staryer/backend/internal/application/metering"
	"github.com/staryer/backend/internal/domain/metering"
	"github.com/staryer/backend/internal/domain/shared"
)

type fakeMeterRegistry struct {
	meters map[uuid.UUID]*metering.UsageMeter
	limits map[uuid.UUID][]*metering.MeterPlanLimit
}

func newFakeMeterRegistry() *fakeMeterRegistry {
	return &fakeMeterRegistry{
		meters: make(map[uuid.UUID]*metering.UsageMeter),
		limits: make(map[uuid.UUID][]*metering.MeterPlanLimit),
	}
}

func (f *fakeMeterRegistry) CreateMeter(_ context.Context, tenantID uuid.UUID, input appmetering.CreateMeterInput) (*metering.UsageMeter, error) {
	for _, m := range f.meters {
		if m.TenantID == tenantID && m.EventName == input.EventName {
			return nil, shared.NewDomainError("METER_ALREADY_EXISTS", "Meter already exists for event: "+input.EventName)
		}
	}
	aggregation, err := metering.ParseAggregationType(input.Aggregation)
	if err != nil {
		return nil, err
	}
	meter, err := metering.NewUsageMeter(tenantID, input.EventName, input.DisplayName, aggregation, metering.BillingModel(input.BillingModel))
	if err != nil {
		return nil, err
	}
	f.meters[meter.ID] = meter
	return meter, nil
}

func (f *fakeMeterRegistry) CreatePlanLimits(_ context.Context, tenantID, meterID uuid.UUID, inputs []appmetering.PlanLimitInput) ([]*metering.MeterPlanLimit, error) {
	if _, ok := f.meters[meterID]; !ok {
		return nil, shared.ErrNotFound
	}
	out := make([]*metering.MeterPlanLimit, 0, len(inputs))
	for _, in := range inputs {
		limit, err := metering.NewMeterPlanLimit(tenantID, meterID, in.PlanName, in.LimitValue, in.SoftLimitThreshold, in.HardCap)
		if err != nil {
			return nil, err
		}
		out = append(out, limit)
	}
	f.limits[meterID] = out
	return out, nil
}

func (f *fakeMeterRegistry) GetMeter(_ context.Context, tenantID, meterID uuid.UUID) (*metering.UsageMeter, error) {
	m, ok := f.meters[meterID]
	if !ok || m.TenantID != tenantID {
		return nil, shared.ErrNotFound
	}
	return m, nil
}

func (f *fakeMeterRegistry) ListMeters(_ context.Context, tenantID uuid.UUID, activeOnly bool) ([]*metering.UsageMeter, error) {
	var out []*metering.UsageMeter
	for _, m := range f.meters {
		if m.TenantID != tenantID || (activeOnly && !m.Active) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeMeterRegistry) ListPlanLimits(_ context.Context, _, meterID uuid.UUID) ([]*metering.MeterPlanLimit, error) {
	return f.limits[meterID], nil
}

func (f *fakeMeterRegistry) DeactivateMeter(_ context.Context, tenantID, meterID uuid.UUID) (*metering.UsageMeter, error) {
	m, ok := f.meters[meterID]
	if !ok || m.TenantID != tenantID {
		return nil, shared.ErrNotFound
	}
	if err := m.Deactivate(); err != nil {
		return nil, err
	}
	return m, nil
}

func TestMeterHandler_Create(t *testing.T) {
	registry := newFakeMeterRegistry()
	r := newTestRouter(NewMeterHandler(registry))
	tenantID := uuid.New()

	t.Run("creates a meter", func(t *testing.T) {
		w := doRequest(t, r, http.MethodPost, "/api/v1/meters", tenantID, CreateMeterRequest{
			EventName:   "api_call",
			DisplayName: "API Calls",
			Aggregation: "count",
		})

		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var resp MeterResponse
		decodeData(t, w, &resp)
		assert.Equal(t, "api_call", resp.EventName)
		assert.Equal(t, "count", resp.Aggregation)
		assert.True(t, resp.Active)
	})

	t.Run("duplicate event name conflicts", func(t *testing.T) {
		w := doRequest(t, r, http.MethodPost, "/api/v1/meters", tenantID, CreateMeterRequest{
			EventName:   "api_call",
			Aggregation: "count",
		})

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "ERR_ALREADY_EXISTS", errorCode(t, w))
	})

	t.Run("rejects unknown aggregation at binding", func(t *testing.T) {
		w := doRequest(t, r, http.MethodPost, "/api/v1/meters", tenantID, map[string]string{
			"event_name":  "storage",
			"aggregation": "median",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("requires tenant header", func(t *testing.T) {
		w := doRequest(t, r, http.MethodPost, "/api/v1/meters", uuid.Nil, CreateMeterRequest{
			EventName:   "x",
			Aggregation: "count",
		})

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestMeterHandler_Lifecycle(t *testing.T) {
	registry := newFakeMeterRegistry()
	r := newTestRouter(NewMeterHandler(registry))
	tenantID := uuid.New()

	w := doRequest(t, r, http.MethodPost, "/api/v1/meters", tenantID, CreateMeterRequest{
		EventName:   "tokens",
		Aggregation: "sum",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created MeterResponse
	decodeData(t, w, &created)

	t.Run("get returns the meter", func(t *testing.T) {
		w := doRequest(t, r, http.MethodGet, "/api/v1/meters/"+created.ID.String(), tenantID, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp MeterResponse
		decodeData(t, w, &resp)
		assert.Equal(t, created.ID, resp.ID)
	})

	t.Run("foreign tenant sees nothing", func(t *testing.T) {
		w := doRequest(t, r, http.MethodGet, "/api/v1/meters/"+created.ID.String(), uuid.New(), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("set and list plan limits", func(t *testing.T) {
		limit := int64(1000)
		w := doRequest(t, r, http.MethodPut, "/api/v1/meters/"+created.ID.String()+"/limits", tenantID, SetPlanLimitsRequest{
			Limits: []PlanLimitRequest{
				{PlanName: "starter", LimitValue: &limit, SoftLimitThreshold: 0.8, HardCap: true},
				{PlanName: "pro"},
			},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = doRequest(t, r, http.MethodGet, "/api/v1/meters/"+created.ID.String()+"/limits", tenantID, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var limits []PlanLimitResponse
		decodeData(t, w, &limits)
		require.Len(t, limits, 2)
		assert.Equal(t, int64(1000), *limits[0].LimitValue)
		assert.Nil(t, limits[1].LimitValue)
	})

	t.Run("deactivate flips active off", func(t *testing.T) {
		w := doRequest(t, r, http.MethodDelete, "/api/v1/meters/"+created.ID.String(), tenantID, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp MeterResponse
		decodeData(t, w, &resp)
		assert.False(t, resp.Active)
	})

	t.Run("invalid meter ID is a bad request", func(t *testing.T) {
		w := doRequest(t, r, http.MethodGet, "/api/v1/meters/not-a-uuid", tenantID, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
