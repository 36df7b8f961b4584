package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aseelert/sma-byd-tibber-automation/pkg/controller"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/prices"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// troughSeries builds a day of prices around now: everything at 0.20 except
// the current hour at 0.05.
func troughSeries(t *testing.T, now time.Time) prices.Series {
	t.Helper()
	start := now.Truncate(time.Hour).Add(-2 * time.Hour)
	points := make([]types.PricePoint, 24)
	for i := range points {
		points[i] = types.PricePoint{
			StartsAt: start.Add(time.Duration(i) * time.Hour),
			Total:    0.20,
		}
	}
	points[2].Total = 0.05 // the current hour
	s, err := prices.Normalize(points)
	require.NoError(t, err)
	return s
}

func newTestServer(t *testing.T, inv *mockInverter, src *mockPriceSource, ch *mockCharger) (*Server, *mockDatabase, *mockPublisher) {
	t.Helper()
	engine, err := controller.NewEngine(controller.DefaultConfig())
	require.NoError(t, err)

	db := &mockDatabase{}
	pub := &mockPublisher{}
	return &Server{
		inverter:  inv,
		priceSrc:  src,
		charger:   ch,
		publisher: pub,
		db:        db,
		engine:    engine,
	}, db, pub
}

func TestRunCycle(t *testing.T) {
	ctx := context.Background()

	t.Run("Charges In Cheap Hour", func(t *testing.T) {
		inv := &mockInverter{status: &types.BatteryStatus{
			Timestamp:        time.Now(),
			StateOfChargePct: 50,
		}}
		src := &mockPriceSource{series: troughSeries(t, time.Now())}
		s, db, pub := newTestServer(t, inv, src, &mockCharger{})

		s.runCycle(ctx)

		applied := inv.appliedDecisions()
		require.Len(t, applied, 1)
		assert.Equal(t, types.BatteryModeCharge, applied[0].Mode)
		assert.Equal(t, types.ReasonFavorablePrice, applied[0].Reason)
		assert.Equal(t, 2500, applied[0].PowerW)

		// decision and prices were recorded and published
		records, err := db.RecentDecisions(ctx, 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "charge", records[0].Mode)
		assert.Len(t, db.prices, 24)
		assert.Len(t, pub.decisions, 1)

		s.mu.Lock()
		require.NotNil(t, s.lastDecision)
		assert.Equal(t, types.BatteryModeCharge, s.lastDecision.Mode)
		s.mu.Unlock()
	})

	t.Run("Car Charging Pauses", func(t *testing.T) {
		inv := &mockInverter{status: &types.BatteryStatus{StateOfChargePct: 50}}
		src := &mockPriceSource{series: troughSeries(t, time.Now())}
		s, _, _ := newTestServer(t, inv, src, &mockCharger{charging: true})

		s.runCycle(ctx)

		applied := inv.appliedDecisions()
		require.Len(t, applied, 1)
		assert.Equal(t, types.BatteryModePause, applied[0].Mode)
	})

	t.Run("Inverter Unreachable Skips Apply", func(t *testing.T) {
		inv := &mockInverter{statusErr: assert.AnError}
		src := &mockPriceSource{series: troughSeries(t, time.Now())}
		s, db, _ := newTestServer(t, inv, src, &mockCharger{})

		s.runCycle(ctx)

		assert.Empty(t, inv.appliedDecisions())

		// the degraded cycle is still recorded
		records, err := db.RecentDecisions(ctx, 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "normal", records[0].Mode)
		assert.Equal(t, "insufficientData", records[0].Reason)
		assert.Nil(t, records[0].BatterySOC)
	})

	t.Run("Price Fetch Failure Still Protects Battery", func(t *testing.T) {
		inv := &mockInverter{status: &types.BatteryStatus{StateOfChargePct: 15}}
		src := &mockPriceSource{err: assert.AnError}
		s, _, _ := newTestServer(t, inv, src, &mockCharger{})

		s.runCycle(ctx)

		applied := inv.appliedDecisions()
		require.Len(t, applied, 1)
		assert.Equal(t, types.BatteryModeCharge, applied[0].Mode)
		assert.Equal(t, types.ReasonEmergencyCharge, applied[0].Reason)
	})

	t.Run("Charger Failure Defaults To Not Charging", func(t *testing.T) {
		inv := &mockInverter{status: &types.BatteryStatus{StateOfChargePct: 50}}
		src := &mockPriceSource{series: troughSeries(t, time.Now())}
		s, _, _ := newTestServer(t, inv, src, &mockCharger{err: assert.AnError})

		s.runCycle(ctx)

		applied := inv.appliedDecisions()
		require.Len(t, applied, 1)
		assert.NotEqual(t, types.BatteryModePause, applied[0].Mode)
	})
}

func TestHandleStatus(t *testing.T) {
	inv := &mockInverter{status: &types.BatteryStatus{StateOfChargePct: 50}}
	src := &mockPriceSource{series: troughSeries(t, time.Now())}
	s, _, _ := newTestServer(t, inv, src, &mockCharger{})

	t.Run("Before First Cycle", func(t *testing.T) {
		w := httptest.NewRecorder()
		s.handleStatus(w, httptest.NewRequest("GET", "/api/status", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("After Cycle", func(t *testing.T) {
		s.runCycle(context.Background())

		w := httptest.NewRecorder()
		s.handleStatus(w, httptest.NewRequest("GET", "/api/status", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var res struct {
			Battery  *types.BatteryStatus `json:"battery"`
			Decision *struct {
				Mode   string `json:"mode"`
				Reason string `json:"reason"`
			} `json:"decision"`
			LastCycle time.Time `json:"lastCycle"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		require.NotNil(t, res.Battery)
		assert.Equal(t, 50.0, res.Battery.StateOfChargePct)
		require.NotNil(t, res.Decision)
		assert.Equal(t, "charge", res.Decision.Mode)
		assert.False(t, res.LastCycle.IsZero())
	})
}

func TestHandleHistory(t *testing.T) {
	inv := &mockInverter{status: &types.BatteryStatus{StateOfChargePct: 50}}
	src := &mockPriceSource{series: troughSeries(t, time.Now())}
	s, _, _ := newTestServer(t, inv, src, &mockCharger{})
	s.runCycle(context.Background())

	t.Run("Decisions", func(t *testing.T) {
		w := httptest.NewRecorder()
		s.handleHistoryDecisions(w, httptest.NewRequest("GET", "/api/history/decisions?limit=5", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var res struct {
			Decisions []struct {
				Mode string `json:"mode"`
			} `json:"decisions"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		require.Len(t, res.Decisions, 1)
		assert.Equal(t, "charge", res.Decisions[0].Mode)
	})

	t.Run("Invalid Limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		s.handleHistoryDecisions(w, httptest.NewRequest("GET", "/api/history/decisions?limit=bogus", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = httptest.NewRecorder()
		s.handleHistoryDecisions(w, httptest.NewRequest("GET", "/api/history/decisions?limit=10000", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Prices", func(t *testing.T) {
		w := httptest.NewRecorder()
		s.handleHistoryPrices(w, httptest.NewRequest("GET", "/api/history/prices", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var res struct {
			Prices []types.PricePoint `json:"prices"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Len(t, res.Prices, 24)
	})

	t.Run("Invalid Range", func(t *testing.T) {
		w := httptest.NewRecorder()
		s.handleHistoryPrices(w, httptest.NewRequest("GET", "/api/history/prices?start=bogus", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
