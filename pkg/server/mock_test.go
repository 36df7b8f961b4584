package server

import (
	"context"
	"sync"
	"time"

	"github.com/aseelert/sma-byd-tibber-automation/pkg/prices"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/storage"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/types"
)

type mockInverter struct {
	mu        sync.Mutex
	status    *types.BatteryStatus
	statusErr error
	applyErr  error
	applied   []types.ChargeDecision
}

func (m *mockInverter) GetBatteryStatus(ctx context.Context) (*types.BatteryStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	return m.status, nil
}

func (m *mockInverter) Apply(ctx context.Context, d types.ChargeDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return m.applyErr
	}
	m.applied = append(m.applied, d)
	return nil
}

func (m *mockInverter) appliedDecisions() []types.ChargeDecision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.ChargeDecision(nil), m.applied...)
}

type mockPriceSource struct {
	series prices.Series
	err    error
}

func (m *mockPriceSource) GetPrices(ctx context.Context) (prices.Series, error) {
	return m.series, m.err
}

type mockCharger struct {
	charging bool
	err      error
}

func (m *mockCharger) CarIsCharging(ctx context.Context) (bool, error) {
	return m.charging, m.err
}

type mockPublisher struct {
	mu        sync.Mutex
	statuses  []*types.BatteryStatus
	decisions []types.ChargeDecision
}

func (m *mockPublisher) PublishStatus(ctx context.Context, status *types.BatteryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
	return nil
}

func (m *mockPublisher) PublishDecision(ctx context.Context, d types.ChargeDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, d)
	return nil
}

type mockDatabase struct {
	mu        sync.Mutex
	decisions []storage.DecisionRecord
	prices    prices.Series
	saveErr   error
}

func (m *mockDatabase) SaveDecision(ctx context.Context, d types.ChargeDecision, status *types.BatteryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	r := storage.DecisionRecord{
		Timestamp:   d.Timestamp,
		Mode:        d.Mode.String(),
		PowerW:      d.PowerW,
		Reason:      string(d.Reason),
		Description: d.Description,
	}
	if status != nil {
		soc := status.StateOfChargePct
		r.BatterySOC = &soc
	}
	m.decisions = append(m.decisions, r)
	return nil
}

func (m *mockDatabase) SavePrices(ctx context.Context, series prices.Series) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices = series
	return nil
}

func (m *mockDatabase) RecentDecisions(ctx context.Context, limit int) ([]storage.DecisionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := append([]storage.DecisionRecord(nil), m.decisions...)
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (m *mockDatabase) PricesBetween(ctx context.Context, start, end time.Time) (prices.Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out prices.Series
	for _, p := range m.prices {
		if !p.StartsAt.Before(start) && p.StartsAt.Before(end) {
			out = append(out, p)
		}
	}
	return out, nil
}
