package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatteryStatusRoundTrip(t *testing.T) {
	status := BatteryStatus{
		Timestamp:        time.Date(2024, 11, 12, 14, 0, 0, 0, time.UTC),
		StateOfChargePct: 57,
		PowerW:           1200,
		Mode:             OperatingModeAutomatic,
		GridPowerW:       -340,
		SolarPowerW:      2400,
	}

	payload, err := json.Marshal(status)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"mode":"automatic"`)

	var decoded BatteryStatus
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, status, decoded)
}

func TestChargeDecisionRoundTrip(t *testing.T) {
	d := ChargeDecision{
		Timestamp: time.Date(2024, 11, 12, 14, 0, 0, 0, time.UTC),
		Mode:      BatteryModeCharge,
		PowerW:    2500,
		Reason:    ReasonFavorablePrice,
	}

	payload, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"mode":"charge"`)

	var decoded ChargeDecision
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, d, decoded)
}

func TestParseBatteryMode(t *testing.T) {
	for s, want := range map[string]BatteryMode{
		"normal":    BatteryModeNormal,
		"pause":     BatteryModePause,
		"charge":    BatteryModeCharge,
		"discharge": BatteryModeDischarge,
	} {
		got, err := ParseBatteryMode(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, got, s)
	}

	_, err := ParseBatteryMode("boost")
	assert.Error(t, err)
}

func TestParseOperatingMode(t *testing.T) {
	for s, want := range map[string]OperatingMode{
		"automatic": OperatingModeAutomatic,
		"manual":    OperatingModeManual,
		"unknown":   OperatingModeUnknown,
	} {
		got, err := ParseOperatingMode(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, got, s)
	}

	_, err := ParseOperatingMode("standby")
	assert.Error(t, err)
}
