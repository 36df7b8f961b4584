package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// PriceLevel is the retailer's own classification of an hourly price.
type PriceLevel string

const (
	PriceLevelVeryCheap     PriceLevel = "VERY_CHEAP"
	PriceLevelCheap         PriceLevel = "CHEAP"
	PriceLevelNormal        PriceLevel = "NORMAL"
	PriceLevelExpensive     PriceLevel = "EXPENSIVE"
	PriceLevelVeryExpensive PriceLevel = "VERY_EXPENSIVE"
	PriceLevelUnknown       PriceLevel = "UNKNOWN"
)

// PricePoint is the cost of electricity for the hour starting at StartsAt.
type PricePoint struct {
	StartsAt time.Time  `json:"startsAt"`
	Total    float64    `json:"total"` // total price including tax (currency/kWh)
	Level    PriceLevel `json:"level,omitempty"`
}

// OperatingMode is the mode the inverter reports for the battery. Register
// encodings for this differ between firmware revisions so the rest of the
// system only ever sees this abstract form.
type OperatingMode int

const (
	OperatingModeUnknown   OperatingMode = 0
	OperatingModeAutomatic OperatingMode = 1
	OperatingModeManual    OperatingMode = 2
)

func (m OperatingMode) String() string {
	switch m {
	case OperatingModeAutomatic:
		return "automatic"
	case OperatingModeManual:
		return "manual"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the mode as its string form.
func (m OperatingMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON decodes the string form emitted by MarshalJSON.
func (m *OperatingMode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseOperatingMode(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseOperatingMode maps a mode name back to an OperatingMode.
func ParseOperatingMode(s string) (OperatingMode, error) {
	switch s {
	case "automatic":
		return OperatingModeAutomatic, nil
	case "manual":
		return OperatingModeManual, nil
	case "unknown":
		return OperatingModeUnknown, nil
	}
	return OperatingModeUnknown, fmt.Errorf("unknown operating mode: %s", s)
}

// BatteryStatus is a snapshot of the battery and the power flows around it.
// PowerW is positive while charging and negative while discharging.
type BatteryStatus struct {
	Timestamp        time.Time     `json:"timestamp"`
	StateOfChargePct float64       `json:"stateOfChargePct"` // 0-100
	PowerW           int           `json:"powerW"`
	Mode             OperatingMode `json:"mode"`
	GridPowerW       int           `json:"gridPowerW"`  // positive = feed-in
	HousePowerW      int           `json:"housePowerW"` // consumption
	SolarPowerW      int           `json:"solarPowerW"` // generation
}

// BatteryMode is the operating mode a decision asks the battery to take.
type BatteryMode int

const (
	BatteryModeNormal    BatteryMode = 0
	BatteryModePause     BatteryMode = 1
	BatteryModeCharge    BatteryMode = 2
	BatteryModeDischarge BatteryMode = 3
)

func (m BatteryMode) String() string {
	switch m {
	case BatteryModeNormal:
		return "normal"
	case BatteryModePause:
		return "pause"
	case BatteryModeCharge:
		return "charge"
	case BatteryModeDischarge:
		return "discharge"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the mode as its string form.
func (m BatteryMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON decodes the string form emitted by MarshalJSON.
func (m *BatteryMode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseBatteryMode(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseBatteryMode maps a mode name back to a BatteryMode, for the force-mode
// command line flags.
func ParseBatteryMode(s string) (BatteryMode, error) {
	switch s {
	case "normal":
		return BatteryModeNormal, nil
	case "pause":
		return BatteryModePause, nil
	case "charge":
		return BatteryModeCharge, nil
	case "discharge":
		return BatteryModeDischarge, nil
	}
	return BatteryModeNormal, fmt.Errorf("unknown battery mode: %s", s)
}

// DecisionReason explains why a decision was made. A NORMAL decision caused by
// missing data is distinguishable from one the engine genuinely chose.
type DecisionReason string

const (
	ReasonCarCharging      DecisionReason = "carCharging"
	ReasonBatteryFull      DecisionReason = "batteryFull"
	ReasonEmergencyCharge  DecisionReason = "emergencyCharge"
	ReasonFavorablePrice   DecisionReason = "favorablePrice"
	ReasonChargeWindow     DecisionReason = "chargeWindow"
	ReasonWaitingForWindow DecisionReason = "waitingForWindow"
	ReasonInsufficientData DecisionReason = "insufficientData"
)

// ChargeDecision is the output of one decision cycle. PowerW is only
// meaningful for BatteryModeCharge and BatteryModeDischarge.
type ChargeDecision struct {
	Timestamp    time.Time      `json:"timestamp"`
	Mode         BatteryMode    `json:"mode"`
	PowerW       int            `json:"powerW"`
	Reason       DecisionReason `json:"reason"`
	Description  string         `json:"description"`
	CurrentPrice *PricePoint    `json:"currentPrice,omitempty"`
	WindowStart  time.Time      `json:"windowStart,omitzero"`
	WindowEnd    time.Time      `json:"windowEnd,omitzero"`
	WindowScore  float64        `json:"windowScore,omitempty"`
}
