package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aseelert/sma-byd-tibber-automation/pkg/prices"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/types"
)

// ErrInsufficientData marks a cycle where the engine fell back to NORMAL
// because an input was missing, as opposed to choosing NORMAL. The returned
// decision is still valid and safe to apply.
var ErrInsufficientData = errors.New("controller: insufficient data")

// Config holds the engine thresholds. It is loaded once at startup and never
// changes during a run.
type Config struct {
	// SOC thresholds in percent
	MinBatterySOC     float64
	MaxBatterySOC     float64
	OptimalBatterySOC float64

	// HoursNeeded is the charging window length in hours.
	HoursNeeded int

	// WindowScoreThreshold is the maximum window score still worth acting on.
	WindowScoreThreshold float64
	// FavorablePricePosition is the relative price position at or below which
	// the current hour is cheap enough to charge immediately.
	FavorablePricePosition float64

	// Power shaping bounds in watts
	BasePowerMinW         int
	BasePowerMaxW         int
	MinChargePowerW       int
	EmergencyChargePowerW int
}

// DefaultConfig returns the thresholds used in the field.
func DefaultConfig() Config {
	return Config{
		MinBatterySOC:          20,
		MaxBatterySOC:          95,
		OptimalBatterySOC:      80,
		HoursNeeded:            4,
		WindowScoreThreshold:   0.4,
		FavorablePricePosition: 0.2,
		BasePowerMinW:          1500,
		BasePowerMaxW:          5000,
		MinChargePowerW:        1000,
		EmergencyChargePowerW:  1500,
	}
}

// Validate checks the config invariants. A violation is fatal at startup; the
// engine never re-checks at runtime.
func (c Config) Validate() error {
	if c.MinBatterySOC < 0 || c.MaxBatterySOC > 100 || c.MinBatterySOC >= c.MaxBatterySOC {
		return fmt.Errorf("invalid SOC bounds: min %.1f, max %.1f", c.MinBatterySOC, c.MaxBatterySOC)
	}
	if c.OptimalBatterySOC < c.MinBatterySOC || c.OptimalBatterySOC > c.MaxBatterySOC {
		return fmt.Errorf("optimal SOC %.1f outside [%.1f, %.1f]", c.OptimalBatterySOC, c.MinBatterySOC, c.MaxBatterySOC)
	}
	if c.HoursNeeded <= 0 {
		return fmt.Errorf("hours needed must be positive, got %d", c.HoursNeeded)
	}
	if c.WindowScoreThreshold <= 0 || c.WindowScoreThreshold > 1 {
		return fmt.Errorf("window score threshold %.2f outside (0, 1]", c.WindowScoreThreshold)
	}
	if c.FavorablePricePosition <= 0 || c.FavorablePricePosition > 1 {
		return fmt.Errorf("favorable price position %.2f outside (0, 1]", c.FavorablePricePosition)
	}
	if c.BasePowerMinW <= 0 || c.BasePowerMaxW < c.BasePowerMinW {
		return fmt.Errorf("invalid base power bounds: [%d, %d]", c.BasePowerMinW, c.BasePowerMaxW)
	}
	if c.MinChargePowerW <= 0 || c.EmergencyChargePowerW <= 0 {
		return fmt.Errorf("charge power floors must be positive")
	}
	return nil
}

// Engine makes the charging decision each cycle. It carries no state besides
// its config: every decision is a pure function of the inputs, so dropped
// cycles or stale caches can never wedge it in a history-dependent state, and
// it is safe to call concurrently.
type Engine struct {
	cfg Config
}

// NewEngine validates the config and returns an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	return &Engine{cfg: cfg}, nil
}

// Decide evaluates one control cycle and returns the mode and power the
// battery should take. The rules are checked in order and the first match
// wins.
//
// Decide always returns an applicable decision. When an input is missing it
// returns a NORMAL decision tagged ReasonInsufficientData together with an
// error wrapping ErrInsufficientData so the caller can report the cycle.
func (e *Engine) Decide(
	ctx context.Context,
	status *types.BatteryStatus,
	series prices.Series,
	carCharging bool,
	now time.Time,
) (types.ChargeDecision, error) {
	d := types.ChargeDecision{
		Timestamp: now,
		Mode:      types.BatteryModeNormal,
	}

	// Rule 1: never contend with the car charging on the same circuit.
	if carCharging {
		d.Mode = types.BatteryModePause
		d.Reason = types.ReasonCarCharging
		d.Description = "Car is charging. Battery paused."
		return d, nil
	}

	if status == nil {
		d.Reason = types.ReasonInsufficientData
		d.Description = "No battery status available. Keeping normal operation."
		return d, fmt.Errorf("no battery status: %w", ErrInsufficientData)
	}
	soc := status.StateOfChargePct

	slog.DebugContext(ctx, "deciding charge action",
		slog.Float64("soc", soc),
		slog.Int("batteryW", status.PowerW),
		slog.Int("pricePoints", len(series)),
		slog.Bool("carCharging", carCharging),
	)

	// Rule 2: battery full, stop forcing charge regardless of price.
	if soc >= e.cfg.MaxBatterySOC {
		d.Reason = types.ReasonBatteryFull
		d.Description = fmt.Sprintf("Battery at %.0f%% (>= %.0f%%). Normal operation.", soc, e.cfg.MaxBatterySOC)
		return d, nil
	}

	// Rule 3: below the backup floor, charge unconditionally at a fixed low
	// setpoint, whatever the price.
	if soc <= e.cfg.MinBatterySOC {
		d.Mode = types.BatteryModeCharge
		d.PowerW = e.cfg.EmergencyChargePowerW
		d.Reason = types.ReasonEmergencyCharge
		d.Description = fmt.Sprintf("Battery at %.0f%% (<= %.0f%%). Emergency charge at %dW.", soc, e.cfg.MinBatterySOC, d.PowerW)
		return d, nil
	}

	if len(series) == 0 {
		d.Reason = types.ReasonInsufficientData
		d.Description = "No price data available. Keeping normal operation."
		return d, fmt.Errorf("empty price series: %w", ErrInsufficientData)
	}

	// Rule 4: act the instant a cheap hour starts. The current price is ranked
	// within the full series, not only the future part.
	seriesMin, seriesMax := series.MinMax()
	if cur, ok := series.At(now); ok {
		pos := prices.RelativePosition(cur.Total, seriesMin, seriesMax)
		d.CurrentPrice = &cur

		slog.DebugContext(ctx, "current price position",
			slog.Float64("price", cur.Total),
			slog.Float64("position", pos),
		)

		if pos <= e.cfg.FavorablePricePosition && soc < e.cfg.OptimalBatterySOC {
			base := BasePower(soc, e.cfg.BasePowerMinW, e.cfg.BasePowerMaxW)
			d.Mode = types.BatteryModeCharge
			d.PowerW = PriceShapedPower(base, pos, SoCTaper(soc), e.cfg.MinChargePowerW)
			d.Reason = types.ReasonFavorablePrice
			d.Description = fmt.Sprintf("Current price %.3f is %.0f%% above minimum. Charging at %dW.", cur.Total, pos*100, d.PowerW)
			return d, nil
		}
	}

	// Rule 5: charge through the best upcoming window while it is active and
	// good enough.
	window, ok := prices.FindBestWindow(series, now, e.cfg.HoursNeeded)
	if !ok {
		d.Reason = types.ReasonInsufficientData
		d.Description = fmt.Sprintf("Fewer than %d future prices. Keeping normal operation.", e.cfg.HoursNeeded)
		return d, fmt.Errorf("no charging window: %w", ErrInsufficientData)
	}

	d.WindowStart = window.Start
	d.WindowEnd = window.End
	d.WindowScore = window.Score

	if window.Contains(now) && window.Score < e.cfg.WindowScoreThreshold {
		base := BasePower(soc, e.cfg.BasePowerMinW, e.cfg.BasePowerMaxW)
		d.Mode = types.BatteryModeCharge
		d.PowerW = PriceShapedPower(base, window.RelativePosition, SoCTaper(soc), e.cfg.MinChargePowerW)
		d.Reason = types.ReasonChargeWindow
		d.Description = fmt.Sprintf(
			"In charging window %s-%s (score %.2f). Charging at %dW.",
			window.Start.Format("15:04"), window.End.Format("15:04"), window.Score, d.PowerW,
		)
		return d, nil
	}

	// Rule 6: nothing to do, wait for better prices.
	d.Reason = types.ReasonWaitingForWindow
	d.Description = fmt.Sprintf(
		"Waiting for better prices. Best window %s-%s scores %.2f.",
		window.Start.Format("15:04"), window.End.Format("15:04"), window.Score,
	)
	return d, nil
}
