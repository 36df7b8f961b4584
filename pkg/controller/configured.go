package controller

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/aseelert/sma-byd-tibber-automation/pkg/log"
	"github.com/levenlabs/go-lflag"
)

// Configured registers the engine threshold flags and returns the config that
// will be populated once flags are parsed. Validation happens in NewEngine,
// after lflag.Configure has run.
func Configured() *Config {
	def := DefaultConfig()
	cfg := &Config{}

	// lflag has no float flag type, so the fractional thresholds come in as
	// strings and parse inside Do
	minSOC := lflag.String("min-battery-soc", formatFloat(def.MinBatterySOC), "SOC floor in percent below which the battery always charges")
	maxSOC := lflag.String("max-battery-soc", formatFloat(def.MaxBatterySOC), "SOC ceiling in percent at which forced charging stops")
	optimalSOC := lflag.String("optimal-battery-soc", formatFloat(def.OptimalBatterySOC), "SOC target in percent for opportunistic charging")
	hoursNeeded := lflag.Int("charge-hours-needed", def.HoursNeeded, "Charging window length in hours")
	scoreThreshold := lflag.String("window-score-threshold", formatFloat(def.WindowScoreThreshold), "Maximum window score still worth charging in")
	favorablePos := lflag.String("favorable-price-position", formatFloat(def.FavorablePricePosition), "Relative price position at or below which to charge immediately")
	baseMin := lflag.Int("base-power-min-w", def.BasePowerMinW, "Lower bound of the base charging power in watts")
	baseMax := lflag.Int("base-power-max-w", def.BasePowerMaxW, "Upper bound of the base charging power in watts")
	minCharge := lflag.Int("min-charge-power-w", def.MinChargePowerW, "Floor for any shaped charging power in watts")
	emergency := lflag.Int("emergency-charge-power-w", def.EmergencyChargePowerW, "Fixed setpoint in watts for emergency charging below the SOC floor")

	lflag.Do(func() {
		cfg.MinBatterySOC = mustFloatFlag("min-battery-soc", *minSOC)
		cfg.MaxBatterySOC = mustFloatFlag("max-battery-soc", *maxSOC)
		cfg.OptimalBatterySOC = mustFloatFlag("optimal-battery-soc", *optimalSOC)
		cfg.HoursNeeded = *hoursNeeded
		cfg.WindowScoreThreshold = mustFloatFlag("window-score-threshold", *scoreThreshold)
		cfg.FavorablePricePosition = mustFloatFlag("favorable-price-position", *favorablePos)
		cfg.BasePowerMinW = *baseMin
		cfg.BasePowerMaxW = *baseMax
		cfg.MinChargePowerW = *minCharge
		cfg.EmergencyChargePowerW = *emergency
	})

	return cfg
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func mustFloatFlag(name, value string) float64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Ctx(context.Background()).Error("invalid flag value",
			slog.String("flag", name),
			slog.String("value", value),
			slog.Any("error", err))
		os.Exit(1)
	}
	return f
}
