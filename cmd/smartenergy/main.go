package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aseelert/sma-byd-tibber-automation/pkg/controller"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/goe"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/log"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/mqtt"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/server"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/sma"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/storage"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/tibber"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/types"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	inv := sma.Configured()
	prc := tibber.Configured()
	chg := goe.Configured()
	pub := mqtt.Configured()
	db := storage.Configured()
	engineCfg := controller.Configured()

	// init server
	srv := server.Configured(inv, prc, chg, pub, db, nil)

	// one-shot overrides, mostly for commissioning and testing the inverter
	forceMode := lflag.String("battery-mode", "", "Apply a one-shot battery mode (normal/pause/charge/discharge) and exit")
	forcePower := lflag.Int("battery-power", 0, "Power in watts for --battery-mode charge/discharge")

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := inv.Validate(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid inverter config", "error", err)
		os.Exit(1)
	}
	if err := inv.Connect(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to connect to inverter", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := inv.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close inverter connection", "error", err)
		}
	}()

	// a forced mode talks to the inverter once and exits, skipping prices,
	// storage and the server entirely
	if *forceMode != "" {
		mode, err := types.ParseBatteryMode(*forceMode)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "invalid battery mode", "error", err)
			os.Exit(1)
		}
		d := types.ChargeDecision{Mode: mode, PowerW: *forcePower}
		if err := inv.Apply(ctx, d); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to apply battery mode", "error", err)
			os.Exit(1)
		}
		log.Ctx(ctx).InfoContext(ctx, "applied battery mode",
			slog.String("mode", mode.String()),
			slog.Int("powerW", *forcePower))
		return
	}

	engine, err := controller.NewEngine(*engineCfg)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid controller config", "error", err)
		os.Exit(1)
	}
	srv.SetEngine(engine)

	if err := prc.Validate(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid price source config", "error", err)
		os.Exit(1)
	}

	if err := db.Open(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	if err := pub.Connect(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to connect to mqtt", "error", err)
		os.Exit(1)
	}
	defer pub.Close()

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
