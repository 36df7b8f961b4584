package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aseelert/sma-byd-tibber-automation/pkg/controller"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/log"
)

// cycleTimeout bounds one control cycle so a hung device can never stall the
// schedule into overlapping runs.
const cycleTimeout = time.Minute

// runCycle executes one control cycle: gather inputs, decide, apply, record.
// Input failures degrade rather than abort; the engine still produces a safe
// decision from whatever is available.
func (s *Server) runCycle(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, cycleTimeout)
	defer cancel()
	now := time.Now()

	carCharging, err := s.charger.CarIsCharging(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to check charger", slog.Any("error", err))
		carCharging = false
	}

	status, statusErr := s.inverter.GetBatteryStatus(ctx)
	if statusErr != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to read battery status", slog.Any("error", statusErr))
		status = nil
	}

	series, err := s.priceSrc.GetPrices(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch prices", slog.Any("error", err))
		series = nil
	} else if s.db != nil {
		if err := s.db.SavePrices(ctx, series); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to save prices", slog.Any("error", err))
		}
	}

	decision, err := s.engine.Decide(ctx, status, series, carCharging, now)
	if err != nil {
		if errors.Is(err, controller.ErrInsufficientData) {
			log.Ctx(ctx).WarnContext(ctx, "decided with incomplete data", slog.Any("error", err))
		} else {
			log.Ctx(ctx).ErrorContext(ctx, "decision failed", slog.Any("error", err))
			return
		}
	}

	log.Ctx(ctx).InfoContext(ctx, "control cycle decided",
		slog.String("mode", decision.Mode.String()),
		slog.Int("powerW", decision.PowerW),
		slog.String("reason", string(decision.Reason)),
		slog.String("description", decision.Description),
	)

	// with the inverter unreachable there is no point trying to apply; it
	// keeps running in whatever mode it already has
	if statusErr == nil {
		if err := s.inverter.Apply(ctx, decision); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to apply decision", slog.Any("error", err))
		}
	}

	if s.db != nil {
		if err := s.db.SaveDecision(ctx, decision, status); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to save decision", slog.Any("error", err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishStatus(ctx, status); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to publish status", slog.Any("error", err))
		}
		if err := s.publisher.PublishDecision(ctx, decision); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to publish decision", slog.Any("error", err))
		}
	}

	s.mu.Lock()
	s.lastStatus = status
	s.lastDecision = &decision
	s.lastCycle = now
	s.mu.Unlock()
}
