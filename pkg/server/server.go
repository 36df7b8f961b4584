package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/controller"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/log"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/prices"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/storage"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/types"
	"github.com/levenlabs/go-lflag"
	"github.com/robfig/cron/v3"
)

// Inverter is the battery hardware the control loop reads and drives.
type Inverter interface {
	GetBatteryStatus(ctx context.Context) (*types.BatteryStatus, error)
	Apply(ctx context.Context, d types.ChargeDecision) error
}

// PriceSource delivers the hourly spot price series.
type PriceSource interface {
	GetPrices(ctx context.Context) (prices.Series, error)
}

// Charger reports whether the car is drawing power.
type Charger interface {
	CarIsCharging(ctx context.Context) (bool, error)
}

// Publisher mirrors state to MQTT. Implementations may be no-ops.
type Publisher interface {
	PublishStatus(ctx context.Context, status *types.BatteryStatus) error
	PublishDecision(ctx context.Context, d types.ChargeDecision) error
}

// Database persists decisions and prices for the history API.
type Database interface {
	SaveDecision(ctx context.Context, d types.ChargeDecision, status *types.BatteryStatus) error
	SavePrices(ctx context.Context, series prices.Series) error
	RecentDecisions(ctx context.Context, limit int) ([]storage.DecisionRecord, error)
	PricesBetween(ctx context.Context, start, end time.Time) (prices.Series, error)
}

// Server runs the periodic control loop and serves the HTTP status API.
type Server struct {
	inverter  Inverter
	priceSrc  PriceSource
	charger   Charger
	publisher Publisher
	db        Database
	engine    *controller.Engine

	listenAddr string
	interval   time.Duration
	httpServer *http.Server

	mu           sync.Mutex
	lastStatus   *types.BatteryStatus
	lastDecision *types.ChargeDecision
	lastCycle    time.Time
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(inv Inverter, p PriceSource, c Charger, pub Publisher, db Database, engine *controller.Engine) *Server {
	srv := &Server{
		inverter:  inv,
		priceSrc:  p,
		charger:   c,
		publisher: pub,
		db:        db,
		engine:    engine,
	}

	listenAddr := lflag.String("http-listen", ":8080", "HTTP server listen address")
	interval := lflag.Duration("control-interval", 5*time.Minute, "How often to run the control cycle")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.interval = *interval
	})

	return srv
}

// SetEngine replaces the decision engine. Used by main after flag parsing
// since the engine needs a validated config.
func (s *Server) SetEngine(engine *controller.Engine) {
	s.engine = engine
}

func (s *Server) setupHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/history/decisions", s.handleHistoryDecisions)
	mux.HandleFunc("GET /api/history/prices", s.handleHistoryPrices)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return gziphandler.GzipHandler(mux)
}

// Run starts the control loop and the HTTP server, blocking until the
// context is canceled or the server fails. The first cycle runs immediately;
// after that the cron schedule takes over.
func (s *Server) Run(ctx context.Context) error {
	s.runCycle(ctx)

	sched := cron.New()
	_, err := sched.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.runCycle(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule control cycle: %w", err)
	}
	sched.Start()
	defer func() {
		<-sched.Stop().Done()
	}()

	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server",
			slog.String("addr", s.listenAddr),
			slog.Duration("interval", s.interval),
		)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

// handleStatus returns the latest battery snapshot and decision.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	res := struct {
		Battery   *types.BatteryStatus  `json:"battery"`
		Decision  *types.ChargeDecision `json:"decision"`
		LastCycle time.Time             `json:"lastCycle"`
	}{
		Battery:   s.lastStatus,
		Decision:  s.lastDecision,
		LastCycle: s.lastCycle,
	}
	s.mu.Unlock()

	if res.Decision == nil {
		writeJSONError(w, "no cycle has completed yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleHistoryDecisions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v <= 0 || v > 1000 {
			writeJSONError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = v
	}

	records, err := s.db.RecentDecisions(r.Context(), limit)
	if err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to load decisions", slog.Any("error", err))
		writeJSONError(w, "failed to load decisions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		Decisions []storage.DecisionRecord `json:"decisions"`
	}{Decisions: records})
}

func (s *Server) handleHistoryPrices(w http.ResponseWriter, r *http.Request) {
	// default to yesterday through tomorrow
	now := time.Now()
	start := now.Add(-24 * time.Hour)
	end := now.Add(48 * time.Hour)

	if q := r.URL.Query().Get("start"); q != "" {
		t, err := time.Parse(time.RFC3339, q)
		if err != nil {
			writeJSONError(w, "invalid start", http.StatusBadRequest)
			return
		}
		start = t
	}
	if q := r.URL.Query().Get("end"); q != "" {
		t, err := time.Parse(time.RFC3339, q)
		if err != nil {
			writeJSONError(w, "invalid end", http.StatusBadRequest)
			return
		}
		end = t
	}

	series, err := s.db.PricesBetween(r.Context(), start, end)
	if err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to load prices", slog.Any("error", err))
		writeJSONError(w, "failed to load prices", http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		Prices prices.Series `json:"prices"`
	}{Prices: series})
}
