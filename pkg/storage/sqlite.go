package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aseelert/sma-byd-tibber-automation/pkg/prices"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/types"
	"github.com/levenlabs/go-lflag"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	timestamp DATETIME NOT NULL,
	mode TEXT NOT NULL,
	power_w INTEGER NOT NULL,
	reason TEXT NOT NULL,
	description TEXT NOT NULL,
	battery_soc REAL,
	battery_power_w INTEGER,
	grid_power_w INTEGER,
	solar_power_w INTEGER,
	price REAL,
	window_start DATETIME,
	window_end DATETIME,
	window_score REAL
);

CREATE TABLE IF NOT EXISTS prices (
	starts_at DATETIME PRIMARY KEY,
	total REAL NOT NULL,
	level TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_decisions_timestamp ON decisions(timestamp);
`

// DecisionRecord is one persisted control cycle: the decision plus the
// battery snapshot it was made from.
type DecisionRecord struct {
	Timestamp    time.Time  `json:"timestamp"`
	Mode         string     `json:"mode"`
	PowerW       int        `json:"powerW"`
	Reason       string     `json:"reason"`
	Description  string     `json:"description"`
	BatterySOC   *float64   `json:"batterySOC,omitempty"`
	BatteryW     *int       `json:"batteryW,omitempty"`
	GridW        *int       `json:"gridW,omitempty"`
	SolarW       *int       `json:"solarW,omitempty"`
	Price        *float64   `json:"price,omitempty"`
	WindowStart  *time.Time `json:"windowStart,omitempty"`
	WindowEnd    *time.Time `json:"windowEnd,omitempty"`
	WindowScore  float64    `json:"windowScore,omitempty"`
}

// SQLite persists decisions and price history to a local database file.
type SQLite struct {
	path string
	db   *sql.DB
}

// Configured sets up flags for the database and returns the instance.
// Open must be called before use.
func Configured() *SQLite {
	s := &SQLite{}
	path := lflag.String("db-path", "smartenergy.db", "Path to the SQLite database file")

	lflag.Do(func() {
		s.path = *path
	})

	return s
}

// Open opens the database file and applies the schema.
func (s *SQLite) Open() error {
	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveDecision records one control cycle. status may be nil when the
// inverter was unreachable.
func (s *SQLite) SaveDecision(ctx context.Context, d types.ChargeDecision, status *types.BatteryStatus) error {
	var soc, price *float64
	var batteryW, gridW, solarW *int
	if status != nil {
		soc = &status.StateOfChargePct
		batteryW = &status.PowerW
		gridW = &status.GridPowerW
		solarW = &status.SolarPowerW
	}
	if d.CurrentPrice != nil {
		price = &d.CurrentPrice.Total
	}

	var windowStart, windowEnd *time.Time
	if !d.WindowStart.IsZero() {
		windowStart = &d.WindowStart
		windowEnd = &d.WindowEnd
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (
			timestamp, mode, power_w, reason, description,
			battery_soc, battery_power_w, grid_power_w, solar_power_w,
			price, window_start, window_end, window_score
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Timestamp, d.Mode.String(), d.PowerW, string(d.Reason), d.Description,
		soc, batteryW, gridW, solarW,
		price, windowStart, windowEnd, d.WindowScore,
	)
	if err != nil {
		return fmt.Errorf("failed to save decision: %w", err)
	}
	return nil
}

// SavePrices upserts the series. Re-saving the same hours is a no-op, so the
// caller can write the full series every cycle.
func (s *SQLite) SavePrices(ctx context.Context, series prices.Series) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO prices (starts_at, total, level) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range series {
		if _, err := stmt.ExecContext(ctx, p.StartsAt.UTC(), p.Total, string(p.Level)); err != nil {
			return fmt.Errorf("failed to save price for %s: %w", p.StartsAt, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit prices: %w", err)
	}
	return nil
}

// RecentDecisions returns up to limit decisions, newest first.
func (s *SQLite) RecentDecisions(ctx context.Context, limit int) ([]DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, mode, power_w, reason, description,
			battery_soc, battery_power_w, grid_power_w, solar_power_w,
			price, window_start, window_end, window_score
		FROM decisions ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var records []DecisionRecord
	for rows.Next() {
		var r DecisionRecord
		if err := rows.Scan(
			&r.Timestamp, &r.Mode, &r.PowerW, &r.Reason, &r.Description,
			&r.BatterySOC, &r.BatteryW, &r.GridW, &r.SolarW,
			&r.Price, &r.WindowStart, &r.WindowEnd, &r.WindowScore,
		); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// PricesBetween returns stored prices with starts_at in [start, end),
// ascending.
func (s *SQLite) PricesBetween(ctx context.Context, start, end time.Time) (prices.Series, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT starts_at, total, level FROM prices
		WHERE starts_at >= ? AND starts_at < ? ORDER BY starts_at ASC`,
		start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	var series prices.Series
	for rows.Next() {
		var p types.PricePoint
		var level string
		if err := rows.Scan(&p.StartsAt, &p.Total, &level); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		p.Level = types.PriceLevel(level)
		series = append(series, p)
	}
	return series, rows.Err()
}
