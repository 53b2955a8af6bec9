// Package storage persists calibration snapshots and forecast runs in SQLite.
//
// Snapshots are stored as JSON documents keyed by id, with the columns needed
// for ordering and lookup kept alongside. Old calibrations are rotated out so
// the database keeps only the most recent ones.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rewired-gh/parkcast/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS calibrations (
	id           TEXT PRIMARY KEY,
	created_at   INTEGER NOT NULL,
	record_count INTEGER NOT NULL,
	data         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calibrations_created ON calibrations(created_at);

CREATE TABLE IF NOT EXISTS forecast_runs (
	id             TEXT PRIMARY KEY,
	calibration_id TEXT NOT NULL,
	created_at     INTEGER NOT NULL,
	start_date     TEXT NOT NULL,
	horizon        INTEGER NOT NULL,
	mode           TEXT NOT NULL,
	data           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_forecast_runs_created ON forecast_runs(created_at);
`

// Storage is a SQLite-backed store. It is safe for concurrent use.
type Storage struct {
	db              *sql.DB
	maxCalibrations int
}

// New opens (or creates) the database at path. ":memory:" gives a private
// in-memory database. maxCalibrations bounds how many snapshots are kept.
func New(path string, maxCalibrations int) (*Storage, error) {
	if maxCalibrations < 1 {
		return nil, fmt.Errorf("max calibrations must be at least 1, got %d", maxCalibrations)
	}
	if path == "" {
		path = filepath.Join(os.TempDir(), "parkcast", "parkcast.db")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// :memory: databases are private to one connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Storage{db: db, maxCalibrations: maxCalibrations}, nil
}

// Close releases the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// SaveCalibration stores a snapshot and rotates out the oldest beyond the limit.
func (s *Storage) SaveCalibration(c *models.Calibration) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid calibration: %w", err)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal calibration: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO calibrations (id, created_at, record_count, data) VALUES (?, ?, ?, ?)`,
		c.ID, c.CreatedAt.UnixNano(), c.RecordCount, string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save calibration: %w", err)
	}
	return s.RotateCalibrations()
}

// GetCalibration retrieves a snapshot by ID.
func (s *Storage) GetCalibration(id string) (*models.Calibration, error) {
	row := s.db.QueryRow(`SELECT data FROM calibrations WHERE id = ?`, id)
	c, err := scanCalibration(row)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("calibration %s: %w", id, ErrNotFound)
	}
	return c, err
}

// LatestCalibration returns the most recently created snapshot.
func (s *Storage) LatestCalibration() (*models.Calibration, error) {
	row := s.db.QueryRow(`SELECT data FROM calibrations ORDER BY created_at DESC, rowid DESC LIMIT 1`)
	c, err := scanCalibration(row)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("no calibration stored: %w", ErrNotFound)
	}
	return c, err
}

// ListCalibrations returns every stored snapshot, newest first.
func (s *Storage) ListCalibrations() ([]*models.Calibration, error) {
	rows, err := s.db.Query(`SELECT data FROM calibrations ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list calibrations: %w", err)
	}
	defer rows.Close()

	var out []*models.Calibration
	for rows.Next() {
		c, err := scanCalibration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RotateCalibrations removes the oldest snapshots beyond the configured limit.
// Forecast runs that reference a removed snapshot are kept.
func (s *Storage) RotateCalibrations() error {
	_, err := s.db.Exec(`
		DELETE FROM calibrations WHERE id NOT IN (
			SELECT id FROM calibrations ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`, s.maxCalibrations)
	if err != nil {
		return fmt.Errorf("failed to rotate calibrations: %w", err)
	}
	return nil
}

// SaveForecastRun stores a forecast run.
func (s *Storage) SaveForecastRun(run *models.ForecastRun) error {
	if run.ID == "" {
		return errors.New("forecast run ID must not be empty")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal forecast run: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO forecast_runs (id, calibration_id, created_at, start_date, horizon, mode, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CalibrationID, run.CreatedAt.UnixNano(), run.Start.Format(models.DateLayout),
		run.Horizon, string(run.Mode), string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save forecast run: %w", err)
	}
	return nil
}

// GetForecastRun retrieves a forecast run by ID.
func (s *Storage) GetForecastRun(id string) (*models.ForecastRun, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM forecast_runs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("forecast run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load forecast run: %w", err)
	}

	var run models.ForecastRun
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal forecast run: %w", err)
	}
	return &run, nil
}

// RunSummary is a forecast run without its rows.
type RunSummary struct {
	ID            string      `json:"id"`
	CalibrationID string      `json:"calibration_id"`
	CreatedAt     time.Time   `json:"created_at"`
	Start         string      `json:"start"`
	Horizon       int         `json:"horizon"`
	Mode          models.Mode `json:"mode"`
}

// ListForecastRuns returns up to limit runs, newest first. A limit of zero or
// less returns every run.
func (s *Storage) ListForecastRuns(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT id, calibration_id, created_at, start_date, horizon, mode
		 FROM forecast_runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list forecast runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var created int64
		var mode string
		if err := rows.Scan(&r.ID, &r.CalibrationID, &created, &r.Start, &r.Horizon, &mode); err != nil {
			return nil, fmt.Errorf("failed to scan forecast run: %w", err)
		}
		r.CreatedAt = time.Unix(0, created).UTC()
		r.Mode = models.Mode(mode)
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCalibration(row scanner) (*models.Calibration, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load calibration: %w", err)
	}

	var c models.Calibration
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal calibration: %w", err)
	}
	return &c, nil
}
