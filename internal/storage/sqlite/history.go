package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/tracker"
	"github.com/bcl1713/starlink-dashboard-sub004/pkg/logger"
)

// timeLayout is fixed width so text ordering matches time ordering
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// PositionRecord is one stored position fix
type PositionRecord struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Route      string    `json:"route,omitempty"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Heading    float64   `json:"heading"`
	Progress   float64   `json:"progress"`
	SpeedKnots float64   `json:"speed_knots"`
	SpeedValid bool      `json:"speed_valid"`
	Departed   bool      `json:"departed"`
}

// HistoryStorage keeps a downsampled position track and the route event log
type HistoryStorage struct {
	db          *sql.DB
	logger      *logger.Logger
	minInterval time.Duration

	mu         sync.Mutex
	lastStored time.Time
}

// NewHistoryStorage opens (or creates) the history database. Positions
// closer together than minInterval are not stored.
func NewHistoryStorage(dbPath string, minInterval time.Duration, log *logger.Logger) (*HistoryStorage, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := initDatabase(db, storageLogger); err != nil {
		db.Close()
		return nil, err
	}

	return &HistoryStorage{
		db:          db,
		logger:      storageLogger,
		minInterval: minInterval,
	}, nil
}

// Close closes the database connection
func (s *HistoryStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func initDatabase(db *sql.DB, log *logger.Logger) error {
	log.Info("Initializing database schema")

	statements := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			route TEXT,
			lat REAL NOT NULL,
			lon REAL NOT NULL,
			heading REAL NOT NULL,
			progress REAL NOT NULL,
			speed_knots REAL NOT NULL,
			speed_valid INTEGER NOT NULL,
			departed INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_timestamp ON positions(timestamp)`,
		`CREATE TABLE IF NOT EXISTS route_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			route TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			progress REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_route_events_route_timestamp ON route_events(route, timestamp)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// RecordPosition stores a position fix
func (s *HistoryStorage) RecordPosition(ctx context.Context, p PositionRecord) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (timestamp, route, lat, lon, heading, progress, speed_knots, speed_valid, departed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Timestamp.UTC().Format(timeLayout),
		p.Route, p.Lat, p.Lon, p.Heading, p.Progress, p.SpeedKnots,
		boolToInt(p.SpeedValid), boolToInt(p.Departed),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert position: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// RecentPositions returns the newest positions first
func (s *HistoryStorage) RecentPositions(ctx context.Context, limit int) ([]PositionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, route, lat, lon, heading, progress, speed_knots, speed_valid, departed
		FROM positions
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	records := []PositionRecord{}
	for rows.Next() {
		var (
			p                    PositionRecord
			ts                   string
			route                sql.NullString
			speedValid, departed int
		)
		if err := rows.Scan(&p.ID, &ts, &route, &p.Lat, &p.Lon, &p.Heading, &p.Progress, &p.SpeedKnots, &speedValid, &departed); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		if p.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("failed to parse timestamp: %w", err)
		}
		p.Route = route.String
		p.SpeedValid = speedValid != 0
		p.Departed = departed != 0
		records = append(records, p)
	}
	return records, rows.Err()
}

func (s *HistoryStorage) Name() string { return "history" }

// Publish stores the update's events and, at most once per interval, its position
func (s *HistoryStorage) Publish(ctx context.Context, u tracker.Update) error {
	for _, ev := range u.Events {
		if _, err := s.RecordEvent(ctx, EventRecord{
			Type:      string(ev.Type),
			Route:     ev.Route,
			Timestamp: ev.Time,
			Progress:  ev.Progress,
		}); err != nil {
			return err
		}
	}

	snap := u.Snapshot
	if snap == nil || snap.Position == nil || !s.due(snap.Time) {
		return nil
	}
	_, err := s.RecordPosition(ctx, PositionRecord{
		Timestamp:  snap.Time,
		Route:      snap.RouteName,
		Lat:        snap.Position.Lat,
		Lon:        snap.Position.Lon,
		Heading:    snap.Heading,
		Progress:   snap.Progress,
		SpeedKnots: snap.Speed.Knots,
		SpeedValid: snap.Speed.Valid,
		Departed:   snap.Departed,
	})
	return err
}

func (s *HistoryStorage) due(t time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastStored.IsZero() && t.Sub(s.lastStored) < s.minInterval {
		return false
	}
	s.lastStored = t
	return true
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
