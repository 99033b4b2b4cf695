package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/bcl1713/starlink-dashboard-sub004/pkg/logger"
)

// EventRecord is a stored route follower event
type EventRecord struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Route     string    `json:"route"`
	Timestamp time.Time `json:"timestamp"`
	Progress  float64   `json:"progress"`
}

// RecordEvent stores a route event
func (s *HistoryStorage) RecordEvent(ctx context.Context, e EventRecord) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO route_events (type, route, timestamp, progress)
		VALUES (?, ?, ?, ?)`,
		e.Type, e.Route, e.Timestamp.UTC().Format(timeLayout), e.Progress,
	)
	if err != nil {
		s.logger.Error("Failed to insert route event", logger.Error(err),
			logger.String("type", e.Type), logger.String("route", e.Route))
		return 0, fmt.Errorf("failed to insert route event: %w", err)
	}
	return result.LastInsertId()
}

// RecentEvents returns the newest events first, optionally for one route
func (s *HistoryStorage) RecentEvents(ctx context.Context, route string, limit int) ([]EventRecord, error) {
	query := `SELECT id, type, route, timestamp, progress FROM route_events`
	args := []any{}
	if route != "" {
		query += ` WHERE route = ?`
		args = append(args, route)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query route events: %w", err)
	}
	defer rows.Close()

	events := []EventRecord{}
	for rows.Next() {
		var e EventRecord
		var ts string
		if err := rows.Scan(&e.ID, &e.Type, &e.Route, &ts, &e.Progress); err != nil {
			return nil, fmt.Errorf("failed to scan route event: %w", err)
		}
		if e.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("failed to parse timestamp: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
