package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/follower"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/geo"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/telemetry"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/tracker"
	"github.com/bcl1713/starlink-dashboard-sub004/pkg/logger"
)

func newTestHistory(t *testing.T, interval time.Duration) *HistoryStorage {
	t.Helper()
	h, err := NewHistoryStorage(filepath.Join(t.TempDir(), "history.db"), interval, logger.NewNop())
	if err != nil {
		t.Fatalf("NewHistoryStorage: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestPositionsRoundTripNewestFirst(t *testing.T) {
	h := newTestHistory(t, 0)
	ctx := context.Background()
	base := time.Date(2025, 10, 27, 16, 45, 0, 0, time.UTC)

	// sub-second offsets must still sort correctly
	offsets := []time.Duration{0, 500 * time.Millisecond, time.Second, 1500 * time.Millisecond}
	for i, off := range offsets {
		_, err := h.RecordPosition(ctx, PositionRecord{
			Timestamp: base.Add(off), Route: "KADW-PHNL", Lat: float64(i), Lon: -float64(i),
			SpeedKnots: 480, SpeedValid: true, Departed: i > 1,
		})
		if err != nil {
			t.Fatalf("RecordPosition: %v", err)
		}
	}

	got, err := h.RecentPositions(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d positions, want 3", len(got))
	}
	if got[0].Lat != 3 || got[1].Lat != 2 || got[2].Lat != 1 {
		t.Errorf("order = %v %v %v, want 3 2 1", got[0].Lat, got[1].Lat, got[2].Lat)
	}
	if !got[0].Timestamp.Equal(base.Add(1500*time.Millisecond)) || !got[0].SpeedValid || !got[0].Departed {
		t.Errorf("newest = %+v", got[0])
	}
}

func TestEventsFilterByRoute(t *testing.T) {
	h := newTestHistory(t, 0)
	ctx := context.Background()
	base := time.Date(2025, 10, 27, 16, 45, 0, 0, time.UTC)

	events := []EventRecord{
		{Type: "activated", Route: "A-B", Timestamp: base},
		{Type: "completed", Route: "A-B", Timestamp: base.Add(time.Hour), Progress: 1},
		{Type: "activated", Route: "C-D", Timestamp: base.Add(2 * time.Hour)},
	}
	for _, e := range events {
		if _, err := h.RecordEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	all, err := h.RecentEvents(ctx, "", 10)
	if err != nil || len(all) != 3 || all[0].Route != "C-D" {
		t.Fatalf("all events = %+v, %v", all, err)
	}
	ab, err := h.RecentEvents(ctx, "A-B", 10)
	if err != nil || len(ab) != 2 || ab[0].Type != "completed" || ab[0].Progress != 1 {
		t.Fatalf("A-B events = %+v, %v", ab, err)
	}
}

func TestPublishDownsamplesPositions(t *testing.T) {
	h := newTestHistory(t, 10*time.Second)
	ctx := context.Background()
	base := time.Date(2025, 10, 27, 16, 45, 0, 0, time.UTC)

	for i := 0; i < 30; i++ {
		now := base.Add(time.Duration(i) * time.Second)
		u := tracker.Update{Snapshot: &tracker.Snapshot{
			Time:     now,
			Position: &geo.Point{Lat: 1, Lon: float64(i)},
			Speed:    telemetry.SpeedEstimate{Knots: 300, Valid: true},
		}}
		if i == 0 {
			u.Events = []follower.Event{{Type: follower.EventActivated, Route: "A-B", Time: now}}
		}
		if err := h.Publish(ctx, u); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	positions, err := h.RecentPositions(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 3 {
		t.Errorf("stored %d positions, want 3 (t=0, 10, 20)", len(positions))
	}
	events, err := h.RecentEvents(ctx, "A-B", 10)
	if err != nil || len(events) != 1 {
		t.Errorf("events = %+v, %v", events, err)
	}
}
