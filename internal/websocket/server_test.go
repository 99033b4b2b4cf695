package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/eta"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/follower"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/tracker"
	"github.com/bcl1713/starlink-dashboard-sub004/pkg/logger"
)

type fixedSnapshot struct{ snap *tracker.Snapshot }

func (f fixedSnapshot) Snapshot() *tracker.Snapshot { return f.snap }

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(s.HandleConnection))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(5 * time.Second)
	for s.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return msg
}

func TestPublishBroadcastsUpdate(t *testing.T) {
	s := NewServer(logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	conn := dial(t, s)

	u := tracker.Update{
		Snapshot: &tracker.Snapshot{RouteName: "KADW-PHNL", Progress: 0.5, State: follower.Following},
		ETAs:     []eta.Result{{TargetID: "wp-1", Name: "PHNL", ETASeconds: -1, Mode: eta.ModeIndeterminate}},
		Summary:  eta.Summary{Count: 1, NearestETA: -1},
		Events:   []follower.Event{{Type: follower.EventCompleted, Route: "KADW-PHNL"}},
	}
	if err := s.Publish(context.Background(), u); err != nil {
		t.Fatal(err)
	}

	want := []string{MessageTypePositionUpdate, MessageTypeETAUpdate, MessageTypeRouteEvent}
	for _, typ := range want {
		msg := readMessage(t, conn)
		if msg.Type != typ {
			t.Fatalf("message type = %q, want %q", msg.Type, typ)
		}
		if typ == MessageTypePositionUpdate {
			snap, _ := msg.Data["snapshot"].(map[string]any)
			if snap["route_name"] != "KADW-PHNL" || snap["state"] != "following" {
				t.Errorf("snapshot payload = %v", snap)
			}
		}
	}
}

func TestSnapshotRequest(t *testing.T) {
	s := NewServer(logger.NewNop())
	s.SetMessageHandler(SnapshotResponder{Source: fixedSnapshot{&tracker.Snapshot{Progress: 0.75}}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	conn := dial(t, s)
	if err := conn.WriteJSON(Message{Type: MessageTypeSnapshotRequest}); err != nil {
		t.Fatal(err)
	}

	msg := readMessage(t, conn)
	if msg.Type != MessageTypePositionUpdate {
		t.Fatalf("type = %q", msg.Type)
	}
	snap, _ := msg.Data["snapshot"].(map[string]any)
	if snap["progress"] != 0.75 {
		t.Errorf("progress = %v, want 0.75", snap["progress"])
	}
}

func TestBroadcastNeverBlocks(t *testing.T) {
	s := NewServer(logger.NewNop())
	// hub not running: the queue fills and further messages are dropped
	sent := 0
	for i := 0; i < 100; i++ {
		if s.Broadcast(&Message{Type: MessageTypePositionUpdate}) {
			sent++
		}
	}
	if sent != 64 {
		t.Errorf("queued %d messages, want 64", sent)
	}
}
