package presence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"claims-dialer/internal/agents"

	"github.com/gorilla/websocket"
)

type recordingSessions struct {
	mu        sync.Mutex
	connected map[string]bool
	beats     int
	statuses  []agents.Status
}

func newRecordingSessions() *recordingSessions {
	return &recordingSessions{connected: map[string]bool{}}
}

func (r *recordingSessions) Heartbeat(ctx context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beats++
	return nil
}

func (r *recordingSessions) SetStatus(ctx context.Context, agentID string, status agents.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if status == agents.StatusOnCall || !status.Valid() {
		return agents.ErrInvalidStatus
	}
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *recordingSessions) SetDeviceConnected(ctx context.Context, agentID string, connected bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected[agentID] = connected
	return nil
}

func (r *recordingSessions) isConnected(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected[agentID]
}

func startHub(t *testing.T) (*Hub, *recordingSessions, string) {
	t.Helper()
	sessions := newRecordingSessions()
	hub := NewHub(sessions, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, r.URL.Query().Get("agent"))
	}))
	t.Cleanup(srv.Close)
	return hub, sessions, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, agentID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?agent="+agentID, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(v); err != nil {
		t.Fatalf("read: %v", err)
	}
}

func TestHub_ConnectAndDisconnectToggleDevice(t *testing.T) {
	hub, sessions, url := startHub(t)
	conn := dial(t, url, "a1")

	waitFor(t, func() bool { return sessions.isConnected("a1") && hub.Connected("a1") })

	_ = conn.Close()
	waitFor(t, func() bool { return !sessions.isConnected("a1") && !hub.Connected("a1") })
}

func TestHub_HeartbeatAndStatusChange(t *testing.T) {
	_, sessions, url := startHub(t)
	conn := dial(t, url, "a1")
	defer conn.Close()

	_ = conn.WriteJSON(map[string]string{"type": TypeHeartbeat})
	var ack Ack
	readJSON(t, conn, &ack)
	if ack.Type != TypeAck || ack.For != TypeHeartbeat {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	_ = conn.WriteJSON(map[string]string{"type": TypeStatusChange, "status": "on_call"})
	var e ErrorMessage
	readJSON(t, conn, &e)
	if e.Type != TypeError {
		t.Fatalf("agents cannot set on_call themselves, got %+v", e)
	}

	_ = conn.WriteJSON(map[string]string{"type": TypeStatusChange, "status": "break"})
	readJSON(t, conn, &ack)

	sessions.mu.Lock()
	defer sessions.mu.Unlock()
	if sessions.beats != 1 || len(sessions.statuses) != 1 || sessions.statuses[0] != agents.StatusBreak {
		t.Fatalf("unexpected session writes: beats=%d statuses=%v", sessions.beats, sessions.statuses)
	}
}

func TestHub_ProbeAndCallAssign(t *testing.T) {
	hub, _, url := startHub(t)
	conn := dial(t, url, "a1")
	defer conn.Close()
	waitFor(t, func() bool { return hub.Connected("a1") })

	msgs := make(chan []byte, 4)
	go func() {
		// Reading drives the default ping handler, which answers with a pong.
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				close(msgs)
				return
			}
			msgs <- data
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := hub.Probe(ctx, "a1"); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if err := hub.Probe(ctx, "nobody"); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	if !hub.SendCallAssign(CallAssign{AgentID: "a1", CallID: "c1", CallerPhone: "+15550100"}) {
		t.Fatalf("expected call_assign to be queued")
	}
	select {
	case data := <-msgs:
		var got CallAssign
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Type != TypeCallAssign || got.CallID != "c1" {
			t.Fatalf("unexpected message: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no call_assign received")
	}
}

func TestHub_ProbeTimesOutWhenDeviceSilent(t *testing.T) {
	hub, _, url := startHub(t)
	conn := dial(t, url, "a1")
	defer conn.Close()
	waitFor(t, func() bool { return hub.Connected("a1") })

	// No reader on the client side, so no pong is ever sent.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := hub.Probe(ctx, "a1"); err != ErrProbeTimeout {
		t.Fatalf("expected ErrProbeTimeout, got %v", err)
	}
}
