package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wricardo/turnbased-match-server/game/engine"
)

func newTestClient(hub *Hub, sessionID string) *Client {
	return &Client{
		hub:       hub,
		sessionID: sessionID,
		send:      make(chan []byte, 256),
	}
}

func TestHubRegisterClient(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub, "test-session")

	hub.registerClient(client)

	if !hub.sessions["test-session"][client] {
		t.Error("Client was not registered in session")
	}
	if len(hub.sessions["test-session"]) != 1 {
		t.Errorf("Expected 1 client in session, got %d", len(hub.sessions["test-session"]))
	}
}

func TestHubUnregisterClient(t *testing.T) {
	hub := NewHub()
	client1 := newTestClient(hub, "s1")
	client2 := newTestClient(hub, "s1")

	hub.registerClient(client1)
	hub.registerClient(client2)
	hub.unregisterClient(client1)

	if len(hub.sessions["s1"]) != 1 || !hub.sessions["s1"][client2] {
		t.Errorf("Expected only client2 to remain, got %v", hub.sessions["s1"])
	}
	if _, ok := <-client1.send; ok {
		t.Error("Expected unregistered client's channel closed")
	}

	hub.unregisterClient(client2)
	if _, exists := hub.sessions["s1"]; exists {
		t.Error("Session should have been cleaned up after last client unregistered")
	}
}

func TestHubBroadcastNotice(t *testing.T) {
	hub := NewHub()
	watching := newTestClient(hub, "watched")
	other := newTestClient(hub, "other")
	hub.registerClient(watching)
	hub.registerClient(other)

	hub.broadcastNotice(&Notice{SessionID: "watched", Event: "state_committed", Fingerprint: "42", TurnNumber: 3})

	select {
	case data := <-watching.send:
		var notice Notice
		if err := json.Unmarshal(data, &notice); err != nil {
			t.Fatalf("Failed to unmarshal notice: %v", err)
		}
		if notice.Fingerprint != "42" || notice.TurnNumber != 3 {
			t.Errorf("Unexpected notice %+v", notice)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("No notice received within timeout")
	}

	select {
	case <-other.send:
		t.Error("Notice leaked to another session")
	default:
	}
}

func TestStateCommitted(t *testing.T) {
	hub := NewHub()
	sess := &engine.Session{ID: "s1"}
	st := engine.NewSessionState(2, []string{"a"})
	st.SetPublic(map[string]string{"phase": "play"}, false)
	st.IsEnded = true

	hub.StateCommitted(sess, st)

	select {
	case notice := <-hub.broadcast:
		if notice.SessionID != "s1" || notice.TurnNumber != 2 || !notice.IsEnded {
			t.Errorf("Unexpected notice %+v", notice)
		}
		if notice.Fingerprint != strconv.FormatUint(st.Fingerprint(), 10) {
			t.Errorf("Expected fingerprint as decimal string, got %s", notice.Fingerprint)
		}
	default:
		t.Fatal("Expected a queued notice")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastBuffer+10; i++ {
			hub.Publish(&Notice{SessionID: "s1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	if len(hub.broadcast) != broadcastBuffer {
		t.Errorf("Expected a full queue of %d, got %d", broadcastBuffer, len(hub.broadcast))
	}
}

func TestClientCountAfterStop(t *testing.T) {
	hub := NewHub()
	hub.registerClient(newTestClient(hub, "s1"))
	if got := hub.ClientCount("s1"); got != 1 {
		t.Fatalf("Expected 1 client before Run, got %d", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	counted := make(chan int, 1)
	go func() { counted <- hub.ClientCount("s1") }()
	select {
	case got := <-counted:
		if got != 0 {
			t.Errorf("Expected clients dropped on stop, got %d", got)
		}
	case <-time.After(time.Second):
		t.Fatal("ClientCount blocked after the hub stopped")
	}
}

func waitForClients(t *testing.T, hub *Hub, sessionID string, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount(sessionID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %d clients in %s, got %d", want, sessionID, hub.ClientCount(sessionID))
}

func TestWebSocketNotices(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, r.URL.Query().Get("session"))
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?session=ws-test"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	defer conn.Close()

	waitForClients(t, hub, "ws-test", 1)

	st := engine.NewSessionState(1, []string{"a", "b"})
	hub.StateCommitted(&engine.Session{ID: "ws-test"}, st)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read WebSocket message: %v", err)
	}
	var notice Notice
	if err := json.Unmarshal(data, &notice); err != nil {
		t.Fatalf("Failed to unmarshal notice: %v", err)
	}
	if notice.SessionID != "ws-test" || notice.Event != "state_committed" || notice.TurnNumber != 1 {
		t.Errorf("Unexpected notice %+v", notice)
	}

	conn.Close()
	waitForClients(t, hub, "ws-test", 0)
}
