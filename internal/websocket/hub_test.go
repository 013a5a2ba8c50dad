package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"meshmon/internal/logger"
)

func testLog(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: logger.FATAL, UseColors: false})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func runHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(testLog(t))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// --- hub mechanics ---

func TestBroadcast_NeverBlocksWithoutRun(t *testing.T) {
	h := NewHub(testLog(t))

	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastDepth*3; i++ {
			h.Broadcast(EventNodeUpdated, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked with no hub goroutine running")
	}
}

func TestHub_FansOutToRegisteredClients(t *testing.T) {
	h := runHub(t)

	c1 := &Client{hub: h, send: make(chan Message, 4)}
	c2 := &Client{hub: h, send: make(chan Message, 4)}
	h.register <- c1
	h.register <- c2
	waitFor(t, func() bool { return h.ClientCount() == 2 }, "both clients registered")

	h.Broadcast(EventAlert, map[string]string{"rule": "node_offline"})

	for i, c := range []*Client{c1, c2} {
		select {
		case msg := <-c.send:
			if msg.Type != EventAlert {
				t.Errorf("client %d got type %q", i+1, msg.Type)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("client %d never received the broadcast", i+1)
		}
	}
}

func TestHub_DropsStuckClient(t *testing.T) {
	h := runHub(t)

	stuck := &Client{hub: h, send: make(chan Message)}
	h.register <- stuck
	waitFor(t, func() bool { return h.ClientCount() == 1 }, "client registered")

	// Nobody drains stuck.send, so the fan-out must evict it.
	h.Broadcast(EventNodeUpdated, nil)
	waitFor(t, func() bool { return h.ClientCount() == 0 }, "stuck client evicted")
}

func TestHub_Unregister(t *testing.T) {
	h := runHub(t)

	c := &Client{hub: h, send: make(chan Message, 1)}
	h.register <- c
	waitFor(t, func() bool { return h.ClientCount() == 1 }, "client registered")

	h.unregister <- c
	waitFor(t, func() bool { return h.ClientCount() == 0 }, "client removed")

	if _, open := <-c.send; open {
		t.Error("send channel left open after unregister")
	}
}

// --- end to end over a real connection ---

func TestServeWs_DeliversBroadcasts(t *testing.T) {
	h := runHub(t)
	log := testLog(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(h, w, r, log)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return h.ClientCount() == 1 }, "client attached to hub")

	h.Broadcast(EventConnection, map[string]bool{"connected": true})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != EventConnection {
		t.Errorf("type = %q, want %q", msg.Type, EventConnection)
	}
	payload, ok := msg.Payload.(map[string]interface{})
	if !ok || payload["connected"] != true {
		t.Errorf("payload = %#v", msg.Payload)
	}
}
