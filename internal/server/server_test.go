package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"meshmon/internal/alerts"
	"meshmon/internal/config"
	"meshmon/internal/handler"
	"meshmon/internal/logger"
	"meshmon/internal/messages"
	"meshmon/internal/models"
	"meshmon/internal/websocket"
)

// --- fakes ---

type stubNodes struct{}

func (stubNodes) GetNodesData() map[string]*models.NodeRecord                { return nil }
func (stubNodes) GetNodeMessages(nodeID string, limit int) []models.NodeText { return nil }
func (stubNodes) ForgetNode(nodeID string, deleteLogs bool) error            { return nil }

type stubStatus struct{}

func (stubStatus) GetConnectionStatus() models.ConnectionStatus {
	return models.ConnectionStatus{Connected: true}
}
func (stubStatus) GetStats() models.Stats                        { return models.Stats{} }
func (stubStatus) StatusReports() map[string]models.StatusReport { return nil }
func (stubStatus) LocalNodeRecord() *models.NodeRecord           { return nil }

type stubHelp struct{}

func (stubHelp) RequestHelp()                      {}
func (stubHelp) ClearHelp()                        {}
func (stubHelp) NeedsHelp() bool                   { return false }
func (stubHelp) CurrentStatus() (string, []string) { return "GREEN", nil }

type stubEngine struct{}

func (stubEngine) Rules() []alerts.RuleSetting { return nil }
func (stubEngine) SendTestAlert(rule, nodeID string, rec *models.NodeRecord) error {
	return nil
}

type stubEmail struct{}

func (stubEmail) Configured() bool      { return false }
func (stubEmail) TestConnection() error { return nil }

type stubGenerator struct{}

func (stubGenerator) Generate() (string, error) { return "reports/out.pdf", nil }

type stubSender struct{}

func (stubSender) SendText(destination, text string) error { return nil }
func (stubSender) LocalNodeID() string                     { return "!deadbeef" }

// --- helpers ---

func testLog(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: logger.FATAL, UseColors: false})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func testCfg(t *testing.T) *config.Manager {
	t.Helper()
	cfg, err := config.NewManager(filepath.Join(t.TempDir(), "app_config.json"), testLog(t))
	if err != nil {
		t.Fatalf("config.NewManager: %v", err)
	}
	return cfg
}

// newTestServer wires a Server with stub handlers and a running hub.
func newTestServer(t *testing.T, cfg *config.Manager) (*Server, *websocket.Hub) {
	t.Helper()
	log := testLog(t)

	store, err := messages.NewStore(filepath.Join(t.TempDir(), "messages.json"), log)
	if err != nil {
		t.Fatalf("messages.NewStore: %v", err)
	}
	svc := messages.NewService(store, stubSender{}, log)

	hub := websocket.NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := New(cfg, log)
	srv.RegisterHandlers(
		handler.NewNodeHandler(stubNodes{}, log),
		handler.NewMessageHandler(svc, log),
		handler.NewStatusHandler(stubStatus{}, stubHelp{}, log),
		handler.NewAlertHandler(stubEngine{}, stubEmail{}, stubNodes{}, log),
		handler.NewReportHandler(stubGenerator{}, log),
		handler.NewHealthHandler(stubStatus{}, nil, log),
		hub,
	)
	return srv, hub
}

func get(t *testing.T, srv *Server, url string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, httptest.NewRequest("GET", url, nil))
	return rr
}

// --- tests ---

func TestRouting_ApiPrefixRequired(t *testing.T) {
	srv, _ := newTestServer(t, testCfg(t))

	if rr := get(t, srv, "/api/v1/status"); rr.Code != http.StatusOK {
		t.Errorf("GET /api/v1/status = %d", rr.Code)
	}
	if rr := get(t, srv, "/status"); rr.Code != http.StatusNotFound {
		t.Errorf("GET /status without prefix = %d, want 404", rr.Code)
	}
}

func TestRouting_HealthOnRootRouter(t *testing.T) {
	srv, _ := newTestServer(t, testCfg(t))

	rr := get(t, srv, "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", rr.Code)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("health body not JSON: %v", err)
	}
	if got["status"] != "healthy" {
		t.Errorf("status = %v", got["status"])
	}
}

func TestMiddleware_CORSApplied(t *testing.T) {
	srv, _ := newTestServer(t, testCfg(t))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/nodes", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	srv.router.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestMiddleware_RateLimitOptIn(t *testing.T) {
	cfg := testCfg(t)
	if err := cfg.Set("server.enable_rate_limit", true); err != nil {
		t.Fatalf("cfg.Set: %v", err)
	}
	if err := cfg.Set("server.rate_limit_per_minute", 2); err != nil {
		t.Fatalf("cfg.Set: %v", err)
	}
	srv, _ := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		if rr := get(t, srv, "/api/v1/nodes"); rr.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i+1, rr.Code)
		}
	}
	if rr := get(t, srv, "/api/v1/nodes"); rr.Code != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want 429", rr.Code)
	}

	// Health probes never count against the limit.
	if rr := get(t, srv, "/health"); rr.Code != http.StatusOK {
		t.Errorf("health during throttle = %d", rr.Code)
	}
}

// TestWebSocket_UpgradeThroughMiddleware proves the logging wrapper
// still exposes the hijacker the upgrade needs.
func TestWebSocket_UpgradeThroughMiddleware(t *testing.T) {
	srv, hub := newTestServer(t, testCfg(t))

	ts := httptest.NewServer(srv.router)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Broadcast(websocket.EventAlert, map[string]string{"rule": "node_offline"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg websocket.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if msg.Type != websocket.EventAlert {
		t.Errorf("message type = %q", msg.Type)
	}
}
