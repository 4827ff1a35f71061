package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-iot/internal/device"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/logging"
)

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{Path: "/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
}

// testService starts a device hierarchy that is stopped when the test ends.
func testService(t *testing.T) *device.Service {
	t.Helper()
	h := device.NewHierarchy(device.ManagerConfig{DefaultTimeout: time.Second, MaxTimeout: 5 * time.Second}, nil)
	t.Cleanup(h.Stop)
	return device.NewService(h)
}

// testServer builds a Server over a real device service. The hub is
// registered as an event publisher and runs until the test ends.
func testServer(t *testing.T) (*Server, *device.Service) {
	t.Helper()

	svc := testService(t)
	log := testLogger()
	hub := NewHub(testWSConfig(), log)
	svc.AddPublisher(hub)

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:      testWSConfig(),
		Logger:  log,
		Devices: svc,
		Hub:     hub,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	return srv, svc
}

// do sends a request through the router and returns the recorder.
func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

type fakeCheck struct{ err error }

func (f fakeCheck) HealthCheck(context.Context) error { return f.err }

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{Devices: testService(t)}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without device service should fail")
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.Handler(), http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	resp := decode[map[string]any](t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

func TestHealth_Degraded(t *testing.T) {
	srv, _ := testServer(t)
	srv.checks = map[string]HealthChecker{
		"database": fakeCheck{},
		"mqtt":     fakeCheck{err: errors.New("not connected")},
	}

	w := do(t, srv.Handler(), http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	var resp struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if resp.Components["database"] != "ok" {
		t.Errorf("database = %q, want ok", resp.Components["database"])
	}
	if resp.Components["mqtt"] != "not connected" {
		t.Errorf("mqtt = %q, want %q", resp.Components["mqtt"], "not connected")
	}
}

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.Handler(), http.MethodGet, "/api/v1/health", "")
	if id := w.Header().Get("X-Request-ID"); len(id) != 36 {
		t.Errorf("X-Request-ID = %q, want a UUID", id)
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	srv, _ := testServer(t)
	srv.cfg.CORS.AllowedOrigins = []string{"https://panel.example"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty", got)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.Handler(), http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if e := decode[Error](t, w); e.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeNotFound)
	}
}

func TestBodySizeLimit(t *testing.T) {
	srv, _ := testServer(t)
	srv.cfg.MaxBodyBytes = 16

	body := `{"value": 21.5, "padding": "xxxxxxxxxxxxxxxxxxxxxxxx"}`
	w := do(t, srv.Handler(), http.MethodPut, "/api/v1/groups/floor-1/devices/t1/temperature", body)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestMetrics(t *testing.T) {
	srv, svc := testServer(t)
	ctx := context.Background()

	if err := svc.RecordTemperature(ctx, "floor-1", "t1", 20); err != nil {
		t.Fatalf("RecordTemperature() error = %v", err)
	}

	w := do(t, srv.Handler(), http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	m := decode[SystemMetrics](t, w)
	if m.Version != "test" {
		t.Errorf("version = %q, want test", m.Version)
	}
	if m.Devices.Recorded != 1 {
		t.Errorf("devices.recorded = %d, want 1", m.Devices.Recorded)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("runtime.goroutines = 0")
	}
	if m.SensorBridge != nil {
		t.Error("sensor_bridge should be omitted without a bridge")
	}
}

func TestServer_StartAndClose(t *testing.T) {
	srv, _ := testServer(t)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	addr := srv.Addr()
	resp, err := http.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if _, err := http.Get("http://" + addr + "/api/v1/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestServer_CloseWithoutStart(t *testing.T) {
	srv, _ := testServer(t)
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

// startServer runs srv on an ephemeral port until the test ends.
func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	srv, _ := testServer(t)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv, srv.Addr()
}

func connectWebSocket(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	//nolint:errcheck // Test deadline
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	return ws
}

func subscribe(t *testing.T, ws *websocket.Conn, channels ...string) {
	t.Helper()
	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read subscribe response: %v", err)
	}
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}
}

func TestWebSocket_Ping(t *testing.T) {
	_, addr := startServer(t)
	ws := connectWebSocket(t, addr)

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "ping-1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if resp.Type != WSTypePong {
		t.Errorf("response type = %s, want pong", resp.Type)
	}
	if resp.ID != "ping-1" {
		t.Errorf("response ID = %s, want ping-1", resp.ID)
	}
}

func TestWebSocket_ErrorFrames(t *testing.T) {
	tests := []struct {
		name    string
		message string
	}{
		{"invalid json", "not json"},
		{"unknown type", `{"type":"unknown_type","id":"x"}`},
		{"subscribe without channels", `{"type":"subscribe","id":"x","payload":{}}`},
	}

	_, addr := startServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := connectWebSocket(t, addr)
			if err := ws.WriteMessage(websocket.TextMessage, []byte(tt.message)); err != nil {
				t.Fatalf("write: %v", err)
			}
			var resp WSMessage
			if err := ws.ReadJSON(&resp); err != nil {
				t.Fatalf("read: %v", err)
			}
			if resp.Type != WSTypeError {
				t.Errorf("response type = %s, want error", resp.Type)
			}
		})
	}
}

func TestWebSocket_ReceivesDeviceEvents(t *testing.T) {
	srv, addr := startServer(t)
	ws := connectWebSocket(t, addr)
	subscribe(t, ws, device.EventTemperatureRecorded)

	w := do(t, srv.Handler(), http.MethodPut, "/api/v1/groups/floor-1/devices/t1/temperature", `{"value": 21.5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("record status = %d: %s", w.Code, w.Body.String())
	}

	var msg struct {
		Type      string       `json:"type"`
		EventType string       `json:"event_type"`
		Payload   device.Event `json:"payload"`
	}
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if msg.Type != WSTypeEvent || msg.EventType != device.EventTemperatureRecorded {
		t.Fatalf("frame = %+v", msg)
	}
	if msg.Payload.GroupID != "floor-1" || msg.Payload.DeviceID != "t1" {
		t.Errorf("payload ids = %s/%s, want floor-1/t1", msg.Payload.GroupID, msg.Payload.DeviceID)
	}
	if msg.Payload.Value == nil || *msg.Payload.Value != 21.5 {
		t.Errorf("payload value = %v, want 21.5", msg.Payload.Value)
	}
}

func TestWebSocket_Unsubscribe(t *testing.T) {
	srv, addr := startServer(t)
	ws := connectWebSocket(t, addr)
	subscribe(t, ws, "test.channel", "other.channel")

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "unsub-1",
		Payload: WSSubscribePayload{Channels: []string{"test.channel"}},
	}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read unsubscribe response: %v", err)
	}
	if resp.Type != WSTypeResponse {
		t.Fatalf("unsubscribe response type = %s", resp.Type)
	}

	srv.Hub().Broadcast("test.channel", "dropped")
	srv.Hub().Broadcast("other.channel", "kept")

	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if resp.EventType != "other.channel" {
		t.Errorf("event_type = %q, want other.channel", resp.EventType)
	}
}
