package net

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	citynav "citynav"
	"citynav/internal/geom"
	"citynav/internal/observability"
	"citynav/internal/telemetry"
	"citynav/internal/world"
	"citynav/logging"
	"citynav/logging/navigation"
	"citynav/logging/sinks"
)

func newTestHub(t *testing.T, source citynav.WorldSource) *citynav.Hub {
	t.Helper()
	cfg := citynav.DefaultHubConfig()
	cfg.TickBudget = time.Hour
	if source == nil {
		source = citynav.StaticWorld{
			Width:     2000,
			Height:    2000,
			Buildings: []geom.Rect{{X: 400, Y: 400, Width: 240, Height: 240}},
		}
	}
	hub := citynav.NewHub(cfg, source)
	hub.Advance(50 * time.Millisecond)
	return hub
}

func serve(handler http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestHealth(t *testing.T) {
	handler := NewHTTPHandler(newTestHub(t, nil), HTTPHandlerConfig{})
	resp := serve(handler, http.MethodGet, "/health")
	if resp.Code != http.StatusOK || resp.Body.String() != "ok" {
		t.Fatalf("unexpected health response: %d %q", resp.Code, resp.Body.String())
	}
}

func TestDiagnosticsReportsEngineStats(t *testing.T) {
	hub := newTestHub(t, nil)
	handler := NewHTTPHandler(hub, HTTPHandlerConfig{})

	resp := serve(handler, http.MethodGet, "/diagnostics")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}
	if contentType := resp.Header().Get("Content-Type"); contentType != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", contentType)
	}

	var payload struct {
		Status string `json:"status"`
		Engine struct {
			Ready    bool `json:"ready"`
			TickRate int  `json:"tickRate"`
			Grid     struct {
				Cols         int `json:"cols"`
				BlockedCells int `json:"blockedCells"`
			} `json:"grid"`
		} `json:"engine"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode diagnostics payload: %v", err)
	}
	if payload.Status != "ok" || !payload.Engine.Ready || payload.Engine.TickRate != 20 {
		t.Fatalf("unexpected diagnostics: %s", resp.Body.String())
	}
	if payload.Engine.Grid.Cols != 50 || payload.Engine.Grid.BlockedCells != 36 {
		t.Fatalf("unexpected grid stats: %+v", payload.Engine.Grid)
	}

	if resp := serve(handler, http.MethodPost, "/diagnostics"); resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", resp.Code)
	}
}

func TestDiagnosticsIncludesEventRouter(t *testing.T) {
	recent := sinks.NewBoundedMemorySink(5)
	router, err := logging.NewRouter(nil, logging.DefaultConfig(), []logging.NamedSink{{Name: logging.SinkMemory, Sink: recent}})
	if err != nil {
		t.Fatalf("failed to build router: %v", err)
	}
	cfg := citynav.DefaultHubConfig()
	cfg.TickBudget = time.Hour
	cfg.Publisher = router
	hub := citynav.NewHub(cfg, citynav.StaticWorld{Width: 2000, Height: 2000})
	hub.Advance(50 * time.Millisecond)
	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("failed to flush router: %v", err)
	}

	handler := NewHTTPHandler(hub, HTTPHandlerConfig{Events: router, RecentEvents: recent})
	resp := serve(handler, http.MethodGet, "/diagnostics")
	var payload struct {
		Events struct {
			EventsTotal uint64            `json:"eventsTotal"`
			ByCategory  map[string]uint64 `json:"byCategory"`
		} `json:"events"`
		RecentEvents []struct {
			Type string `json:"type"`
		} `json:"recentEvents"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode diagnostics payload: %v", err)
	}
	if payload.Events.EventsTotal == 0 || payload.Events.ByCategory[logging.CategoryNavigation] == 0 {
		t.Fatalf("expected navigation events in router stats, got %+v", payload.Events)
	}
	found := false
	for _, event := range payload.RecentEvents {
		if event.Type == string(navigation.EventGridRebuilt) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected grid rebuilt in recent events: %s", resp.Body.String())
	}
}

func TestClearCache(t *testing.T) {
	hub := newTestHub(t, nil)
	client := hub.Subscribe(func(citynav.Completion) {})
	if _, err := hub.RequestPath(client, "a", geom.Pt(100, 100), geom.Pt(150, 100)); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	handler := NewHTTPHandler(hub, HTTPHandlerConfig{})

	if resp := serve(handler, http.MethodGet, "/cache/clear"); resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", resp.Code)
	}
	resp := serve(handler, http.MethodPost, "/cache/clear")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"cleared":1`) {
		t.Fatalf("unexpected response: %d %s", resp.Code, resp.Body.String())
	}
}

func TestWorldReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "city.json")
	if err := os.WriteFile(path, []byte(`{"width": 1000, "height": 1000}`), 0o644); err != nil {
		t.Fatalf("write world: %v", err)
	}
	source, err := world.NewFileSource(path)
	if err != nil {
		t.Fatalf("load world: %v", err)
	}
	hub := newTestHub(t, source)
	handler := NewHTTPHandler(hub, HTTPHandlerConfig{World: source})

	if hub.IsPointWalkable(geom.Pt(500, 500)) != true {
		t.Fatalf("expected open ground before reload")
	}
	if err := os.WriteFile(path, []byte(`{"width": 1000, "height": 1000, "buildings": [{"x": 400, "y": 400, "width": 200, "height": 200}]}`), 0o644); err != nil {
		t.Fatalf("write world: %v", err)
	}

	resp := serve(handler, http.MethodPost, "/world/reload")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if hub.IsPointWalkable(geom.Pt(500, 500)) {
		t.Fatalf("expected reload to block the new building")
	}

	if err := os.WriteFile(path, []byte(`{`), 0o644); err != nil {
		t.Fatalf("write world: %v", err)
	}
	if resp := serve(handler, http.MethodPost, "/world/reload"); resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422 for a broken file, got %d", resp.Code)
	}

	static := NewHTTPHandler(newTestHub(t, nil), HTTPHandlerConfig{})
	if resp := serve(static, http.MethodPost, "/world/reload"); resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409 without a file source, got %d", resp.Code)
	}
}

func TestMetricsEndpointToggle(t *testing.T) {
	metrics := telemetry.NewPrometheusMetrics("citynav_test")
	metrics.Add(telemetry.MetricRequests, 3)

	enabled := NewHTTPHandler(newTestHub(t, nil), HTTPHandlerConfig{
		Observability: observability.Config{EnableMetrics: true},
		Metrics:       metrics.Handler(),
	})
	resp := serve(enabled, http.MethodGet, "/metrics")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "citynav_test_requests_total 3") {
		t.Fatalf("expected request counter in exposition, got:\n%s", resp.Body.String())
	}

	disabled := NewHTTPHandler(newTestHub(t, nil), HTTPHandlerConfig{Metrics: metrics.Handler()})
	if resp := serve(disabled, http.MethodGet, "/metrics"); resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 with metrics disabled, got %d", resp.Code)
	}
}

func TestPprofToggle(t *testing.T) {
	off := NewHTTPHandler(newTestHub(t, nil), HTTPHandlerConfig{})
	if resp := serve(off, http.MethodGet, "/debug/pprof/"); resp.Code != http.StatusNotFound {
		t.Fatalf("expected pprof to be hidden, got %d", resp.Code)
	}
	on := NewHTTPHandler(newTestHub(t, nil), HTTPHandlerConfig{Observability: observability.Config{EnablePprof: true}})
	if resp := serve(on, http.MethodGet, "/debug/pprof/"); resp.Code != http.StatusOK {
		t.Fatalf("expected pprof index, got %d", resp.Code)
	}
}

func TestWebsocketRoute(t *testing.T) {
	srv := httptest.NewServer(NewHTTPHandler(newTestHub(t, nil), HTTPHandlerConfig{}))
	t.Cleanup(srv.Close)

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			t.Fatalf("dial failed: %v (%s)", err, body)
		}
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var welcome map[string]any
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("failed to read welcome: %v", err)
	}
	if welcome["type"] != "welcome" {
		t.Fatalf("unexpected first frame: %v", welcome)
	}
}
