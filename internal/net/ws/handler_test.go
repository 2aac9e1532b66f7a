package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	citynav "citynav"
	"citynav/internal/geom"
	"citynav/internal/net/proto"
	"citynav/logging/network"
	"citynav/logging/sinks"
)

type testServer struct {
	hub    *citynav.Hub
	memory *sinks.MemorySink
	url    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	memory := sinks.NewMemorySink()
	cfg := citynav.DefaultHubConfig()
	cfg.Publisher = memory
	cfg.TickBudget = time.Hour
	world := citynav.StaticWorld{
		Width:     4000,
		Height:    3000,
		Buildings: []geom.Rect{{X: 400, Y: 400, Width: 240, Height: 240}},
	}
	hub := citynav.NewHub(cfg, world)
	hub.Advance(50 * time.Millisecond)

	handler := NewHandler(hub, HandlerConfig{Publisher: memory})
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(srv.Close)

	return &testServer{hub: hub, memory: memory, url: websocketURL(t, srv.URL)}
}

func (s *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		t.Fatalf("failed to open websocket connection: %v", err)
	}
	t.Cleanup(func() {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
		if resp != nil {
			resp.Body.Close()
		}
	})

	welcome := readFrame(t, conn)
	if welcome["type"] != proto.TypeWelcome {
		t.Fatalf("expected welcome frame, got %v", welcome)
	}
	return conn
}

func websocketURL(t *testing.T, baseURL string) string {
	t.Helper()

	parsed, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("failed to parse test server url: %v", err)
	}
	parsed.Scheme = "ws"
	parsed.Path = "/"
	return parsed.String()
}

func send(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("failed to send %s: %v", payload, err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("failed to decode frame %s: %v", payload, err)
	}
	return frame
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestShortTripAnsweredWithoutTick(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.dial(t)

	send(t, conn, `{"type":"path","id":"near","start":{"x":100,"y":100},"end":{"x":180,"y":120}}`)
	frame := readFrame(t, conn)
	if frame["type"] != proto.TypePath || frame["id"] != "near" {
		t.Fatalf("unexpected frame: %v", frame)
	}
	if frame["strategy"] != citynav.StrategyShortTrip {
		t.Fatalf("expected short trip strategy, got %v", frame["strategy"])
	}
	path, ok := frame["path"].([]any)
	if !ok || len(path) < 2 {
		t.Fatalf("expected a path, got %v", frame["path"])
	}
}

func TestQueuedPathDeliveredAfterAdvance(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.dial(t)

	send(t, conn, `{"type":"path","id":"commute","start":{"x":200,"y":500},"end":{"x":1200,"y":500}}`)
	waitFor(t, func() bool { return srv.hub.Stats().Outstanding == 1 }, "request to be queued")
	srv.hub.Advance(50 * time.Millisecond)

	frame := readFrame(t, conn)
	if frame["id"] != "commute" || frame["strategy"] != "hierarchical" {
		t.Fatalf("unexpected frame: %v", frame)
	}
	path := frame["path"].([]any)
	last := path[len(path)-1].(map[string]any)
	if last["x"] != 1200.0 || last["y"] != 500.0 {
		t.Fatalf("path does not end at the goal: %v", last)
	}
}

func TestWalkableAndFeasibleQueries(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.dial(t)

	send(t, conn, `{"type":"walkable","id":"w1","point":{"x":500,"y":500}}`)
	frame := readFrame(t, conn)
	if frame["type"] != proto.TypeWalkable || frame["walkable"] != false {
		t.Fatalf("expected blocked point, got %v", frame)
	}

	send(t, conn, `{"type":"feasible","id":"f1","start":{"x":100,"y":100},"end":{"x":3000,"y":2000}}`)
	frame = readFrame(t, conn)
	if frame["type"] != proto.TypeFeasible || frame["feasible"] != true {
		t.Fatalf("expected feasible route, got %v", frame)
	}
}

func TestCancelPendingRequest(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.dial(t)

	send(t, conn, `{"type":"path","id":"far","start":{"x":100,"y":100},"end":{"x":3000,"y":2500}}`)
	waitFor(t, func() bool { return srv.hub.Stats().Outstanding == 1 }, "request to be queued")
	send(t, conn, `{"type":"cancel","id":"far"}`)

	frame := readFrame(t, conn)
	if frame["id"] != "far" || frame["error"] == nil || frame["error"] == "" {
		t.Fatalf("expected canceled path frame, got %v", frame)
	}

	send(t, conn, `{"type":"cancel","id":"far"}`)
	frame = readFrame(t, conn)
	if frame["type"] != proto.TypeError || frame["reason"] != proto.ReasonUnknownRequest {
		t.Fatalf("expected unknown request error, got %v", frame)
	}
}

func TestMalformedMessagesAreRejected(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.dial(t)

	send(t, conn, `{"type":"path","id":"x","start":{"x":1,"y":1}}`)
	frame := readFrame(t, conn)
	if frame["type"] != proto.TypeError || frame["reason"] != proto.ReasonInvalidPoint || frame["id"] != "x" {
		t.Fatalf("unexpected frame: %v", frame)
	}

	send(t, conn, `not json`)
	frame = readFrame(t, conn)
	if frame["reason"] != proto.ReasonMalformed {
		t.Fatalf("unexpected frame: %v", frame)
	}

	if got := len(srv.memory.OfType(network.EventMessageRejected)); got != 2 {
		t.Fatalf("expected 2 rejection events, got %d", got)
	}
}

func TestHeartbeatEchoesClientTime(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.dial(t)

	send(t, conn, `{"type":"heartbeat","sentAt":1234}`)
	frame := readFrame(t, conn)
	if frame["type"] != proto.TypeHeartbeat || frame["clientTime"] != 1234.0 {
		t.Fatalf("unexpected heartbeat: %v", frame)
	}
}

func TestDisconnectCancelsOutstandingRequests(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.dial(t)
	if got := len(srv.memory.OfType(network.EventClientConnected)); got != 1 {
		t.Fatalf("expected connect event, got %d", got)
	}

	send(t, conn, `{"type":"path","id":"a","start":{"x":100,"y":100},"end":{"x":3000,"y":2500}}`)
	send(t, conn, `{"type":"path","id":"b","start":{"x":100,"y":200},"end":{"x":3000,"y":2600}}`)
	waitFor(t, func() bool { return srv.hub.Stats().Outstanding == 2 }, "requests to be queued")

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	waitFor(t, func() bool { return len(srv.memory.OfType(network.EventClientDisconnected)) == 1 }, "disconnect event")
	event := srv.memory.OfType(network.EventClientDisconnected)[0]
	payload := event.Payload.(network.ClientDisconnectedPayload)
	if payload.Pending != 2 {
		t.Fatalf("expected 2 canceled requests, got %+v", payload)
	}
	stats := srv.hub.Stats()
	if stats.Clients != 0 || stats.Outstanding != 0 || stats.QueueLength != 0 {
		t.Fatalf("expected hub to be empty after disconnect, got %+v", stats)
	}
}
