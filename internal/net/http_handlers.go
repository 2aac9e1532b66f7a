package net

import (
	"encoding/json"
	"log"
	nethttp "net/http"
	"net/http/pprof"
	"time"

	citynav "citynav"
	"citynav/internal/net/ws"
	"citynav/internal/observability"
	"citynav/internal/telemetry"
	"citynav/internal/world"
	"citynav/logging"
	"citynav/logging/sinks"
)

type HTTPHandlerConfig struct {
	Logger        telemetry.Logger
	Publisher     logging.Publisher
	Observability observability.Config
	// Metrics serves /metrics when Observability.EnableMetrics is set.
	Metrics nethttp.Handler
	// World enables POST /world/reload when non-nil.
	World *world.FileSource
	// Events and RecentEvents add router counters and the newest events to
	// /diagnostics when set.
	Events       *logging.Router
	RecentEvents *sinks.MemorySink
}

const diagnosticsRecentEvents = 20

func NewHTTPHandler(hub *citynav.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		payload := struct {
			Status       string               `json:"status"`
			ServerTime   int64                `json:"serverTime"`
			Engine       citynav.HubStats     `json:"engine"`
			Events       *logging.RouterStats `json:"events,omitempty"`
			RecentEvents []logging.Event      `json:"recentEvents,omitempty"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			Engine:     hub.Stats(),
		}
		if cfg.Events != nil {
			stats := cfg.Events.Stats()
			payload.Events = &stats
		}
		if cfg.RecentEvents != nil {
			payload.RecentEvents = cfg.RecentEvents.Recent(diagnosticsRecentEvents)
		}
		writeJSON(w, logger, payload)
	})

	mux.HandleFunc("/cache/clear", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		cleared := hub.ClearCache()
		writeJSON(w, logger, struct {
			Status  string `json:"status"`
			Cleared int    `json:"cleared"`
		}{Status: "ok", Cleared: cleared})
	})

	mux.HandleFunc("/world/reload", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		if cfg.World == nil {
			httpError(w, "world is not file backed", nethttp.StatusConflict)
			return
		}
		if err := cfg.World.Reload(); err != nil {
			logger.Printf("world reload from %s failed: %v", cfg.World.Path(), err)
			httpError(w, "reload failed: "+err.Error(), nethttp.StatusUnprocessableEntity)
			return
		}
		grid := hub.Rebuild()
		writeJSON(w, logger, struct {
			Status  string            `json:"status"`
			World   world.Summary     `json:"world"`
			Grid    citynav.GridStats `json:"grid"`
			Cleared int               `json:"cleared"`
		}{
			Status:  "ok",
			World:   world.Summarize(cfg.World.Snapshot()),
			Grid:    grid,
			Cleared: hub.ClearCache(),
		})
	})

	if cfg.Observability.EnableMetrics && cfg.Metrics != nil {
		mux.Handle("/metrics", cfg.Metrics)
	}

	if cfg.Observability.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	wsHandler := ws.NewHandler(hub, ws.HandlerConfig{
		Logger:    logger,
		Publisher: cfg.Publisher,
	})
	mux.HandleFunc("/ws", wsHandler.Handle)

	return mux
}

func writeJSON(w nethttp.ResponseWriter, logger telemetry.Logger, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("failed to encode response: %v", err)
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
