package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	citynav "citynav"
	"citynav/internal/config"
	servernet "citynav/internal/net"
	"citynav/internal/telemetry"
	"citynav/internal/world"
	"citynav/logging"
	loggingSinks "citynav/logging/sinks"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	Config config.Config
	Logger telemetry.Logger
	// World overrides Config.Server.World. When both are empty a generated
	// city is served.
	World citynav.WorldSource
	// OnListen is called with the bound address once the listener is open.
	OnListen func(net.Addr)
}

// Run serves the navigation engine until ctx is canceled.
func Run(ctx context.Context, cfg Config) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}
	appCfg := cfg.Config

	var metrics telemetry.Metrics = telemetry.NopMetrics()
	var metricsHandler http.Handler
	if appCfg.Observability.EnableMetrics {
		prom := telemetry.NewPrometheusMetrics(appCfg.Observability.MetricsNamespace)
		metrics = prom
		metricsHandler = prom.Handler()
	}

	router, recent, err := newEventRouter(appCfg, metrics)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	source, fileSource, err := resolveWorld(cfg, telemetryLogger)
	if err != nil {
		return err
	}

	hubCfg := appCfg.HubConfig()
	hubCfg.Logger = telemetryLogger
	hubCfg.Publisher = router
	hubCfg.Metrics = metrics
	hub := citynav.NewHub(hubCfg, source)
	grid := hub.Rebuild()
	telemetryLogger.Printf("grid ready: %dx%d cells, %d blocked, %d/%d zones walkable",
		grid.Cols, grid.Rows, grid.BlockedCells, grid.WalkableZones, grid.Zones)

	stop := make(chan struct{})
	go hub.RunSimulation(stop)
	defer close(stop)

	handler := servernet.NewHTTPHandler(hub, servernet.HTTPHandlerConfig{
		Logger:        telemetryLogger,
		Publisher:     router,
		Observability: appCfg.Observability,
		Metrics:       metricsHandler,
		World:         fileSource,
		Events:        router,
		RecentEvents:  recent,
	})

	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", appCfg.Server.Addr, err)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	telemetryLogger.Printf("server listening on %s", listener.Addr())
	if cfg.OnListen != nil {
		cfg.OnListen(listener.Addr())
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(listener) }()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	telemetryLogger.Printf("server stopped")
	return nil
}

func newEventRouter(cfg config.Config, metrics telemetry.Metrics) (*logging.Router, *loggingSinks.MemorySink, error) {
	logConfig := cfg.LoggingConfig()
	logConfig.OnDrop = func(logging.EventType) {
		metrics.Add(telemetry.MetricEventsDropped, 1)
	}
	var sinks []logging.NamedSink
	var recent *loggingSinks.MemorySink
	if logConfig.HasSink(logging.SinkConsole) {
		sinks = append(sinks, logging.NamedSink{Name: logging.SinkConsole, Sink: loggingSinks.NewConsoleSink(os.Stdout)})
	}
	if logConfig.HasSink(logging.SinkJSON) {
		// Hide stdout's Close from the sink.
		var out io.Writer = struct{ io.Writer }{os.Stdout}
		if path := logConfig.JSON.FilePath; path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, nil, fmt.Errorf("open json event log: %w", err)
			}
			out = f
		}
		sinks = append(sinks, logging.NamedSink{Name: logging.SinkJSON, Sink: loggingSinks.NewJSON(out, logConfig.JSON.FlushInterval)})
	}
	if logConfig.HasSink(logging.SinkMemory) {
		recent = loggingSinks.NewBoundedMemorySink(logConfig.MemoryCapacity)
		sinks = append(sinks, logging.NamedSink{Name: logging.SinkMemory, Sink: recent})
	}
	router, err := logging.NewRouter(logging.SystemClock, logConfig, sinks)
	if err != nil {
		return nil, nil, err
	}
	return router, recent, nil
}

func resolveWorld(cfg Config, logger telemetry.Logger) (citynav.WorldSource, *world.FileSource, error) {
	if cfg.World != nil {
		if fs, ok := cfg.World.(*world.FileSource); ok {
			return fs, fs, nil
		}
		return cfg.World, nil, nil
	}
	if path := cfg.Config.Server.World; path != "" {
		fs, err := world.NewFileSource(path)
		if err != nil {
			return nil, nil, fmt.Errorf("load world: %w", err)
		}
		summary := world.Summarize(fs.Snapshot())
		logger.Printf("loaded world %s: %.0fx%.0f, %d buildings (%d invalid), %d roads",
			path, summary.Width, summary.Height, summary.Buildings, summary.InvalidBuildings, summary.Roads)
		return fs, fs, nil
	}
	generated := world.Generate(world.DefaultGenerateConfig())
	logger.Printf("no world configured, serving a generated %.0fx%.0f city", generated.Width, generated.Height)
	return citynav.StaticWorld(generated), nil, nil
}
