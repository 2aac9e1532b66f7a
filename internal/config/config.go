// Package config loads server configuration from JSON or YAML files and
// CITYNAV_* environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	citynav "citynav"
	"citynav/internal/observability"
	"citynav/logging"
	"citynav/logging/navigation"
	"citynav/logging/network"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CITYNAV_"

const (
	maxFileSize             = 1 * 1024 * 1024
	defaultThrottleInterval = time.Second
)

// Grid configures rasterization and the zone index.
type Grid struct {
	CellSize             float64  `json:"cellSize" yaml:"cellSize" jsonschema:"minimum=1"`
	ZoneSize             float64  `json:"zoneSize" yaml:"zoneSize" jsonschema:"minimum=1"`
	ZoneBlockedThreshold float64  `json:"zoneBlockedThreshold" yaml:"zoneBlockedThreshold" jsonschema:"minimum=0,maximum=1"`
	WaypointStride       float64  `json:"waypointStride,omitempty" yaml:"waypointStride,omitempty"`
	UnwalkablePenalty    float64  `json:"unwalkablePenalty" yaml:"unwalkablePenalty" jsonschema:"minimum=1"`
	RebuildInterval      string   `json:"rebuildInterval" yaml:"rebuildInterval"` // duration string like "5s"
}

// Routing configures the planners.
type Routing struct {
	StepSize          float64 `json:"stepSize" yaml:"stepSize"`
	SampleSpacing     float64 `json:"sampleSpacing" yaml:"sampleSpacing"`
	MaxExpansions     int     `json:"maxExpansions,omitempty" yaml:"maxExpansions,omitempty"`
	ShortTripDistance float64 `json:"shortTripDistance" yaml:"shortTripDistance"`
}

// Queue configures request scheduling.
type Queue struct {
	MaxPathsPerFrame     int     `json:"maxPathsPerFrame" yaml:"maxPathsPerFrame" jsonschema:"minimum=1"`
	AgeBoostPerSecond    float64 `json:"ageBoostPerSecond" yaml:"ageBoostPerSecond"`
	BacklogWarnThreshold int     `json:"backlogWarnThreshold" yaml:"backlogWarnThreshold"`
}

// Cache configures the path cache.
type Cache struct {
	TTL             string `json:"ttl" yaml:"ttl"`
	MaxEntries      int    `json:"maxEntries" yaml:"maxEntries"`
	EvictBatch      int    `json:"evictBatch" yaml:"evictBatch"`
	CleanupInterval string `json:"cleanupInterval" yaml:"cleanupInterval"`
}

// Server configures the network surface and tick loop.
type Server struct {
	Addr       string `json:"addr" yaml:"addr"`
	TickRate   int    `json:"tickRate" yaml:"tickRate" jsonschema:"minimum=1"`
	TickBudget string `json:"tickBudget,omitempty" yaml:"tickBudget,omitempty"`
	World      string `json:"world,omitempty" yaml:"world,omitempty"`
}

// Logging selects event sinks.
type Logging struct {
	Sinks           []string `json:"sinks" yaml:"sinks"`
	MinimumSeverity string   `json:"minimumSeverity" yaml:"minimumSeverity" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	JSONFile        string   `json:"jsonFile,omitempty" yaml:"jsonFile,omitempty"`
	BufferSize      int      `json:"bufferSize" yaml:"bufferSize"`
	// ConsoleSeverity raises the console floor above MinimumSeverity so the
	// JSON sink can keep more detail than the terminal.
	ConsoleSeverity string `json:"consoleSeverity,omitempty" yaml:"consoleSeverity,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	// ThrottleInterval caps per-request events such as exhausted searches and
	// rejected messages to one per interval each.
	ThrottleInterval string `json:"throttleInterval,omitempty" yaml:"throttleInterval,omitempty"`
	// RecentEvents is how many events the memory sink keeps for diagnostics.
	RecentEvents int `json:"recentEvents" yaml:"recentEvents" jsonschema:"minimum=0"`
}

// Config is the root configuration document.
type Config struct {
	Grid          Grid                 `json:"grid" yaml:"grid"`
	Routing       Routing              `json:"routing" yaml:"routing"`
	Queue         Queue                `json:"queue" yaml:"queue"`
	Cache         Cache                `json:"cache" yaml:"cache"`
	Server        Server               `json:"server" yaml:"server"`
	Logging       Logging              `json:"logging" yaml:"logging"`
	Observability observability.Config `json:"observability" yaml:"observability"`
}

// Default mirrors citynav.DefaultConfig and DefaultHubConfig.
func Default() Config {
	engine := citynav.DefaultConfig()
	hub := citynav.DefaultHubConfig()
	logCfg := logging.DefaultConfig()
	return Config{
		Grid: Grid{
			CellSize:             engine.CellSize,
			ZoneSize:             engine.ZoneSize,
			ZoneBlockedThreshold: engine.ZoneBlockedThreshold,
			WaypointStride:       engine.WaypointStride,
			UnwalkablePenalty:    engine.UnwalkablePenalty,
			RebuildInterval:      engine.RebuildInterval.String(),
		},
		Routing: Routing{
			StepSize:          engine.StepSize,
			SampleSpacing:     engine.SampleSpacing,
			MaxExpansions:     engine.MaxExpansions,
			ShortTripDistance: engine.ShortTripDistance,
		},
		Queue: Queue{
			MaxPathsPerFrame:     engine.MaxPathsPerFrame,
			AgeBoostPerSecond:    engine.AgeBoostPerSecond,
			BacklogWarnThreshold: engine.BacklogWarnThreshold,
		},
		Cache: Cache{
			TTL:             engine.CacheTTL.String(),
			MaxEntries:      engine.MaxCacheEntries,
			EvictBatch:      engine.CacheEvictBatch,
			CleanupInterval: engine.CleanupInterval.String(),
		},
		Server: Server{
			Addr:     ":8080",
			TickRate: hub.TickRate,
		},
		Logging: Logging{
			Sinks:            []string{logging.SinkConsole, logging.SinkMemory},
			MinimumSeverity:  logCfg.MinimumSeverity.String(),
			BufferSize:       logCfg.BufferSize,
			ThrottleInterval: defaultThrottleInterval.String(),
			RecentEvents:     logCfg.MemoryCapacity,
		},
		Observability: observability.DefaultConfig(),
	}
}

// Load reads a .json, .yaml or .yml file over the defaults. Omitted fields
// keep their default values.
func Load(path string) (Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return Config{}, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return Config{}, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if ext == ".json" {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", cleanPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate reports every out-of-range value.
func (c Config) Validate() error {
	var errs []error
	if !(c.Grid.CellSize > 0) {
		errs = append(errs, fmt.Errorf("grid.cellSize must be positive, got %v", c.Grid.CellSize))
	}
	if !(c.Grid.ZoneSize > 0) {
		errs = append(errs, fmt.Errorf("grid.zoneSize must be positive, got %v", c.Grid.ZoneSize))
	}
	if c.Grid.ZoneBlockedThreshold < 0 || c.Grid.ZoneBlockedThreshold > 1 {
		errs = append(errs, fmt.Errorf("grid.zoneBlockedThreshold must be between 0 and 1, got %v", c.Grid.ZoneBlockedThreshold))
	}
	if c.Grid.UnwalkablePenalty < 1 {
		errs = append(errs, fmt.Errorf("grid.unwalkablePenalty must be at least 1, got %v", c.Grid.UnwalkablePenalty))
	}
	if c.Routing.ShortTripDistance < 0 {
		errs = append(errs, fmt.Errorf("routing.shortTripDistance must not be negative, got %v", c.Routing.ShortTripDistance))
	}
	if c.Queue.MaxPathsPerFrame < 1 {
		errs = append(errs, fmt.Errorf("queue.maxPathsPerFrame must be at least 1, got %d", c.Queue.MaxPathsPerFrame))
	}
	if c.Queue.AgeBoostPerSecond < 0 {
		errs = append(errs, fmt.Errorf("queue.ageBoostPerSecond must not be negative, got %v", c.Queue.AgeBoostPerSecond))
	}
	durations := []struct {
		name     string
		raw      string
		optional bool
	}{
		{"grid.rebuildInterval", c.Grid.RebuildInterval, false},
		{"cache.ttl", c.Cache.TTL, false},
		{"cache.cleanupInterval", c.Cache.CleanupInterval, false},
		{"server.tickBudget", c.Server.TickBudget, true},
		{"logging.throttleInterval", c.Logging.ThrottleInterval, true},
	}
	for _, d := range durations {
		if d.optional && d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s %q: %w", d.name, d.raw, err))
			continue
		}
		if parsed <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.name, parsed))
		}
	}
	if c.Cache.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("cache.maxEntries must not be negative, got %d", c.Cache.MaxEntries))
	}
	if c.Server.TickRate < 1 {
		errs = append(errs, fmt.Errorf("server.tickRate must be at least 1, got %d", c.Server.TickRate))
	}
	if _, err := logging.ParseSeverity(c.Logging.MinimumSeverity); err != nil {
		errs = append(errs, fmt.Errorf("logging.minimumSeverity: %w", err))
	}
	if c.Logging.ConsoleSeverity != "" {
		if _, err := logging.ParseSeverity(c.Logging.ConsoleSeverity); err != nil {
			errs = append(errs, fmt.Errorf("logging.consoleSeverity: %w", err))
		}
	}
	if c.Logging.RecentEvents < 0 {
		errs = append(errs, fmt.Errorf("logging.recentEvents must not be negative, got %d", c.Logging.RecentEvents))
	}
	for _, sink := range c.Logging.Sinks {
		switch sink {
		case logging.SinkConsole, logging.SinkJSON, logging.SinkMemory:
		default:
			errs = append(errs, fmt.Errorf("logging.sinks: unknown sink %q", sink))
		}
	}
	return errors.Join(errs...)
}

// LookupFunc resolves an environment variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from CITYNAV_* variables. Values that fail to
// parse leave the field untouched and are reported as warnings.
func (c *Config) ApplyEnv(lookup LookupFunc) []string {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var warnings []string
	get := func(name string) (string, string, bool) {
		key := EnvPrefix + name
		raw, ok := lookup(key)
		raw = strings.TrimSpace(raw)
		return key, raw, ok && raw != ""
	}
	setFloat := func(name string, dst *float64) {
		key, raw, ok := get(name)
		if !ok {
			return
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("invalid %s=%q: %v", key, raw, err))
			return
		}
		*dst = value
	}
	setInt := func(name string, dst *int) {
		key, raw, ok := get(name)
		if !ok {
			return
		}
		value, err := strconv.Atoi(raw)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("invalid %s=%q: %v", key, raw, err))
			return
		}
		*dst = value
	}
	setBool := func(name string, dst *bool) {
		key, raw, ok := get(name)
		if !ok {
			return
		}
		value, err := strconv.ParseBool(raw)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("invalid %s=%q: %v", key, raw, err))
			return
		}
		*dst = value
	}
	setDuration := func(name string, dst *string) {
		key, raw, ok := get(name)
		if !ok {
			return
		}
		if _, err := time.ParseDuration(raw); err != nil {
			warnings = append(warnings, fmt.Sprintf("invalid %s=%q: %v", key, raw, err))
			return
		}
		*dst = raw
	}
	setString := func(name string, dst *string) {
		if _, raw, ok := get(name); ok {
			*dst = raw
		}
	}

	setFloat("CELL_SIZE", &c.Grid.CellSize)
	setFloat("ZONE_SIZE", &c.Grid.ZoneSize)
	setDuration("REBUILD_INTERVAL", &c.Grid.RebuildInterval)
	setFloat("SHORT_TRIP_DISTANCE", &c.Routing.ShortTripDistance)
	setInt("MAX_EXPANSIONS", &c.Routing.MaxExpansions)
	setInt("MAX_PATHS_PER_FRAME", &c.Queue.MaxPathsPerFrame)
	setFloat("AGE_BOOST_PER_SECOND", &c.Queue.AgeBoostPerSecond)
	setInt("BACKLOG_WARN_THRESHOLD", &c.Queue.BacklogWarnThreshold)
	setDuration("CACHE_TTL", &c.Cache.TTL)
	setInt("CACHE_MAX_ENTRIES", &c.Cache.MaxEntries)
	setString("ADDR", &c.Server.Addr)
	setInt("TICK_RATE", &c.Server.TickRate)
	setString("WORLD", &c.Server.World)
	setString("LOG_LEVEL", &c.Logging.MinimumSeverity)
	setString("CONSOLE_LOG_LEVEL", &c.Logging.ConsoleSeverity)
	setDuration("LOG_THROTTLE", &c.Logging.ThrottleInterval)
	if _, raw, ok := get("LOG_SINKS"); ok {
		var sinks []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				sinks = append(sinks, part)
			}
		}
		c.Logging.Sinks = sinks
	}
	setBool("ENABLE_METRICS", &c.Observability.EnableMetrics)
	setBool("ENABLE_PPROF", &c.Observability.EnablePprof)
	return warnings
}

// EngineConfig converts to the engine's tuning.
func (c Config) EngineConfig() citynav.Config {
	return citynav.Config{
		CellSize:             c.Grid.CellSize,
		ZoneSize:             c.Grid.ZoneSize,
		ZoneBlockedThreshold: c.Grid.ZoneBlockedThreshold,
		WaypointStride:       c.Grid.WaypointStride,
		UnwalkablePenalty:    c.Grid.UnwalkablePenalty,
		StepSize:             c.Routing.StepSize,
		SampleSpacing:        c.Routing.SampleSpacing,
		MaxExpansions:        c.Routing.MaxExpansions,
		ShortTripDistance:    c.Routing.ShortTripDistance,
		MaxPathsPerFrame:     c.Queue.MaxPathsPerFrame,
		AgeBoostPerSecond:    c.Queue.AgeBoostPerSecond,
		BacklogWarnThreshold: c.Queue.BacklogWarnThreshold,
		CacheTTL:             durationOr(c.Cache.TTL, 0),
		MaxCacheEntries:      c.Cache.MaxEntries,
		CacheEvictBatch:      c.Cache.EvictBatch,
		CleanupInterval:      durationOr(c.Cache.CleanupInterval, 0),
		RebuildInterval:      durationOr(c.Grid.RebuildInterval, 0),
	}
}

// HubConfig converts to the hub's settings. Logger, publisher and metrics are
// left for the caller to wire.
func (c Config) HubConfig() citynav.HubConfig {
	return citynav.HubConfig{
		Engine:     c.EngineConfig(),
		TickRate:   c.Server.TickRate,
		TickBudget: durationOr(c.Server.TickBudget, 0),
	}
}

// LoggingConfig converts to the event router's settings. OnDrop is left for
// the caller to wire.
func (c Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.EnabledSinks = append([]string(nil), c.Logging.Sinks...)
	if severity, err := logging.ParseSeverity(c.Logging.MinimumSeverity); err == nil {
		cfg.MinimumSeverity = severity
	}
	if c.Logging.ConsoleSeverity != "" {
		if severity, err := logging.ParseSeverity(c.Logging.ConsoleSeverity); err == nil {
			cfg.SinkSeverity = map[string]logging.Severity{logging.SinkConsole: severity}
		}
	}
	if c.Logging.BufferSize > 0 {
		cfg.BufferSize = c.Logging.BufferSize
	}
	if c.Logging.JSONFile != "" {
		cfg.JSON.FilePath = c.Logging.JSONFile
	}
	cfg.MemoryCapacity = c.Logging.RecentEvents
	if interval := durationOr(c.Logging.ThrottleInterval, 0); interval > 0 {
		cfg.Throttle = make(map[logging.EventType]time.Duration)
		for _, noisy := range [][]logging.EventType{navigation.Noisy, network.Noisy} {
			for _, eventType := range noisy {
				cfg.Throttle[eventType] = interval
			}
		}
	}
	return cfg
}

// durationOr parses raw, returning fallback when it is empty or malformed.
// Zero engine durations are replaced by engine defaults.
func durationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
