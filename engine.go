// Package citynav plans walking routes for many agents through a city of
// buildings and roads without stalling the simulation tick.
//
// An Engine owns the occupancy grids, the zone index, a path cache and a
// queue of deferred requests. Callers on the simulation goroutine call
// RequestPath, IsPointWalkable and Update; Hub wraps an Engine for use from
// other goroutines.
package citynav

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"citynav/internal/geom"
	"citynav/internal/grid"
	"citynav/internal/pathcache"
	"citynav/internal/planner"
	"citynav/internal/requests"
	"citynav/internal/telemetry"
	"citynav/internal/zones"
	"citynav/logging"
	"citynav/logging/navigation"
)

// Strategies reported for paths that did not come from the router.
const (
	StrategyCached    = "cached"
	StrategyShortTrip = "short_trip"
)

// Config tunes the engine. Zero fields fall back to DefaultConfig values in
// NewEngine.
type Config struct {
	CellSize             float64
	ZoneSize             float64
	ZoneBlockedThreshold float64
	WaypointStride       float64
	UnwalkablePenalty    float64

	StepSize      float64
	SampleSpacing float64
	MaxExpansions int

	ShortTripDistance    float64
	MaxPathsPerFrame     int
	AgeBoostPerSecond    float64
	BacklogWarnThreshold int

	CacheTTL        time.Duration
	MaxCacheEntries int
	CacheEvictBatch int
	CleanupInterval time.Duration
	RebuildInterval time.Duration
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		CellSize:             grid.DefaultCellSize,
		ZoneSize:             zones.DefaultSize,
		ZoneBlockedThreshold: zones.DefaultBlockedThreshold,
		UnwalkablePenalty:    zones.DefaultUnwalkablePenalty,
		StepSize:             planner.DefaultStepSize,
		SampleSpacing:        planner.DefaultSampleSpacing,
		ShortTripDistance:    200,
		MaxPathsPerFrame:     requests.DefaultMaxPerFrame,
		AgeBoostPerSecond:    requests.DefaultAgeBoostPerSecond,
		BacklogWarnThreshold: 100,
		CacheTTL:             pathcache.DefaultTTL,
		MaxCacheEntries:      pathcache.DefaultMaxEntries,
		CacheEvictBatch:      pathcache.DefaultEvictBatch,
		CleanupInterval:      time.Second,
		RebuildInterval:      5 * time.Second,
	}
}

func (cfg Config) normalized() Config {
	def := DefaultConfig()
	if !(cfg.CellSize > 0) {
		cfg.CellSize = def.CellSize
	}
	if !(cfg.ZoneSize > 0) {
		cfg.ZoneSize = def.ZoneSize
	}
	if !(cfg.ShortTripDistance >= 0) {
		cfg.ShortTripDistance = def.ShortTripDistance
	}
	if cfg.MaxPathsPerFrame <= 0 {
		cfg.MaxPathsPerFrame = def.MaxPathsPerFrame
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.RebuildInterval <= 0 {
		cfg.RebuildInterval = def.RebuildInterval
	}
	return cfg
}

// World is a read-only snapshot of the obstacle geometry.
type World struct {
	Width     float64        `json:"width"`
	Height    float64        `json:"height"`
	Buildings []geom.Rect    `json:"buildings"`
	Roads     []geom.Segment `json:"roads"`
}

// WorldSource supplies the snapshot used by each rebuild.
type WorldSource interface {
	Snapshot() World
}

// WorldSourceFunc adapts a function into a WorldSource.
type WorldSourceFunc func() World

func (f WorldSourceFunc) Snapshot() World { return f() }

// StaticWorld is a WorldSource that never changes.
type StaticWorld World

func (w StaticWorld) Snapshot() World { return World(w) }

// GridStats describes the current grids.
type GridStats struct {
	Cols          int     `json:"cols"`
	Rows          int     `json:"rows"`
	CellSize      float64 `json:"cellSize"`
	BlockedCells  int     `json:"blockedCells"`
	CoarseCols    int     `json:"coarseCols"`
	CoarseRows    int     `json:"coarseRows"`
	CoarseBlocked int     `json:"coarseBlocked"`
	Zones         int     `json:"zones"`
	WalkableZones int     `json:"walkableZones"`
	Fallback      bool    `json:"fallback"`
}

// Stats is a point-in-time view of engine counters.
type Stats struct {
	Tick        uint64          `json:"tick"`
	Ready       bool            `json:"ready"`
	QueueLength int             `json:"queueLength"`
	Requests    uint64          `json:"requests"`
	ShortTrips  uint64          `json:"shortTrips"`
	Resolved    uint64          `json:"resolved"`
	Canceled    uint64          `json:"canceled"`
	Fallbacks   uint64          `json:"fallbacks"`
	Rebuilds    uint64          `json:"rebuilds"`
	Cache       pathcache.Stats `json:"cache"`
	Grid        GridStats       `json:"grid"`
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock sets the time source used for cache ages and request ages.
func WithClock(clock logging.Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithPublisher sets the destination for structured events.
func WithPublisher(pub logging.Publisher) Option {
	return func(e *Engine) {
		if pub != nil {
			e.pub = pub
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics telemetry.Metrics) Option {
	return func(e *Engine) {
		if metrics != nil {
			e.metrics = metrics
		}
	}
}

// WithTracer sets the tracer used for rebuild and route spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// Engine plans paths. It is not safe for concurrent use.
type Engine struct {
	cfg     Config
	world   WorldSource
	clock   logging.Clock
	pub     logging.Publisher
	metrics telemetry.Metrics
	tracer  trace.Tracer

	grid   *grid.Grid
	coarse *grid.Coarse
	zones  *zones.Index
	router *planner.Router
	cache  *pathcache.Cache
	queue  *requests.Queue

	tick         uint64
	sinceRebuild time.Duration
	sinceCleanup time.Duration
	backlogged   bool

	requests   uint64
	shortTrips uint64
	resolved   uint64
	canceled   uint64
	fallbacks  uint64
	rebuilds   uint64
}

// NewEngine constructs an engine reading obstacles from world. The grid is
// built on the first Update or an explicit Rebuild; until then every request
// resolves to the straight line between its endpoints.
func NewEngine(cfg Config, world WorldSource, opts ...Option) *Engine {
	cfg = cfg.normalized()
	if world == nil {
		world = StaticWorld{}
	}
	e := &Engine{
		cfg:     cfg,
		world:   world,
		clock:   logging.SystemClock,
		pub:     logging.NopPublisher(),
		metrics: telemetry.NopMetrics(),
		tracer:  otel.Tracer("citynav"),
		zones: zones.NewIndex(zones.Config{
			Size:              cfg.ZoneSize,
			BlockedThreshold:  cfg.ZoneBlockedThreshold,
			WaypointStride:    cfg.WaypointStride,
			UnwalkablePenalty: cfg.UnwalkablePenalty,
		}),
		router: planner.NewRouter(planner.Config{
			StepSize:      cfg.StepSize,
			SampleSpacing: cfg.SampleSpacing,
			MaxExpansions: cfg.MaxExpansions,
		}),
		cache: pathcache.New(pathcache.Config{
			TTL:        cfg.CacheTTL,
			MaxEntries: cfg.MaxCacheEntries,
			EvictBatch: cfg.CacheEvictBatch,
		}),
		queue: requests.NewQueue(requests.Config{
			MaxPerFrame:       cfg.MaxPathsPerFrame,
			AgeBoostPerSecond: cfg.AgeBoostPerSecond,
		}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the normalized configuration.
func (e *Engine) Config() Config { return e.cfg }

// Ready reports whether the grid has been built.
func (e *Engine) Ready() bool { return e.router.Ready() }

// Tick reports how many updates have run.
func (e *Engine) Tick() uint64 { return e.tick }

// QueueLength reports how many requests are waiting for a tick.
func (e *Engine) QueueLength() int { return e.queue.Len() }

// Rebuild rebuilds the fine grid, the coarse grid and the zone index from a
// fresh world snapshot.
func (e *Engine) Rebuild() {
	_, span := e.tracer.Start(context.Background(), "citynav.Engine.Rebuild")
	defer span.End()
	started := time.Now()

	w := e.world.Snapshot()
	g := grid.Build(w.Width, w.Height, w.Buildings, w.Roads, e.cfg.CellSize)
	if g.Fallback() {
		navigation.GridFallback(context.Background(), e.pub, e.tick, navigation.GridFallbackPayload{
			Width:    w.Width,
			Height:   w.Height,
			CellSize: e.cfg.CellSize,
			Cols:     g.Cols(),
			Rows:     g.Rows(),
		}, nil)
	}
	e.grid = g
	e.coarse = grid.BuildCoarse(g)
	e.zones.Rebuild(g)
	e.router.Reset(g, e.zones)
	e.rebuilds++

	elapsed := time.Since(started)
	stats := e.gridStats()
	span.SetAttributes(
		attribute.Int("grid.cols", stats.Cols),
		attribute.Int("grid.rows", stats.Rows),
		attribute.Int("grid.blocked", stats.BlockedCells),
		attribute.Int("zones.walkable", stats.WalkableZones),
	)
	e.metrics.Add(telemetry.MetricRebuilds, 1)
	e.metrics.Observe(telemetry.MetricRebuildSeconds, elapsed.Seconds())
	navigation.GridRebuilt(context.Background(), e.pub, e.tick, navigation.GridRebuiltPayload{
		Cols:           stats.Cols,
		Rows:           stats.Rows,
		CellSize:       stats.CellSize,
		BlockedCells:   stats.BlockedCells,
		CoarseBlocked:  stats.CoarseBlocked,
		Zones:          stats.Zones,
		WalkableZones:  stats.WalkableZones,
		Buildings:      len(w.Buildings),
		Roads:          len(w.Roads),
		DurationMillis: float64(elapsed.Microseconds()) / 1000,
	}, nil)
}

// RequestPath asks for a path from start to end. Cached paths, short trips and
// requests made before the first rebuild complete immediately; everything
// else is queued and completes on a later Update.
func (e *Engine) RequestPath(start, end geom.Point) *requests.Future {
	e.requests++
	e.metrics.Add(telemetry.MetricRequests, 1)

	if !e.Ready() {
		e.metrics.Add(telemetry.MetricRoutePrefix+string(planner.StrategyStraight), 1)
		return requests.Completed([]geom.Point{start, end}, string(planner.StrategyStraight))
	}

	now := e.clock.Now()
	key := pathcache.KeyFor(start, end)
	if path, ok := e.cache.Get(key, now); ok {
		e.metrics.Add(telemetry.MetricCacheHits, 1)
		return requests.Completed(path, StrategyCached)
	}
	e.metrics.Add(telemetry.MetricCacheMisses, 1)

	if geom.Distance(start, end) < e.cfg.ShortTripDistance {
		path := e.router.Direct(start, end)
		e.cache.Put(key, path, now)
		e.shortTrips++
		e.metrics.Add(telemetry.MetricShortTrips, 1)
		return requests.Completed(path, StrategyShortTrip)
	}

	req := e.queue.Push(start, end, key, now)
	e.metrics.Store(telemetry.MetricQueueDepth, uint64(e.queue.Len()))
	return req.Future
}

// IsPointWalkable reports whether p lies in a Free or Road cell. Before the
// first rebuild every point is reported walkable.
func (e *Engine) IsPointWalkable(p geom.Point) bool {
	if e.grid == nil {
		return true
	}
	return e.grid.PassableAt(p)
}

// Feasible runs a cheap reachability check on the coarse grid.
func (e *Engine) Feasible(start, end geom.Point) bool {
	if e.coarse == nil {
		return true
	}
	return e.coarse.Feasible(start, end)
}

// Cancel withdraws a queued request. Its future completes with
// requests.ErrCanceled. It reports false if no such request is queued.
func (e *Engine) Cancel(id uuid.UUID) bool {
	req, ok := e.queue.Remove(id)
	if !ok {
		return false
	}
	if req.Future.Cancel() {
		e.canceled++
		e.metrics.Add(telemetry.MetricCanceled, 1)
	}
	e.metrics.Store(telemetry.MetricQueueDepth, uint64(e.queue.Len()))
	return true
}

// ClearCache drops every cached path.
func (e *Engine) ClearCache() int {
	n := e.cache.Clear()
	e.metrics.Store(telemetry.MetricCacheEntries, 0)
	navigation.CacheCleared(context.Background(), e.pub, e.tick, navigation.CacheClearedPayload{Entries: n}, nil)
	return n
}

// Update advances the engine by dt: it rebuilds the grids when due, purges
// stale cache entries and resolves up to MaxPathsPerFrame queued requests. It
// returns the number of requests resolved.
func (e *Engine) Update(dt time.Duration) int {
	started := time.Now()
	e.tick++
	if dt < 0 {
		dt = 0
	}

	e.sinceRebuild += dt
	if !e.Ready() || e.sinceRebuild >= e.cfg.RebuildInterval {
		e.Rebuild()
		e.sinceRebuild = 0
	}

	now := e.clock.Now()
	e.sinceCleanup += dt
	if e.sinceCleanup >= e.cfg.CleanupInterval {
		if purged := e.cache.Purge(now); purged > 0 {
			e.metrics.Add(telemetry.MetricCacheExpired, uint64(purged))
		}
		e.sinceCleanup = 0
	}

	batch := e.queue.Drain(now)
	for _, req := range batch {
		e.resolve(req, now)
	}

	e.reportBacklog(now)
	e.metrics.Store(telemetry.MetricQueueDepth, uint64(e.queue.Len()))
	e.metrics.Store(telemetry.MetricCacheEntries, uint64(e.cache.Len()))
	e.metrics.Observe(telemetry.MetricTickSeconds, time.Since(started).Seconds())
	return len(batch)
}

func (e *Engine) resolve(req *requests.Request, now time.Time) {
	_, span := e.tracer.Start(context.Background(), "citynav.Engine.resolve",
		trace.WithAttributes(attribute.String("request.id", req.ID.String())))
	defer span.End()
	started := time.Now()

	result := e.router.Route(req.Start, req.End)
	e.metrics.Observe(telemetry.MetricRouteSeconds, time.Since(started).Seconds())
	e.metrics.Add(telemetry.MetricRoutePrefix+string(result.Strategy), 1)
	span.SetAttributes(
		attribute.String("route.strategy", string(result.Strategy)),
		attribute.Int("route.points", len(result.Path)),
		attribute.Int("route.zones", result.Zones),
	)

	if result.Fallbacks > 0 {
		e.fallbacks += uint64(result.Fallbacks)
		e.metrics.Add(telemetry.MetricFallbacks, uint64(result.Fallbacks))
		span.SetStatus(codes.Error, "search exhausted")
		navigation.SearchExhausted(context.Background(), e.pub, e.tick, req.ID.String(), navigation.SearchExhaustedPayload{
			StartX:    req.Start.X,
			StartY:    req.Start.Y,
			EndX:      req.End.X,
			EndY:      req.End.Y,
			Strategy:  string(result.Strategy),
			Fallbacks: result.Fallbacks,
		}, nil)
	}

	e.cache.Put(req.Key, result.Path, now)
	if req.Future.Complete(result.Path, string(result.Strategy)) {
		e.resolved++
		e.metrics.Add(telemetry.MetricResolved, 1)
	}
}

func (e *Engine) reportBacklog(now time.Time) {
	threshold := e.cfg.BacklogWarnThreshold
	if threshold <= 0 {
		return
	}
	pending := e.queue.Len()
	if pending <= threshold {
		e.backlogged = false
		return
	}
	if e.backlogged {
		return
	}
	e.backlogged = true
	oldest := time.Duration(0)
	for _, req := range e.queue.Pending() {
		oldest = max(oldest, now.Sub(req.SubmittedAt))
	}
	navigation.QueueBacklog(context.Background(), e.pub, e.tick, navigation.QueueBacklogPayload{
		Pending:         pending,
		Threshold:       threshold,
		OldestAgeMillis: oldest.Milliseconds(),
	}, nil)
}

func (e *Engine) gridStats() GridStats {
	if e.grid == nil {
		return GridStats{}
	}
	return GridStats{
		Cols:          e.grid.Cols(),
		Rows:          e.grid.Rows(),
		CellSize:      e.grid.CellSize(),
		BlockedCells:  e.grid.BlockedCount(),
		CoarseCols:    e.coarse.Cols(),
		CoarseRows:    e.coarse.Rows(),
		CoarseBlocked: e.coarse.BlockedCount(),
		Zones:         e.zones.Rows() * e.zones.Cols(),
		WalkableZones: e.zones.WalkableCount(),
		Fallback:      e.grid.Fallback(),
	}
}

// Stats returns current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Tick:        e.tick,
		Ready:       e.Ready(),
		QueueLength: e.QueueLength(),
		Requests:    e.requests,
		ShortTrips:  e.shortTrips,
		Resolved:    e.resolved,
		Canceled:    e.canceled,
		Fallbacks:   e.fallbacks,
		Rebuilds:    e.rebuilds,
		Cache:       e.cache.Stats(),
		Grid:        e.gridStats(),
	}
}
