package citynav

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"citynav/internal/geom"
	"citynav/internal/requests"
	"citynav/internal/telemetry"
	"citynav/logging"
	"citynav/logging/simulation"
)

const defaultTickRate = 20

// HubConfig wires an Engine into a ticking loop.
type HubConfig struct {
	Engine   Config
	TickRate int
	// TickBudget is the update duration above which an overrun is reported.
	// Zero means one tick period.
	TickBudget time.Duration

	Logger    telemetry.Logger
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	Clock     logging.Clock
}

// DefaultHubConfig returns a 20 Hz hub around the default engine.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		Engine:   DefaultConfig(),
		TickRate: defaultTickRate,
	}
}

// Completion is a finished path request delivered to a subscriber.
type Completion struct {
	RequestID uuid.UUID
	Tag       string
	Path      []geom.Point
	Strategy  string
	Err       error
}

type pendingRequest struct {
	client string
	tag    string
	future *requests.Future
}

type subscriber struct {
	id      string
	deliver func(Completion)
}

// Hub owns an Engine behind a mutex so network goroutines can submit requests
// while RunSimulation drives the tick loop.
type Hub struct {
	mu          sync.Mutex
	cfg         HubConfig
	engine      *Engine
	logger      telemetry.Logger
	pub         logging.Publisher
	metrics     telemetry.Metrics
	pending     map[uuid.UUID]*pendingRequest
	subscribers map[string]*subscriber
	nextClient  atomic.Uint64
	overruns    atomic.Uint64
}

// NewHub constructs a hub and its engine.
func NewHub(cfg HubConfig, world WorldSource) *Hub {
	if cfg.TickRate <= 0 {
		cfg.TickRate = defaultTickRate
	}
	if cfg.TickBudget <= 0 {
		cfg.TickBudget = time.Second / time.Duration(cfg.TickRate)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = logging.NopPublisher()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Hub{
		cfg:         cfg,
		engine:      NewEngine(cfg.Engine, world, WithPublisher(pub), WithMetrics(metrics), WithClock(cfg.Clock)),
		logger:      logger,
		pub:         pub,
		metrics:     metrics,
		pending:     make(map[uuid.UUID]*pendingRequest),
		subscribers: make(map[string]*subscriber),
	}
}

// TickRate reports the simulation frequency in Hz.
func (h *Hub) TickRate() int { return h.cfg.TickRate }

// Tick reports how many engine updates have run.
func (h *Hub) Tick() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine.Tick()
}

// Rebuild forces an immediate grid rebuild from a fresh world snapshot.
func (h *Hub) Rebuild() GridStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.engine.Rebuild()
	return h.engine.Stats().Grid
}

// Subscribe registers a completion callback and returns the client id that
// requests must be submitted under. deliver is called from the tick goroutine
// or from RequestPath and must not block.
func (h *Hub) Subscribe(deliver func(Completion)) string {
	id := fmt.Sprintf("client-%d", h.nextClient.Add(1))
	h.mu.Lock()
	h.subscribers[id] = &subscriber{id: id, deliver: deliver}
	count := len(h.subscribers)
	h.mu.Unlock()
	h.metrics.Store(telemetry.MetricClients, uint64(count))
	return id
}

// Unsubscribe removes a client and cancels its outstanding requests. It
// returns how many requests were canceled.
func (h *Hub) Unsubscribe(client string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[client]; !ok {
		return 0
	}
	delete(h.subscribers, client)
	canceled := 0
	for id, p := range h.pending {
		if p.client != client {
			continue
		}
		if !h.engine.Cancel(id) {
			p.future.Cancel()
		}
		delete(h.pending, id)
		canceled++
	}
	h.metrics.Store(telemetry.MetricClients, uint64(len(h.subscribers)))
	if canceled > 0 {
		h.logger.Printf("client %s left with %d pending requests", client, canceled)
	}
	return canceled
}

// RequestPath submits a request for client. If the engine answers at once the
// completion is delivered before RequestPath returns.
func (h *Hub) RequestPath(client, tag string, start, end geom.Point) (uuid.UUID, error) {
	h.mu.Lock()
	sub, ok := h.subscribers[client]
	if !ok {
		h.mu.Unlock()
		return uuid.Nil, fmt.Errorf("request path: unknown client %q", client)
	}
	future := h.engine.RequestPath(start, end)
	if !future.IsDone() {
		h.pending[future.ID()] = &pendingRequest{client: client, tag: tag, future: future}
	}
	h.mu.Unlock()

	if future.IsDone() {
		sub.deliver(completionOf(future, tag))
	}
	return future.ID(), nil
}

// Cancel withdraws the pending request client submitted under tag.
func (h *Hub) Cancel(client, tag string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, p := range h.pending {
		if p.client != client || p.tag != tag {
			continue
		}
		delete(h.pending, id)
		if !h.engine.Cancel(id) {
			p.future.Cancel()
		}
		return true
	}
	return false
}

// IsPointWalkable queries the engine's fine grid.
func (h *Hub) IsPointWalkable(p geom.Point) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine.IsPointWalkable(p)
}

// Feasible runs the engine's coarse reachability check.
func (h *Hub) Feasible(start, end geom.Point) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine.Feasible(start, end)
}

// ClearCache empties the engine's path cache.
func (h *Hub) ClearCache() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine.ClearCache()
}

// HubStats extends engine stats with hub bookkeeping.
type HubStats struct {
	Stats
	Clients       int    `json:"clients"`
	Outstanding   int    `json:"outstanding"`
	TickRate      int    `json:"tickRate"`
	OverrunStreak uint64 `json:"overrunStreak"`
}

// Stats snapshots engine and hub counters.
func (h *Hub) Stats() HubStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HubStats{
		Stats:         h.engine.Stats(),
		Clients:       len(h.subscribers),
		Outstanding:   len(h.pending),
		TickRate:      h.cfg.TickRate,
		OverrunStreak: h.overruns.Load(),
	}
}

// Advance runs one engine update and delivers every completion it produced.
func (h *Hub) Advance(dt time.Duration) int {
	started := time.Now()

	h.mu.Lock()
	resolved := h.engine.Update(dt)
	tick := h.engine.Tick()
	queued := h.engine.QueueLength()
	type delivery struct {
		sub        *subscriber
		completion Completion
	}
	var deliveries []delivery
	for id, p := range h.pending {
		if !p.future.IsDone() {
			continue
		}
		delete(h.pending, id)
		if sub, ok := h.subscribers[p.client]; ok {
			deliveries = append(deliveries, delivery{sub: sub, completion: completionOf(p.future, p.tag)})
		}
	}
	h.mu.Unlock()

	for _, d := range deliveries {
		d.sub.deliver(d.completion)
	}
	h.checkBudget(tick, time.Since(started), resolved, queued)
	return resolved
}

func (h *Hub) checkBudget(tick uint64, elapsed time.Duration, resolved, queued int) {
	budget := h.cfg.TickBudget
	if elapsed <= budget {
		if streak := h.overruns.Swap(0); streak > 0 {
			simulation.TickBudgetRecovered(context.Background(), h.pub, tick, simulation.TickBudgetRecoveredPayload{
				Streak:         streak,
				DurationMillis: millis(elapsed),
			})
		}
		return
	}
	streak := h.overruns.Add(1)
	h.metrics.Add(telemetry.MetricTickOverruns, 1)
	simulation.TickBudgetOverrun(context.Background(), h.pub, tick, simulation.TickBudgetOverrunPayload{
		DurationMillis: millis(elapsed),
		BudgetMillis:   millis(budget),
		Ratio:          float64(elapsed) / float64(budget),
		Streak:         streak,
		Resolved:       resolved,
		QueueLength:    queued,
	}, nil)
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// RunSimulation ticks the engine at the configured rate until stop closes.
func (h *Hub) RunSimulation(stop <-chan struct{}) {
	period := time.Second / time.Duration(h.cfg.TickRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			dt := now.Sub(last)
			if dt <= 0 {
				dt = period
			}
			last = now
			h.Advance(dt)
		}
	}
}

func completionOf(f *requests.Future, tag string) Completion {
	path, err := f.Result()
	return Completion{
		RequestID: f.ID(),
		Tag:       tag,
		Path:      path,
		Strategy:  f.Strategy(),
		Err:       err,
	}
}
