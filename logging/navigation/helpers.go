package navigation

import (
	"context"

	"citynav/logging"
)

const (
	// EventGridRebuilt is emitted after the occupancy grids and zone index are rebuilt from a world snapshot.
	EventGridRebuilt logging.EventType = "navigation.grid_rebuilt"
	// EventGridFallback is emitted when the world dimensions are unusable and the default grid is substituted.
	EventGridFallback logging.EventType = "navigation.grid_fallback"
	// EventQueueBacklog is emitted when pending path requests exceed the backlog threshold.
	EventQueueBacklog logging.EventType = "navigation.queue_backlog"
	// EventSearchExhausted is emitted when a search fails and the direct walker stands in.
	EventSearchExhausted logging.EventType = "navigation.search_exhausted"
	// EventCacheCleared is emitted when the path cache is emptied on demand.
	EventCacheCleared logging.EventType = "navigation.cache_cleared"
)

// GridRebuiltPayload summarises a rebuild.
type GridRebuiltPayload struct {
	Cols           int     `json:"cols"`
	Rows           int     `json:"rows"`
	CellSize       float64 `json:"cellSize"`
	BlockedCells   int     `json:"blockedCells"`
	CoarseBlocked  int     `json:"coarseBlocked"`
	Zones          int     `json:"zones"`
	WalkableZones  int     `json:"walkableZones"`
	Buildings      int     `json:"buildings"`
	Roads          int     `json:"roads"`
	DurationMillis float64 `json:"durationMillis"`
}

// GridRebuilt publishes an info event describing the new grid.
func GridRebuilt(ctx context.Context, pub logging.Publisher, tick uint64, payload GridRebuiltPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventGridRebuilt,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindGrid},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNavigation,
		Payload:  payload,
		Extra:    extra,
	})
}

// GridFallbackPayload records the rejected dimensions and the grid used instead.
type GridFallbackPayload struct {
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	CellSize float64 `json:"cellSize"`
	Cols     int     `json:"cols"`
	Rows     int     `json:"rows"`
}

// GridFallback publishes a warning when the default grid replaces unusable dimensions.
func GridFallback(ctx context.Context, pub logging.Publisher, tick uint64, payload GridFallbackPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventGridFallback,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindGrid},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNavigation,
		Payload:  payload,
		Extra:    extra,
	})
}

// QueueBacklogPayload captures queue pressure at the end of a tick.
type QueueBacklogPayload struct {
	Pending         int   `json:"pending"`
	Threshold       int   `json:"threshold"`
	OldestAgeMillis int64 `json:"oldestAgeMillis"`
}

// QueueBacklog publishes a warning when the queue grows past its threshold.
func QueueBacklog(ctx context.Context, pub logging.Publisher, tick uint64, payload QueueBacklogPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventQueueBacklog,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindEngine},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNavigation,
		Payload:  payload,
		Extra:    extra,
	})
}

// SearchExhaustedPayload describes a route that needed the direct walker.
type SearchExhaustedPayload struct {
	StartX    float64 `json:"startX"`
	StartY    float64 `json:"startY"`
	EndX      float64 `json:"endX"`
	EndY      float64 `json:"endY"`
	Strategy  string  `json:"strategy"`
	Fallbacks int     `json:"fallbacks"`
}

// SearchExhausted publishes a debug event for a failed search.
func SearchExhausted(ctx context.Context, pub logging.Publisher, tick uint64, request string, payload SearchExhaustedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSearchExhausted,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: request, Kind: logging.EntityKindRequest},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNavigation,
		Payload:  payload,
		Extra:    extra,
	})
}

// CacheClearedPayload records how many entries were dropped.
type CacheClearedPayload struct {
	Entries int `json:"entries"`
}

// CacheCleared publishes an info event after the cache is emptied.
func CacheCleared(ctx context.Context, pub logging.Publisher, tick uint64, payload CacheClearedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCacheCleared,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindEngine},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNavigation,
		Payload:  payload,
		Extra:    extra,
	})
}

// Noisy lists the event types that can fire once per request under load.
// The server throttles them per type.
var Noisy = []logging.EventType{EventSearchExhausted}
