// Package planner turns a start and end point into a walkable waypoint
// sequence on top of the fine grid and the zone index.
//
// Router picks the strategy: a fine-grid search for trips inside one zone, a
// zone-level route refined segment by segment for longer trips, and the
// stepping walker in DirectPath when searches fail. Every strategy returns a
// path that starts at the requested start and ends at the requested end.
package planner
