// Package proto defines the JSON frames exchanged over the path request
// websocket.
package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"citynav/internal/geom"
)

const (
	// Version tracks the wire-protocol revision expected by clients.
	Version = 1
)

// Client message type identifiers.
const (
	TypePath      = "path"
	TypeWalkable  = "walkable"
	TypeFeasible  = "feasible"
	TypeCancel    = "cancel"
	TypeHeartbeat = "heartbeat"
)

// Server-only message type identifiers.
const (
	TypeWelcome = "welcome"
	TypeError   = "error"
)

// Reasons carried by error frames.
const (
	ReasonMalformed       = "malformed"
	ReasonUnsupported     = "unsupported_version"
	ReasonUnknownType     = "unknown_type"
	ReasonMissingID       = "missing_id"
	ReasonInvalidPoint    = "invalid_point"
	ReasonUnknownRequest  = "unknown_request"
	ReasonEngineRejection = "rejected"
)

// Point is a wire coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Geom converts to an engine point.
func (p Point) Geom() geom.Point { return geom.Pt(p.X, p.Y) }

// FromGeom converts an engine point.
func FromGeom(p geom.Point) Point { return Point{X: p.X, Y: p.Y} }

// FromPath converts an engine path.
func FromPath(path []geom.Point) []Point {
	out := make([]Point, len(path))
	for i, p := range path {
		out[i] = FromGeom(p)
	}
	return out
}

// ClientMessage captures an inbound websocket message from the client.
type ClientMessage struct {
	Ver    int    `json:"ver,omitempty"`
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Start  *Point `json:"start,omitempty"`
	End    *Point `json:"end,omitempty"`
	Point  *Point `json:"point,omitempty"`
	SentAt int64  `json:"sentAt,omitempty"`
}

// RejectError reports why an inbound frame cannot be served.
type RejectError struct {
	Reason string
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return e.Reason
	}
	return e.Reason + ": " + e.Detail
}

func reject(reason, format string, args ...any) error {
	return &RejectError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the reject reason from err, defaulting to malformed.
func ReasonOf(err error) string {
	var rejectErr *RejectError
	if errors.As(err, &rejectErr) {
		return rejectErr.Reason
	}
	return ReasonMalformed
}

// DecodeClientMessage converts raw websocket payloads into a structured
// message and checks that it carries the fields its type needs.
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, reject(ReasonMalformed, "%v", err)
	}
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	if msg.Ver != Version {
		return msg, reject(ReasonUnsupported, "unsupported client protocol version %d", msg.Ver)
	}

	switch msg.Type {
	case TypePath, TypeFeasible:
		if msg.ID == "" {
			return msg, reject(ReasonMissingID, "%s requires an id", msg.Type)
		}
		if err := checkPoint("start", msg.Start); err != nil {
			return msg, err
		}
		if err := checkPoint("end", msg.End); err != nil {
			return msg, err
		}
	case TypeWalkable:
		if msg.ID == "" {
			return msg, reject(ReasonMissingID, "walkable requires an id")
		}
		if err := checkPoint("point", msg.Point); err != nil {
			return msg, err
		}
	case TypeCancel:
		if msg.ID == "" {
			return msg, reject(ReasonMissingID, "cancel requires an id")
		}
	case TypeHeartbeat:
	default:
		return msg, reject(ReasonUnknownType, "unknown message type %q", msg.Type)
	}
	return msg, nil
}

func checkPoint(field string, p *Point) error {
	if p == nil {
		return reject(ReasonInvalidPoint, "missing %s", field)
	}
	for _, v := range [...]float64{p.X, p.Y} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return reject(ReasonInvalidPoint, "%s is not finite", field)
		}
	}
	return nil
}

// Welcome is sent once after the upgrade.
type Welcome struct {
	Ver      int    `json:"ver"`
	Type     string `json:"type"`
	Client   string `json:"client"`
	TickRate int    `json:"tickRate"`
}

// PathResult answers a path request once its future completes.
type PathResult struct {
	Ver      int     `json:"ver"`
	Type     string  `json:"type"`
	ID       string  `json:"id"`
	Path     []Point `json:"path"`
	Strategy string  `json:"strategy,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// WalkableResult answers a walkability query.
type WalkableResult struct {
	Ver      int    `json:"ver"`
	Type     string `json:"type"`
	ID       string `json:"id"`
	Walkable bool   `json:"walkable"`
}

// FeasibleResult answers a coarse reachability query.
type FeasibleResult struct {
	Ver      int    `json:"ver"`
	Type     string `json:"type"`
	ID       string `json:"id"`
	Feasible bool   `json:"feasible"`
}

// Heartbeat echoes the client's clock alongside the server's.
type Heartbeat struct {
	Ver        int    `json:"ver"`
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime"`
}

// Error rejects an inbound frame.
type Error struct {
	Ver    int    `json:"ver"`
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// NewWelcome builds a welcome frame.
func NewWelcome(client string, tickRate int) Welcome {
	return Welcome{Ver: Version, Type: TypeWelcome, Client: client, TickRate: tickRate}
}

// NewPathResult builds a path frame. A non-nil err yields an empty path and
// an error reason.
func NewPathResult(id string, path []geom.Point, strategy string, err error) PathResult {
	msg := PathResult{Ver: Version, Type: TypePath, ID: id, Path: FromPath(path), Strategy: strategy}
	if err != nil {
		msg.Path = []Point{}
		msg.Error = err.Error()
	}
	return msg
}

// NewWalkableResult builds a walkable frame.
func NewWalkableResult(id string, walkable bool) WalkableResult {
	return WalkableResult{Ver: Version, Type: TypeWalkable, ID: id, Walkable: walkable}
}

// NewFeasibleResult builds a feasible frame.
func NewFeasibleResult(id string, feasible bool) FeasibleResult {
	return FeasibleResult{Ver: Version, Type: TypeFeasible, ID: id, Feasible: feasible}
}

// NewHeartbeat builds a heartbeat frame.
func NewHeartbeat(serverTime, clientTime int64) Heartbeat {
	return Heartbeat{Ver: Version, Type: TypeHeartbeat, ServerTime: serverTime, ClientTime: clientTime}
}

// NewError builds an error frame from a decode or request error.
func NewError(id string, err error) Error {
	msg := Error{Ver: Version, Type: TypeError, ID: id, Reason: ReasonOf(err)}
	var rejectErr *RejectError
	if errors.As(err, &rejectErr) {
		msg.Detail = rejectErr.Detail
	} else if err != nil {
		msg.Detail = err.Error()
	}
	return msg
}
