package network

import (
	"context"

	"citynav/logging"
)

const (
	// EventClientConnected is emitted when a websocket client subscribes.
	EventClientConnected logging.EventType = "network.client_connected"
	// EventClientDisconnected is emitted when a websocket client goes away.
	EventClientDisconnected logging.EventType = "network.client_disconnected"
	// EventMessageRejected is emitted when a client message cannot be decoded or served.
	EventMessageRejected logging.EventType = "network.message_rejected"
)

// ClientDisconnectedPayload captures why a client left.
type ClientDisconnectedPayload struct {
	Reason  string `json:"reason"`
	Pending int    `json:"pending"`
}

// MessageRejectedPayload records a rejected message.
type MessageRejectedPayload struct {
	MessageType string `json:"messageType,omitempty"`
	Reason      string `json:"reason"`
}

// ClientConnected publishes an info event for a new client.
func ClientConnected(ctx context.Context, pub logging.Publisher, tick uint64, client string, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventClientConnected,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: client, Kind: logging.EntityKindClient},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Extra:    extra,
	})
}

// ClientDisconnected publishes an info event when a client leaves.
func ClientDisconnected(ctx context.Context, pub logging.Publisher, tick uint64, client string, payload ClientDisconnectedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventClientDisconnected,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: client, Kind: logging.EntityKindClient},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

// MessageRejected publishes a warning for a message the server could not handle.
func MessageRejected(ctx context.Context, pub logging.Publisher, tick uint64, client string, payload MessageRejectedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventMessageRejected,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: client, Kind: logging.EntityKindClient},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

// Noisy lists the event types a misbehaving client can produce at will.
var Noisy = []logging.EventType{EventMessageRejected}
