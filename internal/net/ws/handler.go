// Package ws serves path requests over a websocket.
package ws

import (
	"context"
	"errors"
	"log"
	nethttp "net/http"
	"time"

	"github.com/gorilla/websocket"

	citynav "citynav"
	"citynav/internal/net/proto"
	"citynav/internal/requests"
	"citynav/internal/telemetry"
	"citynav/logging"
	"citynav/logging/network"
)

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 5 * time.Second
	maxMessageBytes     = 64 * 1024
)

// Disconnect reasons reported in network.client_disconnected events.
const (
	ReasonClosed    = "closed"
	ReasonReadError = "read_error"
)

type HandlerConfig struct {
	Logger       telemetry.Logger
	Publisher    logging.Publisher
	SendBuffer   int
	WriteTimeout time.Duration
}

type Handler struct {
	hub      *citynav.Hub
	logger   telemetry.Logger
	pub      logging.Publisher
	cfg      HandlerConfig
	upgrader websocket.Upgrader
}

func NewHandler(hub *citynav.Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = logging.NopPublisher()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		hub:      hub,
		logger:   logger,
		pub:      pub,
		cfg:      cfg,
		upgrader: upgrader,
	}
}

// Handle upgrades the request and serves the session until the client leaves.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}
	h.Serve(conn)
}

// Serve runs a session on an upgraded connection. It returns once the read
// side fails; outstanding requests are canceled.
func (h *Handler) Serve(conn *websocket.Conn) {
	if h == nil || h.hub == nil || conn == nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageBytes)

	sess := newSession(conn, h.cfg.SendBuffer, h.logger)
	sess.client = h.hub.Subscribe(sess.deliver)
	go sess.writePump(h.cfg.WriteTimeout)

	network.ClientConnected(context.Background(), h.pub, h.hub.Tick(), sess.client, nil)
	sess.enqueue(proto.NewWelcome(sess.client, h.hub.TickRate()))

	reason := h.readLoop(sess)

	pending := h.hub.Unsubscribe(sess.client)
	sess.close()
	network.ClientDisconnected(context.Background(), h.pub, h.hub.Tick(), sess.client, network.ClientDisconnectedPayload{
		Reason:  reason,
		Pending: pending,
	}, nil)
}

func (h *Handler) readLoop(sess *session) string {
	for {
		_, payload, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ReasonClosed
			}
			select {
			case <-sess.done:
				return ReasonClosed
			default:
			}
			return ReasonReadError
		}

		msg, err := proto.DecodeClientMessage(payload)
		if err != nil {
			h.reject(sess, msg, err)
			continue
		}

		switch msg.Type {
		case proto.TypePath:
			if _, err := h.hub.RequestPath(sess.client, msg.ID, msg.Start.Geom(), msg.End.Geom()); err != nil {
				h.reject(sess, msg, &proto.RejectError{Reason: proto.ReasonEngineRejection, Detail: err.Error()})
			}
		case proto.TypeWalkable:
			sess.enqueue(proto.NewWalkableResult(msg.ID, h.hub.IsPointWalkable(msg.Point.Geom())))
		case proto.TypeFeasible:
			sess.enqueue(proto.NewFeasibleResult(msg.ID, h.hub.Feasible(msg.Start.Geom(), msg.End.Geom())))
		case proto.TypeCancel:
			if !h.hub.Cancel(sess.client, msg.ID) {
				h.reject(sess, msg, &proto.RejectError{Reason: proto.ReasonUnknownRequest, Detail: "no pending request " + msg.ID})
				continue
			}
			sess.enqueue(proto.NewPathResult(msg.ID, nil, "", requests.ErrCanceled))
		case proto.TypeHeartbeat:
			sess.enqueue(proto.NewHeartbeat(time.Now().UnixMilli(), msg.SentAt))
		}
	}
}

func (h *Handler) reject(sess *session, msg proto.ClientMessage, err error) {
	var rejectErr *proto.RejectError
	if !errors.As(err, &rejectErr) {
		h.logger.Printf("unexpected error serving %s: %v", sess.client, err)
	}
	network.MessageRejected(context.Background(), h.pub, h.hub.Tick(), sess.client, network.MessageRejectedPayload{
		MessageType: msg.Type,
		Reason:      proto.ReasonOf(err),
	}, nil)
	sess.enqueue(proto.NewError(msg.ID, err))
}
