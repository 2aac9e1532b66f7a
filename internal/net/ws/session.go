package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	citynav "citynav"
	"citynav/internal/net/proto"
	"citynav/internal/telemetry"
)

// session owns the write side of one connection. Frames are queued on send
// and written by writePump so that hub deliveries never block the tick.
type session struct {
	client string
	conn   *websocket.Conn
	logger telemetry.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

func newSession(conn *websocket.Conn, buffer int, logger telemetry.Logger) *session {
	return &session{
		conn:   conn,
		logger: logger,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// enqueue marshals payload and queues it. It reports false when the session
// is closed or its buffer is full.
func (s *session) enqueue(payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Printf("failed to marshal frame for %s: %v", s.client, err)
		return false
	}
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	case <-s.done:
		return false
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			s.logger.Printf("send buffer full for %s, %d frames dropped", s.client, n)
		}
		return false
	}
}

func (s *session) deliver(c citynav.Completion) {
	s.enqueue(proto.NewPathResult(c.Tag, c.Path, c.Strategy, c.Err))
}

func (s *session) writePump(timeout time.Duration) {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			if timeout > 0 {
				s.conn.SetWriteDeadline(time.Now().Add(timeout))
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.close()
				s.conn.Close()
				return
			}
		}
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}
