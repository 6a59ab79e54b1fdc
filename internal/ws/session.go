// Package ws implements the WS Session Framing layer (spec §4.2): one
// single-threaded cooperative task per connection that multiplexes inbound
// client frames, outbound chat payloads, and heartbeat ticks, and drives the
// Chat Router's Connect/Join/Leave/SendMessage operations.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"relaycore/internal/chat"
	"relaycore/internal/observability"
	"relaycore/internal/store"

	"github.com/gofiber/websocket/v2"
)

const (
	heartbeatInterval = 5 * time.Second
	heartbeatTimeout   = 10 * time.Second
	maxFrameSize       = 128 * 1024
	maxAggregateSize   = 2 * 1024 * 1024
)

// Session runs one connection's cooperative event loop until it is torn
// down by client close, stream error, or heartbeat timeout — all three
// funnel into the same teardown path (§4.2 Cancellation).
type Session struct {
	conn   *websocket.Conn
	router *chat.Router
	convs  store.ConversationStore
	userID string
	connID string
	sink   chan []byte
}

// Run upgrades conn into a chat session for userID and blocks until the
// session ends. Callers invoke this from the fiber websocket.New handler.
func Run(ctx context.Context, conn *websocket.Conn, router *chat.Router, convs store.ConversationStore, userID string) {
	sink := make(chan []byte, 256)
	connID, err := router.Connect(ctx, userID, sink)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, encodeError("", err))
		_ = conn.Close()
		return
	}

	s := &Session{conn: conn, router: router, convs: convs, userID: userID, connID: connID, sink: sink}
	observability.WebSocketEventsTotal.WithLabelValues("session_start").Inc()

	reply := OutboundFrame(chat.OutboundFrame{Event: "connect", Status: "connected"})
	if payload, err := json.Marshal(reply); err == nil {
		_ = conn.WriteMessage(websocket.TextMessage, payload)
	}

	s.loop(ctx)

	router.Disconnect(context.Background(), userID, connID)
	_ = conn.Close()
}

// OutboundFrame is a type alias kept local so callers don't need to import
// chat just to build one.
type OutboundFrame = chat.OutboundFrame

func (s *Session) loop(ctx context.Context) {
	s.conn.SetReadLimit(maxAggregateSize)

	inbound := make(chan []byte)
	readErr := make(chan error, 1)
	liveness := make(chan struct{}, 1)
	go s.readPump(inbound, readErr, liveness)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	idle := time.NewTimer(heartbeatTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case frame, ok := <-inbound:
			if !ok {
				return
			}
			if !idle.Stop() {
				drainTimer(idle)
			}
			idle.Reset(heartbeatTimeout)
			s.handleFrame(ctx, frame)

		case <-liveness:
			if !idle.Stop() {
				drainTimer(idle)
			}
			idle.Reset(heartbeatTimeout)

		case payload, ok := <-s.sink:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(heartbeatTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(heartbeatTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-idle.C:
			observability.WebSocketEventsTotal.WithLabelValues("heartbeat_timeout").Inc()
			return

		case err := <-readErr:
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				slog.Default().Debug("ws: read error", "user_id", s.userID, "error", err)
			}
			return
		}
	}
}

// readPump is the only goroutine allowed to call conn.ReadMessage; it feeds
// decoded frames to the cooperative loop so the loop itself never blocks on
// a single branch (§4.2: cancellation of any branch must not leak others).
// Pings and pongs are control frames the underlying conn consumes itself
// and never delivers to ReadMessage, so liveness for them is signaled
// out-of-band via the liveness channel (§4.2: "no client frame — ping/pong/
// text — in 10s, close" counts pongs as liveness, not just text frames).
func (s *Session) readPump(inbound chan<- []byte, readErr chan<- error, liveness chan<- struct{}) {
	defer close(inbound)
	s.conn.SetPongHandler(func(string) error {
		notifyLiveness(liveness)
		return nil
	})
	s.conn.SetPingHandler(func(appData string) error {
		notifyLiveness(liveness)
		err := s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(heartbeatTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		if len(message) > maxFrameSize {
			observability.WebSocketBackpressureDrops.WithLabelValues("ws_session", "frame_too_large").Inc()
			continue
		}
		inbound <- message
	}
}

func notifyLiveness(liveness chan<- struct{}) {
	select {
	case liveness <- struct{}{}:
	default:
	}
}

func drainTimer(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}
