package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"relaycore/internal/chat"
	"relaycore/internal/observability"
)

// handleFrame decodes one inbound text frame and dispatches it to the Chat
// Router, replying with the wire-protocol outbound frame (§6.1).
func (s *Session) handleFrame(ctx context.Context, raw []byte) {
	var in chat.InboundFrame
	if err := json.Unmarshal(raw, &in); err != nil {
		s.reply(chat.OutboundFrame{Event: "error", Status: "error", Data: map[string]string{"message": "invalid frame"}})
		return
	}

	switch in.Event {
	case "join":
		s.handleJoin(ctx, in)
	case "leave":
		s.handleLeave(ctx, in)
	case "message":
		s.handleMessage(ctx, in)
	case "typing":
		s.handleTyping(ctx, in)
	case "read":
		s.handleRead(ctx, in)
	default:
		s.reply(chat.OutboundFrame{ID: in.ID, Event: "error", Status: "error", Data: map[string]string{"message": "unknown event"}})
	}
}

func (s *Session) handleJoin(ctx context.Context, in chat.InboundFrame) {
	var data chat.JoinData
	if err := json.Unmarshal(in.Data, &data); err != nil {
		s.reply(chat.OutboundFrame{ID: in.ID, Event: "error", Status: "error", Data: map[string]string{"message": "invalid join data"}})
		return
	}
	isPublic, err := s.convs.IsPublic(ctx, data.ConversationID)
	if err != nil {
		s.reply(chat.OutboundFrame{ID: in.ID, Event: "error", Status: "error", Data: map[string]string{"message": "conversation not found"}})
		return
	}
	if err := s.router.Join(ctx, s.userID, s.connID, data.ConversationID, isPublic); err != nil {
		s.reply(chat.OutboundFrame{ID: in.ID, Event: "error", Status: "error", Data: map[string]string{"message": err.Error()}})
		return
	}
	observability.WebSocketEventsTotal.WithLabelValues("join").Inc()

	pending, err := s.router.PendingAttachments(ctx, data.ConversationID)
	if err != nil {
		slog.Default().Warn("ws: pending attachments lookup failed", "conversation_id", data.ConversationID, "error", err)
	}
	s.reply(chat.OutboundFrame{ID: in.ID, Event: "join", Status: "joined", Data: chat.JoinReply{
		ConversationID:     data.ConversationID,
		PendingAttachments: pending,
	}})
}

func (s *Session) handleLeave(ctx context.Context, in chat.InboundFrame) {
	if err := s.router.Leave(ctx, s.userID, s.connID); err != nil {
		s.reply(chat.OutboundFrame{ID: in.ID, Event: "error", Status: "error", Data: map[string]string{"message": err.Error()}})
		return
	}
	observability.WebSocketEventsTotal.WithLabelValues("leave").Inc()
	s.reply(chat.OutboundFrame{ID: in.ID, Event: "leave", Status: "left"})
}

func (s *Session) handleMessage(ctx context.Context, in chat.InboundFrame) {
	var data chat.MessageData
	if err := json.Unmarshal(in.Data, &data); err != nil {
		s.reply(chat.OutboundFrame{ID: in.ID, Event: "error", Status: "error", Data: map[string]string{"message": "invalid message data"}})
		return
	}
	if err := s.router.SendMessage(ctx, s.userID, s.connID, data.Type, data.Content); err != nil {
		s.reply(chat.OutboundFrame{ID: in.ID, Event: "error", Status: "error", Data: map[string]string{"message": err.Error()}})
		return
	}
	observability.WebSocketEventsTotal.WithLabelValues("message").Inc()
	s.reply(chat.OutboundFrame{ID: in.ID, Event: "message", Status: "sent"})
}

func (s *Session) handleTyping(ctx context.Context, in chat.InboundFrame) {
	if err := s.router.Typing(ctx, s.userID, s.connID); err != nil {
		s.reply(chat.OutboundFrame{ID: in.ID, Event: "error", Status: "error", Data: map[string]string{"message": err.Error()}})
		return
	}
	observability.WebSocketEventsTotal.WithLabelValues("typing").Inc()
	s.reply(chat.OutboundFrame{ID: in.ID, Event: "typing", Status: "sent"})
}

func (s *Session) handleRead(ctx context.Context, in chat.InboundFrame) {
	var data chat.ReadData
	if err := json.Unmarshal(in.Data, &data); err != nil {
		s.reply(chat.OutboundFrame{ID: in.ID, Event: "error", Status: "error", Data: map[string]string{"message": "invalid read data"}})
		return
	}
	if err := s.router.MarkRead(ctx, s.userID, s.connID, data.MessageID); err != nil {
		s.reply(chat.OutboundFrame{ID: in.ID, Event: "error", Status: "error", Data: map[string]string{"message": err.Error()}})
		return
	}
	observability.WebSocketEventsTotal.WithLabelValues("read").Inc()
	s.reply(chat.OutboundFrame{ID: in.ID, Event: "read", Status: "read", Data: data})
}

func (s *Session) reply(frame chat.OutboundFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case s.sink <- payload:
	default:
		observability.WebSocketBackpressureDrops.WithLabelValues("ws_session", "full").Inc()
	}
}

func encodeError(id string, err error) []byte {
	frame := chat.OutboundFrame{ID: id, Event: "error", Status: "error", Data: map[string]string{"message": err.Error()}}
	payload, merr := json.Marshal(frame)
	if merr != nil {
		return []byte(`{"event":"error","status":"error","data":{"message":"internal error"}}`)
	}
	return payload
}
