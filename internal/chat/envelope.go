package chat

import (
	"encoding/json"

	"relaycore/internal/models"
)

// InboundFrame is a decoded client text frame (§6.1).
type InboundFrame struct {
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// OutboundFrame is the reply envelope the WS session layer writes back.
type OutboundFrame struct {
	ID     string      `json:"id"`
	Event  string      `json:"event"`
	Data   interface{} `json:"data"`
	Status string      `json:"status"`
}

// JoinData is the payload of an inbound "join" frame.
type JoinData struct {
	ConversationID int32 `json:"conversation_id"`
}

// JoinReply is the payload of a successful "join" outbound frame. It
// surfaces any attachments already uploaded to the conversation but not
// yet attached to a sent message, so a client resuming an
// upload-before-send draft doesn't need a separate round trip.
type JoinReply struct {
	ConversationID     int32                `json:"conversation_id"`
	PendingAttachments []*models.Attachment `json:"pending_attachments,omitempty"`
}

// MessageData is the payload of an inbound "message" frame.
type MessageData struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// TextContent is MessageData.Content when Type == "message".
type TextContent struct {
	Message string `json:"message"`
}

// MediaItem is one element of MessageData.Content when Type == "media".
type MediaItem struct {
	URL  string `json:"url"`
	Size int32  `json:"size"`
	Type string `json:"type"`
}

// ReadData is the payload of an inbound "read" frame.
type ReadData struct {
	MessageID int64 `json:"message_id"`
}

// textEnvelope is the broadcast envelope (§6.1) for a text message.
type textEnvelope struct {
	SenderID  string `json:"sender_id"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// mediaEnvelope is the broadcast envelope (§6.1) for a media message.
type mediaEnvelope struct {
	SenderID  string      `json:"sender_id"`
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Media     []MediaItem `json:"media"`
}

// typingEnvelope is the broadcast envelope for a typing indicator. Never
// persisted: it's a liveness signal, not chat history.
type typingEnvelope struct {
	SenderID  string `json:"sender_id"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// readEnvelope is the broadcast envelope for a read receipt.
type readEnvelope struct {
	SenderID  string `json:"sender_id"`
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
	Timestamp string `json:"timestamp"`
}
