// Package chat implements the Chat Router (spec §4.1): it terminates
// WebSocket sessions, translates client events into Presence-Store room
// operations, propagates chat payloads cross-instance via pub/sub, persists
// authoritative message state, and triggers push notifications for
// participants who are offline or not actively viewing the room.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"relaycore/internal/models"
	"relaycore/internal/observability"
	"relaycore/internal/presence"
	"relaycore/internal/store"

	"github.com/google/uuid"
)

// NotificationClient is the subset of the Notification RPC contract (§4.4)
// the router needs to push offline participants. The concrete circuit-broken
// implementation lives in internal/notifyrpc; this interface lets the router
// be tested without it.
type NotificationClient interface {
	GetUserDeviceTokens(ctx context.Context, userID string) ([]string, error)
	SendPushNotification(ctx context.Context, tokens []string, title, body string) error
}

// session is the router's local (process-scoped) record of one connection.
type session struct {
	userID     string
	connID     string
	activeRoom string
	sink       chan<- []byte
}

// roomSub is a locally-owned subscription task for one conversation channel.
type roomSub struct {
	unsub chan struct{}
}

// Router is the Chat Router. One Router is shared by every WS session task
// in a process.
type Router struct {
	presence    *presence.Store
	convs       store.ConversationStore
	attachments store.AttachmentStore
	notify      NotificationClient
	logger      *observability.WSLogger

	mu       sync.RWMutex
	sessions map[string]*session // conn_id -> session
	byUser   map[string]map[string]struct{} // user_id -> set of conn_id

	subMu sync.RWMutex
	subs  map[string]*roomSub // conv_id -> subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Router. ctx bounds the lifetime of every subscription task
// and the latest-message flusher; cancel it (or call Shutdown) to tear them
// down during graceful shutdown (§5). attachments may be nil, in which case
// media messages are persisted without their per-item Attachment rows and
// PendingAttachments always returns nothing.
func New(ctx context.Context, presenceStore *presence.Store, convs store.ConversationStore, attachments store.AttachmentStore, notify NotificationClient) *Router {
	rctx, cancel := context.WithCancel(ctx)
	return &Router{
		presence:    presenceStore,
		convs:       convs,
		attachments: attachments,
		notify:      notify,
		logger:      observability.NewWSLogger("chat_router"),
		sessions:    make(map[string]*session),
		byUser:      make(map[string]map[string]struct{}),
		subs:        make(map[string]*roomSub),
		ctx:         rctx,
		cancel:      cancel,
	}
}

// PendingAttachments returns the attachments uploaded to conversationID that
// aren't yet attached to a sent message — the upload-before-send flow for
// attachment-only conversations.
func (r *Router) PendingAttachments(ctx context.Context, conversationID int32) ([]*models.Attachment, error) {
	if r.attachments == nil {
		return nil, nil
	}
	atts, err := r.attachments.ForConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", Unavailable, err)
	}
	return atts, nil
}

// Connect allocates a fresh conn_id, registers it in the local session
// table, and marks the user online in the Presence Store (§4.1).
func (r *Router) Connect(ctx context.Context, userID string, sink chan<- []byte) (string, error) {
	connID := uuid.NewString()
	if err := r.presence.SetOnline(ctx, userID, connID); err != nil {
		return "", fmt.Errorf("%w: %v", Unavailable, err)
	}

	r.mu.Lock()
	r.sessions[connID] = &session{userID: userID, connID: connID, sink: sink}
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]struct{})
	}
	r.byUser[userID][connID] = struct{}{}
	r.mu.Unlock()

	r.logger.LogConnect(ctx, userID, "")
	observability.WebSocketEventsTotal.WithLabelValues("connect").Inc()
	return connID, nil
}

// Disconnect best-effort leaves the current room, removes the session, and
// clears online status if this was the user's last session. Idempotent.
func (r *Router) Disconnect(ctx context.Context, userID, connID string) {
	r.mu.Lock()
	sess, ok := r.sessions[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	activeRoom := sess.activeRoom
	delete(r.sessions, connID)
	if set := r.byUser[userID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byUser, userID)
		}
	}
	r.mu.Unlock()

	if activeRoom != "" {
		if empty, err := r.presence.LeaveRoom(ctx, userID, connID, activeRoom); err == nil && empty {
			r.unsubscribe(activeRoom)
		}
	}

	if err := r.presence.RemoveSession(ctx, userID, connID); err != nil {
		r.logger.LogError(ctx, userID, activeRoom, err, "disconnect")
	}
	r.logger.LogDisconnect(ctx, userID, activeRoom, "disconnect")
	observability.WebSocketEventsTotal.WithLabelValues("disconnect").Inc()
}

// Join verifies membership (inserting it when the room is public), marks
// this session's active room, and ensures a local subscriber task exists for
// the conversation's pub/sub channel (§4.1, §4.1.1).
func (r *Router) Join(ctx context.Context, userID, connID string, convID int32, isPublic bool) error {
	isMember, err := r.convs.IsMember(ctx, convID, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", Unavailable, err)
	}
	if !isMember {
		if !isPublic {
			return &JoinError{Reason: "not allowed"}
		}
		if err := r.convs.AddMember(ctx, convID, userID); err != nil {
			return fmt.Errorf("%w: %v", Unavailable, err)
		}
	}

	convKey := strconv.Itoa(int(convID))
	if err := r.presence.JoinRoom(ctx, userID, connID, convKey); err != nil {
		return fmt.Errorf("%w: %v", Unavailable, err)
	}

	r.mu.Lock()
	sess, ok := r.sessions[connID]
	if ok {
		sess.activeRoom = convKey
	}
	r.mu.Unlock()
	if !ok {
		return &JoinError{Reason: "session not found"}
	}

	r.ensureSubscription(convKey)
	observability.WebSocketRoomConnections.WithLabelValues(convKey).Inc()
	observability.WebSocketEventsTotal.WithLabelValues("join").Inc()
	return nil
}

// Leave is the inverse of Join for this session (§4.1).
func (r *Router) Leave(ctx context.Context, userID, connID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[connID]
	var convKey string
	if ok {
		convKey = sess.activeRoom
	}
	r.mu.Unlock()
	if !ok {
		return &LeaveError{Reason: "session not found"}
	}
	if convKey == "" {
		return &LeaveError{Reason: "no active room"}
	}

	empty, err := r.presence.LeaveRoom(ctx, userID, connID, convKey)
	if err != nil {
		return fmt.Errorf("%w: %v", Unavailable, err)
	}
	if empty {
		r.unsubscribe(convKey)
	}

	r.mu.Lock()
	if sess, ok := r.sessions[connID]; ok {
		sess.activeRoom = ""
	}
	r.mu.Unlock()

	observability.WebSocketRoomConnections.WithLabelValues(convKey).Dec()
	observability.WebSocketEventsTotal.WithLabelValues("leave").Inc()
	return nil
}

// SendMessage resolves the session's active room, validates and wraps the
// payload into a broadcast envelope, publishes it, and — for both msg_kind
// "message" and "media" — asynchronously persists the message (plus one
// Attachment row per media item), pushes offline participants, and stages
// the latest-message pointer update (§4.1).
func (r *Router) SendMessage(ctx context.Context, userID, connID string, kind string, content json.RawMessage) error {
	r.mu.RLock()
	sess, ok := r.sessions[connID]
	var convKey string
	if ok {
		convKey = sess.activeRoom
	}
	r.mu.RUnlock()
	if !ok || convKey == "" {
		return &MessageError{Reason: "no active room"}
	}

	now := time.Now().UTC()
	payload, plainText, media, err := buildEnvelope(userID, kind, content, now)
	if err != nil {
		return &MessageError{Reason: err.Error()}
	}

	if err := r.presence.Publish(ctx, convKey, payload); err != nil {
		return fmt.Errorf("%w: %v", Unavailable, err)
	}
	observability.MessageThroughput.WithLabelValues(convKey, kind).Inc()
	if err := r.presence.TouchRoom(ctx, convKey); err != nil {
		slog.Default().Warn("chat: touch room failed", "conversation_id", convKey, "error", err)
	}

	if kind == "message" || kind == "media" {
		convID, _ := strconv.Atoi(convKey)
		msgType := models.MessageTypeMessage
		if kind == "media" {
			msgType = models.MessageTypeMedia
		}
		r.wg.Add(1)
		go r.fanOutOffline(int32(convID), convKey, userID, plainText, msgType, media, now)
	}
	return nil
}

// Typing broadcasts an ephemeral typing indicator to the session's active
// room. Nothing is persisted: it's a liveness signal for other
// participants, not chat history.
func (r *Router) Typing(ctx context.Context, userID, connID string) error {
	convKey, ok := r.activeRoomOf(connID)
	if !ok || convKey == "" {
		return &MessageError{Reason: "no active room"}
	}

	payload, err := json.Marshal(typingEnvelope{
		SenderID:  userID,
		Type:      "typing",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return &MessageError{Reason: err.Error()}
	}
	if err := r.presence.Publish(ctx, convKey, payload); err != nil {
		return fmt.Errorf("%w: %v", Unavailable, err)
	}
	observability.WebSocketEventsTotal.WithLabelValues("typing").Inc()
	return nil
}

// MarkRead flips messageID's is_read flag and broadcasts a read receipt to
// the session's active room.
func (r *Router) MarkRead(ctx context.Context, userID, connID string, messageID int64) error {
	convKey, ok := r.activeRoomOf(connID)
	if !ok || convKey == "" {
		return &MessageError{Reason: "no active room"}
	}

	if err := r.convs.MarkRead(ctx, messageID); err != nil {
		return fmt.Errorf("%w: %v", Unavailable, err)
	}

	payload, err := json.Marshal(readEnvelope{
		SenderID:  userID,
		Type:      "read",
		MessageID: messageID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return &MessageError{Reason: err.Error()}
	}
	if err := r.presence.Publish(ctx, convKey, payload); err != nil {
		return fmt.Errorf("%w: %v", Unavailable, err)
	}
	observability.WebSocketEventsTotal.WithLabelValues("read").Inc()
	return nil
}

// activeRoomOf returns the conversation key of connID's current room, and
// whether the session exists at all.
func (r *Router) activeRoomOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[connID]
	if !ok {
		return "", false
	}
	return sess.activeRoom, true
}

func buildEnvelope(senderID, kind string, content json.RawMessage, now time.Time) ([]byte, string, []MediaItem, error) {
	ts := now.Format(time.RFC3339)
	switch kind {
	case "message":
		var tc TextContent
		if err := json.Unmarshal(content, &tc); err != nil || tc.Message == "" {
			return nil, "", nil, fmt.Errorf("invalid message content")
		}
		payload, err := json.Marshal(textEnvelope{SenderID: senderID, Type: "message", Message: tc.Message, Timestamp: ts})
		return payload, tc.Message, nil, err
	case "media":
		var items []MediaItem
		if err := json.Unmarshal(content, &items); err != nil || len(items) == 0 {
			return nil, "", nil, fmt.Errorf("invalid media content")
		}
		for _, it := range items {
			if it.URL == "" || it.Size <= 0 || it.Type == "" {
				return nil, "", nil, fmt.Errorf("invalid media item")
			}
		}
		payload, err := json.Marshal(mediaEnvelope{SenderID: senderID, Type: "media", Timestamp: ts, Media: items})
		return payload, "", items, err
	default:
		return nil, "", nil, fmt.Errorf("unknown message kind %q", kind)
	}
}

// fanOutOffline persists the message (and, for a media send, one Attachment
// row per item), notifies offline participants, and stages the
// latest-message pointer — the async branch of SendMessage. Persistence and
// RPC failures here are logged and swallowed: the realtime envelope has
// already been delivered (§4.1.3).
func (r *Router) fanOutOffline(convID int32, convKey, senderID, text string, msgType models.MessageType, media []MediaItem, sentAt time.Time) {
	defer r.wg.Done()
	ctx := context.Background()

	msg := &models.Message{
		ConversationID: convID,
		SenderID:       senderID,
		Type:           msgType,
		SentAt:         sentAt,
	}
	if msgType == models.MessageTypeMessage {
		msg.Content = &text
	}
	if err := r.convs.CreateMessage(ctx, msg); err != nil {
		slog.Default().Error("chat: persist message failed", "conversation_id", convID, "error", err)
		return
	}

	if r.attachments != nil {
		for _, item := range media {
			att := &models.Attachment{
				MessageID:      &msg.ID,
				ConversationID: &convID,
				URL:            item.URL,
				Size:           item.Size,
				Type:           item.Type,
			}
			if err := r.attachments.Create(ctx, att); err != nil {
				slog.Default().Error("chat: persist attachment failed", "message_id", msg.ID, "error", err)
			}
		}
	}

	if err := r.presence.StagePendingUpdate(ctx, convKey, msg.ID); err != nil {
		slog.Default().Error("chat: stage pending update failed", "conversation_id", convID, "error", err)
	}

	members, err := r.convs.Members(ctx, convID)
	if err != nil {
		slog.Default().Error("chat: list members failed", "conversation_id", convID, "error", err)
		return
	}
	active, err := r.presence.ActiveUsers(ctx, convKey)
	if err != nil {
		slog.Default().Error("chat: active users failed", "conversation_id", convID, "error", err)
		return
	}
	activeSet := make(map[string]struct{}, len(active))
	for _, u := range active {
		activeSet[u] = struct{}{}
	}

	if len(members) == len(activeSet) {
		// No offline recipients: mark the send fully delivered realtime.
		if err := r.convs.MarkRead(ctx, msg.ID); err != nil {
			slog.Default().Error("chat: mark read failed", "message_id", msg.ID, "error", err)
		}
	}

	if r.notify == nil {
		return
	}
	for _, userID := range members {
		if _, online := activeSet[userID]; online {
			continue
		}
		tokens, err := r.notify.GetUserDeviceTokens(ctx, userID)
		if err != nil {
			slog.Default().Warn("chat: get device tokens failed", "user_id", userID, "error", err)
			continue
		}
		if len(tokens) == 0 {
			continue
		}
		body := text
		if msgType == models.MessageTypeMedia {
			body = "Sent an attachment"
		}
		if err := r.notify.SendPushNotification(ctx, tokens, "New message", body); err != nil {
			slog.Default().Warn("chat: send push notification failed", "user_id", userID, "error", err)
		}
	}
}

// Shutdown cancels all subscription tasks and the flusher, and waits for
// in-flight offline-push fan-outs to finish (§5 graceful shutdown).
func (r *Router) Shutdown(ctx context.Context) error {
	r.cancel()
	r.wg.Wait()
	r.mu.RLock()
	active := len(r.sessions)
	r.mu.RUnlock()
	r.logger.LogLifecycle(ctx, "shutdown", map[string]interface{}{"active_sessions": active})
	return nil
}
