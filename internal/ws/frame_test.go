package ws

import (
	"context"
	"encoding/json"
	"testing"

	"relaycore/internal/chat"
	"relaycore/internal/models"
	"relaycore/internal/presence"
	"relaycore/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type noopNotifier struct{}

func (noopNotifier) GetUserDeviceTokens(context.Context, string) ([]string, error) { return nil, nil }
func (noopNotifier) SendPushNotification(context.Context, []string, string, string) error {
	return nil
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	presenceStore := presence.New(rdb)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Conversation{}, &models.UserConversation{}, &models.Message{}, &models.Attachment{}))
	require.NoError(t, db.Create(&models.Conversation{ID: 1, Title: "room", IsPublic: true}).Error)
	convs := store.NewConversationStore(db)
	attachments := store.NewAttachmentStore(db)

	router := chat.New(context.Background(), presenceStore, convs, attachments, noopNotifier{})
	t.Cleanup(func() { _ = router.Shutdown(context.Background()) })

	sink := make(chan []byte, 8)
	connID, err := router.Connect(context.Background(), "u1", sink)
	require.NoError(t, err)

	return &Session{router: router, convs: convs, userID: "u1", connID: connID, sink: sink}
}

func readReply(t *testing.T, s *Session) chat.OutboundFrame {
	t.Helper()
	select {
	case payload := <-s.sink:
		var frame chat.OutboundFrame
		require.NoError(t, json.Unmarshal(payload, &frame))
		return frame
	default:
		t.Fatal("no reply queued")
		return chat.OutboundFrame{}
	}
}

func TestSession_HandleJoinThenMessage(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	joinData, _ := json.Marshal(chat.JoinData{ConversationID: 1})
	s.handleFrame(ctx, marshalFrame(t, "1", "join", joinData))
	reply := readReply(t, s)
	assert.Equal(t, "joined", reply.Status)

	msgData, _ := json.Marshal(chat.MessageData{Type: "message", Content: rawJSON(t, chat.TextContent{Message: "hi"})})
	s.handleFrame(ctx, marshalFrame(t, "2", "message", msgData))
	reply = readReply(t, s)
	assert.Equal(t, "sent", reply.Status)
}

func TestSession_HandleMessageWithoutJoinFails(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	msgData, _ := json.Marshal(chat.MessageData{Type: "message", Content: rawJSON(t, chat.TextContent{Message: "hi"})})
	s.handleFrame(ctx, marshalFrame(t, "1", "message", msgData))
	reply := readReply(t, s)
	assert.Equal(t, "error", reply.Status)
}

func TestSession_HandleTypingRequiresActiveRoom(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	joinData, _ := json.Marshal(chat.JoinData{ConversationID: 1})
	s.handleFrame(ctx, marshalFrame(t, "1", "join", joinData))
	readReply(t, s)

	s.handleFrame(ctx, marshalFrame(t, "2", "typing", nil))
	reply := readReply(t, s)
	assert.Equal(t, "sent", reply.Status)
}

func TestSession_HandleReadWithoutJoinFails(t *testing.T) {
	s := newTestSession(t)

	readData, _ := json.Marshal(chat.ReadData{MessageID: 1})
	s.handleFrame(context.Background(), marshalFrame(t, "1", "read", readData))
	reply := readReply(t, s)
	assert.Equal(t, "error", reply.Status)
}

func TestSession_HandleUnknownEvent(t *testing.T) {
	s := newTestSession(t)
	s.handleFrame(context.Background(), marshalFrame(t, "1", "bogus", nil))
	reply := readReply(t, s)
	assert.Equal(t, "error", reply.Status)
}

func marshalFrame(t *testing.T, id, event string, data json.RawMessage) []byte {
	t.Helper()
	payload, err := json.Marshal(chat.InboundFrame{ID: id, Event: event, Data: data})
	require.NoError(t, err)
	return payload
}

func rawJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
