package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

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

type fakeNotifier struct {
	tokens map[string][]string
	sent   []string
}

func (f *fakeNotifier) GetUserDeviceTokens(_ context.Context, userID string) ([]string, error) {
	return f.tokens[userID], nil
}

func (f *fakeNotifier) SendPushNotification(_ context.Context, tokens []string, title, body string) error {
	f.sent = append(f.sent, tokens...)
	return nil
}

func newTestRouter(t *testing.T) (*Router, store.ConversationStore, *gorm.DB) {
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
	convs := store.NewConversationStore(db)
	attachments := store.NewAttachmentStore(db)

	r := New(context.Background(), presenceStore, convs, attachments, &fakeNotifier{tokens: map[string][]string{}})
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return r, convs, db
}

func TestRouter_ConnectJoinSendMessageLeaveDisconnect(t *testing.T) {
	r, convs, db := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.Conversation{ID: 1, Title: "room"}).Error)
	require.NoError(t, convs.AddMember(ctx, 1, "u1"))

	sinkA := make(chan []byte, 8)
	sinkB := make(chan []byte, 8)

	connA, err := r.Connect(ctx, "u1", sinkA)
	require.NoError(t, err)
	connB, err := r.Connect(ctx, "u2", sinkB)
	require.NoError(t, err)

	require.NoError(t, r.Join(ctx, "u1", connA, 1, true))
	require.NoError(t, r.Join(ctx, "u2", connB, 1, true))

	content, err := json.Marshal(TextContent{Message: "hi"})
	require.NoError(t, err)
	require.NoError(t, r.SendMessage(ctx, "u1", connA, "message", content))

	select {
	case payload := <-sinkB:
		assert.Contains(t, string(payload), `"message":"hi"`)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast delivery")
	}

	require.NoError(t, r.Leave(ctx, "u1", connA))
	r.Disconnect(ctx, "u1", connA)
	r.Disconnect(ctx, "u2", connB)
}

func TestRouter_JoinPrivateRoomWithoutMembershipFails(t *testing.T) {
	r, _, _ := newTestRouter(t)
	ctx := context.Background()

	sink := make(chan []byte, 1)
	conn, err := r.Connect(ctx, "u9", sink)
	require.NoError(t, err)

	err = r.Join(ctx, "u9", conn, 9, false)
	require.Error(t, err)
	var joinErr *JoinError
	assert.ErrorAs(t, err, &joinErr)
}

func TestRouter_SendMediaMessagePersistsAttachments(t *testing.T) {
	r, convs, db := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.Conversation{ID: 1, Title: "room"}).Error)
	require.NoError(t, convs.AddMember(ctx, 1, "u1"))

	sink := make(chan []byte, 8)
	conn, err := r.Connect(ctx, "u1", sink)
	require.NoError(t, err)
	require.NoError(t, r.Join(ctx, "u1", conn, 1, true))

	items := []MediaItem{{URL: "https://example.com/a.png", Size: 1024, Type: "image/png"}}
	content, err := json.Marshal(items)
	require.NoError(t, err)
	require.NoError(t, r.SendMessage(ctx, "u1", conn, "media", content))

	select {
	case <-sink:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast delivery")
	}

	require.Eventually(t, func() bool {
		var msgs []models.Message
		require.NoError(t, db.Where("conversation_id = ?", 1).Find(&msgs).Error)
		if len(msgs) != 1 {
			return false
		}
		var atts []models.Attachment
		require.NoError(t, db.Where("message_id = ?", msgs[0].ID).Find(&atts).Error)
		return len(atts) == 1 && atts[0].URL == "https://example.com/a.png"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRouter_TypingBroadcastsWithoutPersisting(t *testing.T) {
	r, convs, db := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.Conversation{ID: 1, Title: "room"}).Error)
	require.NoError(t, convs.AddMember(ctx, 1, "u1"))
	require.NoError(t, convs.AddMember(ctx, 1, "u2"))

	sinkA := make(chan []byte, 8)
	sinkB := make(chan []byte, 8)
	connA, err := r.Connect(ctx, "u1", sinkA)
	require.NoError(t, err)
	connB, err := r.Connect(ctx, "u2", sinkB)
	require.NoError(t, err)
	require.NoError(t, r.Join(ctx, "u1", connA, 1, true))
	require.NoError(t, r.Join(ctx, "u2", connB, 1, true))

	require.NoError(t, r.Typing(ctx, "u1", connA))

	select {
	case payload := <-sinkB:
		assert.Contains(t, string(payload), `"type":"typing"`)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for typing broadcast")
	}

	var msgs []models.Message
	require.NoError(t, db.Find(&msgs).Error)
	assert.Empty(t, msgs, "typing indicators must not be persisted")
}

func TestRouter_MarkReadFlipsFlagAndBroadcasts(t *testing.T) {
	r, convs, db := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.Conversation{ID: 1, Title: "room"}).Error)
	require.NoError(t, convs.AddMember(ctx, 1, "u1"))
	require.NoError(t, convs.AddMember(ctx, 1, "u2"))

	msg := &models.Message{ConversationID: 1, SenderID: "u2", Type: models.MessageTypeMessage, SentAt: time.Now()}
	require.NoError(t, convs.CreateMessage(ctx, msg))

	sinkA := make(chan []byte, 8)
	sinkB := make(chan []byte, 8)
	connA, err := r.Connect(ctx, "u1", sinkA)
	require.NoError(t, err)
	connB, err := r.Connect(ctx, "u2", sinkB)
	require.NoError(t, err)
	require.NoError(t, r.Join(ctx, "u1", connA, 1, true))
	require.NoError(t, r.Join(ctx, "u2", connB, 1, true))

	require.NoError(t, r.MarkRead(ctx, "u1", connA, msg.ID))

	select {
	case payload := <-sinkB:
		assert.Contains(t, string(payload), `"type":"read"`)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for read receipt broadcast")
	}

	var reloaded models.Message
	require.NoError(t, db.First(&reloaded, msg.ID).Error)
	assert.True(t, reloaded.IsRead)
}

func TestRouter_PendingAttachmentsReturnsUnsentUploads(t *testing.T) {
	r, convs, db := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.Conversation{ID: 1, Title: "room"}).Error)
	require.NoError(t, convs.AddMember(ctx, 1, "u1"))

	convID := int32(1)
	require.NoError(t, db.Create(&models.Attachment{ConversationID: &convID, URL: "https://example.com/draft.png", Size: 10, Type: "image/png"}).Error)

	atts, err := r.PendingAttachments(ctx, 1)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "https://example.com/draft.png", atts[0].URL)
}

func TestRouter_SendMessageWithoutActiveRoomFails(t *testing.T) {
	r, _, _ := newTestRouter(t)
	ctx := context.Background()

	sink := make(chan []byte, 1)
	conn, err := r.Connect(ctx, "u1", sink)
	require.NoError(t, err)

	content, _ := json.Marshal(TextContent{Message: "hi"})
	err = r.SendMessage(ctx, "u1", conn, "message", content)
	require.Error(t, err)
	var msgErr *MessageError
	assert.ErrorAs(t, err, &msgErr)
}
