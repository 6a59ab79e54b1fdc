package store

import (
	"context"
	"testing"
	"time"

	"relaycore/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Conversation{},
		&models.UserConversation{},
		&models.Message{},
		&models.Attachment{},
		&models.Template{},
		&models.Notification{},
		&models.UserNotification{},
		&models.UserPreferences{},
		&models.UserDeviceToken{},
	))
	return db
}

func TestConversationStore_MembershipRoundTrip(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.Conversation{ID: 42, Title: "room"}).Error)
	cs := NewConversationStore(db)
	ctx := context.Background()

	ok, err := cs.IsMember(ctx, 42, "user-a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cs.AddMember(ctx, 42, "user-a"))
	ok, err = cs.IsMember(ctx, 42, "user-a")
	require.NoError(t, err)
	assert.True(t, ok)

	members, err := cs.Members(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-a"}, members)
}

func TestConversationStore_CreateMessageAndLatestPointer(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.Conversation{ID: 7, Title: "room"}).Error)
	cs := NewConversationStore(db)
	ctx := context.Background()

	content := "hi"
	msg := &models.Message{ConversationID: 7, SenderID: "user-a", Content: &content, Type: models.MessageTypeMessage, IsRead: true}
	require.NoError(t, cs.CreateMessage(ctx, msg))
	assert.NotZero(t, msg.ID)
	assert.False(t, msg.SentAt.IsZero())

	require.NoError(t, cs.UpdateLatestMessage(ctx, 7, msg.ID))

	var conv models.Conversation
	require.NoError(t, db.First(&conv, 7).Error)
	require.NotNil(t, conv.LatestMessageID)
	assert.Equal(t, msg.ID, *conv.LatestMessageID)
}

func TestNotificationStore_CreateWithRecipientsAndStatusMonotonicity(t *testing.T) {
	db := newTestDB(t)
	ns := NewNotificationStore(db)
	ctx := context.Background()

	n := &models.Notification{Title: "t", Content: "c", Channel: models.ChannelPush}
	id, retryIDs, err := ns.CreateWithRecipients(ctx, n, []string{"tok-1", "tok-2"})
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Len(t, retryIDs, 2)

	sentID := retryIDs["tok-1"]
	now := time.Now().UTC()
	require.NoError(t, ns.UpdateStatus(ctx, sentID, models.StatusSent, &now))

	// A later attempt to mark it failed must not regress a terminal "sent".
	require.NoError(t, ns.UpdateStatus(ctx, sentID, models.StatusFailed, nil))

	row, err := ns.FindByRecipientAndNotification(ctx, "tok-1", id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, row.Status)
}

func TestPreferencesStore_UpsertDedupesChannels(t *testing.T) {
	db := newTestDB(t)
	ps := NewPreferencesStore(db)
	ctx := context.Background()

	prefs := &models.UserPreferences{
		UserID:                "user-a",
		Email:                 "a@example.com",
		TransactionalChannels: models.ChannelSet{"email", "push", "email"},
		TimeZone:              "America/New_York",
	}
	require.NoError(t, ps.Upsert(ctx, prefs))

	got, err := ps.Get(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, models.ChannelSet{"email", "push"}, got.TransactionalChannels)
}

func TestDeviceTokenStore_TokensFor(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.UserDeviceToken{UserID: "user-a", Token: "tok-1"}).Error)
	require.NoError(t, db.Create(&models.UserDeviceToken{UserID: "user-a", Token: "tok-2"}).Error)

	dts := NewDeviceTokenStore(db)
	tokens, err := dts.TokensFor(context.Background(), "user-a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tok-1", "tok-2"}, tokens)
}
