package planner

import (
	"context"
	"testing"
	"time"

	"relaycore/internal/bus"
	"relaycore/internal/models"
	"relaycore/internal/store"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.UserPreferences{}, &models.UserDeviceToken{}))
	return db
}

func TestPlanner_NoRecipientIsNotImplemented(t *testing.T) {
	db := newTestDB(t)
	p := New(store.NewPreferencesStore(db), store.NewDeviceTokenStore(db), bus.NewProducerWithClient(mocks.NewSyncProducer(t, bus.NewProducerConfig())))

	err := p.Plan(context.Background(), SendNotification{Type: models.NotificationTypeTransactional, Channels: []string{"email"}})
	assert.ErrorIs(t, err, ErrNotImplemented)
}

func TestPlanner_MissingPreferencesIsNotFound(t *testing.T) {
	db := newTestDB(t)
	p := New(store.NewPreferencesStore(db), store.NewDeviceTokenStore(db), bus.NewProducerWithClient(mocks.NewSyncProducer(t, bus.NewProducerConfig())))

	err := p.Plan(context.Background(), SendNotification{Recipient: "ghost", Type: models.NotificationTypeTransactional, Channels: []string{"email"}})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPlanner_DoNotDisturbBlocksEnqueue(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.UserPreferences{
		UserID:                "user-a",
		Email:                 "a@example.com",
		TransactionalChannels: models.ChannelSet{"email"},
		TimeZone:              "America/New_York",
		DoNotDisturbStart:     strPtr("22:00:00"),
		DoNotDisturbEnd:       strPtr("06:00:00"),
	}).Error)

	p := New(store.NewPreferencesStore(db), store.NewDeviceTokenStore(db), bus.NewProducerWithClient(mocks.NewSyncProducer(t, bus.NewProducerConfig())))
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	p.now = func() time.Time { return time.Date(2026, 1, 15, 23, 30, 0, 0, loc) }

	err = p.Plan(context.Background(), SendNotification{
		Recipient: "user-a", Type: models.NotificationTypeTransactional, Channels: []string{"email"},
	})
	assert.ErrorIs(t, err, ErrDoNotDisturb)
}

func TestPlanner_NoChannelIntersection(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.UserPreferences{
		UserID:                "user-a",
		TransactionalChannels: models.ChannelSet{"push"},
		TimeZone:              "UTC",
	}).Error)

	p := New(store.NewPreferencesStore(db), store.NewDeviceTokenStore(db), bus.NewProducerWithClient(mocks.NewSyncProducer(t, bus.NewProducerConfig())))
	err := p.Plan(context.Background(), SendNotification{
		Recipient: "user-a", Type: models.NotificationTypeTransactional, Channels: []string{"email"},
	})
	assert.ErrorIs(t, err, ErrNoChannelIntersection)
}

func TestPlanner_EnqueuesEmailAndPushJobs(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.UserPreferences{
		UserID:                "user-a",
		Email:                 "a@example.com",
		TransactionalChannels: models.ChannelSet{"email", "push"},
		TimeZone:              "UTC",
	}).Error)
	require.NoError(t, db.Create(&models.UserDeviceToken{UserID: "user-a", Token: "tok-1"}).Error)

	broker := mocks.NewSyncProducer(t, bus.NewProducerConfig())
	broker.ExpectSendMessageAndSucceed()
	broker.ExpectSendMessageAndSucceed()
	p := New(store.NewPreferencesStore(db), store.NewDeviceTokenStore(db), bus.NewProducerWithClient(broker))

	content := "hello"
	err := p.Plan(context.Background(), SendNotification{
		Recipient: "user-a",
		Type:      models.NotificationTypeTransactional,
		Channels:  []string{"email", "push"},
		Title:     "hi",
		Content:   &content,
	})
	require.NoError(t, err)
}
