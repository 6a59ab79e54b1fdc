package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"relaycore/internal/bus"
	"relaycore/internal/models"
	"relaycore/internal/provider/push"
	"relaycore/internal/store"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePushSender struct {
	err   error
	calls int
}

func (f *fakePushSender) Send(ctx context.Context, msg push.Message) error {
	f.calls++
	return f.err
}

func TestPushDispatcher_NewJobPersistsAndSendsSuccessfully(t *testing.T) {
	db := newTestDB(t)
	notifications := store.NewNotificationStore(db)
	templates := store.NewTemplateStore(db)
	producer := bus.NewProducerWithClient(mocks.NewSyncProducer(t, bus.NewProducerConfig()))
	sender := &fakePushSender{}
	d := NewPushDispatcher(notifications, templates, producer, sender)

	content := "your code is 4242"
	job := PushJob{
		Recipient: []string{"tok-1"},
		Type:      RecipientToken,
		Title:     "Code",
		Content:   &content,
	}
	payload, err := json.Marshal(job)
	require.NoError(t, err)

	require.NoError(t, d.HandleJob(context.Background(), payload))
	assert.Equal(t, 1, sender.calls)
}

func TestPushDispatcher_TemplateNotFound(t *testing.T) {
	db := newTestDB(t)
	notifications := store.NewNotificationStore(db)
	templates := store.NewTemplateStore(db)
	producer := bus.NewProducerWithClient(mocks.NewSyncProducer(t, bus.NewProducerConfig()))
	sender := &fakePushSender{}
	d := NewPushDispatcher(notifications, templates, producer, sender)

	missing := int32(999)
	job := PushJob{Recipient: []string{"tok-1"}, Type: RecipientToken, TemplateID: &missing}
	payload, err := json.Marshal(job)
	require.NoError(t, err)

	err = d.HandleJob(context.Background(), payload)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
	assert.Zero(t, sender.calls)
}

func TestPushDispatcher_RetryRepublishesBelowThreshold(t *testing.T) {
	db := newTestDB(t)
	notifications := store.NewNotificationStore(db)
	templates := store.NewTemplateStore(db)
	broker := mocks.NewSyncProducer(t, bus.NewProducerConfig())
	broker.ExpectSendMessageAndSucceed()
	producer := bus.NewProducerWithClient(broker)
	sender := &fakePushSender{err: assert.AnError}
	d := NewPushDispatcher(notifications, templates, producer, sender)

	content := "hi"
	job := PushJob{Recipient: []string{"tok-1"}, Type: RecipientToken, Content: &content}
	payload, err := json.Marshal(job)
	require.NoError(t, err)

	err = d.HandleJob(context.Background(), payload)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestPushDispatcher_RetryExhaustedMarksFailed(t *testing.T) {
	db := newTestDB(t)
	notifications := store.NewNotificationStore(db)
	templates := store.NewTemplateStore(db)
	producer := bus.NewProducerWithClient(mocks.NewSyncProducer(t, bus.NewProducerConfig()))
	sender := &fakePushSender{err: errors.New("fcm down")}
	d := NewPushDispatcher(notifications, templates, producer, sender)

	content := "hi"
	notificationID, retryIDs, err := notifications.CreateWithRecipients(context.Background(), &models.Notification{
		Title: "t", Content: content, Channel: models.ChannelPush,
	}, []string{"tok-1"})
	require.NoError(t, err)
	_ = notificationID

	job := PushJob{
		Recipient:  []string{"tok-1"},
		Type:       RecipientToken,
		Content:    &content,
		RetryCount: 2,
		RetryIDs:   retryIDs,
	}
	payload, err := json.Marshal(job)
	require.NoError(t, err)

	err = d.HandleJob(context.Background(), payload)
	assert.ErrorIs(t, err, ErrRetryExhausted)

	row, err := notifications.FindByRecipientAndNotification(context.Background(), "tok-1", notificationID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, row.Status)
}
