package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"testing"

	"relaycore/internal/models"
	"relaycore/internal/store"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookHandler_FinalizesDeliveredAndBounced(t *testing.T) {
	db := newTestDB(t)
	notifications := store.NewNotificationStore(db)
	notificationID, retryIDs, err := notifications.CreateWithRecipients(context.Background(), &models.Notification{
		Title: "s", Content: "c", Channel: models.ChannelEmail,
	}, []string{"a@example.com", "b@example.com"})
	require.NoError(t, err)

	app := fiber.New()
	h := NewWebhookHandler(notifications)
	app.Post("/webhook/sendgrid", h.Handle)

	events := []map[string]interface{}{
		{
			"email":     "a@example.com",
			"timestamp": 1700000000,
			"event":     "delivered",
			"status":    "delivered",
			"custom_args": map[string]string{
				"notification_id": strconv.FormatInt(notificationID, 10),
			},
		},
		{
			"email":     "b@example.com",
			"timestamp": 1700000001,
			"event":     "bounce",
			"status":    "bounce",
			"custom_args": map[string]string{
				"notification_id": strconv.FormatInt(notificationID, 10),
			},
		},
	}
	body, err := json.Marshal(events)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/webhook/sendgrid", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	rowA, err := notifications.FindByRecipientAndNotification(context.Background(), "a@example.com", notificationID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, rowA.Status)
	require.NotNil(t, rowA.DeliveredAt)

	rowB, err := notifications.FindByRecipientAndNotification(context.Background(), "b@example.com", notificationID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rowB.Status)

	_ = retryIDs
}

func TestWebhookHandler_UnknownNotificationIDIgnoredNotFatal(t *testing.T) {
	db := newTestDB(t)
	notifications := store.NewNotificationStore(db)

	app := fiber.New()
	h := NewWebhookHandler(notifications)
	app.Post("/webhook/sendgrid", h.Handle)

	events := []map[string]interface{}{
		{
			"email":     "ghost@example.com",
			"timestamp": 1700000000,
			"status":    "delivered",
			"custom_args": map[string]string{
				"notification_id": "99999",
			},
		},
	}
	body, err := json.Marshal(events)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/webhook/sendgrid", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestWebhookHandler_InvalidPayloadReturnsBadRequest(t *testing.T) {
	db := newTestDB(t)
	notifications := store.NewNotificationStore(db)

	app := fiber.New()
	h := NewWebhookHandler(notifications)
	app.Post("/webhook/sendgrid", h.Handle)

	req := httptest.NewRequest("POST", "/webhook/sendgrid", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
