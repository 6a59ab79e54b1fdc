package dispatch

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"relaycore/internal/models"
	"relaycore/internal/store"

	"github.com/gofiber/fiber/v2"
)

// providerEvent is one element of a SendGrid webhook batch (§4.3.3).
type providerEvent struct {
	Email      string `json:"email"`
	Timestamp  int64  `json:"timestamp"`
	Event      string `json:"event"`
	Status     string `json:"status"`
	CustomArgs struct {
		NotificationID string `json:"notification_id"`
	} `json:"custom_args"`
	SGEventID string `json:"sg_event_id"`
}

// WebhookHandler ingests the SendGrid delivery webhook and finalizes
// UserNotification rows.
type WebhookHandler struct {
	notifications store.NotificationStore
}

// NewWebhookHandler wires a WebhookHandler.
func NewWebhookHandler(notifications store.NotificationStore) *WebhookHandler {
	return &WebhookHandler{notifications: notifications}
}

// Handle processes POST /webhook/sendgrid (§6.4): a batch of provider
// events, each finalized independently so one bad event doesn't sink the
// rest of the batch.
func (h *WebhookHandler) Handle(c *fiber.Ctx) error {
	var events []providerEvent
	if err := c.BodyParser(&events); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}

	ctx := context.Background()
	for _, ev := range events {
		h.applyEvent(ctx, ev)
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *WebhookHandler) applyEvent(ctx context.Context, ev providerEvent) {
	if ev.CustomArgs.NotificationID == "" || ev.Email == "" {
		return
	}
	notificationID, err := strconv.ParseInt(ev.CustomArgs.NotificationID, 10, 64)
	if err != nil {
		slog.Default().Warn("email webhook: bad notification_id", "raw", ev.CustomArgs.NotificationID, "error", err)
		return
	}

	row, err := h.notifications.FindByRecipientAndNotification(ctx, ev.Email, notificationID)
	if err != nil {
		slog.Default().Warn("email webhook: row not found", "email", ev.Email, "notification_id", notificationID, "error", err)
		return
	}

	status := models.StatusFailed
	if ev.Status == "delivered" {
		status = models.StatusSent
	}
	deliveredAt := time.Unix(ev.Timestamp, 0).UTC()
	if err := h.notifications.UpdateStatus(ctx, row.ID, status, &deliveredAt); err != nil {
		slog.Default().Error("email webhook: update status failed", "user_notification_id", row.ID, "error", err)
	}
}
