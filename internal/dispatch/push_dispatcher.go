package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"relaycore/internal/bus"
	"relaycore/internal/models"
	"relaycore/internal/observability"
	"relaycore/internal/provider/push"
	"relaycore/internal/store"
)

// PushSender is the subset of the FCM client the dispatcher needs.
type PushSender interface {
	Send(ctx context.Context, msg push.Message) error
}

// PushDispatcher consumes the `push` topic, one job at a time (§4.3.1).
type PushDispatcher struct {
	notifications store.NotificationStore
	templates     store.TemplateStore
	producer      *bus.Producer
	sender        PushSender
}

// NewPushDispatcher wires a PushDispatcher.
func NewPushDispatcher(notifications store.NotificationStore, templates store.TemplateStore, producer *bus.Producer, sender PushSender) *PushDispatcher {
	return &PushDispatcher{notifications: notifications, templates: templates, producer: producer, sender: sender}
}

// HandleJob is the bus.JobHandler entry point (§4.3.1 steps 1-4).
func (d *PushDispatcher) HandleJob(ctx context.Context, payload []byte) error {
	var job PushJob
	if err := json.Unmarshal(payload, &job); err != nil {
		slog.Default().Error("push dispatch: invalid job", "error", err)
		observability.DispatchJobsTotal.WithLabelValues("push", "parse_error").Inc()
		return nil // dropped, not retried: malformed input can't self-correct
	}

	content, err := d.resolveContent(ctx, job)
	if err != nil {
		observability.DispatchJobsTotal.WithLabelValues("push", "content_error").Inc()
		return err
	}

	if job.RetryCount == 0 {
		recipients := job.Recipient
		if job.Type != RecipientToken {
			recipients = nil
		}
		notificationID, retryIDs, err := d.notifications.CreateWithRecipients(ctx, &models.Notification{
			Title:   job.Title,
			Content: content,
			Channel: models.ChannelPush,
		}, recipients)
		if err != nil {
			observability.DispatchJobsTotal.WithLabelValues("push", "persist_error").Inc()
			return err
		}
		job.RetryIDs = retryIDs
		_ = notificationID
	}

	return d.sendAll(ctx, job, content)
}

func (d *PushDispatcher) resolveContent(ctx context.Context, job PushJob) (string, error) {
	if job.TemplateID == nil {
		if job.Content == nil {
			return "", nil
		}
		return *job.Content, nil
	}
	tpl, err := d.templates.Get(ctx, *job.TemplateID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrTemplateNotFound
		}
		return "", err
	}
	return renderTemplate(tpl.Content, job.TemplateProps), nil
}

func (d *PushDispatcher) sendAll(ctx context.Context, job PushJob, content string) error {
	var lastErr error
	for recipient, id := range job.RetryIDs {
		msg := push.Message{
			Notification: &push.Notification{Title: job.Title, Body: content},
		}
		switch job.Type {
		case RecipientTopic:
			msg.Topic = recipient
		case RecipientCondition:
			msg.Condition = recipient
		default:
			msg.Token = recipient
		}

		if err := d.sender.Send(ctx, msg); err != nil {
			lastErr = d.handleSendFailure(ctx, job, recipient, id, err)
			continue
		}
		now := time.Now().UTC()
		if err := d.notifications.UpdateStatus(ctx, id, models.StatusSent, &now); err != nil {
			slog.Default().Error("push dispatch: update status failed", "id", id, "error", err)
		}
		observability.DispatchJobsTotal.WithLabelValues("push", "sent").Inc()
	}
	return lastErr
}

func (d *PushDispatcher) handleSendFailure(ctx context.Context, job PushJob, recipient string, id int64, sendErr error) error {
	job.RetryCount++
	if job.RetryCount >= maxRetryCount {
		if err := d.notifications.UpdateStatus(ctx, id, models.StatusFailed, nil); err != nil {
			slog.Default().Error("push dispatch: mark failed error", "id", id, "error", err)
		}
		observability.DispatchJobsTotal.WithLabelValues("push", "failed").Inc()
		return ErrRetryExhausted
	}

	retry := job
	retry.Recipient = []string{recipient}
	retry.RetryIDs = map[string]int64{recipient: id}
	payload, err := json.Marshal(retry)
	if err != nil {
		return err
	}
	if err := d.producer.Publish(ctx, bus.TopicPush, payload); err != nil {
		return err
	}
	observability.DispatchRetryTotal.WithLabelValues("push").Inc()
	return sendErr
}
