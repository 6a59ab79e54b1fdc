package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"relaycore/internal/bus"
	"relaycore/internal/models"
	"relaycore/internal/observability"
	"relaycore/internal/provider/email"
	"relaycore/internal/store"
)

// EmailSender is the subset of the SendGrid client the dispatcher needs.
type EmailSender interface {
	Send(req email.SendRequest) error
}

// EmailDispatcher consumes the `email` topic (§4.3.2). Unlike push, a 2xx
// here is only acceptance — UserNotification stays pending until the
// delivery webhook (§4.3.3) finalizes sent/failed.
type EmailDispatcher struct {
	notifications store.NotificationStore
	templates     store.TemplateStore
	producer      *bus.Producer
	sender        EmailSender
}

// NewEmailDispatcher wires an EmailDispatcher.
func NewEmailDispatcher(notifications store.NotificationStore, templates store.TemplateStore, producer *bus.Producer, sender EmailSender) *EmailDispatcher {
	return &EmailDispatcher{notifications: notifications, templates: templates, producer: producer, sender: sender}
}

// HandleJob is the bus.JobHandler entry point.
func (d *EmailDispatcher) HandleJob(ctx context.Context, payload []byte) error {
	var job EmailJob
	if err := json.Unmarshal(payload, &job); err != nil {
		slog.Default().Error("email dispatch: invalid job", "error", err)
		observability.DispatchJobsTotal.WithLabelValues("email", "parse_error").Inc()
		return nil
	}

	content, err := d.resolveContent(ctx, job)
	if err != nil {
		observability.DispatchJobsTotal.WithLabelValues("email", "content_error").Inc()
		return err
	}

	if job.RetryCount == 0 {
		recipients := make([]string, len(job.To))
		for i, to := range job.To {
			recipients[i] = to.Email
		}
		notificationID, retryIDs, err := d.notifications.CreateWithRecipients(ctx, &models.Notification{
			Title:   job.Subject,
			Content: content,
			Channel: models.ChannelEmail,
		}, recipients)
		if err != nil {
			observability.DispatchJobsTotal.WithLabelValues("email", "persist_error").Inc()
			return err
		}
		job.RetryIDs = retryIDs
		_ = notificationID
	}

	req := d.buildRequest(job, content)
	if err := d.sender.Send(req); err != nil {
		return d.handleSendFailure(ctx, job, err)
	}
	observability.DispatchJobsTotal.WithLabelValues("email", "accepted").Inc()
	return nil
}

func (d *EmailDispatcher) resolveContent(ctx context.Context, job EmailJob) (string, error) {
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

func (d *EmailDispatcher) buildRequest(job EmailJob, content string) email.SendRequest {
	to := make([]email.Address, len(job.To))
	for i, addr := range job.To {
		to[i] = email.Address{Email: addr.Email, Name: addr.Name}
	}
	contentType := job.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}

	req := email.SendRequest{
		Personalizations: []email.Personalization{{To: to}},
		From:             email.Address{Email: job.From.Email, Name: job.From.Name},
		Subject:          job.Subject,
		Content:          []email.Content{{Type: contentType, Value: content}},
	}
	for _, a := range job.Attachments {
		disposition := a.Disposition
		if disposition == "" {
			disposition = "attachment"
		}
		req.Attachments = append(req.Attachments, email.Attachment{
			Content: a.Content, Filename: a.Filename, Type: a.Type, Disposition: disposition,
		})
	}
	if job.ReplyTo != nil {
		req.ReplyTo = &email.Address{Email: job.ReplyTo.Email, Name: job.ReplyTo.Name}
	}
	return req
}

func (d *EmailDispatcher) handleSendFailure(ctx context.Context, job EmailJob, sendErr error) error {
	job.RetryCount++
	if job.RetryCount >= maxRetryCount {
		for _, id := range job.RetryIDs {
			if err := d.notifications.UpdateStatus(ctx, id, models.StatusFailed, nil); err != nil {
				slog.Default().Error("email dispatch: mark failed error", "id", id, "error", err)
			}
		}
		observability.DispatchJobsTotal.WithLabelValues("email", "failed").Inc()
		return ErrRetryExhausted
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := d.producer.Publish(ctx, bus.TopicEmail, payload); err != nil {
		return err
	}
	observability.DispatchRetryTotal.WithLabelValues("email").Inc()
	return sendErr
}
