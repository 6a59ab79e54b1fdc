package store

import (
	"context"
	"errors"
	"time"

	"relaycore/internal/models"
	"relaycore/internal/observability"

	"gorm.io/gorm"
)

// TemplateStore reads notification templates.
type TemplateStore interface {
	Get(ctx context.Context, id int32) (*models.Template, error)
}

type templateStore struct {
	db     *gorm.DB
	logger *observability.RepoLogger
}

// NewTemplateStore returns a TemplateStore backed by db.
func NewTemplateStore(db *gorm.DB) TemplateStore {
	return &templateStore{db: db, logger: observability.NewRepoLogger("templates")}
}

func (s *templateStore) Get(ctx context.Context, id int32) (*models.Template, error) {
	start := time.Now()
	defer func() {
		observability.DatabaseQueryLatency.WithLabelValues("read", "templates").Observe(time.Since(start).Seconds())
	}()
	var tpl models.Template
	err := s.db.WithContext(ctx).First(&tpl, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.LogError(ctx, err, "get")
		return nil, err
	}
	return &tpl, nil
}

// NotificationStore writes Notification and UserNotification rows and
// finalizes delivery status from the dispatcher and from provider webhooks.
type NotificationStore interface {
	// CreateWithRecipients opens a transaction, inserts a Notification row
	// and one pending UserNotification per recipient, and returns the
	// notification id plus a recipient -> user_notification_id map — the
	// retry_ids of spec §4.3.1 step 3.
	CreateWithRecipients(ctx context.Context, n *models.Notification, recipients []string) (notificationID int64, retryIDs map[string]int64, err error)
	// UpdateStatus transitions a UserNotification's status (and, for sent,
	// stamps DeliveredAt). Enforces the monotone pending->sent|failed rule
	// of spec §8 invariant 5 by refusing to move a row already at "sent".
	UpdateStatus(ctx context.Context, id int64, status models.UserNotificationStatus, deliveredAt *time.Time) error
	// FindByRecipientAndNotification looks up the UserNotification row a
	// provider webhook event references (§4.3.3).
	FindByRecipientAndNotification(ctx context.Context, recipient string, notificationID int64) (*models.UserNotification, error)
}

type notificationStore struct {
	db     *gorm.DB
	logger *observability.RepoLogger
}

// NewNotificationStore returns a NotificationStore backed by db.
func NewNotificationStore(db *gorm.DB) NotificationStore {
	return &notificationStore{db: db, logger: observability.NewRepoLogger("notifications")}
}

func (s *notificationStore) track(op, table string) func() {
	start := time.Now()
	return func() {
		observability.DatabaseQueryLatency.WithLabelValues(op, table).Observe(time.Since(start).Seconds())
	}
}

func (s *notificationStore) CreateWithRecipients(ctx context.Context, n *models.Notification, recipients []string) (int64, map[string]int64, error) {
	defer s.track("create", "notifications")()

	retryIDs := make(map[string]int64, len(recipients))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if n.Created.IsZero() {
			n.Created = now
		}
		n.Updated = now
		if err := tx.Create(n).Error; err != nil {
			return err
		}
		for _, recipient := range recipients {
			un := models.UserNotification{
				Recipient:      recipient,
				NotificationID: n.ID,
				Status:         models.StatusPending,
			}
			if err := tx.Create(&un).Error; err != nil {
				return err
			}
			retryIDs[recipient] = un.ID
		}
		return nil
	})
	if err != nil {
		s.logger.LogError(ctx, err, "create_with_recipients")
		return 0, nil, err
	}
	s.logger.LogCreate(ctx, map[string]interface{}{"notification_id": n.ID, "recipients": len(recipients)})
	return n.ID, retryIDs, nil
}

func (s *notificationStore) UpdateStatus(ctx context.Context, id int64, status models.UserNotificationStatus, deliveredAt *time.Time) error {
	defer s.track("update", "user_notifications")()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.UserNotification
		if err := tx.Clauses().First(&row, id).Error; err != nil {
			s.logger.LogError(ctx, err, "update_status_lookup")
			return err
		}
		if row.Status == models.StatusSent {
			// Already terminal; monotonicity forbids regressing.
			return nil
		}
		updates := map[string]interface{}{"status": status}
		if deliveredAt != nil {
			updates["delivered_at"] = *deliveredAt
		}
		if err := tx.Model(&models.UserNotification{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			s.logger.LogError(ctx, err, "update_status")
			return err
		}
		s.logger.LogUpdate(ctx, map[string]interface{}{"user_notification_id": id, "status": status})
		return nil
	})
}

func (s *notificationStore) FindByRecipientAndNotification(ctx context.Context, recipient string, notificationID int64) (*models.UserNotification, error) {
	defer s.track("read", "user_notifications")()
	var row models.UserNotification
	err := s.db.WithContext(ctx).
		Where("recipient = ? AND notification_id = ?", recipient, notificationID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.LogError(ctx, err, "find_by_recipient_and_notification")
		return nil, err
	}
	return &row, nil
}
