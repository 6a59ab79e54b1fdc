package store

import (
	"context"
	"time"

	"relaycore/internal/models"
	"relaycore/internal/observability"

	"gorm.io/gorm"
)

// AttachmentStore covers attachments linked to a message, a conversation
// (upload-before-send), or both.
type AttachmentStore interface {
	Create(ctx context.Context, a *models.Attachment) error
	ForMessage(ctx context.Context, messageID int64) ([]*models.Attachment, error)
	ForConversation(ctx context.Context, conversationID int32) ([]*models.Attachment, error)
}

type attachmentStore struct {
	db     *gorm.DB
	logger *observability.RepoLogger
}

// NewAttachmentStore returns an AttachmentStore backed by db.
func NewAttachmentStore(db *gorm.DB) AttachmentStore {
	return &attachmentStore{db: db, logger: observability.NewRepoLogger("attachments")}
}

func (s *attachmentStore) track(op string) func() {
	start := time.Now()
	return func() {
		observability.DatabaseQueryLatency.WithLabelValues(op, "attachments").Observe(time.Since(start).Seconds())
	}
}

func (s *attachmentStore) Create(ctx context.Context, a *models.Attachment) error {
	defer s.track("create")()
	if a.Created.IsZero() {
		a.Created = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		s.logger.LogError(ctx, err, "create")
		return err
	}
	s.logger.LogCreate(ctx, map[string]interface{}{"attachment_id": a.ID})
	return nil
}

func (s *attachmentStore) ForMessage(ctx context.Context, messageID int64) ([]*models.Attachment, error) {
	defer s.track("read")()
	var out []*models.Attachment
	err := s.db.WithContext(ctx).Where("message_id = ?", messageID).Find(&out).Error
	if err != nil {
		s.logger.LogError(ctx, err, "for_message")
		return nil, err
	}
	return out, nil
}

func (s *attachmentStore) ForConversation(ctx context.Context, conversationID int32) ([]*models.Attachment, error) {
	defer s.track("read")()
	var out []*models.Attachment
	err := s.db.WithContext(ctx).Where("conversation_id = ? AND message_id IS NULL", conversationID).Find(&out).Error
	if err != nil {
		s.logger.LogError(ctx, err, "for_conversation")
		return nil, err
	}
	return out, nil
}
