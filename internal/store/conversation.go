// Package store is the persistence layer over Conversation, Message,
// Attachment, Template, Notification, UserNotification, UserPreferences and
// UserDeviceToken — the entities of spec §3 that the chat router and
// dispatch pipeline touch directly.
package store

import (
	"context"
	"errors"
	"time"

	"relaycore/internal/models"
	"relaycore/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// ConversationStore covers conversation membership and the authoritative
// message log.
type ConversationStore interface {
	// IsMember reports whether userID currently (non soft-deleted) belongs
	// to conversation convID.
	IsMember(ctx context.Context, convID int32, userID string) (bool, error)
	// IsPublic reports a conversation's join policy (§4.1 Join: private
	// rooms reject non-members, public rooms auto-insert membership).
	IsPublic(ctx context.Context, convID int32) (bool, error)
	// AddMember inserts (or revives a soft-deleted) membership row.
	AddMember(ctx context.Context, convID int32, userID string) error
	// Members returns the user ids of all non soft-deleted members of convID.
	Members(ctx context.Context, convID int32) ([]string, error)
	// CreateMessage persists a Message row, assigning SentAt if zero.
	CreateMessage(ctx context.Context, msg *models.Message) error
	// UpdateLatestMessage sets Conversation.LatestMessageID (the §4.1.2 batched pointer update).
	UpdateLatestMessage(ctx context.Context, convID int32, messageID int64) error
	// MarkRead flips Message.IsRead to true.
	MarkRead(ctx context.Context, messageID int64) error
}

type conversationStore struct {
	db     *gorm.DB
	logger *observability.RepoLogger
}

// NewConversationStore returns a ConversationStore backed by db.
func NewConversationStore(db *gorm.DB) ConversationStore {
	return &conversationStore{db: db, logger: observability.NewRepoLogger("conversations")}
}

func (s *conversationStore) track(op, table string) func() {
	start := time.Now()
	return func() {
		observability.DatabaseQueryLatency.WithLabelValues(op, table).Observe(time.Since(start).Seconds())
	}
}

func (s *conversationStore) IsMember(ctx context.Context, convID int32, userID string) (bool, error) {
	defer s.track("read", "user_conversations")()
	var count int64
	err := s.db.WithContext(ctx).Model(&models.UserConversation{}).
		Where("conversation_id = ? AND user_id = ? AND deleted_at IS NULL", convID, userID).
		Count(&count).Error
	if err != nil {
		s.logger.LogError(ctx, err, "is_member")
		return false, err
	}
	return count > 0, nil
}

func (s *conversationStore) IsPublic(ctx context.Context, convID int32) (bool, error) {
	defer s.track("read", "conversations")()
	var conv models.Conversation
	err := s.db.WithContext(ctx).Select("is_public").First(&conv, convID).Error
	if err != nil {
		s.logger.LogError(ctx, err, "is_public")
		return false, err
	}
	return conv.IsPublic, nil
}

func (s *conversationStore) AddMember(ctx context.Context, convID int32, userID string) error {
	defer s.track("create", "user_conversations")()
	uc := models.UserConversation{ConversationID: convID, UserID: userID}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&uc).Error
	if err != nil {
		s.logger.LogError(ctx, err, "add_member")
		return err
	}
	// Revive a prior soft-delete if one exists (OnConflict above only covers
	// a fresh insert; re-joining after leaving updates the existing row).
	if err := s.db.WithContext(ctx).Model(&models.UserConversation{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Update("deleted_at", nil).Error; err != nil {
		s.logger.LogError(ctx, err, "add_member_revive")
		return err
	}
	s.logger.LogCreate(ctx, map[string]interface{}{"conversation_id": convID, "user_id": userID})
	return nil
}

func (s *conversationStore) Members(ctx context.Context, convID int32) ([]string, error) {
	defer s.track("read", "user_conversations")()
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.UserConversation{}).
		Where("conversation_id = ? AND deleted_at IS NULL", convID).
		Pluck("user_id", &ids).Error
	if err != nil {
		s.logger.LogError(ctx, err, "members")
		return nil, err
	}
	return ids, nil
}

func (s *conversationStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	defer s.track("create", "messages")()
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		s.logger.LogError(ctx, err, "create_message")
		return err
	}
	s.logger.LogCreate(ctx, map[string]interface{}{"message_id": msg.ID, "conversation_id": msg.ConversationID})
	return nil
}

func (s *conversationStore) UpdateLatestMessage(ctx context.Context, convID int32, messageID int64) error {
	defer s.track("update", "conversations")()
	err := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", convID).
		Update("latest_message_id", messageID).Error
	if err != nil {
		s.logger.LogError(ctx, err, "update_latest_message")
		return err
	}
	s.logger.LogUpdate(ctx, map[string]interface{}{"conversation_id": convID, "message_id": messageID})
	return nil
}

func (s *conversationStore) MarkRead(ctx context.Context, messageID int64) error {
	defer s.track("update", "messages")()
	err := s.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", messageID).Update("is_read", true).Error
	if err != nil {
		s.logger.LogError(ctx, err, "mark_read")
		return err
	}
	s.logger.LogUpdate(ctx, map[string]interface{}{"message_id": messageID})
	return nil
}
