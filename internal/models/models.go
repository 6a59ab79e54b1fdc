// Package models defines the persisted entities of the communication core.
package models

import "time"

// Conversation is a durable group of participants, addressed by integer id.
// Membership lives in UserConversation; conversations and memberships are
// created/deleted by the out-of-scope CRUD surface (spec §1) — this store
// only reads and updates the fields the chat router touches.
type Conversation struct {
	ID              int32 `gorm:"primaryKey"`
	Title           string
	IsPublic        bool
	LatestMessageID *int64
	CreatedAt       time.Time
}

func (Conversation) TableName() string { return "conversations" }

// UserConversation is a membership row. Deletion is soft via DeletedAt so a
// user can be re-added to a public room without losing history of past
// participation.
type UserConversation struct {
	ID             int64 `gorm:"primaryKey"`
	ConversationID int32
	UserID         string `gorm:"type:uuid;index"`
	DeletedAt      *time.Time
}

func (UserConversation) TableName() string { return "user_conversations" }

// MessageType distinguishes a plain text message from a media envelope.
type MessageType string

const (
	MessageTypeMessage MessageType = "message"
	MessageTypeMedia   MessageType = "media"
)

// Message is the authoritative record of one chat send.
type Message struct {
	ID             int64 `gorm:"primaryKey"`
	ConversationID int32
	SenderID       string `gorm:"type:uuid;index"`
	Content        *string
	Type           MessageType
	SentAt         time.Time
	IsRead         bool
}

func (Message) TableName() string { return "messages" }

// Attachment links to a message and/or directly to a conversation (the
// upload-before-send flow: the message may not exist yet).
type Attachment struct {
	ID             int32 `gorm:"primaryKey"`
	MessageID      *int64
	ConversationID *int32
	URL            string
	Size           int32
	Type           string
	Created        time.Time
}

func (Attachment) TableName() string { return "attachments" }

// Template holds a notification body with {{placeholder}} tokens.
type Template struct {
	ID      int32 `gorm:"primaryKey"`
	Name    string
	Content string
	Created time.Time
	Updated time.Time
}

func (Template) TableName() string { return "templates" }

// NotificationChannel is the delivery channel of a Notification.
type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
	ChannelPush  NotificationChannel = "push"
)

// Notification is written once per dispatch attempt at retry_count==0.
type Notification struct {
	ID         int64 `gorm:"primaryKey"`
	TemplateID *int32
	Title      string
	Content    string
	Channel    NotificationChannel
	Created    time.Time
	Updated    time.Time
}

func (Notification) TableName() string { return "notifications" }

// UserNotificationStatus tracks the monotone pending->sent|failed lifecycle.
type UserNotificationStatus string

const (
	StatusPending UserNotificationStatus = "pending"
	StatusSent    UserNotificationStatus = "sent"
	StatusFailed  UserNotificationStatus = "failed"
)

// UserNotification is one row per recipient of a Notification.
type UserNotification struct {
	ID             int64 `gorm:"primaryKey"`
	Recipient      string `gorm:"index"`
	NotificationID int64  `gorm:"index"`
	Status         UserNotificationStatus
	DeliveredAt    *time.Time
}

func (UserNotification) TableName() string { return "user_notifications" }

// NotificationType selects which of a user's channel sets applies to a send.
type NotificationType string

const (
	NotificationTypeTransactional NotificationType = "transactional"
	NotificationTypeSystemAlert   NotificationType = "system_alert"
	NotificationTypeChat          NotificationType = "chat"
)

// ChannelSet is a de-duplicated set of channels, persisted as a JSON array
// through gorm's json serializer (gorm has no native set type over postgres
// text[] without an extra driver dependency the examples don't carry).
type ChannelSet []string

// UserPreferences holds per-user channel and do-not-disturb configuration.
type UserPreferences struct {
	UserID                string `gorm:"type:uuid;primaryKey"`
	Email                  string
	TransactionalChannels  ChannelSet `gorm:"serializer:json"`
	SystemAlertChannels    ChannelSet `gorm:"serializer:json"`
	ChatChannels           ChannelSet `gorm:"serializer:json"`
	DoNotDisturbStart      *string    // "HH:MM:SS" in TimeZone
	DoNotDisturbEnd        *string
	TimeZone               string
}

func (UserPreferences) TableName() string { return "user_preferences" }

// ChannelsFor returns the de-duplicated channel set for a notification type.
func (p UserPreferences) ChannelsFor(t NotificationType) ChannelSet {
	switch t {
	case NotificationTypeTransactional:
		return p.TransactionalChannels
	case NotificationTypeSystemAlert:
		return p.SystemAlertChannels
	case NotificationTypeChat:
		return p.ChatChannels
	default:
		return nil
	}
}

// UserDeviceToken is one registered push token for a user; a user may have
// several (multiple devices).
type UserDeviceToken struct {
	ID     int64  `gorm:"primaryKey"`
	UserID string `gorm:"type:uuid;index"`
	Token  string
}

func (UserDeviceToken) TableName() string { return "user_device_tokens" }

// DedupeChannels returns a de-duplicated copy of cs, preserving first-seen
// order (spec §3 invariant 6: preference channel sets are stored de-duplicated).
func DedupeChannels(cs []string) ChannelSet {
	seen := make(map[string]struct{}, len(cs))
	out := make(ChannelSet, 0, len(cs))
	for _, c := range cs {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
