// Package dispatch implements the push and email notification dispatchers
// (spec §4.3.1, §4.3.2): one actor per bus consumer, decoding a job,
// resolving its content, persisting Notification/UserNotification rows, and
// calling out to the provider client with the retry/finalization rules the
// spec describes.
package dispatch

// RecipientType selects how a push job's recipient list is interpreted by
// FCM (§4.3.1).
type RecipientType string

const (
	RecipientToken     RecipientType = "token"
	RecipientTopic     RecipientType = "topic"
	RecipientCondition RecipientType = "condition"
)

// PushJob is the exact wire shape of the `push` topic (§6.2).
type PushJob struct {
	Recipient      []string         `json:"recipient"`
	Type           RecipientType    `json:"type"`
	TemplateID     *int32           `json:"template_id,omitempty"`
	TemplateProps  map[string]string `json:"template_props,omitempty"`
	Title          string           `json:"title"`
	Content        *string          `json:"content,omitempty"`
	RetryCount     int              `json:"retry_count"`
	RetryIDs       map[string]int64 `json:"retry_ids"`
}

// EmailAddress is a `{email, name?}` pair used in the email job format.
type EmailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// EmailAttachment mirrors the email job's attachment shape.
type EmailAttachment struct {
	Content     string `json:"content"`
	Filename    string `json:"filename"`
	Type        string `json:"type,omitempty"`
	Disposition string `json:"disposition,omitempty"`
}

// EmailJob is the exact wire shape of the `email` topic (§6.2).
type EmailJob struct {
	To            []EmailAddress    `json:"to"`
	From          EmailAddress      `json:"from"`
	TemplateID    *int32            `json:"template_id,omitempty"`
	TemplateProps map[string]string `json:"template_props,omitempty"`
	Subject       string            `json:"subject"`
	Content       *string           `json:"content,omitempty"`
	ContentType   string            `json:"content_type"`
	Attachments   []EmailAttachment `json:"attachments,omitempty"`
	ReplyTo       *EmailAddress     `json:"reply_to,omitempty"`
	RetryCount    int               `json:"retry_count"`
	RetryIDs      map[string]int64  `json:"retry_ids"`
	ID            int64             `json:"id"`
}
