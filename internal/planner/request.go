// Package planner implements the Send Planner (spec §4.3.4): the
// synchronous, API-invoked counterpart to the bus-driven dispatchers. Given
// a recipient and a requested channel set, it resolves preferences, checks
// the do-not-disturb window, intersects channels, and enqueues one job per
// surviving channel onto the message bus.
package planner

import (
	"relaycore/internal/dispatch"
	"relaycore/internal/models"
)

// Attachment mirrors the request-level attachment shape (base64 content).
type Attachment struct {
	Content     string
	Filename    string
	Type        string
	Disposition string
}

// Address is a `{email, name?}` pair for the from/reply_to fields.
type Address struct {
	Email string
	Name  string
}

// SendNotification is the send-API request body (spec §4.3.4).
type SendNotification struct {
	Recipient     string
	Type          models.NotificationType
	Channels      []string
	From          Address
	Title         string
	Content       *string
	ContentType   string
	TemplateID    *int32
	TemplateProps map[string]string
	Attachments   []Attachment
	ReplyTo       *Address
}

func toDispatchAttachments(in []Attachment) []dispatch.EmailAttachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]dispatch.EmailAttachment, len(in))
	for i, a := range in {
		out[i] = dispatch.EmailAttachment{
			Content:     a.Content,
			Filename:    a.Filename,
			Type:        a.Type,
			Disposition: a.Disposition,
		}
	}
	return out
}
