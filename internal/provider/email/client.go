// Package email implements the SendGrid-shaped email provider client (spec
// §4.3.2, §6.4): POST https://api.sendgrid.com/v3/mail/send, bearer-
// authenticated with a static API key, using the sendgrid-go SDK's
// low-level request builder so the job's exact wire shape passes through
// unmodified rather than being re-encoded into the SDK's mail helper types.
package email

import (
	"encoding/json"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
)

const sendGridHost = "https://api.sendgrid.com"

// Attachment is one SendGrid mail attachment (§6.2 email job format).
type Attachment struct {
	Content     string `json:"content"`
	Filename    string `json:"filename"`
	Type        string `json:"type,omitempty"`
	Disposition string `json:"disposition,omitempty"`
}

// Address is a SendGrid personalization endpoint.
type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Personalization mirrors SendGrid's `personalizations[0].to` shape.
type Personalization struct {
	To []Address `json:"to"`
}

// SendRequest is the exact body posted to /v3/mail/send, matching the
// email job format of spec §6.2.
type SendRequest struct {
	Personalizations []Personalization `json:"personalizations"`
	From             Address           `json:"from"`
	Subject          string            `json:"subject"`
	Content          []Content         `json:"content"`
	Attachments      []Attachment      `json:"attachments,omitempty"`
	ReplyTo          *Address          `json:"reply_to,omitempty"`
}

// Content is one body part, e.g. {"type": "text/plain", "value": "..."}.
type Content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Client posts SendRequests to SendGrid using a static API key.
type Client struct {
	apiKey string
	host   string
}

// NewClient returns a Client authenticated with apiKey.
func NewClient(apiKey string) *Client {
	return &Client{apiKey: apiKey, host: sendGridHost}
}

// Send POSTs req to /v3/mail/send. A 2xx here is only acceptance; the
// authoritative sent/failed transition arrives later via webhook (§4.3.3).
func (c *Client) Send(req SendRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	r := sendgrid.GetRequest(c.apiKey, "/v3/mail/send", c.host)
	r.Method = rest.Post
	r.Body = body

	resp, err := sendgrid.API(r)
	if err != nil {
		return fmt.Errorf("email: sendgrid request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("email: sendgrid responded %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
