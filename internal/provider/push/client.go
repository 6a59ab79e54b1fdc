// Package push implements the FCM-shaped push provider client (spec §4.3.1,
// §6.4): POST https://fcm.googleapis.com/v1/projects/{project}/messages:send
// bearer-authenticated with a token from the OAuth Bearer Token Manager.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const fcmEndpoint = "https://fcm.googleapis.com/v1/projects/%s/messages:send"

const requestTimeout = 3 * time.Second

// Message is one FCM send target: exactly one of Token, Topic, Condition is
// set, matching the push job's `type` field (§4.3.1 step 4a).
type Message struct {
	Token     string            `json:"token,omitempty"`
	Topic     string            `json:"topic,omitempty"`
	Condition string            `json:"condition,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	Notification *Notification  `json:"notification,omitempty"`
}

// Notification is the title/body shown by the OS push tray.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type sendRequest struct {
	Message Message `json:"message"`
}

// Client posts one message at a time to the FCM v1 API.
type Client struct {
	projectID    string
	tokens       *TokenManager
	http         *http.Client
	endpointTmpl string
}

// NewClient returns a Client for projectID, authenticated via tokens.
func NewClient(projectID string, tokens *TokenManager) *Client {
	return &Client{
		projectID:    projectID,
		tokens:       tokens,
		http:         &http.Client{Timeout: requestTimeout},
		endpointTmpl: fcmEndpoint,
	}
}

// Send delivers msg to FCM. On a 401 it refreshes the bearer token once and
// retries exactly once, per spec §4.3.1 step 4c.
func (c *Client) Send(ctx context.Context, msg Message) error {
	token, err := c.tokens.GetToken()
	if err != nil {
		return fmt.Errorf("push: token manager: %w", err)
	}

	status, err := c.post(ctx, msg, token)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		token, err = c.tokens.UpdateToken()
		if err != nil {
			return fmt.Errorf("push: token refresh: %w", err)
		}
		status, err = c.post(ctx, msg, token)
		if err != nil {
			return err
		}
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("push: fcm responded %d", status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, msg Message, bearer string) (int, error) {
	body, err := json.Marshal(sendRequest{Message: msg})
	if err != nil {
		return 0, err
	}

	url := fmt.Sprintf(c.endpointTmpl, c.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
