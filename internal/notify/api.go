package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// APIMailer posts messages as JSON to a transactional email HTTP API.
type APIMailer struct {
	url    string
	apiKey string
	from   string
	client *resty.Client
}

// NewAPIMailer returns a mailer posting to url, authenticating with apiKey as a bearer token.
func NewAPIMailer(url, apiKey, from string) *APIMailer {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &APIMailer{url: url, apiKey: apiKey, from: from, client: client}
}

type apiPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	Tag     string   `json:"tag,omitempty"`
}

// Send posts msg and fails on any non-2xx response.
func (m *APIMailer) Send(ctx context.Context, msg Message) error {
	msg = withFrom(msg, m.from)
	if err := msg.Validate(); err != nil {
		return err
	}
	req := m.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(apiPayload{From: msg.From, To: msg.To, Subject: msg.Subject, Text: msg.Body, Tag: msg.Kind})
	if m.apiKey != "" {
		req.SetAuthToken(m.apiKey)
	}
	resp, err := req.Post(m.url)
	if err != nil {
		return fmt.Errorf("mail api request: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("mail api request failed with status %d", resp.StatusCode())
	}
	return nil
}
