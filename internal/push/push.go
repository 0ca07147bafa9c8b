// Package push delivers best-effort device notifications.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Result is the delivery outcome for one device token.
type Result struct {
	Token string
	Err   error
}

// Sender sends one message to many device tokens. A returned error means the
// whole batch failed; per-token failures are reported in the results.
type Sender interface {
	Send(ctx context.Context, tokens []string, title, body string) ([]Result, error)
}

// Noop drops every message. Used when no push gateway is configured.
type Noop struct{}

func (Noop) Send(_ context.Context, tokens []string, _, _ string) ([]Result, error) {
	results := make([]Result, len(tokens))
	for i, t := range tokens {
		results[i] = Result{Token: t}
	}
	return results, nil
}

// HTTPSender posts multicast messages to a push gateway.
type HTTPSender struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

func NewHTTPSender(endpoint, apiKey string, timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSender{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		apiKey:   apiKey,
	}
}

type multicastRequest struct {
	Tokens       []string     `json:"tokens"`
	Notification notification `json:"notification"`
}

type notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type multicastResponse struct {
	Responses []struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	} `json:"responses"`
}

func (s *HTTPSender) Send(ctx context.Context, tokens []string, title, body string) ([]Result, error) {
	payload, err := json.Marshal(multicastRequest{
		Tokens:       tokens,
		Notification: notification{Title: title, Body: body},
	})
	if err != nil {
		return nil, fmt.Errorf("encode push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("push gateway returned status %d", resp.StatusCode)
	}

	var decoded multicastResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode push response: %w", err)
	}

	results := make([]Result, len(tokens))
	for i, t := range tokens {
		results[i] = Result{Token: t}
		if i >= len(decoded.Responses) {
			results[i].Err = fmt.Errorf("no result from gateway")
			continue
		}
		if r := decoded.Responses[i]; !r.Success {
			results[i].Err = fmt.Errorf("%s", r.Error)
		}
	}
	return results, nil
}
