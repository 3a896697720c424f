// Package slack implements the source.Adapter contract against the Slack
// Web API's message search.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sibylhq/sibyl/internal/source"
)

// maxResponseSize is the maximum response body size (10 MB).
const maxResponseSize = 10 * 1024 * 1024

// defaultBaseURL is the Slack Web API endpoint.
const defaultBaseURL = "https://slack.com/api"

// Compile-time interface guard.
var _ source.Adapter = (*Adapter)(nil)

// Adapter searches Slack messages. search.messages requires a user token
// with the search:read scope; the bot token is a fallback that will be
// rejected by Slack with a descriptive error.
type Adapter struct {
	token   string
	baseURL string
	client  *http.Client
}

// New creates an Adapter from stored credentials. Keys: slack_user_token
// (preferred) or slack_bot_token; optional slack_api_url for testing.
func New(creds source.CredentialsBlob) (*Adapter, error) {
	token := creds.Get("slack_user_token")
	if token == "" {
		token = creds.Get("slack_bot_token")
	}
	if token == "" {
		return nil, errors.New("slack: slack_user_token or slack_bot_token is required")
	}
	baseURL := creds.Get("slack_api_url")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		token:   token,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// ID implements source.Adapter.
func (a *Adapter) ID() source.ID { return source.Slack }

// Healthy implements source.Adapter.
func (a *Adapter) Healthy() bool { return true }

// searchResponse is the wire shape of search.messages.
type searchResponse struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error"`
	Messages struct {
		Matches []struct {
			IID       string `json:"iid"`
			TS        string `json:"ts"`
			Text      string `json:"text"`
			Username  string `json:"username"`
			Permalink string `json:"permalink"`
			Channel   struct {
				Name string `json:"name"`
			} `json:"channel"`
		} `json:"matches"`
	} `json:"messages"`
}

// Search implements source.Adapter.
func (a *Adapter) Search(ctx context.Context, query string, limit int) ([]source.Document, error) {
	u := fmt.Sprintf("%s/search.messages?query=%s&count=%d&sort=score&sort_dir=desc",
		a.baseURL, url.QueryEscape(query), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack: %w: %w", source.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := source.FromStatus("slack", resp.StatusCode, resp.Header.Get("Retry-After")); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("slack: read response: %w", err)
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("slack: unmarshal response: %w", err)
	}
	// Slack reports most failures inside a 200 body.
	if !sr.OK {
		return nil, mapAPIError(sr.Error)
	}

	docs := make([]source.Document, 0, len(sr.Messages.Matches))
	for _, m := range sr.Messages.Matches {
		id := m.IID
		if id == "" {
			id = m.TS
		}
		title := "Message from " + m.Username
		if m.Channel.Name != "" {
			title += " in #" + m.Channel.Name
		}
		docs = append(docs, source.Document{
			ID:        id,
			Source:    source.Slack,
			Title:     title,
			URL:       m.Permalink,
			Body:      m.Text,
			FetchedAt: time.Now().UTC(),
			Score:     -1,
		})
	}
	return docs, nil
}

// mapAPIError maps Slack's in-body error strings onto the adapter error set.
func mapAPIError(code string) error {
	switch code {
	case "invalid_auth", "not_authed", "token_revoked", "token_expired", "missing_scope", "not_allowed_token_type":
		return fmt.Errorf("slack: %s: %w", code, source.ErrUnauthorized)
	case "ratelimited", "rate_limited":
		return &source.RateLimitError{}
	default:
		return fmt.Errorf("slack: %s: %w", code, source.ErrUnavailable)
	}
}
