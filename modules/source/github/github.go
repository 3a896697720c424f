// Package github implements the source.Adapter contract against the GitHub
// REST search API, covering issues and pull requests.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sibylhq/sibyl/internal/source"
)

// maxResponseSize is the maximum response body size (10 MB).
const maxResponseSize = 10 * 1024 * 1024

// defaultBaseURL is the GitHub REST API endpoint.
const defaultBaseURL = "https://api.github.com"

// Compile-time interface guard.
var _ source.Adapter = (*Adapter)(nil)

// Adapter searches GitHub issues and pull requests.
type Adapter struct {
	token   string
	baseURL string
	client  *http.Client
}

// New creates an Adapter from stored credentials. Required key:
// github_token; optional github_api_url for GitHub Enterprise or testing.
func New(creds source.CredentialsBlob) (*Adapter, error) {
	token := creds.Get("github_token")
	if token == "" {
		return nil, errors.New("github: github_token is required")
	}
	baseURL := creds.Get("github_api_url")
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
func (a *Adapter) ID() source.ID { return source.GitHub }

// Healthy implements source.Adapter.
func (a *Adapter) Healthy() bool { return true }

// searchResponse is the wire shape of the issue search API.
type searchResponse struct {
	Items []struct {
		Number      int    `json:"number"`
		Title       string `json:"title"`
		Body        string `json:"body"`
		HTMLURL     string `json:"html_url"`
		State       string `json:"state"`
		PullRequest *struct{} `json:"pull_request"`
		RepositoryURL string  `json:"repository_url"`
	} `json:"items"`
}

// Search implements source.Adapter.
func (a *Adapter) Search(ctx context.Context, query string, limit int) ([]source.Document, error) {
	u := fmt.Sprintf("%s/search/issues?q=%s&per_page=%d",
		a.baseURL, url.QueryEscape(query), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("github: create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("Authorization", "token "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github: %w: %w", source.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// GitHub signals secondary rate limits with 403 plus a zeroed remaining
	// quota; treat those as rate limiting, not bad credentials.
	if resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0" {
		return nil, &source.RateLimitError{RetryAfter: resetDelay(resp.Header.Get("X-RateLimit-Reset"))}
	}
	if err := source.FromStatus("github", resp.StatusCode, resp.Header.Get("Retry-After")); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("github: read response: %w", err)
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("github: unmarshal response: %w", err)
	}

	docs := make([]source.Document, 0, len(sr.Items))
	for _, item := range sr.Items {
		kind := "Issue"
		if item.PullRequest != nil {
			kind = "PR"
		}
		docs = append(docs, source.Document{
			ID:        item.HTMLURL,
			Source:    source.GitHub,
			Title:     fmt.Sprintf("%s #%d: %s", kind, item.Number, item.Title),
			URL:       item.HTMLURL,
			Body:      item.Title + "\nState: " + item.State + "\n\n" + item.Body,
			FetchedAt: time.Now().UTC(),
			Score:     -1,
		})
	}
	return docs, nil
}

// resetDelay converts the X-RateLimit-Reset epoch into a wait duration.
func resetDelay(reset string) time.Duration {
	epoch, err := strconv.ParseInt(reset, 10, 64)
	if err != nil {
		return 0
	}
	wait := time.Until(time.Unix(epoch, 0))
	if wait < 0 {
		return 0
	}
	return wait
}
