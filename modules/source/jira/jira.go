// Package jira implements the source.Adapter contract against the Jira
// Cloud REST API using JQL text search.
package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sibylhq/sibyl/internal/source"
)

// maxResponseSize is the maximum response body size (10 MB).
const maxResponseSize = 10 * 1024 * 1024

// Compile-time interface guard.
var _ source.Adapter = (*Adapter)(nil)

// Adapter searches Jira issues.
type Adapter struct {
	baseURL  string
	email    string
	apiToken string
	client   *http.Client
}

// New creates an Adapter from stored credentials. Required keys: jira_url,
// jira_email, jira_api_token.
func New(creds source.CredentialsBlob) (*Adapter, error) {
	baseURL := strings.TrimRight(creds.Get("jira_url"), "/")
	email := creds.Get("jira_email")
	token := creds.Get("jira_api_token")
	if baseURL == "" || email == "" || token == "" {
		return nil, errors.New("jira: jira_url, jira_email and jira_api_token are required")
	}
	return &Adapter{
		baseURL:  baseURL,
		email:    email,
		apiToken: token,
		client:   &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// ID implements source.Adapter.
func (a *Adapter) ID() source.ID { return source.Jira }

// Healthy implements source.Adapter. Credentials were checked at
// construction; liveness is left to the circuit breaker.
func (a *Adapter) Healthy() bool { return true }

// searchResponse is the wire shape of a JQL search result.
type searchResponse struct {
	Issues []struct {
		Key    string `json:"key"`
		Fields struct {
			Summary     string `json:"summary"`
			Description string `json:"description"`
			Status      struct {
				Name string `json:"name"`
			} `json:"status"`
			Assignee *struct {
				DisplayName string `json:"displayName"`
			} `json:"assignee"`
			Priority struct {
				Name string `json:"name"`
			} `json:"priority"`
			Updated string `json:"updated"`
		} `json:"fields"`
	} `json:"issues"`
}

// Search implements source.Adapter.
func (a *Adapter) Search(ctx context.Context, query string, limit int) ([]source.Document, error) {
	jql := fmt.Sprintf(`text ~ "%s" ORDER BY updated DESC`, escapeJQL(query))

	u := fmt.Sprintf("%s/rest/api/2/search?jql=%s&maxResults=%d",
		a.baseURL, url.QueryEscape(jql), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("jira: create request: %w", err)
	}
	req.SetBasicAuth(a.email, a.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jira: %w: %w", source.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := source.FromStatus("jira", resp.StatusCode, resp.Header.Get("Retry-After")); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("jira: read response: %w", err)
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("jira: unmarshal response: %w", err)
	}

	docs := make([]source.Document, 0, len(sr.Issues))
	for _, issue := range sr.Issues {
		docs = append(docs, source.Document{
			ID:        issue.Key,
			Source:    source.Jira,
			Title:     issue.Key + ": " + issue.Fields.Summary,
			URL:       a.baseURL + "/browse/" + issue.Key,
			Body:      issueBody(issue.Fields.Summary, issue.Fields.Description, issue.Fields.Status.Name, assignee(issue.Fields.Assignee), issue.Fields.Priority.Name),
			FetchedAt: time.Now().UTC(),
			Score:     -1,
		})
	}
	return docs, nil
}

func assignee(a *struct {
	DisplayName string `json:"displayName"`
}) string {
	if a == nil {
		return "Unassigned"
	}
	return a.DisplayName
}

// issueBody flattens the issue fields into one searchable text block.
func issueBody(summary, description, status, assignee, priority string) string {
	var b strings.Builder
	b.WriteString(summary)
	if status != "" {
		b.WriteString("\nStatus: " + status)
	}
	if assignee != "" {
		b.WriteString("\nAssignee: " + assignee)
	}
	if priority != "" {
		b.WriteString("\nPriority: " + priority)
	}
	if description != "" {
		b.WriteString("\n\n" + description)
	}
	return b.String()
}

// escapeJQL escapes quotes and backslashes inside a JQL string literal.
func escapeJQL(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
