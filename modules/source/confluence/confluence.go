// Package confluence implements the source.Adapter contract against the
// Confluence Cloud REST API using CQL text search.
package confluence

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

// stopWords are filler words removed from the query before CQL matching.
// A full question matched verbatim returns almost nothing.
var stopWords = map[string]bool{
	"what": true, "is": true, "the": true, "status": true, "of": true,
	"a": true, "an": true, "for": true, "in": true, "on": true, "to": true,
	"how": true, "where": true, "when": true, "why": true, "can": true,
	"i": true, "get": true, "find": true, "show": true, "me": true, "about": true,
}

// Adapter searches Confluence pages.
type Adapter struct {
	baseURL  string
	email    string
	apiToken string
	client   *http.Client
}

// New creates an Adapter from stored credentials. Required keys:
// confluence_url, confluence_email, confluence_api_token.
func New(creds source.CredentialsBlob) (*Adapter, error) {
	baseURL := strings.TrimRight(creds.Get("confluence_url"), "/")
	email := creds.Get("confluence_email")
	token := creds.Get("confluence_api_token")
	if baseURL == "" || email == "" || token == "" {
		return nil, errors.New("confluence: confluence_url, confluence_email and confluence_api_token are required")
	}
	return &Adapter{
		baseURL:  baseURL,
		email:    email,
		apiToken: token,
		client:   &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// ID implements source.Adapter.
func (a *Adapter) ID() source.ID { return source.Confluence }

// Healthy implements source.Adapter.
func (a *Adapter) Healthy() bool { return true }

// cqlResponse is the wire shape of a CQL search result.
type cqlResponse struct {
	Results []struct {
		Content struct {
			ID    string `json:"id"`
			Title string `json:"title"`
			Links struct {
				WebUI string `json:"webui"`
			} `json:"_links"`
		} `json:"content"`
		Excerpt string `json:"excerpt"`
	} `json:"results"`
}

// Search implements source.Adapter.
func (a *Adapter) Search(ctx context.Context, query string, limit int) ([]source.Document, error) {
	cql := fmt.Sprintf(`text ~ "%s" ORDER BY lastmodified DESC`, escapeCQL(searchTerms(query)))

	u := fmt.Sprintf("%s/rest/api/content/search?cql=%s&limit=%d&excerpt=highlight",
		a.baseURL, url.QueryEscape(cql), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("confluence: create request: %w", err)
	}
	req.SetBasicAuth(a.email, a.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("confluence: %w: %w", source.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := source.FromStatus("confluence", resp.StatusCode, resp.Header.Get("Retry-After")); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("confluence: read response: %w", err)
	}

	var cr cqlResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("confluence: unmarshal response: %w", err)
	}

	docs := make([]source.Document, 0, len(cr.Results))
	for _, res := range cr.Results {
		if res.Content.ID == "" {
			continue
		}
		docs = append(docs, source.Document{
			ID:        res.Content.ID,
			Source:    source.Confluence,
			Title:     res.Content.Title,
			URL:       a.baseURL + res.Content.Links.WebUI,
			Body:      stripMarkup(res.Excerpt),
			FetchedAt: time.Now().UTC(),
			Score:     -1,
		})
	}
	return docs, nil
}

// searchTerms strips filler words from the query; the full query is kept
// when nothing meaningful survives.
func searchTerms(query string) string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, "?.,!\"'")
		if len(w) > 2 && !stopWords[w] {
			terms = append(terms, w)
		}
	}
	if len(terms) == 0 {
		return query
	}
	return strings.Join(terms, " ")
}

// escapeCQL escapes quotes and backslashes inside a CQL string literal.
func escapeCQL(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// stripMarkup removes the highlight markers Confluence embeds in excerpts.
func stripMarkup(s string) string {
	replacer := strings.NewReplacer("@@@hl@@@", "", "@@@endhl@@@", "", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'")
	return strings.TrimSpace(replacer.Replace(s))
}
