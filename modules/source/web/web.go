// Package web implements the source.Adapter contract over the DuckDuckGo
// HTML endpoint, which needs no API key.
package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/sibylhq/sibyl/internal/source"
)

// maxResponseSize is the maximum response body size (10 MB).
const maxResponseSize = 10 * 1024 * 1024

// defaultEndpoint is the keyless DuckDuckGo HTML search form.
const defaultEndpoint = "https://html.duckduckgo.com/html/"

// userAgent avoids the endpoint's bot interstitial.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Compile-time interface guard.
var _ source.Adapter = (*Adapter)(nil)

// Adapter searches the public web.
type Adapter struct {
	endpoint string
	client   *http.Client
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithEndpoint overrides the search endpoint. Used in tests.
func WithEndpoint(endpoint string) Option {
	return func(a *Adapter) { a.endpoint = endpoint }
}

// New creates an Adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ID implements source.Adapter.
func (a *Adapter) ID() source.ID { return source.Web }

// Healthy implements source.Adapter.
func (a *Adapter) Healthy() bool { return true }

// Search implements source.Adapter.
func (a *Adapter) Search(ctx context.Context, query string, limit int) ([]source.Document, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("web: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web: %w: %w", source.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := source.FromStatus("web", resp.StatusCode, resp.Header.Get("Retry-After")); err != nil {
		return nil, err
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("web: parse results: %w", err)
	}

	results := parseResults(doc, limit)
	docs := make([]source.Document, 0, len(results))
	now := time.Now().UTC()
	for _, r := range results {
		docs = append(docs, source.Document{
			ID:        r.url,
			Source:    source.Web,
			Title:     r.title,
			URL:       r.url,
			Body:      r.snippet,
			FetchedAt: now,
			Score:     -1,
		})
	}
	return docs, nil
}

type result struct {
	title   string
	url     string
	snippet string
}

// parseResults walks the result markup: each hit is a div.result holding an
// a.result__a title link and an a.result__snippet.
func parseResults(doc *html.Node, limit int) []result {
	var out []result
	for node := range doc.Descendants() {
		if len(out) >= limit {
			break
		}
		if node.Type != html.ElementNode || node.Data != "div" || !hasClass(node, "result") {
			continue
		}

		var r result
		for child := range node.Descendants() {
			if child.Type != html.ElementNode || child.Data != "a" {
				continue
			}
			switch {
			case hasClass(child, "result__a") && r.title == "":
				r.title = text(child)
				r.url = resolveHref(attr(child, "href"))
			case hasClass(child, "result__snippet") && r.snippet == "":
				r.snippet = text(child)
			}
		}
		if r.title != "" && r.url != "" {
			out = append(out, r)
		}
	}
	return out
}

// resolveHref unwraps the redirect links the endpoint serves, which carry
// the target in a uddg query parameter.
func resolveHref(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func text(n *html.Node) string {
	var b strings.Builder
	for child := range n.Descendants() {
		if child.Type == html.TextNode {
			b.WriteString(child.Data)
		}
	}
	return strings.TrimSpace(b.String())
}
