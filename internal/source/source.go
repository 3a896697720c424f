// Package source defines the Adapter interface every external data source
// implements, the closed set of source identifiers, and the Document shape
// adapters normalize their results into.
package source

import "time"

// ID identifies an external data source. The set is closed: adding an id
// is a code change, never configuration.
type ID string

// Source identifiers.
const (
	Confluence   ID = "confluence"
	Jira         ID = "jira"
	Slack        ID = "slack"
	GitHub       ID = "github"
	Google       ID = "google"
	Notion       ID = "notion"
	Linear       ID = "linear"
	Figma        ID = "figma"
	Microsoft365 ID = "microsoft365"
	DevTools     ID = "devtools"
	Productivity ID = "productivity"
	Web          ID = "web"
	VectorCache  ID = "vector_cache"
)

// All returns every defined source id in declaration order.
func All() []ID {
	return []ID{
		Confluence, Jira, Slack, GitHub, Google, Notion, Linear,
		Figma, Microsoft365, DevTools, Productivity, Web, VectorCache,
	}
}

// Valid reports whether id belongs to the closed enumeration.
func Valid(id ID) bool {
	switch id {
	case Confluence, Jira, Slack, GitHub, Google, Notion, Linear,
		Figma, Microsoft365, DevTools, Productivity, Web, VectorCache:
		return true
	}
	return false
}

// Document is the normalized shape every adapter returns. ID is stable per
// source (ticket key, page id, URL); the composite (Source, ID) is globally
// unique. Body is plain text with any markup already stripped.
type Document struct {
	ID        string    `json:"id"`
	Source    ID        `json:"source"`
	Title     string    `json:"title"`
	URL       string    `json:"url,omitempty"`
	Body      string    `json:"body"`
	FetchedAt time.Time `json:"fetched_at"`

	// Score is the source's native relevance, if the source provides one.
	// Negative means "no native score".
	Score float64 `json:"score,omitempty"`
}

// CredentialsBlob is an opaque bag of credential strings keyed by setting
// name (e.g. "slack_bot_token"). Only the adapter that owns the keys
// interprets them; the core never inspects the values.
type CredentialsBlob map[string]string

// Get returns the named credential or the empty string.
func (b CredentialsBlob) Get(key string) string {
	if b == nil {
		return ""
	}
	return b[key]
}
