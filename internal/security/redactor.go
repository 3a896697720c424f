// Package security keeps credentials out of log output. User-supplied API
// keys flow through settings at runtime, so redaction covers both known key
// formats and the literal values currently stored.
package security

import (
	"regexp"
	"strings"
	"sync"

	"github.com/sibylhq/sibyl/internal/store"
)

// RedactPlaceholder is the replacement string for redacted secrets.
const RedactPlaceholder = "***REDACTED***"

// Redactor replaces secret values in strings with a placeholder. It matches
// both regex patterns for known API key formats and literal values loaded
// from settings. All methods are safe for concurrent use.
type Redactor struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	literals []string
}

// NewRedactor creates a Redactor pre-loaded with patterns for the key
// formats of the providers and sources sibyl talks to.
func NewRedactor() *Redactor {
	return &Redactor{patterns: defaultPatterns()}
}

// AddLiteral registers a literal secret value. Empty and very short strings
// are ignored: replacing them would mangle ordinary log text.
func (r *Redactor) AddLiteral(secret string) {
	if len(secret) < 6 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.literals = append(r.literals, secret)
}

// SyncSettings replaces the literal set with every credential value in s.
// Called after each settings write so freshly stored keys are masked
// immediately.
func (r *Redactor) SyncSettings(s store.Settings) {
	var literals []string
	add := func(v string) {
		if len(v) >= 6 {
			literals = append(literals, v)
		}
	}

	add(s.LLMAPIKey)
	for _, blob := range s.Credentials {
		for _, v := range blob {
			add(v)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.literals = literals
}

// Redact replaces every known secret pattern and literal value in s.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}

	r.mu.RLock()
	patterns := r.patterns
	literals := r.literals
	r.mu.RUnlock()

	for _, p := range patterns {
		s = p.ReplaceAllString(s, RedactPlaceholder)
	}
	for _, lit := range literals {
		if strings.Contains(s, lit) {
			s = strings.ReplaceAll(s, lit, RedactPlaceholder)
		}
	}
	return s
}

// defaultPatterns covers the key formats of the supported LLM providers and
// source services.
func defaultPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		// Anthropic before OpenAI: sk-ant- is a prefix of the sk- rule.
		regexp.MustCompile(`sk-ant-[a-zA-Z0-9\-_]{20,}`),
		regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
		// Gemini.
		regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`),
		// GitHub tokens.
		regexp.MustCompile(`(ghp_|gho_|ghs_|github_pat_)[a-zA-Z0-9_]{20,}`),
		// Slack bot and user tokens.
		regexp.MustCompile(`xox[bp]-[0-9]+-[a-zA-Z0-9\-]+`),
		// Atlassian API tokens.
		regexp.MustCompile(`ATATT[a-zA-Z0-9_\-=]{20,}`),
	}
}
