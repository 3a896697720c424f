// Package router classifies a query into an ordered source selection. It is
// pure: no I/O beyond the adapters' cheap Healthy probes, so identical
// inputs always yield identical selections.
package router

import (
	"regexp"
	"slices"
	"strings"

	"github.com/sibylhq/sibyl/internal/source"
)

// DefaultMaxSources caps the selection length.
const DefaultMaxSources = 6

// rule maps a trigger pattern to one source. Rules are evaluated in order
// and matches are unioned; order within the table decides selection order.
type rule struct {
	id source.ID
	re *regexp.Regexp
}

// keywordRules covers the vocabulary each service tends to appear with.
// The jira ticket-key pattern is listed first so an explicit key always
// ranks jira ahead of looser matches.
var keywordRules = []rule{
	{source.Jira, regexp.MustCompile(`\b[A-Z]{2,10}-\d+\b`)},
	{source.Jira, regexp.MustCompile(`(?i)\b(issue|ticket|bug|task|story|epic|jira|sprint|backlog|feature)\b`)},
	{source.Confluence, regexp.MustCompile(`(?i)\b(document|documentation|wiki|page|confluence|article|guide|tutorial|how-to|procedure)\b`)},
	{source.Slack, regexp.MustCompile(`(?i)\b(slack|message|chat|channel|thread|dm)\b|#\S+`)},
	{source.GitHub, regexp.MustCompile(`(?i)\b(github|code|repository|commit|pr|pull request|branch|merge)\b`)},
	{source.Google, regexp.MustCompile(`(?i)\b(drive|doc|sheet|gmail|email|calendar|meeting)\b`)},
	{source.Notion, regexp.MustCompile(`(?i)\b(notion|note|database)\b`)},
	{source.Linear, regexp.MustCompile(`(?i)\b(linear|cycle|roadmap)\b`)},
	{source.Figma, regexp.MustCompile(`(?i)\b(figma|design|prototype|component|frame|ui|ux)\b`)},
	{source.Microsoft365, regexp.MustCompile(`(?i)\b(teams|sharepoint|outlook|onedrive|office|microsoft)\b`)},
	{source.DevTools, regexp.MustCompile(`(?i)\b(stackoverflow|npm|pypi|package|library|mdn)\b|\bhow to\b|\berror\b`)},
	{source.Productivity, regexp.MustCompile(`(?i)\b(file|local|bookmark|notes|clipboard)\b`)},
	// Question words (what/who/when/where) are deliberately absent: almost
	// every query contains one, which would route everything to web.
	{source.Web, regexp.MustCompile(`(?i)\b(latest|news|current|today|recent)\b`)},
}

// fallback is selected when no rule fires.
var fallback = []source.ID{source.VectorCache, source.Web}

// Policy is what the router needs to know about the runtime state of each
// source: whether settings enable it, whether its circuit admits calls, and
// whether its adapter reports ready.
type Policy interface {
	Enabled(id source.ID) bool
	CircuitOpen(id source.ID) bool
	Healthy(id source.ID) bool
}

// Selection is the router's decision.
type Selection struct {
	// Sources in selection order, vector_cache first when present.
	Sources []source.ID

	// Confidence is the fraction of selected sources chosen by an
	// explicit keyword match rather than by fallback.
	Confidence float64
}

// Router holds the cap configuration. The rule table is fixed at build time.
type Router struct {
	maxSources int
}

// New creates a Router. maxSources <= 0 selects the default cap.
func New(maxSources int) *Router {
	if maxSources <= 0 {
		maxSources = DefaultMaxSources
	}
	return &Router{maxSources: maxSources}
}

// Select classifies query against the rule table and filters through policy.
//
// Keyword matches are unioned in rule-table order; when nothing matches the
// fallback bundle is used. Sources dropped by policy (disabled, open
// circuit, unhealthy) never appear. vector_cache is prepended whenever the
// selection is nonempty, and the result is truncated to the cap.
func (r *Router) Select(query string, policy Policy) Selection {
	matched := matchKeywords(query)

	candidates := matched
	if len(candidates) == 0 {
		candidates = fallback
	}

	var picked []source.ID
	seen := make(map[source.ID]bool)
	for _, id := range candidates {
		if seen[id] || !admit(id, policy) {
			continue
		}
		seen[id] = true
		picked = append(picked, id)
	}

	if len(picked) > 0 && !seen[source.VectorCache] && admit(source.VectorCache, policy) {
		picked = append([]source.ID{source.VectorCache}, picked...)
	}

	if len(picked) > r.maxSources {
		picked = picked[:r.maxSources]
	}

	confidence := 0.0
	if len(picked) > 0 && len(matched) > 0 {
		hits := 0
		for _, id := range picked {
			if slices.Contains(matched, id) {
				hits++
			}
		}
		confidence = float64(hits) / float64(len(picked))
	}

	return Selection{Sources: picked, Confidence: confidence}
}

// matchKeywords returns the sources whose rules fire on query, in rule-table
// order, without duplicates.
func matchKeywords(query string) []source.ID {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	var out []source.ID
	seen := make(map[source.ID]bool)
	for _, rl := range keywordRules {
		if seen[rl.id] || !rl.re.MatchString(query) {
			continue
		}
		seen[rl.id] = true
		out = append(out, rl.id)
	}
	return out
}

// admit applies the policy overrides. vector_cache has no circuit and no
// credentials, so only the enabled check applies to it.
func admit(id source.ID, policy Policy) bool {
	if !policy.Enabled(id) {
		return false
	}
	if id == source.VectorCache {
		return true
	}
	return !policy.CircuitOpen(id) && policy.Healthy(id)
}
