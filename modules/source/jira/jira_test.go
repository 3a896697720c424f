package jira

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sibylhq/sibyl/internal/source"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a, err := New(source.CredentialsBlob{
		"jira_url":       srv.URL,
		"jira_email":     "dev@example.test",
		"jira_api_token": "tok",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestSearchFormatsIssues(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "dev@example.test" || pass != "tok" {
			t.Errorf("basic auth = %q/%q", user, pass)
		}
		jql := r.URL.Query().Get("jql")
		if !strings.Contains(jql, `text ~ "checkout"`) {
			t.Errorf("jql = %q", jql)
		}
		_, _ = w.Write([]byte(`{"issues":[{"key":"CTT-21761","fields":{
			"summary":"Checkout flake",
			"description":"Intermittent failure",
			"status":{"name":"In Review"},
			"assignee":{"displayName":"Dana"},
			"priority":{"name":"High"}}}]}`))
	})

	docs, err := a.Search(context.Background(), "checkout", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("len(docs) = %d, want 1", len(docs))
	}

	d := docs[0]
	if d.ID != "CTT-21761" || d.Source != source.Jira {
		t.Errorf("doc = %+v", d)
	}
	if d.Title != "CTT-21761: Checkout flake" {
		t.Errorf("Title = %q", d.Title)
	}
	if !strings.HasSuffix(d.URL, "/browse/CTT-21761") {
		t.Errorf("URL = %q", d.URL)
	}
	for _, want := range []string{"Status: In Review", "Assignee: Dana", "Intermittent failure"} {
		if !strings.Contains(d.Body, want) {
			t.Errorf("Body missing %q:\n%s", want, d.Body)
		}
	}
	if d.Score >= 0 {
		t.Errorf("Score = %f, want negative (no native score)", d.Score)
	}
}

func TestSearchErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusUnauthorized, func(err error) bool { return errors.Is(err, source.ErrUnauthorized) }},
		{http.StatusBadRequest, func(err error) bool { return errors.Is(err, source.ErrBadQuery) }},
		{http.StatusBadGateway, func(err error) bool { return errors.Is(err, source.ErrUnavailable) }},
	}
	for _, tc := range cases {
		a := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		})
		_, err := a.Search(context.Background(), "q", 5)
		if !tc.check(err) {
			t.Errorf("status %d: err = %v", tc.status, err)
		}
	}
}

func TestSearchRateLimited(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := a.Search(context.Background(), "q", 5)
	var rle *source.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if rle.RetryAfter != 12*time.Second {
		t.Errorf("RetryAfter = %s, want 12s", rle.RetryAfter)
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Parallel()

	if _, err := New(source.CredentialsBlob{"jira_url": "https://x.atlassian.net"}); err == nil {
		t.Error("New without token succeeded")
	}
}
