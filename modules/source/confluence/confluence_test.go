package confluence

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sibylhq/sibyl/internal/source"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a, err := New(source.CredentialsBlob{
		"confluence_url":       srv.URL,
		"confluence_email":     "dev@example.test",
		"confluence_api_token": "tok",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestSearchTermsStripFillers(t *testing.T) {
	t.Parallel()

	got := searchTerms("What is the status of the deployment runbook?")
	if got != "deployment runbook" {
		t.Errorf("searchTerms = %q, want %q", got, "deployment runbook")
	}

	// Nothing meaningful survives: keep the original query.
	if got := searchTerms("what is it"); got != "what is it" {
		t.Errorf("searchTerms = %q, want passthrough", got)
	}
}

func TestSearchFormatsPages(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		cql := r.URL.Query().Get("cql")
		if !strings.Contains(cql, `text ~ "deployment runbook"`) {
			t.Errorf("cql = %q", cql)
		}
		_, _ = w.Write([]byte(`{"results":[{
			"content":{"id":"12345","title":"Deploy Runbook","_links":{"webui":"/spaces/OPS/pages/12345"}},
			"excerpt":"Run the @@@hl@@@deployment@@@endhl@@@ in two steps"}]}`))
	})

	docs, err := a.Search(context.Background(), "what is the deployment runbook", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("len(docs) = %d, want 1", len(docs))
	}

	d := docs[0]
	if d.ID != "12345" || d.Source != source.Confluence {
		t.Errorf("doc = %+v", d)
	}
	if !strings.HasSuffix(d.URL, "/spaces/OPS/pages/12345") {
		t.Errorf("URL = %q", d.URL)
	}
	if d.Body != "Run the deployment in two steps" {
		t.Errorf("Body = %q, highlight markers not stripped", d.Body)
	}
}

func TestSearchUnauthorized(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	_, err := a.Search(context.Background(), "q", 5)
	if !errors.Is(err, source.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Parallel()

	if _, err := New(source.CredentialsBlob{}); err == nil {
		t.Error("New without credentials succeeded")
	}
}
