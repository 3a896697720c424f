package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sibylhq/sibyl/internal/source"
)

const resultsPage = `<html><body>
<div class="results">
  <div class="result results_links">
    <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fblog%2Frelease">Go release notes</a>
    <a class="result__snippet" href="#">The <b>latest</b> Go release.</a>
  </div>
  <div class="result results_links">
    <a class="result__a" href="https://example.test/direct">Direct link result</a>
    <a class="result__snippet" href="#">A snippet.</a>
  </div>
  <div class="result">
    <a class="result__a" href="https://example.test/third">Third</a>
  </div>
</div>
</body></html>`

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("q") == "" {
			t.Errorf("missing form query: %v", err)
		}
		_, _ = w.Write([]byte(resultsPage))
	}))
	t.Cleanup(srv.Close)
	return New(WithEndpoint(srv.URL))
}

func TestSearchParsesResults(t *testing.T) {
	t.Parallel()

	docs, err := newTestAdapter(t).Search(context.Background(), "go release", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("len(docs) = %d, want 3", len(docs))
	}

	first := docs[0]
	if first.Title != "Go release notes" {
		t.Errorf("Title = %q", first.Title)
	}
	if first.URL != "https://go.dev/blog/release" {
		t.Errorf("URL = %q, redirect not unwrapped", first.URL)
	}
	if first.Body != "The latest Go release." {
		t.Errorf("Body = %q", first.Body)
	}
	if first.Source != source.Web {
		t.Errorf("Source = %s", first.Source)
	}
}

func TestSearchHonorsLimit(t *testing.T) {
	t.Parallel()

	docs, err := newTestAdapter(t).Search(context.Background(), "go", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("len(docs) = %d, want 1", len(docs))
	}
}
