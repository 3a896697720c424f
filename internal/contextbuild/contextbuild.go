// Package contextbuild turns fetched documents into the token-budgeted
// context pack handed to the model: chunk, embed, score against the query,
// deduplicate per document, and pack greedily under the budget.
package contextbuild

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sibylhq/sibyl/internal/chunk"
	"github.com/sibylhq/sibyl/internal/embed"
	"github.com/sibylhq/sibyl/internal/orchestrate"
	"github.com/sibylhq/sibyl/internal/source"
)

// Scoring weights: semantic similarity dominates, the source's own ranking
// breaks ties.
const (
	semanticWeight = 0.7
	nativeWeight   = 0.3
)

// Chunk is one scored piece of a document selected for the pack.
type Chunk struct {
	Source  source.ID
	DocID   string
	Title   string
	URL     string
	Text    string
	Tokens  int
	Ordinal int
	Score   float64
}

// DocumentRef is the provenance of one packed document as shown to the
// client.
type DocumentRef struct {
	Source source.ID `json:"source"`
	Title  string    `json:"title"`
	URL    string    `json:"url,omitempty"`
}

// Pack is the assembled context.
type Pack struct {
	Chunks      []Chunk
	UsedSources []source.ID
	Documents   []DocumentRef
	TotalTokens int
}

// Config bounds the builder.
type Config struct {
	// TokenBudget caps the pack's total tokens. Default: 2048.
	TokenBudget int `yaml:"token_budget"`

	// MaxChunksPerDoc caps how many chunks one document contributes.
	// Default: 2.
	MaxChunksPerDoc int `yaml:"max_chunks_per_doc"`

	// SeparatorOverhead is the per-chunk token reservation for the
	// provenance header and separator. Default: 16.
	SeparatorOverhead int `yaml:"separator_overhead"`
}

func (c *Config) defaults() {
	if c.TokenBudget <= 0 {
		c.TokenBudget = 2048
	}
	if c.MaxChunksPerDoc <= 0 {
		c.MaxChunksPerDoc = 2
	}
	if c.SeparatorOverhead <= 0 {
		c.SeparatorOverhead = 16
	}
}

// Builder assembles packs. Safe for concurrent use.
type Builder struct {
	cfg      Config
	splitter *chunk.Splitter
	embedder embed.Embedder
	est      chunk.Estimator
	logger   *slog.Logger
}

// New creates a Builder.
func New(cfg Config, splitter *chunk.Splitter, embedder embed.Embedder, est chunk.Estimator, logger *slog.Logger) *Builder {
	cfg.defaults()
	return &Builder{
		cfg:      cfg,
		splitter: splitter,
		embedder: embedder,
		est:      est,
		logger:   logger.With("component", "contextbuild"),
	}
}

// Build assembles the pack for query from the orchestrator's results.
// Results carrying errors contribute nothing; an empty pack is a valid
// outcome, not an error.
func (b *Builder) Build(ctx context.Context, query string, results []orchestrate.Result) (Pack, error) {
	candidates := b.chunkAll(results)
	if len(candidates) == 0 {
		return Pack{}, nil
	}

	if err := b.score(ctx, query, candidates); err != nil {
		return Pack{}, err
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })

	selected := b.dedupe(candidates)
	return b.pack(selected), nil
}

// chunkAll splits every fetched document, carrying provenance and the
// source's native score onto each chunk.
func (b *Builder) chunkAll(results []orchestrate.Result) []*Chunk {
	var out []*Chunk
	for _, res := range results {
		if res.Err != nil {
			continue
		}
		// Normalize native scores within one source's result list so the
		// 0.3 weight means the same thing for every source.
		maxNative := 0.0
		for _, d := range res.Docs {
			if d.Score > maxNative {
				maxNative = d.Score
			}
		}

		for _, d := range res.Docs {
			native := -1.0
			if d.Score >= 0 && maxNative > 0 {
				native = d.Score / maxNative
			}
			for ordinal, text := range b.splitter.Split(d.Body) {
				out = append(out, &Chunk{
					Source:  res.Source,
					DocID:   d.ID,
					Title:   d.Title,
					URL:     d.URL,
					Text:    text,
					Tokens:  b.est.Tokens(text),
					Ordinal: ordinal,
					Score:   native, // replaced by the combined score below
				})
			}
		}
	}
	return out
}

// score embeds the query and all candidate chunks, then combines cosine
// similarity with the normalized native score where one exists.
func (b *Builder) score(ctx context.Context, query string, candidates []*Chunk) error {
	qvec, err := b.embedder.Embed(ctx, query)
	if err != nil {
		return fmt.Errorf("contextbuild: embed query: %w", err)
	}

	for start := 0; start < len(candidates); start += embed.MaxBatch {
		end := min(start+embed.MaxBatch, len(candidates))

		texts := make([]string, 0, end-start)
		for _, c := range candidates[start:end] {
			texts = append(texts, c.Text)
		}
		vecs, err := b.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("contextbuild: embed chunks: %w", err)
		}

		for i, c := range candidates[start:end] {
			semantic := embed.Cosine(qvec, vecs[i])
			if native := c.Score; native >= 0 {
				c.Score = semanticWeight*semantic + nativeWeight*native
			} else {
				c.Score = semantic
			}
		}
	}
	return nil
}

// dedupe caps each (source, doc_id) at MaxChunksPerDoc chunks, keeping the
// highest-scoring ones. Chunks of one document stay grouped at the position
// of that document's best chunk, in ordinal order.
func (b *Builder) dedupe(sorted []*Chunk) []*Chunk {
	type docKey struct {
		src source.ID
		id  string
	}

	perDoc := make(map[docKey][]*Chunk)
	var docOrder []docKey
	for _, c := range sorted {
		k := docKey{c.Source, c.DocID}
		if _, ok := perDoc[k]; !ok {
			docOrder = append(docOrder, k)
		}
		if len(perDoc[k]) < b.cfg.MaxChunksPerDoc {
			perDoc[k] = append(perDoc[k], c)
		}
	}

	var out []*Chunk
	for _, k := range docOrder {
		kept := perDoc[k]
		sort.SliceStable(kept, func(i, j int) bool { return kept[i].Ordinal < kept[j].Ordinal })
		out = append(out, kept...)
	}
	return out
}

// pack greedily accepts chunks until the budget is exhausted. A chunk that
// does not fit is skipped; smaller ones later may still fit.
func (b *Builder) pack(selected []*Chunk) Pack {
	var p Pack
	seenDoc := make(map[string]bool)
	seenSource := make(map[source.ID]bool)

	for _, c := range selected {
		cost := c.Tokens + b.cfg.SeparatorOverhead
		if p.TotalTokens+cost > b.cfg.TokenBudget {
			continue
		}
		p.TotalTokens += cost
		p.Chunks = append(p.Chunks, *c)

		if dk := string(c.Source) + "\x00" + c.DocID; !seenDoc[dk] {
			seenDoc[dk] = true
			p.Documents = append(p.Documents, DocumentRef{Source: c.Source, Title: c.Title, URL: c.URL})
		}
		if !seenSource[c.Source] {
			seenSource[c.Source] = true
			p.UsedSources = append(p.UsedSources, c.Source)
		}
	}
	return p
}

// Render produces the context block included in the prompt, one provenance
// header per chunk.
func (p Pack) Render() string {
	if len(p.Chunks) == 0 {
		return ""
	}

	var b strings.Builder
	for i, c := range p.Chunks {
		if i > 0 {
			b.WriteString("\n---\n\n")
		}
		fmt.Fprintf(&b, "Source: %s\n", c.Source)
		fmt.Fprintf(&b, "Title: %s\n", c.Title)
		if c.URL != "" {
			fmt.Fprintf(&b, "URL: %s\n", c.URL)
		}
		fmt.Fprintf(&b, "Content: %s\n", c.Text)
	}
	return b.String()
}
