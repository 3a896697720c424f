// Package pipeline composes a query end to end: route, fan out, build
// context, assemble the prompt, stream the answer, persist the transcript.
// It owns the event ordering guarantee: start, sources, context, chunks,
// then exactly one terminal event.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sibylhq/sibyl/internal/breaker"
	"github.com/sibylhq/sibyl/internal/contextbuild"
	"github.com/sibylhq/sibyl/internal/llm"
	"github.com/sibylhq/sibyl/internal/orchestrate"
	"github.com/sibylhq/sibyl/internal/rategate"
	"github.com/sibylhq/sibyl/internal/router"
	"github.com/sibylhq/sibyl/internal/source"
	"github.com/sibylhq/sibyl/internal/store"
	"github.com/sibylhq/sibyl/pkg/protocol"
)

// defaultSystemPrompt instructs the model to ground its answer in the
// provided context and attribute sources.
const defaultSystemPrompt = `You are a helpful assistant answering questions using the provided context.
Ground every claim in the context when it is relevant and mention which source it came from.
If the context does not contain the answer, say so plainly instead of guessing.`

// ErrMissingLLMConfig indicates no usable model configuration for the user.
var ErrMissingLLMConfig = errors.New("pipeline: llm provider not configured")

// Sink receives the ordered event stream for one query. Send blocks until
// the event is on the wire; an error means the client is gone or cannot
// keep up.
type Sink interface {
	Send(ev protocol.Event) error
}

// Query is one accepted request.
type Query struct {
	Text      string
	SessionID string
	UserID    string
}

// Response is the non-streaming result shape.
type Response struct {
	Response    string              `json:"response"`
	Sources     []string            `json:"sources"`
	UsedSources []string            `json:"used_sources"`
	Documents   []protocol.Document `json:"documents"`
}

// StreamerFactory builds the model client for one user's settings.
type StreamerFactory func(s store.Settings) (llm.Streamer, error)

// Config bounds the pipeline.
type Config struct {
	// RetrievalTimeout caps the fan-out stage. The query proceeds to
	// generation with whatever arrived in time. Default: 10s.
	RetrievalTimeout time.Duration `yaml:"retrieval_timeout"`

	// FirstTokenTimeout is how long the model may take to produce its
	// first fragment. Default: 20s.
	FirstTokenTimeout time.Duration `yaml:"first_token_timeout"`

	// HistoryTurns is how many prior turns join the prompt. Default: 6.
	HistoryTurns int `yaml:"history_turns"`

	// SystemPrompt overrides the built-in instruction block.
	SystemPrompt string `yaml:"system_prompt"`
}

func (c *Config) defaults() {
	if c.RetrievalTimeout <= 0 {
		c.RetrievalTimeout = 10 * time.Second
	}
	if c.FirstTokenTimeout <= 0 {
		c.FirstTokenTimeout = 20 * time.Second
	}
	if c.HistoryTurns <= 0 {
		c.HistoryTurns = 6
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
}

// Pipeline drives queries. Safe for concurrent use.
type Pipeline struct {
	cfg         Config
	router      *router.Router
	orch        *orchestrate.Orchestrator
	builder     *contextbuild.Builder
	breakers    *breaker.Set
	registry    *source.Registry
	newStreamer StreamerFactory
	settings    store.SettingsStore
	transcripts store.TranscriptStore
	logger      *slog.Logger
	tracer      trace.Tracer
}

// New creates a Pipeline.
func New(cfg Config, rt *router.Router, orch *orchestrate.Orchestrator, builder *contextbuild.Builder,
	breakers *breaker.Set, registry *source.Registry, factory StreamerFactory,
	settings store.SettingsStore, transcripts store.TranscriptStore, logger *slog.Logger) *Pipeline {
	cfg.defaults()
	return &Pipeline{
		cfg:         cfg,
		router:      rt,
		orch:        orch,
		builder:     builder,
		breakers:    breakers,
		registry:    registry,
		newStreamer: factory,
		settings:    settings,
		transcripts: transcripts,
		logger:      logger.With("component", "pipeline"),
		tracer:      otel.Tracer("sibyl/pipeline"),
	}
}

// Answer executes q without streaming and returns the complete response.
func (p *Pipeline) Answer(ctx context.Context, q Query) (Response, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.answer")
	defer span.End()

	st, streamer, err := p.prepare(ctx, q)
	if err != nil {
		return Response{}, err
	}

	sel := p.router.Select(q.Text, p.policy(st))
	results, pack := p.retrieve(ctx, q, sel)
	if err := rateStarved(results, pack); err != nil {
		return Response{}, err
	}

	req := p.assemble(ctx, q, pack)
	text, err := streamer.Complete(ctx, req)
	if err != nil {
		return Response{}, err
	}

	p.persist(ctx, q, sel, pack, text)

	return Response{
		Response:    text,
		Sources:     idStrings(sel.Sources),
		UsedSources: idStrings(pack.UsedSources),
		Documents:   wireDocuments(pack.Documents),
	}, nil
}

// RunStream executes q and writes the full event stream to sink, including
// the terminal event. The returned error mirrors the terminal error event
// and exists for logging; sink has already been told everything.
func (p *Pipeline) RunStream(ctx context.Context, q Query, sink Sink) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("session_id", q.SessionID)))
	defer span.End()

	send := sink.Send

	fail := func(err error) error {
		kind, msg := Classify(err)
		p.logger.Error("query failed", "session_id", q.SessionID, "kind", string(kind), "error", err)
		if serr := send(protocol.Error(kind, msg)); serr != nil {
			p.logger.Debug("error event not delivered", "error", serr)
		}
		return err
	}

	if err := send(protocol.Start()); err != nil {
		return fail(fmt.Errorf("%w: %v", errClientGone, err))
	}

	st, streamer, err := p.prepare(ctx, q)
	if err != nil {
		return fail(err)
	}

	// The selection goes on the wire before any fetching starts, so the
	// client sees where the answer will come from while the fan-out runs.
	sel := p.router.Select(q.Text, p.policy(st))
	if err := send(protocol.Sources(idStrings(sel.Sources))); err != nil {
		return fail(fmt.Errorf("%w: %v", errClientGone, err))
	}

	results, pack := p.retrieve(ctx, q, sel)
	if err := rateStarved(results, pack); err != nil {
		return fail(err)
	}
	if err := send(protocol.Context(len(pack.Chunks), idStrings(pack.UsedSources), wireDocuments(pack.Documents))); err != nil {
		return fail(fmt.Errorf("%w: %v", errClientGone, err))
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	req := p.assemble(ctx, q, pack)

	text, err := p.stream(ctx, streamer, req, send)
	if err != nil {
		return fail(err)
	}

	p.persist(ctx, q, sel, pack, text)

	if err := send(protocol.Done(idStrings(sel.Sources), idStrings(pack.UsedSources), wireDocuments(pack.Documents))); err != nil {
		return fmt.Errorf("%w: %v", errClientGone, err)
	}
	return nil
}

// prepare loads settings and builds the model client. A missing settings
// row falls back to zero-value settings; a missing provider is a config
// error before any fetches happen.
func (p *Pipeline) prepare(ctx context.Context, q Query) (store.Settings, llm.Streamer, error) {
	st, err := p.settings.Get(ctx, q.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return store.Settings{}, nil, fmt.Errorf("pipeline: load settings: %w", err)
	}

	streamer, err := p.newStreamer(st)
	if err != nil {
		return store.Settings{}, nil, err
	}
	return st, streamer, nil
}

// retrieve runs the fan-out and context assembly for an already-routed
// selection, under the retrieval budget. Failures here degrade the context
// instead of failing the query.
func (p *Pipeline) retrieve(ctx context.Context, q Query, sel router.Selection) ([]orchestrate.Result, contextbuild.Pack) {
	ctx, span := p.tracer.Start(ctx, "pipeline.retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("selected", len(sel.Sources)))

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.RetrievalTimeout)
	defer cancel()

	results := p.orch.Fetch(fetchCtx, sel.Sources, q.Text)

	pack, err := p.builder.Build(ctx, q.Text, results)
	if err != nil {
		// An empty pack is always a legal degradation.
		p.logger.Warn("context assembly failed", "error", err)
		pack = contextbuild.Pack{}
	}
	return results, pack
}

// assemble builds the model message list: system prompt, context block,
// prior history, then the question.
func (p *Pipeline) assemble(ctx context.Context, q Query, pack contextbuild.Pack) llm.Request {
	messages := []llm.Message{{Role: llm.RoleSystem, Content: p.cfg.SystemPrompt}}

	if block := pack.Render(); block != "" {
		messages = append(messages, llm.Message{
			Role:    llm.RoleSystem,
			Content: "Context:\n\n" + block,
		})
	}

	history, err := p.transcripts.Recent(ctx, q.SessionID, p.cfg.HistoryTurns)
	if err != nil {
		p.logger.Warn("history load failed", "session_id", q.SessionID, "error", err)
	}
	for _, turn := range history {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: turn.UserMessage},
			llm.Message{Role: llm.RoleAssistant, Content: turn.BotResponse})
	}

	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: q.Text})
	return llm.Request{Messages: messages}
}

// stream drives the model and forwards fragments. It returns the full text
// on normal completion.
func (p *Pipeline) stream(ctx context.Context, streamer llm.Streamer, req llm.Request, send func(protocol.Event) error) (string, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.stream")
	defer span.End()

	chunks, err := streamer.Stream(ctx, req)
	if err != nil {
		return "", err
	}

	firstToken := time.NewTimer(p.cfg.FirstTokenTimeout)
	defer firstToken.Stop()

	var text strings.Builder
	first := true
	for {
		var (
			ch llm.Chunk
			ok bool
		)
		if first {
			select {
			case ch, ok = <-chunks:
			case <-firstToken.C:
				return "", llm.ErrUpstreamTimeout
			case <-ctx.Done():
				return "", ctx.Err()
			}
		} else {
			select {
			case ch, ok = <-chunks:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		if !ok {
			// Channel closed without a Done marker: treat as abnormal end.
			return "", llm.ErrUpstreamError
		}
		first = false

		if ch.Err != nil {
			return "", ch.Err
		}
		if ch.Done {
			return text.String(), nil
		}
		if ch.Text == "" {
			continue
		}

		text.WriteString(ch.Text)
		if err := send(protocol.Chunk(ch.Text)); err != nil {
			return "", fmt.Errorf("%w: %v", errClientGone, err)
		}
	}
}

// persist writes the finished turn. Best effort: failures are logged, never
// surfaced.
func (p *Pipeline) persist(ctx context.Context, q Query, sel router.Selection, pack contextbuild.Pack, text string) {
	err := p.transcripts.Append(ctx, q.SessionID, store.Turn{
		UserMessage: q.Text,
		BotResponse: text,
		Sources:     sel.Sources,
		UsedSources: pack.UsedSources,
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		p.logger.Warn("transcript write failed", "session_id", q.SessionID, "error", err)
	}
}

// policy adapts the user's settings plus live breaker and adapter state to
// the router's view.
func (p *Pipeline) policy(st store.Settings) router.Policy {
	return policy{settings: st, breakers: p.breakers, registry: p.registry}
}

type policy struct {
	settings store.Settings
	breakers *breaker.Set
	registry *source.Registry
}

func (p policy) Enabled(id source.ID) bool {
	if !p.settings.SourceEnabled(id) {
		return false
	}
	_, err := p.registry.Get(id)
	return err == nil
}

func (p policy) CircuitOpen(id source.ID) bool {
	return p.breakers.State(id) == breaker.Open
}

func (p policy) Healthy(id source.ID) bool {
	adapter, err := p.registry.Get(id)
	if err != nil {
		return false
	}
	return adapter.Healthy()
}

// rateStarved reports the one case where rate limiting fails the whole
// query: every selected source was refused admission and the cache
// contributed nothing.
func rateStarved(results []orchestrate.Result, pack contextbuild.Pack) error {
	if len(results) == 0 || len(pack.Chunks) > 0 {
		return nil
	}
	for _, res := range results {
		if !errors.Is(res.Err, rategate.ErrDeadlineExceeded) {
			return nil
		}
	}
	return fmt.Errorf("%w: no source admitted before deadline", errRateStarved)
}

func idStrings(ids []source.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func wireDocuments(docs []contextbuild.DocumentRef) []protocol.Document {
	out := make([]protocol.Document, len(docs))
	for i, d := range docs {
		out[i] = protocol.Document{Source: string(d.Source), Title: d.Title, URL: d.URL}
	}
	return out
}
