package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/sibylhq/sibyl/internal/llm"
	"github.com/sibylhq/sibyl/internal/pipeline"
	"github.com/sibylhq/sibyl/internal/store"
	"github.com/sibylhq/sibyl/modules/llm/anthropic"
	"github.com/sibylhq/sibyl/modules/llm/gemini"
	"github.com/sibylhq/sibyl/modules/llm/ollama"
	"github.com/sibylhq/sibyl/modules/llm/openai"
)

// newStreamer is the pipeline's StreamerFactory: it builds the model
// client for one user's settings. With streaming disabled the client is
// wrapped so Stream replays the completed answer as fragments and the
// pipeline stays on one code path.
func (c *Core) newStreamer(st store.Settings) (llm.Streamer, error) {
	inner, err := buildStreamer(st)
	if err != nil {
		return nil, err
	}
	if !st.UseStreaming {
		return &llm.Simulated{Inner: inner}, nil
	}
	return inner, nil
}

// buildStreamer constructs the raw provider client. Missing or unusable
// provider configuration is a config-kind failure, reported before any
// source is fetched.
func buildStreamer(st store.Settings) (llm.Streamer, error) {
	switch st.LLMProvider {
	case "":
		return nil, pipeline.ErrMissingLLMConfig

	case store.ProviderOpenAI:
		client, err := openai.New(openai.Config{APIKey: st.LLMAPIKey, Model: st.LLMModel})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pipeline.ErrMissingLLMConfig, err)
		}
		return client, nil

	case store.ProviderAnthropic:
		client, err := anthropic.New(anthropic.Config{APIKey: st.LLMAPIKey, Model: st.LLMModel})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pipeline.ErrMissingLLMConfig, err)
		}
		return client, nil

	case store.ProviderGemini:
		client, err := gemini.New(gemini.Config{APIKey: st.LLMAPIKey, Model: st.LLMModel})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pipeline.ErrMissingLLMConfig, err)
		}
		return client, nil

	case store.ProviderOllama:
		// Ollama has no API key; a key value that looks like a URL
		// selects the server address instead.
		cfg := ollama.Config{Model: st.LLMModel}
		if strings.HasPrefix(st.LLMAPIKey, "http://") || strings.HasPrefix(st.LLMAPIKey, "https://") {
			cfg.BaseURL = st.LLMAPIKey
		}
		client, err := ollama.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pipeline.ErrMissingLLMConfig, err)
		}
		return client, nil

	default:
		return nil, fmt.Errorf("%w: unknown provider %q", pipeline.ErrMissingLLMConfig, st.LLMProvider)
	}
}

// TestLLM implements gateway.ConnTester: one cheap completion against the
// configured provider.
func (c *Core) TestLLM(ctx context.Context, st store.Settings) error {
	client, err := buildStreamer(st)
	if err != nil {
		return err
	}
	_, err = client.Complete(ctx, llm.Request{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	return err
}
