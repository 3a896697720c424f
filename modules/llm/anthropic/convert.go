package anthropic

import (
	sdkanthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/sibylhq/sibyl/internal/llm"
)

// convertRequest transforms an llm.Request into Anthropic SDK parameters.
// Leading system messages are extracted into the dedicated System field.
func convertRequest(req llm.Request, cfg *Config) sdkanthropic.MessageNewParams {
	system, messages := splitSystemMessages(req.Messages)

	params := sdkanthropic.MessageNewParams{
		Model:    sdkanthropic.Model(cfg.Model),
		Messages: convertMessages(messages),
		System:   system,
	}

	params.MaxTokens = int64(cfg.MaxTokens)
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}

	switch {
	case req.Temperature != nil:
		params.Temperature = sdkanthropic.Float(*req.Temperature)
	case cfg.Temperature != nil:
		params.Temperature = sdkanthropic.Float(*cfg.Temperature)
	}

	return params
}

// splitSystemMessages extracts leading system messages into Anthropic's
// System parameter format and returns the remaining messages.
func splitSystemMessages(msgs []llm.Message) ([]sdkanthropic.TextBlockParam, []llm.Message) {
	var system []sdkanthropic.TextBlockParam
	var idx int
	for idx = 0; idx < len(msgs); idx++ {
		if msgs[idx].Role != llm.RoleSystem {
			break
		}
		system = append(system, sdkanthropic.TextBlockParam{
			Text: msgs[idx].Content,
		})
	}
	return system, msgs[idx:]
}

// convertMessages transforms messages into Anthropic SDK message params.
// Non-leading system messages cannot be expressed by the API and are dropped.
func convertMessages(msgs []llm.Message) []sdkanthropic.MessageParam {
	var result []sdkanthropic.MessageParam
	for _, msg := range msgs {
		switch msg.Role {
		case llm.RoleUser:
			result = append(result, sdkanthropic.NewUserMessage(
				sdkanthropic.NewTextBlock(msg.Content),
			))
		case llm.RoleAssistant:
			result = append(result, sdkanthropic.NewAssistantMessage(
				sdkanthropic.NewTextBlock(msg.Content),
			))
		}
	}
	return result
}

// textContent flattens an SDK message into one string.
func textContent(msg *sdkanthropic.Message) string {
	var content string
	for _, block := range msg.Content {
		if v, ok := block.AsAny().(sdkanthropic.TextBlock); ok {
			if content != "" {
				content += "\n"
			}
			content += v.Text
		}
	}
	return content
}
