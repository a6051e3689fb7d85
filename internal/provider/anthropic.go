package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/atheneum-ai/atheneum/internal/credential"
)

const anthropicMaxTokens = 4096

// anthropicClient adapts the Anthropic Messages API. Anthropic separates the
// system prompt from the message list and returns content as typed blocks,
// so the adapter flattens both directions.
type anthropicClient struct{}

// Chat implements chatClient.
func (c *anthropicClient) Chat(ctx context.Context, cred credential.Credential, req ChatRequest) (ChatResult, error) {
	opts := []option.RequestOption{option.WithAPIKey(cred.APIKey)}
	if cred.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cred.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	var system []string
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: anthropicMaxTokens,
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, def := range req.Tools {
			schema := anthropic.ToolInputSchemaParam{}
			if props, ok := def.InputSchema["properties"]; ok {
				schema.Properties = props
			}
			if reqd, ok := def.InputSchema["required"].([]any); ok {
				for _, f := range reqd {
					if s, ok := f.(string); ok {
						schema.Required = append(schema.Required, s)
					}
				}
			}
			tools = append(tools, anthropic.ToolUnionParam{
				OfTool: &anthropic.ToolParam{
					Name:        def.Name,
					Description: anthropic.String(def.Description),
					InputSchema: schema,
				},
			})
		}
		params.Tools = tools
	}

	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		return ChatResult{}, translateAnthropicError(err)
	}
	result := ChatResult{
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
			TotalTokens:  msg.Usage.InputTokens + msg.Usage.OutputTokens,
		},
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: json.RawMessage(b.Input),
			})
		}
	}
	result.Content = text.String()
	return result, nil
}

func translateAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if classified := classifyStatus(apiErr.StatusCode, ""); classified != nil {
			return classified
		}
	}
	return fmt.Errorf("anthropic: %w", err)
}
