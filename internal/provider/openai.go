package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/atheneum-ai/atheneum/internal/credential"
)

// openAIClient adapts the official OpenAI SDK. All OpenAI-compatible vendors
// (OpenAI, SiliconFlow, Zhipu, ModelScope, custom base URLs) go through this
// client; the credential's base URL selects the vendor.
type openAIClient struct{}

func (c *openAIClient) newSDK(cred credential.Credential) openai.Client {
	opts := []option.RequestOption{option.WithAPIKey(cred.APIKey)}
	if cred.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cred.BaseURL))
	}
	return openai.NewClient(opts...)
}

// Chat implements chatClient.
func (c *openAIClient) Chat(ctx context.Context, cred credential.Credential, req ChatRequest) (ChatResult, error) {
	client := c.newSDK(cred)
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: encodeOpenAIMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, def := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        def.Name,
					Description: openai.String(def.Description),
					Parameters:  shared.FunctionParameters(def.InputSchema),
				},
			})
		}
		params.Tools = tools
	}
	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return ChatResult{}, translateOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return ChatResult{}, fmt.Errorf("openai: empty choices")
	}
	msg := resp.Choices[0].Message
	result := ChatResult{
		Content: msg.Content,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	for _, call := range msg.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(call.Function.Arguments),
		})
	}
	return result, nil
}

// Embed implements embedClient via the embeddings endpoint.
func (c *openAIClient) Embed(ctx context.Context, cred credential.Credential, texts []string) ([][]float32, error) {
	client := c.newSDK(cred)
	resp, err := client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(cred.ModelID),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, translateOpenAIError(err)
	}
	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai: embedding index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, x := range d.Embedding {
			vec[i] = float32(x)
		}
		out[d.Index] = vec
	}
	return out, nil
}

func encodeOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func translateOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if classified := classifyStatus(apiErr.StatusCode, apiErr.Message); classified != nil {
			return classified
		}
	}
	return fmt.Errorf("openai: %w", err)
}
