package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
)

// DefaultLLMModel is used when no model is configured.
const DefaultLLMModel = openai.GPT4oMini

// ChatCompleter is the part of the OpenAI client the LLM uses.
// *openai.Client satisfies it.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

const systemPrompt = "You are a quantitative trading research assistant. " +
	"Answer with a single JSON object and nothing else."

const internetHint = "Use the most recent market knowledge you have; " +
	"state assumptions where live data would be needed."

// LLM serves InvokeLLM with structured JSON output.
type LLM struct {
	client ChatCompleter
	model  string
}

// NewLLM creates an LLM over client.
func NewLLM(client ChatCompleter, model string) *LLM {
	if model == "" {
		model = DefaultLLMModel
	}
	return &LLM{client: client, model: model}
}

// NewOpenAILLM creates an LLM backed by the OpenAI API.
func NewOpenAILLM(apiKey, model string) *LLM {
	return NewLLM(openai.NewClient(apiKey), model)
}

// Invoke answers req. With a schema the model is held to it through the
// json_schema response format; without one a JSON object is still required.
func (l *LLM) Invoke(ctx context.Context, req gateway.LLMRequest) (json.RawMessage, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, apperrors.NewValidationError("prompt", nil, "is required")
	}

	system := systemPrompt
	if req.AddContextFromInternet {
		system += " " + internetHint
	}
	chat := openai.ChatCompletionRequest{
		Model: l.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}
	if len(req.ResponseJSONSchema) > 0 {
		schema, err := json.Marshal(req.ResponseJSONSchema)
		if err != nil {
			return nil, apperrors.NewValidationError("response_json_schema", nil, err.Error())
		}
		chat.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "response",
				Schema: json.RawMessage(schema),
			},
		}
	}

	resp, err := l.client.CreateChatCompletion(ctx, chat)
	if err != nil {
		return nil, apperrors.NewRemoteCallError("openai.chat", 0, "openai completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperrors.NewRemoteCallError("openai.chat", 0, "no response from openai", nil)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimSuffix(strings.TrimPrefix(content, "```"), "```")
	content = strings.TrimSpace(content)
	if !json.Valid([]byte(content)) {
		return nil, apperrors.NewRemoteCallError("openai.chat", 0, fmt.Sprintf("model returned invalid JSON (%d bytes)", len(content)), nil)
	}
	return json.RawMessage(content), nil
}
