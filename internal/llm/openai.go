package llm

import (
	"context"
	"fmt"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAIClient implements Client against any OpenAI-compatible chat endpoint.
// Ollama exposes one at /v1, so this is also the local-model transport.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a client for an OpenAI-compatible API.
// baseURL may be empty for the hosted OpenAI endpoint.
func NewOpenAIClient(apiKey, modelName, baseURL string) (*OpenAIClient, error) {
	if modelName == "" {
		return nil, fmt.Errorf("model name is required")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
		model:  modelName,
	}, nil
}

// Complete implements Client.Complete with a single-turn chat completion.
// The prompt already carries the conversation context assembled by the
// memory manager, so no message history is replayed here.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from model")
	}

	return resp.Choices[0].Message.Content, nil
}

// Health checks the endpoint by listing models, which is cheap and does not
// consume completion tokens.
func (c *OpenAIClient) Health(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("model endpoint unreachable: %w", err)
	}
	return nil
}

// Model implements Client.Model.
func (c *OpenAIClient) Model() string {
	return c.model
}
