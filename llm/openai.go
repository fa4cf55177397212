package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAICompatible talks to any chat-completions endpoint (OpenAI, DeepSeek).
type OpenAICompatible struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func NewOpenAICompatible(opts Options) (*OpenAICompatible, error) {
	if opts.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	model := opts.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAICompatible{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: opts.MaxTokens,
	}, nil
}

func (o *OpenAICompatible) Name() string {
	return "openai"
}

func (o *OpenAICompatible) Generate(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
	}
	if o.maxTokens > 0 {
		req.MaxTokens = o.maxTokens
	}
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
