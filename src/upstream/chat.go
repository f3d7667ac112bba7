package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"age-classifier/src/config"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyCompletion is returned when the chat endpoint answers without content.
var ErrEmptyCompletion = errors.New("chat completion returned empty content")

// ChatClient classifies images through an OpenAI compatible chat completion
// endpoint, sending the system prompt, a question and the image URL.
type ChatClient struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	httpClient  *http.Client
	logger      zerolog.Logger
}

type ChatOption func(*ChatClient)

// WithChatHTTPClient replaces the default client. The caller owns its timeout.
func WithChatHTTPClient(c *http.Client) ChatOption {
	return func(cc *ChatClient) { cc.httpClient = c }
}

func NewChatClient(cfg config.Config, logger zerolog.Logger, opts ...ChatOption) *ChatClient {
	c := &ChatClient{
		model:       cfg.ChatModel,
		temperature: float32(cfg.ChatTemperature),
		maxTokens:   cfg.ChatMaxTokens,
		httpClient:  &http.Client{Timeout: cfg.UpstreamTimeout},
		logger:      logger.With().Str("component", "chat").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	clientCfg := openai.DefaultConfig(cfg.ChatAPIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.ChatBaseURL, "/")
	clientCfg.HTTPClient = c.httpClient
	c.client = openai.NewClientWithConfig(clientCfg)

	return c
}

// RunWithImage returns the raw assistant reply for a single image question.
func (c *ChatClient) RunWithImage(ctx context.Context, imageURL, systemPrompt, question string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: question},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: imageURL}},
		},
	})

	res, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(res.Choices) == 0 || res.Choices[0].Message.Content == "" {
		return "", ErrEmptyCompletion
	}

	content := res.Choices[0].Message.Content
	c.logger.Debug().Str("image_url", imageURL).Msgf("chat completion: %s", content)
	return content, nil
}
