package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider streams chat completions from the OpenAI API or any server
// speaking the same protocol (vLLM, llama.cpp, Ollama, ...).
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider builds a provider. baseURL may be empty for the public
// API; an API key is required only when baseURL is empty.
func NewOpenAIProvider(apiKey, baseURL string) (*OpenAIProvider, error) {
	if apiKey == "" && baseURL == "" {
		return nil, errors.New("openai: API key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg)}, nil
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// StreamChat implements Provider.
func (p *OpenAIProvider) StreamChat(ctx context.Context, req Request) (Stream, error) {
	if len(req.Turns) == 0 {
		return nil, ErrNoTurns
	}
	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toOpenAIMessages(req),
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: open stream: %w", err)
	}
	return &openAIStream{s: stream}, nil
}

func toOpenAIMessages(req Request) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Turns)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, t := range req.Turns {
		role := openai.ChatMessageRoleUser
		if t.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	return msgs
}

type openAIStream struct {
	s *openai.ChatCompletionStream
}

func (o *openAIStream) Recv() (string, error) {
	for {
		resp, err := o.s.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("openai: %w", err)
		}
		var text string
		for _, ch := range resp.Choices {
			text += ch.Delta.Content
		}
		if text != "" {
			return text, nil
		}
	}
}

func (o *openAIStream) Close() error { return o.s.Close() }
