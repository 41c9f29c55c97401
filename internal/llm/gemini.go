package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiProvider streams completions from Google's Gemini models.
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates the Gemini SDK client. Extra options are passed
// through to the SDK (endpoint overrides, custom HTTP clients).
func NewGeminiProvider(ctx context.Context, apiKey string, opts ...option.ClientOption) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

// Name implements Provider.
func (p *GeminiProvider) Name() string { return "gemini" }

// Close releases the SDK client.
func (p *GeminiProvider) Close() error { return p.client.Close() }

// StreamChat implements Provider. All turns but the last become chat
// history; the last turn is sent as the new message.
func (p *GeminiProvider) StreamChat(ctx context.Context, req Request) (Stream, error) {
	history, last, err := toGeminiHistory(req.Turns)
	if err != nil {
		return nil, err
	}

	model := p.client.GenerativeModel(req.Model)
	if req.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.SystemPrompt)},
		}
	}
	cs := model.StartChat()
	cs.History = history

	ctx, cancel := context.WithCancel(ctx)
	it := cs.SendMessageStream(ctx, genai.Text(last))
	return &geminiStream{it: it, cancel: cancel}, nil
}

// toGeminiHistory maps turns onto Gemini roles ("user", "model") and splits
// off the final message, which must come from the user.
func toGeminiHistory(turns []Turn) ([]*genai.Content, string, error) {
	if len(turns) == 0 {
		return nil, "", ErrNoTurns
	}
	final := turns[len(turns)-1]
	if final.Role != RoleUser {
		return nil, "", fmt.Errorf("gemini: last turn must be from the user, got %q", final.Role)
	}
	history := make([]*genai.Content, 0, len(turns)-1)
	for _, t := range turns[:len(turns)-1] {
		role := "user"
		if t.Role == RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(t.Content)},
		})
	}
	return history, final.Content, nil
}

type geminiStream struct {
	it     *genai.GenerateContentResponseIterator
	cancel context.CancelFunc
}

func (g *geminiStream) Recv() (string, error) {
	for {
		resp, err := g.it.Next()
		if errors.Is(err, iterator.Done) {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("gemini: %w", err)
		}
		if text := geminiText(resp); text != "" {
			return text, nil
		}
	}
}

func (g *geminiStream) Close() error {
	g.cancel()
	return nil
}

func geminiText(resp *genai.GenerateContentResponse) string {
	var out string
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				out += string(t)
			}
		}
	}
	return out
}
