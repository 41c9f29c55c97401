// Package chatclient is the caller side of the chat bridge: a thin REST
// client for the bot and conversation endpoints, an event-stream reader for
// POST /api/chat, and Session, which keeps the visible turn list of one chat.
package chatclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"resty.dev/v3"
)

const (
	chatPath       = "/api/chat"
	defaultAPIBase = "/api/v1"

	scannerInitialBuffer = 64 << 10
	scannerMaxBuffer     = 1 << 20
)

var (
	// ErrUnauthorized is returned when the server rejects the caller identity.
	ErrUnauthorized = errors.New("chatclient: unauthorized")
	// ErrNotFound is returned when the bot or conversation is unavailable.
	ErrNotFound = errors.New("chatclient: not found")
	// ErrStreamFailed is returned when the reply stream ends with an error
	// event or without a terminal event.
	ErrStreamFailed = errors.New("chatclient: stream failed")
)

// APIError is a non-2xx response carrying the JSON error envelope.
type APIError struct {
	Status    int    `json:"-"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("chatclient: HTTP %d", e.Status)
	}
	return fmt.Sprintf("chatclient: HTTP %d %s: %s", e.Status, e.Code, e.Message)
}

// Bot is a selectable bot as listed by the server.
type Bot struct {
	Slug        string   `json:"slug"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	AvatarEmoji string   `json:"avatar_emoji"`
	Suggestions []string `json:"suggestions"`
}

// Conversation is a stored conversation.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn as held by the client.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Event is one frame of the reply stream.
type Event struct {
	Type           string `json:"type"`
	Content        string `json:"content"`
	ConversationID string `json:"conversationId,omitempty"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	BotSlug        string    `json:"botSlug"`
	ConversationID string    `json:"conversationId,omitempty"`
	Messages       []Message `json:"messages"`
}

// Option configures a Client.
type Option func(*Client)

// WithToken authenticates with a bearer token.
func WithToken(token string) Option {
	return func(c *Client) {
		if token != "" {
			c.http.SetAuthToken(token)
		}
	}
}

// WithDevUser sends the development identity header.
func WithDevUser(userID string) Option {
	return func(c *Client) {
		if userID != "" {
			c.http.SetHeader("X-User-ID", userID)
		}
	}
}

// WithAPIBase overrides the versioned API prefix ("/api/v1").
func WithAPIBase(base string) Option {
	return func(c *Client) { c.apiBase = "/" + strings.Trim(base, "/") }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// Client talks to one chat server.
type Client struct {
	http    *resty.Client
	apiBase string
	log     zerolog.Logger
}

type startedAt struct{}

// New returns a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http:    resty.New().SetBaseURL(strings.TrimRight(baseURL, "/")),
		apiBase: defaultAPIBase,
		log:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.http.AddRequestMiddleware(func(_ *resty.Client, r *resty.Request) error {
		r.SetContext(context.WithValue(r.Context(), startedAt{}, time.Now()))
		return nil
	})
	c.http.AddResponseMiddleware(func(_ *resty.Client, r *resty.Response) error {
		start, _ := r.Request.Context().Value(startedAt{}).(time.Time)
		ev := c.log.Debug().Int("status", r.StatusCode())
		if raw := r.Request.RawRequest; raw != nil {
			ev = ev.Str("method", raw.Method).Str("path", raw.URL.Path)
		}
		ev.Dur("latency", time.Since(start)).Msg("chat server request")
		return nil
	})
	return c
}

// Close releases idle connections.
func (c *Client) Close() error { return c.http.Close() }

// Bots lists the active bots.
func (c *Client) Bots(ctx context.Context) ([]Bot, error) {
	var out struct {
		Bots []Bot `json:"bots"`
	}
	if err := c.getJSON(ctx, c.apiBase+"/bots", &out); err != nil {
		return nil, err
	}
	return out.Bots, nil
}

// CreateConversation starts a conversation with botSlug. idemKey, when set,
// makes retries return the same conversation.
func (c *Client) CreateConversation(ctx context.Context, botSlug, title, idemKey string) (*Conversation, error) {
	var out struct {
		Conversation *Conversation `json:"conversation"`
	}
	req := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"bot_slug": botSlug, "title": title}).
		SetResult(&out)
	if idemKey != "" {
		req.SetHeader("Idempotency-Key", idemKey)
	}
	resp, err := req.Post(c.apiBase + "/conversations")
	if err != nil {
		return nil, fmt.Errorf("chatclient: create conversation: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp.StatusCode(), resp.String())
	}
	return out.Conversation, nil
}

// Messages loads the stored turns of a conversation, oldest first.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	if err := c.getJSON(ctx, c.apiBase+"/conversations/"+conversationID+"/messages", &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.http.R().SetContext(ctx).SetResult(out).Get(path)
	if err != nil {
		return fmt.Errorf("chatclient: GET %s: %w", path, err)
	}
	if resp.IsError() {
		return apiError(resp.StatusCode(), resp.String())
	}
	return nil
}

// Chat posts req and calls onEvent for every frame until the stream ends.
// It returns nil only after a done event. Cancelling ctx aborts the
// underlying request.
func (c *Client) Chat(ctx context.Context, req ChatRequest, onEvent func(Event) error) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetHeader("Accept", "text/event-stream").
		SetHeader("Accept-Encoding", "identity").
		SetDoNotParseResponse(true).
		Post(chatPath)
	if err != nil {
		return fmt.Errorf("chatclient: chat: %w", err)
	}
	if resp.RawResponse == nil || resp.RawResponse.Body == nil {
		return fmt.Errorf("%w: empty response", ErrStreamFailed)
	}
	body := resp.RawResponse.Body
	defer body.Close()

	if resp.IsError() {
		raw, _ := io.ReadAll(io.LimitReader(body, 64<<10))
		return apiError(resp.StatusCode(), string(raw))
	}
	return readEvents(body, onEvent)
}

// readEvents parses a server-sent event stream. Frames are separated by a
// blank line; only the event and data fields are used.
func readEvents(r io.Reader, onEvent func(Event) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, scannerInitialBuffer), scannerMaxBuffer)

	var name, data string
	dispatch := func() (bool, error) {
		defer func() { name, data = "", "" }()
		if data == "" {
			return false, nil
		}
		var ev Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return false, fmt.Errorf("%w: bad frame: %v", ErrStreamFailed, err)
		}
		if ev.Type == "" {
			ev.Type = name
		}
		if err := onEvent(ev); err != nil {
			return false, err
		}
		switch ev.Type {
		case "done":
			return true, nil
		case "error":
			return false, fmt.Errorf("%w: %s", ErrStreamFailed, ev.Content)
		}
		return false, nil
	}

	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if done, err := dispatch(); done || err != nil {
				return err
			}
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			if data != "" {
				data += "\n"
			}
			data += value
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStreamFailed, err)
	}
	if done, err := dispatch(); done || err != nil {
		return err
	}
	return fmt.Errorf("%w: stream ended without done", ErrStreamFailed)
}

func apiError(status int, body string) error {
	switch status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		var e APIError
		if json.Unmarshal([]byte(body), &e) == nil && e.Message != "" {
			return fmt.Errorf("%w: %s", ErrNotFound, e.Message)
		}
		return fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSpace(body))
	}
	e := &APIError{Status: status}
	_ = json.Unmarshal([]byte(body), e)
	return e
}
