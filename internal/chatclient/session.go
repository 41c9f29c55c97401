package chatclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Status is the display state of a Session.
type Status int

const (
	StatusReady Status = iota
	StatusSubmitted
	StatusStreaming
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusSubmitted:
		return "submitted"
	case StatusStreaming:
		return "streaming"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

var (
	// ErrEmptyMessage is returned by Send for blank input. No request is made.
	ErrEmptyMessage = errors.New("chatclient: empty message")
	// ErrBusy is returned by Send while another reply is in flight.
	ErrBusy = errors.New("chatclient: reply in flight")
	// ErrStopped is returned by Send when Stop aborted the reply.
	ErrStopped = errors.New("chatclient: stopped")
)

// Session is the visible turn list of one chat with one bot. At most one
// Send runs at a time; the turns held here are what gets sent as history.
type Session struct {
	client *Client
	bot    Bot

	mu             sync.Mutex
	conversationID string
	messages       []Message
	status         Status
	err            error
	cancel         context.CancelFunc
	stopped        bool
}

// NewSession returns an empty session. conversationID may be empty, in which
// case replies are not stored server-side until EnsureConversation is called.
func NewSession(c *Client, bot Bot, conversationID string) *Session {
	return &Session{client: c, bot: bot, conversationID: conversationID}
}

// ConversationID returns the conversation the session writes to.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// EnsureConversation creates a server-side conversation if the session has
// none yet.
func (s *Session) EnsureConversation(ctx context.Context) (string, error) {
	s.mu.Lock()
	id := s.conversationID
	s.mu.Unlock()
	if id != "" {
		return id, nil
	}
	conv, err := s.client.CreateConversation(ctx, s.bot.Slug, "", uuid.NewString())
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversationID == "" {
		s.conversationID = conv.ID
	}
	return s.conversationID, nil
}

// Load replaces the turn list with the stored history of the conversation.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrBusy
	}
	id := s.conversationID
	s.mu.Unlock()
	if id == "" {
		return nil
	}

	msgs, err := s.client.Messages(ctx, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = msgs
	return nil
}

// Messages returns a copy of the turn list.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Status returns the current display state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the failure of the last Send, if it ended in StatusError.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Suggestions returns the bot's starter prompts while nothing has been sent.
func (s *Session) Suggestions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) > 0 {
		return nil
	}
	return append([]string(nil), s.bot.Suggestions...)
}

// Stop aborts the in-flight reply. Text received so far stays in the
// assistant turn. It reports whether there was anything to stop.
func (s *Session) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.stopped = true
	s.cancel()
	return true
}

// Send appends a user turn, streams the reply into a new assistant turn and
// calls onChunk for each piece of text as it arrives. A failed reply is not
// retried; whatever text arrived is kept and an empty assistant turn is
// dropped.
func (s *Session) Send(ctx context.Context, text string, onChunk func(string)) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopped = false
	s.err = nil
	s.status = StatusSubmitted
	s.messages = append(s.messages, Message{Role: "user", Content: text})
	req := ChatRequest{
		BotSlug:        s.bot.Slug,
		ConversationID: s.conversationID,
		Messages:       append([]Message(nil), s.messages...),
	}
	assistant := -1
	s.mu.Unlock()
	defer cancel()

	err := s.client.Chat(ctx, req, func(ev Event) error {
		switch ev.Type {
		case "delta":
			s.mu.Lock()
			if assistant < 0 {
				s.messages = append(s.messages, Message{Role: "assistant"})
				assistant = len(s.messages) - 1
				s.status = StatusStreaming
			}
			s.messages[assistant].Content += ev.Content
			s.mu.Unlock()
			if onChunk != nil && ev.Content != "" {
				onChunk(ev.Content)
			}
		case "done":
			s.mu.Lock()
			if s.conversationID == "" && ev.ConversationID != "" {
				s.conversationID = ev.ConversationID
			}
			s.mu.Unlock()
		}
		return nil
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = nil
	if err == nil {
		if assistant < 0 {
			s.messages = append(s.messages, Message{Role: "assistant"})
		}
		s.status = StatusReady
		return nil
	}

	if assistant >= 0 && s.messages[assistant].Content == "" {
		s.messages = append(s.messages[:assistant], s.messages[assistant+1:]...)
	}
	switch {
	case s.stopped:
		s.status = StatusReady
		return ErrStopped
	case ctx.Err() != nil:
		s.status = StatusReady
		return ctx.Err()
	}
	s.status = StatusError
	s.err = err
	return err
}
