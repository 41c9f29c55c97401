// Chat streaming handler.
//
// POST /api/chat takes the client's turn history and streams the bot's reply
// as server-sent events:
//
//	event: delta
//	data: {"type":"delta","content":"2+2 "}
//
//	event: done
//	data: {"type":"done","content":"","conversationId":"…"}
//
// A broken stream ends with an "error" event instead of "done". Failures
// before the first byte are plain HTTP: 401 with an empty body, 404 with a
// plain-text reason, 400/503 with the JSON envelope.
package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-tutor-chat/internal/http/middleware"
	"github.com/tbourn/go-tutor-chat/internal/services"
)

// Event types of the chat stream.
const (
	EventDelta = "delta"
	EventDone  = "done"
	EventError = "error"
)

//
// DTOs
//

// ChatPart is one content segment of a turn.
type ChatPart struct {
	Type string `json:"type" example:"text"`
	Text string `json:"text" example:"What is 2+2?"`
}

// ChatTurn is a client-held turn. Content is either a string or an array of
// parts; Parts is accepted as an alternative spelling.
type ChatTurn struct {
	Role    string          `json:"role" example:"user"`
	Content json.RawMessage `json:"content,omitempty" swaggertype:"string" example:"What is 2+2?"`
	Parts   []ChatPart      `json:"parts,omitempty"`
}

// ChatRequest is the JSON payload of POST /api/chat.
type ChatRequest struct {
	BotSlug        string     `json:"botSlug" example:"metin"`
	ConversationID string     `json:"conversationId,omitempty" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	Messages       []ChatTurn `json:"messages"`
}

// ChatEvent is the JSON data of one stream event.
type ChatEvent struct {
	Type           string `json:"type" example:"delta"`
	Content        string `json:"content"`
	ConversationID string `json:"conversationId,omitempty"`
}

func (t ChatTurn) toService() (services.Turn, error) {
	out := services.Turn{Role: t.Role}
	for _, p := range t.Parts {
		out.Parts = append(out.Parts, services.Part{Type: p.Type, Text: p.Text})
	}
	raw := bytes.TrimSpace(t.Content)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '"':
		if err := json.Unmarshal(raw, &out.Content); err != nil {
			return out, err
		}
	case raw[0] == '[':
		var parts []ChatPart
		if err := json.Unmarshal(raw, &parts); err != nil {
			return out, err
		}
		for _, p := range parts {
			out.Parts = append(out.Parts, services.Part{Type: p.Type, Text: p.Text})
		}
	default:
		return out, errors.New("content must be a string or an array of parts")
	}
	return out, nil
}

// Chat godoc
// @ID          chat
// @Summary     Stream a chat reply
// @Description Persists the newest user turn, streams the bot's reply as server-sent events and persists the completed reply. Without conversationId nothing is stored.
// @Tags        Chat
// @Accept      json
// @Produce     text/event-stream
//
// @Param       Authorization  header  string  false "Bearer token"
// @Param       body           body    handlers.ChatRequest  true  "Chat history"
//
// @Success     200  {object}  handlers.ChatEvent  "Event stream of delta frames ending in done or error"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {string}  string  "Unauthorized (empty body)"
// @Failure     404  {string}  string  "bot unavailable"
// @Failure     503  {object}  handlers.ErrorResponse  "Provider unavailable"
// @Router      /api/chat [post]
func (h *Handlers) Chat(c *gin.Context) {
	log := middleware.LoggerFrom(c)
	uid := middleware.UserID(c)
	if uid == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	turns := make([]services.Turn, 0, len(req.Messages))
	for _, m := range req.Messages {
		t, err := m.toService()
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid message content")
			return
		}
		turns = append(turns, t)
	}

	ctx := c.Request.Context()
	x, err := h.chat.Begin(ctx, services.ChatRequest{
		UserID:         uid,
		BotSlug:        req.BotSlug,
		ConversationID: req.ConversationID,
		Messages:       turns,
	})
	if err != nil {
		log.Info().Err(err).Str("stage", services.FailureStage(err).String()).Msg("chat rejected")
		switch {
		case errors.Is(err, services.ErrBotNotFound):
			c.Abort()
			c.String(http.StatusNotFound, services.ErrBotNotFound.Error())
		case errors.Is(err, services.ErrConversationNotFound):
			c.Abort()
			c.String(http.StatusNotFound, services.ErrConversationNotFound.Error())
		default:
			failService(c, err, ErrCodeChatFailed)
		}
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	emit := func(ev ChatEvent) error {
		c.SSEvent(ev.Type, ev)
		c.Writer.Flush()
		return ctx.Err()
	}

	text, err := x.Stream(ctx, func(chunk string) error {
		return emit(ChatEvent{Type: EventDelta, Content: chunk})
	})
	if err != nil {
		if ctx.Err() == nil {
			msg := "stream failed"
			if errors.Is(err, services.ErrStreamTimeout) {
				msg = "timeout"
			}
			_ = emit(ChatEvent{Type: EventError, Content: msg})
		}
		log.Warn().Err(err).
			Str("stage", services.FailureStage(err).String()).
			Str("bot", x.Bot().Slug).
			Int("partial_len", len(text)).
			Msg("chat stream ended early")
		return
	}
	_ = emit(ChatEvent{Type: EventDone, ConversationID: x.ConversationID()})
	log.Debug().
		Str("stage", x.Stage().String()).
		Str("bot", x.Bot().Slug).
		Str("conversation_id", x.ConversationID()).
		Int("reply_len", len(text)).
		Msg("chat stream completed")
}
