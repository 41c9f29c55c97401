// Conversation HTTP handlers.
//
// This file exposes REST endpoints for conversations:
//   - POST /conversations                (create, Idempotency-Key aware)
//   - GET  /conversations                (recent, paginated, ETag support)
//   - GET  /conversations/{id}/messages  (ordered history, ETag support)
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-tutor-chat/internal/domain"
	"github.com/tbourn/go-tutor-chat/internal/http/middleware"
	"github.com/tbourn/go-tutor-chat/internal/repo"
)

// HeaderIdempotencyReplayed marks a response replayed from an earlier request.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

//
// DTOs
//

// CreateConversationRequest is the JSON payload for creating a conversation.
type CreateConversationRequest struct {
	// BotSlug selects the bot the conversation talks to.
	BotSlug string `json:"bot_slug" binding:"required" example:"metin"`
	// Title optionally sets the title; "New chat" is used when empty.
	Title string `json:"title" example:"Fractions homework"`
}

// ConversationResponse is a conversation together with its bot.
type ConversationResponse struct {
	Conversation *domain.Conversation `json:"conversation"`
	Bot          *BotView             `json:"bot,omitempty"`
}

// ListConversationsResponse wraps a page of conversations and pagination information.
type ListConversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
}

// ListMessagesResponse is the ordered history of a conversation.
type ListMessagesResponse struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []domain.Message `json:"messages"`
}

//
// Handlers
//

// CreateConversation godoc
// @ID          createConversation
// @Summary     Create a conversation
// @Description Creates a conversation between the caller and an active bot. A repeated Idempotency-Key replays the original conversation with 200.
// @Tags        Conversations
// @Accept      json
// @Produce     json
//
// @Param       Authorization    header  string  false "Bearer token"
// @Param       Idempotency-Key  header  string  false "Safe-retry key"  example(create-7f3a)
// @Param       body             body    handlers.CreateConversationRequest  true  "Create conversation payload"
//
// @Success     201  {object}  handlers.ConversationResponse
// @Success     200  {object}  handlers.ConversationResponse  "Replayed"
// @Header      200  {string}  Idempotency-Replayed  "true"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {string}  string                 "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse  "Bot unavailable"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations [post]
func (h *Handlers) CreateConversation(c *gin.Context) {
	ctx := c.Request.Context()
	uid := middleware.UserID(c)

	if id, replay := middleware.ReplayResourceID(c); replay {
		conv, err := h.convs.Get(ctx, uid, id)
		if err == nil {
			c.Header(HeaderIdempotencyReplayed, "true")
			ok(c, http.StatusOK, ConversationResponse{Conversation: conv})
			return
		}
		middleware.LoggerFrom(c).Warn().Err(err).Str("conversation_id", id).Msg("idempotent replay target missing")
	}

	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.BotSlug) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "bot_slug required")
		return
	}

	conv, bot, err := h.convs.Create(ctx, uid, req.BotSlug, req.Title)
	if err != nil {
		failService(c, err, ErrCodeCreateFailed)
		return
	}

	if key, has := middleware.GetIdempotencyKey(c); has && h.db != nil {
		_, err := repo.CreateIdempotency(ctx, h.db, uid, middleware.IdempotencyScope(c), key, conv.ID, http.StatusCreated, h.idemTTL)
		if err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency record not stored")
		}
	}

	view := newBotView(*bot)
	c.Header("Location", fmt.Sprintf("%s/%s/messages", c.FullPath(), conv.ID))
	ok(c, http.StatusCreated, ConversationResponse{Conversation: conv, Bot: &view})
}

// ListConversations godoc
// @ID          listConversations
// @Summary     List recent conversations (paginated)
// @Description Returns the caller's conversations, most recently active first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Conversations
// @Produce     json
//
// @Param       Authorization  header  string  false "Bearer token"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       bot            query   string  false "Restrict to one bot slug"    example(metin)
// @Param       page           query   int     false "Page number"                 minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"              minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListConversationsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {string} string "Unauthorized"
// @Failure     404  {object} handlers.ErrorResponse "Bot unavailable"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	uid := middleware.UserID(c)
	slug := strings.TrimSpace(c.Query("bot"))
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if h.db != nil {
		var botID string
		if slug != "" {
			if b, err := h.bots.FindActiveBySlug(ctx, slug); err == nil {
				botID = b.ID
			}
		}
		if slug == "" || botID != "" {
			if count, maxTS, err := repo.ConversationsStats(ctx, h.db, uid, botID); err == nil {
				var ts int64
				if maxTS != nil {
					ts = maxTS.UnixNano()
				}
				etag := fmt.Sprintf(`W/"conversations:%s:%s:%d:%d:%d:%d"`, uid, slug, page, pageSize, count, ts)
				if notModified(c, etag) {
					c.Status(http.StatusNotModified)
					return
				}
			}
		}
	}

	items, total, err := h.convs.ListRecent(ctx, uid, slug, page, pageSize)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: items,
		Pagination:    newPagination(page, pageSize, total),
	})
}

// ListMessages godoc
// @ID          listMessages
// @Summary     Conversation history
// @Description Returns every turn of a conversation owned by the caller, oldest first. Supports weak ETag via If-None-Match.
// @Tags        Conversations
// @Produce     json
//
// @Param       Authorization  header  string  false "Bearer token"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       id             path    string  true  "Conversation ID (UUID)"  format(uuid)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {string} string "Unauthorized"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	uid := middleware.UserID(c)
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	if _, err := h.convs.Get(ctx, uid, id); err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}

	if h.db != nil {
		if count, last, err := repo.MessagesStats(ctx, h.db, id); err == nil {
			etag := fmt.Sprintf(`W/"messages:%s:%d:%d"`, id, count, last)
			if notModified(c, etag) {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	msgs, err := h.convs.LoadMessages(ctx, uid, id)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{ConversationID: id, Messages: msgs})
}
