package handlers

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-chat/internal/domain"
	"github.com/tbourn/go-tutor-chat/internal/services"
	"github.com/tbourn/go-tutor-chat/internal/utils"

	"github.com/gin-gonic/gin"
)

//
// Service contracts (context-aware)
//

// BotService lists and resolves active bots.
type BotService interface {
	ListActive(ctx context.Context) ([]domain.Bot, error)
	FindActiveBySlug(ctx context.Context, slug string) (*domain.Bot, error)
}

// ConversationService manages conversations owned by the caller.
type ConversationService interface {
	Create(ctx context.Context, userID, botSlug, title string) (*domain.Conversation, *domain.Bot, error)
	Get(ctx context.Context, userID, id string) (*domain.Conversation, error)
	LoadMessages(ctx context.Context, userID, conversationID string) ([]domain.Message, error)
	ListRecent(ctx context.Context, userID, botSlug string, page, pageSize int) ([]domain.Conversation, int64, error)
}

// ChatService opens chat exchanges.
type ChatService interface {
	Begin(ctx context.Context, req services.ChatRequest) (*services.Exchange, error)
}

//
// Handler wiring
//

// Deps are the collaborators of Handlers. DB is optional; without it ETags
// and idempotency records are skipped.
type Deps struct {
	Bots          BotService
	Conversations ConversationService
	Chat          ChatService
	DB            *gorm.DB

	// IdempotencyTTL is how long an Idempotency-Key replays its result.
	IdempotencyTTL time.Duration
}

// Handlers groups the HTTP endpoints of the API.
type Handlers struct {
	bots    BotService
	convs   ConversationService
	chat    ChatService
	db      *gorm.DB
	idemTTL time.Duration
}

// New constructs Handlers from d.
func New(d Deps) *Handlers {
	ttl := d.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Handlers{
		bots:    d.Bots,
		convs:   d.Conversations,
		chat:    d.Chat,
		db:      d.DB,
		idemTTL: ttl,
	}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPageSize = 20
		maxPageSize     = 100
	)
	return utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), defaultPageSize),
		maxPageSize,
	)
}

// notModified sets a weak ETag and reports whether If-None-Match matched it.
func notModified(c *gin.Context, etag string) bool {
	c.Header("ETag", etag)
	return c.GetHeader("If-None-Match") == etag
}
