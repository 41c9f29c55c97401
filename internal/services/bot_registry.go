package services

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-chat/internal/domain"
	"github.com/tbourn/go-tutor-chat/internal/repo"
)

// BotRegistry resolves bots by slug and exposes only active ones. It is
// read-only.
type BotRegistry struct {
	DB *gorm.DB
}

// NewBotRegistry returns a registry reading from db.
func NewBotRegistry(db *gorm.DB) *BotRegistry {
	return &BotRegistry{DB: db}
}

// FindActiveBySlug returns the active bot for slug. An empty slug, an
// unknown slug and a deactivated bot all yield ErrBotNotFound.
func (r *BotRegistry) FindActiveBySlug(ctx context.Context, slug string) (*domain.Bot, error) {
	ctx, span := otel.Tracer("services/BotRegistry").Start(ctx, "FindActiveBySlug",
		trace.WithAttributes(attribute.String("bot.slug", slug)),
	)
	defer span.End()

	b, err := repo.FindActiveBotBySlug(ctx, r.DB, slug)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrBotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find bot: %w", err)
	}
	return b, nil
}

// ListActive returns every active bot, ordered by name.
func (r *BotRegistry) ListActive(ctx context.Context) ([]domain.Bot, error) {
	return repo.ListActiveBots(ctx, r.DB)
}
