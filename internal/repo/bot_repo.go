// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Bot model.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-tutor-chat/internal/domain"
)

// FindActiveBotBySlug returns the bot with the given slug when it exists and
// is active. A missing and an inactive bot both yield ErrNotFound.
func FindActiveBotBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Bot, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, ErrNotFound
	}
	var b domain.Bot
	err := db.WithContext(ctx).
		Where("slug = ? AND is_active = ?", slug, true).
		First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBotByID fetches a bot by primary key regardless of its lifecycle flag.
func GetBotByID(ctx context.Context, db *gorm.DB, id string) (*domain.Bot, error) {
	var b domain.Bot
	if err := db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// ListActiveBots returns all active bots ordered by name.
func ListActiveBots(ctx context.Context, db *gorm.DB) ([]domain.Bot, error) {
	var out []domain.Bot
	err := db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("name asc, slug asc").
		Find(&out).Error
	return out, err
}

// UpsertBot inserts b or, when a bot with the same slug exists, overwrites its
// configuration in place. The stored ID of an existing bot is preserved and
// copied back into b.
func UpsertBot(ctx context.Context, db *gorm.DB, b *domain.Bot) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "slug"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "description", "avatar_emoji", "avatar_color",
			"model", "provider", "system_prompt", "suggestions",
			"is_active", "updated_at",
		}),
	}).Create(b).Error
	if err != nil {
		return err
	}

	var stored domain.Bot
	if err := db.WithContext(ctx).Select("id", "created_at").Where("slug = ?", b.Slug).First(&stored).Error; err != nil {
		return err
	}
	b.ID, b.CreatedAt = stored.ID, stored.CreatedAt
	return nil
}

// SetBotActive flips the lifecycle flag of the bot identified by slug.
// Returns ErrNotFound when no such bot exists.
func SetBotActive(ctx context.Context, db *gorm.DB, slug string, active bool) error {
	res := db.WithContext(ctx).
		Model(&domain.Bot{}).
		Where("slug = ?", slug).
		Updates(map[string]any{"is_active": active, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
