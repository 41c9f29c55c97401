// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a conversation is not found, functions return ErrNotFound
//     (an alias of gorm.ErrRecordNotFound).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Usage:
//
//	conv, err := repo.CreateConversation(ctx, db, userID, bot.ID, "New chat")
//	if err != nil {
//	    // handle DB failure
//	}
//	_, err = repo.AppendMessage(ctx, db, conv.ID, domain.RoleUser, "What is 2+2?")
//
// Business rules (bot resolution, ownership, titles) live in
// services.ConversationService.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-chat/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateConversation inserts a new conversation owned by userID and bound to
// botID. Every call yields a fresh UUID; there is no uniqueness across
// (user, bot).
func CreateConversation(ctx context.Context, db *gorm.DB, userID, botID, title string) (*domain.Conversation, error) {
	now := time.Now().UTC()
	c := &domain.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		BotID:     botID,
		Title:     title,
		NextSeq:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// GetConversation fetches a conversation by id and owner. A conversation owned
// by someone else is reported as ErrNotFound.
func GetConversation(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CountConversations returns the number of conversations owned by userID,
// optionally restricted to one bot when botID is non-empty.
func CountConversations(ctx context.Context, db *gorm.DB, userID, botID string) (int64, error) {
	var total int64
	err := scopeConversations(db.WithContext(ctx).Model(&domain.Conversation{}), userID, botID).
		Count(&total).Error
	return total, err
}

// ListConversationsPage returns a page of conversations for userID, most
// recently updated first. Use CountConversations for pagination metadata.
func ListConversationsPage(ctx context.Context, db *gorm.DB, userID, botID string, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := scopeConversations(db.WithContext(ctx), userID, botID).
		Order("updated_at desc, id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// TouchConversation sets updated_at to at. Returns ErrNotFound if the
// conversation does not exist.
func TouchConversation(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		UpdateColumn("updated_at", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateConversationTitle replaces the title of a conversation owned by
// userID. Returns ErrNotFound when no row matched.
func UpdateConversationTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ? AND user_id = ?", id, userID).
		UpdateColumn("title", title)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func scopeConversations(q *gorm.DB, userID, botID string) *gorm.DB {
	q = q.Where("user_id = ?", userID)
	if botID != "" {
		q = q.Where("bot_id = ?", botID)
	}
	return q
}
