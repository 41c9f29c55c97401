// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-chat/internal/domain"
)

// AppendMessage appends a turn to a conversation and returns the stored row.
//
// The turn's Seq is taken from the conversation's NextSeq counter, which is
// advanced in the same transaction. The counter update runs first so the row
// lock (Postgres) or write lock (SQLite) is held before the value is read,
// which keeps sequence numbers unique under concurrent writers.
// Returns ErrNotFound if the conversation does not exist.
func AppendMessage(ctx context.Context, db *gorm.DB, conversationID, role, content string) (*domain.Message, error) {
	var m *domain.Message
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Conversation{}).
			Where("id = ?", conversationID).
			UpdateColumn("next_seq", gorm.Expr("next_seq + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		var next int64
		if err := tx.Model(&domain.Conversation{}).
			Where("id = ?", conversationID).
			Select("next_seq").
			Scan(&next).Error; err != nil {
			return err
		}

		m = &domain.Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			Seq:            next - 1,
			Role:           role,
			Content:        content,
			CreatedAt:      time.Now().UTC(),
		}
		return tx.Create(m).Error
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns the turns of a conversation ordered by sequence
// number (then created_at, id). A non-positive limit returns all turns.
func ListMessages(ctx context.Context, db *gorm.DB, conversationID string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq asc, created_at asc, id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID).
		Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice ordered like ListMessages.
func ListMessagesPage(ctx context.Context, db *gorm.DB, conversationID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq asc, created_at asc, id asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
