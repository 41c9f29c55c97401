// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-chat/internal/domain"
)

// ConversationsStats returns the number of conversations visible to userID
// (optionally restricted to botID) and the greatest UpdatedAt among them.
// When there are none, count is 0 and maxUpdatedAt is nil.
func ConversationsStats(ctx context.Context, db *gorm.DB, userID, botID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := scopeConversations(db.WithContext(ctx).Model(&domain.Conversation{}), userID, botID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Avoid MAX() -> TEXT in SQLite.
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// MessagesStats returns the number of turns in a conversation and the highest
// sequence number. Turns are append-only, so the pair changes on every write.
func MessagesStats(ctx context.Context, db *gorm.DB, conversationID string) (count int64, lastSeq int64, err error) {
	q := db.WithContext(ctx).Model(&domain.Message{}).Where("conversation_id = ?", conversationID)

	if err = q.Count(&count).Error; err != nil {
		return 0, 0, err
	}
	if count == 0 {
		return 0, 0, nil
	}
	var row struct {
		Seq int64
	}
	if err = q.Select("seq").Order("seq DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, 0, err
	}
	return count, row.Seq, nil
}
