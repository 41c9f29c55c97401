package services

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-tutor-chat/internal/domain"
	"github.com/tbourn/go-tutor-chat/internal/repo"
)

// repoAdapter satisfies ConversationRepo with the repo package functions.
type repoAdapter struct{}

func (repoAdapter) CreateConversation(ctx context.Context, db *gorm.DB, userID, botID, title string) (*domain.Conversation, error) {
	return repo.CreateConversation(ctx, db, userID, botID, title)
}
func (repoAdapter) GetConversation(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Conversation, error) {
	return repo.GetConversation(ctx, db, id, userID)
}
func (repoAdapter) CountConversations(ctx context.Context, db *gorm.DB, userID, botID string) (int64, error) {
	return repo.CountConversations(ctx, db, userID, botID)
}
func (repoAdapter) ListConversationsPage(ctx context.Context, db *gorm.DB, userID, botID string, offset, limit int) ([]domain.Conversation, error) {
	return repo.ListConversationsPage(ctx, db, userID, botID, offset, limit)
}
func (repoAdapter) UpdateConversationTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	return repo.UpdateConversationTitle(ctx, db, id, userID, title)
}
func (repoAdapter) TouchConversation(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return repo.TouchConversation(ctx, db, id, at)
}
func (repoAdapter) AppendMessage(ctx context.Context, db *gorm.DB, conversationID, role, content string) (*domain.Message, error) {
	return repo.AppendMessage(ctx, db, conversationID, role, content)
}
func (repoAdapter) ListMessages(ctx context.Context, db *gorm.DB, conversationID string, limit int) ([]domain.Message, error) {
	return repo.ListMessages(ctx, db, conversationID, limit)
}

// failingAppendRepo fails every AppendMessage whose role is in roles.
type failingAppendRepo struct {
	repoAdapter
	roles map[string]bool
}

func (f failingAppendRepo) AppendMessage(ctx context.Context, db *gorm.DB, conversationID, role, content string) (*domain.Message, error) {
	if f.roles[role] {
		return nil, fmt.Errorf("disk full")
	}
	return f.repoAdapter.AppendMessage(ctx, db, conversationID, role, content)
}

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "services.db")
	db, err := gorm.Open(sqlite.Open(path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedBot(t *testing.T, db *gorm.DB, slug, provider string, active bool) *domain.Bot {
	t.Helper()
	b := &domain.Bot{
		Slug:         slug,
		Name:         slug,
		Model:        "gpt-4o-mini",
		Provider:     provider,
		SystemPrompt: "You are a math tutor",
		Suggestions:  "What is 2+2?",
		IsActive:     active,
	}
	if err := repo.UpsertBot(context.Background(), db, b); err != nil {
		t.Fatalf("upsert bot: %v", err)
	}
	return b
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count %T: %v", model, err)
	}
	return n
}
