package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-tutor-chat/internal/domain"
)

// newRepoDB opens a file-backed SQLite DB in a temp dir with foreign keys on.
// When migrate is true the full schema is created.
func newRepoDB(t *testing.T, migrate bool) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), fmt.Sprintf("repo_%d.db", time.Now().UnixNano()))
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if migrate {
		if err := AutoMigrate(db); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func mustBot(t *testing.T, db *gorm.DB, slug string, active bool) *domain.Bot {
	t.Helper()
	b := &domain.Bot{
		Slug:         slug,
		Name:         slug,
		Model:        "gpt-4o-mini",
		SystemPrompt: "You are a math tutor",
		IsActive:     active,
	}
	if err := UpsertBot(context.Background(), db, b); err != nil {
		t.Fatalf("upsert bot %q: %v", slug, err)
	}
	return b
}

func mustConversation(t *testing.T, db *gorm.DB, userID, botID string) *domain.Conversation {
	t.Helper()
	c, err := CreateConversation(context.Background(), db, userID, botID, "New chat")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return c
}
