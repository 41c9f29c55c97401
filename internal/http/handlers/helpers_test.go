package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-tutor-chat/internal/domain"
	"github.com/tbourn/go-tutor-chat/internal/http/middleware"
	"github.com/tbourn/go-tutor-chat/internal/llm"
	"github.com/tbourn/go-tutor-chat/internal/llm/llmtest"
	"github.com/tbourn/go-tutor-chat/internal/repo"
	"github.com/tbourn/go-tutor-chat/internal/services"
)

func init() { gin.SetMode(gin.TestMode) }

// storeShim satisfies services.ConversationRepo with the repo package functions.
type storeShim struct{}

func (storeShim) CreateConversation(ctx context.Context, db *gorm.DB, userID, botID, title string) (*domain.Conversation, error) {
	return repo.CreateConversation(ctx, db, userID, botID, title)
}
func (storeShim) GetConversation(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Conversation, error) {
	return repo.GetConversation(ctx, db, id, userID)
}
func (storeShim) CountConversations(ctx context.Context, db *gorm.DB, userID, botID string) (int64, error) {
	return repo.CountConversations(ctx, db, userID, botID)
}
func (storeShim) ListConversationsPage(ctx context.Context, db *gorm.DB, userID, botID string, offset, limit int) ([]domain.Conversation, error) {
	return repo.ListConversationsPage(ctx, db, userID, botID, offset, limit)
}
func (storeShim) UpdateConversationTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	return repo.UpdateConversationTitle(ctx, db, id, userID, title)
}
func (storeShim) TouchConversation(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return repo.TouchConversation(ctx, db, id, at)
}
func (storeShim) AppendMessage(ctx context.Context, db *gorm.DB, conversationID, role, content string) (*domain.Message, error) {
	return repo.AppendMessage(ctx, db, conversationID, role, content)
}
func (storeShim) ListMessages(ctx context.Context, db *gorm.DB, conversationID string, limit int) ([]domain.Message, error) {
	return repo.ListMessages(ctx, db, conversationID, limit)
}

// harness is a fully wired API over a temp SQLite file and a scripted provider.
type harness struct {
	db   *gorm.DB
	prov *llmtest.Provider
	chat *services.ChatService
	r    *gin.Engine
}

func newHarness(t *testing.T, prov *llmtest.Provider) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "api.db")
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

	bots := services.NewBotRegistry(db)
	convs := services.NewConversationService(db, storeShim{}, bots)
	reg := llm.NewRegistry(prov.Name())
	reg.Register(prov)
	chat := services.NewChatService(bots, convs, reg, nil)

	h := New(Deps{Bots: bots, Conversations: convs, Chat: chat, DB: db, IdempotencyTTL: time.Hour})

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Auth(middleware.AuthOptions{DevHeader: true}))
	r.POST("/api/chat", h.Chat)
	api := r.Group("/api/v1")
	api.GET("/bots", h.ListBots)
	api.Use(middleware.RequireUser())
	api.POST("/conversations",
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{},
			func(ctx context.Context, userID, scope, key string, now time.Time) (string, bool, error) {
				rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
				if err != nil {
					return "", false, nil
				}
				return rec.ResourceID, true, nil
			}),
		h.CreateConversation)
	api.GET("/conversations", h.ListConversations)
	api.GET("/conversations/:id/messages", h.ListMessages)

	return &harness{db: db, prov: prov, chat: chat, r: r}
}

func (hs *harness) seedBot(t *testing.T, slug string, active bool) *domain.Bot {
	t.Helper()
	b := &domain.Bot{
		Slug:         slug,
		Name:         strings.ToUpper(slug[:1]) + slug[1:],
		Model:        "gpt-4o-mini",
		Provider:     hs.prov.Name(),
		SystemPrompt: "You are a math tutor",
		Suggestions:  "What is 2+2?\nExplain fractions",
		IsActive:     active,
	}
	if err := repo.UpsertBot(context.Background(), hs.db, b); err != nil {
		t.Fatalf("upsert bot: %v", err)
	}
	return b
}

func (hs *harness) do(method, path, user string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	var rdr *bytes.Reader
	switch v := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(v))
	default:
		b, _ := json.Marshal(v)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	hs.r.ServeHTTP(w, req)
	return w
}

func (hs *harness) createConversation(t *testing.T, user, slug string) string {
	t.Helper()
	w := hs.do(http.MethodPost, "/api/v1/conversations", user, CreateConversationRequest{BotSlug: slug}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create conversation: %d %s", w.Code, w.Body.String())
	}
	var resp ConversationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.Conversation.ID
}

func (hs *harness) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	if err := hs.db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count %T: %v", model, err)
	}
	return n
}

// sseFrame is one parsed server-sent event.
type sseFrame struct {
	Event string
	Data  ChatEvent
}

func parseSSE(t *testing.T, body string) []sseFrame {
	t.Helper()
	var (
		out []sseFrame
		cur sseFrame
		has bool
	)
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if has {
				out = append(out, cur)
			}
			cur, has = sseFrame{}, false
		case strings.HasPrefix(line, "event:"):
			cur.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			has = true
		case strings.HasPrefix(line, "data:"):
			raw := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if err := json.Unmarshal([]byte(raw), &cur.Data); err != nil {
				t.Fatalf("bad data line %q: %v", line, err)
			}
			has = true
		}
	}
	if has {
		out = append(out, cur)
	}
	return out
}

func userTurn(text string) map[string]any {
	return map[string]any{"role": "user", "content": text}
}
