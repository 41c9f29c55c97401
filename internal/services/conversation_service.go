// Package services – ConversationService
//
// This file implements the ConversationService, which manages the durable
// conversation log. It resolves the bot a conversation is created for,
// enforces ownership on every read, appends turns, and keeps the recency
// timestamp and the display title up to date.
//
// Auto-titling: the first user turn persisted into a conversation whose title
// is still a placeholder replaces the title with a compact, title-cased digest
// of the prompt.
//
// Observability: public methods are OpenTelemetry-instrumented; spans include
// conversation/user identifiers and pagination parameters where applicable.
package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-chat/internal/domain"
	"github.com/tbourn/go-tutor-chat/internal/utils"
)

const (
	// default titles we consider “placeholder” and eligible for auto-generation
	defaultTitleNew      = "New chat"
	defaultTitleUntitled = "Untitled"
)

// ConversationRepo defines the repository contract required by
// ConversationService. Implementations are responsible for persistence of
// conversations and their turns.
type ConversationRepo interface {
	CreateConversation(ctx context.Context, db *gorm.DB, userID, botID, title string) (*domain.Conversation, error)
	GetConversation(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Conversation, error)
	CountConversations(ctx context.Context, db *gorm.DB, userID, botID string) (int64, error)
	ListConversationsPage(ctx context.Context, db *gorm.DB, userID, botID string, offset, limit int) ([]domain.Conversation, error)
	UpdateConversationTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error
	TouchConversation(ctx context.Context, db *gorm.DB, id string, at time.Time) error

	AppendMessage(ctx context.Context, db *gorm.DB, conversationID, role, content string) (*domain.Message, error)
	ListMessages(ctx context.Context, db *gorm.DB, conversationID string, limit int) ([]domain.Message, error)
}

// ConversationService provides conversation-level operations on top of a
// ConversationRepo.
type ConversationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the conversation repository used by this service.
	Repo ConversationRepo
	// Bots resolves the bot a conversation is created for.
	Bots *BotRegistry

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
	// TitleLocale drives casing of generated titles (English when unset).
	TitleLocale language.Tag

	// Now is the clock used for recency updates (time.Now when nil).
	Now func() time.Time
}

// NewConversationService constructs a ConversationService with sane defaults
// for title handling.
func NewConversationService(db *gorm.DB, r ConversationRepo, bots *BotRegistry) *ConversationService {
	return &ConversationService{
		DB:          db,
		Repo:        r,
		Bots:        bots,
		TitleMaxLen: 60,
		TitleLocale: language.English,
	}
}

// Create starts a new conversation between userID and the active bot botSlug.
// Titles are normalized and clipped; a blank title becomes "New chat".
func (s *ConversationService) Create(ctx context.Context, userID, botSlug, title string) (*domain.Conversation, *domain.Bot, error) {
	ctx, span := otel.Tracer("services/ConversationService").Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("bot.slug", botSlug),
		),
	)
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return nil, nil, ErrUnauthorized
	}
	bot, err := s.Bots.FindActiveBySlug(ctx, botSlug)
	if err != nil {
		return nil, nil, err
	}
	title = normalizeTitle(title)
	if title == "" {
		title = defaultTitleNew
	}
	conv, err := s.Repo.CreateConversation(ctx, s.DB, userID, bot.ID, s.clipTitle(title))
	if err != nil {
		return nil, nil, err
	}
	return conv, bot, nil
}

// Get returns the conversation id owned by userID, or ErrConversationNotFound.
func (s *ConversationService) Get(ctx context.Context, userID, id string) (*domain.Conversation, error) {
	conv, err := s.Repo.GetConversation(ctx, s.DB, id, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// LoadMessages returns the turns of a conversation owned by userID, in
// append order.
func (s *ConversationService) LoadMessages(ctx context.Context, userID, conversationID string) ([]domain.Message, error) {
	ctx, span := otel.Tracer("services/ConversationService").Start(ctx, "LoadMessages",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if _, err := s.Get(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.Repo.ListMessages(ctx, s.DB, conversationID, 0)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

// ListRecent returns a page of the user's conversations, most recently
// updated first. botSlug optionally restricts the list to one active bot.
// It applies defaults for invalid page/pageSize and returns the total count.
func (s *ConversationService) ListRecent(ctx context.Context, userID, botSlug string, page, pageSize int) ([]domain.Conversation, int64, error) {
	ctx, span := otel.Tracer("services/ConversationService").Start(ctx, "ListRecent",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("bot.slug", botSlug),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if pageSize <= 0 {
		pageSize = 20
	}
	page, pageSize = utils.ClampPage(page, pageSize, 100)
	offset := utils.Offset(page, pageSize)

	botID, err := s.botFilter(ctx, botSlug)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.Repo.CountConversations(ctx, s.DB, userID, botID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Conversation{}, 0, nil
	}
	items, err := s.Repo.ListConversationsPage(ctx, s.DB, userID, botID, offset, pageSize)
	return items, total, err
}

// BotFilter resolves an optional bot slug to the bot id used for filtering.
// An empty slug means "all bots".
func (s *ConversationService) botFilter(ctx context.Context, botSlug string) (string, error) {
	if strings.TrimSpace(botSlug) == "" {
		return "", nil
	}
	bot, err := s.Bots.FindActiveBySlug(ctx, botSlug)
	if err != nil {
		return "", err
	}
	return bot.ID, nil
}

// AppendTurn appends one turn to the log. Failures are wrapped with
// ErrPersistence.
func (s *ConversationService) AppendTurn(ctx context.Context, conversationID, role, text string) (*domain.Message, error) {
	if !domain.ValidRole(role) {
		return nil, ErrInvalidRole
	}
	m, err := s.Repo.AppendMessage(ctx, s.DB, conversationID, role, text)
	if err != nil {
		return nil, fmt.Errorf("%w: append %s turn: %v", ErrPersistence, role, err)
	}
	return m, nil
}

// Touch marks the conversation as recently active.
func (s *ConversationService) Touch(ctx context.Context, conversationID string) error {
	if err := s.Repo.TouchConversation(ctx, s.DB, conversationID, s.now()); err != nil {
		return fmt.Errorf("%w: touch conversation: %v", ErrPersistence, err)
	}
	return nil
}

// AutoTitle replaces a placeholder title with one derived from prompt.
// It reports whether the title changed.
func (s *ConversationService) AutoTitle(ctx context.Context, conv *domain.Conversation, prompt string) (bool, error) {
	if !s.shouldAutoTitle(conv.Title) {
		return false, nil
	}
	gen := s.generateTitleFromPrompt(prompt)
	if gen == "" {
		return false, nil
	}
	gen = s.clipTitle(gen)
	if err := s.Repo.UpdateConversationTitle(ctx, s.DB, conv.ID, conv.UserID, gen); err != nil {
		return false, fmt.Errorf("%w: update title: %v", ErrPersistence, err)
	}
	conv.Title = gen
	return true, nil
}

func (s *ConversationService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// shouldAutoTitle reports whether the current title is a placeholder.
func (s *ConversationService) shouldAutoTitle(current string) bool {
	t := strings.TrimSpace(strings.ToLower(current))
	return t == "" || t == strings.ToLower(defaultTitleNew) || t == strings.ToLower(defaultTitleUntitled)
}

// generateTitleFromPrompt derives a concise title from the prompt.
func (s *ConversationService) generateTitleFromPrompt(prompt string) string {
	toks := titleWordRE.FindAllString(strings.ToLower(strings.TrimSpace(prompt)), -1)
	if len(toks) == 0 {
		return ""
	}

	titleCaser := cases.Title(s.titleLocale())
	out := make([]string, 0, 8)
	for _, w := range toks {
		if _, skip := titleStopWords[w]; skip {
			continue
		}
		out = append(out, titleCaser.String(w))
		if len(out) >= 8 {
			break
		}
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, " ")
}

// clipTitle truncates a title to the configured maximum rune length.
func (s *ConversationService) clipTitle(title string) string {
	max := s.TitleMaxLen
	if max <= 0 {
		max = 60
	}
	if utf8.RuneCountInString(title) > max {
		return string([]rune(title)[:max])
	}
	return title
}

func (s *ConversationService) titleLocale() language.Tag {
	if s.TitleLocale == language.Und {
		return language.English
	}
	return s.TitleLocale
}

// normalizeTitle trims whitespace and collapses multiple spaces to one.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

var (
	// whitespaceRE collapses consecutive whitespace to a single space.
	whitespaceRE = regexp.MustCompile(`\s+`)

	// Unicode letters or digit runs with optional trailing letters ("2", "3d").
	titleWordRE = regexp.MustCompile(`[\p{L}]+[\p{N}]*|[\p{N}]+`)
)

// Minimal English stop-words set for compact titles.
var titleStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {}, "be": {}, "was": {}, "were": {},
}
