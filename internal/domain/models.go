// Package domain defines the persistence models for bots, conversations and
// messages. These types are mapped with GORM and form the core data layer of
// the tutor chat bridge.
package domain

import (
	"strings"
	"time"
)

// Message roles stored in the conversation log.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Bot is a configured assistant persona. Bots are never hard-deleted:
// deactivation flips IsActive and makes the bot unselectable.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Slug: human-readable unique identifier used in URLs and chat requests.
//   - Name / Description: display metadata.
//   - AvatarEmoji / AvatarColor: presentation hints for clients.
//   - Model / Provider: completion model id and provider id ("openai", "gemini").
//   - SystemPrompt: instructions prepended to every completion request.
//   - Suggestions: newline separated starter prompts shown on empty chats.
//   - IsActive: soft lifecycle flag.
type Bot struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	Slug         string    `json:"slug"          gorm:"type:varchar(64);not null;uniqueIndex:ux_bots_slug"`
	Name         string    `json:"name"          gorm:"type:varchar(128);not null"`
	Description  string    `json:"description"   gorm:"type:text"`
	AvatarEmoji  string    `json:"avatar_emoji"  gorm:"type:varchar(16)"`
	AvatarColor  string    `json:"avatar_color"  gorm:"type:varchar(16)"`
	Model        string    `json:"-"             gorm:"type:varchar(128);not null"`
	Provider     string    `json:"-"             gorm:"type:varchar(32)"`
	SystemPrompt string    `json:"-"             gorm:"type:text"`
	Suggestions  string    `json:"-"             gorm:"type:text"`
	IsActive     bool      `json:"is_active"     gorm:"not null;index"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for Bot.
func (Bot) TableName() string { return "bots" }

// SuggestionList splits Suggestions into trimmed, non-empty prompts.
func (b Bot) SuggestionList() []string {
	if strings.TrimSpace(b.Suggestions) == "" {
		return nil
	}
	lines := strings.Split(b.Suggestions, "\n")
	out := make([]string, 0, len(lines))
	for _, ln := range lines {
		if s := strings.TrimSpace(ln); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Conversation is a persisted thread between one user and one bot.
//
// NextSeq is the sequence number the next appended message receives; it is
// advanced inside the append transaction so turns have a total order even
// when their timestamps collide. UpdatedAt is touched whenever an assistant
// turn is appended and drives "recent conversations" ordering.
type Conversation struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_user_conversations,priority:1"`
	BotID     string    `json:"bot_id"     gorm:"type:char(36);not null;index"`
	Title     string    `json:"title"      gorm:"type:varchar(255);not null;default:'New chat'"`
	NextSeq   int64     `json:"-"          gorm:"not null;default:1"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"index:idx_user_conversations,priority:2"`

	Bot Bot `json:"-" gorm:"foreignKey:BotID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Message is one append-only turn of a conversation.
//
// Seq is unique per conversation and strictly increasing in append order;
// CreatedAt is informational and only used as a tie-breaker for rows written
// before sequence numbers existed.
type Message struct {
	ID             string    `json:"id"              gorm:"type:char(36);primaryKey"`
	ConversationID string    `json:"conversation_id" gorm:"type:char(36);not null;uniqueIndex:ux_conversation_seq,priority:1"`
	Seq            int64     `json:"seq"             gorm:"not null;uniqueIndex:ux_conversation_seq,priority:2"`
	Role           string    `json:"role"            gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content        string    `json:"content"         gorm:"type:text;not null"`
	CreatedAt      time.Time `json:"created_at"`

	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// ValidRole reports whether role may be stored in the conversation log.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}
