package repo

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-chat/internal/domain"
)

// BotSeed is the YAML shape of one bot in a seed file.
type BotSeed struct {
	Slug         string   `yaml:"slug"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	AvatarEmoji  string   `yaml:"avatar_emoji"`
	AvatarColor  string   `yaml:"avatar_color"`
	Model        string   `yaml:"model"`
	Provider     string   `yaml:"provider"`
	SystemPrompt string   `yaml:"system_prompt"`
	Suggestions  []string `yaml:"suggestions"`
	Active       *bool    `yaml:"is_active"`
}

// SeedFile is the top-level YAML document:
//
//	bots:
//	  - slug: metin
//	    name: Metin
//	    model: gpt-4o-mini
//	    system_prompt: You are a math tutor
//	    suggestions: ["What is 2+2?"]
type SeedFile struct {
	Bots []BotSeed `yaml:"bots"`
}

// SeedBotsFromFile reads a YAML seed file and upserts every bot by slug.
// Omitting is_active means active. Returns the number of bots written.
func SeedBotsFromFile(ctx context.Context, db *gorm.DB, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed: %w", err)
	}
	return SeedBots(ctx, db, raw)
}

// SeedBots upserts the bots described by a YAML document.
func SeedBots(ctx context.Context, db *gorm.DB, raw []byte) (int, error) {
	var doc SeedFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return 0, fmt.Errorf("parse seed: %w", err)
	}

	n := 0
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, s := range doc.Bots {
			b, err := s.toBot()
			if err != nil {
				return fmt.Errorf("bot #%d: %w", i+1, err)
			}
			if err := UpsertBot(ctx, tx, b); err != nil {
				return fmt.Errorf("bot %q: %w", b.Slug, err)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s BotSeed) toBot() (*domain.Bot, error) {
	slug := strings.TrimSpace(s.Slug)
	if slug == "" {
		return nil, fmt.Errorf("slug is required")
	}
	if strings.TrimSpace(s.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	name := strings.TrimSpace(s.Name)
	if name == "" {
		name = slug
	}
	active := true
	if s.Active != nil {
		active = *s.Active
	}
	return &domain.Bot{
		Slug:         slug,
		Name:         name,
		Description:  s.Description,
		AvatarEmoji:  s.AvatarEmoji,
		AvatarColor:  s.AvatarColor,
		Model:        strings.TrimSpace(s.Model),
		Provider:     strings.ToLower(strings.TrimSpace(s.Provider)),
		SystemPrompt: s.SystemPrompt,
		Suggestions:  strings.Join(s.Suggestions, "\n"),
		IsActive:     active,
	}, nil
}
