package repo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const seedYAML = `
bots:
  - slug: metin
    name: Metin
    avatar_emoji: "🧮"
    model: gpt-4o-mini
    system_prompt: You are a math tutor
    suggestions:
      - What is 2+2?
      - Explain fractions
  - slug: retired-bot
    model: gemini-1.5-flash
    provider: Gemini
    is_active: false
`

func TestSeedBotsFromFile(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bots.yaml")
	if err := os.WriteFile(path, []byte(seedYAML), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	n, err := SeedBotsFromFile(ctx, db, path)
	if err != nil || n != 2 {
		t.Fatalf("SeedBotsFromFile = %d, %v", n, err)
	}

	metin, err := FindActiveBotBySlug(ctx, db, "metin")
	if err != nil {
		t.Fatalf("find metin: %v", err)
	}
	if metin.Name != "Metin" || metin.SystemPrompt != "You are a math tutor" || metin.AvatarEmoji != "🧮" {
		t.Fatalf("unexpected metin: %+v", metin)
	}
	if !reflect.DeepEqual(metin.SuggestionList(), []string{"What is 2+2?", "Explain fractions"}) {
		t.Fatalf("suggestions = %#v", metin.SuggestionList())
	}
	if _, err := FindActiveBotBySlug(ctx, db, "retired-bot"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("retired-bot must be inactive, got %v", err)
	}

	// Re-seeding is idempotent.
	if _, err := SeedBotsFromFile(ctx, db, path); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	bots, _ := ListActiveBots(ctx, db)
	if len(bots) != 1 || bots[0].ID != metin.ID {
		t.Fatalf("reseed changed identity: %+v", bots)
	}
}

func TestSeedBots_Invalid(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()

	if _, err := SeedBots(ctx, db, []byte("bots: [")); err == nil || !strings.Contains(err.Error(), "parse seed") {
		t.Fatalf("expected parse error, got %v", err)
	}
	if _, err := SeedBots(ctx, db, []byte("bots:\n  - name: x\n    model: m\n")); err == nil || !strings.Contains(err.Error(), "slug is required") {
		t.Fatalf("expected slug error, got %v", err)
	}
	if _, err := SeedBots(ctx, db, []byte("bots:\n  - slug: x\n")); err == nil || !strings.Contains(err.Error(), "model is required") {
		t.Fatalf("expected model error, got %v", err)
	}
	if _, err := SeedBotsFromFile(ctx, db, filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}
