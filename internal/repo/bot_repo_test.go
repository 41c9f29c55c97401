package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-tutor-chat/internal/domain"
)

func TestFindActiveBotBySlug(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()
	metin := mustBot(t, db, "metin", true)
	mustBot(t, db, "retired-bot", false)

	got, err := FindActiveBotBySlug(ctx, db, "  metin ")
	if err != nil {
		t.Fatalf("FindActiveBotBySlug: %v", err)
	}
	if got.ID != metin.ID || got.SystemPrompt != "You are a math tutor" || got.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected bot: %+v", got)
	}

	for _, slug := range []string{"retired-bot", "nope", "", "   "} {
		if _, err := FindActiveBotBySlug(ctx, db, slug); !errors.Is(err, ErrNotFound) {
			t.Fatalf("slug %q: expected ErrNotFound, got %v", slug, err)
		}
	}
}

func TestSetBotActive_DeactivationHidesBot(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()
	b := mustBot(t, db, "metin", true)

	if err := SetBotActive(ctx, db, "metin", false); err != nil {
		t.Fatalf("SetBotActive: %v", err)
	}
	if _, err := FindActiveBotBySlug(ctx, db, "metin"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after deactivation, got %v", err)
	}
	// The row is still there.
	stored, err := GetBotByID(ctx, db, b.ID)
	if err != nil || stored.IsActive {
		t.Fatalf("expected inactive row to remain, got %+v err=%v", stored, err)
	}

	if err := SetBotActive(ctx, db, "ghost", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown slug, got %v", err)
	}
}

func TestUpsertBot_UpdatesInPlaceBySlug(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()
	first := mustBot(t, db, "metin", true)

	b := &domain.Bot{Slug: "metin", Name: "Metin v2", Model: "gpt-4o", SystemPrompt: "Be brief", IsActive: true}
	if err := UpsertBot(ctx, db, b); err != nil {
		t.Fatalf("UpsertBot: %v", err)
	}
	if b.ID != first.ID {
		t.Fatalf("expected ID %q to be preserved, got %q", first.ID, b.ID)
	}

	got, err := FindActiveBotBySlug(ctx, db, "metin")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Name != "Metin v2" || got.Model != "gpt-4o" || got.SystemPrompt != "Be brief" {
		t.Fatalf("upsert did not overwrite config: %+v", got)
	}

	var n int64
	db.Table("bots").Count(&n)
	if n != 1 {
		t.Fatalf("expected a single bot row, got %d", n)
	}
}

func TestListActiveBots_OrderAndFilter(t *testing.T) {
	db := newRepoDB(t, true)
	mustBot(t, db, "zeynep", true)
	mustBot(t, db, "ayse", true)
	mustBot(t, db, "retired-bot", false)

	bots, err := ListActiveBots(context.Background(), db)
	if err != nil {
		t.Fatalf("ListActiveBots: %v", err)
	}
	if len(bots) != 2 || bots[0].Slug != "ayse" || bots[1].Slug != "zeynep" {
		t.Fatalf("unexpected list: %+v", bots)
	}
}
