package client

import (
	"fmt"
	"testing"

	"rtchat/internal/models"
)

func msg(room, id string) models.Message {
	return models.Message{ID: id, RoomID: room, Content: "body-" + id}
}

func TestCacheAppendRequiresEntry(t *testing.T) {
	c := newMessageCache()

	// No page was ever fetched for this room, so live messages are dropped.
	c.Append(msg("general", "m1"))
	if c.Has("general") {
		t.Fatal("append must not create a room entry")
	}

	c.Replace("general", nil)
	if !c.Has("general") {
		t.Fatal("an empty fetched page still counts as an entry")
	}
	c.Append(msg("general", "m1"))
	if got := len(c.Messages("general")); got != 1 {
		t.Fatalf("cached %d messages, want 1", got)
	}
}

func TestCacheAppendDeduplicatesByID(t *testing.T) {
	c := newMessageCache()
	c.Replace("general", nil)

	c.Append(msg("general", "m1"))
	c.Append(msg("general", "m1"))

	if got := len(c.Messages("general")); got != 1 {
		t.Fatalf("cached %d messages, want 1", got)
	}
}

func TestCacheCapDropsOldest(t *testing.T) {
	c := newMessageCache()
	c.Replace("general", nil)

	const total = cacheLimit + 50
	for i := 0; i < total; i++ {
		c.Append(msg("general", fmt.Sprintf("m%03d", i)))
	}

	cached := c.Messages("general")
	if len(cached) != cacheLimit {
		t.Fatalf("cached %d messages, want %d", len(cached), cacheLimit)
	}
	// The survivors are the most recent, still in arrival order.
	for i, m := range cached {
		want := fmt.Sprintf("m%03d", total-cacheLimit+i)
		if m.ID != want {
			t.Fatalf("position %d holds %s, want %s", i, m.ID, want)
		}
	}
}

func TestCacheUpdate(t *testing.T) {
	c := newMessageCache()
	c.Replace("general", []models.Message{msg("general", "m1"), msg("general", "m2")})

	edited := msg("general", "m2")
	edited.Content = "edited"
	if !c.Update(edited) {
		t.Fatal("expected update to hit")
	}
	if got := c.Messages("general")[1].Content; got != "edited" {
		t.Fatalf("content = %q, want %q", got, "edited")
	}

	if c.Update(msg("general", "missing")) {
		t.Fatal("update of an uncached message must report a miss")
	}
	if c.Update(msg("other", "m1")) {
		t.Fatal("update of an unknown room must report a miss")
	}
}

func TestCacheDeleteScansAllRooms(t *testing.T) {
	c := newMessageCache()
	c.Replace("a", []models.Message{msg("a", "m1")})
	c.Replace("b", []models.Message{msg("b", "m2"), msg("b", "m3")})

	if !c.Delete("m3") {
		t.Fatal("expected delete to hit")
	}
	if got := len(c.Messages("b")); got != 1 {
		t.Fatalf("room b holds %d messages, want 1", got)
	}
	if got := len(c.Messages("a")); got != 1 {
		t.Fatalf("room a holds %d messages, want 1", got)
	}
	if c.Delete("m3") {
		t.Fatal("second delete must report a miss")
	}
}

func TestCacheReplaceDiscardsPrevious(t *testing.T) {
	c := newMessageCache()
	c.Replace("general", []models.Message{msg("general", "old1"), msg("general", "old2")})
	c.Replace("general", []models.Message{msg("general", "new1")})

	cached := c.Messages("general")
	if len(cached) != 1 || cached[0].ID != "new1" {
		t.Fatalf("unexpected cache after replace: %+v", cached)
	}
}

func TestCachePrependKeepsOrderAndDeduplicates(t *testing.T) {
	c := newMessageCache()
	c.Replace("general", []models.Message{msg("general", "m3"), msg("general", "m4")})

	// The older page overlaps the cached window on m3.
	c.Prepend("general", []models.Message{msg("general", "m1"), msg("general", "m2"), msg("general", "m3")})

	cached := c.Messages("general")
	want := []string{"m1", "m2", "m3", "m4"}
	if len(cached) != len(want) {
		t.Fatalf("cached %d messages, want %d", len(cached), len(want))
	}
	for i, id := range want {
		if cached[i].ID != id {
			t.Fatalf("position %d holds %s, want %s", i, cached[i].ID, id)
		}
	}
}

func TestCachePrependOverCapKeepsRecentTail(t *testing.T) {
	c := newMessageCache()

	recent := make([]models.Message, cacheLimit-10)
	for i := range recent {
		recent[i] = msg("general", fmt.Sprintf("r%03d", i))
	}
	c.Replace("general", recent)

	older := make([]models.Message, 50)
	for i := range older {
		older[i] = msg("general", fmt.Sprintf("o%03d", i))
	}
	c.Prepend("general", older)

	cached := c.Messages("general")
	if len(cached) != cacheLimit {
		t.Fatalf("cached %d messages, want %d", len(cached), cacheLimit)
	}
	// Truncation keeps the tail, so every recent message survives.
	if got := cached[len(cached)-1].ID; got != recent[len(recent)-1].ID {
		t.Fatalf("newest cached = %s, want %s", got, recent[len(recent)-1].ID)
	}
}

func TestCacheClear(t *testing.T) {
	c := newMessageCache()
	c.Replace("a", []models.Message{msg("a", "m1")})
	c.Clear()
	if c.Has("a") {
		t.Fatal("clear must drop every entry")
	}
}
