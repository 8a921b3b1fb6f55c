package client

import (
	"sync"

	"rtchat/internal/models"
)

// cacheLimit caps the per-room message cache.
const cacheLimit = 100

// messageCache holds an ordered, capped sequence of messages per room,
// oldest first. It is an optimization over the HTTP history, never a source
// of truth: a message may be absent here and still exist server-side.
type messageCache struct {
	mu    sync.Mutex
	rooms map[string][]models.Message
}

func newMessageCache() *messageCache {
	return &messageCache{rooms: make(map[string][]models.Message)}
}

// Messages returns a copy of the room's cached messages, oldest first.
func (c *messageCache) Messages(roomID string) []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached, ok := c.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]models.Message, len(cached))
	copy(out, cached)
	return out
}

// Has reports whether the room has a cache entry at all (a fetched page,
// possibly empty).
func (c *messageCache) Has(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

// Append adds a live message to the room's entry, if one exists, dropping the
// oldest entries beyond the cap. A message ID already present is ignored.
func (c *messageCache) Append(msg models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cached, ok := c.rooms[msg.RoomID]
	if !ok {
		return
	}
	for _, m := range cached {
		if m.ID == msg.ID {
			return
		}
	}
	cached = append(cached, msg)
	if len(cached) > cacheLimit {
		cached = cached[len(cached)-cacheLimit:]
	}
	c.rooms[msg.RoomID] = cached
}

// Update replaces a cached message matched by ID within its room. Returns
// false when the message is not cached.
func (c *messageCache) Update(msg models.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cached, ok := c.rooms[msg.RoomID]
	if !ok {
		return false
	}
	for i, m := range cached {
		if m.ID == msg.ID {
			cached[i] = msg
			return true
		}
	}
	return false
}

// Delete removes a message by ID. Every cached room is scanned because
// delete events are not guaranteed to carry the room.
func (c *messageCache) Delete(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for roomID, cached := range c.rooms {
		for i, m := range cached {
			if m.ID == messageID {
				c.rooms[roomID] = append(cached[:i], cached[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Replace installs a fresh page-1 fetch, discarding whatever was cached.
// Guards against staleness after a connection gap.
func (c *messageCache) Replace(roomID string, msgs []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached := make([]models.Message, len(msgs))
	copy(cached, msgs)
	c.rooms[roomID] = c.truncate(cached)
}

// Prepend inserts an older page before the existing entries, skipping IDs
// already cached. Pagination walks backward in time, so the fetched page is
// older than everything present.
func (c *messageCache) Prepend(roomID string, msgs []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cached, ok := c.rooms[roomID]
	if !ok {
		cached = nil
	}
	seen := make(map[string]bool, len(cached))
	for _, m := range cached {
		seen[m.ID] = true
	}
	fresh := make([]models.Message, 0, len(msgs)+len(cached))
	for _, m := range msgs {
		if !seen[m.ID] {
			fresh = append(fresh, m)
		}
	}
	c.rooms[roomID] = c.truncate(append(fresh, cached...))
}

// truncate keeps the most recent cacheLimit entries (the tail).
func (c *messageCache) truncate(msgs []models.Message) []models.Message {
	if len(msgs) > cacheLimit {
		return msgs[len(msgs)-cacheLimit:]
	}
	return msgs
}

// Clear drops every room entry.
func (c *messageCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms = make(map[string][]models.Message)
}
