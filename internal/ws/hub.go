package ws

import (
	"log/slog"
	"sync"
	"time"

	"rtchat/internal/models"

	"github.com/goccy/go-json"
)

// broadcastJob is one fan-out unit. Either target is set (deliver to that one
// session) or roomID is set (deliver to every session registered for the
// room, minus exclude).
type broadcastJob struct {
	roomID  string
	target  *Session
	exclude *Session
	payload []byte
}

// Hub is the fan-out engine: it tracks which sessions are registered for
// which rooms and delivers room-scoped events to them. All deliveries flow
// through a single dispatch goroutine, so a given connection observes events
// in publish order. Delivery does not survive a restart and does not cross
// server instances.
type Hub struct {
	// roomID -> set of registered sessions
	mu    sync.RWMutex
	rooms map[string]map[*Session]bool

	broadcast chan broadcastJob
	done      chan struct{}
	stopOnce  sync.Once
}

func NewHub() *Hub {
	return &Hub{
		rooms:     make(map[string]map[*Session]bool),
		broadcast: make(chan broadcastJob, 256),
		done:      make(chan struct{}),
	}
}

// Run drains the broadcast queue until Stop is called.
func (h *Hub) Run() {
	slog.Info("[HUB] Starting fan-out loop")
	for {
		select {
		case job := <-h.broadcast:
			h.dispatch(job)
		case <-h.done:
			slog.Info("[HUB] Fan-out loop stopped")
			return
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// JoinRoom registers the session as a recipient for the room's events.
// Idempotent: a second join of the same room changes nothing.
func (h *Hub) JoinRoom(s *Session, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Session]bool)
	}
	if h.rooms[roomID][s] {
		slog.Debug("[HUB] Session already registered", "user", s.UserID(), "room", roomID)
		return
	}
	h.rooms[roomID][s] = true
	s.addRoom(roomID)
	slog.Debug("[HUB] Session registered", "user", s.UserID(), "room", roomID, "recipients", len(h.rooms[roomID]))
}

// LeaveRoom deregisters the session from the room. Idempotent.
func (h *Hub) LeaveRoom(s *Session, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(s, roomID)
}

func (h *Hub) leaveLocked(s *Session, roomID string) {
	sessions, ok := h.rooms[roomID]
	if !ok || !sessions[s] {
		return
	}
	delete(sessions, s)
	s.removeRoom(roomID)
	if len(sessions) == 0 {
		delete(h.rooms, roomID)
	}
	slog.Debug("[HUB] Session deregistered", "user", s.UserID(), "room", roomID)
}

// DropSession deregisters the session from every room it had joined. Called
// exactly once per connection on disconnect.
func (h *Hub) DropSession(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, roomID := range s.Rooms() {
		h.leaveLocked(s, roomID)
	}
	slog.Debug("[HUB] Session dropped", "user", s.UserID())
}

// RoomSize reports how many sessions are registered for the room.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Publish delivers an event to every session registered for the room. When
// exclude is non-nil that session (normally the originator) is skipped.
func (h *Hub) Publish(roomID, event string, data interface{}, exclude *Session) {
	payload, err := encodeEvent(event, roomID, data)
	if err != nil {
		slog.Error("[HUB] Failed to marshal event", "type", event, "room", roomID, "error", err)
		return
	}
	h.enqueue(broadcastJob{roomID: roomID, exclude: exclude, payload: payload})
}

// SendTo delivers an event to a single session, through the same dispatch
// loop so it keeps its order relative to room broadcasts.
func (h *Hub) SendTo(s *Session, event, roomID string, data interface{}) {
	payload, err := encodeEvent(event, roomID, data)
	if err != nil {
		slog.Error("[HUB] Failed to marshal event", "type", event, "room", roomID, "error", err)
		return
	}
	h.enqueue(broadcastJob{target: s, payload: payload})
}

func (h *Hub) enqueue(job broadcastJob) {
	select {
	case h.broadcast <- job:
	case <-h.done:
	}
}

func (h *Hub) dispatch(job broadcastJob) {
	if job.target != nil {
		job.target.enqueue(job.payload)
		return
	}

	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.rooms[job.roomID]))
	for s := range h.rooms[job.roomID] {
		if s != job.exclude {
			sessions = append(sessions, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.enqueue(job.payload)
	}
}

func encodeEvent(event, roomID string, data interface{}) ([]byte, error) {
	return json.Marshal(models.Event{
		Type:      event,
		RoomID:    roomID,
		Timestamp: time.Now().Unix(),
		Data:      data,
	})
}
