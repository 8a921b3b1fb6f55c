package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"rtchat/internal/errs"
	"rtchat/internal/models"

	"github.com/goccy/go-json"
)

// typingDebounce is the quiet period after which a stop-typing event is
// emitted, and the inactivity window after which a remote typing indicator
// expires.
const typingDebounce = 3 * time.Second

// Socket is the slice of the connection controller the facade drives.
type Socket interface {
	Connect(ctx context.Context, credential string) error
	Emit(event string, data interface{}) error
	Request(ctx context.Context, event string, data interface{}) (json.RawMessage, error)
	On(event string, fn Handler) int
	Off(event string, id int)
}

// HistoryFetcher is the HTTP collaborator slice the facade needs for
// paginated history.
type HistoryFetcher interface {
	GetMessages(ctx context.Context, roomID string, page, limit int) (*MessagesPage, error)
}

type registration struct {
	event string
	id    int
}

// Chat is the single point of orchestration between UI-facing actions and
// the connection controller plus the HTTP collaborator: room join/leave,
// sends, typing debounce, and the per-room message cache.
type Chat struct {
	sock Socket
	api  HistoryFetcher

	cache *messageCache

	// debounce window; typingDebounce unless shortened by tests
	debounce time.Duration

	mu          sync.Mutex
	initialized bool
	currentRoom string

	// listeners installed on the controller, removed on Cleanup
	registrations []registration

	// debounce timer for this client's own typing signal
	typingTimer *time.Timer
	typingRoom  string

	// remote typing indicators: roomID -> userID -> expiry timer
	typingUsers map[string]map[string]*time.Timer

	// local UI subscribers
	subMu  sync.Mutex
	subs   map[string]map[int]Handler
	nextID int
}

func NewChat(sock Socket, api HistoryFetcher) *Chat {
	return &Chat{
		sock:        sock,
		api:         api,
		cache:       newMessageCache(),
		debounce:    typingDebounce,
		typingUsers: make(map[string]map[string]*time.Timer),
		subs:        make(map[string]map[int]Handler),
	}
}

// Init connects the controller and installs the event listeners. Idempotent:
// a second call while initialized is a no-op.
func (ch *Chat) Init(ctx context.Context, credential string) error {
	ch.mu.Lock()
	if ch.initialized {
		ch.mu.Unlock()
		return nil
	}
	ch.mu.Unlock()

	if err := ch.sock.Connect(ctx, credential); err != nil {
		return err
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.initialized {
		return nil
	}

	install := func(event string, fn Handler) {
		id := ch.sock.On(event, fn)
		ch.registrations = append(ch.registrations, registration{event: event, id: id})
	}
	install(models.EventNewMessage, ch.handleNewMessage)
	install(models.EventMessageUpdated, ch.handleMessageUpdated)
	install(models.EventMessageDeleted, ch.handleMessageDeleted)
	install(models.EventUserTyping, ch.handleUserTyping)
	install(models.EventUserStoppedTyping, ch.handleUserStoppedTyping)
	install(models.EventRoomJoined, ch.republish)
	install(models.EventRoomLeft, ch.republish)
	install(models.EventUserJoinedRoom, ch.republish)
	install(models.EventUserLeftRoom, ch.republish)

	ch.initialized = true
	return nil
}

// Subscribe registers a local UI handler for an event name and returns its
// registration ID.
func (ch *Chat) Subscribe(event string, fn Handler) int {
	ch.subMu.Lock()
	defer ch.subMu.Unlock()
	ch.nextID++
	if ch.subs[event] == nil {
		ch.subs[event] = make(map[int]Handler)
	}
	ch.subs[event][ch.nextID] = fn
	return ch.nextID
}

// Unsubscribe removes a local UI handler.
func (ch *Chat) Unsubscribe(event string, id int) {
	ch.subMu.Lock()
	defer ch.subMu.Unlock()
	if m := ch.subs[event]; m != nil {
		delete(m, id)
	}
}

// republish forwards an event to local subscribers. Cache effects never gate
// this: the cache is an optimization, not a source of truth.
func (ch *Chat) republish(ev Event) {
	ch.subMu.Lock()
	handlers := make([]Handler, 0, len(ch.subs[ev.Type]))
	for _, fn := range ch.subs[ev.Type] {
		handlers = append(handlers, fn)
	}
	ch.subMu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

func (ch *Chat) handleNewMessage(ev Event) {
	var msg models.Message
	if err := json.Unmarshal(ev.Data, &msg); err != nil {
		slog.Warn("[CHAT] Malformed new-message payload", "error", err)
		return
	}
	ch.cache.Append(msg)
	ch.republish(ev)
}

func (ch *Chat) handleMessageUpdated(ev Event) {
	var msg models.Message
	if err := json.Unmarshal(ev.Data, &msg); err != nil {
		slog.Warn("[CHAT] Malformed message-updated payload", "error", err)
		return
	}
	ch.cache.Update(msg)
	ch.republish(ev)
}

func (ch *Chat) handleMessageDeleted(ev Event) {
	var data models.MessageDeletedData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		slog.Warn("[CHAT] Malformed message-deleted payload", "error", err)
		return
	}
	ch.cache.Delete(data.MessageID)
	ch.republish(ev)
}

func (ch *Chat) handleUserTyping(ev Event) {
	var data models.UserRoomData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return
	}

	ch.mu.Lock()
	if ch.typingUsers[data.RoomID] == nil {
		ch.typingUsers[data.RoomID] = make(map[string]*time.Timer)
	}
	if t := ch.typingUsers[data.RoomID][data.UserID]; t != nil {
		t.Stop()
	}
	// A typing indicator with no follow-up expires on its own.
	ch.typingUsers[data.RoomID][data.UserID] = time.AfterFunc(ch.debounce, func() {
		ch.clearTypingUser(data.RoomID, data.UserID)
	})
	ch.mu.Unlock()

	ch.republish(ev)
}

func (ch *Chat) handleUserStoppedTyping(ev Event) {
	var data models.UserRoomData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return
	}
	ch.clearTypingUser(data.RoomID, data.UserID)
	ch.republish(ev)
}

func (ch *Chat) clearTypingUser(roomID, userID string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if m := ch.typingUsers[roomID]; m != nil {
		if t := m[userID]; t != nil {
			t.Stop()
		}
		delete(m, userID)
		if len(m) == 0 {
			delete(ch.typingUsers, roomID)
		}
	}
}

// TypingUsers lists the identities currently typing in the room.
func (ch *Chat) TypingUsers(roomID string) []string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	users := make([]string, 0, len(ch.typingUsers[roomID]))
	for id := range ch.typingUsers[roomID] {
		users = append(users, id)
	}
	return users
}

// CachedMessages returns the room's cache, oldest first.
func (ch *Chat) CachedMessages(roomID string) []models.Message {
	return ch.cache.Messages(roomID)
}

// CurrentRoom reports the tracked current room, if any.
func (ch *Chat) CurrentRoom() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.currentRoom
}

// GetMessages fetches one history page. Page 1 replaces the room's cache
// entirely; later pages prepend (pagination walks backward in time). The raw
// fetch result is returned to the caller regardless of cache effects.
func (ch *Chat) GetMessages(ctx context.Context, roomID string, page, limit int) (*MessagesPage, error) {
	result, err := ch.api.GetMessages(ctx, roomID, page, limit)
	if err != nil {
		return nil, err
	}

	// The server serves newest-first; the cache keeps oldest-first.
	ascending := make([]models.Message, len(result.Messages))
	for i, m := range result.Messages {
		ascending[len(result.Messages)-1-i] = m
	}
	if page <= 1 {
		ch.cache.Replace(roomID, ascending)
	} else {
		ch.cache.Prepend(roomID, ascending)
	}
	return result, nil
}

// JoinRoom requests a room join over the live connection. On success the
// current room is updated; on failure it is left unchanged.
func (ch *Chat) JoinRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return errs.New(errs.KindValidation, "roomId required")
	}
	if _, err := ch.sock.Request(ctx, models.EventJoinRoom, models.RoomRef{RoomID: roomID}); err != nil {
		return err
	}

	ch.mu.Lock()
	ch.currentRoom = roomID
	ch.mu.Unlock()
	return nil
}

// LeaveRoom requests a room leave. On success a matching current room is
// cleared.
func (ch *Chat) LeaveRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return errs.New(errs.KindValidation, "roomId required")
	}
	if _, err := ch.sock.Request(ctx, models.EventLeaveRoom, models.RoomRef{RoomID: roomID}); err != nil {
		return err
	}

	ch.mu.Lock()
	if ch.currentRoom == roomID {
		ch.currentRoom = ""
	}
	ch.mu.Unlock()
	return nil
}

// SendMessage sends to the given room, falling back to the tracked current
// room. With neither it fails fast, before any network call. The send is a
// request-response exchange: resolution is driven by the server's ack, not
// by the emit having happened.
func (ch *Chat) SendMessage(ctx context.Context, content, roomID string) (*models.Message, error) {
	if roomID == "" {
		ch.mu.Lock()
		roomID = ch.currentRoom
		ch.mu.Unlock()
	}
	if roomID == "" {
		return nil, errs.New(errs.KindValidation, "no room selected")
	}
	if content == "" {
		return nil, errs.New(errs.KindValidation, "content required")
	}
	if len(content) > models.MaxContentLength {
		return nil, errs.Newf(errs.KindValidation, "content exceeds %d characters", models.MaxContentLength)
	}

	data, err := ch.sock.Request(ctx, models.EventSendMessage, models.SendMessageData{
		RoomID:  roomID,
		Content: content,
	})
	if err != nil {
		return nil, err
	}

	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errs.Wrap(errs.KindServer, "malformed send acknowledgement", err)
	}
	return &msg, nil
}

// StartTyping emits a typing signal immediately on the first call and arms
// the debounce timer; calls within the window only re-arm the timer. When
// the window elapses with no further call, one stop-typing is emitted.
func (ch *Chat) StartTyping(roomID string) {
	if roomID == "" {
		return
	}

	ch.mu.Lock()
	if ch.typingTimer != nil && ch.typingRoom == roomID {
		ch.typingTimer.Reset(ch.debounce)
		ch.mu.Unlock()
		return
	}
	// Switching rooms mid-typing closes out the previous room first.
	if ch.typingTimer != nil {
		ch.typingTimer.Stop()
		prev := ch.typingRoom
		ch.mu.Unlock()
		ch.emitStopTyping(prev)
		ch.mu.Lock()
	}
	ch.typingRoom = roomID
	ch.typingTimer = time.AfterFunc(ch.debounce, func() {
		ch.mu.Lock()
		ch.typingTimer = nil
		ch.typingRoom = ""
		ch.mu.Unlock()
		ch.emitStopTyping(roomID)
	})
	ch.mu.Unlock()

	if err := ch.sock.Emit(models.EventTyping, models.RoomRef{RoomID: roomID}); err != nil {
		slog.Debug("[CHAT] Typing emit failed", "room", roomID, "error", err)
	}
}

// StopTyping cancels the debounce and emits the stop signal explicitly.
func (ch *Chat) StopTyping(roomID string) {
	ch.mu.Lock()
	if ch.typingTimer == nil || ch.typingRoom != roomID {
		ch.mu.Unlock()
		return
	}
	ch.typingTimer.Stop()
	ch.typingTimer = nil
	ch.typingRoom = ""
	ch.mu.Unlock()

	ch.emitStopTyping(roomID)
}

func (ch *Chat) emitStopTyping(roomID string) {
	if err := ch.sock.Emit(models.EventStopTyping, models.RoomRef{RoomID: roomID}); err != nil {
		slog.Debug("[CHAT] Stop-typing emit failed", "room", roomID, "error", err)
	}
}

// Cleanup clears the current room, the typing state, and the entire message
// cache, cancels the pending debounce timer, removes the installed listeners
// and marks the facade uninitialized. Safe to call any number of times.
func (ch *Chat) Cleanup() {
	ch.mu.Lock()
	if ch.typingTimer != nil {
		ch.typingTimer.Stop()
		ch.typingTimer = nil
	}
	ch.typingRoom = ""
	ch.currentRoom = ""
	for _, users := range ch.typingUsers {
		for _, t := range users {
			t.Stop()
		}
	}
	ch.typingUsers = make(map[string]map[string]*time.Timer)
	regs := ch.registrations
	ch.registrations = nil
	ch.initialized = false
	ch.mu.Unlock()

	for _, reg := range regs {
		ch.sock.Off(reg.event, reg.id)
	}
	ch.cache.Clear()

	ch.subMu.Lock()
	ch.subs = make(map[string]map[int]Handler)
	ch.subMu.Unlock()
}
