package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"rtchat/internal/errs"
	"rtchat/internal/models"

	"github.com/goccy/go-json"
)

type fakeRooms struct {
	mu       sync.Mutex
	members  map[string]map[string]bool // roomID -> userID set
	capacity map[string]int
	activity map[string]int
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{
		members:  make(map[string]map[string]bool),
		capacity: make(map[string]int),
		activity: make(map[string]int),
	}
}

func (f *fakeRooms) addRoom(roomID string, capacity int, members ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capacity[roomID] = capacity
	f.members[roomID] = make(map[string]bool)
	for _, m := range members {
		f.members[roomID][m] = true
	}
}

func (f *fakeRooms) Get(_ context.Context, id string) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members, ok := f.members[id]
	if !ok {
		return nil, errs.Newf(errs.KindValidation, "room %s not found", id)
	}
	room := &models.Room{ID: id, Active: true, Settings: models.RoomSettings{MaxMembers: f.capacity[id]}}
	for m := range members {
		room.Members = append(room.Members, models.RoomMember{UserID: m})
	}
	return room, nil
}

func (f *fakeRooms) AddMember(_ context.Context, roomID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	members, ok := f.members[roomID]
	if !ok {
		return errs.Newf(errs.KindValidation, "room %s not found", roomID)
	}
	if members[userID] {
		return nil
	}
	if len(members) >= f.capacity[roomID] {
		return errs.Newf(errs.KindValidation, "room %s is full", roomID)
	}
	members[userID] = true
	return nil
}

func (f *fakeRooms) RemoveMember(_ context.Context, roomID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if members, ok := f.members[roomID]; ok {
		delete(members, userID)
	}
	return nil
}

func (f *fakeRooms) BumpActivity(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activity[roomID]++
	return nil
}

func (f *fakeRooms) memberCount(roomID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.members[roomID])
}

type fakeMessages struct {
	mu       sync.Mutex
	inserted []*models.Message
}

func (f *fakeMessages) Insert(_ context.Context, msg *models.Message) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg.ID = "m1"
	msg.CreatedAt = time.Now().UTC()
	f.inserted = append(f.inserted, msg)
	return msg, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (bool, error) { return false, nil }

func newTestServer(t *testing.T, rooms *fakeRooms, messages *fakeMessages) *Server {
	t.Helper()
	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)
	return NewServer(hub, nil, rooms, messages, nil)
}

func frame(t *testing.T, eventType, id string, data interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	payload, err := json.Marshal(models.Frame{Type: eventType, ID: id, Data: raw})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return payload
}

// receiveAck waits for an ack frame on the session's send queue.
func receiveAck(t *testing.T, s *Session) models.Ack {
	t.Helper()
	select {
	case payload := <-s.send:
		var ack models.Ack
		if err := json.Unmarshal(payload, &ack); err != nil {
			t.Fatalf("unmarshal ack: %v", err)
		}
		if ack.Type != models.EventAck {
			t.Fatalf("expected ack frame, got %q", ack.Type)
		}
		return ack
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ack")
		return models.Ack{}
	}
}

func TestJoinRoomHappyPath(t *testing.T) {
	rooms := newFakeRooms()
	rooms.addRoom("general", 10)
	srv := newTestServer(t, rooms, &fakeMessages{})
	s := newSession("s1", &models.User{ID: "u1", Name: "Alice", Active: true}, nil, srv)

	srv.handleFrame(s, frame(t, models.EventJoinRoom, "req-1", models.RoomRef{RoomID: "general"}))

	ack := receiveAck(t, s)
	if ack.Error != nil {
		t.Fatalf("join failed: %+v", ack.Error)
	}
	if !s.InRoom("general") {
		t.Fatal("session should track the joined room")
	}
	if rooms.memberCount("general") != 1 {
		t.Fatalf("member count = %d, want 1", rooms.memberCount("general"))
	}

	// Confirmation event follows the ack.
	ev := receiveEvent(t, s)
	if ev.Type != models.EventRoomJoined {
		t.Fatalf("expected room-joined, got %q", ev.Type)
	}
}

func TestJoinRoomTwiceRegistersOnce(t *testing.T) {
	rooms := newFakeRooms()
	rooms.addRoom("general", 10)
	srv := newTestServer(t, rooms, &fakeMessages{})
	s := newSession("s1", &models.User{ID: "u1", Active: true}, nil, srv)

	for i, id := range []string{"req-1", "req-2"} {
		srv.handleFrame(s, frame(t, models.EventJoinRoom, id, models.RoomRef{RoomID: "general"}))
		if ack := receiveAck(t, s); ack.Error != nil {
			t.Fatalf("join %d failed: %+v", i+1, ack.Error)
		}
		if ev := receiveEvent(t, s); ev.Type != models.EventRoomJoined {
			t.Fatalf("expected room-joined, got %q", ev.Type)
		}
	}

	if got := srv.hub.RoomSize("general"); got != 1 {
		t.Fatalf("hub registrations = %d, want 1", got)
	}
	if got := rooms.memberCount("general"); got != 1 {
		t.Fatalf("member count = %d, want 1", got)
	}
}

func TestJoinFullRoomRejectedForNonMember(t *testing.T) {
	rooms := newFakeRooms()
	rooms.addRoom("tiny", 2, "a", "b")
	srv := newTestServer(t, rooms, &fakeMessages{})

	outsider := newSession("s1", &models.User{ID: "u1", Active: true}, nil, srv)
	srv.handleFrame(outsider, frame(t, models.EventJoinRoom, "req-1", models.RoomRef{RoomID: "tiny"}))
	ack := receiveAck(t, outsider)
	if ack.Error == nil {
		t.Fatal("expected a capacity rejection")
	}
	if ack.Error.Kind != string(errs.KindValidation) {
		t.Fatalf("error kind = %q, want validation", ack.Error.Kind)
	}

	// An existing member re-joining succeeds as a no-op.
	member := newSession("s2", &models.User{ID: "a", Active: true}, nil, srv)
	srv.handleFrame(member, frame(t, models.EventJoinRoom, "req-2", models.RoomRef{RoomID: "tiny"}))
	if ack := receiveAck(t, member); ack.Error != nil {
		t.Fatalf("member re-join failed: %+v", ack.Error)
	}
	if got := rooms.memberCount("tiny"); got != 2 {
		t.Fatalf("member count = %d, want 2", got)
	}
}

func TestSendMessageFansOutToAllMembers(t *testing.T) {
	rooms := newFakeRooms()
	rooms.addRoom("general", 10)
	messages := &fakeMessages{}
	srv := newTestServer(t, rooms, messages)

	u1 := newSession("s1", &models.User{ID: "u1", Name: "Alice", Active: true}, nil, srv)
	u2 := newSession("s2", &models.User{ID: "u2", Name: "Bob", Active: true}, nil, srv)
	for _, s := range []*Session{u1, u2} {
		srv.handleFrame(s, frame(t, models.EventJoinRoom, "join", models.RoomRef{RoomID: "general"}))
		receiveAck(t, s)
		receiveEvent(t, s) // room-joined
	}
	receiveEvent(t, u1) // user-joined-room for u2

	srv.handleFrame(u1, frame(t, models.EventSendMessage, "send-1", models.SendMessageData{
		RoomID:  "general",
		Content: "hello",
	}))

	ack := receiveAck(t, u1)
	if ack.Error != nil {
		t.Fatalf("send failed: %+v", ack.Error)
	}

	for _, s := range []*Session{u1, u2} {
		ev := receiveEvent(t, s)
		if ev.Type != models.EventNewMessage {
			t.Fatalf("expected new-message, got %q", ev.Type)
		}
		raw, _ := json.Marshal(ev.Data)
		var msg models.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		if msg.Content != "hello" || msg.SenderID != "u1" || msg.RoomID != "general" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	}

	if len(messages.inserted) != 1 {
		t.Fatalf("persisted %d messages, want 1", len(messages.inserted))
	}
}

func TestSendWithoutJoinRejected(t *testing.T) {
	rooms := newFakeRooms()
	rooms.addRoom("general", 10)
	srv := newTestServer(t, rooms, &fakeMessages{})
	s := newSession("s1", &models.User{ID: "u1", Active: true}, nil, srv)

	srv.handleFrame(s, frame(t, models.EventSendMessage, "send-1", models.SendMessageData{
		RoomID:  "general",
		Content: "hello",
	}))

	ack := receiveAck(t, s)
	if ack.Error == nil {
		t.Fatal("expected rejection")
	}
	if ack.Error.Kind != string(errs.KindAuthorization) {
		t.Fatalf("error kind = %q, want authorization", ack.Error.Kind)
	}
}

func TestSendValidation(t *testing.T) {
	rooms := newFakeRooms()
	rooms.addRoom("general", 10)
	srv := newTestServer(t, rooms, &fakeMessages{})
	s := newSession("s1", &models.User{ID: "u1", Active: true}, nil, srv)
	srv.handleFrame(s, frame(t, models.EventJoinRoom, "join", models.RoomRef{RoomID: "general"}))
	receiveAck(t, s)
	receiveEvent(t, s)

	long := make([]byte, models.MaxContentLength+1)
	for i := range long {
		long[i] = 'x'
	}

	cases := []struct {
		name string
		data models.SendMessageData
	}{
		{"empty content", models.SendMessageData{RoomID: "general"}},
		{"missing room", models.SendMessageData{Content: "hi"}},
		{"oversized content", models.SendMessageData{RoomID: "general", Content: string(long)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv.handleFrame(s, frame(t, models.EventSendMessage, "send", tc.data))
			ack := receiveAck(t, s)
			if ack.Error == nil {
				t.Fatal("expected validation rejection")
			}
			if ack.Error.Kind != string(errs.KindValidation) {
				t.Fatalf("error kind = %q, want validation", ack.Error.Kind)
			}
		})
	}
}

func TestSendRateLimited(t *testing.T) {
	rooms := newFakeRooms()
	rooms.addRoom("general", 10)
	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)
	srv := NewServer(hub, nil, rooms, &fakeMessages{}, denyLimiter{})

	s := newSession("s1", &models.User{ID: "u1", Active: true}, nil, srv)
	srv.handleFrame(s, frame(t, models.EventJoinRoom, "join", models.RoomRef{RoomID: "general"}))
	receiveAck(t, s)
	receiveEvent(t, s)

	srv.handleFrame(s, frame(t, models.EventSendMessage, "send", models.SendMessageData{
		RoomID:  "general",
		Content: "hello",
	}))
	ack := receiveAck(t, s)
	if ack.Error == nil || ack.Error.Kind != string(errs.KindRateLimit) {
		t.Fatalf("expected rate_limit rejection, got %+v", ack.Error)
	}
}

func TestTypingRelayedToOthersOnly(t *testing.T) {
	rooms := newFakeRooms()
	rooms.addRoom("general", 10)
	srv := newTestServer(t, rooms, &fakeMessages{})

	u1 := newSession("s1", &models.User{ID: "u1", Active: true}, nil, srv)
	u2 := newSession("s2", &models.User{ID: "u2", Active: true}, nil, srv)
	for _, s := range []*Session{u1, u2} {
		srv.handleFrame(s, frame(t, models.EventJoinRoom, "join", models.RoomRef{RoomID: "general"}))
		receiveAck(t, s)
		receiveEvent(t, s)
	}
	receiveEvent(t, u1) // user-joined-room for u2

	srv.handleFrame(u1, frame(t, models.EventTyping, "", models.RoomRef{RoomID: "general"}))

	ev := receiveEvent(t, u2)
	if ev.Type != models.EventUserTyping {
		t.Fatalf("expected user-typing, got %q", ev.Type)
	}
	assertNoEvent(t, u1)
}

func TestTypingFromUnjoinedRoomDropped(t *testing.T) {
	rooms := newFakeRooms()
	rooms.addRoom("general", 10)
	srv := newTestServer(t, rooms, &fakeMessages{})

	member := newSession("s1", &models.User{ID: "u1", Active: true}, nil, srv)
	srv.handleFrame(member, frame(t, models.EventJoinRoom, "join", models.RoomRef{RoomID: "general"}))
	receiveAck(t, member)
	receiveEvent(t, member)

	lurker := newSession("s2", &models.User{ID: "u2", Active: true}, nil, srv)
	srv.handleFrame(lurker, frame(t, models.EventTyping, "", models.RoomRef{RoomID: "general"}))

	assertNoEvent(t, member)
}

func TestLeaveRoomNotifiesOthers(t *testing.T) {
	rooms := newFakeRooms()
	rooms.addRoom("general", 10)
	srv := newTestServer(t, rooms, &fakeMessages{})

	u1 := newSession("s1", &models.User{ID: "u1", Active: true}, nil, srv)
	u2 := newSession("s2", &models.User{ID: "u2", Active: true}, nil, srv)
	for _, s := range []*Session{u1, u2} {
		srv.handleFrame(s, frame(t, models.EventJoinRoom, "join", models.RoomRef{RoomID: "general"}))
		receiveAck(t, s)
		receiveEvent(t, s)
	}
	receiveEvent(t, u1) // user-joined-room for u2

	srv.handleFrame(u2, frame(t, models.EventLeaveRoom, "leave", models.RoomRef{RoomID: "general"}))
	if ack := receiveAck(t, u2); ack.Error != nil {
		t.Fatalf("leave failed: %+v", ack.Error)
	}
	if ev := receiveEvent(t, u2); ev.Type != models.EventRoomLeft {
		t.Fatalf("expected room-left, got %q", ev.Type)
	}

	ev := receiveEvent(t, u1)
	if ev.Type != models.EventUserLeftRoom {
		t.Fatalf("expected user-left-room, got %q", ev.Type)
	}
	if u2.InRoom("general") {
		t.Fatal("u2 should no longer track the room")
	}
	if rooms.memberCount("general") != 1 {
		t.Fatalf("member count = %d, want 1", rooms.memberCount("general"))
	}
}

func TestUnknownFrameIgnored(t *testing.T) {
	rooms := newFakeRooms()
	srv := newTestServer(t, rooms, &fakeMessages{})
	s := newSession("s1", &models.User{ID: "u1", Active: true}, nil, srv)

	srv.handleFrame(s, []byte(`{"type":"self-destruct","id":"x"}`))
	srv.handleFrame(s, []byte(`not json at all`))

	assertNoEvent(t, s)
}
