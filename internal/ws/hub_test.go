package ws

import (
	"testing"
	"time"

	"rtchat/internal/models"

	"github.com/goccy/go-json"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func newTestSession(hub *Hub, userID string) *Session {
	srv := &Server{hub: hub}
	return newSession("sess-"+userID, &models.User{ID: userID, Name: userID, Active: true}, nil, srv)
}

// receiveEvent waits for one event frame on the session's send queue.
func receiveEvent(t *testing.T, s *Session) models.Event {
	t.Helper()
	select {
	case payload := <-s.send:
		var ev models.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return models.Event{}
	}
}

func assertNoEvent(t *testing.T, s *Session) {
	t.Helper()
	select {
	case payload := <-s.send:
		t.Fatalf("unexpected delivery: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestJoinRoomIdempotent(t *testing.T) {
	hub := newTestHub(t)
	s := newTestSession(hub, "u1")

	hub.JoinRoom(s, "general")
	hub.JoinRoom(s, "general")

	if got := hub.RoomSize("general"); got != 1 {
		t.Fatalf("room size = %d, want 1 (no double registration)", got)
	}

	hub.Publish("general", models.EventNewMessage, map[string]string{"id": "m1"}, nil)
	receiveEvent(t, s)
	assertNoEvent(t, s)
}

func TestLeaveRoomIdempotent(t *testing.T) {
	hub := newTestHub(t)
	s := newTestSession(hub, "u1")

	hub.JoinRoom(s, "general")
	hub.LeaveRoom(s, "general")
	hub.LeaveRoom(s, "general")

	if got := hub.RoomSize("general"); got != 0 {
		t.Fatalf("room size = %d, want 0", got)
	}
	if s.InRoom("general") {
		t.Fatal("session should no longer track the room")
	}
}

func TestPublishExcludesOriginator(t *testing.T) {
	hub := newTestHub(t)
	sender := newTestSession(hub, "u1")
	other := newTestSession(hub, "u2")
	hub.JoinRoom(sender, "general")
	hub.JoinRoom(other, "general")

	hub.Publish("general", models.EventUserTyping, models.UserRoomData{UserID: "u1", RoomID: "general"}, sender)

	ev := receiveEvent(t, other)
	if ev.Type != models.EventUserTyping {
		t.Fatalf("event type = %q", ev.Type)
	}
	assertNoEvent(t, sender)
}

func TestPublishIncludesOriginatorWhenNotExcluded(t *testing.T) {
	hub := newTestHub(t)
	sender := newTestSession(hub, "u1")
	other := newTestSession(hub, "u2")
	hub.JoinRoom(sender, "general")
	hub.JoinRoom(other, "general")

	hub.Publish("general", models.EventNewMessage, map[string]string{"content": "hello"}, nil)

	receiveEvent(t, sender)
	receiveEvent(t, other)
}

func TestPublishOrderPreservedPerConnection(t *testing.T) {
	hub := newTestHub(t)
	s := newTestSession(hub, "u1")
	hub.JoinRoom(s, "general")

	const n = 20
	for i := 0; i < n; i++ {
		hub.Publish("general", models.EventNewMessage, map[string]int{"seq": i}, nil)
	}

	for i := 0; i < n; i++ {
		ev := receiveEvent(t, s)
		var data struct {
			Seq int `json:"seq"`
		}
		raw, _ := json.Marshal(ev.Data)
		if err := json.Unmarshal(raw, &data); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if data.Seq != i {
			t.Fatalf("event %d arrived with seq %d", i, data.Seq)
		}
	}
}

func TestDropSessionRemovesAllRegistrations(t *testing.T) {
	hub := newTestHub(t)
	s := newTestSession(hub, "u1")
	rooms := []string{"a", "b", "c"}
	for _, r := range rooms {
		hub.JoinRoom(s, r)
	}

	hub.DropSession(s)

	for _, r := range rooms {
		if got := hub.RoomSize(r); got != 0 {
			t.Fatalf("room %s still has %d registrations", r, got)
		}
	}
	if got := len(s.Rooms()); got != 0 {
		t.Fatalf("session still tracks %d rooms", got)
	}
}

func TestSessionCloseDropsExactlyOnce(t *testing.T) {
	hub := newTestHub(t)
	s := newTestSession(hub, "u1")
	hub.JoinRoom(s, "a")
	hub.JoinRoom(s, "b")

	// Both pumps exiting call close; the teardown must not run twice.
	s.close()
	s.close()

	if got := hub.RoomSize("a"); got != 0 {
		t.Fatalf("room a still has %d registrations", got)
	}
	if got := hub.RoomSize("b"); got != 0 {
		t.Fatalf("room b still has %d registrations", got)
	}
}

func TestSendToTargetsSingleSession(t *testing.T) {
	hub := newTestHub(t)
	s1 := newTestSession(hub, "u1")
	s2 := newTestSession(hub, "u2")
	hub.JoinRoom(s1, "general")
	hub.JoinRoom(s2, "general")

	hub.SendTo(s1, models.EventRoomJoined, "general", models.RoomRef{RoomID: "general"})

	ev := receiveEvent(t, s1)
	if ev.Type != models.EventRoomJoined {
		t.Fatalf("event type = %q", ev.Type)
	}
	assertNoEvent(t, s2)
}
