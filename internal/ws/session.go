package ws

import (
	"log/slog"
	"sync"
	"time"

	"rtchat/internal/models"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message
	writeWait = 10 * time.Second

	// Time allowed to read next pong message
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Max inbound frame size
	maxMessageSize = 64 * 1024 // 64 KB

	// Outbound buffer per session
	sendBufferSize = 256

	// Inbound frame budget per session
	inboundRate  = rate.Limit(20)
	inboundBurst = 40
)

// Session binds one live connection to one verified identity and tracks the
// rooms it has joined. Created after a successful handshake, destroyed on
// disconnect.
type Session struct {
	id   string
	user *models.User
	conn *websocket.Conn
	send chan []byte

	// joined room IDs; guarded by mu
	mu    sync.Mutex
	rooms map[string]bool

	// inbound frame limiter, per connection
	limiter *rate.Limiter

	server    *Server
	closeOnce sync.Once
}

func newSession(id string, user *models.User, conn *websocket.Conn, server *Server) *Session {
	return &Session{
		id:      id,
		user:    user,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		rooms:   make(map[string]bool),
		limiter: rate.NewLimiter(inboundRate, inboundBurst),
		server:  server,
	}
}

func (s *Session) UserID() string { return s.user.ID }

func (s *Session) UserName() string { return s.user.Name }

// InRoom reports whether the session has joined the room.
func (s *Session) InRoom(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[roomID]
}

// Rooms returns a snapshot of the joined room IDs.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	return out
}

func (s *Session) addRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomID] = true
}

func (s *Session) removeRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}

// enqueue hands a payload to the write pump. A session whose buffer is full
// is disconnected rather than allowed to stall the dispatch loop.
func (s *Session) enqueue(payload []byte) {
	select {
	case s.send <- payload:
	default:
		slog.Warn("[SESSION] Send buffer full, disconnecting", "user", s.UserID())
		s.close()
	}
}

// close tears the session down exactly once: deregisters it from every joined
// room and closes the transport, regardless of how many rooms were joined.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.server.hub.DropSession(s)
		if s.conn != nil {
			s.conn.Close()
		}
		slog.Info("[SESSION] Session closed", "user", s.UserID())
	})
}

// readPump pumps frames from the WebSocket to the server's handlers.
func (s *Session) readPump() {
	defer s.close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("[SESSION] Unexpected close", "user", s.UserID(), "error", err)
			}
			return
		}
		s.server.handleFrame(s, payload)
	}
}

// writePump pumps queued payloads from the hub to the WebSocket. One writer
// per connection keeps delivery single-threaded and ordered.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case payload := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				slog.Debug("[SESSION] Write failed", "user", s.UserID(), "error", err)
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("[SESSION] Ping failed", "user", s.UserID(), "error", err)
				return
			}
		}
	}
}
