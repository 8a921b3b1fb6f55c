package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"rtchat/internal/auth"
	"rtchat/internal/errs"
	"rtchat/internal/models"
	"rtchat/internal/ratelimit"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// opTimeout bounds the persistence work done inside a single frame handler.
const opTimeout = 5 * time.Second

// RoomDirectory is the slice of the room store the socket layer needs.
type RoomDirectory interface {
	Get(ctx context.Context, id string) (*models.Room, error)
	AddMember(ctx context.Context, roomID, userID string) error
	RemoveMember(ctx context.Context, roomID, userID string) error
	BumpActivity(ctx context.Context, roomID string) error
}

// MessageWriter is the slice of the message store the socket layer needs.
type MessageWriter interface {
	Insert(ctx context.Context, msg *models.Message) (*models.Message, error)
}

// IdentityVerifier resolves a bearer credential to an active user.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (*models.User, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Validate origin in production
		return true
	},
}

// Server authenticates inbound socket connections and routes their frames to
// the room operations.
type Server struct {
	hub      *Hub
	verifier IdentityVerifier
	rooms    RoomDirectory
	messages MessageWriter
	limiter  ratelimit.Limiter
}

func NewServer(hub *Hub, verifier IdentityVerifier, rooms RoomDirectory, messages MessageWriter, limiter ratelimit.Limiter) *Server {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	return &Server{
		hub:      hub,
		verifier: verifier,
		rooms:    rooms,
		messages: messages,
		limiter:  limiter,
	}
}

// ServeWS performs the handshake: the bearer credential is verified before
// the upgrade, so a failed handshake is an HTTP 401 and never becomes a
// session.
func (srv *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	remoteAddr := r.RemoteAddr

	token := auth.ExtractToken(r)
	if token == "" {
		slog.Warn("[WS] No token provided", "from", remoteAddr)
		http.Error(w, "Unauthorized: token required", http.StatusUnauthorized)
		return
	}

	user, err := srv.verifier.Verify(r.Context(), token)
	if err != nil {
		slog.Warn("[WS] Handshake verification failed", "from", remoteAddr, "error", err)
		http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("[WS] Failed to upgrade connection", "user", user.ID, "error", err)
		return
	}

	session := newSession(uuid.NewString(), user, conn, srv)
	slog.Info("[WS] Session established", "user", user.ID, "session", session.id, "from", remoteAddr)

	go session.writePump()
	go session.readPump()
}

// handleFrame decodes one inbound frame and dispatches it. The event set is
// closed: unknown types are logged and dropped.
func (srv *Server) handleFrame(s *Session, payload []byte) {
	var frame models.Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		slog.Warn("[WS] Malformed frame", "user", s.UserID(), "error", err)
		return
	}

	if !s.limiter.Allow() {
		slog.Warn("[WS] Inbound frame budget exceeded", "user", s.UserID())
		if frame.ID != "" {
			s.ack(frame.ID, errs.New(errs.KindRateLimit, "too many requests"), nil)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	switch frame.Type {
	case models.EventJoinRoom:
		srv.handleJoin(ctx, s, frame)
	case models.EventLeaveRoom:
		srv.handleLeave(ctx, s, frame)
	case models.EventSendMessage:
		srv.handleSend(ctx, s, frame)
	case models.EventTyping:
		srv.handleTyping(s, frame, true)
	case models.EventStopTyping:
		srv.handleTyping(s, frame, false)
	default:
		slog.Warn("[WS] Unknown frame type", "type", frame.Type, "user", s.UserID())
	}
}

func (srv *Server) handleJoin(ctx context.Context, s *Session, frame models.Frame) {
	var req models.RoomRef
	if err := json.Unmarshal(frame.Data, &req); err != nil || req.RoomID == "" {
		s.ack(frame.ID, errs.New(errs.KindValidation, "roomId required"), nil)
		return
	}

	// Membership and capacity are enforced in one conditional store update;
	// rejoining as an existing member is a no-op there.
	if err := srv.rooms.AddMember(ctx, req.RoomID, s.UserID()); err != nil {
		slog.Warn("[WS] Join rejected", "user", s.UserID(), "room", req.RoomID, "error", err)
		s.ack(frame.ID, err, nil)
		return
	}

	srv.hub.JoinRoom(s, req.RoomID)
	s.ack(frame.ID, nil, models.RoomRef{RoomID: req.RoomID})
	srv.hub.SendTo(s, models.EventRoomJoined, req.RoomID, models.RoomRef{RoomID: req.RoomID})
	srv.hub.Publish(req.RoomID, models.EventUserJoinedRoom, models.UserRoomData{
		UserID:   s.UserID(),
		UserName: s.UserName(),
		RoomID:   req.RoomID,
	}, s)

	slog.Info("[WS] User joined room", "user", s.UserID(), "room", req.RoomID)
}

func (srv *Server) handleLeave(ctx context.Context, s *Session, frame models.Frame) {
	var req models.RoomRef
	if err := json.Unmarshal(frame.Data, &req); err != nil || req.RoomID == "" {
		s.ack(frame.ID, errs.New(errs.KindValidation, "roomId required"), nil)
		return
	}

	if err := srv.rooms.RemoveMember(ctx, req.RoomID, s.UserID()); err != nil {
		slog.Error("[WS] Leave failed", "user", s.UserID(), "room", req.RoomID, "error", err)
		s.ack(frame.ID, errs.Wrap(errs.KindServer, "failed to leave room", err), nil)
		return
	}

	srv.hub.LeaveRoom(s, req.RoomID)
	s.ack(frame.ID, nil, models.RoomRef{RoomID: req.RoomID})
	srv.hub.SendTo(s, models.EventRoomLeft, req.RoomID, models.RoomRef{RoomID: req.RoomID})
	srv.hub.Publish(req.RoomID, models.EventUserLeftRoom, models.UserRoomData{
		UserID: s.UserID(),
		RoomID: req.RoomID,
	}, s)

	slog.Info("[WS] User left room", "user", s.UserID(), "room", req.RoomID)
}

func (srv *Server) handleSend(ctx context.Context, s *Session, frame models.Frame) {
	var req models.SendMessageData
	if err := json.Unmarshal(frame.Data, &req); err != nil || req.RoomID == "" {
		s.ack(frame.ID, errs.New(errs.KindValidation, "roomId required"), nil)
		return
	}
	if req.Content == "" {
		s.ack(frame.ID, errs.New(errs.KindValidation, "content required"), nil)
		return
	}
	if len(req.Content) > models.MaxContentLength {
		s.ack(frame.ID, errs.Newf(errs.KindValidation, "content exceeds %d characters", models.MaxContentLength), nil)
		return
	}
	if !s.InRoom(req.RoomID) {
		s.ack(frame.ID, errs.New(errs.KindAuthorization, "join the room before sending"), nil)
		return
	}

	if ok, _ := srv.limiter.Allow(ctx, s.UserID()); !ok {
		s.ack(frame.ID, errs.New(errs.KindRateLimit, "message rate limit exceeded"), nil)
		return
	}

	msg, err := srv.messages.Insert(ctx, &models.Message{
		RoomID:     req.RoomID,
		SenderID:   s.UserID(),
		SenderName: s.UserName(),
		Type:       req.Type,
		Content:    req.Content,
		Mentions:   req.Mentions,
		ReplyTo:    req.ReplyTo,
	})
	if err != nil {
		slog.Error("[WS] Failed to persist message", "user", s.UserID(), "room", req.RoomID, "error", err)
		s.ack(frame.ID, classify(err), nil)
		return
	}
	if err := srv.rooms.BumpActivity(ctx, req.RoomID); err != nil {
		slog.Warn("[WS] Failed to bump room activity", "room", req.RoomID, "error", err)
	}

	s.ack(frame.ID, nil, msg)
	// The sender is included: the record with its server-assigned ID is the
	// authoritative one, even if the sender rendered optimistically.
	srv.hub.Publish(req.RoomID, models.EventNewMessage, msg, nil)
}

func (srv *Server) handleTyping(s *Session, frame models.Frame, start bool) {
	var req models.RoomRef
	if err := json.Unmarshal(frame.Data, &req); err != nil || req.RoomID == "" {
		return
	}
	// Typing signals from rooms the session never joined are not relayed.
	if !s.InRoom(req.RoomID) {
		return
	}

	event := models.EventUserStoppedTyping
	if start {
		event = models.EventUserTyping
	}
	srv.hub.Publish(req.RoomID, event, models.UserRoomData{
		UserID:   s.UserID(),
		UserName: s.UserName(),
		RoomID:   req.RoomID,
	}, s)
}

// PublishMessageUpdated fans out an edit or reaction change to the room.
// Called by the HTTP layer after a successful mutation.
func (srv *Server) PublishMessageUpdated(msg *models.Message) {
	srv.hub.Publish(msg.RoomID, models.EventMessageUpdated, msg, nil)
}

// PublishMessageDeleted fans out a soft-delete to the room.
func (srv *Server) PublishMessageDeleted(roomID, messageID string) {
	srv.hub.Publish(roomID, models.EventMessageDeleted, models.MessageDeletedData{
		MessageID: messageID,
		RoomID:    roomID,
	}, nil)
}

// ack writes a correlated reply straight to the session's send queue; replies
// therefore reach the client before any broadcast triggered by the same
// request.
func (s *Session) ack(id string, opErr error, data interface{}) {
	if id == "" {
		return
	}
	reply := models.Ack{Type: models.EventAck, ID: id, Data: data}
	if opErr != nil {
		e := classify(opErr)
		reply.Error = &models.AckError{Kind: string(e.Kind), Message: e.Message}
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		slog.Error("[WS] Failed to marshal ack", "user", s.UserID(), "error", err)
		return
	}
	s.enqueue(payload)
}

// classify maps arbitrary operation failures onto the ack error taxonomy.
// Store errors that are not already classified count as server failures.
func classify(err error) *errs.Error {
	var e *errs.Error
	if errors.As(err, &e) {
		return e
	}
	return errs.Wrap(errs.KindServer, "internal error", err)
}
