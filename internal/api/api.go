package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"rtchat/internal/auth"
	"rtchat/internal/errs"
	"rtchat/internal/models"

	"github.com/gin-gonic/gin"
)

// RoomService is the slice of the room store the HTTP layer needs.
type RoomService interface {
	Create(ctx context.Context, name, roomType, creatorID string, maxMembers int) (*models.Room, error)
	Get(ctx context.Context, id string) (*models.Room, error)
	ListForUser(ctx context.Context, userID string) ([]models.Room, error)
	UpdateSettings(ctx context.Context, id, name string, maxMembers int) error
	SetMemberRole(ctx context.Context, roomID, userID, role string) error
	Deactivate(ctx context.Context, id string) error
	TouchLastSeen(ctx context.Context, roomID, userID string) error
}

// MessageService is the slice of the message store the HTTP layer needs.
type MessageService interface {
	Get(ctx context.Context, id string) (*models.Message, error)
	ListPage(ctx context.Context, roomID string, page, limit int) ([]models.Message, error)
	Edit(ctx context.Context, id, userID, content string) (*models.Message, error)
	SoftDelete(ctx context.Context, id, userID string) error
	SetReaction(ctx context.Context, id, userID, emoji string) (*models.Message, error)
	RemoveReaction(ctx context.Context, id, userID string) (*models.Message, error)
	MarkRead(ctx context.Context, roomID, userID string, until time.Time) error
}

// Broadcaster fans message mutations out to connected room members.
type Broadcaster interface {
	PublishMessageUpdated(msg *models.Message)
	PublishMessageDeleted(roomID, messageID string)
}

type Handler struct {
	rooms     RoomService
	messages  MessageService
	broadcast Broadcaster
}

func NewHandler(rooms RoomService, messages MessageService, broadcast Broadcaster) *Handler {
	return &Handler{rooms: rooms, messages: messages, broadcast: broadcast}
}

// Register mounts the authenticated API surface.
func (h *Handler) Register(r *gin.Engine, verifier *auth.Verifier) {
	api := r.Group("/api", auth.Middleware(verifier))

	api.GET("/rooms", h.listRooms)
	api.POST("/rooms", h.createRoom)
	api.GET("/rooms/:id", h.getRoom)
	api.PATCH("/rooms/:id", h.updateRoom)
	api.DELETE("/rooms/:id", h.deleteRoom)
	api.PATCH("/rooms/:id/members/:userId", h.setMemberRole)
	api.GET("/rooms/:id/messages", h.listMessages)
	api.POST("/rooms/:id/read", h.markRead)

	api.PATCH("/messages/:id", h.editMessage)
	api.DELETE("/messages/:id", h.deleteMessage)
	api.POST("/messages/:id/reactions", h.setReaction)
	api.DELETE("/messages/:id/reactions", h.removeReaction)
}

func currentUser(c *gin.Context) *models.User {
	return c.MustGet(auth.ContextUserKey).(*models.User)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var e *errs.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindAuth:
		return http.StatusUnauthorized
	case errs.KindAuthorization:
		return http.StatusForbidden
	case errs.KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func abortWith(c *gin.Context, err error) {
	var e *errs.Error
	if !errors.As(err, &e) {
		e = errs.Wrap(errs.KindServer, "internal error", err)
	}
	c.AbortWithStatusJSON(statusFor(e), gin.H{"error": e})
}
