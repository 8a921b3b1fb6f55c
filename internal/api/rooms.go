package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"rtchat/internal/errs"
	"rtchat/internal/models"

	"github.com/gin-gonic/gin"
)

type createRoomRequest struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	MaxMembers int    `json:"maxMembers"`
}

type updateRoomRequest struct {
	Name       string `json:"name"`
	MaxMembers int    `json:"maxMembers"`
}

type setRoleRequest struct {
	Role string `json:"role"`
}

func (h *Handler) listRooms(c *gin.Context) {
	user := currentUser(c)
	rooms, err := h.rooms.ListForUser(c.Request.Context(), user.ID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *Handler) createRoom(c *gin.Context) {
	user := currentUser(c)

	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		abortWith(c, errs.New(errs.KindValidation, "name required"))
		return
	}
	switch req.Type {
	case "":
		req.Type = models.RoomTypePublic
	case models.RoomTypePublic, models.RoomTypePrivate, models.RoomTypeDirect:
	default:
		abortWith(c, errs.Newf(errs.KindValidation, "unknown room type %q", req.Type))
		return
	}

	room, err := h.rooms.Create(c.Request.Context(), req.Name, req.Type, user.ID, req.MaxMembers)
	if err != nil {
		abortWith(c, err)
		return
	}

	slog.Info("[API] Room created", "room", room.ID, "by", user.ID)
	c.JSON(http.StatusCreated, room)
}

func (h *Handler) getRoom(c *gin.Context) {
	user := currentUser(c)

	room, err := h.rooms.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	if room.Type != models.RoomTypePublic {
		if _, ok := room.Member(user.ID); !ok {
			abortWith(c, errs.New(errs.KindAuthorization, "not a member of this room"))
			return
		}
	}
	c.JSON(http.StatusOK, room)
}

func (h *Handler) updateRoom(c *gin.Context) {
	user := currentUser(c)
	roomID := c.Param("id")

	var req updateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, errs.New(errs.KindValidation, "invalid request body"))
		return
	}

	if err := h.requireRole(c, roomID, user.ID, models.RoleOwner, models.RoleAdmin); err != nil {
		abortWith(c, err)
		return
	}
	if err := h.rooms.UpdateSettings(c.Request.Context(), roomID, req.Name, req.MaxMembers); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteRoom(c *gin.Context) {
	user := currentUser(c)
	roomID := c.Param("id")

	if err := h.requireRole(c, roomID, user.ID, models.RoleOwner); err != nil {
		abortWith(c, err)
		return
	}
	if err := h.rooms.Deactivate(c.Request.Context(), roomID); err != nil {
		abortWith(c, err)
		return
	}

	slog.Info("[API] Room deactivated", "room", roomID, "by", user.ID)
	c.Status(http.StatusNoContent)
}

// setMemberRole promotes or demotes a member. Owner only; the owner role
// itself is not assignable here.
func (h *Handler) setMemberRole(c *gin.Context) {
	user := currentUser(c)
	roomID := c.Param("id")
	memberID := c.Param("userId")

	var req setRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, errs.New(errs.KindValidation, "invalid request body"))
		return
	}
	switch req.Role {
	case models.RoleAdmin, models.RoleMember:
	default:
		abortWith(c, errs.Newf(errs.KindValidation, "unknown role %q", req.Role))
		return
	}

	if err := h.requireRole(c, roomID, user.ID, models.RoleOwner); err != nil {
		abortWith(c, err)
		return
	}
	if err := h.rooms.SetMemberRole(c.Request.Context(), roomID, memberID, req.Role); err != nil {
		abortWith(c, err)
		return
	}

	slog.Info("[API] Member role changed", "room", roomID, "member", memberID, "role", req.Role, "by", user.ID)
	c.Status(http.StatusNoContent)
}

func (h *Handler) listMessages(c *gin.Context) {
	user := currentUser(c)
	roomID := c.Param("id")

	room, err := h.rooms.Get(c.Request.Context(), roomID)
	if err != nil {
		abortWith(c, err)
		return
	}
	if _, ok := room.Member(user.ID); !ok {
		abortWith(c, errs.New(errs.KindAuthorization, "not a member of this room"))
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	msgs, err := h.messages.ListPage(c.Request.Context(), roomID, page, limit)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "page": page})
}

// requireRole checks the caller holds one of the given roles in the room.
func (h *Handler) requireRole(c *gin.Context, roomID, userID string, roles ...string) error {
	room, err := h.rooms.Get(c.Request.Context(), roomID)
	if err != nil {
		return err
	}
	member, ok := room.Member(userID)
	if !ok {
		return errs.New(errs.KindAuthorization, "not a member of this room")
	}
	for _, role := range roles {
		if member.Role == role {
			return nil
		}
	}
	return errs.New(errs.KindAuthorization, "insufficient role")
}
