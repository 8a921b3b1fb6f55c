package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"rtchat/internal/errs"

	"github.com/gin-gonic/gin"
)

type editMessageRequest struct {
	Content string `json:"content"`
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

type markReadRequest struct {
	// Read everything created at or before this instant; zero means now.
	Until time.Time `json:"until"`
}

func (h *Handler) editMessage(c *gin.Context) {
	user := currentUser(c)

	var req editMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Content == "" {
		abortWith(c, errs.New(errs.KindValidation, "content required"))
		return
	}

	msg, err := h.messages.Edit(c.Request.Context(), c.Param("id"), user.ID, req.Content)
	if err != nil {
		abortWith(c, err)
		return
	}

	h.broadcast.PublishMessageUpdated(msg)
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) deleteMessage(c *gin.Context) {
	user := currentUser(c)
	messageID := c.Param("id")

	msg, err := h.messages.Get(c.Request.Context(), messageID)
	if err != nil {
		abortWith(c, err)
		return
	}
	if err := h.messages.SoftDelete(c.Request.Context(), messageID, user.ID); err != nil {
		abortWith(c, err)
		return
	}

	h.broadcast.PublishMessageDeleted(msg.RoomID, messageID)
	slog.Info("[API] Message soft-deleted", "message", messageID, "by", user.ID)
	c.Status(http.StatusNoContent)
}

func (h *Handler) setReaction(c *gin.Context) {
	user := currentUser(c)

	var req reactionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Emoji == "" {
		abortWith(c, errs.New(errs.KindValidation, "emoji required"))
		return
	}

	msg, err := h.messages.SetReaction(c.Request.Context(), c.Param("id"), user.ID, req.Emoji)
	if err != nil {
		abortWith(c, err)
		return
	}

	h.broadcast.PublishMessageUpdated(msg)
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) removeReaction(c *gin.Context) {
	user := currentUser(c)

	msg, err := h.messages.RemoveReaction(c.Request.Context(), c.Param("id"), user.ID)
	if err != nil {
		abortWith(c, err)
		return
	}

	h.broadcast.PublishMessageUpdated(msg)
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) markRead(c *gin.Context) {
	user := currentUser(c)
	roomID := c.Param("id")

	// An absent body means "read up to now"; a body that is present but
	// malformed is rejected.
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		abortWith(c, errs.New(errs.KindValidation, "invalid request body"))
		return
	}
	if req.Until.IsZero() {
		req.Until = time.Now().UTC()
	}

	if err := h.messages.MarkRead(c.Request.Context(), roomID, user.ID, req.Until); err != nil {
		abortWith(c, err)
		return
	}
	if err := h.rooms.TouchLastSeen(c.Request.Context(), roomID, user.ID); err != nil {
		slog.Warn("[API] Failed to touch last seen", "room", roomID, "user", user.ID, "error", err)
	}
	c.Status(http.StatusNoContent)
}
