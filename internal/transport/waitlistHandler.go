package transport

import (
	"net/http"
	"strings"

	"github.com/ds124wfegd/cca-waitlist/internal/entity"
	"github.com/ds124wfegd/cca-waitlist/internal/service"
	"github.com/ds124wfegd/cca-waitlist/internal/transport/middleware"

	"github.com/gin-gonic/gin"
)

type WaitlistHandler struct {
	waitlistService service.WaitlistService
}

func NewWaitlistHandler(waitlistService service.WaitlistService) *WaitlistHandler {
	return &WaitlistHandler{waitlistService: waitlistService}
}

// CancelRequest тело DELETE /events/:id/waitlist, user_id можно передать и в query
type CancelRequest struct {
	UserID string `json:"user_id"`
}

type ClearExpiredRequest struct {
	EventID string `json:"event_id" binding:"required"`
}

// WaitlistResponse очередь мероприятия
type WaitlistResponse struct {
	EventID  string                     `json:"event_id"`
	Waitlist []*entity.WaitlistPosition `json:"waitlist"`
}

type PromoteResponse struct {
	Message string                `json:"message"`
	Entry   *entity.WaitlistEntry `json:"entry"`
}

func (h *WaitlistHandler) Join(c *gin.Context) {
	if _, err := h.waitlistService.Join(c.Request.Context(), c.Param("id"), middleware.ActorID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "added to waitlist"})
}

func (h *WaitlistHandler) Cancel(c *gin.Context) {
	target := strings.TrimSpace(c.Query("user_id"))
	if target == "" && c.Request.ContentLength > 0 {
		var req CancelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
			return
		}
		target = strings.TrimSpace(req.UserID)
	}

	if err := h.waitlistService.Cancel(c.Request.Context(), c.Param("id"), target, middleware.ActorID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "removed from waitlist"})
}

func (h *WaitlistHandler) Accept(c *gin.Context) {
	if err := h.waitlistService.Accept(c.Request.Context(), c.Param("id"), middleware.ActorID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "promotion accepted, you are signed up"})
}

func (h *WaitlistHandler) Unsign(c *gin.Context) {
	if err := h.waitlistService.Unsign(c.Request.Context(), c.Param("id"), middleware.ActorID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "signup removed"})
}

func (h *WaitlistHandler) List(c *gin.Context) {
	eventID := c.Param("id")
	positions, err := h.waitlistService.ListWaitlist(c.Request.Context(), eventID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, WaitlistResponse{EventID: eventID, Waitlist: positions})
}

func (h *WaitlistHandler) MyStatus(c *gin.Context) {
	view, err := h.waitlistService.MyStatus(c.Request.Context(), c.Param("id"), middleware.ActorID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *WaitlistHandler) Promote(c *gin.Context) {
	entry, err := h.waitlistService.ManualPromote(c.Request.Context(), c.Param("waitlist_id"), middleware.ActorID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, PromoteResponse{Message: "promotion offered", Entry: entry})
}

func (h *WaitlistHandler) Revoke(c *gin.Context) {
	if err := h.waitlistService.Revoke(c.Request.Context(), c.Param("waitlist_id"), middleware.ActorID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "promotion revoked"})
}

func (h *WaitlistHandler) ClearExpired(c *gin.Context) {
	var req ClearExpiredRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "event_id is required"})
		return
	}

	err := h.waitlistService.ClearExpiredAndPromote(c.Request.Context(), c.Param("waitlist_id"), req.EventID, middleware.ActorID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "expired entry cleared"})
}
