package handlers

import (
	"net/http"
	"strconv"

	"github.com/K3NXXX/social-network-backend/internal/apperr"
	"github.com/K3NXXX/social-network-backend/internal/common"
	"github.com/gin-gonic/gin"
)

// queryInt returns def for a missing parameter and ok=false for a malformed one.
func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// GET /chats?page=&page_size=
func (h *Handler) ListChats(c *gin.Context) {
	uid, okk := h.requireUser(c)
	if !okk {
		return
	}

	page, ok1 := queryInt(c, "page", 1)
	size, ok2 := queryInt(c, "page_size", h.Cfg.ChatPageSize)
	if !ok1 || !ok2 {
		common.Fail(c, http.StatusBadRequest, apperr.InvalidArgument.Code(), "page and page_size must be non-negative integers")
		return
	}

	out, err := h.Chats.ListForUser(c.Request.Context(), uid, page, size)
	if err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, out)
}

// GET /chats/:chat_id
func (h *Handler) GetChat(c *gin.Context) {
	uid, okk := h.requireUser(c)
	if !okk {
		return
	}

	s, err := h.Chats.GetForUser(c.Request.Context(), c.Param("chat_id"), uid)
	if err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, s)
}

// GET /chats/:chat_id/messages?cursor=&limit=
func (h *Handler) ListChatMessages(c *gin.Context) {
	uid, okk := h.requireUser(c)
	if !okk {
		return
	}

	limit, ok := queryInt(c, "limit", h.Cfg.MessagePageSize)
	if !ok {
		common.Fail(c, http.StatusBadRequest, apperr.InvalidArgument.Code(), "limit must be a non-negative integer")
		return
	}

	page, err := h.Messages.List(c.Request.Context(), c.Param("chat_id"), uid, c.Query("cursor"), limit)
	if err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, page)
}

// GET /chats/direct/:user_id answers null when the two users never talked.
func (h *Handler) GetDirectChat(c *gin.Context) {
	uid, okk := h.requireUser(c)
	if !okk {
		return
	}

	ch, err := h.Chats.FindDirect(c.Request.Context(), uid, c.Param("user_id"))
	if apperr.KindOf(err) == apperr.NotFound {
		common.OK(c, nil)
		return
	}
	if err != nil {
		h.failErr(c, err)
		return
	}

	s, err := h.Chats.GetForUser(c.Request.Context(), ch.ID, uid)
	if err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, s)
}

type createGroupReq struct {
	Name           string   `json:"name" binding:"required"`
	ParticipantIDs []string `json:"participant_ids"`
}

// POST /chats/groups
func (h *Handler) CreateGroupChat(c *gin.Context) {
	uid, okk := h.requireUser(c)
	if !okk {
		return
	}

	var req createGroupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, apperr.InvalidArgument.Code(), "invalid json")
		return
	}

	created, err := h.Chats.CreateGroup(c.Request.Context(), uid, req.Name, req.ParticipantIDs)
	if err != nil {
		h.failErr(c, err)
		return
	}

	s, err := h.Chats.GetForUser(c.Request.Context(), created.ID, uid)
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, common.Response{Code: 0, Message: "ok", Data: s})
}
