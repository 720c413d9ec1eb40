package handlers

import (
	"net/http"
	"strings"

	"github.com/K3NXXX/social-network-backend/internal/apperr"
	"github.com/K3NXXX/social-network-backend/internal/common"
	"github.com/gin-gonic/gin"
)

const maxOnlineQueryIDs = 200

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func (h *Handler) Healthz(c *gin.Context) {
	conns := 0
	if h.Gateway != nil {
		conns = h.Gateway.ConnectionCount()
	}
	common.OK(c, gin.H{
		"node_id":      h.Cfg.NodeID,
		"connections":  conns,
		"online_users": len(h.Presence.OnlineUsers()),
	})
}

// GET /users/online?ids=a,b,c returns the subset that is online.
func (h *Handler) OnlineUsers(c *gin.Context) {
	if _, okk := h.requireUser(c); !okk {
		return
	}

	var ids []string
	seen := map[string]bool{}
	for _, id := range strings.Split(c.Query("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) > maxOnlineQueryIDs {
		common.Fail(c, http.StatusBadRequest, apperr.InvalidArgument.Code(), "too many ids")
		return
	}

	online := make([]string, 0, len(ids))
	for _, id := range ids {
		if h.Presence.IsOnline(id) {
			online = append(online, id)
		}
	}
	common.OK(c, gin.H{"online": online})
}

// GET /notifications?limit=
func (h *Handler) ListNotifications(c *gin.Context) {
	uid, okk := h.requireUser(c)
	if !okk {
		return
	}

	limit, ok := queryInt(c, "limit", 20)
	if !ok || limit > 100 {
		common.Fail(c, http.StatusBadRequest, apperr.InvalidArgument.Code(), "limit must be between 0 and 100")
		return
	}

	out, err := h.Notifications.ListForUser(c.Request.Context(), uid, limit)
	if err != nil {
		h.failErr(c, apperr.Internalf(err, "list notifications"))
		return
	}
	common.OK(c, gin.H{"notifications": out})
}
