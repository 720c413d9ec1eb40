package handlers

import (
	"net/http"

	"github.com/K3NXXX/social-network-backend/internal/apperr"
	"github.com/K3NXXX/social-network-backend/internal/chat"
	"github.com/K3NXXX/social-network-backend/internal/common"
	"github.com/K3NXXX/social-network-backend/internal/config"
	"github.com/K3NXXX/social-network-backend/internal/httpapi/middleware"
	"github.com/K3NXXX/social-network-backend/internal/notify"
	"github.com/K3NXXX/social-network-backend/internal/presence"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ConnectionCounter is the slice of the websocket gateway the health check reads.
type ConnectionCounter interface {
	ConnectionCount() int
}

type Handler struct {
	Cfg           config.Config
	Chats         *chat.Directory
	Messages      *chat.Pipeline
	Presence      *presence.Tracker
	Notifications *notify.Repo
	Gateway       ConnectionCounter
	Log           *zap.Logger
}

func userIDFromContext(c *gin.Context) (string, bool) {
	return middleware.UserID(c)
}

// failErr maps a domain error onto the response envelope. Internal details
// are logged, never returned.
func (h *Handler) failErr(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.Internal {
		h.Log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(middleware.RequestIDKey)),
			zap.Error(err),
		)
	}
	common.Fail(c, kind.HTTPStatus(), kind.Code(), apperr.Message(err))
}

func (h *Handler) requireUser(c *gin.Context) (string, bool) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, apperr.Unauthorized.Code(), "unauthorized")
		return "", false
	}
	return uid, true
}
