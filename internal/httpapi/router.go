package httpapi

import (
	"net/http"
	"time"

	"github.com/K3NXXX/social-network-backend/internal/common"
	"github.com/K3NXXX/social-network-backend/internal/httpapi/handlers"
	"github.com/K3NXXX/social-network-backend/internal/httpapi/middleware"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter mounts the REST surface and the websocket upgrade. ws is served
// outside the auth group because the gateway authenticates on its own.
func NewRouter(h *handlers.Handler, verifier middleware.Verifier, ws http.Handler) *gin.Engine {
	log := h.Log
	if log == nil {
		log = zap.NewNop()
		h.Log = log
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(log))
	r.Use(middleware.Recovery(log))
	if len(h.Cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     h.Cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
			ExposeHeaders:    []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.GET("/healthz", h.Healthz)
	if ws != nil {
		r.GET("/ws", gin.WrapH(ws))
	}

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(verifier))
	authGroup.GET("/chats", h.ListChats)
	authGroup.GET("/chats/direct/:user_id", h.GetDirectChat)
	authGroup.POST("/chats/groups", h.CreateGroupChat)
	authGroup.GET("/chats/:chat_id", h.GetChat)
	authGroup.GET("/chats/:chat_id/messages", h.ListChatMessages)
	authGroup.GET("/users/online", h.OnlineUsers)
	authGroup.GET("/notifications", h.ListNotifications)
	return r
}
