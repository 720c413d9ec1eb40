package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/K3NXXX/social-network-backend/internal/auth"
	"github.com/K3NXXX/social-network-backend/internal/chat"
	"github.com/K3NXXX/social-network-backend/internal/config"
	"github.com/K3NXXX/social-network-backend/internal/db"
	"github.com/K3NXXX/social-network-backend/internal/gateway"
	"github.com/K3NXXX/social-network-backend/internal/httpapi"
	"github.com/K3NXXX/social-network-backend/internal/httpapi/handlers"
	"github.com/K3NXXX/social-network-backend/internal/logger"
	"github.com/K3NXXX/social-network-backend/internal/notify"
	"github.com/K3NXXX/social-network-backend/internal/presence"
	"github.com/K3NXXX/social-network-backend/internal/store/rabbitmq"
	"github.com/K3NXXX/social-network-backend/internal/store/redisstore"
	"github.com/K3NXXX/social-network-backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()
	log := logger.Init(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	gdb := db.Connect(cfg.DBDSN)

	var mirror presence.Mirror
	if cfg.RedisEnabled {
		rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.NodeID)
		pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := rds.Ping(pctx)
		cancel()
		if err != nil {
			// presence still works node-locally
			log.Warn("redis unavailable, presence mirror disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			_ = rds.Close()
		} else {
			defer rds.Close()
			mirror = rds
		}
	}

	var notifier gateway.NotificationPublisher
	if cfg.RabbitEnabled {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Warn("rabbitmq unavailable, offline notifications disabled", zap.Error(err))
		} else {
			defer pub.Close()
			notifier = pub
		}
	}

	userDir := users.NewDirectory(gdb)
	tracker := presence.NewTracker(presence.NewRegistry(), mirror, log.Named("presence"))
	repo := chat.NewRepo(gdb)
	chats := chat.NewDirectory(repo, userDir, tracker, log.Named("chat"))
	pipeline := chat.NewPipeline(repo, chats, userDir, log.Named("chat"))
	verifier := auth.NewVerifier(cfg.JWTSecret)

	gw := gateway.New(gateway.Deps{
		Verifier: verifier,
		Messages: pipeline,
		Rooms:    chats,
		Presence: tracker,
		Logins:   userDir,
		Notifier: notifier,
		Logger:   log,
	}, gateway.Options{
		SendQueue:        cfg.GatewaySendQueue,
		HandshakeTimeout: cfg.GatewayHandshakeTimeout,
		EventTimeout:     cfg.GatewayEventTimeout,
		PingInterval:     cfg.GatewayPingInterval,
		AllowedOrigins:   cfg.CORSOrigins,
	})

	h := &handlers.Handler{
		Cfg:           cfg,
		Chats:         chats,
		Messages:      pipeline,
		Presence:      tracker,
		Notifications: notify.NewRepo(gdb),
		Gateway:       gw,
		Log:           log.Named("http"),
	}
	r := httpapi.NewRouter(h, verifier, gw)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("server started", zap.String("addr", cfg.HTTPAddr), zap.String("node", cfg.NodeID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("server shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// sockets first: http.Server.Shutdown does not wait for hijacked connections
	if err := gw.Shutdown(sctx); err != nil {
		log.Warn("gateway shutdown", zap.Error(err))
	}
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
}
