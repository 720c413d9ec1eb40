// Package gateway is the realtime websocket surface of the chat core: it
// authenticates sockets, tracks room subscriptions and fans events out.
package gateway

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/K3NXXX/social-network-backend/internal/apperr"
	"github.com/K3NXXX/social-network-backend/internal/auth"
	"github.com/K3NXXX/social-network-backend/internal/chat"
	"github.com/K3NXXX/social-network-backend/internal/common"
	"github.com/K3NXXX/social-network-backend/internal/notify"
	"github.com/K3NXXX/social-network-backend/internal/presence"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type IdentityVerifier interface {
	Verify(ctx context.Context, credential string) (string, error)
}

type MessagePipeline interface {
	Send(ctx context.Context, in chat.SendInput) (*chat.SendResult, error)
	MarkSeen(ctx context.Context, messageID, userID string) (string, error)
}

type RoomDirectory interface {
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
}

type LoginRecorder interface {
	UpdateLastLogin(ctx context.Context, userID string) error
}

type NotificationPublisher interface {
	PublishNotification(ctx context.Context, job notify.Job) error
}

// Deps are the collaborators of a Gateway. Logins and Notifier are optional.
type Deps struct {
	Verifier IdentityVerifier
	Messages MessagePipeline
	Rooms    RoomDirectory
	Presence *presence.Tracker
	Logins   LoginRecorder
	Notifier NotificationPublisher
	Logger   *zap.Logger
}

type Options struct {
	SendQueue        int
	HandshakeTimeout time.Duration
	EventTimeout     time.Duration
	PingInterval     time.Duration
	// AllowedOrigins empty allows any origin.
	AllowedOrigins []string
}

func DefaultOptions() Options {
	return Options{
		SendQueue:        64,
		HandshakeTimeout: 5 * time.Second,
		EventTimeout:     10 * time.Second,
		PingInterval:     25 * time.Second,
	}
}

type handlerFunc func(ctx context.Context, c *client, in Inbound) error

type Gateway struct {
	deps     Deps
	opts     Options
	log      *zap.Logger
	hub      *hub
	upgrader websocket.Upgrader
	handlers map[string]handlerFunc

	// mu orders wg.Add against Shutdown's wg.Wait.
	mu      sync.Mutex
	wg      sync.WaitGroup
	closing bool
}

func New(deps Deps, opts Options) *Gateway {
	def := DefaultOptions()
	if opts.SendQueue <= 0 {
		opts.SendQueue = def.SendQueue
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = def.HandshakeTimeout
	}
	if opts.EventTimeout <= 0 {
		opts.EventTimeout = def.EventTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Presence == nil {
		deps.Presence = presence.NewTracker(nil, nil, deps.Logger)
	}

	g := &Gateway{
		deps: deps,
		opts: opts,
		log:  deps.Logger.Named("gateway"),
		hub:  newHub(),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	g.handlers = map[string]handlerFunc{
		EventJoinRoom:    g.handleJoinRoom,
		EventLeaveRoom:   g.handleLeaveRoom,
		EventNewMessage:  g.handleNewMessage,
		EventMessageSeen: g.handleMessageSeen,
		EventPing:        g.handlePing,
		EventAuth:        g.handleReauth,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range g.opts.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !g.track() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer g.wg.Done()

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		g.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	g.serve(r, ws)
}

// track adds one unit of work to wg unless Shutdown has started.
func (g *Gateway) track() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return false
	}
	g.wg.Add(1)
	return true
}

func (g *Gateway) isClosing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closing
}

func credentialFromRequest(r *http.Request) string {
	if tok := auth.BearerToken(r.Header.Get("Authorization")); tok != "" {
		return tok
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func (g *Gateway) serve(r *http.Request, ws *websocket.Conn) {
	ws.SetReadLimit(maxMessageSize)

	userID, err := g.authenticate(r, ws)
	if err != nil {
		g.log.Info("handshake rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		g.rejectHandshake(ws)
		return
	}

	c := newClient(common.NewConnID(), userID, ws, g.opts.SendQueue, g.log)
	g.hub.add(c)
	go c.writePump(g.opts.PingInterval)
	// Shutdown may have taken its snapshot while this socket authenticated
	if g.isClosing() {
		c.close()
	}

	g.register(c)
	defer g.unregister(c)

	pongWait := g.opts.PingInterval * 2
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			g.logReadError(c, err)
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		g.dispatch(c, data)
	}
}

// authenticate resolves the user from the upgrade request or, failing that,
// from a first auth frame that must arrive within the handshake timeout.
func (g *Gateway) authenticate(r *http.Request, ws *websocket.Conn) (string, error) {
	ctx, cancel := context.WithTimeout(r.Context(), g.opts.HandshakeTimeout)
	defer cancel()

	if tok := credentialFromRequest(r); tok != "" {
		return g.deps.Verifier.Verify(ctx, tok)
	}

	_ = ws.SetReadDeadline(time.Now().Add(g.opts.HandshakeTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return "", errors.Wrap(err, "read auth frame")
	}
	in, err := DecodeInbound(data)
	if err != nil {
		return "", err
	}
	a, ok := in.(AuthEvent)
	if !ok {
		return "", errors.Errorf("expected auth frame, got %s", in.event())
	}
	return g.deps.Verifier.Verify(ctx, a.Token)
}

func (g *Gateway) rejectHandshake(ws *websocket.Conn) {
	if frame, err := Encode(EventError, ErrorPayload{Message: "Unauthorized", Code: apperr.Unauthorized.String()}); err == nil {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.WriteMessage(websocket.TextMessage, frame)
	}
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"),
		time.Now().Add(time.Second))
	_ = ws.Close()
}

func (g *Gateway) register(c *client) {
	becameOnline := g.deps.Presence.Register(c.userID, c.connID)
	g.log.Info("connection authenticated",
		zap.String("conn_id", c.connID),
		zap.String("user_id", c.userID),
		zap.Bool("became_online", becameOnline),
	)

	g.send(c, EventConnected, ConnectedPayload{UserID: c.userID, ConnID: c.connID})

	if !becameOnline {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.opts.EventTimeout)
	defer cancel()
	g.deps.Presence.MarkOnline(ctx, c.userID)
	if g.deps.Logins != nil {
		if err := g.deps.Logins.UpdateLastLogin(ctx, c.userID); err != nil {
			g.log.Warn("update last login", zap.String("user_id", c.userID), zap.Error(err))
		}
	}
	if frame, err := Encode(EventUserOnline, PresencePayload{UserID: c.userID}); err == nil {
		g.hub.broadcastAll(frame, c.connID)
	}
}

func (g *Gateway) unregister(c *client) {
	g.hub.remove(c.connID)
	c.close()

	userID, becameOffline, ok := g.deps.Presence.Unregister(c.connID)
	g.log.Info("connection closed",
		zap.String("conn_id", c.connID),
		zap.String("user_id", c.userID),
		zap.Bool("became_offline", becameOffline),
	)
	if !ok || !becameOffline {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.opts.EventTimeout)
	defer cancel()
	g.deps.Presence.MarkOffline(ctx, userID)
	if frame, err := Encode(EventUserOffline, PresencePayload{UserID: userID}); err == nil {
		g.hub.broadcastAll(frame, "")
	}
}

func (g *Gateway) logReadError(c *client, err error) {
	var ne net.Error
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		g.log.Debug("peer closed", zap.String("conn_id", c.connID))
	case errors.As(err, &ne) && ne.Timeout():
		g.log.Info("read timeout", zap.String("conn_id", c.connID))
	default:
		g.log.Debug("read error", zap.String("conn_id", c.connID), zap.Error(err))
	}
}

// dispatch runs one inbound frame to completion. It is only called from the
// connection's read loop, so events of one connection never overlap.
func (g *Gateway) dispatch(c *client, data []byte) {
	in, err := DecodeInbound(data)
	if err != nil {
		code := apperr.InvalidArgument.String()
		msg := "malformed event"
		if errors.Is(err, errUnknownEvent) {
			msg = "unknown event"
		}
		g.log.Debug("bad frame", zap.String("conn_id", c.connID), zap.Error(err))
		g.send(c, EventError, ErrorPayload{Message: msg, Code: code})
		return
	}

	h, ok := g.handlers[in.event()]
	if !ok {
		g.send(c, EventError, ErrorPayload{Message: "unknown event", Code: apperr.InvalidArgument.String()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.opts.EventTimeout)
	defer cancel()
	if err := h(ctx, c, in); err != nil {
		g.sendError(c, in.event(), err)
	}
}

func (g *Gateway) sendError(c *client, event string, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.Internal {
		g.log.Error("event failed",
			zap.String("event", event),
			zap.String("conn_id", c.connID),
			zap.String("user_id", c.userID),
			zap.Error(err),
		)
	} else {
		g.log.Debug("event rejected",
			zap.String("event", event),
			zap.String("conn_id", c.connID),
			zap.Error(err),
		)
	}
	g.send(c, EventError, ErrorPayload{Message: apperr.Message(err), Code: kind.String()})
}

func (g *Gateway) send(c *client, event string, data interface{}) {
	frame, err := Encode(event, data)
	if err != nil {
		g.log.Error("encode event", zap.String("event", event), zap.Error(err))
		return
	}
	c.enqueue(frame)
}

func (g *Gateway) handleJoinRoom(ctx context.Context, c *client, in Inbound) error {
	e := in.(RoomEvent)
	ok, err := g.deps.Rooms.IsParticipant(ctx, e.RoomID, c.userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.Forbidden, "you are not a participant of this chat")
	}
	g.hub.join(c.connID, e.RoomID)
	return nil
}

func (g *Gateway) handleLeaveRoom(_ context.Context, c *client, in Inbound) error {
	g.hub.leave(c.connID, in.(RoomEvent).RoomID)
	return nil
}

func (g *Gateway) handlePing(_ context.Context, c *client, _ Inbound) error {
	g.send(c, EventPong, struct{}{})
	return nil
}

// handleReauth rejects a second auth frame; identity is fixed for the life of a socket.
func (g *Gateway) handleReauth(_ context.Context, _ *client, _ Inbound) error {
	return apperr.New(apperr.InvalidArgument, "already authenticated")
}

func (g *Gateway) handleNewMessage(ctx context.Context, c *client, in Inbound) error {
	e := in.(NewMessageEvent)
	res, err := g.deps.Messages.Send(ctx, chat.SendInput{
		SenderID:   c.userID,
		ChatID:     e.ChatID,
		ReceiverID: e.ReceiverID,
		Content:    e.Content,
		ImageURL:   e.ImageURL,
	})
	if err != nil {
		return err
	}

	room := res.Chat.ID
	g.hub.join(c.connID, room)

	if res.ChatCreated {
		created, err := Encode(EventChatCreated, ChatCreatedPayload{
			ChatID:       room,
			IsGroup:      res.Chat.IsGroup,
			Participants: res.Chat.ParticipantIDs(),
			CreatedBy:    res.Sender,
		})
		if err != nil {
			return apperr.Internalf(err, "encode chat_created")
		}
		c.enqueue(created)
		for _, uid := range res.Chat.ParticipantIDs() {
			if uid == c.userID {
				continue
			}
			for _, connID := range g.deps.Presence.ConnectionsOf(uid) {
				if !g.hub.join(connID, room) {
					continue
				}
				if other := g.hub.get(connID); other != nil {
					other.enqueue(created)
				}
			}
		}
	}

	frame, err := Encode(EventMessage, newMessagePayload(res))
	if err != nil {
		return apperr.Internalf(err, "encode message")
	}
	delivered := g.hub.broadcast(room, frame)
	g.log.Debug("message fanned out",
		zap.String("chat_id", room),
		zap.String("message_id", res.Message.ID),
		zap.Int("connections", delivered),
	)

	g.notifyOffline(res)
	return nil
}

// notifyOffline queues a notification for every participant with no
// connection on this node. Fan-out is node-local, so a user the presence
// mirror reports online elsewhere still misses the live frame and must be
// notified. It runs detached so a slow broker never stalls the socket.
func (g *Gateway) notifyOffline(res *chat.SendResult) {
	if g.deps.Notifier == nil {
		return
	}
	var jobs []notify.Job
	for _, uid := range res.Chat.ParticipantIDs() {
		if uid == res.Message.SenderID || g.deps.Presence.Registry.IsOnline(uid) {
			continue
		}
		jobs = append(jobs, notify.Job{
			MessageID:   res.Message.ID,
			ChatID:      res.Chat.ID,
			SenderID:    res.Message.SenderID,
			RecipientID: uid,
		})
	}
	if len(jobs) == 0 {
		return
	}

	// the calling socket still holds its own wg unit, so this Add never races Wait
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), g.opts.EventTimeout)
		defer cancel()
		for _, job := range jobs {
			if err := g.deps.Notifier.PublishNotification(ctx, job); err != nil {
				g.log.Warn("publish notification",
					zap.String("message_id", job.MessageID),
					zap.String("recipient_id", job.RecipientID),
					zap.Error(err),
				)
			}
		}
	}()
}

func (g *Gateway) handleMessageSeen(ctx context.Context, c *client, in Inbound) error {
	e := in.(MessageSeenEvent)
	chatID, err := g.deps.Messages.MarkSeen(ctx, e.MessageID, c.userID)
	if err != nil {
		return err
	}
	frame, err := Encode(EventMessageSeen, SeenPayload{MessageID: e.MessageID, ChatID: chatID, UserID: c.userID})
	if err != nil {
		return apperr.Internalf(err, "encode message_seen")
	}
	g.hub.broadcast(chatID, frame)
	return nil
}

// ConnectionCount is the number of authenticated sockets on this node.
func (g *Gateway) ConnectionCount() int {
	return len(g.hub.snapshot())
}

// Shutdown stops accepting sockets, closes live ones and waits for their
// disconnect bookkeeping or ctx expiry.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	g.mu.Unlock()
	for _, c := range g.hub.snapshot() {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
