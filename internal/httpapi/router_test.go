package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/K3NXXX/social-network-backend/internal/chat"
	"github.com/K3NXXX/social-network-backend/internal/common"
	"github.com/K3NXXX/social-network-backend/internal/config"
	"github.com/K3NXXX/social-network-backend/internal/httpapi/handlers"
	"github.com/K3NXXX/social-network-backend/internal/models"
	"github.com/K3NXXX/social-network-backend/internal/notify"
	"github.com/K3NXXX/social-network-backend/internal/presence"
	"github.com/K3NXXX/social-network-backend/internal/users"
	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type tokenVerifier struct{}

func (tokenVerifier) Verify(_ context.Context, credential string) (string, error) {
	if !strings.HasPrefix(credential, "tok-") || len(credential) == len("tok-") {
		return "", errors.New("invalid token")
	}
	return strings.TrimPrefix(credential, "tok-"), nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type apiEnv struct {
	t       *testing.T
	db      *gorm.DB
	router  *gin.Engine
	pipe    *chat.Pipeline
	tracker *presence.Tracker
}

type countingGateway struct{ n int }

func (g countingGateway) ConnectionCount() int { return g.n }

func newAPIEnv(t *testing.T, userIDs ...string) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(gormsqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.User{}, &chat.Chat{}, &chat.Participant{}, &chat.Message{}, &notify.Notification{}))
	for _, id := range userIDs {
		require.NoError(t, db.Create(&models.User{ID: id, Username: id}).Error)
	}

	userDir := users.NewDirectory(db)
	tracker := presence.NewTracker(nil, nil, nil)
	repo := chat.NewRepo(db)
	dir := chat.NewDirectory(repo, userDir, tracker, nil)
	pipe := chat.NewPipeline(repo, dir, userDir, nil)

	h := &handlers.Handler{
		Cfg: config.Config{
			NodeID:          "test-node",
			ChatPageSize:    20,
			MessagePageSize: 30,
			CORSOrigins:     []string{"http://localhost:3000"},
		},
		Chats:         dir,
		Messages:      pipe,
		Presence:      tracker,
		Notifications: notify.NewRepo(db),
		Gateway:       countingGateway{n: 3},
	}
	return &apiEnv{t: t, db: db, router: NewRouter(h, tokenVerifier{}, nil), pipe: pipe, tracker: tracker}
}

func (e *apiEnv) do(method, path, user, body string) (int, envelope) {
	e.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer tok-"+user)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(e.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func TestPublicRoutes(t *testing.T) {
	e := newAPIEnv(t)

	status, env := e.do(http.MethodGet, "/ping", "", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 0, env.Code)

	e.tracker.Register("alice", "c1")
	status, env = e.do(http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, status)
	var health struct {
		NodeID      string `json:"node_id"`
		Connections int    `json:"connections"`
		OnlineUsers int    `json:"online_users"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &health))
	require.Equal(t, "test-node", health.NodeID)
	require.Equal(t, 3, health.Connections)
	require.Equal(t, 1, health.OnlineUsers)

	status, env = e.do(http.MethodGet, "/nope", "", "")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, 40400, env.Code)
}

func TestAuthGroupRejectsAnonymous(t *testing.T) {
	e := newAPIEnv(t)
	for _, path := range []string{"/chats", "/users/online", "/notifications", "/chats/x/messages"} {
		status, env := e.do(http.MethodGet, path, "", "")
		require.Equal(t, http.StatusUnauthorized, status, path)
		require.NotZero(t, env.Code, path)
	}
}

func TestGroupChatLifecycle(t *testing.T) {
	e := newAPIEnv(t, "alice", "bob", "carol", "dave")
	e.tracker.Register("bob", "c-bob")

	status, env := e.do(http.MethodPost, "/chats/groups", "alice", `{"name":"  trip  ","participant_ids":["bob","carol","bob"]}`)
	require.Equal(t, http.StatusCreated, status, env.Message)
	var created chat.Summary
	require.NoError(t, json.Unmarshal(env.Data, &created))
	require.True(t, created.IsGroup)
	require.NotNil(t, created.Name)
	require.Equal(t, "trip", *created.Name)
	require.Len(t, created.Participants, 3)
	for _, p := range created.Participants {
		require.Equal(t, p.ID == "bob", p.IsOnline, p.ID)
	}

	status, env = e.do(http.MethodGet, "/chats", "carol", "")
	require.Equal(t, http.StatusOK, status)
	var page chat.ChatPage
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Chats, 1)
	require.Equal(t, created.ID, page.Chats[0].ID)
	require.False(t, page.HasMore)

	status, env = e.do(http.MethodGet, "/chats/"+created.ID, "dave", "")
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, 40301, env.Code)

	status, _ = e.do(http.MethodGet, "/chats/missing", "alice", "")
	require.Equal(t, http.StatusNotFound, status)

	_, err := e.pipe.Send(context.Background(), chat.SendInput{SenderID: "bob", ChatID: created.ID, Content: "hello"})
	require.NoError(t, err)

	status, env = e.do(http.MethodGet, "/chats/"+created.ID+"/messages?limit=10", "alice", "")
	require.Equal(t, http.StatusOK, status)
	var msgs chat.MessagePage
	require.NoError(t, json.Unmarshal(env.Data, &msgs))
	require.Len(t, msgs.Messages, 1)
	require.Equal(t, "hello", msgs.Messages[0].Content)
	require.False(t, msgs.HasMore)
	require.Empty(t, msgs.NextCursor)
}

func TestCreateGroupValidation(t *testing.T) {
	e := newAPIEnv(t, "alice", "bob")

	status, env := e.do(http.MethodPost, "/chats/groups", "alice", `{`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "invalid json", env.Message)

	status, _ = e.do(http.MethodPost, "/chats/groups", "alice", `{"name":"solo","participant_ids":[]}`)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = e.do(http.MethodPost, "/chats/groups", "alice", `{"name":"x","participant_ids":["ghost"]}`)
	require.Equal(t, http.StatusNotFound, status)
}

func TestDirectChatLookup(t *testing.T) {
	e := newAPIEnv(t, "alice", "bob")

	status, env := e.do(http.MethodGet, "/chats/direct/bob", "alice", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "null", string(env.Data))

	res, err := e.pipe.Send(context.Background(), chat.SendInput{SenderID: "alice", ReceiverID: "bob", Content: "hi"})
	require.NoError(t, err)

	status, env = e.do(http.MethodGet, "/chats/direct/alice", "bob", "")
	require.Equal(t, http.StatusOK, status)
	var s chat.Summary
	require.NoError(t, json.Unmarshal(env.Data, &s))
	require.Equal(t, res.Chat.ID, s.ID)
	require.NotNil(t, s.LastMessage)
	require.Equal(t, "hi", s.LastMessage.Content)

	status, _ = e.do(http.MethodGet, "/chats/direct/alice", "alice", "")
	require.Equal(t, http.StatusBadRequest, status)
}

func TestListChatsPaging(t *testing.T) {
	e := newAPIEnv(t, "alice")

	status, env := e.do(http.MethodGet, "/chats?page_size=101", "alice", "")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, 40001, env.Code)

	status, _ = e.do(http.MethodGet, "/chats?page=abc", "alice", "")
	require.Equal(t, http.StatusBadRequest, status)

	status, env = e.do(http.MethodGet, "/chats", "alice", "")
	require.Equal(t, http.StatusOK, status)
	var page chat.ChatPage
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Empty(t, page.Chats)
	require.Equal(t, 1, page.Page)
}

func TestOnlineUsers(t *testing.T) {
	e := newAPIEnv(t, "alice")
	e.tracker.Register("bob", "c1")

	status, env := e.do(http.MethodGet, "/users/online?ids=bob,%20carol,,bob", "alice", "")
	require.Equal(t, http.StatusOK, status)
	var out struct {
		Online []string `json:"online"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.Equal(t, []string{"bob"}, out.Online)
}

func TestListNotifications(t *testing.T) {
	e := newAPIEnv(t, "alice", "bob")
	id, err := common.NewULID()
	require.NoError(t, err)
	require.NoError(t, e.db.Create(&notify.Notification{
		ID:        id,
		UserID:    "bob",
		SenderID:  "alice",
		Type:      notify.TypeNewMessage,
		ChatID:    "chat",
		MessageID: "msg",
		Text:      "alice sent you a message",
	}).Error)

	status, env := e.do(http.MethodGet, "/notifications", "bob", "")
	require.Equal(t, http.StatusOK, status)
	var out struct {
		Notifications []notify.Notification `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.Len(t, out.Notifications, 1)
	require.Equal(t, "alice sent you a message", out.Notifications[0].Text)

	status, env = e.do(http.MethodGet, "/notifications", "alice", "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.Empty(t, out.Notifications)

	status, _ = e.do(http.MethodGet, "/notifications?limit=500", "bob", "")
	require.Equal(t, http.StatusBadRequest, status)
}
