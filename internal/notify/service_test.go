package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/K3NXXX/social-network-backend/internal/apperr"
	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticNames map[string]string

func (s staticNames) DisplayName(_ context.Context, userID string) (string, error) {
	if n, ok := s[userID]; ok {
		return n, nil
	}
	return "", apperr.New(apperr.NotFound, "user not found")
}

// flakyNames fails every lookup the way a lost database connection would.
type flakyNames struct{}

func (flakyNames) DisplayName(context.Context, string) (string, error) {
	return "", apperr.Internalf(errors.New("connection reset"), "load user")
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(gormsqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&Notification{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestHandle_IsIdempotent(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	svc := NewService(repo, staticNames{"alice": "alice"})
	ctx := context.Background()

	job := Job{MessageID: "01MSG", ChatID: "01CHAT", SenderID: "alice", RecipientID: "bob"}
	first, err := svc.Handle(ctx, job)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if first.Text != "alice sent you a message" || first.Type != TypeNewMessage {
		t.Fatalf("unexpected notification %+v", first)
	}

	second, err := svc.Handle(ctx, job)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("redelivery must return the existing row, got %s and %s", first.ID, second.ID)
	}

	list, err := repo.ListForUser(ctx, "bob", 10)
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(list))
	}
}

func TestHandle_UnknownSenderAndBadJobs(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(NewRepo(db), staticNames{})
	ctx := context.Background()

	n, err := svc.Handle(ctx, Job{MessageID: "m1", ChatID: "c1", SenderID: "ghost", RecipientID: "bob"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if n.Text != "Someone sent you a message" {
		t.Fatalf("unexpected text %q", n.Text)
	}

	if _, err := svc.Handle(ctx, Job{ChatID: "c1", SenderID: "a", RecipientID: "b"}); !errors.Is(err, ErrBadJob) {
		t.Fatalf("expected ErrBadJob, got %v", err)
	}
}

func TestHandle_NameLookupFailureIsRetryable(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(NewRepo(db), flakyNames{})
	ctx := context.Background()

	_, err := svc.Handle(ctx, Job{MessageID: "m1", ChatID: "c1", SenderID: "alice", RecipientID: "bob"})
	if err == nil {
		t.Fatalf("expected the lookup error to surface")
	}
	if errors.Is(err, ErrBadJob) {
		t.Fatalf("transient failure must not be treated as a bad job: %v", err)
	}

	var n int64
	db.Model(&Notification{}).Count(&n)
	if n != 0 {
		t.Fatalf("no notification should be stored with a placeholder name, got %d", n)
	}
}
