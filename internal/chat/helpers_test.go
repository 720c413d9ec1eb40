package chat

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/K3NXXX/social-network-backend/internal/models"
	"github.com/K3NXXX/social-network-backend/internal/users"
	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(gormsqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// one connection serializes writers the way a single sqlite file would
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&models.User{}, &Chat{}, &Participant{}, &Message{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedUsers(t *testing.T, db *gorm.DB, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := db.Create(&models.User{ID: id, Username: "user_" + id}).Error; err != nil {
			t.Fatalf("seed user %s: %v", id, err)
		}
	}
}

type fakeOnline struct {
	mu     sync.Mutex
	online map[string]bool
}

func (f *fakeOnline) IsOnline(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID]
}

func (f *fakeOnline) set(userID string, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.online == nil {
		f.online = map[string]bool{}
	}
	f.online[userID] = v
}

// stepClock returns strictly increasing times so activity ordering is deterministic.
type stepClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newStepClock() *stepClock {
	return &stepClock{cur: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Second)
	return c.cur
}

type fixture struct {
	db       *gorm.DB
	repo     *Repo
	dir      *Directory
	pipe     *Pipeline
	online   *fakeOnline
	clock    *stepClock
	profiles *users.Directory
}

func newFixture(t *testing.T, userIDs ...string) *fixture {
	t.Helper()
	db := openTestDB(t)
	seedUsers(t, db, userIDs...)

	f := &fixture{
		db:       db,
		repo:     NewRepo(db),
		online:   &fakeOnline{},
		clock:    newStepClock(),
		profiles: users.NewDirectory(db),
	}
	f.dir = NewDirectory(f.repo, f.profiles, f.online, nil)
	f.dir.now = f.clock.Now
	f.pipe = NewPipeline(f.repo, f.dir, f.profiles, nil)
	f.pipe.now = f.clock.Now
	return f
}
