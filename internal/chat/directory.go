package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/K3NXXX/social-network-backend/internal/apperr"
	"github.com/K3NXXX/social-network-backend/internal/common"
	"github.com/K3NXXX/social-network-backend/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultChatPageSize = 20
	MaxPageSize         = 100
	maxGroupNameLen     = 128
)

// UserStore is the subset of the user directory the chat core reads.
type UserStore interface {
	Exists(ctx context.Context, userID string) (bool, error)
	Profiles(ctx context.Context, userIDs []string) (map[string]models.UserProfile, error)
}

// OnlineChecker answers live presence; satisfied by presence.Registry.
type OnlineChecker interface {
	IsOnline(userID string) bool
}

type Directory struct {
	repo   *Repo
	users  UserStore
	online OnlineChecker
	log    *zap.Logger
	now    func() time.Time
}

func NewDirectory(repo *Repo, users UserStore, online OnlineChecker, log *zap.Logger) *Directory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Directory{repo: repo, users: users, online: online, log: log, now: time.Now}
}

// GetOrCreateDirect returns the unique 1:1 chat between initiator and other,
// creating it when absent. created is true only for the caller that inserted it.
func (d *Directory) GetOrCreateDirect(ctx context.Context, initiatorID, otherID string) (*Chat, bool, error) {
	initiatorID = strings.TrimSpace(initiatorID)
	otherID = strings.TrimSpace(otherID)
	if initiatorID == "" {
		return nil, false, apperr.ErrUnauthorized
	}
	if otherID == "" {
		return nil, false, apperr.New(apperr.InvalidArgument, "receiver_id is required")
	}
	if initiatorID == otherID {
		return nil, false, apperr.New(apperr.InvalidArgument, "cannot create chat with yourself")
	}

	key := directKey(initiatorID, otherID)
	existing, err := d.repo.GetDirectChat(ctx, key)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, apperr.Internalf(err, "find direct chat %s", key)
	}

	ok, err := d.users.Exists(ctx, otherID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, apperr.New(apperr.NotFound, "user not found")
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, false, apperr.Internalf(err, "new chat id")
	}
	now := d.now()
	c := &Chat{
		ID:        id,
		CreatorID: initiatorID,
		DirectKey: &key,
		CreatedAt: now,
		UpdatedAt: now,
	}

	out, created, err := d.repo.CreateDirectOrGetExisting(ctx, c, []string{initiatorID, otherID})
	if err != nil {
		return nil, false, apperr.Internalf(err, "create direct chat %s", key)
	}
	if created {
		d.log.Info("direct chat created",
			zap.String("chat_id", out.ID),
			zap.String("initiator", initiatorID),
			zap.String("other", otherID),
		)
	}
	return out, created, nil
}

// FindDirect looks up the 1:1 chat between a and b without creating it.
func (d *Directory) FindDirect(ctx context.Context, a, b string) (*Chat, error) {
	if a == "" || b == "" || a == b {
		return nil, apperr.New(apperr.InvalidArgument, "two distinct users are required")
	}
	c, err := d.repo.GetDirectChat(ctx, directKey(a, b))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.NotFound, "chat not found")
	}
	if err != nil {
		return nil, apperr.Internalf(err, "find direct chat")
	}
	return c, nil
}

// CreateGroup creates a named chat. The creator is always a participant and
// at least two distinct users must end up in it.
func (d *Directory) CreateGroup(ctx context.Context, creatorID, name string, participantIDs []string) (*Chat, error) {
	if creatorID == "" {
		return nil, apperr.ErrUnauthorized
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.New(apperr.InvalidArgument, "name is required")
	}
	if len(name) > maxGroupNameLen {
		return nil, apperr.Newf(apperr.InvalidArgument, "name must be at most %d characters", maxGroupNameLen)
	}

	seen := map[string]bool{creatorID: true}
	members := []string{creatorID}
	for _, uid := range participantIDs {
		uid = strings.TrimSpace(uid)
		if uid == "" || seen[uid] {
			continue
		}
		seen[uid] = true
		members = append(members, uid)
	}
	if len(members) < 2 {
		return nil, apperr.New(apperr.InvalidArgument, "a group needs at least one other participant")
	}

	profiles, err := d.users.Profiles(ctx, members[1:])
	if err != nil {
		return nil, err
	}
	for _, uid := range members[1:] {
		if _, ok := profiles[uid]; !ok {
			return nil, apperr.Newf(apperr.NotFound, "user %s not found", uid)
		}
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, apperr.Internalf(err, "new chat id")
	}
	now := d.now()
	c := &Chat{
		ID:        id,
		CreatorID: creatorID,
		IsGroup:   true,
		Name:      &name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.repo.CreateChat(ctx, c, members); err != nil {
		return nil, apperr.Internalf(err, "create group chat")
	}

	d.log.Info("group chat created",
		zap.String("chat_id", c.ID),
		zap.String("creator", creatorID),
		zap.Int("participants", len(members)),
	)
	return c, nil
}

func (d *Directory) GetByID(ctx context.Context, chatID string) (*Chat, error) {
	if chatID == "" {
		return nil, apperr.New(apperr.InvalidArgument, "chat_id is required")
	}
	c, err := d.repo.GetChat(ctx, chatID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.NotFound, "chat not found")
	}
	if err != nil {
		return nil, apperr.Internalf(err, "load chat %s", chatID)
	}
	return c, nil
}

func (d *Directory) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	ok, err := d.repo.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return false, apperr.Internalf(err, "check participant %s in %s", userID, chatID)
	}
	return ok, nil
}

// GetForUser returns one chat summary, visible only to its participants.
func (d *Directory) GetForUser(ctx context.Context, chatID, userID string) (*Summary, error) {
	c, err := d.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, apperr.New(apperr.Forbidden, "you are not a participant of this chat")
	}
	out, err := d.summarize(ctx, []Chat{*c})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// ListForUser pages through the user's chats, most recently active first.
// page is 1-based.
func (d *Directory) ListForUser(ctx context.Context, userID string, page, pageSize int) (ChatPage, error) {
	if userID == "" {
		return ChatPage{}, apperr.ErrUnauthorized
	}
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultChatPageSize
	}
	if pageSize > MaxPageSize {
		return ChatPage{}, apperr.Newf(apperr.InvalidArgument, "page_size must be <= %d", MaxPageSize)
	}

	chats, err := d.repo.ListChatsForUser(ctx, userID, (page-1)*pageSize, pageSize+1)
	if err != nil {
		return ChatPage{}, apperr.Internalf(err, "list chats for %s", userID)
	}

	hasMore := len(chats) > pageSize
	if hasMore {
		chats = chats[:pageSize]
	}

	summaries, err := d.summarize(ctx, chats)
	if err != nil {
		return ChatPage{}, err
	}
	return ChatPage{Chats: summaries, Page: page, HasMore: hasMore}, nil
}

func (d *Directory) summarize(ctx context.Context, chats []Chat) ([]Summary, error) {
	out := make([]Summary, 0, len(chats))
	if len(chats) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(chats))
	userSet := map[string]struct{}{}
	for _, c := range chats {
		ids = append(ids, c.ID)
		for _, p := range c.Participants {
			userSet[p.UserID] = struct{}{}
		}
	}
	userIDs := make([]string, 0, len(userSet))
	for uid := range userSet {
		userIDs = append(userIDs, uid)
	}
	sort.Strings(userIDs)

	profiles, err := d.users.Profiles(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	last, err := d.repo.LastMessages(ctx, ids)
	if err != nil {
		return nil, apperr.Internalf(err, "load last messages")
	}

	for _, c := range chats {
		s := Summary{
			ID:           c.ID,
			IsGroup:      c.IsGroup,
			Name:         c.Name,
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
			Participants: make([]ParticipantView, 0, len(c.Participants)),
		}
		for _, p := range c.Participants {
			prof, ok := profiles[p.UserID]
			if !ok {
				prof = models.UserProfile{ID: p.UserID}
			}
			s.Participants = append(s.Participants, ParticipantView{
				UserProfile: prof,
				IsOnline:    d.online != nil && d.online.IsOnline(p.UserID),
			})
		}
		if m, ok := last[c.ID]; ok {
			s.LastMessage = &m
		}
		out = append(out, s)
	}
	return out, nil
}
