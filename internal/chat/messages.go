package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/K3NXXX/social-network-backend/internal/apperr"
	"github.com/K3NXXX/social-network-backend/internal/common"
	"github.com/K3NXXX/social-network-backend/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultMessagePageSize = 30
	maxImageURLLen         = 512
)

type SendInput struct {
	SenderID string
	// ChatID targets an existing chat; when empty ReceiverID opens (or reuses)
	// the direct chat with that user.
	ChatID     string
	ReceiverID string
	Content    string
	ImageURL   string
}

type SendResult struct {
	Message     *Message
	Chat        *Chat
	ChatCreated bool
	Sender      models.UserProfile
}

// Pipeline validates, persists and reads chat messages.
type Pipeline struct {
	repo  *Repo
	dir   *Directory
	users UserStore
	log   *zap.Logger
	now   func() time.Time
}

func NewPipeline(repo *Repo, dir *Directory, users UserStore, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{repo: repo, dir: dir, users: users, log: log, now: time.Now}
}

func (p *Pipeline) Send(ctx context.Context, in SendInput) (*SendResult, error) {
	if in.SenderID == "" {
		return nil, apperr.ErrUnauthorized
	}
	content := strings.TrimSpace(in.Content)
	image := strings.TrimSpace(in.ImageURL)
	if content == "" && image == "" {
		return nil, apperr.New(apperr.InvalidArgument, "message must contain content or image")
	}
	if len(image) > maxImageURLLen {
		return nil, apperr.Newf(apperr.InvalidArgument, "image_url must be at most %d characters", maxImageURLLen)
	}

	var (
		c       *Chat
		created bool
		err     error
	)
	switch {
	case in.ChatID != "":
		c, err = p.dir.GetByID(ctx, in.ChatID)
		if err != nil {
			return nil, err
		}
		if !c.HasParticipant(in.SenderID) {
			return nil, apperr.New(apperr.Forbidden, "you are not a participant of this chat")
		}
	case in.ReceiverID != "":
		c, created, err = p.dir.GetOrCreateDirect(ctx, in.SenderID, in.ReceiverID)
		if err != nil {
			return nil, err
		}
	default:
		return nil, apperr.New(apperr.InvalidArgument, "chat_id or receiver_id is required")
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, apperr.Internalf(err, "new message id")
	}
	now := p.now()
	m := &Message{
		ID:        id,
		ChatID:    c.ID,
		SenderID:  in.SenderID,
		Content:   content,
		CreatedAt: now,
	}
	if image != "" {
		m.ImageURL = &image
	}

	if err := p.repo.InsertMessage(ctx, m, now); err != nil {
		return nil, apperr.Internalf(err, "insert message into %s", c.ID)
	}
	c.UpdatedAt = now

	res := &SendResult{Message: m, Chat: c, ChatCreated: created}
	profiles, err := p.users.Profiles(ctx, []string{in.SenderID})
	if err != nil {
		p.log.Warn("load sender profile", zap.String("sender", in.SenderID), zap.Error(err))
	}
	if prof, ok := profiles[in.SenderID]; ok {
		res.Sender = prof
	} else {
		res.Sender = models.UserProfile{ID: in.SenderID}
	}
	return res, nil
}

// MarkSeen flags a message as read by userID and returns its chat id.
// Marking an already read message succeeds without change.
func (p *Pipeline) MarkSeen(ctx context.Context, messageID, userID string) (string, error) {
	if userID == "" {
		return "", apperr.ErrUnauthorized
	}
	if strings.TrimSpace(messageID) == "" {
		return "", apperr.New(apperr.InvalidArgument, "message_id is required")
	}

	m, err := p.repo.GetMessage(ctx, messageID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", apperr.New(apperr.NotFound, "message not found")
	}
	if err != nil {
		return "", apperr.Internalf(err, "load message %s", messageID)
	}

	ok, err := p.dir.IsParticipant(ctx, m.ChatID, userID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.New(apperr.Forbidden, "you are not a participant of this chat")
	}

	if !m.IsRead {
		if err := p.repo.MarkMessageRead(ctx, messageID); err != nil {
			return "", apperr.Internalf(err, "mark message %s read", messageID)
		}
	}
	return m.ChatID, nil
}

// List returns one page of a chat's history, oldest first within the page.
// cursor is the NextCursor of the previous page; empty starts at the newest.
func (p *Pipeline) List(ctx context.Context, chatID, userID, cursor string, pageSize int) (MessagePage, error) {
	if userID == "" {
		return MessagePage{}, apperr.ErrUnauthorized
	}
	if pageSize <= 0 {
		pageSize = DefaultMessagePageSize
	}
	if pageSize > MaxPageSize {
		return MessagePage{}, apperr.Newf(apperr.InvalidArgument, "page_size must be <= %d", MaxPageSize)
	}

	c, err := p.dir.GetByID(ctx, chatID)
	if err != nil {
		return MessagePage{}, err
	}
	if !c.HasParticipant(userID) {
		return MessagePage{}, apperr.New(apperr.Forbidden, "you are not a participant of this chat")
	}

	msgsDesc, err := p.repo.ListMessages(ctx, chatID, pageSize+1, cursor)
	if err != nil {
		return MessagePage{}, apperr.Internalf(err, "list messages of %s", chatID)
	}

	hasMore := len(msgsDesc) > pageSize
	if hasMore {
		msgsDesc = msgsDesc[:pageSize]
	}

	// reverse to ASC (oldest -> newest)
	msgs := make([]Message, 0, len(msgsDesc))
	for i := len(msgsDesc) - 1; i >= 0; i-- {
		msgs = append(msgs, msgsDesc[i])
	}

	page := MessagePage{Messages: msgs, HasMore: hasMore}
	if hasMore && len(msgs) > 0 {
		page.NextCursor = msgs[0].ID
	}
	return page, nil
}
