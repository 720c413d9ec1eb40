package chat

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	var c Chat
	if err := r.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB { return db.Order("joined_at ASC, user_id ASC") }).
		Where("id = ?", chatID).
		First(&c).Error; err != nil {
		return nil, errors.Wrapf(err, "get chat %s", chatID)
	}
	return &c, nil
}

func (r *Repo) GetDirectChat(ctx context.Context, key string) (*Chat, error) {
	var c Chat
	if err := r.db.WithContext(ctx).
		Preload("Participants").
		Where("direct_key = ?", key).
		First(&c).Error; err != nil {
		return nil, errors.Wrapf(err, "get direct chat %s", key)
	}
	return &c, nil
}

// CreateChat inserts the chat row and its participant rows in one transaction.
func (r *Repo) CreateChat(ctx context.Context, c *Chat, userIDs []string) error {
	parts := make([]Participant, 0, len(userIDs))
	for _, uid := range userIDs {
		parts = append(parts, Participant{ChatID: c.ID, UserID: uid, JoinedAt: c.CreatedAt})
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(c).Error; err != nil {
			return err
		}
		return tx.Create(&parts).Error
	})
	if err != nil {
		return errors.Wrapf(err, "create chat %s", c.ID)
	}
	c.Participants = parts
	return nil
}

// CreateDirectOrGetExisting tries to create a direct chat, but if its direct key
// already exists (a concurrent creator won), it returns the existing chat instead.
func (r *Repo) CreateDirectOrGetExisting(ctx context.Context, c *Chat, userIDs []string) (*Chat, bool, error) {
	if c.DirectKey == nil {
		return nil, false, errors.New("direct key required")
	}

	err := r.CreateChat(ctx, c, userIDs)
	if err == nil {
		return c, true, nil
	}

	existing, getErr := r.GetDirectChat(ctx, *c.DirectKey)
	if getErr == nil {
		return existing, false, nil
	}

	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, errors.Wrap(getErr, "re-read direct chat after insert conflict")
}

func (r *Repo) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).
		Model(&Participant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Count(&n).Error; err != nil {
		return false, errors.Wrapf(err, "check participant %s in %s", userID, chatID)
	}
	return n > 0, nil
}

// ListChatsForUser returns chats the user participates in, most recently active first.
func (r *Repo) ListChatsForUser(ctx context.Context, userID string, offset, limit int) ([]Chat, error) {
	var chats []Chat
	if err := r.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB { return db.Order("joined_at ASC, user_id ASC") }).
		Where("id IN (?)", r.db.Model(&Participant{}).Select("chat_id").Where("user_id = ?", userID)).
		Order("updated_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&chats).Error; err != nil {
		return nil, errors.Wrapf(err, "list chats of %s", userID)
	}
	return chats, nil
}

// LastMessages returns the newest message of each chat keyed by chat id.
// Message ids are time ordered, so the newest is the max id.
func (r *Repo) LastMessages(ctx context.Context, chatIDs []string) (map[string]Message, error) {
	out := make(map[string]Message, len(chatIDs))
	if len(chatIDs) == 0 {
		return out, nil
	}

	latest := r.db.Model(&Message{}).
		Select("MAX(id)").
		Where("chat_id IN ?", chatIDs).
		Group("chat_id")

	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("id IN (?)", latest).
		Find(&msgs).Error; err != nil {
		return nil, errors.Wrap(err, "last messages")
	}
	for _, m := range msgs {
		out[m.ChatID] = m
	}
	return out, nil
}

// InsertMessage persists m and bumps the chat's activity time atomically.
func (r *Repo) InsertMessage(ctx context.Context, m *Message, at time.Time) error {
	return errors.Wrapf(r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		return tx.Model(&Chat{}).
			Where("id = ?", m.ChatID).
			UpdateColumn("updated_at", at).Error
	}), "insert message into %s", m.ChatID)
}

func (r *Repo) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).First(&m, "id = ?", messageID).Error; err != nil {
		return nil, errors.Wrapf(err, "get message %s", messageID)
	}
	return &m, nil
}

func (r *Repo) MarkMessageRead(ctx context.Context, messageID string) error {
	return errors.Wrapf(r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ? AND is_read = ?", messageID, false).
		UpdateColumn("is_read", true).Error, "mark message %s read", messageID)
}

// ListMessages returns messages in DESC id order (newest -> oldest).
func (r *Repo) ListMessages(ctx context.Context, chatID string, limit int, beforeID string) ([]Message, error) {
	q := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("id DESC").
		Limit(limit)

	if beforeID != "" {
		q = q.Where("id < ?", beforeID)
	}

	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, errors.Wrapf(err, "list messages of %s", chatID)
	}
	return msgs, nil
}
