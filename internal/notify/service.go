package notify

import (
	"context"

	"github.com/K3NXXX/social-network-backend/internal/apperr"
	"github.com/K3NXXX/social-network-backend/internal/common"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) GetByRecipientAndMessage(ctx context.Context, userID, messageID string) (*Notification, error) {
	var n Notification
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND message_id = ?", userID, messageID).
		First(&n).Error; err != nil {
		return nil, errors.Wrapf(err, "get notification %s/%s", userID, messageID)
	}
	return &n, nil
}

// CreateOrGetExisting tries to create a notification, but if (user_id, message_id)
// already exists (a redelivered job), it returns the existing row instead.
func (r *Repo) CreateOrGetExisting(ctx context.Context, n *Notification) (*Notification, bool, error) {
	err := r.db.WithContext(ctx).Create(n).Error
	if err == nil {
		return n, true, nil
	}

	existing, getErr := r.GetByRecipientAndMessage(ctx, n.UserID, n.MessageID)
	if getErr == nil {
		return existing, false, nil
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, errors.Wrap(err, "create notification")
	}
	return nil, false, getErr
}

func (r *Repo) ListForUser(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []Notification
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, errors.Wrapf(err, "list notifications of %s", userID)
	}
	return out, nil
}

// NameResolver turns a user id into the name shown in notification text.
type NameResolver interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// ErrBadJob marks a job that can never succeed; consumers should not retry it.
var ErrBadJob = errors.New("bad notification job")

type Service struct {
	repo  *Repo
	names NameResolver
}

func NewService(repo *Repo, names NameResolver) *Service {
	return &Service{repo: repo, names: names}
}

// Handle records the notification for one offline recipient. Redelivery of
// the same job is harmless.
func (s *Service) Handle(ctx context.Context, job Job) (*Notification, error) {
	if job.MessageID == "" || job.RecipientID == "" || job.SenderID == "" || job.ChatID == "" {
		return nil, ErrBadJob
	}

	name, err := s.names.DisplayName(ctx, job.SenderID)
	switch {
	case apperr.KindOf(err) == apperr.NotFound:
		// a deleted sender still gets a notification
		name = "Someone"
	case err != nil:
		return nil, errors.Wrapf(err, "resolve sender %s", job.SenderID)
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	n := &Notification{
		ID:        id,
		UserID:    job.RecipientID,
		SenderID:  job.SenderID,
		Type:      TypeNewMessage,
		ChatID:    job.ChatID,
		MessageID: job.MessageID,
		Text:      name + " sent you a message",
	}
	out, _, err := s.repo.CreateOrGetExisting(ctx, n)
	return out, err
}
