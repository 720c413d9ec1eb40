package users

import (
	"context"
	"errors"
	"time"

	"github.com/K3NXXX/social-network-backend/internal/apperr"
	"github.com/K3NXXX/social-network-backend/internal/models"
	"gorm.io/gorm"
)

// Directory is the read side of the user table plus the last-login stamp.
type Directory struct {
	db *gorm.DB
}

func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) Exists(ctx context.Context, userID string) (bool, error) {
	var n int64
	if err := d.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Count(&n).Error; err != nil {
		return false, apperr.Internalf(err, "count user %s", userID)
	}
	return n > 0, nil
}

// Profiles returns the known users among ids; unknown ids are absent from the map.
func (d *Directory) Profiles(ctx context.Context, ids []string) (map[string]models.UserProfile, error) {
	out := make(map[string]models.UserProfile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []models.User
	if err := d.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&rows).Error; err != nil {
		return nil, apperr.Internalf(err, "load profiles")
	}
	for _, u := range rows {
		out[u.ID] = u.Profile()
	}
	return out, nil
}

func (d *Directory) Profile(ctx context.Context, userID string) (models.UserProfile, error) {
	var u models.User
	err := d.db.WithContext(ctx).Where("id = ?", userID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.UserProfile{}, apperr.New(apperr.NotFound, "user not found")
	}
	if err != nil {
		return models.UserProfile{}, apperr.Internalf(err, "load user %s", userID)
	}
	return u.Profile(), nil
}

func (d *Directory) DisplayName(ctx context.Context, userID string) (string, error) {
	p, err := d.Profile(ctx, userID)
	if err != nil {
		return "", err
	}
	return p.DisplayName(), nil
}

func (d *Directory) UpdateLastLogin(ctx context.Context, userID string) error {
	now := time.Now()
	if err := d.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("last_login", &now).Error; err != nil {
		return apperr.Internalf(err, "update last login %s", userID)
	}
	return nil
}
