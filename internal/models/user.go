package models

import (
	"strings"
	"time"
)

// User is owned by the account service; the chat core only reads it and
// stamps LastLogin.
type User struct {
	ID        string     `gorm:"type:varchar(64);primaryKey" json:"id"`
	Username  string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	FirstName string     `gorm:"type:varchar(64)" json:"first_name"`
	LastName  string     `gorm:"type:varchar(64)" json:"last_name"`
	AvatarURL *string    `gorm:"type:varchar(512)" json:"avatar_url"`
	LastLogin *time.Time `json:"last_login"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// UserProfile is the public slice of a user embedded in chat payloads.
type UserProfile struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	AvatarURL *string    `json:"avatar_url"`
	LastLogin *time.Time `json:"last_login"`
}

func (u User) Profile() UserProfile {
	return UserProfile{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		AvatarURL: u.AvatarURL,
		LastLogin: u.LastLogin,
	}
}

// DisplayName prefers the username, then the full name.
func (p UserProfile) DisplayName() string {
	if p.Username != "" {
		return p.Username
	}
	if n := strings.TrimSpace(p.FirstName + " " + p.LastName); n != "" {
		return n
	}
	return "Someone"
}
