package notify

import "time"

type Type string

const (
	TypeNewMessage Type = "NEW_MESSAGE"
)

// Job is queued once per offline recipient of a chat message.
type Job struct {
	MessageID   string `json:"message_id"`
	ChatID      string `json:"chat_id"`
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
}

type Notification struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	UserID   string `gorm:"type:varchar(64);not null;index;index:uniq_notify_user_msg,unique,priority:1" json:"user_id"`
	SenderID string `gorm:"type:varchar(64);not null" json:"sender_id"`
	Type     Type   `gorm:"type:varchar(32);not null" json:"type"`

	ChatID    string `gorm:"size:26;not null" json:"chat_id"`
	MessageID string `gorm:"size:26;not null;index:uniq_notify_user_msg,unique,priority:2" json:"message_id"`

	Text   string `gorm:"type:varchar(255);not null" json:"message"`
	IsRead bool   `gorm:"not null" json:"is_read"`

	CreatedAt time.Time `json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }
