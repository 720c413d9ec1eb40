package chat

import (
	"time"

	"github.com/K3NXXX/social-network-backend/internal/models"
)

type Chat struct {
	ID        string  `gorm:"type:varchar(26);primaryKey" json:"id"`
	CreatorID string  `gorm:"type:varchar(64);index;not null" json:"creator_id"`
	IsGroup   bool    `gorm:"not null" json:"is_group"`
	Name      *string `gorm:"type:varchar(128)" json:"name"`
	// DirectKey is "min:max" of the two user ids for 1:1 chats and NULL for
	// groups; the unique index makes the pair single-valued.
	DirectKey    *string       `gorm:"type:varchar(160);uniqueIndex:uniq_chat_direct_key" json:"-"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `gorm:"index" json:"updated_at"`
	Participants []Participant `gorm:"foreignKey:ChatID" json:"participants"`
}

func (Chat) TableName() string { return "chats" }

type Participant struct {
	ChatID   string    `gorm:"type:varchar(26);primaryKey" json:"-"`
	UserID   string    `gorm:"type:varchar(64);primaryKey;index" json:"user_id"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

func (Participant) TableName() string { return "chat_participants" }

type Message struct {
	ID        string    `gorm:"type:varchar(26);primaryKey;index:idx_chat_msg_chat_id,priority:2" json:"id"`
	ChatID    string    `gorm:"type:varchar(26);not null;index:idx_chat_msg_chat_id,priority:1" json:"chat_id"`
	SenderID  string    `gorm:"type:varchar(64);not null;index" json:"sender_id"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	ImageURL  *string   `gorm:"type:varchar(512)" json:"image_url"`
	IsRead    bool      `gorm:"not null" json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

func (c *Chat) ParticipantIDs() []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		out = append(out, p.UserID)
	}
	return out
}

func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// directKey is order-independent: directKey(a, b) == directKey(b, a).
func directKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// ParticipantView is one participant as seen by a reader of a chat list.
type ParticipantView struct {
	models.UserProfile
	IsOnline bool `json:"is_online"`
}

// Summary is one row of a user's chat list.
type Summary struct {
	ID           string            `json:"id"`
	IsGroup      bool              `json:"is_group"`
	Name         *string           `json:"name"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Participants []ParticipantView `json:"participants"`
	LastMessage  *Message          `json:"last_message"`
}

type ChatPage struct {
	Chats   []Summary `json:"chats"`
	Page    int       `json:"page"`
	HasMore bool      `json:"has_more"`
}

type MessagePage struct {
	// Messages are oldest first.
	Messages   []Message `json:"messages"`
	HasMore    bool      `json:"has_more"`
	NextCursor string    `json:"next_cursor,omitempty"`
}
