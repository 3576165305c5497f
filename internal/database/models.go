package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrDuplicate is returned when a write collides with a unique index.
var ErrDuplicate = errors.New("duplicate record")

type User struct {
	Id           int
	Email        string
	Name         string
	PasswordHash string
	Avatar       *string
	IsOnline     bool
	LastSeen     time.Time
	IsAdmin      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ChatSettings is stored as a JSONB document on the chat row.
type ChatSettings struct {
	AllowCopy       bool `json:"allow_copy"`
	AllowShare      bool `json:"allow_share"`
	AllowDelete     bool `json:"allow_delete"`
	AllowScreenshot bool `json:"allow_screenshot"`
	MessageExpiry   *int `json:"message_expiry"`
}

func (s ChatSettings) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *ChatSettings) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = ChatSettings{}
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("unsupported settings type %T", src)
	}
}

type Chat struct {
	Id            int
	ExternalId    string
	Name          string
	Type          string
	CreatedBy     int
	IsEncrypted   bool
	Avatar        *string
	Settings      ChatSettings
	PersonalKey   *string
	LastMessageId *int64
	LastMessageAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	// Participants holds user ids in join order.
	Participants []int
}

func (c Chat) HasParticipant(userId int) bool {
	for _, id := range c.Participants {
		if id == userId {
			return true
		}
	}
	return false
}

type ReadReceipt struct {
	UserId int
	ReadAt time.Time
}

type Message struct {
	Id          int64
	ChatId      int
	SenderId    int
	ClientId    *string
	Content     string
	Type        string
	FileUrl     *string
	FileName    *string
	FileSize    *int64
	IsEncrypted bool
	CreatedAt   time.Time
	ExpiresAt   time.Time
	IsDeleted   bool
	ReadBy      []ReadReceipt
}

type UserCounts struct {
	Total  int
	Online int
	Admins int
	Since  int
}

type CreateUserParams struct {
	Email        string
	Name         string
	PasswordHash string
	IsAdmin      bool
}

type UpdateProfileParams struct {
	UserId int
	Name   *string
	Avatar *string
}

type CreateChatParams struct {
	ExternalId   string
	Name         string
	Type         string
	CreatedBy    int
	IsEncrypted  bool
	Settings     ChatSettings
	PersonalKey  *string
	Participants []int
	CreatedAt    time.Time
}

type CreateMessageParams struct {
	ChatId      int
	SenderId    int
	ClientId    *string
	Content     string
	Type        string
	FileUrl     *string
	FileName    *string
	FileSize    *int64
	IsEncrypted bool
	CreatedAt   time.Time
	ExpiresAt   time.Time
}
