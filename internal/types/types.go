package types

import (
	"time"
)

const (
	ChatTypePersonal = "personal"
	ChatTypeGroup    = "group"
)

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
	MessageTypeAudio = "audio"
	MessageTypeVideo = "video"
)

type User struct {
	Id        int       `json:"id"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name"`
	Avatar    *string   `json:"avatar"`
	IsOnline  bool      `json:"is_online"`
	LastSeen  time.Time `json:"last_seen"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type ChatSettings struct {
	AllowCopy       bool `json:"allow_copy"`
	AllowShare      bool `json:"allow_share"`
	AllowDelete     bool `json:"allow_delete"`
	AllowScreenshot bool `json:"allow_screenshot"`
	// MessageExpiry overrides the default message lifetime, in minutes.
	MessageExpiry *int `json:"message_expiry"`
}

type Chat struct {
	Id            string       `json:"id"`
	Name          string       `json:"name"`
	Type          string       `json:"type"`
	Avatar        *string      `json:"avatar"`
	Participants  []User       `json:"participants"`
	LastMessage   *Message     `json:"last_message"`
	LastMessageAt time.Time    `json:"last_message_at"`
	Settings      ChatSettings `json:"settings"`
	CreatedBy     int          `json:"created_by"`
	IsEncrypted   bool         `json:"is_encrypted"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

type ReadReceipt struct {
	UserId int       `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

type Message struct {
	Id              int64         `json:"id"`
	ChatId          string        `json:"chat_id"`
	Sender          User          `json:"sender"`
	ClientId        string        `json:"client_id,omitempty"`
	Content         string        `json:"content"`
	Type            string        `json:"type"`
	FileUrl         *string       `json:"file_url,omitempty"`
	FileName        *string       `json:"file_name,omitempty"`
	FileSize        *int64        `json:"file_size,omitempty"`
	ReadBy          []ReadReceipt `json:"read_by"`
	IsRead          bool          `json:"is_read"`
	IsEncrypted     bool          `json:"is_encrypted"`
	CreatedAt       time.Time     `json:"created_at"`
	ExpiresAt       time.Time     `json:"expires_at"`
	DaysUntilExpiry int           `json:"days_until_expiry"`
}

type ExpiryInfo struct {
	MessageId       int64     `json:"message_id"`
	ExpiresAt       time.Time `json:"expires_at"`
	DaysUntilExpiry int       `json:"days_until_expiry"`
	IsExpired       bool      `json:"is_expired"`
}

type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type AdminStats struct {
	TotalUsers          int  `json:"total_users"`
	OnlineUsers         int  `json:"online_users"`
	AdminUsers          int  `json:"admin_users"`
	TodayUsers          int  `json:"today_users"`
	RegistrationEnabled bool `json:"registration_enabled"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type UploadedFile struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name"`
	Size         int64  `json:"size"`
	Mimetype     string `json:"mimetype"`
	Url          string `json:"url"`
}

type FileInfo struct {
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
	Mimetype   string    `json:"mimetype"`
}

func IsValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeAudio, MessageTypeVideo:
		return true
	}
	return false
}
