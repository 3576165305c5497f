package server

import (
	"net/http"
	"time"

	"github.com/npezzotti/securechat/internal/database"
	"github.com/npezzotti/securechat/internal/service"
	"github.com/npezzotti/securechat/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Join         *Join         `json:"join,omitempty"`
	Leave        *Leave        `json:"leave,omitempty"`
	Publish      *Publish      `json:"publish,omitempty"`
	TypingStart  *Typing       `json:"typing_start,omitempty"`
	TypingStop   *Typing       `json:"typing_stop,omitempty"`
	Read         *Read         `json:"read,omitempty"`
	Registration *Registration `json:"registration,omitempty"`
	UserId       int           `json:"-"`
	client       *Client       `json:"-"`
	// chat is resolved by the participant check before a join is queued.
	chat database.Chat `json:"-"`
}

// chatId returns the chat a room scoped message targets.
func (m *ClientMessage) chatId() string {
	switch {
	case m.Publish != nil:
		return m.Publish.ChatId
	case m.TypingStart != nil:
		return m.TypingStart.ChatId
	case m.TypingStop != nil:
		return m.TypingStop.ChatId
	case m.Read != nil:
		return m.Read.ChatId
	}
	return ""
}

type Join struct {
	ChatId string `json:"chat_id"`
}

type Leave struct {
	ChatId string `json:"chat_id"`
}

type Publish struct {
	ChatId   string  `json:"chat_id"`
	Content  string  `json:"content"`
	Type     string  `json:"type,omitempty"`
	ClientId string  `json:"client_id,omitempty"`
	FileUrl  *string `json:"file_url,omitempty"`
	FileName *string `json:"file_name,omitempty"`
	FileSize *int64  `json:"file_size,omitempty"`
}

type Typing struct {
	ChatId string `json:"chat_id"`
	UserId int    `json:"user_id,omitempty"`
}

type Read struct {
	ChatId    string `json:"chat_id"`
	MessageId int64  `json:"message_id"`
}

type Registration struct {
	Enabled bool `json:"enabled"`
}

type ServerMessage struct {
	BaseMessage
	Response     *Response      `json:"response,omitempty"`
	Message      *types.Message `json:"message,omitempty"`
	Notification *Notification  `json:"notification,omitempty"`
	// UserId limits a server wide broadcast to one user's connections.
	UserId     int     `json:"-"`
	SkipClient *Client `json:"-"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type Notification struct {
	TypingStart    *Typing         `json:"typing_start,omitempty"`
	TypingStop     *Typing         `json:"typing_stop,omitempty"`
	MessageUpdated *MessageUpdated `json:"message_updated,omitempty"`
	Presence       *Presence       `json:"presence,omitempty"`
	Registration   *Registration   `json:"registration,omitempty"`
}

type MessageUpdated struct {
	ChatId    string `json:"chat_id"`
	MessageId int64  `json:"message_id"`
	IsRead    bool   `json:"is_read"`
	ReaderId  int    `json:"reader_id"`
}

type Presence struct {
	UserId   int       `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

func messageUpdated(res service.ReadResult) *ServerMessage {
	return &ServerMessage{
		Notification: &Notification{
			MessageUpdated: &MessageUpdated{
				ChatId:    res.ChatId,
				MessageId: res.MessageId,
				IsRead:    res.IsRead,
				ReaderId:  res.ReaderId,
			},
		},
	}
}

func response(id, code int, errText string, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        errText,
			Data:         data,
		},
	}
}

func NoErrOK(id int, data any) *ServerMessage {
	return response(id, http.StatusOK, "", data)
}

func NoErrAccepted(id int, data any) *ServerMessage {
	return response(id, http.StatusAccepted, "", data)
}

func ErrChatNotFound(id int) *ServerMessage {
	return response(id, http.StatusNotFound, "chat not found", nil)
}

func ErrNotFound(id int) *ServerMessage {
	return response(id, http.StatusNotFound, "not found", nil)
}

func ErrForbidden(id int) *ServerMessage {
	return response(id, http.StatusForbidden, "forbidden", nil)
}

func ErrBadRequest(id int, text string) *ServerMessage {
	return response(id, http.StatusBadRequest, text, nil)
}

func ErrInternalError(id int) *ServerMessage {
	return response(id, http.StatusInternalServerError, "internal server error", nil)
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return response(id, http.StatusServiceUnavailable, "service unavailable", nil)
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := response(0, http.StatusBadRequest, "invalid message format", nil)
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
