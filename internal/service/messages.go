package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"slices"
	"unicode/utf8"

	"github.com/npezzotti/securechat/internal/database"
	"github.com/npezzotti/securechat/internal/types"
)

const (
	maxContentLength  = 2000
	maxClientIdLength = 64
)

type SendParams struct {
	SenderId int
	ChatId   string
	Content  string
	Type     string
	FileUrl  *string
	FileName *string
	FileSize *int64
	// ClientId is an optional idempotency key chosen by the sender.
	ClientId string
	// SuppressRecent drops content identical to a message the sender
	// posted to the chat within DuplicateWindow.
	SuppressRecent bool
}

type ReadResult struct {
	ChatId    string `json:"chat_id"`
	MessageId int64  `json:"message_id"`
	IsRead    bool   `json:"is_read"`
	ReaderId  int    `json:"reader_id"`
}

func validateSend(p *SendParams) error {
	if p.Type == "" {
		p.Type = types.MessageTypeText
	}

	verr := newValidationError("invalid message")
	if !types.IsValidMessageType(p.Type) {
		verr.add("type", "must be one of text, image, file, audio, video")
	}
	if utf8.RuneCountInString(p.Content) > maxContentLength {
		verr.add("content", fmt.Sprintf("content must be at most %d characters", maxContentLength))
	}
	if p.Content == "" && p.FileUrl == nil {
		verr.add("content", "content or file is required")
	}
	if len(p.ClientId) > maxClientIdLength {
		verr.add("client_id", fmt.Sprintf("client id must be at most %d characters", maxClientIdLength))
	}
	if p.FileSize != nil && *p.FileSize < 0 {
		verr.add("file_size", "must not be negative")
	}

	return verr.orNil()
}

// SendMessage persists a message into a chat the sender takes part in. The
// bool is false when an earlier message with the same client id is
// returned instead of creating a new one.
func (s *Service) SendMessage(ctx context.Context, p SendParams) (types.Message, bool, error) {
	if err := validateSend(&p); err != nil {
		return types.Message{}, false, err
	}

	chat, err := s.ChatForParticipant(ctx, p.SenderId, p.ChatId)
	if err != nil {
		return types.Message{}, false, err
	}

	sender, err := s.db.GetUserById(ctx, p.SenderId)
	if err != nil {
		return types.Message{}, false, notFound(err)
	}

	var clientId *string
	if p.ClientId != "" {
		clientId = &p.ClientId
		if prev, err := s.db.GetMessageByClientId(ctx, p.SenderId, p.ClientId); err == nil {
			return s.toMessage(prev, chat.ExternalId, toPublicUser(sender)), false, nil
		} else if !errors.Is(err, sql.ErrNoRows) {
			return types.Message{}, false, fmt.Errorf("get message by client id: %w", err)
		}
	}

	now := s.now()
	if p.SuppressRecent && clientId == nil && p.Content != "" {
		dup, err := s.db.RecentDuplicateExists(ctx, chat.Id, p.SenderId, p.Content, now.Add(-DuplicateWindow))
		if err != nil {
			return types.Message{}, false, fmt.Errorf("check duplicate: %w", err)
		}
		if dup {
			return types.Message{}, false, ErrDuplicateMessage
		}
	}

	msg, err := s.db.CreateMessage(ctx, database.CreateMessageParams{
		ChatId:      chat.Id,
		SenderId:    p.SenderId,
		ClientId:    clientId,
		Content:     p.Content,
		Type:        p.Type,
		FileUrl:     p.FileUrl,
		FileName:    p.FileName,
		FileSize:    p.FileSize,
		IsEncrypted: chat.IsEncrypted,
		CreatedAt:   now,
		ExpiresAt:   now.Add(DefaultMessageTTL),
	})
	if errors.Is(err, database.ErrDuplicate) && clientId != nil {
		prev, err := s.db.GetMessageByClientId(ctx, p.SenderId, p.ClientId)
		if err != nil {
			return types.Message{}, false, fmt.Errorf("get message by client id: %w", err)
		}
		return s.toMessage(prev, chat.ExternalId, toPublicUser(sender)), false, nil
	}
	if err != nil {
		return types.Message{}, false, fmt.Errorf("create message: %w", err)
	}

	return s.toMessage(msg, chat.ExternalId, toPublicUser(sender)), true, nil
}

// ListMessages returns one page of visible messages, oldest first. Pages
// are counted from the newest message.
func (s *Service) ListMessages(ctx context.Context, userId int, externalId string, page, limit int) ([]types.Message, error) {
	verr := newValidationError("invalid pagination")
	if page < 1 {
		verr.add("page", "must be at least 1")
	}
	if limit < 1 || limit > MaxPageSize {
		verr.add("limit", fmt.Sprintf("must be between 1 and %d", MaxPageSize))
	} else if page > 1 && page-1 > math.MaxInt/limit {
		verr.add("page", "is too large")
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	chat, err := s.ChatForParticipant(ctx, userId, externalId)
	if err != nil {
		return nil, err
	}

	msgs, err := s.db.ListMessages(ctx, chat.Id, s.now(), limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	out := make([]types.Message, 0, len(msgs))
	if len(msgs) == 0 {
		return out, nil
	}

	senderIds := make([]int, len(msgs))
	for i, m := range msgs {
		senderIds[i] = m.SenderId
	}
	users, err := s.usersById(ctx, senderIds)
	if err != nil {
		return nil, fmt.Errorf("load senders: %w", err)
	}

	for _, m := range msgs {
		out = append(out, s.toMessage(m, chat.ExternalId, s.senderOf(users, m.SenderId)))
	}
	slices.Reverse(out)

	return out, nil
}

// messageForParticipant loads a message and its chat. Readers outside the
// chat get ErrForbidden.
func (s *Service) messageForParticipant(ctx context.Context, userId int, messageId int64) (database.Message, database.Chat, error) {
	msg, err := s.db.GetMessageById(ctx, messageId)
	if err != nil {
		return database.Message{}, database.Chat{}, notFound(err)
	}

	chat, err := s.db.GetChatById(ctx, msg.ChatId)
	if err != nil {
		return database.Message{}, database.Chat{}, notFound(err)
	}
	if !chat.HasParticipant(userId) {
		return database.Message{}, database.Chat{}, ErrForbidden
	}

	return msg, chat, nil
}

func (s *Service) MarkRead(ctx context.Context, userId int, messageId int64) (ReadResult, error) {
	return s.markRead(ctx, userId, "", messageId)
}

// MarkReadInChat is MarkRead for a message that must belong to chatId.
func (s *Service) MarkReadInChat(ctx context.Context, userId int, chatId string, messageId int64) (ReadResult, error) {
	return s.markRead(ctx, userId, chatId, messageId)
}

func (s *Service) markRead(ctx context.Context, userId int, chatId string, messageId int64) (ReadResult, error) {
	msg, chat, err := s.messageForParticipant(ctx, userId, messageId)
	if err != nil {
		return ReadResult{}, err
	}
	if chatId != "" && chat.ExternalId != chatId {
		return ReadResult{}, ErrNotFound
	}

	// Deleted and expired messages are gone for readers even before the purge.
	now := s.now()
	if msg.IsDeleted || !msg.ExpiresAt.After(now) {
		return ReadResult{}, ErrNotFound
	}

	if err := s.db.MarkRead(ctx, msg.Id, userId, now); err != nil {
		return ReadResult{}, fmt.Errorf("mark read: %w", err)
	}

	return ReadResult{
		ChatId:    chat.ExternalId,
		MessageId: msg.Id,
		IsRead:    true,
		ReaderId:  userId,
	}, nil
}

func (s *Service) ExpiryInfo(ctx context.Context, userId int, messageId int64) (types.ExpiryInfo, error) {
	msg, _, err := s.messageForParticipant(ctx, userId, messageId)
	if err != nil {
		return types.ExpiryInfo{}, err
	}

	now := s.now()
	return types.ExpiryInfo{
		MessageId:       msg.Id,
		ExpiresAt:       msg.ExpiresAt,
		DaysUntilExpiry: daysUntil(msg.ExpiresAt, now),
		IsExpired:       !msg.ExpiresAt.After(now),
	}, nil
}

// PurgeExpired permanently removes messages past their expiry.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.db.DeleteExpiredMessages(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired messages: %w", err)
	}
	return n, nil
}
