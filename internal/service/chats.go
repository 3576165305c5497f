package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/npezzotti/securechat/internal/database"
	"github.com/npezzotti/securechat/internal/types"
)

const (
	maxChatNameLength = 100
	// maxMessageExpiry caps the per-chat override at one year, in minutes.
	maxMessageExpiry = 365 * 24 * 60
)

// SettingsPatch is a partial settings update. Nil fields are left as is.
type SettingsPatch struct {
	AllowCopy          *bool
	AllowShare         *bool
	AllowDelete        *bool
	AllowScreenshot    *bool
	MessageExpiry      *int
	ClearMessageExpiry bool
}

func (p SettingsPatch) apply(s database.ChatSettings) database.ChatSettings {
	if p.AllowCopy != nil {
		s.AllowCopy = *p.AllowCopy
	}
	if p.AllowShare != nil {
		s.AllowShare = *p.AllowShare
	}
	if p.AllowDelete != nil {
		s.AllowDelete = *p.AllowDelete
	}
	if p.AllowScreenshot != nil {
		s.AllowScreenshot = *p.AllowScreenshot
	}
	if p.ClearMessageExpiry {
		s.MessageExpiry = nil
	} else if p.MessageExpiry != nil {
		v := *p.MessageExpiry
		s.MessageExpiry = &v
	}
	return s
}

// ParseSettingsPatch decodes a JSON object of settings keys. Unknown keys
// and mistyped values are rejected.
func ParseSettingsPatch(data []byte) (SettingsPatch, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return SettingsPatch{}, newValidationError("settings must be a JSON object")
	}

	var p SettingsPatch
	verr := newValidationError("invalid settings")
	decodeBool := func(key string, val json.RawMessage) *bool {
		var b bool
		if err := json.Unmarshal(val, &b); err != nil || bytes.Equal(bytes.TrimSpace(val), []byte("null")) {
			verr.add(key, "must be a boolean")
			return nil
		}
		return &b
	}

	for _, key := range slices.Sorted(maps.Keys(raw)) {
		val := raw[key]
		switch key {
		case "allow_copy":
			p.AllowCopy = decodeBool(key, val)
		case "allow_share":
			p.AllowShare = decodeBool(key, val)
		case "allow_delete":
			p.AllowDelete = decodeBool(key, val)
		case "allow_screenshot":
			p.AllowScreenshot = decodeBool(key, val)
		case "message_expiry":
			if bytes.Equal(bytes.TrimSpace(val), []byte("null")) {
				p.ClearMessageExpiry = true
				continue
			}
			var n int
			if err := json.Unmarshal(val, &n); err != nil || n <= 0 || n > maxMessageExpiry {
				verr.add(key, "must be a positive number of minutes or null")
				continue
			}
			p.MessageExpiry = &n
		default:
			verr.add(key, "unknown setting")
		}
	}

	if err := verr.orNil(); err != nil {
		return SettingsPatch{}, err
	}
	return p, nil
}

func personalKey(a, b int) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// CreatePersonalChat returns the personal chat between the two users,
// creating it first if needed. The bool reports whether it was created.
func (s *Service) CreatePersonalChat(ctx context.Context, requesterId, targetId int) (types.Chat, bool, error) {
	if requesterId == targetId {
		verr := newValidationError("invalid personal chat")
		verr.add("user_id", "cannot start a chat with yourself")
		return types.Chat{}, false, verr
	}

	target, err := s.db.GetUserById(ctx, targetId)
	if err != nil {
		return types.Chat{}, false, notFound(err)
	}

	key := personalKey(requesterId, targetId)
	existing, err := s.db.GetChatByPersonalKey(ctx, key)
	if err == nil {
		chat, err := s.chatView(ctx, existing, requesterId)
		return chat, false, err
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return types.Chat{}, false, fmt.Errorf("get personal chat: %w", err)
	}

	externalId, err := s.newChatId()
	if err != nil {
		return types.Chat{}, false, fmt.Errorf("generate chat id: %w", err)
	}

	created, err := s.db.CreateChat(ctx, database.CreateChatParams{
		ExternalId:   externalId,
		Name:         target.Name,
		Type:         types.ChatTypePersonal,
		CreatedBy:    requesterId,
		IsEncrypted:  true,
		PersonalKey:  &key,
		Participants: []int{requesterId, targetId},
		CreatedAt:    s.now(),
	})
	if errors.Is(err, database.ErrDuplicate) {
		// a concurrent request created the chat first
		existing, err = s.db.GetChatByPersonalKey(ctx, key)
		if err != nil {
			return types.Chat{}, false, fmt.Errorf("get personal chat: %w", err)
		}
		chat, err := s.chatView(ctx, existing, requesterId)
		return chat, false, err
	}
	if err != nil {
		return types.Chat{}, false, fmt.Errorf("create personal chat: %w", err)
	}

	s.log.Printf("created personal chat %q for users %s", created.ExternalId, key)
	chat, err := s.chatView(ctx, created, requesterId)
	return chat, true, err
}

func (s *Service) CreateGroupChat(ctx context.Context, requesterId int, name string, participantIds []int) (types.Chat, error) {
	name = strings.TrimSpace(name)

	others := make([]int, 0, len(participantIds))
	for _, id := range participantIds {
		if id != requesterId && !slices.Contains(others, id) {
			others = append(others, id)
		}
	}

	verr := newValidationError("invalid group chat")
	if n := utf8.RuneCountInString(name); n == 0 {
		verr.add("name", "group name is required")
	} else if n > maxChatNameLength {
		verr.add("name", fmt.Sprintf("group name must be at most %d characters", maxChatNameLength))
	}
	if len(others) == 0 {
		verr.add("participants", "at least one other participant is required")
	}
	if err := verr.orNil(); err != nil {
		return types.Chat{}, err
	}

	members := append([]int{requesterId}, others...)
	users, err := s.usersById(ctx, members)
	if err != nil {
		return types.Chat{}, fmt.Errorf("load participants: %w", err)
	}
	for _, id := range members {
		if _, ok := users[id]; !ok {
			return types.Chat{}, newValidationError("one or more participants not found")
		}
	}

	externalId, err := s.newChatId()
	if err != nil {
		return types.Chat{}, fmt.Errorf("generate chat id: %w", err)
	}

	created, err := s.db.CreateChat(ctx, database.CreateChatParams{
		ExternalId:   externalId,
		Name:         name,
		Type:         types.ChatTypeGroup,
		CreatedBy:    requesterId,
		IsEncrypted:  true,
		Participants: members,
		CreatedAt:    s.now(),
	})
	if err != nil {
		return types.Chat{}, fmt.Errorf("create group chat: %w", err)
	}

	s.log.Printf("created group chat %q with %d participants", created.ExternalId, len(members))
	return s.chatView(ctx, created, requesterId)
}

func (s *Service) ListChats(ctx context.Context, userId int) ([]types.Chat, error) {
	chats, err := s.db.ListChatsForUser(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return s.chatViews(ctx, chats, userId)
}

func (s *Service) GetChat(ctx context.Context, userId int, externalId string) (types.Chat, error) {
	chat, err := s.ChatForParticipant(ctx, userId, externalId)
	if err != nil {
		return types.Chat{}, err
	}
	return s.chatView(ctx, chat, userId)
}

// ChatForParticipant loads a chat the user takes part in. Chats the user
// cannot see are reported as ErrNotFound.
func (s *Service) ChatForParticipant(ctx context.Context, userId int, externalId string) (database.Chat, error) {
	chat, err := s.db.GetChatByExternalId(ctx, externalId)
	if err != nil {
		return database.Chat{}, notFound(err)
	}
	if !chat.HasParticipant(userId) {
		return database.Chat{}, ErrNotFound
	}
	return chat, nil
}

func (s *Service) UpdateSettings(ctx context.Context, userId int, externalId string, patch SettingsPatch) (types.Chat, error) {
	chat, err := s.ChatForParticipant(ctx, userId, externalId)
	if err != nil {
		return types.Chat{}, err
	}
	if chat.CreatedBy != userId {
		return types.Chat{}, ErrForbidden
	}

	updated, err := s.db.UpdateChatSettings(ctx, chat.Id, patch.apply(chat.Settings))
	if err != nil {
		return types.Chat{}, fmt.Errorf("update chat settings: %w", err)
	}

	return s.chatView(ctx, updated, userId)
}

func (s *Service) chatView(ctx context.Context, chat database.Chat, viewerId int) (types.Chat, error) {
	views, err := s.chatViews(ctx, []database.Chat{chat}, viewerId)
	if err != nil {
		return types.Chat{}, err
	}
	return views[0], nil
}

// chatViews resolves participants and last messages for a batch of chats.
func (s *Service) chatViews(ctx context.Context, chats []database.Chat, viewerId int) ([]types.Chat, error) {
	out := make([]types.Chat, 0, len(chats))
	if len(chats) == 0 {
		return out, nil
	}

	var (
		userIds []int
		lastIds []int64
	)
	for _, c := range chats {
		userIds = append(userIds, c.Participants...)
		if c.LastMessageId != nil {
			lastIds = append(lastIds, *c.LastMessageId)
		}
	}

	users, err := s.usersById(ctx, userIds)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}

	lastMessages := make(map[int64]database.Message, len(lastIds))
	if len(lastIds) > 0 {
		msgs, err := s.db.GetMessagesByIds(ctx, lastIds)
		if err != nil {
			return nil, fmt.Errorf("load last messages: %w", err)
		}
		for _, m := range msgs {
			lastMessages[m.Id] = m
		}
	}

	for _, c := range chats {
		view := types.Chat{
			Id:            c.ExternalId,
			Name:          c.Name,
			Type:          c.Type,
			Avatar:        c.Avatar,
			Participants:  make([]types.User, 0, len(c.Participants)),
			LastMessageAt: c.LastMessageAt,
			Settings:      toSettings(c.Settings),
			CreatedBy:     c.CreatedBy,
			IsEncrypted:   c.IsEncrypted,
			CreatedAt:     c.CreatedAt,
			UpdatedAt:     c.UpdatedAt,
		}

		for _, id := range c.Participants {
			u, ok := users[id]
			if !ok {
				continue
			}
			view.Participants = append(view.Participants, toPublicUser(u))
			if c.Type == types.ChatTypePersonal && id != viewerId {
				view.Name = u.Name
				view.Avatar = u.Avatar
			}
		}

		if c.LastMessageId != nil {
			if m, ok := lastMessages[*c.LastMessageId]; ok && !m.IsDeleted && m.ExpiresAt.After(s.now()) {
				msg := s.toMessage(m, c.ExternalId, s.senderOf(users, m.SenderId))
				view.LastMessage = &msg
			}
		}

		out = append(out, view)
	}

	return out, nil
}

func (s *Service) senderOf(users map[int]database.User, senderId int) types.User {
	if u, ok := users[senderId]; ok {
		return toPublicUser(u)
	}
	return types.User{Id: senderId}
}
