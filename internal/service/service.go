// Package service holds the chat domain rules shared by the REST API and
// the realtime gateway. Storage is reached through the repository only.
package service

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"math"
	"strings"
	"time"

	"github.com/npezzotti/securechat/internal/database"
	"github.com/npezzotti/securechat/internal/types"
	"github.com/teris-io/shortid"
)

const (
	DefaultMessageTTL = 7 * 24 * time.Hour
	DuplicateWindow   = 5 * time.Second
	DefaultPageSize   = 50
	MaxPageSize       = 100
)

type Options struct {
	AdminEmails         []string
	RegistrationEnabled bool
	// Now overrides the clock, mostly for tests.
	Now func() time.Time
}

type Service struct {
	db                  database.SecureChatRepository
	log                 *log.Logger
	adminEmails         map[string]struct{}
	registrationDefault bool
	now                 func() time.Time
	newChatId           func() (string, error)
}

func New(logger *log.Logger, db database.SecureChatRepository, opts Options) *Service {
	s := &Service{
		db:                  db,
		log:                 logger,
		adminEmails:         make(map[string]struct{}, len(opts.AdminEmails)),
		registrationDefault: opts.RegistrationEnabled,
		now:                 opts.Now,
		newChatId:           shortid.Generate,
	}

	for _, e := range opts.AdminEmails {
		s.adminEmails[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}
	if s.now == nil {
		s.now = func() time.Time {
			return time.Now().UTC().Round(time.Millisecond)
		}
	}

	return s
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func daysUntil(expiresAt, now time.Time) int {
	return int(math.Ceil(float64(expiresAt.Sub(now)) / float64(24*time.Hour)))
}

func toUser(u database.User) types.User {
	return types.User{
		Id:        u.Id,
		Email:     u.Email,
		Name:      u.Name,
		Avatar:    u.Avatar,
		IsOnline:  u.IsOnline,
		LastSeen:  u.LastSeen,
		IsAdmin:   u.IsAdmin,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// toPublicUser strips fields other users should not see.
func toPublicUser(u database.User) types.User {
	pub := toUser(u)
	pub.Email = ""
	return pub
}

func toSettings(s database.ChatSettings) types.ChatSettings {
	return types.ChatSettings{
		AllowCopy:       s.AllowCopy,
		AllowShare:      s.AllowShare,
		AllowDelete:     s.AllowDelete,
		AllowScreenshot: s.AllowScreenshot,
		MessageExpiry:   s.MessageExpiry,
	}
}

func (s *Service) toMessage(m database.Message, chatId string, sender types.User) types.Message {
	msg := types.Message{
		Id:              m.Id,
		ChatId:          chatId,
		Sender:          sender,
		Content:         m.Content,
		Type:            m.Type,
		FileUrl:         m.FileUrl,
		FileName:        m.FileName,
		FileSize:        m.FileSize,
		ReadBy:          make([]types.ReadReceipt, len(m.ReadBy)),
		IsRead:          len(m.ReadBy) > 0,
		IsEncrypted:     m.IsEncrypted,
		CreatedAt:       m.CreatedAt,
		ExpiresAt:       m.ExpiresAt,
		DaysUntilExpiry: daysUntil(m.ExpiresAt, s.now()),
	}
	if m.ClientId != nil {
		msg.ClientId = *m.ClientId
	}
	for i, r := range m.ReadBy {
		msg.ReadBy[i] = types.ReadReceipt{UserId: r.UserId, ReadAt: r.ReadAt}
	}

	return msg
}

// usersById loads the given users keyed by id, skipping duplicates.
func (s *Service) usersById(ctx context.Context, ids []int) (map[int]database.User, error) {
	uniq := make([]int, 0, len(ids))
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			uniq = append(uniq, id)
		}
	}

	users, err := s.db.GetUsersByIds(ctx, uniq)
	if err != nil {
		return nil, err
	}

	out := make(map[int]database.User, len(users))
	for _, u := range users {
		out[u.Id] = u
	}
	return out, nil
}

// Ping checks the storage connection.
func (s *Service) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
