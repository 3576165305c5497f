package database

import (
	"context"
	"time"
)

type SecureChatRepository interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserById(ctx context.Context, id int) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUsersByIds(ctx context.Context, ids []int) ([]User, error)
	ListUsers(ctx context.Context, search string) ([]User, error)
	ListUsersByCreated(ctx context.Context) ([]User, error)
	UpdateProfile(ctx context.Context, params UpdateProfileParams) (User, error)
	SetUserPresence(ctx context.Context, userId int, online bool, at time.Time) (User, error)
	SetUserAdmin(ctx context.Context, userId int, admin bool) error
	CountUsers(ctx context.Context, since time.Time) (UserCounts, error)

	GetRegistrationEnabled(ctx context.Context) (bool, error)
	SetRegistrationEnabled(ctx context.Context, enabled bool) error

	CreateChat(ctx context.Context, params CreateChatParams) (Chat, error)
	GetChatByExternalId(ctx context.Context, externalId string) (Chat, error)
	GetChatById(ctx context.Context, id int) (Chat, error)
	GetChatByPersonalKey(ctx context.Context, key string) (Chat, error)
	ListChatsForUser(ctx context.Context, userId int) ([]Chat, error)
	UpdateChatSettings(ctx context.Context, chatId int, settings ChatSettings) (Chat, error)

	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessageById(ctx context.Context, id int64) (Message, error)
	GetMessageByClientId(ctx context.Context, senderId int, clientId string) (Message, error)
	GetMessagesByIds(ctx context.Context, ids []int64) ([]Message, error)
	ListMessages(ctx context.Context, chatId int, now time.Time, limit, offset int) ([]Message, error)
	RecentDuplicateExists(ctx context.Context, chatId, senderId int, content string, since time.Time) (bool, error)
	MarkRead(ctx context.Context, messageId int64, userId int, at time.Time) error
	DeleteExpiredMessages(ctx context.Context, now time.Time) (int64, error)
}
