package database

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockSecureChatRepository struct {
	mock.Mock
}

func (m *MockSecureChatRepository) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockSecureChatRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockSecureChatRepository) GetUserById(ctx context.Context, id int) (User, error) {
	args := m.Called(id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockSecureChatRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockSecureChatRepository) GetUsersByIds(ctx context.Context, ids []int) ([]User, error) {
	args := m.Called(ids)
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockSecureChatRepository) ListUsers(ctx context.Context, search string) ([]User, error) {
	args := m.Called(search)
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockSecureChatRepository) ListUsersByCreated(ctx context.Context) ([]User, error) {
	args := m.Called()
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockSecureChatRepository) UpdateProfile(ctx context.Context, params UpdateProfileParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockSecureChatRepository) SetUserPresence(ctx context.Context, userId int, online bool, at time.Time) (User, error) {
	args := m.Called(userId, online, at)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockSecureChatRepository) SetUserAdmin(ctx context.Context, userId int, admin bool) error {
	args := m.Called(userId, admin)
	return args.Error(0)
}
func (m *MockSecureChatRepository) CountUsers(ctx context.Context, since time.Time) (UserCounts, error) {
	args := m.Called(since)
	return args.Get(0).(UserCounts), args.Error(1)
}
func (m *MockSecureChatRepository) GetRegistrationEnabled(ctx context.Context) (bool, error) {
	args := m.Called()
	return args.Bool(0), args.Error(1)
}
func (m *MockSecureChatRepository) SetRegistrationEnabled(ctx context.Context, enabled bool) error {
	args := m.Called(enabled)
	return args.Error(0)
}
func (m *MockSecureChatRepository) CreateChat(ctx context.Context, params CreateChatParams) (Chat, error) {
	args := m.Called(params)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockSecureChatRepository) GetChatByExternalId(ctx context.Context, externalId string) (Chat, error) {
	args := m.Called(externalId)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockSecureChatRepository) GetChatById(ctx context.Context, id int) (Chat, error) {
	args := m.Called(id)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockSecureChatRepository) GetChatByPersonalKey(ctx context.Context, key string) (Chat, error) {
	args := m.Called(key)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockSecureChatRepository) ListChatsForUser(ctx context.Context, userId int) ([]Chat, error) {
	args := m.Called(userId)
	return args.Get(0).([]Chat), args.Error(1)
}
func (m *MockSecureChatRepository) UpdateChatSettings(ctx context.Context, chatId int, settings ChatSettings) (Chat, error) {
	args := m.Called(chatId, settings)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockSecureChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockSecureChatRepository) GetMessageById(ctx context.Context, id int64) (Message, error) {
	args := m.Called(id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockSecureChatRepository) GetMessageByClientId(ctx context.Context, senderId int, clientId string) (Message, error) {
	args := m.Called(senderId, clientId)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockSecureChatRepository) GetMessagesByIds(ctx context.Context, ids []int64) ([]Message, error) {
	args := m.Called(ids)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockSecureChatRepository) ListMessages(ctx context.Context, chatId int, now time.Time, limit, offset int) ([]Message, error) {
	args := m.Called(chatId, now, limit, offset)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockSecureChatRepository) RecentDuplicateExists(ctx context.Context, chatId, senderId int, content string, since time.Time) (bool, error) {
	args := m.Called(chatId, senderId, content, since)
	return args.Bool(0), args.Error(1)
}
func (m *MockSecureChatRepository) MarkRead(ctx context.Context, messageId int64, userId int, at time.Time) error {
	args := m.Called(messageId, userId, at)
	return args.Error(0)
}
func (m *MockSecureChatRepository) DeleteExpiredMessages(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(now)
	return args.Get(0).(int64), args.Error(1)
}
