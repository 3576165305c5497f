package service

import (
	"context"

	"github.com/npezzotti/securechat/internal/database"
	"github.com/npezzotti/securechat/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockService) Register(ctx context.Context, p RegisterParams) (types.User, error) {
	args := m.Called(p)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockService) Authenticate(ctx context.Context, email, password string) (types.User, error) {
	args := m.Called(email, password)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockService) GetUser(ctx context.Context, userId int) (types.User, error) {
	args := m.Called(userId)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockService) ListUsers(ctx context.Context, search string) ([]types.User, error) {
	args := m.Called(search)
	return args.Get(0).([]types.User), args.Error(1)
}
func (m *MockService) UpdateProfile(ctx context.Context, userId int, upd ProfileUpdate) (types.User, error) {
	args := m.Called(userId, upd)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockService) SetPresence(ctx context.Context, userId int, online bool) (types.User, error) {
	args := m.Called(userId, online)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockService) IsAdmin(ctx context.Context, userId int) (bool, error) {
	args := m.Called(userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockService) ListAllUsers(ctx context.Context) ([]types.User, error) {
	args := m.Called()
	return args.Get(0).([]types.User), args.Error(1)
}
func (m *MockService) PromoteAdmin(ctx context.Context, targetId int) (types.User, error) {
	args := m.Called(targetId)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockService) DemoteAdmin(ctx context.Context, requesterId, targetId int) (types.User, error) {
	args := m.Called(requesterId, targetId)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockService) RegistrationEnabled(ctx context.Context) (bool, error) {
	args := m.Called()
	return args.Bool(0), args.Error(1)
}
func (m *MockService) SetRegistrationEnabled(ctx context.Context, enabled bool) error {
	args := m.Called(enabled)
	return args.Error(0)
}
func (m *MockService) Stats(ctx context.Context) (types.AdminStats, error) {
	args := m.Called()
	return args.Get(0).(types.AdminStats), args.Error(1)
}
func (m *MockService) CreatePersonalChat(ctx context.Context, requesterId, targetId int) (types.Chat, bool, error) {
	args := m.Called(requesterId, targetId)
	return args.Get(0).(types.Chat), args.Bool(1), args.Error(2)
}
func (m *MockService) CreateGroupChat(ctx context.Context, requesterId int, name string, participantIds []int) (types.Chat, error) {
	args := m.Called(requesterId, name, participantIds)
	return args.Get(0).(types.Chat), args.Error(1)
}
func (m *MockService) ListChats(ctx context.Context, userId int) ([]types.Chat, error) {
	args := m.Called(userId)
	return args.Get(0).([]types.Chat), args.Error(1)
}
func (m *MockService) GetChat(ctx context.Context, userId int, externalId string) (types.Chat, error) {
	args := m.Called(userId, externalId)
	return args.Get(0).(types.Chat), args.Error(1)
}
func (m *MockService) ChatForParticipant(ctx context.Context, userId int, externalId string) (database.Chat, error) {
	args := m.Called(userId, externalId)
	return args.Get(0).(database.Chat), args.Error(1)
}
func (m *MockService) UpdateSettings(ctx context.Context, userId int, externalId string, patch SettingsPatch) (types.Chat, error) {
	args := m.Called(userId, externalId, patch)
	return args.Get(0).(types.Chat), args.Error(1)
}
func (m *MockService) SendMessage(ctx context.Context, p SendParams) (types.Message, bool, error) {
	args := m.Called(p)
	return args.Get(0).(types.Message), args.Bool(1), args.Error(2)
}
func (m *MockService) ListMessages(ctx context.Context, userId int, externalId string, page, limit int) ([]types.Message, error) {
	args := m.Called(userId, externalId, page, limit)
	return args.Get(0).([]types.Message), args.Error(1)
}
func (m *MockService) MarkRead(ctx context.Context, userId int, messageId int64) (ReadResult, error) {
	args := m.Called(userId, messageId)
	return args.Get(0).(ReadResult), args.Error(1)
}
func (m *MockService) MarkReadInChat(ctx context.Context, userId int, chatId string, messageId int64) (ReadResult, error) {
	args := m.Called(userId, chatId, messageId)
	return args.Get(0).(ReadResult), args.Error(1)
}
func (m *MockService) ExpiryInfo(ctx context.Context, userId int, messageId int64) (types.ExpiryInfo, error) {
	args := m.Called(userId, messageId)
	return args.Get(0).(types.ExpiryInfo), args.Error(1)
}
func (m *MockService) PurgeExpired(ctx context.Context) (int64, error) {
	args := m.Called()
	return args.Get(0).(int64), args.Error(1)
}
