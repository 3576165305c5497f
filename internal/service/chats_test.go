package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/npezzotti/securechat/internal/database"
	"github.com/npezzotti/securechat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	alice = database.User{Id: 1, Email: "alice@example.com", Name: "Alice"}
	bob   = database.User{Id: 2, Email: "bob@example.com", Name: "Bob", Avatar: strPtr("bob.png")}
	carol = database.User{Id: 3, Email: "carol@example.com", Name: "Carol"}
)

func TestParseSettingsPatch(t *testing.T) {
	tcases := []struct {
		name     string
		body     string
		expected SettingsPatch
		fields   []string
	}{
		{
			name:     "partial booleans",
			body:     `{"allow_copy": false, "allow_share": true}`,
			expected: SettingsPatch{AllowCopy: boolPtr(false), AllowShare: boolPtr(true)},
		},
		{
			name:     "expiry minutes",
			body:     `{"message_expiry": 60}`,
			expected: SettingsPatch{MessageExpiry: intPtr(60)},
		},
		{
			name:     "null expiry clears override",
			body:     `{"message_expiry": null}`,
			expected: SettingsPatch{ClearMessageExpiry: true},
		},
		{
			name:   "unknown key",
			body:   `{"allow_copy": true, "theme": "dark"}`,
			fields: []string{"theme"},
		},
		{
			name:   "wrong types",
			body:   `{"allow_delete": "yes", "message_expiry": -5}`,
			fields: []string{"allow_delete", "message_expiry"},
		},
		{
			name:   "expiry beyond one year",
			body:   `{"message_expiry": 525601}`,
			fields: []string{"message_expiry"},
		},
		{
			name:   "null boolean",
			body:   `{"allow_screenshot": null}`,
			fields: []string{"allow_screenshot"},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := ParseSettingsPatch([]byte(tc.body))
			if tc.fields == nil {
				require.NoError(t, err)
				assert.Equal(t, tc.expected, p)
				return
			}

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			got := make([]string, len(verr.Fields))
			for i, f := range verr.Fields {
				got[i] = f.Field
			}
			assert.Equal(t, tc.fields, got)
		})
	}

	t.Run("not an object", func(t *testing.T) {
		_, err := ParseSettingsPatch([]byte(`[1, 2]`))
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestSettingsPatchApply(t *testing.T) {
	current := database.ChatSettings{AllowCopy: true, AllowShare: true, MessageExpiry: intPtr(30)}

	updated := SettingsPatch{AllowCopy: boolPtr(false)}.apply(current)
	assert.False(t, updated.AllowCopy)
	assert.True(t, updated.AllowShare)
	assert.Equal(t, intPtr(30), updated.MessageExpiry)

	cleared := SettingsPatch{ClearMessageExpiry: true}.apply(current)
	assert.Nil(t, cleared.MessageExpiry)
}

func TestCreatePersonalChat(t *testing.T) {
	personal := database.Chat{
		Id:           7,
		ExternalId:   "abc123",
		Name:         "Bob",
		Type:         types.ChatTypePersonal,
		CreatedBy:    1,
		IsEncrypted:  true,
		PersonalKey:  strPtr("1:2"),
		Participants: []int{1, 2},
		CreatedAt:    testNow,
	}

	t.Run("creates new chat", func(t *testing.T) {
		svc, repo := newTestService(t, Options{})
		repo.On("GetUserById", 2).Return(bob, nil).Once()
		repo.On("GetChatByPersonalKey", "1:2").Return(database.Chat{}, sql.ErrNoRows).Once()
		repo.On("CreateChat", database.CreateChatParams{
			ExternalId:   "abc123",
			Name:         "Bob",
			Type:         types.ChatTypePersonal,
			CreatedBy:    1,
			IsEncrypted:  true,
			PersonalKey:  strPtr("1:2"),
			Participants: []int{1, 2},
			CreatedAt:    testNow,
		}).Return(personal, nil).Once()
		repo.On("GetUsersByIds", []int{1, 2}).Return([]database.User{alice, bob}, nil).Once()

		chat, created, err := svc.CreatePersonalChat(context.Background(), 1, 2)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "abc123", chat.Id)
		assert.Equal(t, "Bob", chat.Name)
		assert.Equal(t, bob.Avatar, chat.Avatar)
		require.Len(t, chat.Participants, 2)
		assert.Empty(t, chat.Participants[0].Email)
	})

	t.Run("returns existing chat for either order", func(t *testing.T) {
		svc, repo := newTestService(t, Options{})
		repo.On("GetUserById", 1).Return(alice, nil).Once()
		repo.On("GetChatByPersonalKey", "1:2").Return(personal, nil).Once()
		repo.On("GetUsersByIds", []int{1, 2}).Return([]database.User{alice, bob}, nil).Once()

		chat, created, err := svc.CreatePersonalChat(context.Background(), 2, 1)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "abc123", chat.Id)
		assert.Equal(t, "Alice", chat.Name, "personal chat is named after the other participant")
	})

	t.Run("concurrent create rereads", func(t *testing.T) {
		svc, repo := newTestService(t, Options{})
		repo.On("GetUserById", 2).Return(bob, nil).Once()
		repo.On("GetChatByPersonalKey", "1:2").Return(database.Chat{}, sql.ErrNoRows).Once()
		repo.On("CreateChat", mock.Anything).Return(database.Chat{}, database.ErrDuplicate).Once()
		repo.On("GetChatByPersonalKey", "1:2").Return(personal, nil).Once()
		repo.On("GetUsersByIds", []int{1, 2}).Return([]database.User{alice, bob}, nil).Once()

		chat, created, err := svc.CreatePersonalChat(context.Background(), 1, 2)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "abc123", chat.Id)
	})

	t.Run("self chat rejected", func(t *testing.T) {
		svc, _ := newTestService(t, Options{})

		_, _, err := svc.CreatePersonalChat(context.Background(), 1, 1)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("unknown target", func(t *testing.T) {
		svc, repo := newTestService(t, Options{})
		repo.On("GetUserById", 9).Return(database.User{}, sql.ErrNoRows).Once()

		_, _, err := svc.CreatePersonalChat(context.Background(), 1, 9)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCreateGroupChat(t *testing.T) {
	t.Run("creator listed first and deduplicated", func(t *testing.T) {
		svc, repo := newTestService(t, Options{})
		group := database.Chat{
			Id: 8, ExternalId: "abc123", Name: "Team", Type: types.ChatTypeGroup,
			CreatedBy: 1, IsEncrypted: true, Participants: []int{1, 2, 3},
		}

		repo.On("GetUsersByIds", []int{1, 2, 3}).Return([]database.User{alice, bob, carol}, nil).Twice()
		repo.On("CreateChat", database.CreateChatParams{
			ExternalId:   "abc123",
			Name:         "Team",
			Type:         types.ChatTypeGroup,
			CreatedBy:    1,
			IsEncrypted:  true,
			Participants: []int{1, 2, 3},
			CreatedAt:    testNow,
		}).Return(group, nil).Once()

		chat, err := svc.CreateGroupChat(context.Background(), 1, " Team ", []int{2, 1, 3, 2})
		require.NoError(t, err)
		assert.Equal(t, "Team", chat.Name)
		assert.Len(t, chat.Participants, 3)
	})

	t.Run("validation", func(t *testing.T) {
		svc, _ := newTestService(t, Options{})

		_, err := svc.CreateGroupChat(context.Background(), 1, "", []int{1})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Len(t, verr.Fields, 2)
	})

	t.Run("unknown participant", func(t *testing.T) {
		svc, repo := newTestService(t, Options{})
		repo.On("GetUsersByIds", []int{1, 42}).Return([]database.User{alice}, nil).Once()

		_, err := svc.CreateGroupChat(context.Background(), 1, "Team", []int{42})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		repo.AssertNotCalled(t, "CreateChat", mock.Anything)
	})
}

func TestChatForParticipant(t *testing.T) {
	chat := database.Chat{Id: 7, ExternalId: "abc", Participants: []int{1, 2}}

	tcases := []struct {
		name     string
		userId   int
		chat     database.Chat
		repoErr  error
		expected error
	}{
		{name: "participant", userId: 1, chat: chat},
		{name: "outsider sees not found", userId: 3, chat: chat, expected: ErrNotFound},
		{name: "unknown chat", userId: 1, repoErr: sql.ErrNoRows, expected: ErrNotFound},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			svc, repo := newTestService(t, Options{})
			repo.On("GetChatByExternalId", "abc").Return(tc.chat, tc.repoErr).Once()

			got, err := svc.ChatForParticipant(context.Background(), tc.userId, "abc")
			if tc.expected != nil {
				assert.ErrorIs(t, err, tc.expected)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 7, got.Id)
		})
	}
}

func TestListChatsHidesExpiredLastMessage(t *testing.T) {
	svc, repo := newTestService(t, Options{})
	chats := []database.Chat{
		{Id: 7, ExternalId: "fresh", Type: types.ChatTypeGroup, Name: "A", Participants: []int{1, 2}, LastMessageId: int64Ptr(10)},
		{Id: 8, ExternalId: "stale", Type: types.ChatTypeGroup, Name: "B", Participants: []int{1, 3}, LastMessageId: int64Ptr(11)},
	}
	repo.On("ListChatsForUser", 1).Return(chats, nil).Once()
	repo.On("GetUsersByIds", []int{1, 2, 3}).Return([]database.User{alice, bob, carol}, nil).Once()
	repo.On("GetMessagesByIds", []int64{10, 11}).Return([]database.Message{
		{Id: 10, ChatId: 7, SenderId: 2, Content: "hi", ExpiresAt: testNow.Add(time.Hour)},
		{Id: 11, ChatId: 8, SenderId: 3, Content: "old", ExpiresAt: testNow.Add(-time.Hour)},
	}, nil).Once()

	views, err := svc.ListChats(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, views, 2)
	require.NotNil(t, views[0].LastMessage)
	assert.Equal(t, "hi", views[0].LastMessage.Content)
	assert.Equal(t, "Bob", views[0].LastMessage.Sender.Name)
	assert.Nil(t, views[1].LastMessage)
}

func TestUpdateSettings(t *testing.T) {
	chat := database.Chat{Id: 7, ExternalId: "abc", Type: types.ChatTypeGroup, CreatedBy: 1, Participants: []int{1, 2}}

	t.Run("creator updates", func(t *testing.T) {
		svc, repo := newTestService(t, Options{})
		want := database.ChatSettings{AllowCopy: false, MessageExpiry: intPtr(60)}
		updated := chat
		updated.Settings = want

		repo.On("GetChatByExternalId", "abc").Return(chat, nil).Once()
		repo.On("UpdateChatSettings", 7, want).Return(updated, nil).Once()
		repo.On("GetUsersByIds", []int{1, 2}).Return([]database.User{alice, bob}, nil).Once()

		view, err := svc.UpdateSettings(context.Background(), 1, "abc", SettingsPatch{MessageExpiry: intPtr(60)})
		require.NoError(t, err)
		assert.Equal(t, intPtr(60), view.Settings.MessageExpiry)
	})

	t.Run("other participant forbidden", func(t *testing.T) {
		svc, repo := newTestService(t, Options{})
		repo.On("GetChatByExternalId", "abc").Return(chat, nil).Once()

		_, err := svc.UpdateSettings(context.Background(), 2, "abc", SettingsPatch{AllowCopy: boolPtr(true)})
		assert.ErrorIs(t, err, ErrForbidden)
	})
}
