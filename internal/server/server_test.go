package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/npezzotti/securechat/internal/database"
	"github.com/npezzotti/securechat/internal/service"
	"github.com/npezzotti/securechat/internal/stats"
	"github.com/npezzotti/securechat/internal/testutil"
	"github.com/npezzotti/securechat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// newTestChatServer creates a ChatServer whose run loop is not started.
func newTestChatServer(t *testing.T, svc ChatService, su *stats.MockStatsUpdater) *ChatServer {
	su.On("RegisterMetric", mock.Anything).Return().Times(4)

	cs, err := NewChatServer(testutil.TestLogger(t), svc, su)
	require.NoError(t, err, "failed to create test ChatServer")
	return cs
}

// quietStats tolerates gauge updates the test does not care about.
func quietStats() *stats.MockStatsUpdater {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()
	return su
}

func newTestClient(cs *ChatServer, user types.User) *Client {
	return NewClient(user, nil, cs, cs.log)
}

func expectMessage(t *testing.T, c *Client) *ServerMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("expected a message to be queued to the client")
		return nil
	}
}

func expectNoMessage(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("expected no message, got %+v", msg)
	default:
	}
}

func TestNewChatServer(t *testing.T) {
	svc := &service.MockService{}
	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)

	cs := newTestChatServer(t, svc, su)
	assert.Equal(t, svc, cs.svc, "expected service to be set")
	assert.NotNil(t, cs.joinChan, "expected joinChan to be initialized")
	assert.NotNil(t, cs.unloadRoomChan, "expected unloadRoomChan to be initialized")
	assert.NotNil(t, cs.broadcastChan, "expected broadcastChan to be initialized")
	assert.NotNil(t, cs.stop, "expected stop channel to be initialized")
	assert.NotNil(t, cs.clients, "expected clients map to be initialized")
	assert.NotNil(t, cs.userMap, "expected userMap to be initialized")
	su.AssertCalled(t, "RegisterMetric", stats.DuplicatesSuppressed)
}

func TestChatServerShutdown(t *testing.T) {
	t.Run("successful shutdown", func(t *testing.T) {
		cs := newTestChatServer(t, &service.MockService{}, &stats.MockStatsUpdater{})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		go func() {
			req := <-cs.stop
			close(req.done)
		}()

		assert.NoError(t, cs.Shutdown(ctx))
	})

	t.Run("fails with context deadline exceeded", func(t *testing.T) {
		cs := newTestChatServer(t, &service.MockService{}, &stats.MockStatsUpdater{})

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		go func() {
			<-cs.stop // never signal done
		}()

		assert.ErrorIs(t, cs.Shutdown(ctx), context.DeadlineExceeded)
	})

	t.Run("run loop not started", func(t *testing.T) {
		cs := newTestChatServer(t, &service.MockService{}, &stats.MockStatsUpdater{})

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		assert.ErrorIs(t, cs.Shutdown(ctx), context.DeadlineExceeded)
	})
}

func TestChatServerShutdown_Integration(t *testing.T) {
	t.Run("no rooms", func(t *testing.T) {
		cs := newTestChatServer(t, &service.MockService{}, &stats.MockStatsUpdater{})
		go cs.Run()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, cs.Shutdown(ctx))
	})

	t.Run("active rooms and clients", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		su.On("Incr", stats.NumActiveRooms).Once()
		su.On("Decr", stats.NumActiveRooms).Once()
		su.On("Incr", stats.NumActiveClients).Once()
		defer su.AssertExpectations(t)

		cs := newTestChatServer(t, &service.MockService{}, su)
		c := newTestClient(cs, types.User{Id: 1})
		cs.addClient(c)

		room := newRoom(cs, database.Chat{Id: 7, ExternalId: "abc"})
		cs.addRoom(room.externalId, room)
		go room.start()
		go cs.Run()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, cs.Shutdown(ctx))

		_, ok := cs.getRoom(room.externalId)
		assert.False(t, ok, "expected room to be unloaded after shutdown")
		assert.Equal(t, 0, cs.numRooms)

		select {
		case <-room.done:
		default:
			t.Error("expected room goroutine to exit")
		}
		select {
		case <-c.stop:
		default:
			t.Error("expected client to be stopped")
		}
	})
}

func TestChatServer_addClient_removeClient(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.NumActiveClients).Twice()
	su.On("Decr", stats.NumActiveClients).Twice()
	defer su.AssertExpectations(t)

	cs := newTestChatServer(t, &service.MockService{}, su)
	user := types.User{Id: 1}
	c1 := &Client{user: user}
	c2 := &Client{user: user}

	cs.addClient(c1)
	cs.addClient(c2)
	assert.Len(t, cs.clients, 2)
	assert.Len(t, cs.userMap[user.Id], 2)

	assert.Equal(t, 1, cs.removeClient(c1), "expected one remaining connection")
	assert.Equal(t, 0, cs.removeClient(c2), "expected no remaining connections")
	assert.Empty(t, cs.clients)
	assert.NotContains(t, cs.userMap, user.Id)

	assert.Equal(t, 0, cs.removeClient(c2), "removing twice is a no-op")
}

func Test_getClients(t *testing.T) {
	user := types.User{Id: 1}
	tcases := []struct {
		name    string
		clients []*Client
	}{
		{name: "single client", clients: []*Client{{user: user}}},
		{name: "multiple clients", clients: []*Client{{user: user}, {user: user}}},
		{name: "no clients", clients: []*Client{}},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cs := newTestChatServer(t, &service.MockService{}, quietStats())

			for _, client := range tc.clients {
				cs.addClient(client)
			}

			clients := cs.getClients(user.Id)
			assert.Len(t, clients, len(tc.clients))
			for _, client := range tc.clients {
				assert.Contains(t, clients, client)
			}
		})
	}
}

func TestChatServer_addRoom_getRoom_removeRoom(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.NumActiveRooms).Once()
	su.On("Decr", stats.NumActiveRooms).Once()
	defer su.AssertExpectations(t)

	cs := newTestChatServer(t, &service.MockService{}, su)
	room := &Room{externalId: "abc"}

	cs.addRoom("abc", room)
	got, ok := cs.getRoom("abc")
	assert.True(t, ok, "expected room to be found")
	assert.Equal(t, room, got)
	assert.Equal(t, 1, cs.numRooms)

	cs.removeRoom("abc")
	cs.removeRoom("abc")
	_, ok = cs.getRoom("abc")
	assert.False(t, ok, "expected room to be removed")
	assert.Equal(t, 0, cs.numRooms)
}

func TestChatServer_handleBroadcast(t *testing.T) {
	t.Run("everyone except the skipped client", func(t *testing.T) {
		cs := newTestChatServer(t, &service.MockService{}, quietStats())
		c1 := newTestClient(cs, types.User{Id: 1})
		c2 := newTestClient(cs, types.User{Id: 2})
		c3 := newTestClient(cs, types.User{Id: 3})
		for _, c := range []*Client{c1, c2, c3} {
			cs.addClient(c)
		}

		msg := &ServerMessage{SkipClient: c2}
		cs.handleBroadcast(msg)

		assert.Equal(t, msg, expectMessage(t, c1))
		expectNoMessage(t, c2)
		assert.Equal(t, msg, expectMessage(t, c3))
		assert.False(t, msg.Timestamp.IsZero(), "expected timestamp to be stamped")
	})

	t.Run("single user", func(t *testing.T) {
		cs := newTestChatServer(t, &service.MockService{}, quietStats())
		c1 := newTestClient(cs, types.User{Id: 1})
		c2 := newTestClient(cs, types.User{Id: 2})
		cs.addClient(c1)
		cs.addClient(c2)

		cs.handleBroadcast(&ServerMessage{UserId: 2})

		expectNoMessage(t, c1)
		expectMessage(t, c2)
	})
}

func TestChatServerRegisterClient(t *testing.T) {
	t.Run("marks user online and notifies others", func(t *testing.T) {
		svc := &service.MockService{}
		defer svc.AssertExpectations(t)
		lastSeen := Now()
		svc.On("SetPresence", 1, true).Return(types.User{Id: 1, IsOnline: true, LastSeen: lastSeen}, nil).Once()

		cs := newTestChatServer(t, svc, quietStats())
		c := newTestClient(cs, types.User{Id: 1})

		cs.RegisterClient(c)
		assert.Contains(t, cs.clients, c)

		select {
		case msg := <-cs.broadcastChan:
			require.NotNil(t, msg.Notification)
			require.NotNil(t, msg.Notification.Presence)
			assert.Equal(t, Presence{UserId: 1, Online: true, LastSeen: lastSeen}, *msg.Notification.Presence)
			assert.Equal(t, c, msg.SkipClient, "expected the new connection to be skipped")
		default:
			t.Error("expected presence broadcast")
		}
	})

	t.Run("presence failure keeps connection", func(t *testing.T) {
		svc := &service.MockService{}
		defer svc.AssertExpectations(t)
		svc.On("SetPresence", 1, true).Return(types.User{}, errors.New("db down")).Once()

		cs := newTestChatServer(t, svc, quietStats())
		c := newTestClient(cs, types.User{Id: 1})

		cs.RegisterClient(c)
		assert.Contains(t, cs.clients, c)
		assert.Empty(t, cs.broadcastChan)
	})
}

func TestChatServerDeRegisterClient(t *testing.T) {
	svc := &service.MockService{}
	defer svc.AssertExpectations(t)
	svc.On("SetPresence", 1, false).Return(types.User{Id: 1, LastSeen: Now()}, nil).Once()

	cs := newTestChatServer(t, svc, quietStats())
	c1 := newTestClient(cs, types.User{Id: 1})
	c2 := newTestClient(cs, types.User{Id: 1})
	cs.addClient(c1)
	cs.addClient(c2)

	cs.DeRegisterClient(c1)
	assert.Empty(t, cs.broadcastChan, "user still has a connection")

	cs.DeRegisterClient(c2)
	select {
	case msg := <-cs.broadcastChan:
		require.NotNil(t, msg.Notification.Presence)
		assert.False(t, msg.Notification.Presence.Online)
		assert.Nil(t, msg.SkipClient)
	default:
		t.Error("expected offline presence broadcast")
	}
}

func TestChatServerBroadcastRegistration(t *testing.T) {
	cs := newTestChatServer(t, &service.MockService{}, quietStats())
	c := newTestClient(cs, types.User{Id: 1})
	cs.addClient(c)
	go cs.Run()
	defer cs.Shutdown(context.Background())

	cs.BroadcastRegistration(false)

	msg := expectMessage(t, c)
	require.NotNil(t, msg.Notification)
	assert.Equal(t, &Registration{Enabled: false}, msg.Notification.Registration)
}

func TestChatServerRoomLifecycle(t *testing.T) {
	svc := &service.MockService{}
	cs := newTestChatServer(t, svc, quietStats())
	go cs.Run()
	defer cs.Shutdown(context.Background())

	c := newTestClient(cs, types.User{Id: 1})
	chat := database.Chat{Id: 7, ExternalId: "abc", Participants: []int{1}}
	cs.joinChan <- &ClientMessage{BaseMessage: BaseMessage{Id: 1}, Join: &Join{ChatId: "abc"}, client: c, chat: chat}

	msg := expectMessage(t, c)
	require.NotNil(t, msg.Response)
	assert.Equal(t, http.StatusOK, msg.Response.ResponseCode)
	assert.NotNil(t, c.getRoom("abc"), "expected client to be in the room")

	room, ok := cs.getRoom("abc")
	require.True(t, ok)
	room.leaveChan <- &ClientMessage{BaseMessage: BaseMessage{Id: 2}, Leave: &Leave{ChatId: "abc"}, client: c}
	expectMessage(t, c)

	assert.Eventually(t, func() bool {
		_, ok := cs.getRoom("abc")
		return !ok
	}, idleRoomTimeout+2*time.Second, 50*time.Millisecond, "expected idle room to be unloaded")
}

func TestErrorResponse(t *testing.T) {
	cs := newTestChatServer(t, &service.MockService{}, &stats.MockStatsUpdater{})

	tcases := []struct {
		err  error
		code int
	}{
		{&service.ValidationError{Message: "invalid message"}, http.StatusBadRequest},
		{service.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", service.ErrForbidden), http.StatusForbidden},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range tcases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			msg := cs.errorResponse(9, tc.err)
			require.NotNil(t, msg.Response)
			assert.Equal(t, 9, msg.Id)
			assert.Equal(t, tc.code, msg.Response.ResponseCode)
			assert.NotEmpty(t, msg.Response.Error)
		})
	}
}

func TestChatServerPublish(t *testing.T) {
	t.Run("queued to the loaded room", func(t *testing.T) {
		cs := newTestChatServer(t, &service.MockService{}, quietStats())
		room := newTestRoom(cs)
		cs.addRoom(room.externalId, room)

		msg := types.Message{Id: 5, ChatId: "abc", Content: "hello"}
		cs.PublishMessage(msg)
		cs.PublishRead(service.ReadResult{ChatId: "abc", MessageId: 5, IsRead: true, ReaderId: 2})

		require.Len(t, room.notifyChan, 2)
		first := <-room.notifyChan
		require.NotNil(t, first.Message)
		assert.Equal(t, int64(5), first.Message.Id)

		second := <-room.notifyChan
		require.NotNil(t, second.Notification)
		assert.Equal(t, 2, second.Notification.MessageUpdated.ReaderId)
	})

	t.Run("no room loaded", func(t *testing.T) {
		cs := newTestChatServer(t, &service.MockService{}, quietStats())
		assert.NotPanics(t, func() {
			cs.PublishMessage(types.Message{Id: 5, ChatId: "missing"})
		})
	})

	t.Run("room broadcasts to members", func(t *testing.T) {
		cs := newTestChatServer(t, &service.MockService{}, quietStats())
		room := newRoom(cs, database.Chat{Id: 7, ExternalId: "abc"})
		cs.addRoom(room.externalId, room)
		go room.start()
		defer func() {
			done := make(chan bool, 1)
			room.exit <- exitReq{done: done}
			<-done
		}()

		c := newTestClient(cs, types.User{Id: 1})
		room.joinChan <- &ClientMessage{BaseMessage: BaseMessage{Id: 1}, Join: &Join{ChatId: "abc"}, client: c}
		ack := expectMessage(t, c)
		require.NotNil(t, ack.Response)

		cs.PublishMessage(types.Message{Id: 9, ChatId: "abc", Content: "from rest"})
		got := expectMessage(t, c)
		require.NotNil(t, got.Message)
		assert.Equal(t, "from rest", got.Message.Content)
	})
}
