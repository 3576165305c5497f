// Package server implements the realtime gateway. A ChatServer owns the
// connected clients and one Room goroutine per active chat.
package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/securechat/internal/database"
	"github.com/npezzotti/securechat/internal/service"
	"github.com/npezzotti/securechat/internal/stats"
	"github.com/npezzotti/securechat/internal/types"
)

// persistTimeout bounds storage calls made on behalf of a connection. It is
// detached from the connection so a dropped socket does not abort a write.
const persistTimeout = 5 * time.Second

// ChatService is the slice of the domain service the gateway depends on.
type ChatService interface {
	ChatForParticipant(ctx context.Context, userId int, externalId string) (database.Chat, error)
	SendMessage(ctx context.Context, p service.SendParams) (types.Message, bool, error)
	MarkReadInChat(ctx context.Context, userId int, chatId string, messageId int64) (service.ReadResult, error)
	SetPresence(ctx context.Context, userId int, online bool) (types.User, error)
	IsAdmin(ctx context.Context, userId int) (bool, error)
	SetRegistrationEnabled(ctx context.Context, enabled bool) error
}

type stopReq struct {
	done chan struct{}
}

type ChatServer struct {
	log            *log.Logger
	svc            ChatService
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	userMap        map[int]map[*Client]struct{}
	clientsLock    sync.RWMutex
	roomsMap       sync.Map
	numRooms       int
	joinChan       chan *ClientMessage
	unloadRoomChan chan string
	broadcastChan  chan *ServerMessage
	stop           chan stopReq
	exited         chan struct{}
}

func NewChatServer(logger *log.Logger, svc ChatService, su stats.StatsProvider) (*ChatServer, error) {
	cs := &ChatServer{
		log:            logger,
		svc:            svc,
		stats:          su,
		clients:        make(map[*Client]struct{}),
		userMap:        make(map[int]map[*Client]struct{}),
		joinChan:       make(chan *ClientMessage, 256),
		unloadRoomChan: make(chan string, 256),
		broadcastChan:  make(chan *ServerMessage, 256),
		stop:           make(chan stopReq),
		exited:         make(chan struct{}),
	}

	cs.stats.RegisterMetric(stats.NumActiveClients)
	cs.stats.RegisterMetric(stats.NumActiveRooms)
	cs.stats.RegisterMetric(stats.MessagesSent)
	cs.stats.RegisterMetric(stats.DuplicatesSuppressed)

	return cs, nil
}

func (cs *ChatServer) Run() {
	defer close(cs.exited)

	for {
		select {
		case join := <-cs.joinChan:
			cs.handleJoin(join)
		case id := <-cs.unloadRoomChan:
			cs.handleUnloadRoom(id)
		case msg := <-cs.broadcastChan:
			cs.handleBroadcast(msg)
		case req := <-cs.stop:
			cs.handleStop()
			close(req.done)
			return
		}
	}
}

func (cs *ChatServer) handleJoin(join *ClientMessage) {
	room, ok := cs.getRoom(join.chat.ExternalId)
	if !ok {
		room = newRoom(cs, join.chat)
		cs.addRoom(room.externalId, room)
		go room.start()
	}

	select {
	case room.joinChan <- join:
	default:
		cs.log.Printf("join channel full on room %q", room.externalId)
		join.client.queueMessage(ErrServiceUnavailable(join.Id))
	}
}

func (cs *ChatServer) handleUnloadRoom(id string) {
	room, ok := cs.getRoom(id)
	if !ok {
		return
	}

	done := make(chan bool, 1)
	room.exit <- exitReq{idle: true, done: done}
	if <-done {
		cs.removeRoom(id)
	}
}

func (cs *ChatServer) handleStop() {
	cs.log.Println("shutting down rooms")
	cs.roomsMap.Range(func(key, value any) bool {
		room := value.(*Room)
		cs.log.Printf("shutting down room %q", room.externalId)

		done := make(chan bool, 1)
		room.exit <- exitReq{done: done}
		<-done

		cs.removeRoom(room.externalId)
		return true
	})

	cs.clientsLock.RLock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.RUnlock()
}

// handleBroadcast delivers a server wide message to every connection, or
// to one user's connections when UserId is set.
func (cs *ChatServer) handleBroadcast(msg *ServerMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = Now()
	}

	var targets []*Client
	if msg.UserId != 0 {
		targets = cs.getClients(msg.UserId)
	} else {
		cs.clientsLock.RLock()
		targets = make([]*Client, 0, len(cs.clients))
		for c := range cs.clients {
			targets = append(targets, c)
		}
		cs.clientsLock.RUnlock()
	}

	for _, c := range targets {
		if c == msg.SkipClient {
			continue
		}
		c.queueMessage(msg)
	}
}

func (cs *ChatServer) broadcast(msg *ServerMessage) {
	select {
	case cs.broadcastChan <- msg:
	case <-cs.exited:
	}
}

// RegisterClient adds an authenticated connection, marks its user online
// and tells every other connection.
func (cs *ChatServer) RegisterClient(c *Client) {
	cs.log.Printf("adding connection %s for user %d", c.id, c.user.Id)
	cs.addClient(c)

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	u, err := cs.svc.SetPresence(ctx, c.user.Id, true)
	if err != nil {
		cs.log.Printf("SetPresence(%d, true): %v", c.user.Id, err)
		return
	}
	cs.BroadcastPresence(u, c)
}

// DeRegisterClient removes a connection. The user goes offline once their
// last connection is gone.
func (cs *ChatServer) DeRegisterClient(c *Client) {
	cs.log.Printf("removing connection %s for user %d", c.id, c.user.Id)
	if remaining := cs.removeClient(c); remaining > 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	u, err := cs.svc.SetPresence(ctx, c.user.Id, false)
	if err != nil {
		cs.log.Printf("SetPresence(%d, false): %v", c.user.Id, err)
		return
	}
	cs.BroadcastPresence(u, nil)
}

func (cs *ChatServer) BroadcastPresence(u types.User, skip *Client) {
	cs.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Notification: &Notification{
			Presence: &Presence{
				UserId:   u.Id,
				Online:   u.IsOnline,
				LastSeen: u.LastSeen,
			},
		},
		SkipClient: skip,
	})
}

func (cs *ChatServer) BroadcastRegistration(enabled bool) {
	cs.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Notification: &Notification{
			Registration: &Registration{Enabled: enabled},
		},
	})
}

// PublishMessage delivers a message persisted outside the gateway to the
// connections that joined its chat. Chats with no loaded room are skipped.
func (cs *ChatServer) PublishMessage(m types.Message) {
	cs.notifyRoom(m.ChatId, &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: m.CreatedAt},
		Message:     &m,
	})
}

func (cs *ChatServer) PublishRead(res service.ReadResult) {
	cs.notifyRoom(res.ChatId, messageUpdated(res))
}

func (cs *ChatServer) notifyRoom(chatId string, msg *ServerMessage) {
	room, ok := cs.getRoom(chatId)
	if !ok {
		return
	}

	select {
	case room.notifyChan <- msg:
	case <-room.done:
	default:
		cs.log.Printf("notify channel full on room %q, dropping frame", chatId)
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.clients[c] = struct{}{}
	if cs.userMap[c.user.Id] == nil {
		cs.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	cs.userMap[c.user.Id][c] = struct{}{}

	cs.stats.Incr(stats.NumActiveClients)
}

// removeClient returns how many connections the user still has.
func (cs *ChatServer) removeClient(c *Client) int {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		return len(cs.userMap[c.user.Id])
	}

	delete(cs.clients, c)
	if userClients, ok := cs.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(cs.userMap, c.user.Id)
		}
	}

	cs.stats.Decr(stats.NumActiveClients)
	return len(cs.userMap[c.user.Id])
}

func (cs *ChatServer) getClients(userId int) []*Client {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	clients := make([]*Client, 0, len(cs.userMap[userId]))
	for c := range cs.userMap[userId] {
		clients = append(clients, c)
	}
	return clients
}

func (cs *ChatServer) addRoom(id string, r *Room) {
	cs.roomsMap.Store(id, r)
	cs.numRooms++
	cs.stats.Incr(stats.NumActiveRooms)
}

func (cs *ChatServer) getRoom(id string) (*Room, bool) {
	r, ok := cs.roomsMap.Load(id)
	if !ok {
		return nil, false
	}
	return r.(*Room), true
}

func (cs *ChatServer) removeRoom(id string) {
	if _, ok := cs.roomsMap.LoadAndDelete(id); ok {
		cs.numRooms--
		cs.stats.Decr(stats.NumActiveRooms)
	}
}

// Shutdown stops every room and client. It returns ctx.Err() if that does
// not finish before ctx is done.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	req := stopReq{done: make(chan struct{})}

	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// errorResponse maps a service error to a response frame.
func (cs *ChatServer) errorResponse(id int, err error) *ServerMessage {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return ErrBadRequest(id, verr.Error())
	case errors.Is(err, service.ErrNotFound):
		return ErrNotFound(id)
	case errors.Is(err, service.ErrForbidden):
		return ErrForbidden(id)
	default:
		cs.log.Println("internal error:", err)
		return ErrInternalError(id)
	}
}
