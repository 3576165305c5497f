package server

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/npezzotti/securechat/internal/database"
	"github.com/npezzotti/securechat/internal/service"
	"github.com/npezzotti/securechat/internal/stats"
)

const idleRoomTimeout = time.Second * 5

type exitReq struct {
	// idle asks the room to exit only if nobody is in it.
	idle bool
	done chan bool
}

type Room struct {
	id            int
	externalId    string
	cs            *ChatServer
	joinChan      chan *ClientMessage
	leaveChan     chan *ClientMessage
	clientMsgChan chan *ClientMessage
	// notifyChan carries frames produced outside the room, such as REST writes.
	notifyChan chan *ServerMessage
	clients    map[*Client]struct{}
	userMap    map[int]map[*Client]struct{}
	log        *log.Logger
	// killTimer unloads the room once it has been empty for idleRoomTimeout
	killTimer *time.Timer
	exit      chan exitReq
	done      chan struct{}
}

func newRoom(cs *ChatServer, chat database.Chat) *Room {
	return &Room{
		id:            chat.Id,
		externalId:    chat.ExternalId,
		cs:            cs,
		joinChan:      make(chan *ClientMessage, 256),
		leaveChan:     make(chan *ClientMessage, 256),
		clientMsgChan: make(chan *ClientMessage, 256),
		notifyChan:    make(chan *ServerMessage, 256),
		clients:       make(map[*Client]struct{}),
		userMap:       make(map[int]map[*Client]struct{}),
		log:           cs.log,
		exit:          make(chan exitReq),
		done:          make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.externalId)
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()
	defer close(r.done)

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leave := <-r.leaveChan:
			r.handleLeave(leave)
		case msg := <-r.clientMsgChan:
			r.handleClientMessage(msg)
		case n := <-r.notifyChan:
			r.broadcast(n)
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			if e.idle && (len(r.clients) > 0 || len(r.joinChan) > 0) {
				e.done <- false
				continue
			}
			r.handleRoomExit(e)
			return
		}
	}
}

func (r *Room) handleClientMessage(msg *ClientMessage) {
	if _, ok := r.clients[msg.client]; !ok {
		msg.client.queueMessage(ErrChatNotFound(msg.Id))
		return
	}

	switch {
	case msg.Publish != nil:
		r.saveAndBroadcast(msg)
	case msg.TypingStart != nil:
		r.handleTyping(msg, true)
	case msg.TypingStop != nil:
		r.handleTyping(msg, false)
	case msg.Read != nil:
		r.handleRead(msg)
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q timed out", r.externalId)
	select {
	case r.cs.unloadRoomChan <- r.externalId:
	default:
		r.log.Printf("unload channel full, keeping room %q", r.externalId)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.externalId)
	if r.killTimer != nil {
		r.killTimer.Stop()
	}

	for c := range r.clients {
		c.delRoom(r.externalId)
	}

	// joins forwarded after the exit decision cannot be served
	for len(r.joinChan) > 0 {
		join := <-r.joinChan
		join.client.queueMessage(ErrServiceUnavailable(join.Id))
	}

	if e.done != nil {
		e.done <- true
	}
}

func (r *Room) handleJoin(join *ClientMessage) {
	r.killTimer.Stop()

	c := join.client
	if !r.addClient(c) {
		// the connection closed while the join was queued
		if len(r.clients) == 0 {
			r.killTimer.Reset(idleRoomTimeout)
		}
		return
	}

	online := make([]int, 0, len(r.userMap))
	for id := range r.userMap {
		online = append(online, id)
	}

	c.queueMessage(NoErrOK(join.Id, map[string]any{
		"chat_id": r.externalId,
		"online":  online,
	}))
}

func (r *Room) handleLeave(leave *ClientMessage) {
	c := leave.client
	if _, ok := r.clients[c]; !ok {
		c.queueMessage(ErrChatNotFound(leave.Id))
		return
	}

	r.removeClient(c)
	c.queueMessage(NoErrOK(leave.Id, nil))

	// whoever was typing has gone
	if r.userMap[c.user.Id] == nil {
		r.broadcast(&ServerMessage{
			Notification: &Notification{
				TypingStop: &Typing{ChatId: r.externalId, UserId: c.user.Id},
			},
		})
	}
}

func (r *Room) handleTyping(msg *ClientMessage, start bool) {
	typing := &Typing{ChatId: r.externalId, UserId: msg.UserId}
	n := &Notification{}
	if start {
		n.TypingStart = typing
	} else {
		n.TypingStop = typing
	}

	r.broadcast(&ServerMessage{Notification: n, SkipClient: msg.client})
}

func (r *Room) handleRead(msg *ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	res, err := r.cs.svc.MarkReadInChat(ctx, msg.UserId, r.externalId, msg.Read.MessageId)
	if err != nil {
		msg.client.queueMessage(r.cs.errorResponse(msg.Id, err))
		return
	}

	msg.client.queueMessage(NoErrOK(msg.Id, res))
	r.broadcast(messageUpdated(res))
}

func (r *Room) saveAndBroadcast(msg *ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	p := msg.Publish
	saved, created, err := r.cs.svc.SendMessage(ctx, service.SendParams{
		SenderId:       msg.UserId,
		ChatId:         r.externalId,
		Content:        p.Content,
		Type:           p.Type,
		FileUrl:        p.FileUrl,
		FileName:       p.FileName,
		FileSize:       p.FileSize,
		ClientId:       p.ClientId,
		SuppressRecent: true,
	})
	switch {
	case errors.Is(err, service.ErrDuplicateMessage):
		r.log.Printf("dropped duplicate message from user %d in room %q", msg.UserId, r.externalId)
		r.cs.stats.Incr(stats.DuplicatesSuppressed)
		return
	case err != nil:
		msg.client.queueMessage(r.cs.errorResponse(msg.Id, err))
		return
	case !created:
		// a retry of a message already delivered to the room
		msg.client.queueMessage(NoErrOK(msg.Id, saved))
		return
	}

	msg.client.queueMessage(NoErrAccepted(msg.Id, map[string]any{"message_id": saved.Id}))
	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Id:        msg.Id,
			Timestamp: saved.CreatedAt,
		},
		Message: &saved,
	})
	r.cs.stats.Incr(stats.MessagesSent)
}

func (r *Room) addClient(c *Client) bool {
	if !c.addRoom(r) {
		return false
	}

	r.clients[c] = struct{}{}
	if r.userMap[c.user.Id] == nil {
		r.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	r.userMap[c.user.Id][c] = struct{}{}
	return true
}

func (r *Room) removeClient(c *Client) {
	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	c.delRoom(r.externalId)

	if userClients, ok := r.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, c.user.Id)
		}
	}

	if len(r.clients) == 0 {
		r.log.Printf("no clients in %q, starting kill timer", r.externalId)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) broadcast(msg *ServerMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = Now()
	}

	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}
		client.queueMessage(msg)
	}
}
