package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/manpreetbhatti/coderoom/internal/protocol"
	"github.com/manpreetbhatti/coderoom/internal/room"
	"github.com/manpreetbhatti/coderoom/pkg/logger"
)

const roomNotFoundMessage = "Room does not exist"

// Hub owns every room mutation. Events from all connections are processed
// one at a time on the Run goroutine, so a room never sees two mutations
// in flight and fan-out always reads a fully applied state.
type Hub struct {
	registry *room.Registry

	// Connected clients by connection id. Written only by the Run
	// goroutine; mu guards reads from other goroutines.
	clients map[string]*Client

	// Inbound events from clients
	inbound chan *Event

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Server-authored document replacements
	restore chan *restoreRequest

	messagesPerSecond float64
	messageBurst      int

	done     chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex
}

// Event is one decoded client frame waiting for the hub.
type Event struct {
	Client  *Client
	Type    protocol.EventType
	Payload json.RawMessage
}

type restoreRequest struct {
	roomID  string
	content string
	result  chan bool
}

func NewHub(registry *room.Registry) *Hub {
	return &Hub{
		registry:          registry,
		clients:           make(map[string]*Client),
		inbound:           make(chan *Event, 256),
		register:          make(chan *Client),
		unregister:        make(chan *Client),
		restore:           make(chan *restoreRequest),
		messagesPerSecond: defaultMessagesPerSecond,
		messageBurst:      defaultMessageBurst,
		done:              make(chan struct{}),
	}
}

// WithRateLimit sets the inbound frame budget given to each new connection.
func (h *Hub) WithRateLimit(perSecond float64, burst int) *Hub {
	h.messagesPerSecond = perSecond
	h.messageBurst = burst
	return h
}

func (h *Hub) Registry() *room.Registry {
	return h.registry
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case event := <-h.inbound:
			h.dispatch(event)

		case req := <-h.restore:
			req.result <- h.restoreDocument(req.roomID, req.content)
		}
	}
}

// Stop ends Run and closes every client queue.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// RestoreDocument replaces a live room's document on behalf of the server
// and pushes it to every participant. Reports false if the room is gone.
func (h *Hub) RestoreDocument(roomID, content string) bool {
	req := &restoreRequest{roomID: roomID, content: content, result: make(chan bool, 1)}

	select {
	case h.restore <- req:
	case <-h.done:
		return false
	}

	select {
	case ok := <-req.result:
		return ok
	case <-h.done:
		return false
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) GetRoomCount() int {
	return h.registry.Count()
}

// GetActiveRooms maps live room ids to their participant counts.
func (h *Hub) GetActiveRooms() map[string]int {
	rooms := h.registry.Rooms()
	active := make(map[string]int, len(rooms))
	for _, r := range rooms {
		active[r.ID] = r.Len()
	}
	return active
}

func (h *Hub) enqueue(event *Event) bool {
	select {
	case <-h.done:
		return false
	default:
	}

	select {
	case h.inbound <- event:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leaveHub(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) addClient(client *Client) {
	if client.state == nil {
		client.state = unjoined{}
	}

	h.mu.Lock()
	h.clients[client.id] = client
	total := len(h.clients)
	h.mu.Unlock()

	logger.Debug("Client %s connected (total: %d)", client.id, total)
}

// removeClient is the disconnect flow. A client that never joined only
// loses its queue.
func (h *Hub) removeClient(client *Client) {
	if _, ok := h.clients[client.id]; !ok {
		return
	}

	if j, ok := client.state.(joined); ok {
		h.leave(client, j)
	}

	h.mu.Lock()
	delete(h.clients, client.id)
	total := len(h.clients)
	h.mu.Unlock()

	client.closeSend()
	logger.Debug("Client %s disconnected (total: %d)", client.id, total)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, client := range h.clients {
		client.closeSend()
		delete(h.clients, id)
	}
	logger.Info("Hub stopped")
}

func (h *Hub) dispatch(event *Event) {
	client := event.Client

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered while handling %q from client %s: %v", event.Type, client.id, r)
		}
	}()

	if _, ok := h.clients[client.id]; !ok {
		return
	}

	var err error
	switch event.Type {
	case protocol.EventJoinRoom:
		err = h.handleJoin(client, event.Payload)
	case protocol.EventCodeChange:
		err = h.handleCodeChange(client, event.Payload)
	case protocol.EventCursorMove:
		err = h.handleCursorMove(client, event.Payload)
	case protocol.EventTyping:
		err = h.handleTyping(client, event.Payload)
	default:
		err = protocol.ErrMalformed
	}

	switch {
	case err == nil:
	case errors.Is(err, protocol.ErrMalformed), errors.Is(err, protocol.ErrInvalidDelta):
		logger.Warn("⚠️ Dropping %q from client %s: %v", event.Type, client.id, err)
	case errors.Is(err, room.ErrRoomNotFound), errors.Is(err, room.ErrParticipantNotFound), errors.Is(err, errNotJoined):
		logger.Debug("Ignoring %q from client %s: %v", event.Type, client.id, err)
	default:
		logger.Error("Failed to handle %q from client %s: %v", event.Type, client.id, err)
	}
}

func (h *Hub) handleJoin(client *Client, payload json.RawMessage) error {
	var msg protocol.JoinRoom
	if err := protocol.Decode(payload, &msg); err != nil {
		return err
	}

	// Look up before leaving: a failed join must not touch the current room
	rm, ok := h.registry.GetRoom(msg.RoomID)
	if !ok {
		// The only not-found the requester hears about
		h.sendTo(client, protocol.EventRoomError, roomNotFoundMessage)
		logger.Info("Client %s tried to join missing room %s", client.id, msg.RoomID)
		return nil
	}

	if j, ok := client.state.(joined); ok {
		if j.roomID == msg.RoomID {
			logger.Warn("Client %s is already in room %s", client.id, msg.RoomID)
			return nil
		}
		h.leave(client, j)
	}

	color := room.RandomColor()
	rm.AddParticipant(room.Participant{
		ID:       client.id,
		Username: msg.Username,
		Color:    color,
	})
	client.state = joined{roomID: rm.ID}

	// Document first, then color, then presence
	h.sendTo(client, protocol.EventInitialCode, rm.Document())
	h.sendTo(client, protocol.EventUserColor, color)
	h.broadcastUserList(rm)

	logger.Info("%s joined room %s (total: %d)", msg.Username, rm.ID, rm.Len())
	return nil
}

func (h *Hub) handleCodeChange(client *Client, payload json.RawMessage) error {
	var msg protocol.CodeChange
	if err := protocol.Decode(payload, &msg); err != nil {
		return err
	}

	rm, err := h.joinedRoom(client, msg.RoomID)
	if err != nil {
		return err
	}

	update := protocol.CodeUpdate{UserID: client.id, Cursor: msg.Cursor}
	if msg.Delta != nil {
		delta := *msg.Delta
		if _, err := rm.UpdateDocument(func(current string) (string, error) {
			return protocol.ApplyDelta(current, delta)
		}); err != nil {
			return err
		}
		update.Delta = msg.Delta
	} else {
		rm.SetDocument(*msg.Code)
		update.Code = msg.Code
	}

	h.broadcast(rm, protocol.EventCodeUpdate, update, client.id)

	if msg.Cursor != nil {
		return rm.SetCursor(client.id, *msg.Cursor)
	}
	return nil
}

func (h *Hub) handleCursorMove(client *Client, payload json.RawMessage) error {
	var msg protocol.CursorMove
	if err := protocol.Decode(payload, &msg); err != nil {
		return err
	}

	rm, err := h.joinedRoom(client, msg.RoomID)
	if err != nil {
		return err
	}
	if err := rm.SetCursor(client.id, *msg.Cursor); err != nil {
		return err
	}

	h.broadcast(rm, protocol.EventCursorUpdate, protocol.CursorUpdate{
		UserID: client.id,
		Cursor: *msg.Cursor,
	}, client.id)
	return nil
}

func (h *Hub) handleTyping(client *Client, payload json.RawMessage) error {
	var msg protocol.Typing
	if err := protocol.Decode(payload, &msg); err != nil {
		return err
	}

	rm, err := h.joinedRoom(client, msg.RoomID)
	if err != nil {
		return err
	}
	if err := rm.SetTyping(client.id, *msg.IsTyping); err != nil {
		return err
	}

	// Typing goes to everyone, sender included
	h.broadcast(rm, protocol.EventUserTyping, protocol.UserTyping{
		UserID:   client.id,
		IsTyping: *msg.IsTyping,
	}, "")
	return nil
}

// joinedRoom resolves the room an edit/cursor/typing event targets. The
// payload room must be the one the connection joined.
func (h *Hub) joinedRoom(client *Client, roomID string) (*room.Room, error) {
	j, ok := client.state.(joined)
	if !ok {
		return nil, errNotJoined
	}
	if roomID != j.roomID {
		return nil, fmt.Errorf("%w: joined %s, event names %s", protocol.ErrMalformed, j.roomID, roomID)
	}

	rm, ok := h.registry.GetRoom(roomID)
	if !ok {
		return nil, room.ErrRoomNotFound
	}
	return rm, nil
}

// leave takes the client out of its room, tells the others, and drops the
// room once nobody is left.
func (h *Hub) leave(client *Client, j joined) {
	client.state = unjoined{}

	rm, ok := h.registry.GetRoom(j.roomID)
	if !ok {
		return
	}
	if !rm.RemoveParticipant(client.id) {
		return
	}

	if rm.Len() > 0 {
		h.broadcastUserList(rm)
		h.broadcast(rm, protocol.EventUserDisconnected, client.id, "")
		logger.Info("Client %s left room %s (remaining: %d)", client.id, rm.ID, rm.Len())
	}

	h.registry.RemoveRoomIfEmpty(j.roomID)
}

func (h *Hub) restoreDocument(roomID, content string) bool {
	rm, ok := h.registry.GetRoom(roomID)
	if !ok {
		return false
	}

	rm.SetDocument(content)
	h.broadcast(rm, protocol.EventCodeUpdate, protocol.CodeUpdate{Code: &content}, "")

	logger.Info("Room %s document restored (%d bytes)", roomID, len(content))
	return true
}

func (h *Hub) broadcastUserList(rm *room.Room) {
	h.broadcast(rm, protocol.EventUserList, protocol.UserList(rm.Participants()), "")
}

// broadcast sends one event to every participant of rm except exclude.
func (h *Hub) broadcast(rm *room.Room, t protocol.EventType, payload interface{}, exclude string) {
	data, err := protocol.Encode(t, payload)
	if err != nil {
		logger.Error("Error encoding %q: %v", t, err)
		return
	}

	for _, id := range rm.ParticipantIDs() {
		if id == exclude {
			continue
		}
		if client, ok := h.clients[id]; ok {
			h.deliver(client, data)
		}
	}
}

func (h *Hub) sendTo(client *Client, t protocol.EventType, payload interface{}) {
	data, err := protocol.Encode(t, payload)
	if err != nil {
		logger.Error("Error encoding %q: %v", t, err)
		return
	}
	h.deliver(client, data)
}

// deliver never blocks. A client whose queue is full is cut off; its pumps
// then wind down and the disconnect flow cleans up after it.
func (h *Hub) deliver(client *Client, data []byte) {
	if client.closed {
		return
	}

	select {
	case client.send <- data:
	default:
		logger.Warn("🚫 Client %s is not keeping up, disconnecting", client.id)
		client.closeSend()
	}
}
