package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/manpreetbhatti/coderoom/internal/room"
)

// Names of the events exchanged over a room connection
type EventType string

const (
	// Client to server
	EventJoinRoom   EventType = "join room"
	EventCodeChange EventType = "code change"
	EventCursorMove EventType = "cursor move"
	EventTyping     EventType = "typing"

	// Server to client
	EventRoomError        EventType = "room error"
	EventInitialCode      EventType = "initial code"
	EventUserColor        EventType = "user color"
	EventUserList         EventType = "user list"
	EventCodeUpdate       EventType = "code update"
	EventCursorUpdate     EventType = "cursor update"
	EventUserTyping       EventType = "user typing"
	EventUserDisconnected EventType = "user disconnected"
)

var ErrMalformed = errors.New("malformed event")

// Inbound reports whether clients are allowed to send t.
func (t EventType) Inbound() bool {
	switch t {
	case EventJoinRoom, EventCodeChange, EventCursorMove, EventTyping:
		return true
	}
	return false
}

// Envelope is the JSON frame carried by every websocket text message.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParseEnvelope decodes a client frame and checks its event type.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if !env.Type.Inbound() {
		return nil, fmt.Errorf("%w: unknown event %q", ErrMalformed, env.Type)
	}
	return &env, nil
}

// Encode builds a server frame.
func Encode(t EventType, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: t, Payload: raw})
}

type validator interface {
	Validate() error
}

// Decode unmarshals an event payload into v and validates required fields.
func Decode(payload json.RawMessage, v validator) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: missing payload", ErrMalformed)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v.Validate()
}

type JoinRoom struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

func (j *JoinRoom) Validate() error {
	if j.RoomID == "" {
		return fmt.Errorf("%w: roomId is required", ErrMalformed)
	}
	if j.Username == "" {
		return fmt.Errorf("%w: username is required", ErrMalformed)
	}
	return nil
}

// CodeChange carries either the full document (Code) or a line patch (Delta).
type CodeChange struct {
	RoomID string       `json:"roomId"`
	Code   *string      `json:"code,omitempty"`
	Delta  *Delta       `json:"delta,omitempty"`
	Cursor *room.Cursor `json:"cursor,omitempty"`
}

func (c *CodeChange) Validate() error {
	if c.RoomID == "" {
		return fmt.Errorf("%w: roomId is required", ErrMalformed)
	}
	switch {
	case c.Code == nil && c.Delta == nil:
		return fmt.Errorf("%w: code or delta is required", ErrMalformed)
	case c.Code != nil && c.Delta != nil:
		return fmt.Errorf("%w: code and delta are exclusive", ErrMalformed)
	case c.Delta != nil:
		return c.Delta.Validate()
	}
	return nil
}

type CodeUpdate struct {
	Code   *string      `json:"code,omitempty"`
	Delta  *Delta       `json:"delta,omitempty"`
	UserID string       `json:"userId"`
	Cursor *room.Cursor `json:"cursor,omitempty"`
}

type CursorMove struct {
	RoomID string       `json:"roomId"`
	Cursor *room.Cursor `json:"cursor"`
}

func (c *CursorMove) Validate() error {
	if c.RoomID == "" {
		return fmt.Errorf("%w: roomId is required", ErrMalformed)
	}
	if c.Cursor == nil {
		return fmt.Errorf("%w: cursor is required", ErrMalformed)
	}
	return nil
}

type CursorUpdate struct {
	UserID string      `json:"userId"`
	Cursor room.Cursor `json:"cursor"`
}

type Typing struct {
	RoomID   string `json:"roomId"`
	IsTyping *bool  `json:"isTyping"`
}

func (t *Typing) Validate() error {
	if t.RoomID == "" {
		return fmt.Errorf("%w: roomId is required", ErrMalformed)
	}
	if t.IsTyping == nil {
		return fmt.Errorf("%w: isTyping is required", ErrMalformed)
	}
	return nil
}

type UserTyping struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// UserInfo is one entry of the "user list" event
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Color    string `json:"color"`
	Typing   bool   `json:"typing"`
}

func UserList(participants []room.Participant) []UserInfo {
	list := make([]UserInfo, len(participants))
	for i, p := range participants {
		list[i] = UserInfo{
			ID:       p.ID,
			Username: p.Username,
			Color:    p.Color,
			Typing:   p.Typing,
		}
	}
	return list
}
