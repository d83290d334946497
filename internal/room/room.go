package room

import (
	"errors"
	"sync"
	"time"
)

var ErrParticipantNotFound = errors.New("participant not found")

// Cursor is a zero-based position in the document.
type Cursor struct {
	Row    int `json:"row"`
	Column int `json:"column"`
}

// Participant is one live connection's presence inside a room. ID is the
// connection id assigned by the transport.
type Participant struct {
	ID       string
	Username string
	Color    string
	Typing   bool
	Cursor   *Cursor
	JoinedAt time.Time
}

// A collaborative editing session
type Room struct {
	ID        string
	CreatedAt time.Time

	document     string
	participants map[string]*Participant
	order        []string
	mu           sync.RWMutex
}

// Creates a new room with the given ID and an empty document
func NewRoom(id string) *Room {
	return &Room{
		ID:           id,
		CreatedAt:    time.Now().UTC(),
		participants: make(map[string]*Participant),
	}
}

func (r *Room) Document() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.document
}

// Replaces the document wholesale (last writer wins)
func (r *Room) SetDocument(doc string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.document = doc
}

// UpdateDocument runs fn against the current document under the write lock
// and stores its result. On error the document is left untouched.
func (r *Room) UpdateDocument(fn func(current string) (string, error)) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := fn(r.document)
	if err != nil {
		return r.document, err
	}
	r.document = next
	return next, nil
}

// Adds or replaces a participant. New ids are appended to the display order.
func (r *Room) AddParticipant(p Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	if _, exists := r.participants[p.ID]; !exists {
		r.order = append(r.order, p.ID)
	}
	r.participants[p.ID] = &p
}

// Removes a participant, reporting whether it was present
func (r *Room) RemoveParticipant(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.participants[id]; !ok {
		return false
	}
	delete(r.participants, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Room) Participant(id string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participants[id]
	if !ok {
		return Participant{}, false
	}
	return copyParticipant(p), true
}

// Returns a snapshot of all participants in join order
func (r *Room) Participants() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		list = append(list, copyParticipant(r.participants[id]))
	}
	return list
}

func (r *Room) ParticipantIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

func (r *Room) SetCursor(id string, cursor Cursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if !ok {
		return ErrParticipantNotFound
	}
	p.Cursor = &cursor
	return nil
}

func (r *Room) SetTyping(id string, typing bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if !ok {
		return ErrParticipantNotFound
	}
	p.Typing = typing
	return nil
}

func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

func copyParticipant(p *Participant) Participant {
	c := *p
	if p.Cursor != nil {
		cursor := *p.Cursor
		c.Cursor = &cursor
	}
	return c
}
