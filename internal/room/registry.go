package room

import (
	"errors"
	"sort"
	"sync"

	"github.com/manpreetbhatti/coderoom/pkg/logger"
)

var ErrRoomNotFound = errors.New("room not found")

// Registry maps room ids to live rooms. A room is dropped as soon as its
// last participant leaves.
type Registry struct {
	rooms map[string]*Room
	newID func() string
	mu    sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		newID: NewID,
	}
}

// CreateRoom allocates a fresh id and inserts an empty room under it.
func (r *Registry) CreateRoom() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for {
		if _, taken := r.rooms[id]; !taken {
			break
		}
		id = r.newID()
	}
	r.rooms[id] = NewRoom(id)

	logger.Info("Room %s created", id)
	return id
}

func (r *Registry) RoomExists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[id]
	return ok
}

// GetRoom returns the room or false. Absence is an expected outcome: rooms
// can vanish between a client's existence check and its join.
func (r *Registry) GetRoom(id string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	return room, ok
}

// RemoveRoomIfEmpty deletes the room when it has no participants left and
// reports whether it did. Safe to call repeatedly.
func (r *Registry) RemoveRoomIfEmpty(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok || room.Len() > 0 {
		return false
	}
	delete(r.rooms, id)

	logger.Info("Room %s closed (empty)", id)
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Rooms returns every live room, oldest first.
func (r *Registry) Rooms() []*Room {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
	return rooms
}
