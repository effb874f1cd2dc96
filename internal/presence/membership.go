package presence

import (
	"log"
	"sync"

	"github.com/chatlink/chatlink/internal/types"
)

// Membership tracks which users are actively viewing which rooms, as
// opposed to merely being connected. A user appears in a room only
// while the registry still shows them online; the gateway calls
// PurgeUser when their last connection drops.
type Membership struct {
	log *log.Logger

	mu     sync.Mutex
	rooms  map[string]map[types.UserID]struct{}
	byUser map[types.UserID]map[string]struct{}
}

func NewMembership(logger *log.Logger) *Membership {
	return &Membership{
		log:    logger,
		rooms:  make(map[string]map[types.UserID]struct{}),
		byUser: make(map[types.UserID]map[string]struct{}),
	}
}

func (m *Membership) Join(roomId string, userId types.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomId]
	if !ok {
		room = make(map[types.UserID]struct{})
		m.rooms[roomId] = room
	}
	room[userId] = struct{}{}

	userRooms, ok := m.byUser[userId]
	if !ok {
		userRooms = make(map[string]struct{})
		m.byUser[userId] = userRooms
	}
	userRooms[roomId] = struct{}{}
}

func (m *Membership) Leave(roomId string, userId types.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.leaveLocked(roomId, userId)
}

func (m *Membership) leaveLocked(roomId string, userId types.UserID) {
	if room, ok := m.rooms[roomId]; ok {
		delete(room, userId)
		if len(room) == 0 {
			delete(m.rooms, roomId)
		}
	}

	if userRooms, ok := m.byUser[userId]; ok {
		delete(userRooms, roomId)
		if len(userRooms) == 0 {
			delete(m.byUser, userId)
		}
	}
}

func (m *Membership) IsPresent(roomId string, userId types.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.rooms[roomId][userId]
	return ok
}

// Present returns the users currently viewing roomId.
func (m *Membership) Present(roomId string) []types.UserID {
	m.mu.Lock()
	defer m.mu.Unlock()

	room := m.rooms[roomId]
	if len(room) == 0 {
		return nil
	}

	out := make([]types.UserID, 0, len(room))
	for id := range room {
		out = append(out, id)
	}
	return out
}

// PurgeUser removes the user from every room they were viewing and
// returns the affected room ids so leave events can be fanned out.
func (m *Membership) PurgeUser(userId types.UserID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	userRooms := m.byUser[userId]
	if len(userRooms) == 0 {
		return nil
	}

	affected := make([]string, 0, len(userRooms))
	for roomId := range userRooms {
		affected = append(affected, roomId)
	}

	for _, roomId := range affected {
		m.leaveLocked(roomId, userId)
	}

	m.log.Printf("purged user %d from %d rooms", userId, len(affected))
	return affected
}
