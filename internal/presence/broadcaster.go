package presence

import (
	"log"

	"github.com/chatlink/chatlink/internal/types"
)

// Publisher fans events out to live connections. The gateway implements
// it; keeping it an interface lets the core be tested without sockets.
type Publisher interface {
	PublishGlobal(ev *types.Event)
	PublishRoom(roomId string, ev *types.Event, skip types.UserID)
	PublishUser(userId types.UserID, ev *types.Event)
}

// Broadcaster emits presence events. It holds no state of its own;
// callers gate each announce on the registry's 0<->1 transition result
// so multiple tabs never cause presence flapping.
type Broadcaster struct {
	log *log.Logger
	pub Publisher
}

func NewBroadcaster(logger *log.Logger, pub Publisher) *Broadcaster {
	return &Broadcaster{log: logger, pub: pub}
}

func (b *Broadcaster) AnnounceOnline(userId types.UserID) {
	b.pub.PublishGlobal(&types.Event{
		Timestamp: types.Now(),
		UserStatusChanged: &types.UserStatusChanged{
			UserId: userId,
			Status: "online",
		},
	})
}

func (b *Broadcaster) AnnounceOffline(userId types.UserID) {
	b.pub.PublishGlobal(&types.Event{
		Timestamp: types.Now(),
		UserStatusChanged: &types.UserStatusChanged{
			UserId: userId,
			Status: "offline",
		},
	})
}

// AnnounceJoinedRoom notifies a room that a user started viewing it.
// Direct rooms are quiet; only group rooms announce joins.
func (b *Broadcaster) AnnounceJoinedRoom(roomId string, userId types.UserID) {
	groupId, ok := ParseGroupRoom(roomId)
	if !ok {
		return
	}

	b.pub.PublishRoom(roomId, &types.Event{
		Timestamp: types.Now(),
		UserJoinedGroup: &types.GroupPresence{
			UserId:  userId,
			GroupId: groupId,
		},
	}, userId)
}

func (b *Broadcaster) AnnounceLeftRoom(roomId string, userId types.UserID) {
	groupId, ok := ParseGroupRoom(roomId)
	if !ok {
		return
	}

	b.pub.PublishRoom(roomId, &types.Event{
		Timestamp: types.Now(),
		UserLeftGroup: &types.GroupPresence{
			UserId:  userId,
			GroupId: groupId,
		},
	}, userId)
}
