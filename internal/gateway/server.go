package gateway

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/chatlink/chatlink/internal/call"
	"github.com/chatlink/chatlink/internal/database"
	"github.com/chatlink/chatlink/internal/delivery"
	"github.com/chatlink/chatlink/internal/presence"
	"github.com/chatlink/chatlink/internal/stats"
	"github.com/chatlink/chatlink/internal/types"
)

// Gateway owns the live websocket clients and fans events out to them.
// It implements the Publisher interfaces of the presence, delivery and
// call packages, which hold the actual domain logic.
type Gateway struct {
	log   *log.Logger
	db    database.ChatRepository
	stats stats.StatsProvider

	registry    *presence.Registry
	rooms       *presence.Membership
	broadcaster *presence.Broadcaster
	delivery    *delivery.StateMachine
	calls       *call.Tracker

	validate *validator.Validate

	clientsLock sync.Mutex
	clients     map[*Client]struct{}
	byUser      map[types.UserID]map[*Client]struct{}
}

func NewGateway(logger *log.Logger, db database.ChatRepository, sp stats.StatsProvider, ringTimeout time.Duration) *Gateway {
	gw := &Gateway{
		log:      logger,
		db:       db,
		stats:    sp,
		validate: validator.New(),
		clients:  make(map[*Client]struct{}),
		byUser:   make(map[types.UserID]map[*Client]struct{}),
	}

	gw.registry = presence.NewRegistry(logger)
	gw.rooms = presence.NewMembership(logger)
	gw.broadcaster = presence.NewBroadcaster(logger, gw)
	gw.delivery = delivery.NewStateMachine(logger, db, gw.registry, gw.rooms, gw)
	gw.calls = call.NewTracker(logger, db, gw.registry, gw, ringTimeout)

	sp.RegisterMetric("NumActiveConnections")
	sp.RegisterMetric("NumOnlineUsers")
	sp.RegisterMetric("NumMessagesSent")
	sp.RegisterGauge("NumActiveCalls", func() any { return gw.calls.ActiveCount() })

	return gw
}

// Register wires a freshly upgraded connection into the hub. The first
// connection of a user announces them online and flushes their pending
// deliveries.
func (gw *Gateway) Register(c *Client) {
	gw.clientsLock.Lock()
	gw.clients[c] = struct{}{}
	set, ok := gw.byUser[c.user.Id]
	if !ok {
		set = make(map[*Client]struct{})
		gw.byUser[c.user.Id] = set
	}
	set[c] = struct{}{}
	gw.clientsLock.Unlock()

	gw.stats.Incr("NumActiveConnections")

	if gw.registry.Connect(c.user.Id, c.handle) {
		gw.stats.Incr("NumOnlineUsers")
		gw.broadcaster.AnnounceOnline(c.user.Id)
	}

	if err := gw.delivery.HandleAuthenticate(c.user.Id); err != nil {
		gw.log.Printf("flush pending deliveries for user %d: %v", c.user.Id, err)
	}

	gw.log.Printf("user %d connected (handle %s)", c.user.Id, c.handle)
}

func (gw *Gateway) unregister(c *Client) {
	gw.clientsLock.Lock()
	if _, ok := gw.clients[c]; !ok {
		gw.clientsLock.Unlock()
		return
	}
	delete(gw.clients, c)
	if set, ok := gw.byUser[c.user.Id]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(gw.byUser, c.user.Id)
		}
	}
	gw.clientsLock.Unlock()

	gw.stats.Decr("NumActiveConnections")

	if gw.registry.Disconnect(c.user.Id, c.handle) {
		gw.stats.Decr("NumOnlineUsers")

		for _, roomId := range gw.rooms.PurgeUser(c.user.Id) {
			gw.broadcaster.AnnounceLeftRoom(roomId, c.user.Id)
		}

		gw.calls.HandleDisconnect(c.user.Id)
		gw.broadcaster.AnnounceOffline(c.user.Id)
	}

	gw.log.Printf("user %d disconnected (handle %s)", c.user.Id, c.handle)
}

// IsReachable reports whether a user has at least one live connection.
// The REST layer uses it to decide between push and store-only.
func (gw *Gateway) IsReachable(userId types.UserID) bool {
	return gw.registry.IsOnline(userId)
}

// Shutdown closes every client connection.
func (gw *Gateway) Shutdown() {
	gw.clientsLock.Lock()
	defer gw.clientsLock.Unlock()

	for c := range gw.clients {
		c.stopClient()
	}
}

// PublishGlobal sends an event to every connected client.
func (gw *Gateway) PublishGlobal(ev *types.Event) {
	gw.clientsLock.Lock()
	defer gw.clientsLock.Unlock()

	msg := eventMessage(ev)
	for c := range gw.clients {
		c.queueMessage(msg)
	}
}

// PublishRoom sends an event to every user present in the room except
// skip. Each of the user's handles gets a copy.
func (gw *Gateway) PublishRoom(roomId string, ev *types.Event, skip types.UserID) {
	for _, userId := range gw.rooms.Present(roomId) {
		if userId == skip {
			continue
		}
		gw.PublishUser(userId, ev)
	}
}

// PublishUser sends an event to every live handle of one user.
func (gw *Gateway) PublishUser(userId types.UserID, ev *types.Event) {
	gw.clientsLock.Lock()
	defer gw.clientsLock.Unlock()

	msg := eventMessage(ev)
	for c := range gw.byUser[userId] {
		c.queueMessage(msg)
	}
}

func (gw *Gateway) dispatch(msg *ClientMessage) {
	c := msg.client

	switch {
	case msg.Join != nil:
		gw.handleJoin(c, msg)
	case msg.Leave != nil:
		gw.handleLeave(c, msg)
	case msg.Publish != nil:
		gw.handlePublish(c, msg)
	case msg.Read != nil:
		gw.handleRead(c, msg)
	case msg.Call != nil:
		gw.handleCall(c, msg)
	case msg.Signal != nil:
		gw.handleSignal(c, msg)
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id, "unknown operation"))
	}
}

func (gw *Gateway) handleJoin(c *Client, msg *ClientMessage) {
	if err := gw.validate.Struct(msg.Join); err != nil {
		c.queueMessage(ErrInvalidMessage(msg.Id, "join requires exactly one of peer_id and group_id"))
		return
	}

	var roomId string
	if msg.Join.GroupId != 0 {
		if !gw.db.IsGroupMember(msg.Join.GroupId, c.user.Id) {
			c.queueMessage(ErrNotPermitted(msg.Id))
			return
		}

		roomId = presence.GroupRoom(msg.Join.GroupId)
		gw.rooms.Join(roomId, c.user.Id)
		gw.broadcaster.AnnounceJoinedRoom(roomId, c.user.Id)

		if err := gw.delivery.HandleGroupJoin(c.user.Id, msg.Join.GroupId); err != nil {
			gw.log.Printf("group join deliveries: %v", err)
		}
	} else {
		roomId = presence.DirectRoom(c.user.Id, msg.Join.PeerId)
		gw.rooms.Join(roomId, c.user.Id)

		if _, err := gw.delivery.HandleDirectJoin(c.user.Id, msg.Join.PeerId); err != nil {
			gw.log.Printf("direct join deliveries: %v", err)
		}
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{"room_id": roomId}))
}

func (gw *Gateway) handleLeave(c *Client, msg *ClientMessage) {
	if err := gw.validate.Struct(msg.Leave); err != nil {
		c.queueMessage(ErrInvalidMessage(msg.Id, "leave requires exactly one of peer_id and group_id"))
		return
	}

	var roomId string
	if msg.Leave.GroupId != 0 {
		roomId = presence.GroupRoom(msg.Leave.GroupId)
	} else {
		roomId = presence.DirectRoom(c.user.Id, msg.Leave.PeerId)
	}

	gw.rooms.Leave(roomId, c.user.Id)
	gw.broadcaster.AnnounceLeftRoom(roomId, c.user.Id)

	c.queueMessage(NoErrOK(msg.Id, map[string]any{"room_id": roomId}))
}

func (gw *Gateway) handlePublish(c *Client, msg *ClientMessage) {
	if err := gw.validate.Struct(msg.Publish); err != nil {
		c.queueMessage(ErrInvalidMessage(msg.Id, "publish requires content and exactly one of peer_id and group_id"))
		return
	}

	kind := types.MessageKind(msg.Publish.Kind)
	if kind == "" {
		kind = types.KindText
	}

	var (
		sent *types.Message
		err  error
	)
	if msg.Publish.GroupId != 0 {
		sent, err = gw.delivery.SendGroup(c.user.Id, c.user.Username, msg.Publish.GroupId, msg.Publish.Content, kind)
	} else {
		sent, err = gw.delivery.SendDirect(c.user.Id, c.user.Username, msg.Publish.PeerId, msg.Publish.Content, kind)
	}

	if err != nil {
		if errors.Is(err, delivery.ErrNotAuthorized) {
			c.queueMessage(ErrNotPermitted(msg.Id))
		} else {
			gw.log.Printf("publish: %v", err)
			c.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	gw.stats.Incr("NumMessagesSent")

	c.queueMessage(NoErrOK(msg.Id, map[string]any{"message": sent}))
}

func (gw *Gateway) handleRead(c *Client, msg *ClientMessage) {
	if err := gw.validate.Struct(msg.Read); err != nil {
		c.queueMessage(ErrInvalidMessage(msg.Id, "read requires message_ids and exactly one of peer_id and group_id"))
		return
	}

	var (
		ids []types.MessageID
		err error
	)
	if msg.Read.GroupId != 0 {
		ids, err = gw.delivery.MarkReadGroup(c.user.Id, msg.Read.GroupId, msg.Read.MessageIds)
	} else {
		ids, err = gw.delivery.MarkReadDirect(c.user.Id, msg.Read.PeerId, msg.Read.MessageIds)
	}

	if err != nil {
		if errors.Is(err, delivery.ErrNotAuthorized) {
			c.queueMessage(ErrNotPermitted(msg.Id))
		} else {
			gw.log.Printf("mark read: %v", err)
			c.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{"message_ids": ids}))
}

func (gw *Gateway) handleCall(c *Client, msg *ClientMessage) {
	if err := gw.validate.Struct(msg.Call); err != nil {
		c.queueMessage(ErrInvalidMessage(msg.Id, "invalid call request"))
		return
	}

	var err error
	switch msg.Call.Action {
	case "initiate":
		var session *types.CallSession
		session, err = gw.calls.Initiate(c.user.Id, c.user.Username, msg.Call.ReceiverId, msg.Call.Video)
		if err == nil {
			c.queueMessage(NoErrOK(msg.Id, map[string]any{"call": session}))
			return
		}
	case "accept":
		err = gw.calls.Accept(msg.Call.CallId, c.user.Id)
	case "reject":
		err = gw.calls.Reject(msg.Call.CallId, c.user.Id)
	case "cancel":
		err = gw.calls.Cancel(msg.Call.CallId, c.user.Id)
	case "end":
		err = gw.calls.End(msg.Call.CallId, c.user.Id)
	}

	if err != nil {
		switch {
		case errors.Is(err, call.ErrBusy):
			c.queueMessage(ErrConflict(msg.Id, "user is in another call"))
		case errors.Is(err, call.ErrNotFound):
			c.queueMessage(ErrNotFound(msg.Id))
		case errors.Is(err, call.ErrNotParticipant):
			c.queueMessage(ErrNotPermitted(msg.Id))
		case errors.Is(err, call.ErrInvalidState):
			c.queueMessage(ErrConflict(msg.Id, "call is not in a state that allows this"))
		default:
			gw.log.Printf("call %s: %v", msg.Call.Action, err)
			c.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	c.queueMessage(NoErrOK(msg.Id, nil))
}

func (gw *Gateway) handleSignal(c *Client, msg *ClientMessage) {
	if err := gw.validate.Struct(msg.Signal); err != nil {
		c.queueMessage(ErrInvalidMessage(msg.Id, "signal requires call_id and data"))
		return
	}

	// relay-or-drop, no response either way
	gw.calls.Signal(msg.Signal.CallId, c.user.Id, msg.Signal.Data)
}

// RemoveFromRoom evicts a user from a room's live view, for when their
// group membership is revoked out of band.
func (gw *Gateway) RemoveFromRoom(roomId string, userId types.UserID) {
	gw.rooms.Leave(roomId, userId)
}

// Delivery exposes the state machine to the REST layer, which shares
// its send and read semantics with the websocket path.
func (gw *Gateway) Delivery() *delivery.StateMachine { return gw.delivery }
