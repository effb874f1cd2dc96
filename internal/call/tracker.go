package call

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatlink/chatlink/internal/database"
	"github.com/chatlink/chatlink/internal/presence"
	"github.com/chatlink/chatlink/internal/types"
)

// DefaultRingTimeout is how long a call rings before it is abandoned as
// unanswered.
const DefaultRingTimeout = 30 * time.Second

var (
	ErrNotFound       = errors.New("call not found")
	ErrBusy           = errors.New("user is in another call")
	ErrNotParticipant = errors.New("not a participant of this call")
	ErrInvalidState   = errors.New("call is not in a state that allows this")
)

const (
	ReasonUnavailable  = "unavailable"
	ReasonDeclined     = "declined"
	ReasonCancelled    = "cancelled"
	ReasonNoAnswer     = "no-answer"
	ReasonCompleted    = "completed"
	ReasonDisconnected = "disconnected"
)

// Publisher delivers call events to every live handle of a user.
type Publisher interface {
	PublishUser(userId types.UserID, ev *types.Event)
}

type session struct {
	id         string
	callerId   types.UserID
	callerName string
	receiverId types.UserID
	isVideo    bool
	status     types.CallStatus
	startedAt  time.Time
	ringTimer  *time.Timer
}

func (s *session) other(userId types.UserID) types.UserID {
	if userId == s.callerId {
		return s.receiverId
	}
	return s.callerId
}

func (s *session) involves(userId types.UserID) bool {
	return userId == s.callerId || userId == s.receiverId
}

// Tracker owns the live call sessions. A user participates in at most
// one ringing or active call at a time; terminal sessions leave the map
// immediately and survive only in the store.
type Tracker struct {
	log *log.Logger
	db  database.ChatRepository
	reg *presence.Registry
	pub Publisher

	ringTimeout time.Duration
	newCallId   func() string

	mu       sync.Mutex
	sessions map[string]*session
	byUser   map[types.UserID]string
}

func NewTracker(logger *log.Logger, db database.ChatRepository, reg *presence.Registry, pub Publisher, ringTimeout time.Duration) *Tracker {
	if ringTimeout <= 0 {
		ringTimeout = DefaultRingTimeout
	}

	return &Tracker{
		log:         logger,
		db:          db,
		reg:         reg,
		pub:         pub,
		ringTimeout: ringTimeout,
		newCallId:   uuid.NewString,
		sessions:    make(map[string]*session),
		byUser:      make(map[types.UserID]string),
	}
}

// Initiate starts a call. An offline receiver short-circuits to a
// rejected session without ringing; otherwise the receiver's handles
// get incomingCall and the ring timer starts.
func (t *Tracker) Initiate(callerId types.UserID, callerName string, receiverId types.UserID, isVideo bool) (*types.CallSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, busy := t.byUser[callerId]; busy {
		return nil, ErrBusy
	}
	if _, busy := t.byUser[receiverId]; busy {
		return nil, ErrBusy
	}

	now := types.Now()
	callId := t.newCallId()

	if !t.reg.IsOnline(receiverId) {
		rejected := types.CallSession{
			Id:         callId,
			CallerId:   callerId,
			ReceiverId: receiverId,
			Status:     types.CallRejected,
			Reason:     ReasonUnavailable,
			IsVideo:    isVideo,
			StartedAt:  now,
			EndedAt:    &now,
		}
		if err := t.db.CreateCallSession(toDBSession(rejected)); err != nil {
			return nil, err
		}

		t.pub.PublishUser(callerId, &types.Event{
			Timestamp: types.Now(),
			CallRejected: &types.CallUpdate{
				CallId: callId,
				UserId: receiverId,
				Reason: ReasonUnavailable,
			},
		})
		return &rejected, nil
	}

	s := &session{
		id:         callId,
		callerId:   callerId,
		callerName: callerName,
		receiverId: receiverId,
		isVideo:    isVideo,
		status:     types.CallRinging,
		startedAt:  now,
	}

	if err := t.db.CreateCallSession(database.CallSession{
		Id:         callId,
		CallerId:   callerId,
		ReceiverId: receiverId,
		Status:     types.CallRinging,
		IsVideo:    isVideo,
		StartedAt:  now,
	}); err != nil {
		return nil, err
	}

	t.sessions[callId] = s
	t.byUser[callerId] = callId
	t.byUser[receiverId] = callId

	s.ringTimer = time.AfterFunc(t.ringTimeout, func() { t.handleRingTimeout(callId) })

	t.pub.PublishUser(receiverId, &types.Event{
		Timestamp: types.Now(),
		IncomingCall: &types.IncomingCall{
			CallId:     callId,
			CallerId:   callerId,
			CallerName: callerName,
			IsVideo:    isVideo,
		},
	})

	t.log.Printf("call %s: user %d ringing user %d", callId, callerId, receiverId)

	return &types.CallSession{
		Id:         callId,
		CallerId:   callerId,
		ReceiverId: receiverId,
		Status:     types.CallRinging,
		IsVideo:    isVideo,
		StartedAt:  now,
	}, nil
}

// Accept transitions a ringing call to active. Only the receiver may
// accept.
func (t *Tracker) Accept(callId string, userId types.UserID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[callId]
	if !ok {
		return ErrNotFound
	}
	if userId != s.receiverId {
		return ErrNotParticipant
	}
	if s.status != types.CallRinging {
		return ErrInvalidState
	}

	s.ringTimer.Stop()
	s.status = types.CallActive

	if err := t.db.UpdateCallSession(callId, types.CallActive, "", nil); err != nil {
		t.log.Printf("call %s: persist accept: %v", callId, err)
	}

	t.pub.PublishUser(s.callerId, &types.Event{
		Timestamp: types.Now(),
		CallAccepted: &types.CallUpdate{
			CallId: callId,
			UserId: userId,
		},
	})
	return nil
}

// Reject declines a ringing call. A rejection that races with timeout
// or cancel finds no session and is a no-op.
func (t *Tracker) Reject(callId string, userId types.UserID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[callId]
	if !ok {
		return nil
	}
	if userId != s.receiverId {
		return ErrNotParticipant
	}
	if s.status != types.CallRinging {
		return ErrInvalidState
	}

	t.finishLocked(s, types.CallRejected, ReasonDeclined)

	t.pub.PublishUser(s.callerId, &types.Event{
		Timestamp: types.Now(),
		CallRejected: &types.CallUpdate{
			CallId: callId,
			UserId: userId,
			Reason: ReasonDeclined,
		},
	})
	return nil
}

// Cancel lets the caller withdraw a call that is still ringing.
func (t *Tracker) Cancel(callId string, userId types.UserID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[callId]
	if !ok {
		return nil
	}
	if userId != s.callerId {
		return ErrNotParticipant
	}
	if s.status != types.CallRinging {
		return ErrInvalidState
	}

	t.finishLocked(s, types.CallEnded, ReasonCancelled)

	t.pub.PublishUser(s.receiverId, &types.Event{
		Timestamp: types.Now(),
		CallCancelled: &types.CallUpdate{
			CallId: callId,
			UserId: userId,
		},
	})
	return nil
}

// End hangs up an active call. Either participant may end it; the other
// party is told on every handle.
func (t *Tracker) End(callId string, userId types.UserID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[callId]
	if !ok {
		return ErrNotFound
	}
	if !s.involves(userId) {
		return ErrNotParticipant
	}
	if s.status != types.CallActive {
		return ErrInvalidState
	}

	other := s.other(userId)
	t.finishLocked(s, types.CallEnded, ReasonCompleted)

	t.pub.PublishUser(other, &types.Event{
		Timestamp: types.Now(),
		CallEnded: &types.CallUpdate{
			CallId: callId,
			UserId: userId,
			Reason: ReasonCompleted,
		},
	})
	return nil
}

// Signal relays WebRTC negotiation payloads between the participants of
// an active call. Anything else is dropped without error; stale
// candidates arriving after hangup are routine.
func (t *Tracker) Signal(callId string, fromId types.UserID, data []byte) {
	t.mu.Lock()
	s, ok := t.sessions[callId]
	if !ok || s.status != types.CallActive || !s.involves(fromId) {
		t.mu.Unlock()
		return
	}
	other := s.other(fromId)
	t.mu.Unlock()

	t.pub.PublishUser(other, &types.Event{
		Timestamp: types.Now(),
		RTCSignal: &types.RTCSignal{
			CallId: callId,
			FromId: fromId,
			Data:   data,
		},
	})
}

// HandleDisconnect force-ends whatever call the user was in when their
// last connection dropped.
func (t *Tracker) HandleDisconnect(userId types.UserID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	callId, ok := t.byUser[userId]
	if !ok {
		return
	}
	s := t.sessions[callId]

	other := s.other(userId)
	wasRinging := s.status == types.CallRinging

	t.finishLocked(s, types.CallEnded, ReasonDisconnected)

	ev := &types.Event{Timestamp: types.Now()}
	update := &types.CallUpdate{CallId: callId, UserId: userId, Reason: ReasonDisconnected}
	if wasRinging && userId == s.callerId {
		ev.CallCancelled = update
	} else {
		ev.CallEnded = update
	}
	t.pub.PublishUser(other, ev)

	t.log.Printf("call %s: force-ended, user %d disconnected", callId, userId)
}

// ActiveCount reports the number of live (ringing or active) sessions.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.sessions)
}

func (t *Tracker) handleRingTimeout(callId string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[callId]
	if !ok || s.status != types.CallRinging {
		return
	}

	t.finishLocked(s, types.CallEnded, ReasonNoAnswer)

	// only the caller hears about the timeout, the receiver's ringing
	// UI dismisses itself
	t.pub.PublishUser(s.callerId, &types.Event{
		Timestamp: types.Now(),
		CallEnded: &types.CallUpdate{
			CallId: callId,
			Reason: ReasonNoAnswer,
		},
	})

	t.log.Printf("call %s: unanswered after %s", callId, t.ringTimeout)
}

// finishLocked moves a session to a terminal state, persists it and
// drops it from the live maps. Callers hold t.mu.
func (t *Tracker) finishLocked(s *session, status types.CallStatus, reason string) {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
	}

	s.status = status
	now := types.Now()

	if err := t.db.UpdateCallSession(s.id, status, reason, &now); err != nil {
		t.log.Printf("call %s: persist %s: %v", s.id, status, err)
	}

	delete(t.sessions, s.id)
	delete(t.byUser, s.callerId)
	delete(t.byUser, s.receiverId)
}

func toDBSession(s types.CallSession) database.CallSession {
	return database.CallSession{
		Id:         s.Id,
		CallerId:   s.CallerId,
		ReceiverId: s.ReceiverId,
		Status:     s.Status,
		Reason:     s.Reason,
		IsVideo:    s.IsVideo,
		StartedAt:  s.StartedAt,
		EndedAt:    s.EndedAt,
	}
}
