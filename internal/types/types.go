package types

import (
	"time"
)

// UserID, GroupID and MessageID are the only identity types the core
// components operate on. Boundary layers parse string or numeric ids
// into these before anything else sees them.
type UserID int

type GroupID int

type MessageID int

type User struct {
	Id           UserID    `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	Status       string    `json:"status,omitempty"`
	Points       int       `json:"points"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Group struct {
	Id          GroupID   `json:"id"`
	ExternalId  string    `json:"external_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerId     UserID    `json:"owner_id"`
	Members     []User    `json:"members,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindVideo MessageKind = "video"
	KindFile  MessageKind = "file"
)

type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank orders delivery states so transitions can be checked for
// monotonicity: pending < delivered < read.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	default:
		return -1
	}
}

// Message is a persisted chat message. Exactly one of RecipientId and
// GroupId is set.
type Message struct {
	Id          MessageID     `json:"id"`
	SenderId    UserID        `json:"sender_id"`
	RecipientId UserID        `json:"recipient_id,omitempty"`
	GroupId     GroupID       `json:"group_id,omitempty"`
	Content     string        `json:"content"`
	Kind        MessageKind   `json:"kind"`
	Status      MessageStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
}

func (m Message) IsGroup() bool { return m.GroupId != 0 }

// ReadReceipt records that a group member read a message. At most one
// exists per (message, user) pair.
type ReadReceipt struct {
	MessageId MessageID `json:"message_id"`
	UserId    UserID    `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

type CallStatus string

const (
	CallRinging  CallStatus = "ringing"
	CallActive   CallStatus = "active"
	CallRejected CallStatus = "rejected"
	CallEnded    CallStatus = "ended"
)

type CallSession struct {
	Id         string     `json:"id"`
	CallerId   UserID     `json:"caller_id"`
	ReceiverId UserID     `json:"receiver_id"`
	Status     CallStatus `json:"status"`
	Reason     string     `json:"reason,omitempty"`
	IsVideo    bool       `json:"is_video"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

type Reward struct {
	Id          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Cost        int       `json:"cost"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

type Redemption struct {
	Id        int       `json:"id"`
	UserId    UserID    `json:"user_id"`
	RewardId  int       `json:"reward_id"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}
