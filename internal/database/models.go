package database

import (
	"time"

	"github.com/chatlink/chatlink/internal/types"
)

type User struct {
	Id           types.UserID
	Username     string
	EmailAddress string
	PasswordHash string
	Status       string
	Points       int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Group struct {
	Id          types.GroupID
	ExternalId  string
	Name        string
	Description string
	OwnerId     types.UserID
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Members     []User
}

type Message struct {
	Id          types.MessageID
	SenderId    types.UserID
	RecipientId types.UserID
	GroupId     types.GroupID
	Content     string
	Kind        types.MessageKind
	Status      types.MessageStatus
	CreatedAt   time.Time
}

type CallSession struct {
	Id         string
	CallerId   types.UserID
	ReceiverId types.UserID
	Status     types.CallStatus
	Reason     string
	IsVideo    bool
	StartedAt  time.Time
	EndedAt    *time.Time
}

type Reward struct {
	Id          int
	Name        string
	Description string
	Cost        int
	CreatedAt   time.Time
}

type Redemption struct {
	Id        int
	UserId    types.UserID
	RewardId  int
	Code      string
	CreatedAt time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type UpdateAccountParams struct {
	UserId       types.UserID
	Username     string
	PasswordHash string
}

type CreateGroupParams struct {
	Name        string
	Description string
	OwnerId     types.UserID
	ExternalId  string
}

// CreateMessageParams carries a new message; exactly one of RecipientId
// and GroupId is set.
type CreateMessageParams struct {
	SenderId    types.UserID
	RecipientId types.UserID
	GroupId     types.GroupID
	Content     string
	Kind        types.MessageKind
	Status      types.MessageStatus
}
