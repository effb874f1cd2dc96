package database

import (
	"time"

	"github.com/chatlink/chatlink/internal/types"
)

type ChatRepository interface {
	Ping() error

	CreateAccount(params CreateAccountParams) (User, error)
	UpdateAccount(params UpdateAccountParams) (User, error)
	GetAccountById(userId types.UserID) (User, error)
	GetAccountByEmail(email string) (User, error)
	ListAccounts() ([]User, error)
	AddAccountPoints(userId types.UserID, points int, description string) error

	CreateGroup(params CreateGroupParams) (Group, error)
	GetGroupById(groupId types.GroupID) (Group, error)
	DeleteGroup(groupId types.GroupID) error
	AddGroupMember(groupId types.GroupID, userId types.UserID) error
	RemoveGroupMember(groupId types.GroupID, userId types.UserID) error
	ListGroupMembers(groupId types.GroupID) ([]User, error)
	ListGroupsForUser(userId types.UserID) ([]Group, error)
	IsGroupMember(groupId types.GroupID, userId types.UserID) bool

	CreateMessage(params CreateMessageParams) (Message, error)
	GetMessageById(id types.MessageID) (Message, error)
	UpdateMessageStatus(ids []types.MessageID, status types.MessageStatus) error
	FindPendingMessagesFor(userId types.UserID) ([]Message, error)
	FindUnreadDirectMessages(senderId, recipientId types.UserID) ([]Message, error)
	FindPendingGroupMessages(groupId types.GroupID, excludeSender types.UserID) ([]Message, error)
	ListDirectMessages(a, b types.UserID, limit int) ([]Message, error)
	ListGroupMessages(groupId types.GroupID, limit int) ([]Message, error)

	CreateReadReceipt(messageId types.MessageID, userId types.UserID) (bool, error)
	ListReadReceipts(messageId types.MessageID) ([]types.UserID, error)

	CreateCallSession(call CallSession) error
	UpdateCallSession(callId string, status types.CallStatus, reason string, endedAt *time.Time) error
	ListCallSessions(userId types.UserID, limit int) ([]CallSession, error)

	ListRewards() ([]Reward, error)
	GetRewardById(rewardId int) (Reward, error)
	RedeemReward(userId types.UserID, rewardId int, code string) (Redemption, error)
}
