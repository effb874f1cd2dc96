package database

import (
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/chatlink/chatlink/internal/types"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockChatRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockChatRepository) GetAccountById(userId types.UserID) (User, error) {
	args := m.Called(userId)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockChatRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockChatRepository) ListAccounts() ([]User, error) {
	args := m.Called()
	return args.Get(0).([]User), args.Error(1)
}

func (m *MockChatRepository) AddAccountPoints(userId types.UserID, points int, description string) error {
	args := m.Called(userId, points, description)
	return args.Error(0)
}

func (m *MockChatRepository) CreateGroup(params CreateGroupParams) (Group, error) {
	args := m.Called(params)
	return args.Get(0).(Group), args.Error(1)
}

func (m *MockChatRepository) GetGroupById(groupId types.GroupID) (Group, error) {
	args := m.Called(groupId)
	return args.Get(0).(Group), args.Error(1)
}

func (m *MockChatRepository) DeleteGroup(groupId types.GroupID) error {
	args := m.Called(groupId)
	return args.Error(0)
}

func (m *MockChatRepository) AddGroupMember(groupId types.GroupID, userId types.UserID) error {
	args := m.Called(groupId, userId)
	return args.Error(0)
}

func (m *MockChatRepository) RemoveGroupMember(groupId types.GroupID, userId types.UserID) error {
	args := m.Called(groupId, userId)
	return args.Error(0)
}

func (m *MockChatRepository) ListGroupMembers(groupId types.GroupID) ([]User, error) {
	args := m.Called(groupId)
	return args.Get(0).([]User), args.Error(1)
}

func (m *MockChatRepository) ListGroupsForUser(userId types.UserID) ([]Group, error) {
	args := m.Called(userId)
	return args.Get(0).([]Group), args.Error(1)
}

func (m *MockChatRepository) IsGroupMember(groupId types.GroupID, userId types.UserID) bool {
	args := m.Called(groupId, userId)
	return args.Bool(0)
}

func (m *MockChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}

func (m *MockChatRepository) GetMessageById(id types.MessageID) (Message, error) {
	args := m.Called(id)
	return args.Get(0).(Message), args.Error(1)
}

func (m *MockChatRepository) UpdateMessageStatus(ids []types.MessageID, status types.MessageStatus) error {
	args := m.Called(ids, status)
	return args.Error(0)
}

func (m *MockChatRepository) FindPendingMessagesFor(userId types.UserID) ([]Message, error) {
	args := m.Called(userId)
	return args.Get(0).([]Message), args.Error(1)
}

func (m *MockChatRepository) FindUnreadDirectMessages(senderId, recipientId types.UserID) ([]Message, error) {
	args := m.Called(senderId, recipientId)
	return args.Get(0).([]Message), args.Error(1)
}

func (m *MockChatRepository) FindPendingGroupMessages(groupId types.GroupID, excludeSender types.UserID) ([]Message, error) {
	args := m.Called(groupId, excludeSender)
	return args.Get(0).([]Message), args.Error(1)
}

func (m *MockChatRepository) ListDirectMessages(a, b types.UserID, limit int) ([]Message, error) {
	args := m.Called(a, b, limit)
	return args.Get(0).([]Message), args.Error(1)
}

func (m *MockChatRepository) ListGroupMessages(groupId types.GroupID, limit int) ([]Message, error) {
	args := m.Called(groupId, limit)
	return args.Get(0).([]Message), args.Error(1)
}

func (m *MockChatRepository) CreateReadReceipt(messageId types.MessageID, userId types.UserID) (bool, error) {
	args := m.Called(messageId, userId)
	return args.Bool(0), args.Error(1)
}

func (m *MockChatRepository) ListReadReceipts(messageId types.MessageID) ([]types.UserID, error) {
	args := m.Called(messageId)
	return args.Get(0).([]types.UserID), args.Error(1)
}

func (m *MockChatRepository) CreateCallSession(call CallSession) error {
	args := m.Called(call)
	return args.Error(0)
}

func (m *MockChatRepository) UpdateCallSession(callId string, status types.CallStatus, reason string, endedAt *time.Time) error {
	args := m.Called(callId, status, reason, endedAt)
	return args.Error(0)
}

func (m *MockChatRepository) ListCallSessions(userId types.UserID, limit int) ([]CallSession, error) {
	args := m.Called(userId, limit)
	return args.Get(0).([]CallSession), args.Error(1)
}

func (m *MockChatRepository) ListRewards() ([]Reward, error) {
	args := m.Called()
	return args.Get(0).([]Reward), args.Error(1)
}

func (m *MockChatRepository) GetRewardById(rewardId int) (Reward, error) {
	args := m.Called(rewardId)
	return args.Get(0).(Reward), args.Error(1)
}

func (m *MockChatRepository) RedeemReward(userId types.UserID, rewardId int, code string) (Redemption, error) {
	args := m.Called(userId, rewardId, code)
	return args.Get(0).(Redemption), args.Error(1)
}
