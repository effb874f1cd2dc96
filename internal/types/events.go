package types

import (
	"encoding/json"
	"time"
)

// Event is the closed set of server-pushed notifications. Exactly one
// field is set; the JSON key doubles as the wire event name.
type Event struct {
	Timestamp time.Time `json:"timestamp"`

	UserStatusChanged      *UserStatusChanged   `json:"userStatusChanged,omitempty"`
	PrivateMessage         *ChatMessage         `json:"privateMessage,omitempty"`
	GroupMessage           *ChatMessage         `json:"groupMessage,omitempty"`
	MessagesDelivered      *MessagesDelivered   `json:"messagesDelivered,omitempty"`
	MessagesRead           *MessagesRead        `json:"messagesRead,omitempty"`
	MessageStatusUpdate    *MessageStatusUpdate `json:"messageStatusUpdate,omitempty"`
	NewMessageNotification *MessagePreview      `json:"newMessageNotification,omitempty"`
	UserJoinedGroup        *GroupPresence       `json:"userJoinedGroup,omitempty"`
	UserLeftGroup          *GroupPresence       `json:"userLeftGroup,omitempty"`
	IncomingCall           *IncomingCall        `json:"incomingCall,omitempty"`
	CallAccepted           *CallUpdate          `json:"callAccepted,omitempty"`
	CallRejected           *CallUpdate          `json:"callRejected,omitempty"`
	CallCancelled          *CallUpdate          `json:"callCancelled,omitempty"`
	CallEnded              *CallUpdate          `json:"callEnded,omitempty"`
	RTCSignal              *RTCSignal           `json:"rtcSignal,omitempty"`
}

// UserStatusChanged announces an online/offline transition. Emitted
// exactly once per 0<->1 connection-count change, never per handle.
type UserStatusChanged struct {
	UserId UserID `json:"user_id"`
	Status string `json:"status"`
}

type ChatMessage struct {
	Id          MessageID     `json:"id"`
	SenderId    UserID        `json:"sender_id"`
	SenderName  string        `json:"sender_name,omitempty"`
	RecipientId UserID        `json:"recipient_id,omitempty"`
	GroupId     GroupID       `json:"group_id,omitempty"`
	Content     string        `json:"content"`
	Kind        MessageKind   `json:"kind"`
	Status      MessageStatus `json:"status"`
	Timestamp   time.Time     `json:"timestamp"`
}

type MessagesDelivered struct {
	ReceiverId UserID      `json:"receiver_id"`
	MessageIds []MessageID `json:"message_ids"`
}

type MessagesRead struct {
	ReaderId   UserID      `json:"reader_id"`
	MessageIds []MessageID `json:"message_ids"`
}

type MessageStatusUpdate struct {
	MessageIds []MessageID   `json:"message_ids"`
	Status     MessageStatus `json:"status"`
}

type MessagePreview struct {
	SenderId   UserID    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	GroupId    GroupID   `json:"group_id,omitempty"`
	GroupName  string    `json:"group_name,omitempty"`
	Preview    string    `json:"preview"`
	MessageId  MessageID `json:"message_id"`
}

type GroupPresence struct {
	UserId  UserID  `json:"user_id"`
	GroupId GroupID `json:"group_id"`
}

type IncomingCall struct {
	CallId     string `json:"call_id"`
	CallerId   UserID `json:"caller_id"`
	CallerName string `json:"caller_name,omitempty"`
	IsVideo    bool   `json:"is_video"`
}

type CallUpdate struct {
	CallId string `json:"call_id"`
	UserId UserID `json:"user_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type RTCSignal struct {
	CallId string          `json:"call_id"`
	FromId UserID          `json:"from_id"`
	Data   json.RawMessage `json:"data"`
}
