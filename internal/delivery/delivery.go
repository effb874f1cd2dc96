package delivery

import (
	"errors"
	"fmt"
	"log"

	"github.com/chatlink/chatlink/internal/database"
	"github.com/chatlink/chatlink/internal/presence"
	"github.com/chatlink/chatlink/internal/types"
)

const (
	// previewLength bounds the notification preview sent to recipients
	// who are online but not viewing the chat.
	previewLength = 30

	textMessagePoints = 100
)

// ErrNotAuthorized is returned when the acting user is not a member of
// the target group.
var ErrNotAuthorized = errors.New("not a member of this group")

// Publisher is the slice of the gateway's fan-out surface the state
// machine needs.
type Publisher interface {
	PublishRoom(roomId string, ev *types.Event, skip types.UserID)
	PublishUser(userId types.UserID, ev *types.Event)
}

// StateMachine decides and transitions message delivery states from
// the presence snapshot read at the time of each operation. Presence
// may change while a store write is in flight; the state computed at
// read time wins and is not retried.
type StateMachine struct {
	log   *log.Logger
	db    database.ChatRepository
	reg   *presence.Registry
	rooms *presence.Membership
	pub   Publisher
}

func NewStateMachine(logger *log.Logger, db database.ChatRepository, reg *presence.Registry, rooms *presence.Membership, pub Publisher) *StateMachine {
	return &StateMachine{
		log:   logger,
		db:    db,
		reg:   reg,
		rooms: rooms,
		pub:   pub,
	}
}

// SendDirect persists a direct message with its initial status and fans
// it out. Status at creation: recipient offline -> pending, recipient
// viewing this chat -> read, otherwise -> delivered.
func (sm *StateMachine) SendDirect(senderId types.UserID, senderName string, recipientId types.UserID, content string, kind types.MessageKind) (*types.Message, error) {
	roomId := presence.DirectRoom(senderId, recipientId)

	online := sm.reg.IsOnline(recipientId)
	inRoom := online && sm.rooms.IsPresent(roomId, recipientId)

	status := types.StatusPending
	if inRoom {
		status = types.StatusRead
	} else if online {
		status = types.StatusDelivered
	}

	dbMsg, err := sm.db.CreateMessage(database.CreateMessageParams{
		SenderId:    senderId,
		RecipientId: recipientId,
		Content:     content,
		Kind:        kind,
		Status:      status,
	})
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	sm.awardMessagePoints(senderId, kind)

	msg := toMessage(dbMsg)

	sm.pub.PublishRoom(roomId, &types.Event{
		Timestamp: types.Now(),
		PrivateMessage: &types.ChatMessage{
			Id:          msg.Id,
			SenderId:    senderId,
			SenderName:  senderName,
			RecipientId: recipientId,
			Content:     content,
			Kind:        kind,
			Status:      status,
			Timestamp:   msg.CreatedAt,
		},
	}, senderId)

	// recipient is reachable but not looking at this chat
	if online && !inRoom {
		sm.pub.PublishUser(recipientId, &types.Event{
			Timestamp: types.Now(),
			NewMessageNotification: &types.MessagePreview{
				SenderId:   senderId,
				SenderName: senderName,
				Preview:    preview(content),
				MessageId:  msg.Id,
			},
		})
	}

	return &msg, nil
}

// SendGroup persists a group message and fans it out. A group message
// starts pending when no other member is online and delivered
// otherwise; it never starts read, since group read status is earned
// through per-member receipts.
func (sm *StateMachine) SendGroup(senderId types.UserID, senderName string, groupId types.GroupID, content string, kind types.MessageKind) (*types.Message, error) {
	if !sm.db.IsGroupMember(groupId, senderId) {
		return nil, ErrNotAuthorized
	}

	group, err := sm.db.GetGroupById(groupId)
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}

	members, err := sm.db.ListGroupMembers(groupId)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}

	var others []types.UserID
	for _, m := range members {
		if m.Id != senderId {
			others = append(others, m.Id)
		}
	}

	// connection count is authoritative for delivered, not room presence
	status := types.StatusPending
	if sm.reg.CountOnline(others) > 0 {
		status = types.StatusDelivered
	}

	dbMsg, err := sm.db.CreateMessage(database.CreateMessageParams{
		SenderId: senderId,
		GroupId:  groupId,
		Content:  content,
		Kind:     kind,
		Status:   status,
	})
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	sm.awardMessagePoints(senderId, kind)

	msg := toMessage(dbMsg)
	roomId := presence.GroupRoom(groupId)

	sm.pub.PublishRoom(roomId, &types.Event{
		Timestamp: types.Now(),
		GroupMessage: &types.ChatMessage{
			Id:         msg.Id,
			SenderId:   senderId,
			SenderName: senderName,
			GroupId:    groupId,
			Content:    content,
			Kind:       kind,
			Status:     status,
			Timestamp:  msg.CreatedAt,
		},
	}, senderId)

	// members who are connected but not viewing the group get a preview
	for _, id := range others {
		if !sm.reg.IsOnline(id) || sm.rooms.IsPresent(roomId, id) {
			continue
		}

		sm.pub.PublishUser(id, &types.Event{
			Timestamp: types.Now(),
			NewMessageNotification: &types.MessagePreview{
				SenderId:   senderId,
				SenderName: senderName,
				GroupId:    groupId,
				GroupName:  group.Name,
				Preview:    preview(content),
				MessageId:  msg.Id,
			},
		})
	}

	return &msg, nil
}

// HandleAuthenticate promotes the user's pending direct messages to
// delivered and tells each original sender which of their messages got
// through. Models "got the push" as opposed to "opened the thread".
func (sm *StateMachine) HandleAuthenticate(userId types.UserID) error {
	pending, err := sm.db.FindPendingMessagesFor(userId)
	if err != nil {
		return fmt.Errorf("find pending messages: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	ids := messageIds(pending)
	if err := sm.db.UpdateMessageStatus(ids, types.StatusDelivered); err != nil {
		return fmt.Errorf("update message status: %w", err)
	}

	for senderId, senderIds := range groupBySender(pending) {
		sm.pub.PublishUser(senderId, &types.Event{
			Timestamp: types.Now(),
			MessagesDelivered: &types.MessagesDelivered{
				ReceiverId: userId,
				MessageIds: senderIds,
			},
		})
	}

	sm.log.Printf("promoted %d pending messages to delivered for user %d", len(ids), userId)
	return nil
}

// HandleDirectJoin marks everything the peer sent to the joining user
// as read, notifies the peer, and pushes the status change into the
// room. Returns the ids that were flipped.
func (sm *StateMachine) HandleDirectJoin(userId, peerId types.UserID) ([]types.MessageID, error) {
	unread, err := sm.db.FindUnreadDirectMessages(peerId, userId)
	if err != nil {
		return nil, fmt.Errorf("find unread messages: %w", err)
	}
	if len(unread) == 0 {
		return nil, nil
	}

	ids := messageIds(unread)
	if err := sm.db.UpdateMessageStatus(ids, types.StatusRead); err != nil {
		return nil, fmt.Errorf("update message status: %w", err)
	}

	sm.pub.PublishUser(peerId, &types.Event{
		Timestamp: types.Now(),
		MessagesRead: &types.MessagesRead{
			ReaderId:   userId,
			MessageIds: ids,
		},
	})

	sm.pub.PublishRoom(presence.DirectRoom(userId, peerId), &types.Event{
		Timestamp: types.Now(),
		MessageStatusUpdate: &types.MessageStatusUpdate{
			MessageIds: ids,
			Status:     types.StatusRead,
		},
	}, 0)

	return ids, nil
}

// HandleGroupJoin promotes the group's pending messages from other
// senders to delivered, mirroring what authenticate does for direct
// chat.
func (sm *StateMachine) HandleGroupJoin(userId types.UserID, groupId types.GroupID) error {
	pending, err := sm.db.FindPendingGroupMessages(groupId, userId)
	if err != nil {
		return fmt.Errorf("find pending group messages: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	ids := messageIds(pending)
	if err := sm.db.UpdateMessageStatus(ids, types.StatusDelivered); err != nil {
		return fmt.Errorf("update message status: %w", err)
	}

	for senderId, senderIds := range groupBySender(pending) {
		sm.pub.PublishUser(senderId, &types.Event{
			Timestamp: types.Now(),
			MessagesDelivered: &types.MessagesDelivered{
				ReceiverId: userId,
				MessageIds: senderIds,
			},
		})
	}

	return nil
}

// MarkReadDirect flips the listed peer->user messages to read. A direct
// chat has exactly one reader, so no receipt quorum applies.
func (sm *StateMachine) MarkReadDirect(userId, peerId types.UserID, requested []types.MessageID) ([]types.MessageID, error) {
	unread, err := sm.db.FindUnreadDirectMessages(peerId, userId)
	if err != nil {
		return nil, fmt.Errorf("find unread messages: %w", err)
	}

	wanted := make(map[types.MessageID]struct{}, len(requested))
	for _, id := range requested {
		wanted[id] = struct{}{}
	}

	var ids []types.MessageID
	for _, m := range unread {
		if _, ok := wanted[m.Id]; ok {
			ids = append(ids, m.Id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if err := sm.db.UpdateMessageStatus(ids, types.StatusRead); err != nil {
		return nil, fmt.Errorf("update message status: %w", err)
	}

	sm.pub.PublishUser(peerId, &types.Event{
		Timestamp: types.Now(),
		MessagesRead: &types.MessagesRead{
			ReaderId:   userId,
			MessageIds: ids,
		},
	})

	sm.pub.PublishRoom(presence.DirectRoom(userId, peerId), &types.Event{
		Timestamp: types.Now(),
		MessageStatusUpdate: &types.MessageStatusUpdate{
			MessageIds: ids,
			Status:     types.StatusRead,
		},
	}, 0)

	return ids, nil
}

// MarkReadGroup records a read receipt per message for userId, then
// promotes any message every other member has now read. Receipts are
// created at most once, so repeated calls cannot double-promote.
func (sm *StateMachine) MarkReadGroup(userId types.UserID, groupId types.GroupID, requested []types.MessageID) ([]types.MessageID, error) {
	if !sm.db.IsGroupMember(groupId, userId) {
		return nil, ErrNotAuthorized
	}

	members, err := sm.db.ListGroupMembers(groupId)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}

	var promoted []types.MessageID
	promotedBySender := make(map[types.UserID][]types.MessageID)

	for _, id := range requested {
		msg, err := sm.db.GetMessageById(id)
		if err != nil {
			// unknown ids are skipped, mark-read is idempotent
			sm.log.Printf("mark read: message %d: %v", id, err)
			continue
		}

		if msg.GroupId != groupId || msg.SenderId == userId {
			continue
		}

		if _, err := sm.db.CreateReadReceipt(id, userId); err != nil {
			return promoted, fmt.Errorf("create read receipt: %w", err)
		}

		if msg.Status == types.StatusRead {
			continue
		}

		readers, err := sm.db.ListReadReceipts(id)
		if err != nil {
			return promoted, fmt.Errorf("list read receipts: %w", err)
		}

		if !allMembersRead(members, msg.SenderId, readers) {
			continue
		}

		if err := sm.db.UpdateMessageStatus([]types.MessageID{id}, types.StatusRead); err != nil {
			return promoted, fmt.Errorf("update message status: %w", err)
		}

		promoted = append(promoted, id)
		promotedBySender[msg.SenderId] = append(promotedBySender[msg.SenderId], id)
	}

	if len(promoted) > 0 {
		sm.pub.PublishRoom(presence.GroupRoom(groupId), &types.Event{
			Timestamp: types.Now(),
			MessageStatusUpdate: &types.MessageStatusUpdate{
				MessageIds: promoted,
				Status:     types.StatusRead,
			},
		}, 0)

		for senderId, ids := range promotedBySender {
			sm.pub.PublishUser(senderId, &types.Event{
				Timestamp: types.Now(),
				MessagesRead: &types.MessagesRead{
					ReaderId:   userId,
					MessageIds: ids,
				},
			})
		}
	}

	return promoted, nil
}

func (sm *StateMachine) awardMessagePoints(userId types.UserID, kind types.MessageKind) {
	if kind != types.KindText {
		return
	}

	// best effort, a failed ledger write never fails the send
	if err := sm.db.AddAccountPoints(userId, textMessagePoints, "text message sent"); err != nil {
		sm.log.Printf("award points to user %d: %v", userId, err)
	}
}

// allMembersRead reports whether every group member other than the
// sender appears in readers.
func allMembersRead(members []database.User, senderId types.UserID, readers []types.UserID) bool {
	readerSet := make(map[types.UserID]struct{}, len(readers))
	for _, r := range readers {
		readerSet[r] = struct{}{}
	}

	for _, m := range members {
		if m.Id == senderId {
			continue
		}
		if _, ok := readerSet[m.Id]; !ok {
			return false
		}
	}
	return true
}

func messageIds(msgs []database.Message) []types.MessageID {
	ids := make([]types.MessageID, len(msgs))
	for i, m := range msgs {
		ids[i] = m.Id
	}
	return ids
}

func groupBySender(msgs []database.Message) map[types.UserID][]types.MessageID {
	bySender := make(map[types.UserID][]types.MessageID)
	for _, m := range msgs {
		bySender[m.SenderId] = append(bySender[m.SenderId], m.Id)
	}
	return bySender
}

func toMessage(m database.Message) types.Message {
	return types.Message{
		Id:          m.Id,
		SenderId:    m.SenderId,
		RecipientId: m.RecipientId,
		GroupId:     m.GroupId,
		Content:     m.Content,
		Kind:        m.Kind,
		Status:      m.Status,
		CreatedAt:   m.CreatedAt,
	}
}

// preview truncates content for notification previews.
func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLength {
		return content
	}
	return string(runes[:previewLength]) + "..."
}
