package database

import (
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/chatlink/chatlink/internal/types"
)

// statusRankSQL guards delivery-state updates so a message's status
// never regresses along pending -> delivered -> read.
const statusRankSQL = "CASE %s WHEN 'pending' THEN 0 WHEN 'delivered' THEN 1 WHEN 'read' THEN 2 END"

func (db *PgChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, status, points, created_at) "+
			"VALUES ($1, $2, $3, 'offline', 0, $4) RETURNING id, username, email, points",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.Points,
	)

	return u, err
}

func (db *PgChatRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"UPDATE accounts SET username = $2, password_hash = $3, updated_at = $4 "+
			"WHERE id = $1 RETURNING id, username, email, points",
		params.UserId,
		params.Username,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.Points,
	)

	return u, err
}

func (db *PgChatRepository) GetAccountById(userId types.UserID) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, status, points FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		userId,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.Status,
		&user.Points,
	)

	return user, err
}

func (db *PgChatRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, status, points FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.Status,
		&user.Points,
	)

	return user, err
}

func (db *PgChatRepository) ListAccounts() ([]User, error) {
	rows, err := db.conn.Query(
		"SELECT id, username, email, status, points FROM accounts ORDER BY username",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Id, &u.Username, &u.EmailAddress, &u.Status, &u.Points); err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

// AddAccountPoints credits (or debits) a user's point balance and
// records the change in the ledger.
func (db *PgChatRepository) AddAccountPoints(userId types.UserID, points int, description string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"UPDATE accounts SET points = points + $2 WHERE id = $1",
		userId, points,
	); err != nil {
		return err
	}

	if _, err := tx.Exec(
		"INSERT INTO point_entries (account_id, points, description, created_at) VALUES ($1, $2, $3, $4)",
		userId, points, description, time.Now().UTC(),
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgChatRepository) CreateGroup(params CreateGroupParams) (Group, error) {
	res := db.conn.QueryRow(
		"INSERT INTO groups (external_id, name, description, owner_id, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, external_id, name, description, owner_id, created_at",
		params.ExternalId,
		params.Name,
		params.Description,
		params.OwnerId,
		time.Now().UTC(),
	)

	var g Group
	err := res.Scan(
		&g.Id,
		&g.ExternalId,
		&g.Name,
		&g.Description,
		&g.OwnerId,
		&g.CreatedAt,
	)

	return g, err
}

func (db *PgChatRepository) GetGroupById(groupId types.GroupID) (Group, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, description, owner_id, created_at FROM groups "+
			"WHERE id = $1 LIMIT 1",
		groupId,
	)

	var g Group
	err := row.Scan(
		&g.Id,
		&g.ExternalId,
		&g.Name,
		&g.Description,
		&g.OwnerId,
		&g.CreatedAt,
	)

	return g, err
}

func (db *PgChatRepository) DeleteGroup(groupId types.GroupID) error {
	_, err := db.conn.Exec("DELETE FROM groups WHERE id = $1", groupId)
	return err
}

func (db *PgChatRepository) AddGroupMember(groupId types.GroupID, userId types.UserID) error {
	_, err := db.conn.Exec(
		"INSERT INTO group_members (group_id, account_id, created_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT (group_id, account_id) DO NOTHING",
		groupId, userId, time.Now().UTC(),
	)
	return err
}

func (db *PgChatRepository) RemoveGroupMember(groupId types.GroupID, userId types.UserID) error {
	_, err := db.conn.Exec(
		"DELETE FROM group_members WHERE group_id = $1 AND account_id = $2",
		groupId, userId,
	)
	return err
}

func (db *PgChatRepository) ListGroupMembers(groupId types.GroupID) ([]User, error) {
	rows, err := db.conn.Query(
		"SELECT a.id, a.username, a.email, a.status, a.points FROM accounts a "+
			"JOIN group_members gm ON gm.account_id = a.id "+
			"WHERE gm.group_id = $1 ORDER BY a.username",
		groupId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Id, &u.Username, &u.EmailAddress, &u.Status, &u.Points); err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *PgChatRepository) ListGroupsForUser(userId types.UserID) ([]Group, error) {
	rows, err := db.conn.Query(
		"SELECT g.id, g.external_id, g.name, g.description, g.owner_id, g.created_at FROM groups g "+
			"JOIN group_members gm ON gm.group_id = g.id "+
			"WHERE gm.account_id = $1 ORDER BY g.name",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.Id, &g.ExternalId, &g.Name, &g.Description, &g.OwnerId, &g.CreatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}

	return groups, rows.Err()
}

func (db *PgChatRepository) IsGroupMember(groupId types.GroupID, userId types.UserID) bool {
	var exists bool
	err := db.conn.QueryRow(
		"SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id = $1 AND account_id = $2)",
		groupId, userId,
	).Scan(&exists)

	return err == nil && exists
}

func (db *PgChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	res := db.conn.QueryRow(
		"INSERT INTO messages (sender_id, recipient_id, group_id, content, kind, status, created_at) "+
			"VALUES ($1, NULLIF($2, 0), NULLIF($3, 0), $4, $5, $6, $7) "+
			"RETURNING id, sender_id, COALESCE(recipient_id, 0), COALESCE(group_id, 0), content, kind, status, created_at",
		params.SenderId,
		params.RecipientId,
		params.GroupId,
		params.Content,
		params.Kind,
		params.Status,
		time.Now().UTC(),
	)

	return scanMessageRow(res)
}

func (db *PgChatRepository) GetMessageById(id types.MessageID) (Message, error) {
	row := db.conn.QueryRow(
		"SELECT id, sender_id, COALESCE(recipient_id, 0), COALESCE(group_id, 0), content, kind, status, created_at "+
			"FROM messages WHERE id = $1 LIMIT 1",
		id,
	)

	return scanMessageRow(row)
}

func (db *PgChatRepository) UpdateMessageStatus(ids []types.MessageID, status types.MessageStatus) error {
	query := fmt.Sprintf(
		"UPDATE messages SET status = $2 WHERE id = ANY($1) AND "+
			statusRankSQL+" < "+statusRankSQL,
		"status", "$2::text",
	)

	_, err := db.conn.Exec(query, messageIdArray(ids), status)
	return err
}

// FindPendingMessagesFor returns the undelivered direct messages
// addressed to userId, oldest first.
func (db *PgChatRepository) FindPendingMessagesFor(userId types.UserID) ([]Message, error) {
	return db.queryMessages(
		"SELECT id, sender_id, COALESCE(recipient_id, 0), COALESCE(group_id, 0), content, kind, status, created_at "+
			"FROM messages WHERE recipient_id = $1 AND status = 'pending' ORDER BY created_at",
		userId,
	)
}

// FindUnreadDirectMessages returns messages from senderId to
// recipientId that the recipient has not read yet.
func (db *PgChatRepository) FindUnreadDirectMessages(senderId, recipientId types.UserID) ([]Message, error) {
	return db.queryMessages(
		"SELECT id, sender_id, COALESCE(recipient_id, 0), COALESCE(group_id, 0), content, kind, status, created_at "+
			"FROM messages WHERE sender_id = $1 AND recipient_id = $2 AND status IN ('pending', 'delivered') "+
			"ORDER BY created_at",
		senderId, recipientId,
	)
}

func (db *PgChatRepository) FindPendingGroupMessages(groupId types.GroupID, excludeSender types.UserID) ([]Message, error) {
	return db.queryMessages(
		"SELECT id, sender_id, COALESCE(recipient_id, 0), COALESCE(group_id, 0), content, kind, status, created_at "+
			"FROM messages WHERE group_id = $1 AND sender_id <> $2 AND status = 'pending' ORDER BY created_at",
		groupId, excludeSender,
	)
}

func (db *PgChatRepository) ListDirectMessages(a, b types.UserID, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}

	return db.queryMessages(
		"SELECT id, sender_id, COALESCE(recipient_id, 0), COALESCE(group_id, 0), content, kind, status, created_at "+
			"FROM messages WHERE (sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1) "+
			"ORDER BY created_at DESC LIMIT $3",
		a, b, limit,
	)
}

func (db *PgChatRepository) ListGroupMessages(groupId types.GroupID, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}

	return db.queryMessages(
		"SELECT id, sender_id, COALESCE(recipient_id, 0), COALESCE(group_id, 0), content, kind, status, created_at "+
			"FROM messages WHERE group_id = $1 ORDER BY created_at DESC LIMIT $2",
		groupId, limit,
	)
}

// CreateReadReceipt records that userId read messageId. Reports whether
// a new receipt was created; duplicates are a no-op.
func (db *PgChatRepository) CreateReadReceipt(messageId types.MessageID, userId types.UserID) (bool, error) {
	res, err := db.conn.Exec(
		"INSERT INTO read_receipts (message_id, account_id, read_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT (message_id, account_id) DO NOTHING",
		messageId, userId, time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

func (db *PgChatRepository) ListReadReceipts(messageId types.MessageID) ([]types.UserID, error) {
	rows, err := db.conn.Query(
		"SELECT account_id FROM read_receipts WHERE message_id = $1",
		messageId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readers []types.UserID
	for rows.Next() {
		var id types.UserID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		readers = append(readers, id)
	}

	return readers, rows.Err()
}

func (db *PgChatRepository) CreateCallSession(call CallSession) error {
	_, err := db.conn.Exec(
		"INSERT INTO call_sessions (id, caller_id, receiver_id, status, reason, is_video, started_at, ended_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		call.Id,
		call.CallerId,
		call.ReceiverId,
		call.Status,
		call.Reason,
		call.IsVideo,
		call.StartedAt,
		call.EndedAt,
	)
	return err
}

func (db *PgChatRepository) UpdateCallSession(callId string, status types.CallStatus, reason string, endedAt *time.Time) error {
	_, err := db.conn.Exec(
		"UPDATE call_sessions SET status = $2, reason = $3, ended_at = $4 WHERE id = $1",
		callId, status, reason, endedAt,
	)
	return err
}

func (db *PgChatRepository) ListCallSessions(userId types.UserID, limit int) ([]CallSession, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.conn.Query(
		"SELECT id, caller_id, receiver_id, status, reason, is_video, started_at, ended_at FROM call_sessions "+
			"WHERE caller_id = $1 OR receiver_id = $1 ORDER BY started_at DESC LIMIT $2",
		userId, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []CallSession
	for rows.Next() {
		var c CallSession
		if err := rows.Scan(&c.Id, &c.CallerId, &c.ReceiverId, &c.Status, &c.Reason, &c.IsVideo, &c.StartedAt, &c.EndedAt); err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}

	return calls, rows.Err()
}

func (db *PgChatRepository) ListRewards() ([]Reward, error) {
	rows, err := db.conn.Query(
		"SELECT id, name, description, cost FROM rewards ORDER BY cost",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rewards []Reward
	for rows.Next() {
		var r Reward
		if err := rows.Scan(&r.Id, &r.Name, &r.Description, &r.Cost); err != nil {
			return nil, err
		}
		rewards = append(rewards, r)
	}

	return rewards, rows.Err()
}

func (db *PgChatRepository) GetRewardById(rewardId int) (Reward, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, description, cost FROM rewards WHERE id = $1 LIMIT 1",
		rewardId,
	)

	var r Reward
	err := row.Scan(&r.Id, &r.Name, &r.Description, &r.Cost)
	return r, err
}

// RedeemReward exchanges points for a reward inside a transaction: the
// balance check, the debit and the redemption row commit together or
// not at all.
func (db *PgChatRepository) RedeemReward(userId types.UserID, rewardId int, code string) (Redemption, error) {
	var redemption Redemption

	tx, err := db.conn.Begin()
	if err != nil {
		return redemption, err
	}
	defer tx.Rollback()

	var points, cost int
	if err := tx.QueryRow(
		"SELECT points FROM accounts WHERE id = $1 FOR UPDATE", userId,
	).Scan(&points); err != nil {
		return redemption, err
	}

	if err := tx.QueryRow(
		"SELECT cost FROM rewards WHERE id = $1", rewardId,
	).Scan(&cost); err != nil {
		return redemption, err
	}

	if points < cost {
		return redemption, ErrInsufficientPoints
	}

	if _, err := tx.Exec(
		"UPDATE accounts SET points = points - $2 WHERE id = $1",
		userId, cost,
	); err != nil {
		return redemption, err
	}

	if _, err := tx.Exec(
		"INSERT INTO point_entries (account_id, points, description, created_at) VALUES ($1, $2, $3, $4)",
		userId, -cost, "reward redemption", time.Now().UTC(),
	); err != nil {
		return redemption, err
	}

	if err := tx.QueryRow(
		"INSERT INTO redemptions (account_id, reward_id, code, created_at) VALUES ($1, $2, $3, $4) "+
			"RETURNING id, account_id, reward_id, code, created_at",
		userId, rewardId, code, time.Now().UTC(),
	).Scan(&redemption.Id, &redemption.UserId, &redemption.RewardId, &redemption.Code, &redemption.CreatedAt); err != nil {
		return redemption, err
	}

	return redemption, tx.Commit()
}

func (db *PgChatRepository) queryMessages(query string, args ...any) ([]Message, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Id, &m.SenderId, &m.RecipientId, &m.GroupId, &m.Content, &m.Kind, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

type messageRow interface {
	Scan(dest ...any) error
}

func scanMessageRow(row messageRow) (Message, error) {
	var m Message
	err := row.Scan(
		&m.Id,
		&m.SenderId,
		&m.RecipientId,
		&m.GroupId,
		&m.Content,
		&m.Kind,
		&m.Status,
		&m.CreatedAt,
	)
	return m, err
}

func messageIdArray(ids []types.MessageID) pq.Int64Array {
	arr := make(pq.Int64Array, len(ids))
	for i, id := range ids {
		arr[i] = int64(id)
	}
	return arr
}
