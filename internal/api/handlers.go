package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/chatlink/chatlink/internal/database"
	"github.com/chatlink/chatlink/internal/delivery"
	"github.com/chatlink/chatlink/internal/gateway"
	"github.com/chatlink/chatlink/internal/presence"
	"github.com/chatlink/chatlink/internal/types"
)

const defaultHistoryLimit = 50

type CreateGroupRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	MemberIds   []types.UserID `json:"member_ids"`
}

type GroupMemberRequest struct {
	GroupId types.GroupID `json:"group_id"`
	UserId  types.UserID  `json:"user_id"`
}

type SendMessageRequest struct {
	PeerId  types.UserID  `json:"peer_id,omitempty"`
	GroupId types.GroupID `json:"group_id,omitempty"`
	Content string        `json:"content"`
	Kind    string        `json:"kind,omitempty"`
}

type RedeemRequest struct {
	RewardId int `json:"reward_id"`
}

func (s *ChatLinkApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *ChatLinkApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Println("health check:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// listUsers returns the user directory with live presence folded in.
func (s *ChatLinkApp) listUsers(w http.ResponseWriter, r *http.Request) {
	dbUsers, err := s.db.ListAccounts()
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	users := make([]types.User, 0, len(dbUsers))
	for _, u := range dbUsers {
		status := "offline"
		if s.gw.IsReachable(u.Id) {
			status = "online"
		}

		users = append(users, types.User{
			Id:       u.Id,
			Username: u.Username,
			Status:   status,
		})
	}

	s.writeJson(w, http.StatusOK, users)
}

func (s *ChatLinkApp) createGroup(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Name == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := s.generateShortId()
	if err != nil {
		s.log.Print("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newGroup, err := s.db.CreateGroup(database.CreateGroupParams{
		Name:        req.Name,
		Description: req.Description,
		OwnerId:     userId,
		ExternalId:  sid,
	})
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// the creator is always a member
	memberIds := append([]types.UserID{userId}, req.MemberIds...)
	for _, id := range memberIds {
		if err := s.db.AddGroupMember(newGroup.Id, id); err != nil {
			s.log.Printf("add member %d to group %d: %v", id, newGroup.Id, err)
		}
	}

	s.writeJson(w, http.StatusCreated, types.Group{
		Id:          newGroup.Id,
		ExternalId:  newGroup.ExternalId,
		Name:        newGroup.Name,
		Description: newGroup.Description,
		OwnerId:     newGroup.OwnerId,
		CreatedAt:   newGroup.CreatedAt,
		UpdatedAt:   newGroup.UpdatedAt,
	})
}

func (s *ChatLinkApp) listGroups(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbGroups, err := s.db.ListGroupsForUser(userId)
	if err != nil {
		s.log.Println("list groups:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	groups := make([]types.Group, 0, len(dbGroups))
	for _, g := range dbGroups {
		groups = append(groups, types.Group{
			Id:          g.Id,
			ExternalId:  g.ExternalId,
			Name:        g.Name,
			Description: g.Description,
			OwnerId:     g.OwnerId,
			CreatedAt:   g.CreatedAt,
			UpdatedAt:   g.UpdatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, groups)
}

func (s *ChatLinkApp) deleteGroup(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	groupId, err := queryGroupId(r)
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	group, err := s.db.GetGroupById(groupId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if group.OwnerId != userId {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.DeleteGroup(group.Id); err != nil {
		s.log.Println("delete group:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *ChatLinkApp) addGroupMember(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req GroupMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GroupId == 0 || req.UserId == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	group, err := s.db.GetGroupById(req.GroupId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if group.OwnerId != userId {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.AddGroupMember(group.Id, req.UserId); err != nil {
		s.log.Println("add group member:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.gw.PublishRoom(presence.GroupRoom(group.Id), &types.Event{
		Timestamp: types.Now(),
		UserJoinedGroup: &types.GroupPresence{
			UserId:  req.UserId,
			GroupId: group.Id,
		},
	}, 0)

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *ChatLinkApp) removeGroupMember(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	groupId, err := queryGroupId(r)
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	target := userId
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		target = types.UserID(id)
	}

	group, err := s.db.GetGroupById(groupId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// members may leave on their own, only the owner removes others
	if target != userId && group.OwnerId != userId {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.RemoveGroupMember(group.Id, target); err != nil {
		s.log.Println("remove group member:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId := presence.GroupRoom(group.Id)
	s.gw.RemoveFromRoom(roomId, target)
	s.gw.PublishRoom(roomId, &types.Event{
		Timestamp: types.Now(),
		UserLeftGroup: &types.GroupPresence{
			UserId:  target,
			GroupId: group.Id,
		},
	}, 0)

	s.writeJson(w, http.StatusNoContent, nil)
}

// getMessages returns chat history. Fetching a direct conversation also
// marks the peer's unread messages as read, matching what opening the
// chat over the websocket does.
func (s *ChatLinkApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		limit = n
	}

	var (
		dbMessages []database.Message
		err        error
	)

	switch {
	case r.URL.Query().Get("group_id") != "":
		groupId, qerr := queryGroupId(r)
		if qerr != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		if !s.db.IsGroupMember(groupId, userId) {
			errResp := NewForbiddenError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		dbMessages, err = s.db.ListGroupMessages(groupId, limit)
	case r.URL.Query().Get("peer_id") != "":
		peer, perr := strconv.Atoi(r.URL.Query().Get("peer_id"))
		if perr != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		peerId := types.UserID(peer)

		dbMessages, err = s.db.ListDirectMessages(userId, peerId, limit)
		if err == nil {
			if _, derr := s.gw.Delivery().HandleDirectJoin(userId, peerId); derr != nil {
				s.log.Printf("mark history read: %v", derr)
			}
		}
	default:
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err != nil {
		s.log.Println("list messages:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages := make([]types.Message, 0, len(dbMessages))
	for _, m := range dbMessages {
		messages = append(messages, types.Message{
			Id:          m.Id,
			SenderId:    m.SenderId,
			RecipientId: m.RecipientId,
			GroupId:     m.GroupId,
			Content:     m.Content,
			Kind:        m.Kind,
			Status:      m.Status,
			CreatedAt:   m.CreatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, messages)
}

// sendMessage is the REST send path. It shares the delivery state
// machine with the websocket path, so status decisions and fan-out are
// identical.
func (s *ChatLinkApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Content == "" || (req.PeerId == 0) == (req.GroupId == 0) {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	kind := types.MessageKind(req.Kind)
	if kind == "" {
		kind = types.KindText
	}

	sender, err := s.db.GetAccountById(userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var sent *types.Message
	if req.GroupId != 0 {
		sent, err = s.gw.Delivery().SendGroup(userId, sender.Username, req.GroupId, req.Content, kind)
	} else {
		sent, err = s.gw.Delivery().SendDirect(userId, sender.Username, req.PeerId, req.Content, kind)
	}

	if err != nil {
		var errResp *ApiError
		if errors.Is(err, delivery.ErrNotAuthorized) {
			errResp = NewForbiddenError()
		} else {
			s.log.Println("send message:", err)
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, sent)
}

func (s *ChatLinkApp) listRewards(w http.ResponseWriter, r *http.Request) {
	dbRewards, err := s.db.ListRewards()
	if err != nil {
		s.log.Println("list rewards:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	rewards := make([]types.Reward, 0, len(dbRewards))
	for _, rw := range dbRewards {
		rewards = append(rewards, types.Reward{
			Id:          rw.Id,
			Name:        rw.Name,
			Description: rw.Description,
			Cost:        rw.Cost,
			CreatedAt:   rw.CreatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, rewards)
}

func (s *ChatLinkApp) redeemReward(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RewardId == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := s.db.GetRewardById(req.RewardId); err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	code, err := s.generateShortId()
	if err != nil {
		s.log.Print("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	redemption, err := s.db.RedeemReward(userId, req.RewardId, code)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrInsufficientPoints) {
			errResp = NewConflictError("insufficient points")
		} else {
			s.log.Println("redeem reward:", err)
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.Redemption{
		Id:        redemption.Id,
		UserId:    redemption.UserId,
		RewardId:  redemption.RewardId,
		Code:      redemption.Code,
		CreatedAt: redemption.CreatedAt,
	})
}

func (s *ChatLinkApp) getCallHistory(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		limit = n
	}

	dbCalls, err := s.db.ListCallSessions(userId, limit)
	if err != nil {
		s.log.Println("list call sessions:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	calls := make([]types.CallSession, 0, len(dbCalls))
	for _, c := range dbCalls {
		calls = append(calls, types.CallSession{
			Id:         c.Id,
			CallerId:   c.CallerId,
			ReceiverId: c.ReceiverId,
			Status:     c.Status,
			Reason:     c.Reason,
			IsVideo:    c.IsVideo,
			StartedAt:  c.StartedAt,
			EndedAt:    c.EndedAt,
		})
	}

	s.writeJson(w, http.StatusOK, calls)
}

func (s *ChatLinkApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(id)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := gateway.NewClient(types.User{
		Id:       user.Id,
		Username: user.Username,
	}, conn, s.gw, s.log)

	s.gw.Register(client)
	go client.Write()
	go client.Read()
}

func queryGroupId(r *http.Request) (types.GroupID, error) {
	id, err := strconv.Atoi(r.URL.Query().Get("group_id"))
	if err != nil || id <= 0 {
		if err == nil {
			err = errors.New("invalid group id")
		}
		return 0, err
	}
	return types.GroupID(id), nil
}
