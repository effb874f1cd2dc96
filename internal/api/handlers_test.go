package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/chatlink/chatlink/internal/config"
	"github.com/chatlink/chatlink/internal/database"
	"github.com/chatlink/chatlink/internal/gateway"
	"github.com/chatlink/chatlink/internal/stats"
	"github.com/chatlink/chatlink/internal/testutil"
	"github.com/chatlink/chatlink/internal/types"
)

func newTestApp(t *testing.T, db *database.MockChatRepository) *ChatLinkApp {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Times(3)
	su.On("RegisterGauge", mock.Anything, mock.Anything).Once()
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	gw := gateway.NewGateway(testutil.TestLogger(t), db, su, time.Minute)

	cfg := &config.Config{
		ServerAddr: "localhost:0",
		SigningKey: []byte("test-signing-key"),
	}

	return NewChatLinkApp(http.NewServeMux(), testutil.TestLogger(t), gw, db, cfg)
}

func withUser(req *http.Request, userId types.UserID) *http.Request {
	return req.WithContext(WithUserId(req.Context(), userId))
}

// findCookie is a helper to find a cookie by name in the response recorder.
func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
	}{
		{name: "successful health check", mockErr: nil},
		{name: "failed health check", mockErr: errors.New("db error")},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			mockRepo.On("Ping").Return(tc.mockErr).Once()
			app := newTestApp(t, mockRepo)

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			app.healthCheck(rr, req)

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusInternalServerError, rr.Code)
			} else {
				assert.Equal(t, http.StatusOK, rr.Code)
				assert.Equal(t, "OK", rr.Body.String())
			}
			mockRepo.AssertExpectations(t)
		})
	}
}

func Test_login(t *testing.T) {
	pwdHash, err := hashPassword("password")
	assert.NoError(t, err)

	dbUser := database.User{
		Id:           1,
		Username:     "testuser",
		EmailAddress: "test@example.com",
		PasswordHash: pwdHash,
		Points:       300,
	}

	t.Run("successful login sets token cookie", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		mockRepo.On("GetAccountByEmail", dbUser.EmailAddress).Return(dbUser, nil).Once()
		app := newTestApp(t, mockRepo)

		body, _ := json.Marshal(LoginRequest{Email: dbUser.EmailAddress, Password: "password"})
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
		app.login(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		cookie := findCookie(rr, tokenCookieKey)
		assert.NotNil(t, cookie, "expected token cookie to be set")
		assert.True(t, cookie.HttpOnly)

		userId, err := app.extractUserIdFromToken(cookie.Value)
		assert.NoError(t, err)
		assert.Equal(t, types.UserID(1), userId)

		var u types.User
		assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &u))
		assert.Equal(t, dbUser.Username, u.Username)
		assert.Equal(t, 300, u.Points)
	})

	t.Run("wrong password is unauthorized", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		mockRepo.On("GetAccountByEmail", dbUser.EmailAddress).Return(dbUser, nil).Once()
		app := newTestApp(t, mockRepo)

		body, _ := json.Marshal(LoginRequest{Email: dbUser.EmailAddress, Password: "wrong"})
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
		app.login(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Nil(t, findCookie(rr, tokenCookieKey))
	})

	t.Run("unknown email is not found", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		mockRepo.On("GetAccountByEmail", "nope@example.com").Return(database.User{}, sql.ErrNoRows).Once()
		app := newTestApp(t, mockRepo)

		body, _ := json.Marshal(LoginRequest{Email: "nope@example.com", Password: "password"})
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
		app.login(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func Test_authMiddleware(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	app := newTestApp(t, mockRepo)

	handler := app.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		userId, ok := UserId(r.Context())
		assert.True(t, ok)
		assert.Equal(t, types.UserID(7), userId)
		w.WriteHeader(http.StatusOK)
	})

	t.Run("valid token passes through", func(t *testing.T) {
		token, err := app.createJwtForSession(7, time.Hour)
		assert.NoError(t, err)

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: token})
		handler(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("missing cookie is unauthorized", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		handler(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("garbage token is unauthorized", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "not-a-token"})
		handler(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("expired token is unauthorized", func(t *testing.T) {
		token, err := app.createJwtForSession(7, -time.Hour)
		assert.NoError(t, err)

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: token})
		handler(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func Test_listUsers(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	mockRepo.On("ListAccounts").Return([]database.User{
		{Id: 1, Username: "alice"},
		{Id: 2, Username: "bob"},
	}, nil).Once()
	app := newTestApp(t, mockRepo)

	// alice has a live connection, bob does not
	mockRepo.On("FindPendingMessagesFor", types.UserID(1)).Return([]database.Message{}, nil)
	client := gateway.NewClient(types.User{Id: 1, Username: "alice"}, nil, app.gw, testutil.TestLogger(t))
	app.gw.Register(client)

	rr := httptest.NewRecorder()
	req := withUser(httptest.NewRequest(http.MethodGet, "/api/users", nil), 1)
	app.listUsers(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var users []types.User
	assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &users))
	assert.Len(t, users, 2)
	assert.Equal(t, "online", users[0].Status)
	assert.Equal(t, "offline", users[1].Status)
}

func Test_createGroup(t *testing.T) {
	t.Run("creates group with creator as member", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		app := newTestApp(t, mockRepo)
		app.generateShortId = func() (string, error) { return "grp123", nil }

		created := database.Group{Id: 5, ExternalId: "grp123", Name: "team", OwnerId: 1}
		mockRepo.On("CreateGroup", database.CreateGroupParams{
			Name: "team", OwnerId: 1, ExternalId: "grp123",
		}).Return(created, nil).Once()
		mockRepo.On("AddGroupMember", types.GroupID(5), types.UserID(1)).Return(nil).Once()
		mockRepo.On("AddGroupMember", types.GroupID(5), types.UserID(2)).Return(nil).Once()

		body, _ := json.Marshal(CreateGroupRequest{Name: "team", MemberIds: []types.UserID{2}})
		rr := httptest.NewRecorder()
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/groups", bytes.NewReader(body)), 1)
		app.createGroup(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)
		mockRepo.AssertExpectations(t)
	})

	t.Run("missing name is a bad request", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		app := newTestApp(t, mockRepo)

		body, _ := json.Marshal(CreateGroupRequest{})
		rr := httptest.NewRecorder()
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/groups", bytes.NewReader(body)), 1)
		app.createGroup(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func Test_deleteGroup(t *testing.T) {
	group := database.Group{Id: 5, Name: "team", OwnerId: 1}

	t.Run("owner deletes group", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		mockRepo.On("GetGroupById", types.GroupID(5)).Return(group, nil).Once()
		mockRepo.On("DeleteGroup", types.GroupID(5)).Return(nil).Once()
		app := newTestApp(t, mockRepo)

		rr := httptest.NewRecorder()
		req := withUser(httptest.NewRequest(http.MethodDelete, "/api/groups?group_id=5", nil), 1)
		app.deleteGroup(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
		mockRepo.AssertExpectations(t)
	})

	t.Run("non-owner is forbidden", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		mockRepo.On("GetGroupById", types.GroupID(5)).Return(group, nil).Once()
		app := newTestApp(t, mockRepo)

		rr := httptest.NewRecorder()
		req := withUser(httptest.NewRequest(http.MethodDelete, "/api/groups?group_id=5", nil), 2)
		app.deleteGroup(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
		mockRepo.AssertNotCalled(t, "DeleteGroup", mock.Anything)
	})

	t.Run("unknown group is not found", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		mockRepo.On("GetGroupById", types.GroupID(9)).Return(database.Group{}, sql.ErrNoRows).Once()
		app := newTestApp(t, mockRepo)

		rr := httptest.NewRecorder()
		req := withUser(httptest.NewRequest(http.MethodDelete, "/api/groups?group_id=9", nil), 1)
		app.deleteGroup(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func Test_sendMessage(t *testing.T) {
	sender := database.User{Id: 1, Username: "alice"}

	t.Run("direct message to offline recipient", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		mockRepo.On("GetAccountById", types.UserID(1)).Return(sender, nil).Once()
		mockRepo.On("CreateMessage", mock.MatchedBy(func(p database.CreateMessageParams) bool {
			return p.RecipientId == 2 && p.Status == types.StatusPending
		})).Return(database.Message{
			Id: 10, SenderId: 1, RecipientId: 2, Content: "hi",
			Kind: types.KindText, Status: types.StatusPending, CreatedAt: types.Now(),
		}, nil).Once()
		mockRepo.On("AddAccountPoints", types.UserID(1), 100, mock.Anything).Return(nil).Once()
		app := newTestApp(t, mockRepo)

		body, _ := json.Marshal(SendMessageRequest{PeerId: 2, Content: "hi"})
		rr := httptest.NewRecorder()
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewReader(body)), 1)
		app.sendMessage(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)

		var msg types.Message
		assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msg))
		assert.Equal(t, types.StatusPending, msg.Status)
		mockRepo.AssertExpectations(t)
	})

	t.Run("both targets is a bad request", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		app := newTestApp(t, mockRepo)

		body, _ := json.Marshal(SendMessageRequest{PeerId: 2, GroupId: 5, Content: "hi"})
		rr := httptest.NewRecorder()
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewReader(body)), 1)
		app.sendMessage(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("missing content is a bad request", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		app := newTestApp(t, mockRepo)

		body, _ := json.Marshal(SendMessageRequest{PeerId: 2})
		rr := httptest.NewRecorder()
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewReader(body)), 1)
		app.sendMessage(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("group send by non-member is forbidden", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		mockRepo.On("GetAccountById", types.UserID(1)).Return(sender, nil).Once()
		mockRepo.On("IsGroupMember", types.GroupID(5), types.UserID(1)).Return(false).Once()
		app := newTestApp(t, mockRepo)

		body, _ := json.Marshal(SendMessageRequest{GroupId: 5, Content: "hi"})
		rr := httptest.NewRecorder()
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewReader(body)), 1)
		app.sendMessage(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func Test_getMessages(t *testing.T) {
	t.Run("direct history marks peer messages read", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		history := []database.Message{
			{Id: 1, SenderId: 2, RecipientId: 1, Content: "hey", Status: types.StatusDelivered},
		}
		mockRepo.On("ListDirectMessages", types.UserID(1), types.UserID(2), defaultHistoryLimit).Return(history, nil).Once()
		mockRepo.On("FindUnreadDirectMessages", types.UserID(2), types.UserID(1)).Return(history, nil).Once()
		mockRepo.On("UpdateMessageStatus", []types.MessageID{1}, types.StatusRead).Return(nil).Once()
		app := newTestApp(t, mockRepo)

		rr := httptest.NewRecorder()
		req := withUser(httptest.NewRequest(http.MethodGet, "/api/messages?peer_id=2", nil), 1)
		app.getMessages(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		mockRepo.AssertExpectations(t)
	})

	t.Run("group history requires membership", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		mockRepo.On("IsGroupMember", types.GroupID(5), types.UserID(1)).Return(false).Once()
		app := newTestApp(t, mockRepo)

		rr := httptest.NewRecorder()
		req := withUser(httptest.NewRequest(http.MethodGet, "/api/messages?group_id=5", nil), 1)
		app.getMessages(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("no target is a bad request", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		app := newTestApp(t, mockRepo)

		rr := httptest.NewRecorder()
		req := withUser(httptest.NewRequest(http.MethodGet, "/api/messages", nil), 1)
		app.getMessages(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func Test_redeemReward(t *testing.T) {
	reward := database.Reward{Id: 3, Name: "coffee", Cost: 500}

	t.Run("successful redemption", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		mockRepo.On("GetRewardById", 3).Return(reward, nil).Once()
		mockRepo.On("RedeemReward", types.UserID(1), 3, "code123").Return(database.Redemption{
			Id: 9, UserId: 1, RewardId: 3, Code: "code123", CreatedAt: types.Now(),
		}, nil).Once()
		app := newTestApp(t, mockRepo)
		app.generateShortId = func() (string, error) { return "code123", nil }

		body, _ := json.Marshal(RedeemRequest{RewardId: 3})
		rr := httptest.NewRecorder()
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/rewards/redeem", bytes.NewReader(body)), 1)
		app.redeemReward(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)

		var redemption types.Redemption
		assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &redemption))
		assert.Equal(t, "code123", redemption.Code)
		mockRepo.AssertExpectations(t)
	})

	t.Run("insufficient points is a conflict", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		mockRepo.On("GetRewardById", 3).Return(reward, nil).Once()
		mockRepo.On("RedeemReward", types.UserID(1), 3, mock.Anything).
			Return(database.Redemption{}, database.ErrInsufficientPoints).Once()
		app := newTestApp(t, mockRepo)
		app.generateShortId = func() (string, error) { return "code123", nil }

		body, _ := json.Marshal(RedeemRequest{RewardId: 3})
		rr := httptest.NewRecorder()
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/rewards/redeem", bytes.NewReader(body)), 1)
		app.redeemReward(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("unknown reward is not found", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		mockRepo.On("GetRewardById", 8).Return(database.Reward{}, sql.ErrNoRows).Once()
		app := newTestApp(t, mockRepo)

		body, _ := json.Marshal(RedeemRequest{RewardId: 8})
		rr := httptest.NewRecorder()
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/rewards/redeem", bytes.NewReader(body)), 1)
		app.redeemReward(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func Test_getCallHistory(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	endedAt := types.Now()
	mockRepo.On("ListCallSessions", types.UserID(1), defaultHistoryLimit).Return([]database.CallSession{
		{Id: "call-1", CallerId: 1, ReceiverId: 2, Status: types.CallEnded, Reason: "completed", EndedAt: &endedAt},
	}, nil).Once()
	app := newTestApp(t, mockRepo)

	rr := httptest.NewRecorder()
	req := withUser(httptest.NewRequest(http.MethodGet, "/api/calls", nil), 1)
	app.getCallHistory(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var calls []types.CallSession
	assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &calls))
	assert.Len(t, calls, 1)
	assert.Equal(t, "call-1", calls[0].Id)
}
