package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/chatlink/chatlink/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the inbound wire format. Exactly one operation field
// is set per message; the Id is echoed on the response so clients can
// correlate.
type ClientMessage struct {
	BaseMessage
	Join    *Join    `json:"join,omitempty"`
	Leave   *Leave   `json:"leave,omitempty"`
	Publish *Publish `json:"publish,omitempty"`
	Read    *Read    `json:"read,omitempty"`
	Call    *Call    `json:"call,omitempty"`
	Signal  *Signal  `json:"signal,omitempty"`

	client *Client
}

// Join opens a chat: either a direct conversation with peer_id or a
// group by group_id, never both.
type Join struct {
	PeerId  types.UserID  `json:"peer_id,omitempty" validate:"required_without=GroupId,excluded_with=GroupId"`
	GroupId types.GroupID `json:"group_id,omitempty"`
}

type Leave struct {
	PeerId  types.UserID  `json:"peer_id,omitempty" validate:"required_without=GroupId,excluded_with=GroupId"`
	GroupId types.GroupID `json:"group_id,omitempty"`
}

type Publish struct {
	PeerId  types.UserID  `json:"peer_id,omitempty" validate:"required_without=GroupId,excluded_with=GroupId"`
	GroupId types.GroupID `json:"group_id,omitempty"`
	Content string        `json:"content" validate:"required,max=2000"`
	Kind    string        `json:"kind" validate:"omitempty,oneof=text image video file"`
}

type Read struct {
	PeerId     types.UserID      `json:"peer_id,omitempty" validate:"required_without=GroupId,excluded_with=GroupId"`
	GroupId    types.GroupID     `json:"group_id,omitempty"`
	MessageIds []types.MessageID `json:"message_ids" validate:"required,min=1,dive,gt=0"`
}

type Call struct {
	Action     string       `json:"action" validate:"required,oneof=initiate accept reject cancel end"`
	CallId     string       `json:"call_id,omitempty" validate:"required_unless=Action initiate"`
	ReceiverId types.UserID `json:"receiver_id,omitempty" validate:"required_if=Action initiate"`
	Video      bool         `json:"video,omitempty"`
}

type Signal struct {
	CallId string          `json:"call_id" validate:"required"`
	Data   json.RawMessage `json:"data" validate:"required"`
}

// ServerMessage is the outbound wire format: a response to a client
// operation, a server-pushed event, or both never at once.
type ServerMessage struct {
	BaseMessage
	Response *Response    `json:"response,omitempty"`
	Event    *types.Event `json:"event,omitempty"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

func eventMessage(ev *types.Event) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: types.Now()},
		Event:       ev,
	}
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Id: id, Timestamp: types.Now()},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func ErrInvalidMessage(id int, detail string) *ServerMessage {
	if detail == "" {
		detail = "invalid message"
	}
	return &ServerMessage{
		BaseMessage: BaseMessage{Id: id, Timestamp: types.Now()},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        detail,
		},
	}
}

func ErrNotPermitted(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Id: id, Timestamp: types.Now()},
		Response: &Response{
			ResponseCode: http.StatusForbidden,
			Error:        "not permitted",
		},
	}
}

func ErrNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Id: id, Timestamp: types.Now()},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "not found",
		},
	}
}

func ErrConflict(id int, detail string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Id: id, Timestamp: types.Now()},
		Response: &Response{
			ResponseCode: http.StatusConflict,
			Error:        detail,
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Id: id, Timestamp: types.Now()},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}
