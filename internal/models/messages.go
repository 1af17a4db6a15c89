package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Outbound event types
const (
	EventQueueJoined       = "queue-joined"
	EventMatchFound        = "match-found"
	EventCreateRoom        = "create-room"
	EventWaitingForPlayer  = "waiting-for-player"
	EventRoomReady         = "room-ready"
	EventGameStart         = "game-start"
	EventNextQuestion      = "next-question"
	EventPointUpdate       = "point-update"
	EventAnswerResult      = "answer-result"
	EventRoundEnd          = "round-end"
	EventConnectionStatus  = "connection-status"
	EventConnectionTimeout = "connection-timeout"
	EventError             = "error"
	EventPong              = "pong"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownType    = errors.New("unknown message type")
)

// Inbound is the closed set of client message kinds. Frames are validated
// at the boundary so handlers only ever see complete messages.
type Inbound interface{ isInbound() }

type JoinMatchmaking struct{ UserID string }
type Singleplayer struct{ UserID string }
type CreateRoom struct{ UserID string }

type JoinRoom struct {
	UserID string
	RoomID string
}

type SubmitAnswer struct {
	UserID     string
	RoomID     string
	QuestionID string
	Answer     int
}

type Reconnect struct{ UserID string }

type RegisterUser struct {
	FID               string
	DisplayName       string
	ProfilePictureURL string
	Username          string
}

type Ping struct{ Timestamp int64 }
type Pong struct{}

func (JoinMatchmaking) isInbound() {}
func (Singleplayer) isInbound()    {}
func (CreateRoom) isInbound()      {}
func (JoinRoom) isInbound()        {}
func (SubmitAnswer) isInbound()    {}
func (Reconnect) isInbound()       {}
func (RegisterUser) isInbound()    {}
func (Ping) isInbound()            {}
func (Pong) isInbound()            {}

type frame struct {
	Type              string  `json:"type"`
	UserID            string  `json:"userId"`
	RoomID            string  `json:"roomId"`
	QuestionID        string  `json:"questionId"`
	Answer            *int    `json:"answer"`
	FID               string  `json:"fid"`
	DisplayName       string  `json:"displayName"`
	ProfilePictureURL *string `json:"profilePictureUrl"`
	Username          string  `json:"username"`
	Timestamp         int64   `json:"timestamp"`
}

// ParseInbound decodes one JSON text frame into its typed message,
// rejecting unknown types and missing required fields.
func ParseInbound(raw []byte) (Inbound, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch f.Type {
	case "join-matchmaking":
		if f.UserID == "" {
			return nil, fmt.Errorf("%w: join-matchmaking requires userId", ErrMalformedFrame)
		}
		return JoinMatchmaking{UserID: f.UserID}, nil
	case "singleplayer":
		if f.UserID == "" {
			return nil, fmt.Errorf("%w: singleplayer requires userId", ErrMalformedFrame)
		}
		return Singleplayer{UserID: f.UserID}, nil
	case "create-room":
		if f.UserID == "" {
			return nil, fmt.Errorf("%w: create-room requires userId", ErrMalformedFrame)
		}
		return CreateRoom{UserID: f.UserID}, nil
	case "join-room":
		if f.UserID == "" || f.RoomID == "" {
			return nil, fmt.Errorf("%w: join-room requires userId and roomId", ErrMalformedFrame)
		}
		return JoinRoom{UserID: f.UserID, RoomID: f.RoomID}, nil
	case "submit-answer":
		if f.RoomID == "" || f.QuestionID == "" || f.Answer == nil {
			return nil, fmt.Errorf("%w: submit-answer requires roomId, questionId and answer", ErrMalformedFrame)
		}
		return SubmitAnswer{UserID: f.UserID, RoomID: f.RoomID, QuestionID: f.QuestionID, Answer: *f.Answer}, nil
	case "reconnect":
		if f.UserID == "" {
			return nil, fmt.Errorf("%w: reconnect requires userId", ErrMalformedFrame)
		}
		return Reconnect{UserID: f.UserID}, nil
	case "register-user":
		if f.FID == "" {
			return nil, fmt.Errorf("%w: register-user requires fid", ErrMalformedFrame)
		}
		msg := RegisterUser{FID: f.FID, DisplayName: f.DisplayName, Username: f.Username}
		if f.ProfilePictureURL != nil {
			msg.ProfilePictureURL = *f.ProfilePictureURL
		}
		return msg, nil
	case "ping":
		return Ping{Timestamp: f.Timestamp}, nil
	case "pong":
		return Pong{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
}
