package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInbound(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Inbound
	}{
		{
			name: "join matchmaking",
			raw:  `{"type":"join-matchmaking","userId":"u1"}`,
			want: JoinMatchmaking{UserID: "u1"},
		},
		{
			name: "singleplayer",
			raw:  `{"type":"singleplayer","userId":"u1"}`,
			want: Singleplayer{UserID: "u1"},
		},
		{
			name: "create room",
			raw:  `{"type":"create-room","userId":"u1"}`,
			want: CreateRoom{UserID: "u1"},
		},
		{
			name: "join room",
			raw:  `{"type":"join-room","userId":"u1","roomId":"room-abc"}`,
			want: JoinRoom{UserID: "u1", RoomID: "room-abc"},
		},
		{
			name: "submit answer",
			raw:  `{"type":"submit-answer","userId":"u1","roomId":"room-abc","questionId":"q1","answer":42}`,
			want: SubmitAnswer{UserID: "u1", RoomID: "room-abc", QuestionID: "q1", Answer: 42},
		},
		{
			name: "submit answer zero is valid",
			raw:  `{"type":"submit-answer","roomId":"room-abc","questionId":"q1","answer":0}`,
			want: SubmitAnswer{RoomID: "room-abc", QuestionID: "q1", Answer: 0},
		},
		{
			name: "reconnect",
			raw:  `{"type":"reconnect","userId":"u1"}`,
			want: Reconnect{UserID: "u1"},
		},
		{
			name: "register user",
			raw:  `{"type":"register-user","fid":"123","displayName":"Ada","profilePictureUrl":"http://x/y.png","username":"ada"}`,
			want: RegisterUser{FID: "123", DisplayName: "Ada", ProfilePictureURL: "http://x/y.png", Username: "ada"},
		},
		{
			name: "ping",
			raw:  `{"type":"ping","timestamp":1700000000000}`,
			want: Ping{Timestamp: 1700000000000},
		},
		{
			name: "pong",
			raw:  `{"type":"pong"}`,
			want: Pong{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInbound([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseInboundRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"invalid json", `{not json`},
		{"unknown type", `{"type":"self-destruct"}`},
		{"matchmaking without user", `{"type":"join-matchmaking"}`},
		{"join room without room", `{"type":"join-room","userId":"u1"}`},
		{"answer without question", `{"type":"submit-answer","roomId":"r","answer":3}`},
		{"answer without answer", `{"type":"submit-answer","roomId":"r","questionId":"q"}`},
		{"register without fid", `{"type":"register-user","username":"ada"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInbound([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestRoomStateHelpers(t *testing.T) {
	room := &RoomState{
		RoomID: "room-1",
		Phase:  PhaseActive,
		Players: []PlayerState{
			{UserID: "x", Score: 2},
			{UserID: "y", Score: 5},
		},
	}

	assert.True(t, room.HasPlayer("x"))
	assert.False(t, room.HasPlayer("z"))
	assert.Equal(t, []string{"x", "y"}, room.UserIDs())

	p, ok := room.Player("y")
	require.True(t, ok)
	p.Score++
	assert.Equal(t, 6, room.Players[1].Score, "Player must return a mutable reference")
}
