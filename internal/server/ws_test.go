package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"formula/internal/connections"
	"formula/internal/dispatch"
	"formula/internal/game"
	"formula/internal/matchmaking"
	"formula/internal/models"
	"formula/internal/socket"
	"formula/internal/store"
)

type frameSink struct {
	mu     sync.Mutex
	frames []map[string]any
}

func (s *frameSink) conn() *socket.Conn {
	return socket.NewFake(func(v any) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.frames = append(s.frames, v.(map[string]any))
		return nil
	})
}

func (s *frameSink) ofType(eventType string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]any
	for _, f := range s.frames {
		if f["type"] == eventType {
			out = append(out, f)
		}
	}
	return out
}

func (s *frameSink) first(t *testing.T, eventType string) map[string]any {
	t.Helper()
	matches := s.ofType(eventType)
	require.NotEmpty(t, matches, "expected a %s frame", eventType)
	return matches[0]
}

func (s *frameSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type upsertCall struct {
	fid, displayName, profilePictureURL, username string
}

type recorderStub struct {
	mu      sync.Mutex
	upserts []upsertCall
}

func (r *recorderStub) UpsertUser(fid, displayName, profilePictureURL, username string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts = append(r.upserts, upsertCall{fid, displayName, profilePictureURL, username})
	return &models.User{FID: fid}, nil
}

func (r *recorderStub) RecordMatch(string, string, string, map[string]int) error { return nil }

func setupServer(t *testing.T) (*Server, *store.Store, *connections.Registry, *recorderStub) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st := store.New(rdb, 300*time.Second, 2*time.Second)
	registry := connections.NewRegistry()
	disp := dispatch.New(zap.NewNop())
	recorder := &recorderStub{}
	sess := game.NewSession(st, registry, disp, recorder, zap.NewNop(), time.Minute, time.Minute)
	queue := matchmaking.NewQueue(st, registry, disp, sess, zap.NewNop())
	return New(registry, disp, queue, sess, recorder, zap.NewNop()), st, registry, recorder
}

func seedActiveRoom(t *testing.T, st *store.Store, roomID string, q *models.Question, players ...string) {
	t.Helper()
	room := &models.RoomState{
		RoomID: roomID,
		Phase:  models.PhaseActive,
		GameState: &models.GameState{
			StartTime:       time.Now().UnixMilli(),
			CurrentQuestion: q,
			Scores:          make(map[string]int, len(players)),
		},
	}
	for _, userID := range players {
		room.Players = append(room.Players, models.PlayerState{UserID: userID})
		room.GameState.Scores[userID] = 0
	}
	ctx := context.Background()
	require.NoError(t, st.SetRoom(ctx, room))
	for _, userID := range players {
		require.NoError(t, st.SetUserRoom(ctx, userID, roomID))
	}
}

func TestHandleFramePing(t *testing.T) {
	srv, _, _, _ := setupServer(t)

	sink := &frameSink{}
	conn := sink.conn()
	srv.HandleFrame(context.Background(), conn, []byte(`{"type":"ping","timestamp":1700000000000}`))

	pong := sink.first(t, models.EventPong)
	assert.Equal(t, int64(1700000000000), pong["timestamp"])
}

func TestHandleFrameLivenessDoesNotBind(t *testing.T) {
	srv, _, registry, _ := setupServer(t)

	conn := (&frameSink{}).conn()
	srv.HandleFrame(context.Background(), conn, []byte(`{"type":"pong"}`))
	srv.HandleFrame(context.Background(), conn, []byte(`{"type":"ping","timestamp":1}`))

	assert.Equal(t, 0, registry.Len())
}

func TestHandleFrameInvalidDropped(t *testing.T) {
	srv, _, registry, _ := setupServer(t)

	sink := &frameSink{}
	conn := sink.conn()
	srv.HandleFrame(context.Background(), conn, []byte(`{broken`))
	srv.HandleFrame(context.Background(), conn, []byte(`{"type":"no-such-thing"}`))

	assert.True(t, conn.Open(), "invalid frames must not close the connection")
	assert.Equal(t, 0, sink.len())
	assert.Equal(t, 0, registry.Len())
}

func TestHandleFrameBindsIdentity(t *testing.T) {
	srv, _, registry, _ := setupServer(t)

	sink := &frameSink{}
	conn := sink.conn()
	srv.HandleFrame(context.Background(), conn, []byte(`{"type":"join-matchmaking","userId":"u1"}`))

	assert.Same(t, conn, registry.Socket("u1"))
	assert.Equal(t, "connected", sink.first(t, models.EventConnectionStatus)["status"])
	assert.Equal(t, 1, sink.first(t, models.EventQueueJoined)["position"])

	// Subsequent frames on the already-bound socket stay quiet.
	srv.HandleFrame(context.Background(), conn, []byte(`{"type":"reconnect","userId":"u1"}`))
	assert.Len(t, sink.ofType(models.EventConnectionStatus), 1)
}

func TestHandleFrameSubmitAnswerResolvesBoundUser(t *testing.T) {
	srv, st, registry, _ := setupServer(t)
	ctx := context.Background()

	sink := &frameSink{}
	conn := sink.conn()
	registry.Register(conn, "u1")
	registry.Register((&frameSink{}).conn(), "u2")
	seedActiveRoom(t, st, "room-1", &models.Question{ID: "q1", Question: "2 + 2", Answer: 4}, "u1", "u2")

	// No userId in the frame; the registry binding identifies the sender.
	srv.HandleFrame(ctx, conn, []byte(`{"type":"submit-answer","roomId":"room-1","questionId":"q1","answer":4}`))

	result := sink.first(t, models.EventAnswerResult)
	assert.Equal(t, true, result["correct"])
	assert.Equal(t, "u1", result["userId"])
}

func TestHandleFrameSubmitAnswerUnknownUser(t *testing.T) {
	srv, _, _, _ := setupServer(t)

	sink := &frameSink{}
	conn := sink.conn()
	srv.HandleFrame(context.Background(), conn, []byte(`{"type":"submit-answer","roomId":"room-1","questionId":"q1","answer":4}`))

	assert.Equal(t, "Unknown user", sink.first(t, models.EventError)["message"])
}

func TestHandleFrameRegisterUser(t *testing.T) {
	srv, _, _, recorder := setupServer(t)

	conn := (&frameSink{}).conn()
	srv.HandleFrame(context.Background(), conn, []byte(`{"type":"register-user","fid":"f1","displayName":"Ada","profilePictureUrl":"http://x/a.png","username":"ada"}`))

	require.Len(t, recorder.upserts, 1)
	assert.Equal(t, upsertCall{"f1", "Ada", "http://x/a.png", "ada"}, recorder.upserts[0])
}

func TestHandleDisconnectForfeitsAndCleansUp(t *testing.T) {
	srv, st, registry, _ := setupServer(t)
	ctx := context.Background()

	sink1, sink2 := &frameSink{}, &frameSink{}
	conn1 := sink1.conn()
	registry.Register(conn1, "u1")
	registry.Register(sink2.conn(), "u2")
	seedActiveRoom(t, st, "room-1", &models.Question{ID: "q1", Question: "2 + 2", Answer: 4}, "u1", "u2")

	srv.HandleDisconnect(ctx, conn1)

	assert.False(t, conn1.Open())
	assert.Nil(t, registry.Socket("u1"))

	results := sink2.first(t, models.EventRoundEnd)["results"].(models.Results)
	assert.Equal(t, "u2", results.Winner)
	assert.Equal(t, models.ReasonOpponentLeft, results.Reason)

	_, err := st.GetRoom(ctx, "room-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHandleDisconnectRemovesFromQueue(t *testing.T) {
	srv, st, registry, _ := setupServer(t)
	ctx := context.Background()

	sink := &frameSink{}
	conn := sink.conn()
	registry.Register(conn, "u1")
	srv.HandleFrame(ctx, conn, []byte(`{"type":"join-matchmaking","userId":"u1"}`))

	srv.HandleDisconnect(ctx, conn)

	n, err := st.QueueLen(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandleDisconnectUnknownConn(t *testing.T) {
	srv, _, _, _ := setupServer(t)

	conn := (&frameSink{}).conn()
	srv.HandleDisconnect(context.Background(), conn)
	assert.False(t, conn.Open())
}
