package matchmaking

import (
	"context"
	"errors"
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
	"formula/internal/models"
	"formula/internal/repositories"
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

type starterStub struct {
	err   error
	pairs [][2]string
}

func (s *starterStub) StartPaired(ctx context.Context, user1, user2 string) error {
	if s.err != nil {
		return s.err
	}
	s.pairs = append(s.pairs, [2]string{user1, user2})
	return nil
}

func setupQueue(t *testing.T, starter RoomStarter) (*Queue, *store.Store, *connections.Registry) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st := store.New(rdb, 300*time.Second, 2*time.Second)
	registry := connections.NewRegistry()
	return NewQueue(st, registry, dispatch.New(zap.NewNop()), starter, zap.NewNop()), st, registry
}

func queueUserIDs(t *testing.T, st *store.Store) []string {
	t.Helper()
	entries, err := st.QueueList(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.UserID)
	}
	return ids
}

func TestEnqueueAcksPosition(t *testing.T) {
	q, st, registry := setupQueue(t, &starterStub{})
	ctx := context.Background()

	sink := &frameSink{}
	conn := sink.conn()
	registry.Register(conn, "u1")

	require.NoError(t, q.Enqueue(ctx, conn, "u1"))
	assert.Equal(t, 1, sink.first(t, models.EventQueueJoined)["position"])
	assert.Equal(t, []string{"u1"}, queueUserIDs(t, st))
}

func TestEnqueueDuplicateRejected(t *testing.T) {
	q, st, registry := setupQueue(t, &starterStub{})
	ctx := context.Background()

	sink := &frameSink{}
	conn := sink.conn()
	registry.Register(conn, "u1")

	require.NoError(t, q.Enqueue(ctx, conn, "u1"))
	err := q.Enqueue(ctx, conn, "u1")
	assert.ErrorIs(t, err, ErrAlreadyQueued)
	assert.Equal(t, "Already in queue", sink.first(t, models.EventError)["message"])
	assert.Equal(t, []string{"u1"}, queueUserIDs(t, st), "duplicate join must leave the queue unchanged")
}

func TestEnqueueClosedSocketRejected(t *testing.T) {
	q, st, _ := setupQueue(t, &starterStub{})

	conn := socket.NewFake(func(v any) error { return nil })
	require.NoError(t, conn.Close())

	err := q.Enqueue(context.Background(), conn, "u1")
	assert.ErrorIs(t, err, ErrSocketNotReady)
	assert.Empty(t, queueUserIDs(t, st))
}

func TestPairTwoPlayers(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st := store.New(rdb, 300*time.Second, 2*time.Second)
	registry := connections.NewRegistry()
	disp := dispatch.New(zap.NewNop())
	sess := game.NewSession(st, registry, disp, repositories.NoopRecorder{}, zap.NewNop(), time.Minute, time.Minute)
	q := NewQueue(st, registry, disp, sess, zap.NewNop())
	ctx := context.Background()

	sink1, sink2 := &frameSink{}, &frameSink{}
	conn1, conn2 := sink1.conn(), sink2.conn()
	registry.Register(conn1, "u1")
	registry.Register(conn2, "u2")

	require.NoError(t, q.Enqueue(ctx, conn1, "u1"))
	require.NoError(t, q.Enqueue(ctx, conn2, "u2"))

	assert.Equal(t, 1, sink1.first(t, models.EventQueueJoined)["position"])
	assert.Equal(t, 2, sink2.first(t, models.EventQueueJoined)["position"])

	roomID := sink1.first(t, models.EventMatchFound)["roomId"].(string)
	assert.Equal(t, roomID, sink2.first(t, models.EventMatchFound)["roomId"])
	defer sess.CancelTimers(roomID)

	sink1.first(t, models.EventRoomReady)
	sink2.first(t, models.EventRoomReady)

	room, err := st.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseReady, room.Phase)
	assert.Equal(t, []string{"u1", "u2"}, room.UserIDs())

	assert.Empty(t, queueUserIDs(t, st), "paired players must leave the queue")
}

func TestPairOneSocketDeadRequeuesTail(t *testing.T) {
	starter := &starterStub{}
	q, st, registry := setupQueue(t, starter)
	ctx := context.Background()

	dead := socket.NewFake(func(v any) error { return nil })
	registry.Register(dead, "u1")
	alive2 := (&frameSink{}).conn()
	registry.Register(alive2, "u2")
	alive3 := (&frameSink{}).conn()
	registry.Register(alive3, "u3")

	require.NoError(t, st.QueuePush(ctx, models.QueueEntry{UserID: "u1"}))
	require.NoError(t, st.QueuePush(ctx, models.QueueEntry{UserID: "u2"}))
	require.NoError(t, st.QueuePush(ctx, models.QueueEntry{UserID: "u3"}))

	// u1's socket dies after the cleanup pass would have seen it alive.
	require.NoError(t, dead.Close())
	q.pairLocked(ctx)

	assert.Empty(t, starter.pairs, "a cycle with a dead socket must not create a room")
	assert.Equal(t, []string{"u3", "u2"}, queueUserIDs(t, st),
		"survivor goes to the tail, dead entry is dropped")
}

func TestPairStarterFailureRequeuesBoth(t *testing.T) {
	q, st, registry := setupQueue(t, &starterStub{err: errors.New("store unavailable")})
	ctx := context.Background()

	sink1, sink2 := &frameSink{}, &frameSink{}
	conn1, conn2 := sink1.conn(), sink2.conn()
	registry.Register(conn1, "u1")
	registry.Register(conn2, "u2")

	require.NoError(t, q.Enqueue(ctx, conn1, "u1"))
	require.NoError(t, q.Enqueue(ctx, conn2, "u2"))

	assert.Equal(t, "Failed to create match", sink1.first(t, models.EventError)["message"])
	assert.Equal(t, "Failed to create match", sink2.first(t, models.EventError)["message"])
	assert.ElementsMatch(t, []string{"u1", "u2"}, queueUserIDs(t, st))
}

func TestRemove(t *testing.T) {
	q, st, registry := setupQueue(t, &starterStub{})
	ctx := context.Background()

	sink := &frameSink{}
	conn := sink.conn()
	registry.Register(conn, "u1")
	require.NoError(t, q.Enqueue(ctx, conn, "u1"))

	q.Remove(ctx, "u1")
	assert.Empty(t, queueUserIDs(t, st))
}

func TestCleanupDropsDeadEntries(t *testing.T) {
	q, st, registry := setupQueue(t, &starterStub{})
	ctx := context.Background()

	deadSink := &frameSink{}
	dead := deadSink.conn()
	registry.Register(dead, "u1")
	require.NoError(t, q.Enqueue(ctx, dead, "u1"))
	require.NoError(t, dead.Close())

	alive := (&frameSink{}).conn()
	registry.Register(alive, "u2")
	require.NoError(t, st.QueuePush(ctx, models.QueueEntry{UserID: "u2"}))

	q.Cleanup(ctx)
	assert.Equal(t, []string{"u2"}, queueUserIDs(t, st))
}
