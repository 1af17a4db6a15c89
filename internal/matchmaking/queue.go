package matchmaking

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"formula/internal/connections"
	"formula/internal/dispatch"
	"formula/internal/metrics"
	"formula/internal/models"
	"formula/internal/socket"
	"formula/internal/store"
)

var (
	ErrAlreadyQueued  = errors.New("already queued")
	ErrSocketNotReady = errors.New("socket not ready")
)

// RoomStarter is the slice of the game session the queue needs: turning a
// validated pair into a room.
type RoomStarter interface {
	StartPaired(ctx context.Context, user1, user2 string) error
}

// Queue is the FIFO matchmaking list, backed by the shared store so any
// process instance sees the same waiting users. Pairing within a process is
// serialized by a mutex; cross-process races degrade to a failed pairing
// cycle, never a double match (entries are popped, not peeked).
type Queue struct {
	store    *store.Store
	registry *connections.Registry
	disp     *dispatch.Dispatcher
	starter  RoomStarter
	log      *zap.Logger

	pairMu sync.Mutex
}

func NewQueue(st *store.Store, registry *connections.Registry, disp *dispatch.Dispatcher, starter RoomStarter, log *zap.Logger) *Queue {
	return &Queue{
		store:    st,
		registry: registry,
		disp:     disp,
		starter:  starter,
		log:      log,
	}
}

// Enqueue appends userID to the waiting list and acknowledges with the
// 1-based position. A duplicate join or a dead socket is rejected with an
// explicit error event and leaves the queue unchanged.
func (q *Queue) Enqueue(ctx context.Context, conn *socket.Conn, userID string) error {
	entries, err := q.store.QueueList(ctx)
	if err != nil {
		q.log.Error("failed to read queue", zap.Error(err))
		q.disp.Send(conn, models.EventError, map[string]any{"message": "Failed to join queue"})
		return err
	}
	for _, e := range entries {
		if e.UserID == userID {
			q.disp.Send(conn, models.EventError, map[string]any{"message": "Already in queue"})
			return ErrAlreadyQueued
		}
	}
	if conn == nil || !conn.Open() {
		q.disp.Send(conn, models.EventError, map[string]any{"message": "WebSocket not ready"})
		return ErrSocketNotReady
	}

	if err := q.store.QueuePush(ctx, models.QueueEntry{UserID: userID}); err != nil {
		q.log.Error("failed to enqueue", zap.String("userId", userID), zap.Error(err))
		q.disp.Send(conn, models.EventError, map[string]any{"message": "Failed to join queue"})
		return err
	}

	position := len(entries) + 1
	q.disp.Send(conn, models.EventQueueJoined, map[string]any{"position": position})
	metrics.QueueDepth.Set(float64(position))

	if position >= 2 {
		q.TryPair(ctx)
	}
	return nil
}

// Remove deletes userID's entry, if any.
func (q *Queue) Remove(ctx context.Context, userID string) {
	if err := q.store.QueueRemove(ctx, userID); err != nil {
		q.log.Warn("failed to remove from queue", zap.String("userId", userID), zap.Error(err))
	}
}

// TryPair removes the two earliest entries and hands them to room creation.
// Both sockets are re-validated after the pop: the queue may be arbitrarily
// stale by the time pairing runs.
func (q *Queue) TryPair(ctx context.Context) {
	q.pairMu.Lock()
	defer q.pairMu.Unlock()

	q.cleanup(ctx)
	q.pairLocked(ctx)
}

// pairLocked pops and validates one pair. Sockets may have died since the
// cleanup pass, so liveness is re-checked per entry here.
func (q *Queue) pairLocked(ctx context.Context) {
	length, err := q.store.QueueLen(ctx)
	if err != nil {
		q.log.Error("failed to read queue length", zap.Error(err))
		return
	}
	if length < 2 {
		return
	}

	pair, err := q.store.QueuePopN(ctx, 2)
	if err != nil {
		q.log.Error("failed to pop queue", zap.Error(err))
		return
	}
	if len(pair) < 2 {
		// Lost the race with another instance; re-enqueue what we took.
		for _, e := range pair {
			q.requeue(ctx, e)
		}
		return
	}

	p1, p2 := pair[0], pair[1]
	conn1 := q.registry.Socket(p1.UserID)
	conn2 := q.registry.Socket(p2.UserID)

	// One dead socket: the survivor goes back to the tail and this cycle
	// aborts. Both dead: both entries are simply dropped.
	if conn1 == nil || conn2 == nil {
		if conn1 != nil {
			q.requeue(ctx, p1)
		}
		if conn2 != nil {
			q.requeue(ctx, p2)
		}
		return
	}

	if err := q.starter.StartPaired(ctx, p1.UserID, p2.UserID); err != nil {
		q.log.Error("failed to create match", zap.String("user1", p1.UserID), zap.String("user2", p2.UserID), zap.Error(err))
		q.requeue(ctx, p1)
		q.requeue(ctx, p2)
		q.disp.Send(conn1, models.EventError, map[string]any{"message": "Failed to create match"})
		q.disp.Send(conn2, models.EventError, map[string]any{"message": "Failed to create match"})
	}
}

func (q *Queue) requeue(ctx context.Context, entry models.QueueEntry) {
	if err := q.store.QueuePush(ctx, entry); err != nil {
		q.log.Error("failed to re-enqueue", zap.String("userId", entry.UserID), zap.Error(err))
	}
}

// cleanup drops queue entries whose socket is no longer open.
func (q *Queue) cleanup(ctx context.Context) {
	entries, err := q.store.QueueList(ctx)
	if err != nil {
		q.log.Error("failed to read queue for cleanup", zap.Error(err))
		return
	}
	removed := 0
	for _, e := range entries {
		if q.registry.Socket(e.UserID) != nil {
			continue
		}
		if err := q.store.QueueRemove(ctx, e.UserID); err != nil {
			q.log.Warn("failed to drop stale queue entry", zap.String("userId", e.UserID), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		q.log.Info("cleaned up stale queue entries", zap.Int("removed", removed))
	}
	metrics.QueueDepth.Set(float64(len(entries) - removed))
}

// Cleanup is the exported periodic pass, independent of pairing attempts.
func (q *Queue) Cleanup(ctx context.Context) {
	q.pairMu.Lock()
	defer q.pairMu.Unlock()
	q.cleanup(ctx)
}

// RunCleanup sweeps the queue on a fixed interval until ctx is cancelled.
func (q *Queue) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Cleanup(ctx)
		}
	}
}
