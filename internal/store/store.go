package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"formula/internal/models"
)

const (
	roomKeyPrefix     = "room:"
	userRoomKeyPrefix = "user-room:"
	queueKey          = "matchmaking-queue"
)

// ErrNotFound is returned when a room or index entry does not exist (or has
// expired) in the shared store.
var ErrNotFound = errors.New("not found")

// Store adapts the shared TTL store. Room records and the user->room index
// live under refreshing TTLs; the matchmaking queue is a FIFO list. Every
// operation runs under a bounded timeout so a slow store degrades to a
// failed operation, never a stuck handler.
type Store struct {
	rdb       *redis.Client
	ttl       time.Duration
	opTimeout time.Duration
}

func New(rdb *redis.Client, ttl, opTimeout time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl, opTimeout: opTimeout}
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func roomKey(roomID string) string     { return roomKeyPrefix + roomID }
func userRoomKey(userID string) string { return userRoomKeyPrefix + userID }

// SetRoom writes the full room record, refreshing its TTL.
func (s *Store) SetRoom(ctx context.Context, room *models.RoomState) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room %s: %w", room.RoomID, err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.rdb.Set(ctx, roomKey(room.RoomID), data, s.ttl).Err()
}

// GetRoom reads a room record. Missing or expired records yield ErrNotFound.
func (s *Store) GetRoom(ctx context.Context, roomID string) (*models.RoomState, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	data, err := s.rdb.Get(ctx, roomKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}
	var room models.RoomState
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("unmarshal room %s: %w", roomID, err)
	}
	return &room, nil
}

// DeleteRoom removes the room record outright so later reads see not-found
// rather than a stale record waiting out its TTL.
func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.rdb.Del(ctx, roomKey(roomID)).Err()
}

// SetUserRoom writes the user->room index entry.
func (s *Store) SetUserRoom(ctx context.Context, userID, roomID string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.rdb.Set(ctx, userRoomKey(userID), roomID, s.ttl).Err()
}

// GetUserRoom resolves the room a user belongs to, for reconnection.
func (s *Store) GetUserRoom(ctx context.Context, userID string) (string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	roomID, err := s.rdb.Get(ctx, userRoomKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get user-room %s: %w", userID, err)
	}
	return roomID, nil
}

// DeleteUserRoom removes the user->room index entry.
func (s *Store) DeleteUserRoom(ctx context.Context, userID string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.rdb.Del(ctx, userRoomKey(userID)).Err()
}

// QueuePush appends an entry at the queue tail.
func (s *Store) QueuePush(ctx context.Context, entry models.QueueEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal queue entry: %w", err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.rdb.RPush(ctx, queueKey, data).Err()
}

// QueueList returns all queued entries in FIFO order.
func (s *Store) QueueList(ctx context.Context) ([]models.QueueEntry, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	raw, err := s.rdb.LRange(ctx, queueKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("range queue: %w", err)
	}
	entries := make([]models.QueueEntry, 0, len(raw))
	for _, item := range raw {
		var entry models.QueueEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			// A corrupt entry is skipped rather than wedging the queue.
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// QueuePopN removes and returns up to n entries from the queue head.
func (s *Store) QueuePopN(ctx context.Context, n int) ([]models.QueueEntry, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	raw, err := s.rdb.LPopCount(ctx, queueKey, n).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop queue: %w", err)
	}
	entries := make([]models.QueueEntry, 0, len(raw))
	for _, item := range raw {
		var entry models.QueueEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// QueueRemove deletes every entry for userID, regardless of its score
// snapshot at enqueue time.
func (s *Store) QueueRemove(ctx context.Context, userID string) error {
	listCtx, cancel := s.opCtx(ctx)
	raw, err := s.rdb.LRange(listCtx, queueKey, 0, -1).Result()
	cancel()
	if err != nil {
		return fmt.Errorf("range queue: %w", err)
	}
	for _, item := range raw {
		var entry models.QueueEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		if entry.UserID != userID {
			continue
		}
		remCtx, cancel := s.opCtx(ctx)
		err := s.rdb.LRem(remCtx, queueKey, 0, item).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("remove queue entry %s: %w", userID, err)
		}
	}
	return nil
}

// QueueLen returns the current queue length.
func (s *Store) QueueLen(ctx context.Context) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.rdb.LLen(ctx, queueKey).Result()
}
