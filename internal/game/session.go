package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"formula/internal/connections"
	"formula/internal/dispatch"
	"formula/internal/metrics"
	"formula/internal/models"
	"formula/internal/repositories"
	"formula/internal/socket"
	"formula/internal/store"
)

// Session owns room phase transitions, question generation, scoring, and
// round timers. The shared store record is the source of truth: every timer
// callback and resumed handler re-reads the room before acting, since the
// record may have been mutated or deleted in the meantime.
type Session struct {
	store    *store.Store
	registry *connections.Registry
	disp     *dispatch.Dispatcher
	recorder repositories.Recorder
	log      *zap.Logger

	readyTime  time.Duration
	roundLimit time.Duration

	mu     sync.Mutex
	timers map[string]*roomTimers
}

type roomTimers struct {
	ready    *time.Timer
	deadline *time.Timer
}

func NewSession(st *store.Store, registry *connections.Registry, disp *dispatch.Dispatcher, recorder repositories.Recorder, log *zap.Logger, readyTime, roundLimit time.Duration) *Session {
	return &Session{
		store:      st,
		registry:   registry,
		disp:       disp,
		recorder:   recorder,
		log:        log,
		readyTime:  readyTime,
		roundLimit: roundLimit,
		timers:     make(map[string]*roomTimers),
	}
}

func newRoomID() string { return "room-" + uuid.NewString()[:8] }

// playerAlive reports whether a participant can still receive events. The
// bot has no socket and always counts as alive.
func (s *Session) playerAlive(userID string) bool {
	if userID == models.BotUserID {
		return true
	}
	return s.registry.Socket(userID) != nil
}

func (s *Session) roomConns(room *models.RoomState) []*socket.Conn {
	conns := make([]*socket.Conn, 0, len(room.Players))
	for _, p := range room.Players {
		if conn := s.registry.Socket(p.UserID); conn != nil {
			conns = append(conns, conn)
		}
	}
	return conns
}

// CreateRoom opens a WAITING room holding only the creator.
func (s *Session) CreateRoom(ctx context.Context, conn *socket.Conn, userID string) {
	room := &models.RoomState{
		RoomID:  newRoomID(),
		Phase:   models.PhaseWaiting,
		Players: []models.PlayerState{{UserID: userID}},
	}
	if err := s.store.SetRoom(ctx, room); err != nil {
		s.log.Error("failed to create room", zap.String("userId", userID), zap.Error(err))
		s.disp.Send(conn, models.EventError, map[string]any{"message": "Failed to create room"})
		return
	}
	if err := s.store.SetUserRoom(ctx, userID, room.RoomID); err != nil {
		s.log.Warn("failed to index user room", zap.String("roomId", room.RoomID), zap.Error(err))
	}

	s.disp.Send(conn, models.EventCreateRoom, map[string]any{"roomId": room.RoomID})
	s.disp.Send(conn, models.EventWaitingForPlayer, map[string]any{"roomId": room.RoomID})
}

// JoinRoom adds a second player to a WAITING room and starts the countdown.
func (s *Session) JoinRoom(ctx context.Context, conn *socket.Conn, userID, roomID string) {
	room, err := s.store.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		s.disp.Send(conn, models.EventError, map[string]any{"message": "Room not found"})
		return
	}
	if err != nil {
		s.log.Error("failed to read room", zap.String("roomId", roomID), zap.Error(err))
		s.disp.Send(conn, models.EventError, map[string]any{"message": "Failed to join room"})
		return
	}
	if room.HasPlayer(userID) {
		s.disp.Send(conn, models.EventError, map[string]any{"message": "Already in room"})
		return
	}
	if len(room.Players) >= 2 {
		s.disp.Send(conn, models.EventError, map[string]any{"message": "Room full"})
		return
	}

	room.Players = append(room.Players, models.PlayerState{UserID: userID})
	if err := s.prepareCountdown(ctx, room); err != nil {
		s.disp.Send(conn, models.EventError, map[string]any{"message": "Failed to join room"})
		return
	}
}

// StartPaired creates a READY room for two matched players. On error the
// caller (the matchmaking queue) re-enqueues them; no partial room is left
// behind.
func (s *Session) StartPaired(ctx context.Context, user1, user2 string) error {
	room := &models.RoomState{
		RoomID:  newRoomID(),
		Phase:   models.PhaseReady,
		Players: []models.PlayerState{{UserID: user1}, {UserID: user2}},
	}
	for _, p := range room.Players {
		s.disp.Send(s.registry.Socket(p.UserID), models.EventMatchFound, map[string]any{"roomId": room.RoomID})
	}
	return s.prepareCountdown(ctx, room)
}

// StartSingleplayer pairs the user against the bot identity immediately.
func (s *Session) StartSingleplayer(ctx context.Context, conn *socket.Conn, userID string) {
	room := &models.RoomState{
		RoomID:  newRoomID(),
		Phase:   models.PhaseReady,
		Players: []models.PlayerState{{UserID: userID}, {UserID: models.BotUserID}},
	}
	s.disp.Send(conn, models.EventMatchFound, map[string]any{"roomId": room.RoomID})
	if err := s.prepareCountdown(ctx, room); err != nil {
		s.disp.Send(conn, models.EventError, map[string]any{"message": "Failed to create match"})
	}
}

// prepareCountdown persists the READY state with a fresh question and zero
// scores, announces room-ready, and schedules the countdown-to-start timer.
func (s *Session) prepareCountdown(ctx context.Context, room *models.RoomState) error {
	startTime := time.Now().Add(s.readyTime).UnixMilli()
	scores := make(map[string]int, len(room.Players))
	for i := range room.Players {
		room.Players[i].Score = 0
		scores[room.Players[i].UserID] = 0
	}
	room.Phase = models.PhaseReady
	room.GameState = &models.GameState{
		StartTime:       startTime,
		CurrentQuestion: generateQuestion(),
		Scores:          scores,
	}

	if err := s.store.SetRoom(ctx, room); err != nil {
		s.log.Error("failed to persist room", zap.String("roomId", room.RoomID), zap.Error(err))
		return err
	}
	for _, p := range room.Players {
		if err := s.store.SetUserRoom(ctx, p.UserID, room.RoomID); err != nil {
			s.log.Warn("failed to index user room", zap.String("roomId", room.RoomID), zap.Error(err))
		}
	}

	s.disp.Broadcast(s.roomConns(room), models.EventRoomReady, map[string]any{
		"players":   room.UserIDs(),
		"startTime": startTime,
	})
	s.scheduleReady(room.RoomID)
	return nil
}

func (s *Session) scheduleReady(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt := s.ensureTimersLocked(roomID)
	rt.ready = time.AfterFunc(s.readyTime, func() { s.activate(roomID) })
}

func (s *Session) scheduleDeadline(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt := s.ensureTimersLocked(roomID)
	rt.deadline = time.AfterFunc(s.roundLimit, func() { s.settleByDeadline(roomID) })
}

func (s *Session) ensureTimersLocked(roomID string) *roomTimers {
	rt, ok := s.timers[roomID]
	if !ok {
		rt = &roomTimers{}
		s.timers[roomID] = rt
	}
	return rt
}

// CancelTimers deterministically stops any pending timers for the room.
func (s *Session) CancelTimers(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rt, ok := s.timers[roomID]; ok {
		if rt.ready != nil {
			rt.ready.Stop()
		}
		if rt.deadline != nil {
			rt.deadline.Stop()
		}
		delete(s.timers, roomID)
	}
}

// activate fires READY_TIME after room creation. The room is re-read first:
// it may have been forfeited or expired while the countdown ran.
func (s *Session) activate(roomID string) {
	ctx := context.Background()

	room, err := s.store.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		s.log.Error("failed to re-read room at start", zap.String("roomId", roomID), zap.Error(err))
		return
	}

	alive := 0
	for _, p := range room.Players {
		if s.playerAlive(p.UserID) {
			alive++
		}
	}
	if len(room.Players) < 2 || alive < 2 {
		s.log.Info("aborting half-empty game", zap.String("roomId", roomID))
		s.deleteRoom(ctx, room)
		return
	}

	room.Phase = models.PhaseActive
	room.GameState.CurrentQuestion = generateQuestion()
	if err := s.store.SetRoom(ctx, room); err != nil {
		s.log.Error("failed to persist game start", zap.String("roomId", roomID), zap.Error(err))
		return
	}

	s.disp.Broadcast(s.roomConns(room), models.EventGameStart, map[string]any{
		"question": questionView(room.GameState.CurrentQuestion),
		"timeLeft": int(s.roundLimit.Seconds()),
	})
	s.scheduleDeadline(roomID)
	metrics.MatchesStarted.Inc()
}

// SubmitAnswer handles one scoring attempt from userID.
func (s *Session) SubmitAnswer(ctx context.Context, userID string, msg models.SubmitAnswer) {
	conn := s.registry.Socket(userID)

	room, err := s.store.GetRoom(ctx, msg.RoomID)
	if errors.Is(err, store.ErrNotFound) {
		s.disp.Send(conn, models.EventError, map[string]any{"message": "Room not found"})
		return
	}
	if err != nil {
		s.log.Error("failed to read room", zap.String("roomId", msg.RoomID), zap.Error(err))
		return
	}
	if !room.HasPlayer(userID) {
		s.disp.Send(conn, models.EventError, map[string]any{"message": "Not in room"})
		return
	}
	if room.Phase != models.PhaseActive || room.GameState == nil || room.GameState.CurrentQuestion == nil {
		s.disp.Send(conn, models.EventError, map[string]any{"message": "Game not active"})
		return
	}

	q := room.GameState.CurrentQuestion
	if msg.QuestionID != q.ID || msg.Answer != q.Answer {
		// Wrong (or stale) answer: no score change, no question advance,
		// only the submitter hears about it.
		s.disp.Send(conn, models.EventAnswerResult, map[string]any{
			"userId":     userID,
			"questionId": msg.QuestionID,
			"correct":    false,
		})
		return
	}

	player, _ := room.Player(userID)
	player.Score++
	room.GameState.Scores[userID] = player.Score
	if err := s.store.SetRoom(ctx, room); err != nil {
		s.log.Error("failed to persist score", zap.String("roomId", room.RoomID), zap.Error(err))
		return
	}

	conns := s.roomConns(room)
	s.disp.Broadcast(conns, models.EventPointUpdate, map[string]any{
		"userId": userID,
		"scores": room.GameState.Scores,
	})
	s.disp.Broadcast(conns, models.EventAnswerResult, map[string]any{
		"userId":     userID,
		"questionId": q.ID,
		"correct":    true,
	})

	room.GameState.CurrentQuestion = generateQuestion()
	if err := s.store.SetRoom(ctx, room); err != nil {
		s.log.Error("failed to persist next question", zap.String("roomId", room.RoomID), zap.Error(err))
		return
	}
	s.disp.Broadcast(conns, models.EventNextQuestion, map[string]any{
		"question": questionView(room.GameState.CurrentQuestion),
	})
}

// settleByDeadline fires ROUND_TIME_LIMIT after game start. A room already
// settled by forfeiture reads as not-found and the timer no-ops.
func (s *Session) settleByDeadline(roomID string) {
	ctx := context.Background()

	room, err := s.store.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		s.log.Error("failed to re-read room at deadline", zap.String("roomId", roomID), zap.Error(err))
		return
	}

	winner := roundWinner(room)
	scores := finalScores(room)

	s.disp.Broadcast(s.roomConns(room), models.EventRoundEnd, map[string]any{
		"results": models.Results{Winner: winner, Scores: scores, Reason: models.ReasonTimeLimit},
	})
	s.deleteRoom(ctx, room)
	s.CancelTimers(roomID)
	metrics.RoomsSettled.WithLabelValues(models.ReasonTimeLimit).Inc()

	s.record(room, winner, scores)
}

// Forfeit settles a room early because userID left. With exactly one valid
// player remaining, that player wins; an empty room is simply deleted.
func (s *Session) Forfeit(ctx context.Context, userID string) {
	roomID, err := s.store.GetUserRoom(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		s.log.Error("failed to resolve user room", zap.String("userId", userID), zap.Error(err))
		return
	}

	if err := s.store.DeleteUserRoom(ctx, userID); err != nil {
		s.log.Warn("failed to drop user room index", zap.String("userId", userID), zap.Error(err))
	}

	room, err := s.store.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		s.log.Error("failed to read room for forfeit", zap.String("roomId", roomID), zap.Error(err))
		return
	}

	remaining := make([]models.PlayerState, 0, len(room.Players))
	for _, p := range room.Players {
		if p.UserID != userID {
			remaining = append(remaining, p)
		}
	}

	if len(remaining) != 1 {
		s.CancelTimers(roomID)
		s.deleteRoom(ctx, room)
		return
	}

	// The pending deadline timer must never fire against the settled room.
	s.CancelTimers(roomID)

	winner := remaining[0].UserID
	scores := finalScores(room)
	s.disp.Send(s.registry.Socket(winner), models.EventRoundEnd, map[string]any{
		"results": models.Results{Winner: winner, Scores: scores, Reason: models.ReasonOpponentLeft},
	})
	s.deleteRoom(ctx, room)
	metrics.RoomsSettled.WithLabelValues(models.ReasonOpponentLeft).Inc()

	s.record(room, winner, scores)
}

// Reconnect resumes an existing room session on a fresh socket.
func (s *Session) Reconnect(ctx context.Context, conn *socket.Conn, userID string) {
	roomID, err := s.store.GetUserRoom(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		// Nothing to resume; the client falls back to matchmaking.
		return
	}
	if err != nil {
		s.log.Error("failed to resolve user room", zap.String("userId", userID), zap.Error(err))
		return
	}

	room, err := s.store.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		s.log.Error("failed to read room for reconnect", zap.String("roomId", roomID), zap.Error(err))
		return
	}

	if len(room.Players) < 2 {
		s.disp.Send(conn, models.EventWaitingForPlayer, map[string]any{"roomId": roomID})
		return
	}

	s.registry.Register(conn, userID)

	gs := room.GameState
	if gs == nil {
		s.disp.Send(conn, models.EventWaitingForPlayer, map[string]any{"roomId": roomID})
		return
	}

	now := time.Now().UnixMilli()
	if now < gs.StartTime {
		s.disp.Send(conn, models.EventRoomReady, map[string]any{
			"players":   room.UserIDs(),
			"startTime": gs.StartTime,
		})
		return
	}

	remaining := s.roundLimit - time.Duration(now-gs.StartTime)*time.Millisecond
	if remaining < 0 {
		remaining = 0
	}
	s.disp.Send(conn, models.EventGameStart, map[string]any{
		"question": questionView(gs.CurrentQuestion),
		"timeLeft": int(remaining.Seconds()),
	})
}

// deleteRoom removes the room record and all index entries so later reads
// see not-found rather than stale state.
func (s *Session) deleteRoom(ctx context.Context, room *models.RoomState) {
	if err := s.store.DeleteRoom(ctx, room.RoomID); err != nil {
		s.log.Warn("failed to delete room", zap.String("roomId", room.RoomID), zap.Error(err))
	}
	for _, p := range room.Players {
		if err := s.store.DeleteUserRoom(ctx, p.UserID); err != nil {
			s.log.Warn("failed to drop user room index", zap.String("userId", p.UserID), zap.Error(err))
		}
	}
}

// record hands the final result to the persistence collaborator. Bot games
// are not recorded, and failures are logged, never retried.
func (s *Session) record(room *models.RoomState, winner string, scores map[string]int) {
	if len(room.Players) != 2 {
		return
	}
	p1, p2 := room.Players[0].UserID, room.Players[1].UserID
	if p1 == models.BotUserID || p2 == models.BotUserID {
		return
	}
	winnerFID := winner
	if winner == models.TieWinner {
		winnerFID = ""
	}
	if err := s.recorder.RecordMatch(p1, p2, winnerFID, scores); err != nil {
		s.log.Error("failed to record match", zap.String("roomId", room.RoomID), zap.Error(err))
	}
}

// roundWinner returns the sole user with the maximum score, or "tie" when
// the maximum is shared.
func roundWinner(room *models.RoomState) string {
	maxScore := -1
	winner := ""
	shared := false
	for _, p := range room.Players {
		switch {
		case p.Score > maxScore:
			maxScore = p.Score
			winner = p.UserID
			shared = false
		case p.Score == maxScore:
			shared = true
		}
	}
	if shared {
		return models.TieWinner
	}
	return winner
}

func finalScores(room *models.RoomState) map[string]int {
	if room.GameState != nil && room.GameState.Scores != nil {
		return room.GameState.Scores
	}
	scores := make(map[string]int, len(room.Players))
	for _, p := range room.Players {
		scores[p.UserID] = p.Score
	}
	return scores
}
