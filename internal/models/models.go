package models

// BotUserID is the reserved opponent identity for singleplayer games. It is
// excluded from heartbeat eviction and from result persistence.
const BotUserID = "formula_bot"

// Room phases
const (
	PhaseWaiting = "WAITING"
	PhaseReady   = "READY"
	PhaseActive  = "ACTIVE"
	PhaseSettled = "SETTLED"
)

// Question is one arithmetic prompt. Questions are generated fresh per
// round-question and never reused within a room.
type Question struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   int    `json:"answer"`
}

// PlayerState is a room participant and their current score.
type PlayerState struct {
	UserID string `json:"userId"`
	Score  int    `json:"score"`
}

// GameState is the active-round portion of a room record. Nil while the
// room is still WAITING.
type GameState struct {
	// StartTime is epoch milliseconds of the scheduled round start.
	StartTime       int64          `json:"startTime"`
	CurrentQuestion *Question      `json:"currentQuestion"`
	Scores          map[string]int `json:"scores"`
}

// RoomState is the single source of truth for a room, persisted as one
// JSON record in the shared store with a refreshing TTL.
type RoomState struct {
	RoomID    string        `json:"roomId"`
	Phase     string        `json:"phase"`
	Players   []PlayerState `json:"players"`
	GameState *GameState    `json:"gameState"`
}

// Player looks up a participant by id.
func (r *RoomState) Player(userID string) (*PlayerState, bool) {
	for i := range r.Players {
		if r.Players[i].UserID == userID {
			return &r.Players[i], true
		}
	}
	return nil, false
}

// HasPlayer reports whether userID participates in the room.
func (r *RoomState) HasPlayer(userID string) bool {
	_, ok := r.Player(userID)
	return ok
}

// UserIDs returns participant ids in join order.
func (r *RoomState) UserIDs() []string {
	ids := make([]string, 0, len(r.Players))
	for _, p := range r.Players {
		ids = append(ids, p.UserID)
	}
	return ids
}

// QueueEntry is one user's standing request to be matched.
type QueueEntry struct {
	UserID string `json:"userId"`
	Score  int    `json:"score"`
}

// Results is the payload of a round-end event.
type Results struct {
	Winner string         `json:"winner"`
	Scores map[string]int `json:"scores"`
	Reason string         `json:"reason"`
}

// Settlement reasons
const (
	ReasonTimeLimit    = "time_limit"
	ReasonOpponentLeft = "opponent_left"
)

// TieWinner is the literal winner value when the maximum score is shared.
const TieWinner = "tie"
