package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"formula/internal/repositories"
)

// API serves the read-only HTTP collaborator surface over the relational
// store. The realtime session layer does not depend on it.
type API struct {
	Repo *repositories.GameRepository
	Log  *zap.Logger
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

type leaderboardResponse struct {
	Users  []repositories.LeaderboardEntry `json:"users"`
	Total  int                             `json:"total"`
	Page   int                             `json:"page"`
	Caller *repositories.LeaderboardEntry  `json:"caller"`
}

// Leaderboard returns interval point rankings, paged, with the caller's own
// row surfaced when userId is supplied.
func (a *API) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)
	page := queryInt(r, "page", 1)
	interval := queryInt(r, "interval", 7)

	entries, err := a.Repo.Leaderboard(limit, page, interval)
	if err != nil {
		a.Log.Error("leaderboard query failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "leaderboard unavailable"})
		return
	}

	resp := leaderboardResponse{Users: entries, Total: len(entries), Page: page}
	if callerID := r.URL.Query().Get("userId"); callerID != "" {
		for i := range entries {
			if entries[i].FID == callerID {
				resp.Caller = &entries[i]
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetUser returns one profile by fid.
func (a *API) GetUser(w http.ResponseWriter, r *http.Request) {
	fid := r.URL.Query().Get("fid")
	if fid == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "fid required"})
		return
	}

	user, err := a.Repo.GetUser(fid)
	if errors.Is(err, repositories.ErrUserNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}
	if err != nil {
		a.Log.Error("user query failed", zap.String("fid", fid), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "user unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, user)
}
