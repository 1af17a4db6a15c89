package repositories

import (
	"errors"
	"sort"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"formula/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// Recorder is what the realtime layer needs from the relational store:
// profile upserts and final match results. Failures are the caller's to
// log; they must never resurrect a settled room.
type Recorder interface {
	UpsertUser(fid, displayName, profilePictureURL, username string) (*models.User, error)
	// RecordMatch persists one settled room. winnerFID is empty on a tie.
	RecordMatch(player1FID, player2FID, winnerFID string, scores map[string]int) error
}

// Open connects to postgres and migrates the schema.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&models.User{}, &models.Game{}); err != nil {
		return nil, err
	}
	return db, nil
}

type GameRepository struct {
	DB *gorm.DB
}

// UpsertUser creates the profile on first sight and refreshes the mutable
// fields afterwards.
func (r *GameRepository) UpsertUser(fid, displayName, profilePictureURL, username string) (*models.User, error) {
	var user models.User
	err := r.DB.First(&user, "fid = ?", fid).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = models.User{
			FID:               fid,
			DisplayName:       displayName,
			ProfilePictureURL: profilePictureURL,
			Username:          username,
		}
		if err := r.DB.Create(&user).Error; err != nil {
			return nil, err
		}
		return &user, nil
	case err != nil:
		return nil, err
	}

	updates := map[string]any{
		"display_name":        displayName,
		"profile_picture_url": profilePictureURL,
		"username":            username,
	}
	if err := r.DB.Model(&user).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// RecordMatch writes the game row and applies point/counter increments.
// The winner banks their final score as points; a tie increments nobody's
// points. Unknown fids simply match no profile row.
func (r *GameRepository) RecordMatch(player1FID, player2FID, winnerFID string, scores map[string]int) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		game := models.Game{
			Player1FID:    player1FID,
			Player2FID:    player2FID,
			WinnerFID:     winnerFID,
			Player1Points: scores[player1FID],
			Player2Points: scores[player2FID],
			FinishedAt:    time.Now(),
		}
		if err := tx.Create(&game).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.User{}).Where("fid IN ?", []string{player1FID, player2FID}).
			Update("games_played", gorm.Expr("games_played + 1")).Error; err != nil {
			return err
		}

		if winnerFID == "" {
			return nil
		}
		return tx.Model(&models.User{}).Where("fid = ?", winnerFID).
			Updates(map[string]any{
				"points":    gorm.Expr("points + ?", scores[winnerFID]),
				"games_won": gorm.Expr("games_won + 1"),
			}).Error
	})
}

// GetUser fetches a profile by fid.
func (r *GameRepository) GetUser(fid string) (*models.User, error) {
	var user models.User
	err := r.DB.First(&user, "fid = ?", fid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// LeaderboardEntry is one ranked row of interval points.
type LeaderboardEntry struct {
	FID               string `json:"fid"`
	DisplayName       string `json:"displayName"`
	Username          string `json:"username"`
	ProfilePictureURL string `json:"profilePictureUrl"`
	Points            int    `json:"points"`
	Rank              int    `json:"rank"`
}

// Leaderboard ranks users by points earned in games finished within the
// last intervalDays, paged.
func (r *GameRepository) Leaderboard(limit, page, intervalDays int) ([]LeaderboardEntry, error) {
	if intervalDays <= 0 {
		intervalDays = 7
	}
	cutoff := time.Now().AddDate(0, 0, -intervalDays)

	var games []models.Game
	if err := r.DB.Where("finished_at >= ?", cutoff).Find(&games).Error; err != nil {
		return nil, err
	}

	points := make(map[string]int)
	for _, g := range games {
		points[g.Player1FID] += g.Player1Points
		points[g.Player2FID] += g.Player2Points
	}
	if len(points) == 0 {
		return []LeaderboardEntry{}, nil
	}

	fids := make([]string, 0, len(points))
	for fid := range points {
		fids = append(fids, fid)
	}
	var users []models.User
	if err := r.DB.Where("fid IN ?", fids).Find(&users).Error; err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(users))
	for _, u := range users {
		entries = append(entries, LeaderboardEntry{
			FID:               u.FID,
			DisplayName:       u.DisplayName,
			Username:          u.Username,
			ProfilePictureURL: u.ProfilePictureURL,
			Points:            points[u.FID],
		})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Points > entries[j].Points })
	for i := range entries {
		entries[i].Rank = i + 1
	}

	if limit <= 0 {
		limit = 10
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(entries) {
		return []LeaderboardEntry{}, nil
	}
	end := start + limit
	if end > len(entries) {
		end = len(entries)
	}
	return entries[start:end], nil
}

// NoopRecorder discards results; used when no database is configured.
type NoopRecorder struct{}

func (NoopRecorder) UpsertUser(fid, displayName, profilePictureURL, username string) (*models.User, error) {
	return &models.User{FID: fid, DisplayName: displayName, ProfilePictureURL: profilePictureURL, Username: username}, nil
}

func (NoopRecorder) RecordMatch(string, string, string, map[string]int) error { return nil }
