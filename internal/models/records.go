package models

import (
	"time"

	"gorm.io/gorm"
)

// User is a registered player profile in the relational store.
type User struct {
	gorm.Model
	FID               string `gorm:"uniqueIndex;not null" json:"fid"`
	DisplayName       string `json:"displayName"`
	Username          string `json:"username"`
	ProfilePictureURL string `json:"profilePictureUrl"`
	Points            int    `json:"points"`
	GamesWon          int    `json:"gamesWon"`
	GamesPlayed       int    `json:"gamesPlayed"`
}

// Game is one completed match result. WinnerFID is empty for a tie.
type Game struct {
	gorm.Model
	Player1FID    string    `gorm:"index" json:"player1Fid"`
	Player2FID    string    `gorm:"index" json:"player2Fid"`
	WinnerFID     string    `gorm:"index" json:"winnerFid"`
	Player1Points int       `json:"player1Points"`
	Player2Points int       `json:"player2Points"`
	FinishedAt    time.Time `gorm:"index" json:"finishedAt"`
}
