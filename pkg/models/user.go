package models

import "time"

// DefaultRating is assigned to new accounts.
const DefaultRating = 1200

// User is the persistent account row consumed by the core. Credential
// handling lives at the edge; the core only reads profile and rating data.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Rating    int       `json:"rating"`
	Wins      int       `json:"wins"`
	Losses    int       `json:"losses"`
	Ties      int       `json:"ties"`
	CreatedAt time.Time `json:"created_at"`
}

// UserStats is the aggregate profile view.
type UserStats struct {
	UserID       string  `json:"user_id"`
	Rating       int     `json:"rating"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	Ties         int     `json:"ties"`
	TotalMatches int     `json:"total_matches"`
	WinRate      float64 `json:"win_rate"`
}
