// Package models defines the core data structures shared by the StudyDeck
// server and client: users, their public identity, and refresh sessions.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is the access level of a user.
type Role string

const (
	// RoleStudent is the default role assigned on registration.
	RoleStudent Role = "student"
	// RoleTeacher can share materials with a class.
	RoleTeacher Role = "teacher"
	// RoleAdmin has full access.
	RoleAdmin Role = "admin"
)

// Usage holds per-user counters of generated study assets.
type Usage struct {
	// Materials is the number of uploaded study materials.
	Materials int `json:"materials"`
	// Flashcards is the number of generated flashcards.
	Flashcards int `json:"flashcards"`
	// Quizzes is the number of generated quizzes.
	Quizzes int `json:"quizzes"`
	// Summaries is the number of generated summaries.
	Summaries int `json:"summaries"`
	// TokensUsed is the number of AI provider tokens consumed.
	TokensUsed int64 `json:"tokens_used"`
}

// Identity is the public profile of an authenticated user, as returned by
// the "who am I" endpoint.
type Identity struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	Role        Role      `json:"role"`
	DisplayName string    `json:"display_name"`
	Usage       Usage     `json:"usage"`
}

// User represents an application user with credentials.
type User struct {
	// ID is the unique identifier for the user.
	ID uuid.UUID
	// Email is the login name of the user.
	Email string
	// DisplayName is shown in the UI.
	DisplayName string
	// Role is the user's access level.
	Role Role
	// PasswordHash is the bcrypt hash of the user's password.
	PasswordHash []byte
	// Usage holds the user's counters.
	Usage Usage
	// CreatedAt is the registration time.
	CreatedAt time.Time
}

// Identity returns the public profile of the user.
func (u *User) Identity() Identity {
	return Identity{
		ID:          u.ID,
		Email:       u.Email,
		Role:        u.Role,
		DisplayName: u.DisplayName,
		Usage:       u.Usage,
	}
}

// Session is a server-side refresh session. The plain refresh token lives
// only in the client's cookie; the server keeps its SHA-256 hash.
type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is no longer usable at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
