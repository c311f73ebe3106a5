// Package domain contains core domain types for the goal planner.
package domain

import (
	"time"
)

// User represents a signed-in user and the Google credential obtained at login.
type User struct {
	Key       string    `json:"key"` // email address
	Name      string    `json:"name"`
	Picture   string    `json:"picture,omitempty"`
	TokenJSON string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasCredential returns true if an OAuth token was stored for the user.
func (u *User) HasCredential() bool {
	return u.TokenJSON != ""
}
