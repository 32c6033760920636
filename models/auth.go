package models

import "time"

const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

type AuthUser struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	ProfilePic *string   `json:"profile_pic"`
	IsActive   bool      `json:"is_active"`
	Created    time.Time `json:"created"`
	Modified   time.Time `json:"modified"`
}

// AuthResponse is returned by login and register
type AuthResponse struct {
	Status  string    `json:"status"`
	Message string    `json:"message,omitempty"`
	User    *AuthUser `json:"user,omitempty"`
	JWT     string    `json:"jwt,omitempty"`
}

// Succeeded reports a SUCCESS status carrying both a user and a token
func (a AuthResponse) Succeeded() bool {
	return a.Status == StatusSuccess && a.User != nil && a.JWT != ""
}
