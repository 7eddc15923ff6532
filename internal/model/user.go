package model

import "time"

// User is the identity record kept by the local identity provider.
// Token fields hold hashes, never the raw tokens.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"passwordHash"`
	EmailVerified bool      `json:"emailVerified"`
	Disabled      bool      `json:"disabled,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`

	VerifyTokenHash string    `json:"verifyTokenHash,omitempty"`
	VerifyExpires   time.Time `json:"verifyExpires,omitempty"`
	ResetTokenHash  string    `json:"resetTokenHash,omitempty"`
	ResetExpires    time.Time `json:"resetExpires,omitempty"`
}
