package client

import (
	"encoding/json"

	"github.com/jmcleod/credshield/codec"
	"github.com/jmcleod/credshield/session"
)

// LoginRequest is the body of POST /api/auth/login. Password carries the
// base64 SHA-256 verification digest, never the plaintext.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	*codec.Envelope
}

// TokenResponse is returned by login and refresh.
type TokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int64        `json:"expires_in,omitempty"`
	User        session.User `json:"user"`
}

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisteredUser is returned by a successful registration.
type RegisteredUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

// Availability is returned by the validate endpoints.
type Availability struct {
	Available bool `json:"available"`
}

// ErrorResponse is the failure body of every endpoint. Detail is usually a
// string but may be a structured value such as a validation error list.
type ErrorResponse struct {
	Detail json.RawMessage `json:"detail"`
}
