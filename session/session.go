// Package session holds the authenticated client state: the access token
// and the user it was issued for. A Store is the single source of truth for
// whether the user is logged in.
package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User is the identity returned by the auth server.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Session pairs an access token with its user. A zero ExpiresAt means the
// session does not expire on its own.
type Session struct {
	Token     string    `json:"access_token"`
	User      User      `json:"user"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Expired reports whether the session has passed its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Store abstracts session persistence so the client can keep its state in
// memory or on disk.
type Store interface {
	// Save replaces the current session. Token and user are written together.
	Save(s Session) error
	// Clear removes token and user together. Clearing an empty store is not
	// an error.
	Clear() error
	// Current returns the stored session. It returns false if nothing is
	// stored or the session has expired.
	Current() (Session, bool)
}

// New builds a Session issued at now. expiresIn (seconds) takes priority;
// otherwise the exp claim of a JWT token is used when present.
func New(token string, user User, expiresIn int64, now time.Time) Session {
	s := Session{Token: token, User: user}
	switch {
	case expiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(expiresIn) * time.Second)
	default:
		if exp, ok := TokenExpiry(token); ok {
			s.ExpiresAt = exp
		}
	}
	return s
}

// TokenExpiry reads the exp claim of a JWT without verifying its
// signature. Verification is the server's job; the client only uses exp to
// stop presenting a token it knows is stale.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// CurrentUser returns the user of the live session in st.
func CurrentUser(st Store) (User, bool) {
	s, ok := st.Current()
	if !ok {
		return User{}, false
	}
	return s.User, true
}

// Token returns the access token of the live session in st.
func Token(st Store) (string, bool) {
	s, ok := st.Current()
	if !ok {
		return "", false
	}
	return s.Token, true
}

// IsLoggedIn reports whether st holds a live session.
func IsLoggedIn(st Store) bool {
	_, ok := st.Current()
	return ok
}
