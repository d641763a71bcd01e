// Package authtest runs an in-process auth server that speaks the login,
// register, validate, me and refresh wire contract. Login requests are
// checked the way a real server would: the digest is verified and the
// envelope is opened with a key derived from the stored password.
package authtest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jmcleod/credshield/codec"
	"github.com/jmcleod/credshield/engine"
	"github.com/jmcleod/credshield/hasher"
)

const (
	DetailInvalidCredentials = "Invalid credentials"
	DetailInvalidToken       = "Could not validate credentials"
	DetailAccountDisabled    = "Account disabled"
	DetailUsernameTaken      = "Username already registered"
	DetailEmailTaken         = "Email already registered"

	defaultExpiresIn = 30 * 60
)

// Account is a registered user.
type Account struct {
	ID        int64
	Username  string
	Email     string
	Password  []byte
	Disabled  bool
	CreatedAt time.Time
}

// Request is a recorded inbound request.
type Request struct {
	Method        string
	Path          string
	RequestID     string
	Authorization string
	Body          []byte
}

type cannedResponse struct {
	status int
	body   string
}

type userOut struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type tokenOut struct {
	AccessToken string  `json:"access_token"`
	TokenType   string  `json:"token_type"`
	ExpiresIn   int64   `json:"expires_in,omitempty"`
	User        userOut `json:"user"`
}

type loginIn struct {
	Username string `json:"username"`
	Password string `json:"password"`
	*codec.Envelope
}

type registerIn struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerOut struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

// Server is a fake auth server backed by httptest.
type Server struct {
	URL string

	srv        *httptest.Server
	engine     *engine.Engine
	codec      *codec.Codec
	signingKey []byte

	mu        sync.Mutex
	accounts  map[string]*Account
	nextID    int64
	expiresIn int64
	canned    map[string]cannedResponse
	requests  []Request
}

// New starts a server whose engine uses cfg. It is closed when tb ends.
func New(tb testing.TB, cfg engine.KDFConfig) *Server {
	tb.Helper()
	e := engine.New(engine.NativeLoader(cfg))
	if err := e.Initialize(tb.Context()); err != nil {
		tb.Fatalf("initializing server engine: %v", err)
	}
	s := &Server{
		engine:     e,
		codec:      codec.New(e),
		signingKey: []byte("authtest-signing-key"),
		accounts:   make(map[string]*Account),
		expiresIn:  defaultExpiresIn,
		canned:     make(map[string]cannedResponse),
	}
	s.srv = httptest.NewServer(s.router())
	s.URL = s.srv.URL
	tb.Cleanup(s.Close)
	return s
}

// Close shuts the server down.
func (s *Server) Close() {
	s.srv.Close()
	_ = s.engine.Close()
}

func (s *Server) router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.record)
	r.Use(s.cannedResponses)
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", s.login)
		r.Post("/register", s.register)
		r.Get("/validate-username", s.validateUsername)
		r.Get("/validate-email", s.validateEmail)
		r.Get("/me", s.me)
		r.Post("/refresh", s.refresh)
	})
	return r
}

// AddUser registers an account directly.
func (s *Server) AddUser(username, email, password string) Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.addLocked(username, email, password)
}

func (s *Server) addLocked(username, email, password string) *Account {
	s.nextID++
	a := &Account{
		ID:        s.nextID,
		Username:  username,
		Email:     email,
		Password:  []byte(password),
		CreatedAt: time.Now().UTC(),
	}
	s.accounts[username] = a
	return a
}

// Disable marks an account as disabled.
func (s *Server) Disable(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[username]; ok {
		a.Disabled = true
	}
}

// SetExpiresIn sets the expires_in reported with issued tokens. Zero omits
// the field; the token still carries an exp claim.
func (s *Server) SetExpiresIn(seconds int64) {
	s.mu.Lock()
	s.expiresIn = seconds
	s.mu.Unlock()
}

// Respond makes every request to path return status and body verbatim.
func (s *Server) Respond(path string, status int, body string) {
	s.mu.Lock()
	s.canned[path] = cannedResponse{status: status, body: body}
	s.mu.Unlock()
}

// Requests returns the requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Issue returns a signed token for username valid for ttl. A negative ttl
// yields an already expired token.
func (s *Server) Issue(username string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	a, ok := s.accounts[username]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("unknown user %q", username)
	}
	return s.issue(a, ttl)
}

func (s *Server) issue(a *Account, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":     a.Username,
		"user_id": a.ID,
		"exp":     time.Now().Add(ttl).Unix(),
		"jti":     uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:        r.Method,
			Path:          r.URL.Path,
			RequestID:     r.Header.Get("X-Request-ID"),
			Authorization: r.Header.Get("Authorization"),
			Body:          body,
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) cannedResponses(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		c, ok := s.canned[r.URL.Path]
		s.mu.Unlock()
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(c.status)
		_, _ = io.WriteString(w, c.body)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) tokenFor(a *Account) (tokenOut, error) {
	s.mu.Lock()
	expiresIn := s.expiresIn
	s.mu.Unlock()
	ttl := time.Duration(expiresIn) * time.Second
	if expiresIn == 0 {
		ttl = defaultExpiresIn * time.Second
	}
	tok, err := s.issue(a, ttl)
	if err != nil {
		return tokenOut{}, err
	}
	return tokenOut{
		AccessToken: tok,
		TokenType:   "bearer",
		ExpiresIn:   expiresIn,
		User:        userOut{ID: a.ID, Username: a.Username, Email: a.Email},
	}, nil
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginIn
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Envelope == nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	s.mu.Lock()
	a, ok := s.accounts[req.Username]
	s.mu.Unlock()
	if !ok || !hasher.VerifyString(a.Password, req.Password) {
		writeDetail(w, http.StatusUnauthorized, DetailInvalidCredentials)
		return
	}

	user, pass, err := s.codec.Open(req.Envelope, a.Password)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid credential envelope")
		return
	}
	if string(user) != req.Username || !bytes.Equal(pass, a.Password) {
		writeDetail(w, http.StatusUnauthorized, DetailInvalidCredentials)
		return
	}
	s.mu.Lock()
	disabled := a.Disabled
	s.mu.Unlock()
	if disabled {
		writeDetail(w, http.StatusBadRequest, DetailAccountDisabled)
		return
	}

	out, err := s.tokenFor(a)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerIn
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Email == "" || req.Password == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "username, email and password are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.accounts[req.Username]; taken {
		writeDetail(w, http.StatusBadRequest, DetailUsernameTaken)
		return
	}
	if s.emailTakenLocked(req.Email) {
		writeDetail(w, http.StatusBadRequest, DetailEmailTaken)
		return
	}
	a := s.addLocked(req.Username, req.Email, req.Password)
	writeJSON(w, http.StatusCreated, registerOut{
		ID:        a.ID,
		Username:  a.Username,
		Email:     a.Email,
		IsActive:  true,
		CreatedAt: a.CreatedAt.Format("2006-01-02T15:04:05.000000"),
	})
}

func (s *Server) emailTakenLocked(email string) bool {
	for _, a := range s.accounts {
		if strings.EqualFold(a.Email, email) {
			return true
		}
	}
	return false
}

func (s *Server) validateUsername(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "username is required")
		return
	}
	s.mu.Lock()
	_, taken := s.accounts[username]
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]bool{"available": !taken})
}

func (s *Server) validateEmail(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "email is required")
		return
	}
	s.mu.Lock()
	taken := s.emailTakenLocked(email)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]bool{"available": !taken})
}

// authenticate resolves the bearer token to an account.
func (s *Server) authenticate(r *http.Request) (*Account, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return nil, errors.New("missing bearer token")
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	a, ok := s.accounts[sub]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown subject %q", sub)
	}
	return a, nil
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	a, err := s.authenticate(r)
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, DetailInvalidToken)
		return
	}
	s.mu.Lock()
	disabled := a.Disabled
	s.mu.Unlock()
	if disabled {
		writeDetail(w, http.StatusBadRequest, DetailAccountDisabled)
		return
	}
	writeJSON(w, http.StatusOK, userOut{ID: a.ID, Username: a.Username, Email: a.Email})
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	a, err := s.authenticate(r)
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, DetailInvalidToken)
		return
	}
	out, err := s.tokenFor(a)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	writeJSON(w, http.StatusOK, out)
}
