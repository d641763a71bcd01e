package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/credshield/hasher"
	"github.com/jmcleod/credshield/internal/util"
	"github.com/jmcleod/credshield/session"
)

const (
	pathLogin            = "/api/auth/login"
	pathRegister         = "/api/auth/register"
	pathValidateUsername = "/api/auth/validate-username"
	pathValidateEmail    = "/api/auth/validate-email"
	pathMe               = "/api/auth/me"
	pathRefresh          = "/api/auth/refresh"
)

// Login authenticates username and password. The password is hashed for
// verification and, together with the username, sealed in a fresh
// envelope keyed from the password. On success the session is saved and
// returned; on any failure the session store is left untouched.
//
// password is copied into locked memory and the copy is destroyed before
// Login returns. The caller still owns and should wipe its own slice.
func (c *Client) Login(ctx context.Context, username string, password []byte) (session.Session, error) {
	k := c.begin("login")
	k.to(StatePreparing)

	if len(password) == 0 {
		return session.Session{}, k.fail(prepError(k.op, fmt.Errorf("%w: empty password", ErrInvalidParameters)))
	}
	pw := memguard.NewBufferFromBytes(util.CopyBytes(password))
	defer pw.Destroy()

	if err := c.engine.Initialize(ctx); err != nil {
		return session.Session{}, k.fail(prepError(k.op, err))
	}

	name := util.NormalizeIdentifier(username)
	digest := hasher.Hash(pw.Bytes())
	env, err := c.codec.MakeEnvelope([]byte(name), pw.Bytes(), pw.Bytes())
	if err != nil {
		return session.Session{}, k.fail(prepError(k.op, err))
	}

	var resp TokenResponse
	body := LoginRequest{Username: name, Password: digest.String(), Envelope: env}
	if cerr := c.do(ctx, k, request{method: http.MethodPost, path: pathLogin, body: body}, &resp); cerr != nil {
		return session.Session{}, k.fail(cerr)
	}
	if resp.AccessToken == "" {
		return session.Session{}, k.fail(&Error{Op: k.op, Kind: KindServer, StatusCode: http.StatusOK, Err: errors.New("response has no access_token")})
	}
	if resp.User.ID == 0 || resp.User.Username == "" {
		return session.Session{}, k.fail(&Error{Op: k.op, Kind: KindServer, StatusCode: http.StatusOK, Err: errors.New("response has no user")})
	}

	// A cancelled caller must not leave a session behind.
	if err := ctx.Err(); err != nil {
		return session.Session{}, k.fail(&Error{Op: k.op, Kind: KindNetwork, Err: err})
	}
	sess := session.New(resp.AccessToken, resp.User, resp.ExpiresIn, c.now())
	if err := c.store.Save(sess); err != nil {
		return session.Session{}, k.fail(&Error{Op: k.op, Kind: KindSessionStore, Err: err})
	}
	c.logger.Info("login succeeded", "user_id", resp.User.ID)
	k.to(StateSucceeded)
	return sess, nil
}

// Register creates an account. Unlike Login, the fields are sent as-is and
// rely on the outer TLS channel. Register does not touch the session.
func (c *Client) Register(ctx context.Context, username, email string, password []byte) (RegisteredUser, error) {
	k := c.begin("register")
	k.to(StatePreparing)
	if len(password) == 0 {
		return RegisteredUser{}, k.fail(prepError(k.op, fmt.Errorf("%w: empty password", ErrInvalidParameters)))
	}

	body := RegisterRequest{
		Username: util.NormalizeIdentifier(username),
		Email:    email,
		Password: string(password),
	}
	var out RegisteredUser
	if cerr := c.do(ctx, k, request{method: http.MethodPost, path: pathRegister, body: body}, &out); cerr != nil {
		return RegisteredUser{}, k.fail(cerr)
	}
	c.logger.Info("registration succeeded", "user_id", out.ID)
	k.to(StateSucceeded)
	return out, nil
}

// ValidateUsername reports whether username is available. A non-2xx
// response counts as unavailable; transport failures are returned.
func (c *Client) ValidateUsername(ctx context.Context, username string) (bool, error) {
	return c.validate(ctx, "validate-username", pathValidateUsername, "username", util.NormalizeIdentifier(username))
}

// ValidateEmail reports whether email is available, like ValidateUsername.
func (c *Client) ValidateEmail(ctx context.Context, email string) (bool, error) {
	return c.validate(ctx, "validate-email", pathValidateEmail, "email", email)
}

func (c *Client) validate(ctx context.Context, op, path, param, value string) (bool, error) {
	k := c.begin(op)
	k.to(StatePreparing)
	var out Availability
	cerr := c.do(ctx, k, request{method: http.MethodGet, path: path, query: url.Values{param: {value}}}, &out)
	switch {
	case cerr == nil:
		k.to(StateSucceeded)
		return out.Available, nil
	case cerr.StatusCode != 0 && (cerr.Kind == KindAuthenticationRejected || cerr.Kind == KindServer):
		k.to(StateSucceeded)
		return false, nil
	default:
		return false, k.fail(cerr)
	}
}

// Me fetches the user the current session belongs to. A 401 clears the
// session.
func (c *Client) Me(ctx context.Context) (session.User, error) {
	k := c.begin("me")
	k.to(StatePreparing)
	token, ok := session.Token(c.store)
	if !ok {
		return session.User{}, k.fail(&Error{Op: k.op, Kind: KindNotLoggedIn})
	}
	var out session.User
	if cerr := c.do(ctx, k, request{method: http.MethodGet, path: pathMe, token: token}, &out); cerr != nil {
		c.dropOnUnauthorized(cerr)
		return session.User{}, k.fail(cerr)
	}
	k.to(StateSucceeded)
	return out, nil
}

// Refresh exchanges the current token for a new one and saves it. A 401
// clears the session.
func (c *Client) Refresh(ctx context.Context) (session.Session, error) {
	k := c.begin("refresh")
	k.to(StatePreparing)
	cur, ok := c.store.Current()
	if !ok {
		return session.Session{}, k.fail(&Error{Op: k.op, Kind: KindNotLoggedIn})
	}
	var resp TokenResponse
	if cerr := c.do(ctx, k, request{method: http.MethodPost, path: pathRefresh, token: cur.Token}, &resp); cerr != nil {
		c.dropOnUnauthorized(cerr)
		return session.Session{}, k.fail(cerr)
	}
	if resp.AccessToken == "" {
		return session.Session{}, k.fail(&Error{Op: k.op, Kind: KindServer, StatusCode: http.StatusOK, Err: errors.New("response has no access_token")})
	}
	if err := ctx.Err(); err != nil {
		return session.Session{}, k.fail(&Error{Op: k.op, Kind: KindNetwork, Err: err})
	}
	user := resp.User
	if user.ID == 0 {
		user = cur.User
	}
	sess := session.New(resp.AccessToken, user, resp.ExpiresIn, c.now())
	if err := c.store.Save(sess); err != nil {
		return session.Session{}, k.fail(&Error{Op: k.op, Kind: KindSessionStore, Err: err})
	}
	k.to(StateSucceeded)
	return sess, nil
}

// Logout clears the session. It makes no network call.
func (c *Client) Logout() error {
	if err := c.store.Clear(); err != nil {
		return &Error{Op: "logout", Kind: KindSessionStore, Err: err}
	}
	c.logger.Info("logged out")
	return nil
}

// CurrentUser returns the logged-in user without a network call.
func (c *Client) CurrentUser() (session.User, bool) {
	return session.CurrentUser(c.store)
}

// IsLoggedIn reports whether a live session is stored.
func (c *Client) IsLoggedIn() bool {
	return session.IsLoggedIn(c.store)
}

func (c *Client) dropOnUnauthorized(cerr *Error) {
	if cerr.StatusCode != http.StatusUnauthorized {
		return
	}
	if err := c.store.Clear(); err != nil {
		c.logger.Warn("clearing rejected session failed", "error", err)
	}
}
