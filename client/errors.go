package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jmcleod/credshield/codec"
	"github.com/jmcleod/credshield/engine"
)

// Sentinel errors for errors.Is checks. Every error returned by a Client
// call is an *Error whose Kind maps to exactly one of these.
var (
	ErrEngineUnavailable      = engine.ErrEngineUnavailable
	ErrInvalidParameters      = engine.ErrInvalidParameters
	ErrRandomnessUnavailable  = codec.ErrRandomnessUnavailable
	ErrNetwork                = errors.New("network error")
	ErrAuthenticationRejected = errors.New("authentication rejected")
	ErrServer                 = errors.New("server error")
	ErrSessionStore           = errors.New("session store failure")
	ErrNotLoggedIn            = errors.New("not logged in")
)

// Kind classifies a failed call.
type Kind int

const (
	KindEngineUnavailable Kind = iota + 1
	KindInvalidParameters
	KindRandomnessUnavailable
	KindNetwork
	KindAuthenticationRejected
	KindServer
	KindSessionStore
	KindNotLoggedIn
)

func (k Kind) String() string {
	switch k {
	case KindEngineUnavailable:
		return "EngineUnavailable"
	case KindInvalidParameters:
		return "InvalidParameters"
	case KindRandomnessUnavailable:
		return "RandomnessUnavailable"
	case KindNetwork:
		return "NetworkError"
	case KindAuthenticationRejected:
		return "AuthenticationRejected"
	case KindServer:
		return "ServerError"
	case KindSessionStore:
		return "SessionStoreError"
	case KindNotLoggedIn:
		return "NotLoggedIn"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindEngineUnavailable:
		return ErrEngineUnavailable
	case KindInvalidParameters:
		return ErrInvalidParameters
	case KindRandomnessUnavailable:
		return ErrRandomnessUnavailable
	case KindNetwork:
		return ErrNetwork
	case KindAuthenticationRejected:
		return ErrAuthenticationRejected
	case KindServer:
		return ErrServer
	case KindSessionStore:
		return ErrSessionStore
	case KindNotLoggedIn:
		return ErrNotLoggedIn
	}
	return nil
}

// Error is returned by every failed Client call.
type Error struct {
	Op         string // login, register, me, refresh, validate-username, validate-email
	Kind       Kind
	StatusCode int    // 0 when no response was received
	Detail     string // server-supplied detail, verbatim
	RequestID  string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// KindOf returns the Kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}

// prepError classifies a failure before any request was sent.
func prepError(op string, err error) *Error {
	kind := KindInvalidParameters
	switch {
	case errors.Is(err, engine.ErrEngineUnavailable):
		kind = KindEngineUnavailable
	case errors.Is(err, codec.ErrRandomnessUnavailable):
		kind = KindRandomnessUnavailable
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// statusError classifies a non-2xx response.
func statusError(op, requestID string, status int, detail string) *Error {
	kind := KindServer
	if status >= http.StatusBadRequest && status < http.StatusInternalServerError {
		kind = KindAuthenticationRejected
	}
	return &Error{
		Op:         op,
		Kind:       kind,
		StatusCode: status,
		Detail:     detail,
		RequestID:  requestID,
		Err:        fmt.Errorf("unexpected status %d", status),
	}
}
