// Package client is the credential transport client. It prepares login
// credentials with the crypto engine, hasher and codec, talks to the auth
// server over HTTP and records the resulting session.
//
// Every call moves through Idle, Preparing, Sending and then Succeeded or
// Failed. Failures are returned as *Error, classified by Kind. The session
// store is written only when a call completes successfully.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jmcleod/credshield/codec"
	"github.com/jmcleod/credshield/engine"
	"github.com/jmcleod/credshield/session"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultTimeout = 15 * time.Second

	// RequestIDHeader carries the per-call request id.
	RequestIDHeader = "X-Request-ID"

	maxResponseBytes = 1 << 20
	maxDetailBytes   = 512
)

// Client talks to the auth server. It is safe for concurrent use; calls
// share only the already-initialized engine and the session store.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	engine     *engine.Engine
	ownsEngine bool
	codec      *codec.Codec
	store      session.Store
	hook       StateHook
	now        func() time.Time
	requestID  func() string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the server root, e.g. https://auth.example.com.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithEngine shares an existing engine instead of creating one with the
// default KDF configuration.
func WithEngine(e *engine.Engine) Option {
	return func(c *Client) {
		c.engine = e
	}
}

// WithCodec overrides the envelope codec. It must be bound to the same
// engine as the client.
func WithCodec(cd *codec.Codec) Option {
	return func(c *Client) {
		c.codec = cd
	}
}

// WithSessionStore sets where successful logins are recorded. The default
// is an in-memory store.
func WithSessionStore(st session.Store) Option {
	return func(c *Client) {
		c.store = st
	}
}

// WithStateHook observes call state transitions.
func WithStateHook(h StateHook) Option {
	return func(c *Client) {
		c.hook = h
	}
}

// New creates a client. Without WithEngine, the client owns an engine using
// engine.DefaultKDFConfig and Close releases it.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		now:        time.Now,
		requestID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be an absolute http(s) url", c.baseURL)
	}
	if c.httpClient == nil {
		return nil, errors.New("nil http client")
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.engine == nil {
		c.engine = engine.New(engine.NativeLoader(engine.DefaultKDFConfig()), engine.WithLogger(c.logger))
		c.ownsEngine = true
	}
	if c.codec == nil {
		c.codec = codec.New(c.engine)
	}
	if c.store == nil {
		c.store = session.NewMemoryStore()
	}
	return c, nil
}

// Engine returns the crypto engine used by the client.
func (c *Client) Engine() *engine.Engine {
	return c.engine
}

// Session returns the session store.
func (c *Client) Session() session.Store {
	return c.store
}

// Close releases the engine if the client created it.
func (c *Client) Close() error {
	if c.ownsEngine {
		return c.engine.Close()
	}
	return nil
}

type request struct {
	method string
	path   string
	query  url.Values
	body   any
	token  string
}

// do sends req and decodes a 2xx body into out. It returns nil or a
// classified *Error.
func (c *Client) do(ctx context.Context, k *call, req request, out any) *Error {
	requestID := c.requestID()
	logger := c.logger.With("op", k.op, "request_id", requestID)

	var body io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return &Error{Op: k.op, Kind: KindInvalidParameters, RequestID: requestID, Err: fmt.Errorf("encoding request: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return &Error{Op: k.op, Kind: KindInvalidParameters, RequestID: requestID, Err: fmt.Errorf("building request: %w", err)}
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(RequestIDHeader, requestID)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
	}

	k.to(StateSending)
	logger.Debug("sending request", "method", req.method, "path", req.path)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		logger.Warn("request failed", "kind", KindNetwork.String())
		return &Error{Op: k.op, Kind: KindNetwork, RequestID: requestID, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		logger.Warn("reading response failed", "status", resp.StatusCode, "kind", KindNetwork.String())
		return &Error{Op: k.op, Kind: KindNetwork, StatusCode: resp.StatusCode, RequestID: requestID, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		cerr := statusError(k.op, requestID, resp.StatusCode, parseDetail(data))
		logger.Info("request rejected", "status", resp.StatusCode, "kind", cerr.Kind.String())
		return cerr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			logger.Warn("malformed response", "status", resp.StatusCode, "kind", KindServer.String())
			return &Error{Op: k.op, Kind: KindServer, StatusCode: resp.StatusCode, RequestID: requestID, Err: fmt.Errorf("decoding response: %w", err)}
		}
	}
	logger.Debug("request succeeded", "status", resp.StatusCode)
	return nil
}

// parseDetail extracts the detail field from an error body. Structured
// details (e.g. validation error lists) are returned as raw JSON; bodies
// that are not JSON are returned as text.
func parseDetail(body []byte) string {
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil || len(er.Detail) == 0 {
		return truncate(strings.TrimSpace(string(body)))
	}
	var s string
	if err := json.Unmarshal(er.Detail, &s); err == nil {
		return s
	}
	return truncate(string(er.Detail))
}

func truncate(s string) string {
	if len(s) > maxDetailBytes {
		return s[:maxDetailBytes]
	}
	return s
}
