// Package authclient builds and caches HTTP clients configured for the
// authentication scheme of a remote endpoint.
package authclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/thc1006/nephoran-sol003-driver/internal/credentials"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 30 * time.Second
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HasBody reports whether the response carried a non-empty body.
func (r *Response) HasBody() bool {
	return len(r.Body) > 0
}

// StatusError is the raw error for a non-2xx response that no error handler
// could interpret.
type StatusError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *StatusError) Error() string {
	body := string(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	if body == "" {
		return fmt.Sprintf("unexpected HTTP status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected HTTP status %d: %s", e.StatusCode, body)
}

// ErrorHandler turns a non-2xx response into an error.
type ErrorHandler func(resp *Response) error

// DefaultErrorHandler returns the raw StatusError.
func DefaultErrorHandler(resp *Response) error {
	return &StatusError{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}
}

// Middleware wraps the outbound transport of every built client.
type Middleware func(next http.RoundTripper) http.RoundTripper

// BreakerSettings enables a circuit breaker on built clients.
type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

// Options configure the clients built by a Cache or NewClient.
type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	TLSConfig      *tls.Config
	ErrorHandler   ErrorHandler
	Middleware     []Middleware
	CircuitBreaker *BreakerSettings
	Logger         logr.Logger
}

// DefaultOptions returns options with the standard timeouts.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    DefaultReadTimeout,
		ErrorHandler:   DefaultErrorHandler,
		Logger:         logr.Discard(),
	}
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.ErrorHandler == nil {
		o.ErrorHandler = DefaultErrorHandler
	}
	if o.Logger.GetSink() == nil {
		o.Logger = logr.Discard()
	}
	return o
}

// Client is an authenticated HTTP client bound to one credential profile.
type Client struct {
	authType     credentials.AuthType
	httpClient   *http.Client
	transport    *http.Transport
	errorHandler ErrorHandler
	readTimeout  time.Duration
}

// AuthType reports the scheme the client authenticates with.
func (c *Client) AuthType() credentials.AuthType {
	return c.authType
}

// Do sends req and reads the whole response. Non-2xx responses are passed to
// the error handler and never returned as a Response.
// The read timeout bounds the wait for headers and every pause while
// reading the body.
func (c *Client) Do(req *http.Request) (*Response, error) {
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp.Body, c.readTimeout, cancel)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	r := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.errorHandler(r)
	}
	return r, nil
}

// ErrReadTimeout is returned when the body stalls for longer than the read
// timeout.
var ErrReadTimeout = errors.New("read timeout exceeded")

// readBody reads r to the end, cancelling the request when no data arrives
// within idle.
func readBody(r io.Reader, idle time.Duration, cancel context.CancelFunc) ([]byte, error) {
	if idle <= 0 {
		return io.ReadAll(r)
	}
	var expired atomic.Bool
	timer := time.AfterFunc(idle, func() {
		expired.Store(true)
		cancel()
	})
	defer timer.Stop()

	var (
		buf   bytes.Buffer
		chunk = make([]byte, 32*1024)
	)
	for {
		n, err := r.Read(chunk)
		buf.Write(chunk[:n])
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			if expired.Load() {
				return nil, fmt.Errorf("%w after %s: %v", ErrReadTimeout, idle, err)
			}
			return nil, err
		}
		if n > 0 && !timer.Reset(idle) {
			return nil, fmt.Errorf("%w after %s", ErrReadTimeout, idle)
		}
	}
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.transport.CloseIdleConnections()
}

// NewClient builds a client for profile without caching it.
func NewClient(profile credentials.Profile, opts Options) (*Client, error) {
	return newClient(defaultStrategies, profile, opts.withDefaults())
}

func newClient(strategies map[credentials.AuthType]Strategy, profile credentials.Profile, opts Options) (*Client, error) {
	strategy, ok := strategies[profile.AuthType]
	if !ok {
		return nil, &credentials.ConfigError{
			AuthType: profile.AuthType,
			Reason:   fmt.Sprintf("no client strategy for authentication type %q", profile.AuthType),
		}
	}

	base := newBaseTransport(opts)
	rt, err := strategy.Build(profile, base, opts)
	if err != nil {
		return nil, err
	}
	if opts.CircuitBreaker != nil {
		rt = newBreakerTransport(profile, *opts.CircuitBreaker, rt, opts.Logger)
	}
	for i := len(opts.Middleware) - 1; i >= 0; i-- {
		rt = opts.Middleware[i](rt)
	}

	return &Client{
		authType:     profile.AuthType,
		httpClient:   &http.Client{Transport: rt},
		transport:    base,
		errorHandler: opts.ErrorHandler,
		readTimeout:  opts.ReadTimeout,
	}, nil
}

func newBaseTransport(opts Options) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       opts.TLSConfig,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
