package authclient

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/sony/gobreaker"

	"github.com/thc1006/nephoran-sol003-driver/internal/credentials"
)

var errServerFailure = errors.New("server failure")

// breakerTransport counts transport errors and 5xx responses. It never
// retries; an open breaker fails fast with gobreaker.ErrOpenState.
type breakerTransport struct {
	cb   *gobreaker.CircuitBreaker
	next http.RoundTripper
}

func newBreakerTransport(profile credentials.Profile, s BreakerSettings, next http.RoundTripper, log logr.Logger) *breakerTransport {
	failures := s.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}
	timeout := s.OpenTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &breakerTransport{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        string(profile.AuthType),
			MaxRequests: 1,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Info("circuit breaker state changed", "from", from.String(), "to", to.String())
			},
		}),
	}
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := t.cb.Execute(func() (interface{}, error) {
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errServerFailure
		}
		return resp, nil
	})
	if errors.Is(err, errServerFailure) {
		return res.(*http.Response), nil
	}
	if err != nil {
		return nil, err
	}
	return res.(*http.Response), nil
}
