package authclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/thc1006/nephoran-sol003-driver/internal/credentials"
)

// Strategy wraps a base transport with one authentication scheme.
type Strategy interface {
	Build(profile credentials.Profile, base http.RoundTripper, opts Options) (http.RoundTripper, error)
}

var defaultStrategies = map[credentials.AuthType]Strategy{
	credentials.AuthTypeNone:    noneStrategy{},
	credentials.AuthTypeBasic:   basicStrategy{},
	credentials.AuthTypeOAuth2:  oauth2Strategy{},
	credentials.AuthTypeSession: sessionStrategy{},
}

type noneStrategy struct{}

func (noneStrategy) Build(_ credentials.Profile, base http.RoundTripper, _ Options) (http.RoundTripper, error) {
	return base, nil
}

type basicStrategy struct{}

func (basicStrategy) Build(profile credentials.Profile, base http.RoundTripper, _ Options) (http.RoundTripper, error) {
	return &basicAuthTransport{
		username: profile.Get(credentials.PropertyUsername),
		password: profile.Get(credentials.PropertyPassword),
		next:     base,
	}, nil
}

type basicAuthTransport struct {
	username string
	password string
	next     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.SetBasicAuth(t.username, t.password)
	return t.next.RoundTrip(r)
}

type oauth2Strategy struct{}

func (oauth2Strategy) Build(profile credentials.Profile, base http.RoundTripper, opts Options) (http.RoundTripper, error) {
	cfg := &clientcredentials.Config{
		ClientID:     profile.Get(credentials.PropertyClientID),
		ClientSecret: profile.Get(credentials.PropertyClientSecret),
		TokenURL:     profile.Get(credentials.PropertyAccessTokenURI),
		Scopes:       profile.Scopes(),
		AuthStyle:    oauth2.AuthStyleAutoDetect,
	}
	if gt := profile.GrantType(); gt != credentials.DefaultGrantType {
		cfg.EndpointParams = url.Values{"grant_type": {gt}}
	}

	tokenClient := &http.Client{Transport: base, Timeout: opts.ConnectTimeout + opts.ReadTimeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, tokenClient)

	return &oauth2.Transport{
		Source: cfg.TokenSource(ctx),
		Base:   base,
	}, nil
}

type sessionStrategy struct{}

func (sessionStrategy) Build(profile credentials.Profile, base http.RoundTripper, opts Options) (http.RoundTripper, error) {
	loginURL := profile.Get(credentials.PropertyAuthenticationURL)
	if _, err := url.ParseRequestURI(loginURL); err != nil {
		return nil, &credentials.ConfigError{
			AuthType: credentials.AuthTypeSession,
			Reason:   fmt.Sprintf("invalid %s %q: %v", credentials.PropertyAuthenticationURL, loginURL, err),
		}
	}
	return &sessionTransport{
		loginURL:      loginURL,
		usernameField: profile.UsernameTokenName(),
		passwordField: profile.PasswordTokenName(),
		username:      profile.Get(credentials.PropertyUsername),
		password:      profile.Get(credentials.PropertyPassword),
		next:          base,
		loginClient: &http.Client{
			Transport: base,
			Timeout:   opts.ConnectTimeout + opts.ReadTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// sessionTransport logs in on first use and replays the session cookies on
// every request. A 401 drops the session so the next request logs in again.
type sessionTransport struct {
	loginURL      string
	usernameField string
	passwordField string
	username      string
	password      string
	next          http.RoundTripper
	loginClient   *http.Client

	mu      sync.Mutex
	cookies []*http.Cookie
}

func (t *sessionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cookies, err := t.session(req.Context())
	if err != nil {
		return nil, err
	}

	r := req.Clone(req.Context())
	for _, c := range cookies {
		r.AddCookie(c)
	}
	resp, err := t.next.RoundTrip(r)
	if err == nil && resp.StatusCode == http.StatusUnauthorized {
		t.invalidate()
	}
	return resp, err
}

func (t *sessionTransport) session(ctx context.Context) ([]*http.Cookie, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.cookies) > 0 {
		return t.cookies, nil
	}

	form := url.Values{}
	form.Set(t.usernameField, t.username)
	form.Set(t.passwordField, t.password)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.loginClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session login to %s failed: %w", t.loginURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("session login to %s failed: status=%d", t.loginURL, resp.StatusCode)
	}
	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return nil, fmt.Errorf("session login to %s returned no session cookie", t.loginURL)
	}
	t.cookies = cookies
	return cookies, nil
}

func (t *sessionTransport) invalidate() {
	t.mu.Lock()
	t.cookies = nil
	t.mu.Unlock()
}
