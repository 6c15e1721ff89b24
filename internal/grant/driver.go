// Package grant implements the SOL003 grant driver used to ask a grant
// provider (normally the NFVO) for permission to run an LCM operation.
package grant

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-logr/logr"

	"github.com/thc1006/nephoran-sol003-driver/internal/audit"
	"github.com/thc1006/nephoran-sol003-driver/internal/authclient"
	"github.com/thc1006/nephoran-sol003-driver/internal/credentials"
	"github.com/thc1006/nephoran-sol003-driver/internal/sol003"
)

const DefaultAPIRoot = "/grant/v1"

// Config describes the grant provider. Properties use the same keys as a
// deployment target, e.g. authenticationType, username, password.
type Config struct {
	URL        string            `yaml:"url" envconfig:"URL"`
	APIRoot    string            `yaml:"apiRoot" envconfig:"API_ROOT"`
	Properties map[string]string `yaml:"properties" envconfig:"PROPERTIES"`
}

// Driver talks to a single grant provider.
type Driver struct {
	client  *authclient.Client
	baseURL string
	log     logr.Logger
}

// NewDriver resolves the grant provider credentials and builds its client.
// Session authentication is rejected.
func NewDriver(cfg Config, opts authclient.Options, recorder audit.Recorder, log logr.Logger) (*Driver, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, &credentials.ConfigError{Reason: "grant provider url is not configured"}
	}
	profile, err := credentials.ResolveRestricted(cfg.Properties,
		credentials.AuthTypeNone, credentials.AuthTypeBasic, credentials.AuthTypeOAuth2)
	if err != nil {
		return nil, fmt.Errorf("grant provider credentials: %w", err)
	}

	opts.ErrorHandler = sol003.NormalizeGrantError
	if recorder != nil {
		opts.Middleware = append(opts.Middleware, audit.Middleware(recorder))
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = log
	}
	client, err := authclient.NewClient(profile, opts)
	if err != nil {
		return nil, err
	}

	root := cfg.APIRoot
	if root == "" {
		root = DefaultAPIRoot
	}
	return &Driver{
		client:  client,
		baseURL: strings.TrimRight(cfg.URL, "/") + "/" + strings.Trim(root, "/"),
		log:     log.WithName("grant-driver"),
	}, nil
}

// RequestGrant posts a grant request. A 201 returns the grant and its id. A
// 202 means the decision is pending: the grant is nil and the id to poll is
// taken from Location, or the operation occurrence id when Location is absent.
func (d *Driver) RequestGrant(ctx context.Context, req *sol003.GrantRequest) (*sol003.Grant, string, error) {
	httpReq, err := sol003.NewJSONRequest(ctx, http.MethodPost, d.baseURL+"/grants", req)
	if err != nil {
		return nil, "", err
	}
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("grant request for operation %s failed: %w", req.VnfLcmOpOccID, err)
	}

	switch resp.StatusCode {
	case http.StatusCreated:
		if err := sol003.CheckResponse(d.log, resp, http.StatusCreated, true); err != nil {
			return nil, "", err
		}
		var grant sol003.Grant
		if err := sol003.DecodeBody(resp, &grant); err != nil {
			return nil, "", err
		}
		d.log.Info("Grant approved", "grantId", grant.ID, "vnfLcmOpOccId", req.VnfLcmOpOccID)
		return &grant, grant.ID, nil
	case http.StatusAccepted:
		if err := sol003.CheckResponse(d.log, resp, http.StatusAccepted, false); err != nil {
			return nil, "", err
		}
		grantID := req.VnfLcmOpOccID
		if resp.Header.Get("Location") != "" {
			if id, err := sol003.LocationID(resp); err == nil {
				grantID = id
			}
		}
		d.log.Info("Grant pending", "grantId", grantID, "vnfLcmOpOccId", req.VnfLcmOpOccID)
		return nil, grantID, nil
	default:
		return nil, "", sol003.NewProtocolError(resp.StatusCode, "Invalid response",
			fmt.Sprintf("unexpected status code %d from grant request", resp.StatusCode))
	}
}

// GetGrant reads a grant. A nil grant without error means it is still pending.
func (d *Driver) GetGrant(ctx context.Context, grantID string) (*sol003.Grant, error) {
	httpReq, err := sol003.NewJSONRequest(ctx, http.MethodGet, d.baseURL+"/grants/"+url.PathEscape(grantID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("get grant %s failed: %w", grantID, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		if err := sol003.CheckResponse(d.log, resp, http.StatusOK, true); err != nil {
			return nil, err
		}
		var grant sol003.Grant
		if err := sol003.DecodeBody(resp, &grant); err != nil {
			return nil, err
		}
		return &grant, nil
	case http.StatusAccepted:
		if err := sol003.CheckResponse(d.log, resp, http.StatusAccepted, false); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, sol003.NewProtocolError(resp.StatusCode, "Invalid response",
			fmt.Sprintf("unexpected status code %d from get grant", resp.StatusCode))
	}
}

// Close releases idle connections.
func (d *Driver) Close() {
	d.client.CloseIdleConnections()
}
