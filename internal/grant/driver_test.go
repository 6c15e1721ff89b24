package grant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thc1006/nephoran-sol003-driver/internal/authclient"
	"github.com/thc1006/nephoran-sol003-driver/internal/credentials"
	"github.com/thc1006/nephoran-sol003-driver/internal/sol003"
)

func newDriver(t *testing.T, handler http.HandlerFunc) *Driver {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	d, err := NewDriver(Config{
		URL: server.URL,
		Properties: map[string]string{
			credentials.PropertyAuthenticationType: "BASIC",
			credentials.PropertyUsername:           "nfvo",
			credentials.PropertyPassword:           "secret",
		},
	}, authclient.DefaultOptions(), nil, logr.Discard())
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d
}

func grantRequest() *sol003.GrantRequest {
	return &sol003.GrantRequest{
		VnfInstanceID: "vnf-1",
		VnfLcmOpOccID: "occ-1",
		VnfdID:        "vnfd-1",
		Operation:     sol003.OperationInstantiate,
	}
}

func TestRequestGrant_Created(t *testing.T) {
	d := newDriver(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/grant/v1/grants", r.URL.Path)
		user, _, _ := r.BasicAuth()
		assert.Equal(t, "nfvo", user)
		var req sol003.GrantRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(sol003.Grant{ID: "grant-1", VnfInstanceID: req.VnfInstanceID, VnfLcmOpOccID: req.VnfLcmOpOccID})
	})

	grant, id, err := d.RequestGrant(context.Background(), grantRequest())
	require.NoError(t, err)
	require.NotNil(t, grant)
	assert.Equal(t, "grant-1", id)
	assert.Equal(t, "occ-1", grant.VnfLcmOpOccID)
}

func TestRequestGrant_Accepted(t *testing.T) {
	tests := []struct {
		name     string
		location string
		wantID   string
	}{
		{name: "location header", location: "/grant/v1/grants/grant-9", wantID: "grant-9"},
		{name: "falls back to occurrence id", wantID: "occ-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDriver(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.location != "" {
					w.Header().Set("Location", tt.location)
				}
				w.WriteHeader(http.StatusAccepted)
			})
			grant, id, err := d.RequestGrant(context.Background(), grantRequest())
			require.NoError(t, err)
			assert.Nil(t, grant)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestRequestGrant_ShapeViolations(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "created without body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
			},
		},
		{
			name: "accepted with body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusAccepted)
				w.Write([]byte(`{"id":"grant-1"}`))
			},
		},
		{
			name: "unexpected success status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(`{"id":"grant-1"}`))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDriver(t, tt.handler)
			_, _, err := d.RequestGrant(context.Background(), grantRequest())
			var perr *sol003.ProtocolError
			assert.True(t, errors.As(err, &perr), "got %v", err)
		})
	}
}

func TestRequestGrant_Rejected(t *testing.T) {
	d := newDriver(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"status":403,"detail":"no capacity in zone"}`))
	})

	_, _, err := d.RequestGrant(context.Background(), grantRequest())
	var rejected *sol003.GrantRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "no capacity in zone", rejected.Problem.Detail)
}

func TestGetGrant(t *testing.T) {
	pending := true
	d := newDriver(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/grant/v1/grants/grant-1", r.URL.Path)
		if pending {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		json.NewEncoder(w).Encode(sol003.Grant{ID: "grant-1"})
	})

	grant, err := d.GetGrant(context.Background(), "grant-1")
	require.NoError(t, err)
	assert.Nil(t, grant)

	pending = false
	grant, err = d.GetGrant(context.Background(), "grant-1")
	require.NoError(t, err)
	require.NotNil(t, grant)
	assert.Equal(t, "grant-1", grant.ID)
}

func TestNewDriver_RejectsSessionAuth(t *testing.T) {
	_, err := NewDriver(Config{
		URL: "http://nfvo",
		Properties: map[string]string{
			credentials.PropertyAuthenticationType: "COOKIE",
			credentials.PropertyAuthenticationURL:  "http://nfvo/login",
			credentials.PropertyUsername:           "u",
			credentials.PropertyPassword:           "p",
		},
	}, authclient.DefaultOptions(), nil, logr.Discard())
	var cfgErr *credentials.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, credentials.AuthTypeSession, cfgErr.AuthType)

	_, err = NewDriver(Config{}, authclient.DefaultOptions(), nil, logr.Discard())
	assert.True(t, errors.As(err, &cfgErr))
}
