package sol003

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-logr/logr"

	"github.com/thc1006/nephoran-sol003-driver/internal/authclient"
)

const ContentTypeJSON = "application/json"

// NewJSONRequest builds a request with a JSON body. A nil body sends none.
func NewJSONRequest(ctx context.Context, method, target string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", ContentTypeJSON)
	}
	req.Header.Set("Accept", ContentTypeJSON)
	return req, nil
}

// CheckResponse verifies the shape of a 2xx response. A status other than
// expected is logged but tolerated; a body present when none is expected, or
// absent when one is required, is always an error.
func CheckResponse(log logr.Logger, resp *authclient.Response, expected int, bodyExpected bool) error {
	if resp.StatusCode != expected {
		log.Info("Received unexpected success status code", "expected", expected, "actual", resp.StatusCode)
	}
	if bodyExpected && !resp.HasBody() {
		return NewProtocolError(resp.StatusCode, "Invalid response", "No response body")
	}
	if !bodyExpected && resp.HasBody() {
		return NewProtocolError(resp.StatusCode, "Invalid response", "No response body expected")
	}
	return nil
}

// DecodeBody unmarshals a response body into out.
func DecodeBody(resp *authclient.Response, out interface{}) error {
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return NewProtocolError(resp.StatusCode, "Invalid response", fmt.Sprintf("failed to decode response body: %v", err))
	}
	return nil
}

// LocationID returns the last path segment of the Location header.
func LocationID(resp *authclient.Response) (string, error) {
	location := strings.TrimSpace(resp.Header.Get("Location"))
	if location == "" {
		return "", NewProtocolError(resp.StatusCode, "Invalid response", "No Location header found")
	}
	id := LastPathSegment(location)
	if id == "" {
		return "", NewProtocolError(resp.StatusCode, "Invalid response",
			fmt.Sprintf("cannot extract resource id from Location header %q", location))
	}
	return id, nil
}

// LastPathSegment returns the final path segment of a URI or plain id.
func LastPathSegment(location string) string {
	path := location
	if u, err := url.Parse(location); err == nil && u.Opaque == "" {
		path = u.Path
	} else if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	if unescaped, err := url.PathUnescape(path); err == nil {
		return unescaped
	}
	return path
}
