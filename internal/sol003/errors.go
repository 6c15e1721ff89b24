package sol003

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/thc1006/nephoran-sol003-driver/internal/authclient"
)

// ErrNotImplemented is returned by the query operations the driver leaves to
// the caller.
var ErrNotImplemented = errors.New("operation not implemented by this driver")

// ProblemDetails is the SOL013 error payload.
type ProblemDetails struct {
	Type     string `json:"type,omitempty"`
	Title    string `json:"title,omitempty"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

func (p ProblemDetails) String() string {
	if p.Title != "" {
		return fmt.Sprintf("%d %s: %s", p.Status, p.Title, p.Detail)
	}
	return fmt.Sprintf("%d: %s", p.Status, p.Detail)
}

// DecodeProblemDetails decodes body and accepts it only when both status and
// detail are present.
func DecodeProblemDetails(body []byte) (*ProblemDetails, bool) {
	if len(body) == 0 {
		return nil, false
	}
	var p ProblemDetails
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, false
	}
	if p.Status == 0 || p.Detail == "" {
		return nil, false
	}
	return &p, true
}

// ProtocolError is a SOL003 exchange that failed or violated the protocol.
// Problem is either the peer's payload or synthesized locally.
type ProtocolError struct {
	Problem ProblemDetails
}

func (e *ProtocolError) Error() string {
	return "SOL003 protocol error: " + e.Problem.String()
}

// StatusCode is the HTTP status the problem reports.
func (e *ProtocolError) StatusCode() int {
	return e.Problem.Status
}

// NewProtocolError synthesizes a ProtocolError.
func NewProtocolError(status int, title, detail string) *ProtocolError {
	return &ProtocolError{Problem: ProblemDetails{Status: status, Title: title, Detail: detail}}
}

// GrantRejectedError means the grant provider refused the grant. It is a
// business outcome, not an infrastructure failure.
type GrantRejectedError struct {
	Problem ProblemDetails
}

func (e *GrantRejectedError) Error() string {
	return "grant rejected: " + e.Problem.Detail
}

// NormalizeError is the authclient.ErrorHandler for VNFM exchanges.
func NormalizeError(resp *authclient.Response) error {
	if p, ok := DecodeProblemDetails(resp.Body); ok {
		return &ProtocolError{Problem: *p}
	}
	return authclient.DefaultErrorHandler(resp)
}

// NormalizeGrantError is the authclient.ErrorHandler for grant exchanges.
func NormalizeGrantError(resp *authclient.Response) error {
	p, ok := DecodeProblemDetails(resp.Body)
	if !ok {
		return authclient.DefaultErrorHandler(resp)
	}
	if resp.StatusCode == http.StatusForbidden {
		return &GrantRejectedError{Problem: *p}
	}
	return &ProtocolError{Problem: *p}
}

// NotFoundError reports an absent, or ambiguously matched, resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}
