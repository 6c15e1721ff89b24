package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/thc1006/nephoran-sol003-driver/internal/credentials"
	"github.com/thc1006/nephoran-sol003-driver/internal/csar"
	"github.com/thc1006/nephoran-sol003-driver/internal/execution"
	"github.com/thc1006/nephoran-sol003-driver/internal/sol003"
)

const contentTypeProblem = "application/problem+json"

// statusFor maps a driver error to the HTTP status reported to the caller.
func statusFor(err error) int {
	var (
		cfgErr      *credentials.ConfigError
		unsupported *execution.UnsupportedLifecycleError
		invalid     *execution.InvalidRequestError
		notFound    *sol003.NotFoundError
		unexpected  *csar.UnexpectedPackageContentsError
		rejected    *sol003.GrantRejectedError
		protocolErr *sol003.ProtocolError
	)
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &unsupported), errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &unexpected):
		return http.StatusNotAcceptable
	case errors.As(err, &rejected):
		return http.StatusForbidden
	case errors.As(err, &protocolErr):
		if code := protocolErr.StatusCode(); code >= 400 && code <= 599 {
			return code
		}
		// A malformed success or an invalid status from the peer.
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeProblem(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", contentTypeProblem)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(sol003.ProblemDetails{
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	})
}

func writeError(w http.ResponseWriter, err error) {
	writeProblem(w, statusFor(err), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", sol003.ContentTypeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
