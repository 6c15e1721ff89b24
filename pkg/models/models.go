// Package models holds the payloads exchanged between the orchestration
// caller, the driver and the message bus.
package models

import (
	"time"
)

// DeploymentTarget identifies the remote VNFM a request is executed against.
// Name is the cache identity; Properties carry the endpoint and credentials.
type DeploymentTarget struct {
	Name       string            `json:"name" yaml:"name"`
	Type       string            `json:"type,omitempty" yaml:"type,omitempty"`
	Properties map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Property returns the named property or the empty string.
func (t DeploymentTarget) Property(name string) string {
	if t.Properties == nil {
		return ""
	}
	return t.Properties[name]
}

// ExecutionRequest asks the driver to run a named lifecycle against a target.
type ExecutionRequest struct {
	LifecycleName      string            `json:"lifecycleName"`
	DeploymentLocation DeploymentTarget  `json:"deploymentLocation"`
	Properties         PropertyValueMap  `json:"properties,omitempty"`
	SystemProperties   PropertyValueMap  `json:"systemProperties,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// ExecutionAccepted is returned once a lifecycle request has been submitted.
type ExecutionAccepted struct {
	RequestID string `json:"requestId"`
}

// PollingRequest is the payload carried on the polling topic. RequestID is
// the VNF LCM operation occurrence id. Attempt counts completed polls and is
// the only field that changes when the request is re-published.
type PollingRequest struct {
	DeploymentLocation DeploymentTarget `json:"deploymentLocation"`
	RequestID          string           `json:"requestId"`
	Attempt            int              `json:"attempt,omitempty"`
}

// ExecutionStatus is the terminal outcome reported in an AsyncResponse.
type ExecutionStatus string

const (
	ExecutionStatusComplete ExecutionStatus = "COMPLETE"
	ExecutionStatusFailed   ExecutionStatus = "FAILED"
)

// Failure codes reported to the caller.
const (
	FailureCodeInfrastructureError = "INFRASTRUCTURE_ERROR"
	FailureCodeInternalError       = "INTERNAL_ERROR"
	FailureCodeResourceNotFound    = "RESOURCE_NOT_FOUND"
)

// FailureDetails describes why an execution failed.
type FailureDetails struct {
	FailureCode string `json:"failureCode"`
	Description string `json:"description,omitempty"`
}

// AsyncResponse reports the terminal state of an execution on the response
// topic. It is keyed by RequestID; consumers must be idempotent on it.
type AsyncResponse struct {
	RequestID      string            `json:"requestId"`
	Status         ExecutionStatus   `json:"status"`
	FailureDetails *FailureDetails   `json:"failureDetails,omitempty"`
	Outputs        map[string]string `json:"outputs"`
	Timestamp      time.Time         `json:"timestamp"`
}

// NewCompletedResponse builds a successful response.
func NewCompletedResponse(requestID string, outputs map[string]string) *AsyncResponse {
	if outputs == nil {
		outputs = map[string]string{}
	}
	return &AsyncResponse{
		RequestID: requestID,
		Status:    ExecutionStatusComplete,
		Outputs:   outputs,
		Timestamp: time.Now().UTC(),
	}
}

// NewFailedResponse builds a failure response.
func NewFailedResponse(requestID, code, description string) *AsyncResponse {
	return &AsyncResponse{
		RequestID: requestID,
		Status:    ExecutionStatusFailed,
		FailureDetails: &FailureDetails{
			FailureCode: code,
			Description: description,
		},
		Outputs:   map[string]string{},
		Timestamp: time.Now().UTC(),
	}
}
