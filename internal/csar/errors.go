package csar

import "fmt"

// VNFPackageExtractionError is a structurally broken package: not a zip, or
// missing a mandatory entry.
type VNFPackageExtractionError struct {
	Reason string
	Err    error
}

func (e *VNFPackageExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to extract VNF package: %s: %v", e.Reason, e.Err)
	}
	return "failed to extract VNF package: " + e.Reason
}

func (e *VNFPackageExtractionError) Unwrap() error {
	return e.Err
}

// UnexpectedPackageContentsError is a readable package whose contents do not
// have the shape an operation requires.
type UnexpectedPackageContentsError struct {
	Reason string
}

func (e *UnexpectedPackageContentsError) Error() string {
	return "unexpected VNF package contents: " + e.Reason
}

func extractionError(err error, format string, args ...interface{}) error {
	return &VNFPackageExtractionError{Reason: fmt.Sprintf(format, args...), Err: err}
}

func unexpectedContents(format string, args ...interface{}) error {
	return &UnexpectedPackageContentsError{Reason: fmt.Sprintf(format, args...)}
}
