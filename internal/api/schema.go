package api

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed execution_request.schema.json
var executionRequestSchema string

type requestValidator struct {
	schema *gojsonschema.Schema
}

func newRequestValidator() (*requestValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(executionRequestSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to load execution request schema: %w", err)
	}
	return &requestValidator{schema: schema}, nil
}

// validate checks a raw request body and joins the violations into one
// message.
func (v *requestValidator) validate(body []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("request body is not valid JSON: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid execution request: %s", strings.Join(msgs, "; "))
}
