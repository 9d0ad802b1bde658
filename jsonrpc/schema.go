package jsonrpc

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationError describes caller input rejected before it reaches the transport.
type ValidationError struct {
	Details string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s", e.Details)
}

const requestSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["method"],
	"properties": {
		"jsonrpc": {"const": "2.0"},
		"id": {"type": ["string", "number", "null"]},
		"method": {"type": "string", "minLength": 1},
		"params": {"type": ["array", "object"]}
	}
}`

var requestSchemaLoader = gojsonschema.NewStringLoader(requestSchema)

// ValidateRequest checks raw caller input against the request schema.
func ValidateRequest(data []byte) error {
	return ValidateAgainst(requestSchemaLoader, data)
}

// ValidateAgainst validates a JSON document against a schema loader.
func ValidateAgainst(schema gojsonschema.JSONLoader, data []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return &ValidationError{Details: err.Error()}
	}

	if !result.Valid() {
		var errorDetails []string
		for _, desc := range result.Errors() {
			errorDetails = append(errorDetails, desc.String())
		}
		return &ValidationError{Details: strings.Join(errorDetails, "; ")}
	}
	return nil
}
