// Package monitor validates inbound payment requests against a JSON schema
// before they reach the orchestrator.
package monitor

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// authorizeSchema is the contract for the payment authorization payload.
// Amounts travel as decimal strings so no precision is lost in transit.
const authorizeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "AuthorizeRequest",
  "type": "object",
  "required": ["provider", "amount"],
  "properties": {
    "provider": {
      "type": "string",
      "minLength": 1
    },
    "amount": {
      "type": "object",
      "required": ["total", "currency"],
      "properties": {
        "total": {
          "type": "string",
          "pattern": "^[0-9]+(\\.[0-9]{1,2})?$"
        },
        "currency": {
          "type": "string",
          "enum": ["IRR", "IRT"]
        }
      },
      "additionalProperties": false
    },
    "order_id": {
      "type": "string"
    },
    "extra": {
      "type": "object",
      "additionalProperties": {
        "type": "string"
      }
    }
  },
  "additionalProperties": false
}`

// ContractMonitor validates incoming request bodies against a compiled JSON
// schema.
type ContractMonitor struct {
	schema *gojsonschema.Schema
}

// NewContractMonitor compiles the built-in authorization schema.
func NewContractMonitor() (*ContractMonitor, error) {
	return newFromLoader(gojsonschema.NewStringLoader(authorizeSchema))
}

// NewContractMonitorFromFile compiles a schema from a file, replacing the
// built-in contract.
func NewContractMonitorFromFile(schemaPath string) (*ContractMonitor, error) {
	return newFromLoader(gojsonschema.NewReferenceLoader("file://" + schemaPath))
}

func newFromLoader(loader gojsonschema.JSONLoader) (*ContractMonitor, error) {
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("compiling request schema: %w", err)
	}
	return &ContractMonitor{schema: schema}, nil
}

// Validate checks a request body against the schema. It returns true when the
// body conforms, or false and the list of violations.
func (cm *ContractMonitor) Validate(requestBody []byte) (bool, []string, error) {
	result, err := cm.schema.Validate(gojsonschema.NewBytesLoader(requestBody))
	if err != nil {
		return false, nil, fmt.Errorf("validating request body: %w", err)
	}
	if result.Valid() {
		return true, nil, nil
	}
	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return false, violations, nil
}

// FormatErrors joins schema violations into a single message.
func FormatErrors(violations []string) string {
	if len(violations) == 0 {
		return ""
	}
	return "validation errors: " + strings.Join(violations, "; ")
}
