package ocr

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// resultSchema constrains the OCR service response before any field is
// trusted: every extracted field carries a value and a confidence in [0,1].
const resultSchema = `{
	"type": "object",
	"required": ["fields", "confidence"],
	"properties": {
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"fields": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"required": ["value", "confidence"],
				"properties": {
					"value": {"type": "string"},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1}
				}
			}
		}
	}
}`

var compiledSchema = jsonschema.MustCompileString("ocr-result.json", resultSchema)

// validateResultJSON validates raw against the response schema.
func validateResultJSON(raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("unmarshal ocr response: %w", err)
	}
	if err := compiledSchema.Validate(v); err != nil {
		return fmt.Errorf("ocr response does not match schema: %w", err)
	}
	return nil
}

// decodeResult parses a validated response body.
func decodeResult(raw []byte) (*Result, error) {
	var body resultBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode ocr response: %w", err)
	}
	return &Result{
		Fields:     body.Fields,
		Confidence: body.Confidence,
	}, nil
}

type resultBody struct {
	Fields     map[string]Field `json:"fields"`
	Confidence float32          `json:"confidence"`
}
