package scanning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// documentSchema describes what structured engines are asked to return. It is
// checked leniently: a violation becomes a warning and the value coercion in
// fieldsFromDocument decides what survives.
const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "issuerName": {"type": ["string", "null"]},
    "date": {"type": ["string", "null"]},
    "subtotal": {"type": ["number", "string", "null"]},
    "totalAmount": {"type": ["number", "string", "null"]},
    "currency": {"type": ["string", "null"]},
    "taxBreakdown": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "rate": {"type": ["number", "string", "null"]},
          "base": {"type": ["number", "string", "null"]},
          "amount": {"type": ["number", "string", "null"]}
        }
      }
    },
    "registrationNumber": {"type": ["string", "null"]},
    "category": {"type": ["string", "null"]},
    "confidence": {
      "oneOf": [
        {"type": "number", "minimum": 0, "maximum": 1},
        {"type": "object", "additionalProperties": {"type": "number", "minimum": 0, "maximum": 1}}
      ]
    }
  }
}`

var compiledDocumentSchema = jsonschema.MustCompileString("document.json", documentSchema)

// validateDocument checks text against the document schema and returns the
// violations as a single line, or "" when the document conforms.
func validateDocument(text string) string {
	var v any
	if err := json.NewDecoder(strings.NewReader(text)).Decode(&v); err != nil {
		return ""
	}
	if err := compiledDocumentSchema.Validate(v); err != nil {
		return strings.Join(strings.Fields(fmt.Sprint(err)), " ")
	}
	return ""
}
