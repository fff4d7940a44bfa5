// Package schemas validates AI-produced JSON documents against the
// project's embedded JSON Schemas before they are persisted or cached.
package schemas

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed structured_resume.json
var structuredResumeSchema string

// FieldError describes a single schema violation.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) String() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError reports that a document failed schema validation.
type ValidationError struct {
	Schema string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.String())
	}
	return fmt.Sprintf("document does not match schema %q: %s", e.Schema, strings.Join(parts, "; "))
}

// ValidateStructuredResume checks a structured resume document against the
// embedded schema. Returns a *ValidationError listing every violation.
func ValidateStructuredResume(document []byte) error {
	return validate("structured_resume", structuredResumeSchema, document)
}

func validate(name, schema string, document []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(document),
	)
	if err != nil {
		return fmt.Errorf("validating against schema %q: %w", name, err)
	}
	if result.Valid() {
		return nil
	}
	verr := &ValidationError{Schema: name}
	for _, desc := range result.Errors() {
		verr.Fields = append(verr.Fields, FieldError{
			Field:   desc.Field(),
			Message: desc.Description(),
		})
	}
	return verr
}
