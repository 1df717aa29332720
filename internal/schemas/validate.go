// Package schemas provides JSON Schema validation for catalog manifests.
package schemas

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	manifestschemas "github.com/jonathan/ebook-catalog/schemas"
)

// ValidationError represents a schema validation error with field paths
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation error at a specific field
type FieldError struct {
	Field   string
	Message string
}

// SchemaLoadError represents errors loading or parsing the schema itself
type SchemaLoadError struct {
	Path    string
	Message string
	Cause   error
}

func (e *SchemaLoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load schema %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load schema %s: %s", e.Path, e.Message)
}

func (e *SchemaLoadError) Unwrap() error {
	return e.Cause
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("validation failed:\n")
	for i, err := range ve.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

var (
	schemaOnce  sync.Once
	manifestSch *gojsonschema.Schema
	entrySch    *gojsonschema.Schema
	schemaErr   error
)

func loadSchemas() error {
	schemaOnce.Do(func() {
		manifestSch, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(manifestschemas.Manifest))
		if schemaErr != nil {
			return
		}

		// The entry schema is the manifest's items schema compiled on its own.
		var doc struct {
			Items map[string]any `json:"items"`
		}
		if schemaErr = json.Unmarshal([]byte(manifestschemas.Manifest), &doc); schemaErr != nil {
			return
		}
		if doc.Items == nil {
			schemaErr = fmt.Errorf("manifest schema has no items schema")
			return
		}
		entrySch, schemaErr = gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc.Items))
	})
	if schemaErr != nil {
		return &SchemaLoadError{
			Path:    "manifest.schema.json",
			Message: "embedded schema is invalid",
			Cause:   schemaErr,
		}
	}
	return nil
}

// ValidateManifest validates a whole manifest body against the embedded manifest schema,
// reporting every violation. A body that is not JSON is reported as a *ValidationError on (root).
func ValidateManifest(body []byte) error {
	if err := loadSchemas(); err != nil {
		return err
	}
	return validateWith(manifestSch, body)
}

// ValidateManifestEntry validates one element of a manifest array.
func ValidateManifestEntry(raw []byte) error {
	if err := loadSchemas(); err != nil {
		return err
	}
	return validateWith(entrySch, raw)
}

func validateWith(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return &ValidationError{
			Errors: []FieldError{{Field: "(root)", Message: err.Error()}},
		}
	}
	return toValidationError(result)
}

// toValidationError returns nil for a valid result, otherwise a structured error
func toValidationError(result *gojsonschema.Result) error {
	if result.Valid() {
		return nil
	}

	validationErr := &ValidationError{
		Errors: make([]FieldError, 0, len(result.Errors())),
	}

	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		validationErr.Errors = append(validationErr.Errors, FieldError{
			Field:   field,
			Message: desc.Description(),
		})
	}

	return validationErr
}
