// Package rendering renders the catalog as an HTML card page.
package rendering

import (
	"fmt"

	"github.com/google/uuid"
)

// TemplateStage names the step at which a page template failed.
type TemplateStage string

const (
	StageRead    TemplateStage = "read"
	StageParse   TemplateStage = "parse"
	StageExecute TemplateStage = "execute"
)

// builtinTemplateName stands in for the path of the embedded template.
const builtinTemplateName = "built-in catalog template"

// TemplateError is a page template that could not be read, parsed or executed.
type TemplateError struct {
	// Path is the template file; empty for the built-in template.
	Path  string
	Stage TemplateStage
	Cause error
}

func (e *TemplateError) Error() string {
	name := e.Path
	if name == "" {
		name = builtinTemplateName
	}
	return fmt.Sprintf("page template %s: %s failed: %v", name, e.Stage, e.Cause)
}

func (e *TemplateError) Unwrap() error {
	return e.Cause
}

// RenderError is a catalog page that could not be produced or delivered.
type RenderError struct {
	// BuildID identifies the snapshot being rendered; uuid.Nil when there was none.
	BuildID uuid.UUID
	Cards   int
	Reason  string
	Cause   error
}

func (e *RenderError) Error() string {
	msg := fmt.Sprintf("catalog page for build %s (%d cards): %s", e.BuildID, e.Cards, e.Reason)
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *RenderError) Unwrap() error {
	return e.Cause
}
