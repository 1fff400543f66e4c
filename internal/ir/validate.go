package ir

import (
	"errors"
	"fmt"
	"strings"
)

// Validation error codes (E100-E149).
const (
	// Document errors (E100-E109)
	ErrDocSchemaVersion = "E100" // schemaVersion must be a known version
	ErrDocSourceKind    = "E101" // metadata.sourceKind must be a known kind
	ErrDocNodesNil      = "E102" // nodes must be an array, never absent

	// Node errors (E110-E119)
	ErrNodeIDEmpty     = "E110" // node id is required
	ErrNodeIDDuplicate = "E111" // node ids must be unique within a document
	ErrNodeTypeEmpty   = "E112" // node type is required
	ErrNodeChildrenNil = "E113" // children must be an array, never absent
	ErrNodePropsNil    = "E114" // props must be an object, never absent
	ErrNodeEventName   = "E115" // event bindings require a name
	ErrNodeHookPhase   = "E116" // lifecycle hooks require a known phase
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationResult aggregates the outcome of validating one document.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Err converts a failed result into a single error value, nil when valid.
// The returned error is a *ValidationFailure so callers can classify it
// with errors.As through any wrapping.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationFailure{Errors: r.Errors}
}

// ValidationFailure carries every finding from a failed validation.
// It exists so that a validation outcome stays distinguishable from IO
// failures after wrapping; retry logic must never retry it.
type ValidationFailure struct {
	Errors []ValidationError
}

func (e *ValidationFailure) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("document validation failed: %s", strings.Join(msgs, "; "))
}

// IsValidationFailure reports whether err wraps a *ValidationFailure.
func IsValidationFailure(err error) bool {
	var vf *ValidationFailure
	return errors.As(err, &vf)
}

// Validator is the schema check boundary. The store and engine depend on
// this interface only; StructuralValidator is the dependency-free default
// and the CUE-backed implementation lives in internal/schema.
type Validator interface {
	// Validate returns all findings without failing fast.
	Validate(doc Document) ValidationResult
	// ValidateStrict returns an error describing every finding, nil when valid.
	ValidateStrict(doc Document) error
}

// StructuralValidator applies the built-in structural rules and nothing else.
type StructuralValidator struct{}

func (StructuralValidator) Validate(doc Document) ValidationResult {
	errs := ValidateDocument(doc)
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func (StructuralValidator) ValidateStrict(doc Document) error {
	return StructuralValidator{}.Validate(doc).Err()
}

// ValidateDocument checks the structural invariants every well-formed
// document satisfies, independent of any schema definition language.
// Returns all errors found (does not fail-fast).
func ValidateDocument(doc Document) []ValidationError {
	var errs []ValidationError

	if doc.SchemaVersion < 1 || doc.SchemaVersion > CurrentSchemaVersion {
		errs = append(errs, ValidationError{
			Field:   "schemaVersion",
			Message: fmt.Sprintf("unknown schema version %d, current is %d", doc.SchemaVersion, CurrentSchemaVersion),
			Code:    ErrDocSchemaVersion,
		})
	}

	switch doc.Metadata.SourceKind {
	case SourceKindJSX, SourceKindWidget, SourceKindUnknown:
	default:
		errs = append(errs, ValidationError{
			Field:   "metadata.sourceKind",
			Message: fmt.Sprintf("unknown source kind %q", doc.Metadata.SourceKind),
			Code:    ErrDocSourceKind,
		})
	}

	if doc.Nodes == nil {
		errs = append(errs, ValidationError{
			Field:   "nodes",
			Message: "nodes must be an array, never absent",
			Code:    ErrDocNodesNil,
		})
	}

	seen := make(map[string]string) // id -> first path
	doc.Walk(func(n *Node, path string) {
		if n.ID == "" {
			errs = append(errs, ValidationError{
				Field:   path + ".id",
				Message: "node id is required",
				Code:    ErrNodeIDEmpty,
				Line:    n.Meta.Line,
			})
		} else if first, dup := seen[n.ID]; dup {
			errs = append(errs, ValidationError{
				Field:   path + ".id",
				Message: fmt.Sprintf("duplicate node id %q, first used at %s", n.ID, first),
				Code:    ErrNodeIDDuplicate,
				Line:    n.Meta.Line,
			})
		} else {
			seen[n.ID] = path
		}

		if n.Type == "" {
			errs = append(errs, ValidationError{
				Field:   path + ".type",
				Message: "node type is required",
				Code:    ErrNodeTypeEmpty,
				Line:    n.Meta.Line,
			})
		}

		if n.Children == nil {
			errs = append(errs, ValidationError{
				Field:   path + ".children",
				Message: "children must be an array, never absent",
				Code:    ErrNodeChildrenNil,
				Line:    n.Meta.Line,
			})
		}

		if n.Props == nil {
			errs = append(errs, ValidationError{
				Field:   path + ".props",
				Message: "props must be an object, never absent",
				Code:    ErrNodePropsNil,
				Line:    n.Meta.Line,
			})
		}

		for i, e := range n.Events {
			if strings.TrimSpace(e.Name) == "" {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.events[%d].name", path, i),
					Message: "event binding requires a non-empty name",
					Code:    ErrNodeEventName,
					Line:    n.Meta.Line,
				})
			}
		}

		for i, h := range n.Hooks {
			switch h.Phase {
			case PhaseMount, PhaseUpdate, PhaseUnmount:
			default:
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.lifecycleHooks[%d].phase", path, i),
					Message: fmt.Sprintf("unknown lifecycle phase %q, must be one of: mount, update, unmount", h.Phase),
					Code:    ErrNodeHookPhase,
					Line:    n.Meta.Line,
				})
			}
		}
	})

	return errs
}
