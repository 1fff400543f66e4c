// Package schema provides the CUE-backed document validator. Documents
// are unified against the embedded schema.cue definition, and the
// structural rules from the ir package run alongside, so every finding
// comes back as an ir.ValidationError regardless of which pass produced
// it. The store and engine both accept this validator through the
// ir.Validator interface.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"

	"github.com/roach88/duplex/internal/ir"
)

//go:embed schema.cue
var schemaSource string

// Schema-pass error codes (E120-E129). The structural codes E100-E116
// live in the ir package; both passes report through ir.ValidationError.
const (
	ErrSchemaEncode   = "E120" // document could not be encoded for the schema pass
	ErrSchemaConflict = "E121" // document conflicts with the schema
	ErrSchemaDecode   = "E122" // raw bytes are not a JSON document
)

// Validator checks documents against a compiled CUE schema plus the
// structural rules. The zero value is not usable; construct with New
// or NewFromSource.
type Validator struct {
	ctx *cue.Context
	def cue.Value

	// cue.Context is not documented as safe for concurrent use, and the
	// engine validates from multiple workers. Serialize the schema pass.
	mu sync.Mutex
}

var _ ir.Validator = (*Validator)(nil)

// New compiles the embedded schema.cue and returns a ready validator.
func New() (*Validator, error) {
	return NewFromSource("schema.cue", schemaSource)
}

// NewFromSource compiles a caller-supplied CUE schema. The source must
// define #Document; filename is used for error reporting only.
func NewFromSource(filename, source string) (*Validator, error) {
	ctx := cuecontext.New()
	val := ctx.CompileString(source, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("compile %s: %w", filename, err)
	}
	def := val.LookupPath(cue.ParsePath("#Document"))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("lookup #Document in %s: %w", filename, err)
	}
	return &Validator{ctx: ctx, def: def}, nil
}

// Validate runs the structural rules and the schema pass, returning all
// findings without failing fast.
func (v *Validator) Validate(doc ir.Document) ir.ValidationResult {
	errs := ir.ValidateDocument(doc)

	data, err := json.Marshal(doc)
	if err != nil {
		errs = append(errs, ir.ValidationError{
			Field:   "document",
			Message: fmt.Sprintf("encode document for schema pass: %v", err),
			Code:    ErrSchemaEncode,
		})
	} else {
		errs = append(errs, v.schemaFindings(data)...)
	}

	return ir.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// ValidateStrict returns an error describing every finding, nil when
// the document is valid. The error wraps *ir.ValidationFailure.
func (v *Validator) ValidateStrict(doc ir.Document) error {
	return v.Validate(doc).Err()
}

// ValidateJSON checks raw document bytes. The schema pass runs on the
// bytes before any decoding, which catches wrong field types and
// unknown fields that a Go decode would coerce or silently drop; the
// structural rules then run on the decoded document when decoding
// succeeds.
func (v *Validator) ValidateJSON(data []byte) ir.ValidationResult {
	errs := v.schemaFindings(data)

	var doc ir.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		errs = append(errs, ir.ValidationError{
			Field:   "document",
			Message: fmt.Sprintf("decode document: %v", err),
			Code:    ErrSchemaDecode,
		})
	} else {
		errs = append(errs, ir.ValidateDocument(doc)...)
	}

	return ir.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// schemaFindings unifies JSON bytes with #Document and flattens the
// resulting CUE errors into validation findings.
func (v *Validator) schemaFindings(data []byte) []ir.ValidationError {
	expr, err := cuejson.Extract("document.json", data)
	if err != nil {
		return []ir.ValidationError{{
			Field:   "document",
			Message: fmt.Sprintf("parse document for schema pass: %v", err),
			Code:    ErrSchemaDecode,
		}}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	val := v.ctx.BuildExpr(expr)
	if err := val.Err(); err != nil {
		return []ir.ValidationError{{
			Field:   "document",
			Message: fmt.Sprintf("build document value: %v", err),
			Code:    ErrSchemaEncode,
		}}
	}

	if err := v.def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return cueFindings(err)
	}
	return nil
}

// cueFindings flattens a CUE error list into validation findings. CUE
// positions point into the synthetic JSON buffer, so line numbers are
// not carried over.
func cueFindings(err error) []ir.ValidationError {
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return []ir.ValidationError{{
			Field:   "document",
			Message: err.Error(),
			Code:    ErrSchemaConflict,
		}}
	}

	out := make([]ir.ValidationError, 0, len(list))
	for _, e := range list {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if msg == "" {
			msg = e.Error()
		}
		out = append(out, ir.ValidationError{
			Field:   fieldPath(e.Path()),
			Message: msg,
			Code:    ErrSchemaConflict,
		})
	}
	return out
}

// fieldPath renders a CUE error path in the bracketed form the
// structural validator uses, e.g. nodes[0].children[1].id.
func fieldPath(segments []string) string {
	if len(segments) == 0 {
		return "document"
	}
	var b strings.Builder
	for _, seg := range segments {
		if _, numErr := strconv.Atoi(seg); numErr == nil {
			b.WriteString("[")
			b.WriteString(seg)
			b.WriteString("]")
			continue
		}
		if b.Len() > 0 {
			b.WriteString(".")
		}
		b.WriteString(seg)
	}
	return b.String()
}
