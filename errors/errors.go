package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseParse     Phase = "parse"     // XML to component tree
	PhaseLayout    Phase = "layout"    // offset/size resolution
	PhaseBuild     Phase = "build"     // byte materialisation
	PhaseDecompose Phase = "decompose" // binary to component values
	PhaseResolve   Phase = "resolve"   // formula and dependency evaluation
	PhaseEncrypt   Phase = "encrypt"   // encryption providers
	PhaseSettings  Phase = "settings"  // settings XML round trip
	PhaseConfig    Phase = "config"    // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindStructural      Kind = "structural"
	KindUnresolved      Kind = "unresolved"
	KindLayoutViolation Kind = "layout_violation"
	KindOutOfBounds     Kind = "out_of_bounds"
	KindOverflow        Kind = "overflow"
	KindValidation      Kind = "validation"
	KindTamper          Kind = "tamper"
	KindSyntax          Kind = "syntax"
	KindTypeMismatch    Kind = "type_mismatch"
	KindNotFound        Kind = "not_found"
	KindInvalidData     Kind = "invalid_data"
	KindUnsupported     Kind = "unsupported"
)

// Error is the structured error type used throughout the module.
//
// Path is the breadcrumb of component names from the root to the component
// that failed. It grows as the error travels up the tree (see Trace).
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(JoinPath(e.Path))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. An empty Phase in the target
// matches any phase.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.Phase != "" && e.Phase != t.Phase {
			return false
		}
		return e.Kind == t.Kind
	}
	return false
}

// JoinPath renders a breadcrumb. Table and iterable entries are named "[k]"
// and attach to their owner without a separator: "image/table[2]/field".
func JoinPath(path []string) string {
	var b strings.Builder
	for i, p := range path {
		if i > 0 && !strings.HasPrefix(p, "[") {
			b.WriteByte('/')
		}
		b.WriteString(p)
	}
	return b.String()
}

// Trace prepends name to the breadcrumb of err. Errors that are not *Error
// are wrapped first so the path is never lost.
func Trace(err error, phase Phase, name string) error {
	if err == nil {
		return nil
	}
	e, ok := err.(*Error)
	if !ok {
		e = &Error{Phase: phase, Kind: KindInvalidData, Cause: err}
	} else {
		cp := *e
		e = &cp
	}
	path := make([]string, 0, len(e.Path)+1)
	path = append(path, name)
	e.Path = append(path, e.Path...)
	return e
}

// KindOf returns the Kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

// IsUnresolved reports whether err is a resolution deferral: the caller may
// retry once other components have resolved.
func IsUnresolved(err error) bool {
	return KindOf(err) == KindUnresolved
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the component path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Structural creates an error for malformed XML shape or attribute combinations
func Structural(phase Phase, format string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindStructural,
		Detail: fmt.Sprintf(format, args...),
	}
}

// Unresolved creates a resolution deferral for the referenced path
func Unresolved(phase Phase, ref string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnresolved,
		Detail: fmt.Sprintf("%q is not resolved yet", ref),
		Value:  ref,
	}
}

// LayoutViolation creates an error for impossible placements
func LayoutViolation(phase Phase, format string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindLayoutViolation,
		Detail: fmt.Sprintf(format, args...),
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, offset, length, limit int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("range [%#x, %#x) exceeds limit %#x", offset, offset+length, limit),
		Value:  offset,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, value any, size int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Detail: fmt.Sprintf("value %v does not fit in %d byte(s)", value, size),
		Value:  value,
	}
}

// Validation creates a validation failure, preferring the user supplied message
func Validation(phase Phase, message, formula string) *Error {
	if message == "" {
		message = fmt.Sprintf("validation %q failed", formula)
	}
	return &Error{
		Phase:  phase,
		Kind:   KindValidation,
		Detail: message,
		Value:  formula,
	}
}

// NotFound creates an error for a missing component or property
func NotFound(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s not found", what),
	}
}

// Syntax creates a formula syntax error
func Syntax(formula string, pos int, detail string) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindSyntax,
		Detail: fmt.Sprintf("%s at position %d in %q", detail, pos, formula),
		Value:  formula,
	}
}

// TypeMismatch creates an error for operands of the wrong type
func TypeMismatch(phase Phase, op, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Detail: fmt.Sprintf("operator %s cannot be applied to %s", op, got),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
