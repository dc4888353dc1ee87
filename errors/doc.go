// Package errors provides structured error types for the fwlayout library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the component path, a detail message and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLayout, errors.KindLayoutViolation).
//		Path("image", "header").
//		Detail("offset %#x is behind cursor %#x", 0x10, 0x20).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Overflow(errors.PhaseBuild, 0x1ff, 1)
//	err := errors.OutOfBounds(errors.PhaseBuild, 0x100, 8, 0x100)
//
// Containers attach their own name to a failing child's error with Trace, so
// a failure deep in the tree reports the full root-to-failure breadcrumb:
//
//	[build] overflow at image/tables[3]/crc: value 0x1ff does not fit in 1 byte(s)
//
// KindUnresolved marks a deferral rather than a failure: callers retry after
// other components resolve. Use IsUnresolved to tell it apart.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
