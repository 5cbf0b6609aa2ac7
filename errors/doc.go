// Package errors provides structured error types for the script-runtime library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type includes rich context: op name, resource id, Go
// type name, and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseDispatch, errors.KindUnavailable).
//		Op("fs#read").
//		Resource(rid).
//		Detail("op called after shutdown").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.BadResourceID(errors.PhaseTable, rid)
//	err := errors.TypeMismatch(errors.PhaseTable, rid, "*TCPStream", "*File")
//
// Guests only ever observe four error classes; Canonical reduces any error to
// bad_resource_id, reference, unavailable, or other.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
