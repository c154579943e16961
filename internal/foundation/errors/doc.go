// Package errors provides the classified error type shared by every texbuilder layer.
//
// A ClassifiedError carries a category (the failure taxonomy surfaced to callers),
// a severity, a retry strategy and structured context. Errors are constructed with the
// fluent ErrorBuilder:
//
//	err := errors.CacheMissError("workspace not found").
//		WithContext("project_id", id).
//		Build()
//
// The HTTP and CLI adapters translate categories into status codes and exit codes.
package errors
