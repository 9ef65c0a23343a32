// Package errors provides the runner's typed error taxonomy.
//
// The teacher's internal/middleware imports an internal/errors package
// (errors.Unauthorized, errors.InvalidToken, errors.Internal,
// errors.RateLimitExceeded, ServiceError.WithDetails, errors.GetServiceError)
// that was not part of the retrieved source tree. It is rebuilt here from
// those call sites and narrowed to the error categories spec.md §7 names:
// schema errors, guest registration/storage errors, result validation
// errors, and the throttle-bearing runtime errors the supervisor raises
// while racing the guest.
package errors

import "fmt"

// Kind classifies an error the way spec.md §7 taxonomizes them.
type Kind string

const (
	KindSchema       Kind = "schema"
	KindRegistration Kind = "registration"
	KindStorageType  Kind = "storage_type"
	KindValidation   Kind = "result_validation"
	KindThrottle     Kind = "throttle"
	KindRuntime      Kind = "runtime"
)

// ThrottleReason names which quota a KindThrottle error tripped, matching
// the ThrottleReasons fields in types.ThrottleReasons.
type ThrottleReason string

const (
	ThrottleDuration       ThrottleReason = "duration"
	ThrottleMemory         ThrottleReason = "memory"
	ThrottleRPCRequest     ThrottleReason = "rpcRequest"
	ThrottleNetworkRequest ThrottleReason = "networkRequest"
	ThrottleDownload       ThrottleReason = "download"
	ThrottleUpload         ThrottleReason = "upload"
	ThrottleStorage        ThrottleReason = "storage"
)

// ServiceError is the runner's structured error type. It is always
// convertible to a plain string for the ExecutionReport's Error field, but
// callers that need to branch on cause use Kind/Throttle.
type ServiceError struct {
	Kind     Kind
	Message  string
	Throttle ThrottleReason // set only when Kind == KindThrottle
	Details  map[string]any
	cause    error
}

func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error { return e.cause }

// WithDetails attaches structured context to the error (e.g. the offending
// schema key), returning the same error for chaining.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func newErr(kind Kind, msg string, cause error) *ServiceError {
	return &ServiceError{Kind: kind, Message: msg, cause: cause}
}

// Schema builds a schema-validation error naming the offending key.
func Schema(msg string) *ServiceError { return newErr(KindSchema, msg, nil) }

// Registration builds a "no handler registered" guest error.
func Registration(msg string) *ServiceError { return newErr(KindRegistration, msg, nil) }

// StorageType builds a "storage.set called with non-string value" error.
func StorageType(msg string) *ServiceError { return newErr(KindStorageType, msg, nil) }

// Validation builds a result-validation error.
func Validation(msg string) *ServiceError { return newErr(KindValidation, msg, nil) }

// Runtime builds a generic (non-throttle) runtime failure.
func Runtime(msg string, cause error) *ServiceError { return newErr(KindRuntime, msg, cause) }

// Throttle builds a throttle-bearing runtime error for the given reason.
func Throttle(reason ThrottleReason, msg string) *ServiceError {
	e := newErr(KindThrottle, msg, nil)
	e.Throttle = reason
	return e
}

// GetServiceError unwraps err into a *ServiceError, or wraps it as a
// generic KindRuntime error if it isn't already one.
func GetServiceError(err error) *ServiceError {
	if err == nil {
		return nil
	}
	if se, ok := err.(*ServiceError); ok {
		return se
	}
	return Runtime(err.Error(), err)
}
