package errors

import (
	stdErrors "errors"
	"fmt"
)

type Code string

const (
	// CodeStorage marks local store failures. There is no degraded mode
	// without a working store, so these always propagate to the caller.
	CodeStorage Code = "STORAGE_ERROR"
	// CodeValidation marks malformed input rejected at enqueue time.
	CodeValidation Code = "VALIDATION_ERROR"
	// CodeRemote marks a failed remote call (non-2xx, timeout, transport).
	CodeRemote Code = "REMOTE_ERROR"
	// CodeNotFound marks a resource absent both remotely and in the cache.
	CodeNotFound Code = "NOT_FOUND"
	// CodeConflict marks a write that the remote service rejected as a
	// duplicate or state conflict.
	CodeConflict Code = "CONFLICT"
	CodeInternal Code = "INTERNAL_ERROR"
)

type Metadata struct {
	Retryable     bool
	PublicMessage string
}

var metadataByCode = map[Code]Metadata{
	CodeStorage: {
		Retryable:     false,
		PublicMessage: "local store unavailable",
	},
	CodeValidation: {
		Retryable:     false,
		PublicMessage: "validation failed",
	},
	CodeRemote: {
		Retryable:     true,
		PublicMessage: "remote service unavailable",
	},
	CodeNotFound: {
		Retryable:     false,
		PublicMessage: "resource not found",
	},
	CodeConflict: {
		Retryable:     false,
		PublicMessage: "conflict detected",
	},
	CodeInternal: {
		Retryable:     false,
		PublicMessage: "internal error",
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Retryable reports whether err carries a code whose failures are worth
// another delivery attempt. Unknown errors are treated as retryable so
// transient transport failures wrapped by third parties still back off
// instead of going dead immediately.
func Retryable(err error) bool {
	typed := As(err)
	if typed == nil {
		return true
	}
	return MetadataFor(typed.Code()).Retryable
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether err (or anything it wraps) carries the code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}
