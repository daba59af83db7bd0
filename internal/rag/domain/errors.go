package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for HTTP status mapping and logging, independent
// of any particular transport. See Error.Kind.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindAuth
	KindForbidden
	KindRateLimited
	KindProvider
	KindStore
	KindCitation
	KindTimeout
	KindIngestionFailed
	KindPayloadTooLarge
	KindUnsupportedMediaType
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindAuth:
		return "auth_error"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate_limited"
	case KindProvider:
		return "provider_error"
	case KindStore:
		return "store_error"
	case KindCitation:
		return "citation_error"
	case KindTimeout:
		return "timeout"
	case KindIngestionFailed:
		return "ingestion_failed"
	case KindPayloadTooLarge:
		return "payload_too_large"
	case KindUnsupportedMediaType:
		return "unsupported_media_type"
	default:
		return "unknown"
	}
}

// Error is the taxonomy-carrying error type threaded through the pipeline.
// Handlers map Kind to an HTTP status; callers should use errors.As to
// recover it rather than string-matching Error().
type Error struct {
	Kind    Kind
	Op      string // operation that produced the error, e.g. "ingest.extract"
	Detail  string // safe, user-facing message; never a provider stack trace
	ErrID   string // correlates to server logs; set by the caller if needed
	Wrapped error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Detail)
	}
	return e.Detail
}

func (e *Error) Unwrap() error { return e.Wrapped }

func newErr(k Kind, op, detail string, wrapped error) *Error {
	return &Error{Kind: k, Op: op, Detail: detail, Wrapped: wrapped}
}

func ValidationError(op, detail string) *Error { return newErr(KindValidation, op, detail, nil) }

func NotFoundError(op, detail string) *Error { return newErr(KindNotFound, op, detail, nil) }

func AuthError(op, detail string) *Error { return newErr(KindAuth, op, detail, nil) }

func ForbiddenError(op, detail string) *Error { return newErr(KindForbidden, op, detail, nil) }

func RateLimitedError(op, detail string) *Error { return newErr(KindRateLimited, op, detail, nil) }

func ProviderError(op string, wrapped error) *Error {
	return newErr(KindProvider, op, "upstream model provider failed", wrapped)
}

func StoreError(op string, wrapped error) *Error {
	return newErr(KindStore, op, "storage operation failed", wrapped)
}

func CitationError(op, detail string) *Error { return newErr(KindCitation, op, detail, nil) }

func TimeoutError(op, detail string) *Error { return newErr(KindTimeout, op, detail, nil) }

func IngestionFailedError(op, detail string) *Error {
	return newErr(KindIngestionFailed, op, detail, nil)
}

func PayloadTooLargeError(op, detail string) *Error {
	return newErr(KindPayloadTooLarge, op, detail, nil)
}

func UnsupportedMediaTypeError(op, detail string) *Error {
	return newErr(KindUnsupportedMediaType, op, detail, nil)
}

// KindOf extracts the Kind of err, returning KindUnknown when err does not
// wrap an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
