package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind labels a failure class. Kinds are stable machine tags: they are
// stored on document records and returned to API clients verbatim.
type Kind string

const (
	KindInputInvalid          Kind = "InputInvalid"
	KindNotFound              Kind = "NotFound"
	KindDecodeFailed          Kind = "DecodeFailed"
	KindEngineFailed          Kind = "EngineFailed"
	KindBackendUnavailable    Kind = "BackendUnavailable"
	KindEnrichmentFailed      Kind = "EnrichmentFailed"
	KindProviderNotConfigured Kind = "ProviderNotConfigured"
	KindExtractionTimeout     Kind = "ExtractionTimeout"
	KindExtractionParse       Kind = "ExtractionParseError"
	KindExtractionRejected    Kind = "ExtractionRejected"
	KindCancelled             Kind = "Cancelled"
	KindInternal              Kind = "Internal"
)

// Error ties a failure Kind to the pipeline step that produced it.
type Error struct {
	Kind  Kind
	Step  string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Step, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Step, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error from a formatted message.
func New(kind Kind, step, format string, args ...any) *Error {
	return &Error{Kind: kind, Step: step, Cause: fmt.Errorf(format, args...)}
}

// Wrap attaches kind and step to err. Returns nil for a nil err. An err
// that already carries a Kind keeps the inner one when unwrapped via
// KindOf, so wrapping at pipeline boundaries does not mask the origin.
func Wrap(kind Kind, step string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Step: step, Cause: err}
}

// KindOf extracts the innermost Kind carried by err, or KindInternal
// when err carries none. Context cancellation maps to KindCancelled.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	kind := Kind("")
	for {
		var fe *Error
		if !errors.As(err, &fe) {
			break
		}
		kind = fe.Kind
		err = fe.Cause
	}
	if kind != "" {
		return kind
	}
	if errors.Is(err, ErrCancelled) {
		return KindCancelled
	}
	return KindInternal
}

// Is reports whether err carries kind at any wrapping level.
func Is(err error, kind Kind) bool {
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Kind == kind {
			return true
		}
		err = fe.Cause
	}
	return false
}

// ErrCancelled marks work abandoned because the document run was
// cancelled or the process is shutting down.
var ErrCancelled = errors.New("cancelled")

// HTTPStatus maps a failure Kind to the status code the API returns.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInputInvalid, KindProviderNotConfigured:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindBackendUnavailable:
		return http.StatusServiceUnavailable
	case KindExtractionTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
