package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a failure for callers and the HTTP layer
type Kind string

const (
	KindValidation   Kind = "validation"
	KindQuota        Kind = "quota"
	KindConflict     Kind = "conflict"
	KindProvider     Kind = "provider"
	KindStorage      Kind = "storage"
	KindRender       Kind = "render"
	KindNotFound     Kind = "not_found"
	KindForbidden    Kind = "forbidden"
	KindUnauthorized Kind = "unauthorized"
)

// Pipeline stages reported on failures
const (
	StageUpload        = "upload"
	StageLedger        = "ledger"
	StageTranscription = "transcription"
	StageDubbing       = "dubbing"
	StageBurn          = "burn"
	StageDelete        = "delete"
)

// Error is the typed outcome of a failed operation. Stage names the step
// that failed and Charged reports whether the usage ledger was debited
// before the failure.
type Error struct {
	Kind      Kind   `json:"kind"`
	Stage     string `json:"stage,omitempty"`
	Field     string `json:"field,omitempty"`
	Transient bool   `json:"transient,omitempty"`
	Charged   bool   `json:"charged"`
	Message   string `json:"error"`
	Err       error  `json:"-"`
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Stage != "" {
		prefix = e.Stage + ": " + prefix
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error kind to a response code
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindQuota:
		return http.StatusPaymentRequired
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRender:
		return http.StatusUnprocessableEntity
	case KindProvider:
		return http.StatusBadGateway
	case KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

func Quota(message string) *Error {
	return &Error{Kind: KindQuota, Stage: StageLedger, Message: message}
}

func Conflict(stage, message string) *Error {
	return &Error{Kind: KindConflict, Stage: stage, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

func Storage(stage string, err error) *Error {
	return &Error{Kind: KindStorage, Stage: stage, Message: "storage operation failed", Err: err}
}

func Render(err error) *Error {
	return &Error{Kind: KindRender, Stage: StageBurn, Message: "media engine failed to render video", Err: err}
}

// Provider builds a provider failure. statusCode is the upstream HTTP code,
// or 0 when the request never produced a response.
func Provider(stage string, statusCode int, err error) *Error {
	return &Error{
		Kind:      KindProvider,
		Stage:     stage,
		Transient: IsTransientStatus(statusCode) || isNetworkError(err),
		Message:   providerMessage(statusCode),
		Err:       err,
	}
}

func providerMessage(statusCode int) string {
	if statusCode == 0 {
		return "provider request failed"
	}
	return fmt.Sprintf("provider returned status %d", statusCode)
}

// IsTransientStatus reports whether an upstream status code is worth retrying
func IsTransientStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// As extracts an *Error from an error chain
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" when err is not an *Error
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return ""
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// WithStage returns err with Stage and Charged filled in. Errors that are not
// an *Error are wrapped as storage failures of that stage.
func WithStage(err error, stage string, charged bool) *Error {
	appErr, ok := As(err)
	if !ok {
		appErr = Storage(stage, err)
	}
	out := *appErr
	if out.Stage == "" {
		out.Stage = stage
	}
	out.Charged = charged
	return &out
}
