package apperror

import (
	"errors"
	"net/http"
)

// Error is a structured, user-presentable error. Code and Message cross the
// HTTP boundary; Internal never does.
type Error struct {
	Code       string
	Message    string
	StatusCode int
	Internal   error
	Retryable  bool
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Internal
}

// Each error kind below is a distinct, user-visible outcome; the
// controller is the only component that writes one onto a session.
var (
	ErrMalformedLink = &Error{
		Code:       "malformed_link",
		Message:    "This recording link isn't valid",
		StatusCode: http.StatusBadRequest,
	}

	ErrSessionNotFound = &Error{
		Code:       "session_not_found",
		Message:    "This recording link is invalid",
		StatusCode: http.StatusNotFound,
	}

	ErrSessionExpired = &Error{
		Code:       "session_expired",
		Message:    "This recording link has expired",
		StatusCode: http.StatusGone,
	}

	ErrSessionAlreadyRecorded = &Error{
		Code:       "session_already_recorded",
		Message:    "A recording has already been submitted for this link",
		StatusCode: http.StatusConflict,
	}

	ErrSessionRemoved = &Error{
		Code:       "session_removed",
		Message:    "This prompt was removed by its owner",
		StatusCode: http.StatusGone,
	}

	ErrUnsupportedCodec = &Error{
		Code:       "unsupported_codec",
		Message:    "This browser can't record audio or video. Please try a different browser",
		StatusCode: http.StatusUnprocessableEntity,
	}

	ErrPermissionDenied = &Error{
		Code:       "permission_denied",
		Message:    "Microphone or camera access was denied",
		StatusCode: http.StatusForbidden,
		Retryable:  true,
	}

	ErrNoDevice = &Error{
		Code:       "no_device",
		Message:    "No microphone or camera was found",
		StatusCode: http.StatusUnprocessableEntity,
		Retryable:  true,
	}

	ErrDeviceInUse = &Error{
		Code:       "device_in_use",
		Message:    "Your microphone or camera is being used by another application",
		StatusCode: http.StatusConflict,
		Retryable:  true,
	}

	ErrUploadTransient = &Error{
		Code:       "upload_transient",
		Message:    "A chunk upload failed and is being retried",
		StatusCode: http.StatusBadGateway,
		Retryable:  true,
	}

	ErrUploadFatal = &Error{
		Code:       "upload_fatal",
		Message:    "Upload failed, please try again",
		StatusCode: http.StatusBadGateway,
	}

	ErrConcurrentTransition = &Error{
		Code:       "concurrent_transition",
		Message:    "This recording is already in progress on another device",
		StatusCode: http.StatusConflict,
		Retryable:  true,
	}

	ErrBackpressureOverflow = &Error{
		Code:       "backpressure_overflow",
		Message:    "Upload is falling behind the recording, please check your connection",
		StatusCode: http.StatusServiceUnavailable,
	}

	ErrBadRequest = &Error{
		Code:       "bad_request",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternal = &Error{
		Code:       "internal_error",
		Message:    "An unexpected error occurred. Please try again later",
		StatusCode: http.StatusInternalServerError,
	}
)

func New(code, message string, statusCode int) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Wrap(err error, appErr *Error) *Error {
	return &Error{
		Code:       appErr.Code,
		Message:    appErr.Message,
		StatusCode: appErr.StatusCode,
		Retryable:  appErr.Retryable,
		Internal:   err,
	}
}

func WrapWithMessage(err error, code, message string, statusCode int) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Internal:   err,
	}
}

func Is(err error, target *Error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

func StatusCode(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

func SafeMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return ErrInternal.Message
}

func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal.Code
}

// IsRetryable returns whether the error indicates the operation can be
// retried. Unknown errors default to retryable.
func IsRetryable(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return true
}

func WithRetryable(err *Error, retryable bool) *Error {
	return &Error{
		Code:       err.Code,
		Message:    err.Message,
		StatusCode: err.StatusCode,
		Internal:   err.Internal,
		Retryable:  retryable,
	}
}
