package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies engine errors for callers and for the HTTP layer.
type ErrorCode string

const (
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeTransmitter     ErrorCode = "TRANSMITTER_ERROR"
	ErrCodeDownload        ErrorCode = "DOWNLOAD_ERROR"
	ErrCodeScheduleExpired ErrorCode = "SCHEDULE_EXPIRED"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
)

// AppError carries an error code, a caller-facing message and the HTTP
// status the API layer should respond with.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func NewValidationError(message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, HTTPStatus: http.StatusBadRequest}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s not found", resource), HTTPStatus: http.StatusNotFound}
}

func NewTransmitterError(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeTransmitter, Message: message, HTTPStatus: http.StatusBadGateway, Cause: cause}
}

func NewDownloadError(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeDownload, Message: message, HTTPStatus: http.StatusBadGateway, Cause: cause}
}

func NewScheduleExpiredError(message string) *AppError {
	return &AppError{Code: ErrCodeScheduleExpired, Message: message, HTTPStatus: http.StatusConflict}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message, HTTPStatus: http.StatusInternalServerError, Cause: cause}
}

// GetAppError extracts an AppError from an error chain, or nil.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}
