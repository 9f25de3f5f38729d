package domain

import (
	"errors"
	"net/http"
)

// Stable application error codes
const (
	ErrCodeWappNotInitialized = "ERR_WAPP_NOT_INITIALIZED"
	ErrCodeNoWappFound        = "ERR_NO_WAPP_FOUND"
	ErrCodeNoDefaultWapp      = "ERR_NO_DEF_WAPP_FOUND"
	ErrCodeNoTicketFound      = "ERR_NO_TICKET_FOUND"
	ErrCodeNoContactFound     = "ERR_NO_CONTACT_FOUND"
	ErrCodeCheckContact       = "ERR_WAPP_CHECK_CONTACT"
	ErrCodeSendingMessage     = "ERR_SENDING_WAPP_MSG"
)

// AppError is an error with a stable code that the HTTP boundary maps to a status
type AppError struct {
	Code   string
	Status int
}

func (e *AppError) Error() string {
	return e.Code
}

// NewAppError creates an AppError; status defaults to 400
func NewAppError(code string, status ...int) *AppError {
	s := http.StatusBadRequest
	if len(status) > 0 {
		s = status[0]
	}
	return &AppError{Code: code, Status: s}
}

// IsAppError reports whether err carries the given code
func IsAppError(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
