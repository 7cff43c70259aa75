// Package apperr defines the coded errors surfaced to API and CLI callers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeNoFile         = "NO_FILE"
	CodeInvalidPDF     = "INVALID_PDF"
	CodeOCR            = "OCR_FAILED"
	CodeLLMUnavailable = "LLM_UNAVAILABLE"
	CodeLLM            = "LLM_FAILED"
	CodeNotFound       = "NOT_FOUND"
	CodeBadRequest     = "BAD_REQUEST"
	CodeConfig         = "CONFIG"
)

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any *AppError carrying the same code, so errors.Is works against
// the sentinels below regardless of message or cause.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

var (
	ErrNoFile         = &AppError{Code: CodeNoFile, Message: "no file supplied"}
	ErrInvalidPDF     = &AppError{Code: CodeInvalidPDF, Message: "invalid pdf"}
	ErrOCR            = &AppError{Code: CodeOCR, Message: "ocr failed"}
	ErrLLMUnavailable = &AppError{Code: CodeLLMUnavailable, Message: "llm provider is not configured"}
	ErrLLM            = &AppError{Code: CodeLLM, Message: "llm request failed"}
	ErrNotFound       = &AppError{Code: CodeNotFound, Message: "resource not found"}
	ErrBadRequest     = &AppError{Code: CodeBadRequest, Message: "bad request"}
	ErrConfig         = &AppError{Code: CodeConfig, Message: "invalid configuration"}
)

// GetCode returns the code of the outermost AppError in err's chain.
func GetCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

// HTTPStatus maps an error to the response status the API uses for it.
func HTTPStatus(err error) int {
	switch GetCode(err) {
	case CodeNoFile, CodeBadRequest:
		return http.StatusBadRequest
	case CodeInvalidPDF, CodeOCR:
		return http.StatusUnprocessableEntity
	case CodeNotFound:
		return http.StatusNotFound
	case CodeLLMUnavailable:
		return http.StatusServiceUnavailable
	case CodeLLM:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
