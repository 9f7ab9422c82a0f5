package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Proton-105/himera-billing/internal/domain"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	CodeValidation     = "E100"
	CodeAuthentication = "E110"
	CodeForbidden      = "E120"
	CodeDatabase       = "E200"
	CodeExternalAPI    = "E300"
	CodeState          = "E400"
	CodeNotFound       = "E404"
	CodeAlreadyPending = "E410"
	CodeRateLimit      = "E500"
	CodeInternal       = "E999"
)

type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	cause       error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) Cause() error {
	return e.Unwrap()
}

// StatusCode maps the error code to the HTTP status returned to API callers.
func (e *AppError) StatusCode() int {
	if e == nil {
		return http.StatusInternalServerError
	}

	switch e.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeAuthentication:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyPending, CodeState:
		return http.StatusConflict
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodeDatabase, CodeExternalAPI:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func NewValidationError(msg string) *AppError {
	return &AppError{
		Code:        CodeValidation,
		Message:     msg,
		UserMessage: fmt.Sprintf("Datos inválidos. %s", msg),
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       nil,
	}
}

// NewMissingFieldsError reports which required fields a request lacked.
func NewMissingFieldsError(fields ...string) *AppError {
	err := NewValidationError(fmt.Sprintf("missing required fields: %v", fields))
	err.UserMessage = "Faltan datos obligatorios"
	err.cause = domain.ErrMissingFields
	return err
}

func NewAuthenticationError() *AppError {
	return &AppError{
		Code:        CodeAuthentication,
		Message:     "unauthorized",
		UserMessage: "No autorizado",
		Severity:    SeverityLow,
		Retryable:   false,
	}
}

func NewForbiddenError(msg string) *AppError {
	return &AppError{
		Code:        CodeForbidden,
		Message:     msg,
		UserMessage: "Acceso denegado",
		Severity:    SeverityMedium,
		Retryable:   false,
	}
}

func NewNotFoundError(cause error) *AppError {
	msg := "not found"
	if cause != nil {
		msg = cause.Error()
	}

	return &AppError{
		Code:        CodeNotFound,
		Message:     msg,
		UserMessage: "No encontrado",
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       cause,
	}
}

func NewAlreadyPendingError() *AppError {
	return &AppError{
		Code:        CodeAlreadyPending,
		Message:     domain.ErrAlreadyPending.Error(),
		UserMessage: "Ya tienes un pago pendiente. Cancélalo antes de iniciar otro",
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       domain.ErrAlreadyPending,
	}
}

func NewDatabaseError(cause error) *AppError {
	var underlyingMsg string
	if cause != nil {
		underlyingMsg = cause.Error()
	}

	return &AppError{
		Code:        CodeDatabase,
		Message:     fmt.Sprintf("Database error: %s", underlyingMsg),
		UserMessage: "Problema temporal, inténtalo más tarde",
		Severity:    SeverityHigh,
		Retryable:   true,
		cause:       cause,
	}
}

func NewExternalAPIError(apiName string, cause error) *AppError {
	return &AppError{
		Code:        CodeExternalAPI,
		Message:     fmt.Sprintf("External API error: %s", apiName),
		UserMessage: "Servicio temporalmente no disponible",
		Severity:    SeverityMedium,
		Retryable:   true,
		cause:       cause,
	}
}

func NewStateError(msg string) *AppError {
	return &AppError{
		Code:        CodeState,
		Message:     msg,
		UserMessage: "Operación no permitida en el estado actual",
		Severity:    SeverityMedium,
		Retryable:   false,
		cause:       nil,
	}
}

func NewRateLimitError(retryAfter int) *AppError {
	return &AppError{
		Code:        CodeRateLimit,
		Message:     fmt.Sprintf("Rate limit exceeded: retry after %d seconds", retryAfter),
		UserMessage: fmt.Sprintf("Demasiadas solicitudes. Inténtalo en %d segundos", retryAfter),
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       nil,
	}
}

func NewInternalError(msg string) *AppError {
	return &AppError{
		Code:        CodeInternal,
		Message:     msg,
		UserMessage: "Error interno",
		Severity:    SeverityCritical,
		Retryable:   false,
	}
}

// Classify converts domain sentinels and unknown failures into an AppError.
// Errors that already are AppErrors are returned unchanged.
func Classify(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr
	}

	switch {
	case errors.Is(err, domain.ErrAlreadyPending):
		return NewAlreadyPendingError()
	case errors.Is(err, domain.ErrUserNotFound), errors.Is(err, domain.ErrTicketNotFound):
		return NewNotFoundError(err)
	case errors.Is(err, domain.ErrMissingFields):
		appErr = NewMissingFieldsError()
		appErr.Message = err.Error()
		appErr.cause = err
		return appErr
	default:
		return NewDatabaseError(err)
	}
}
