package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

// Error codes returned in the envelope.
const (
	CodeInvalidInput       = "invalid_input"
	CodeUnauthorized       = "unauthorized"
	CodeNotResolved        = "identity_not_resolved"
	CodeNotFound           = "not_found"
	CodeConflict           = "already_exists"
	CodeBackendUnavailable = "backend_unavailable"
	CodePersistence        = "persistence_failure"
	CodeInternal           = "internal_error"
)

// APIError is the error payload.
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ErrorEnvelope wraps an APIError as {"error": {...}}.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// RespondError writes an error envelope.
func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

// AbortError writes an error envelope and stops the handler chain.
func AbortError(c *gin.Context, status int, code string, err error) {
	RespondError(c, status, code, err)
	c.Abort()
}

// RespondOK writes a 200 JSON payload.
func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// StatusFor maps an application error to an HTTP status and code.
func StatusFor(err error) (int, string) {
	switch {
	case shared.IsIdentityNotResolved(err):
		return http.StatusUnauthorized, CodeNotResolved
	case shared.IsValidation(err):
		return http.StatusBadRequest, CodeInvalidInput
	case shared.IsNotFound(err):
		return http.StatusNotFound, CodeNotFound
	case shared.IsAlreadyExists(err):
		return http.StatusConflict, CodeConflict
	case shared.IsBackendUnavailable(err):
		return http.StatusServiceUnavailable, CodeBackendUnavailable
	case shared.IsPersistence(err):
		return http.StatusInternalServerError, CodePersistence
	case errors.Is(err, ErrInitDataMissing), errors.Is(err, ErrInitDataInvalid),
		errors.Is(err, ErrInitDataHash), errors.Is(err, ErrInitDataExpired):
		return http.StatusUnauthorized, CodeUnauthorized
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// RespondDomainError maps err and writes the envelope. Internal errors get a
// generic message.
func RespondDomainError(c *gin.Context, err error) {
	status, code := StatusFor(err)
	if code == CodeInternal {
		err = errors.New("internal error")
	}
	RespondError(c, status, code, err)
}
