package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/extraction"
	"github.com/sells-group/directory-cli/internal/guard"
	"github.com/sells-group/directory-cli/internal/store"
)

// ErrorCode is a stable machine-readable error code.
type ErrorCode string

const (
	ErrCodeBadRequest         ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodePreconditionFailed ErrorCode = "PRECONDITION_FAILED"
	ErrCodePreconditionNeeded ErrorCode = "PRECONDITION_REQUIRED"
	ErrCodeInternalError      ErrorCode = "INTERNAL_ERROR"
)

// ErrorResponse wraps an error body.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes an error.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ConflictResponse is the 409 body for refused extraction requests.
type ConflictResponse struct {
	Error          ErrorDetail `json:"error"`
	ExistingID     string      `json:"existing_id"`
	ExistingStatus string      `json:"existing_status"`
	Reason         string      `json:"reason"`
}

// DataResponse wraps a successful body.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse wraps a page of results.
type ListResponse struct {
	Data   any `json:"data"`
	Count  int `json:"count"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// JSON writes data with status.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

// Success writes a 200 with data.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// Error writes an error body.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// BadRequest writes a 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// NotFound writes a 404.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// InternalError logs err and writes a 500.
func InternalError(w http.ResponseWriter, err error) {
	zap.L().Error("api: internal error", zap.Error(err))
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// Conflict writes a 409 for a refused extraction request.
func Conflict(w http.ResponseWriter, ce *guard.ConflictError) {
	JSON(w, http.StatusConflict, ConflictResponse{
		Error:          ErrorDetail{Code: ErrCodeConflict, Message: ce.Reason},
		ExistingID:     ce.ExistingID,
		ExistingStatus: string(ce.ExistingStatus),
		Reason:         ce.Reason,
	})
}

// HandleError maps domain errors onto responses. It reports false when err
// is nil.
func HandleError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := guard.AsConflict(err); ok {
		Conflict(w, ce)
		return true
	}
	switch {
	case extraction.IsInvalid(err):
		BadRequest(w, err.Error())
	case store.IsNotFound(err):
		NotFound(w, "entity not found")
	case errors.Is(err, store.ErrStaleVersion):
		Error(w, http.StatusPreconditionFailed, ErrCodePreconditionFailed, err.Error())
	case errors.Is(err, store.ErrDuplicate):
		Error(w, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		InternalError(w, err)
	}
	return true
}
