package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/hid-climate-bridge/internal/entry"
	"github.com/nerrad567/hid-climate-bridge/internal/flow"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`

	// Fields maps input field names to error codes for validation failures.
	Fields map[string]string `json:"fields,omitempty"`

	// Reason is the flow abort reason, if any.
	Reason string `json:"reason,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest = "bad_request"
	ErrCodeNotFound   = "not_found"
	ErrCodeConflict   = "conflict"
	ErrCodeInternal   = "internal_error"
	ErrCodeValidation = "validation_error"
	ErrCodeAborted    = "aborted"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeFlowError maps a config flow error onto a response.
//
//	*flow.ValidationError     -> 400 validation_error with fields
//	abort already_configured  -> 409 conflict
//	entry.ErrEntryNotFound    -> 404 not_found
//	any other abort           -> 422 aborted with reason
func writeFlowError(w http.ResponseWriter, err error) {
	var verr *flow.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, Error{
			Status:  http.StatusBadRequest,
			Code:    ErrCodeValidation,
			Message: "invalid input",
			Fields:  verr.Fields,
		})
		return
	}

	if errors.Is(err, entry.ErrEntryNotFound) {
		writeNotFound(w, "entry not found")
		return
	}

	reason, ok := flow.AbortReason(err)
	switch {
	case ok && reason == flow.AbortAlreadyConfigured:
		writeJSON(w, http.StatusConflict, Error{
			Status:  http.StatusConflict,
			Code:    ErrCodeConflict,
			Message: "controller is already linked to this climate entity",
			Reason:  reason,
		})
	case ok:
		writeJSON(w, http.StatusUnprocessableEntity, Error{
			Status:  http.StatusUnprocessableEntity,
			Code:    ErrCodeAborted,
			Message: err.Error(),
			Reason:  reason,
		})
	default:
		writeInternalError(w, "config flow failed")
	}
}
