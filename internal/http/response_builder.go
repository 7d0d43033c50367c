package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"cassa/internal/core"
	logx "cassa/internal/log"
)

// errorResponse is the body of every non-2xx API response.
type errorResponse struct {
	Error    string `json:"error"`
	Field    string `json:"field,omitempty"`
	Balance  *int64 `json:"balance,omitempty"`
	Required *int64 `json:"required,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps ledger errors to HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, logx.ErrorTypeValidation
	case errors.Is(err, core.ErrValidation):
		return http.StatusUnprocessableEntity, logx.ErrorTypeValidation
	case errors.Is(err, core.ErrInsufficientFundBalance):
		return http.StatusConflict, logx.ErrorTypeInsufficient
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, logx.ErrorTypeNotFound
	case errors.Is(err, core.ErrPersistence):
		return http.StatusServiceUnavailable, logx.ErrorTypePersistence
	default:
		return http.StatusInternalServerError, logx.ErrorTypeInternal
	}
}

// writeError renders err as an errorResponse. Internal errors are logged
// and their message is not exposed.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, errType := statusFor(err)
	body := errorResponse{Error: err.Error()}

	var ve *core.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}
	var ie *core.InsufficientFundBalanceError
	if errors.As(err, &ie) {
		balance, required := ie.Balance, int64(ie.Required)
		body.Balance, body.Required = &balance, &required
	}

	logger := logx.FromContext(r.Context())
	fields := logx.NewFields().
		WithOperation(op).
		WithError(err)
	fields[logx.FieldErrorType] = errType
	switch {
	case status >= 500:
		logger.ErrorContext(r.Context(), "Request failed", fields.ToSlice()...)
		if status == http.StatusInternalServerError {
			body.Error = "internal error"
		}
	default:
		logger.InfoContext(r.Context(), "Request rejected", fields.ToSlice()...)
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, body)
}
