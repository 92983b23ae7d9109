package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-order-payments/internal/apperr"
	"github.com/ariefcatur/go-order-payments/internal/logging"
	"go.uber.org/zap"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err onto a status and a client-facing body. Internal and
// gateway failures never expose their details.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	body := errorBody{Code: apperr.CodeOf(err)}

	var ae *apperr.Error
	switch {
	case code == http.StatusServiceUnavailable:
		body.Message = "payment service unavailable, please retry"
	case code == http.StatusInternalServerError:
		body.Code = "internal"
		body.Message = "internal error"
		logging.FromContext(r.Context(), nil).Error("request_failed", zap.Error(err))
	case errors.As(err, &ae):
		body.Message = ae.Message
	}
	writeJSON(w, code, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Code: "validation_error", Message: msg})
}
