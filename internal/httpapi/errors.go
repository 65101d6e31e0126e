package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/kstaniek/cz2gate/internal/errs"
)

// statusFor maps a sentinel error from internal/errs onto the HTTP
// status codes the control surface promises: bus-layer failures read
// as 504 (the caller already retried internally; nothing to do but
// report unavailability), bad input as 422, admission refusal as 429,
// unknown resources as 404, anything else as 500. Adapted from the
// teacher's mapErrToMetric switch, but onto http.Status* instead of a
// metrics label.
func statusFor(err error) int {
	switch {
	case errs.Is(err, errs.ErrTransport), errs.Is(err, errs.ErrProtocol), errs.Is(err, errs.ErrTimeout):
		return http.StatusGatewayTimeout
	case errs.Is(err, errs.ErrValidation):
		return http.StatusUnprocessableEntity
	case errs.Is(err, errs.ErrResourceExhausted):
		return http.StatusTooManyRequests
	case errs.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a {"error": "..."} body at the status the
// sentinel error maps to.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// writeJSON marshals v as the response body at the given status,
// logging nothing on a marshal failure since v is always a type we
// control here.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
