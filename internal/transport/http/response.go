package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"acp-broker/internal/protocol"
)

// Error codes carried next to the message so clients can map a response back
// to the protocol error without parsing text.
const (
	CodeJobNotFound       = "job_not_found"
	CodeStaleState        = "stale_state"
	CodeTerminalJob       = "terminal_job"
	CodeInvalidTransition = "invalid_transition"
	CodePaymentUnverified = "payment_unverified"
	CodeLedger            = "ledger_error"
	CodeInvalidRequest    = "invalid_request"
	CodeNotDelivered      = "not_delivered"
	CodeInternal          = "internal"
)

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, apiError{Message: msg, Code: code})
}

// writeServiceErr maps registry errors onto status codes.
func writeServiceErr(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, protocol.ErrJobNotFound):
		writeErr(w, http.StatusNotFound, CodeJobNotFound, err.Error())
	case errors.Is(err, protocol.ErrStaleState):
		writeErr(w, http.StatusConflict, CodeStaleState, err.Error())
	case errors.Is(err, protocol.ErrTerminalJob):
		writeErr(w, http.StatusConflict, CodeTerminalJob, err.Error())
	case errors.Is(err, protocol.ErrInvalidTransition):
		writeErr(w, http.StatusUnprocessableEntity, CodeInvalidTransition, err.Error())
	case errors.Is(err, protocol.ErrPaymentUnverified):
		writeErr(w, http.StatusBadRequest, CodePaymentUnverified, err.Error())
	case errors.Is(err, protocol.ErrLedger):
		writeErr(w, http.StatusBadGateway, CodeLedger, err.Error())
	case errors.As(err, &verrs):
		writeErr(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	default:
		writeErr(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}
