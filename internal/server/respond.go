package server

import (
	"encoding/json"
	"net/http"

	"CourierLedger/internal/errs"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusFor maps domain error codes to HTTP statuses. Anything without
// a code is a 500.
func statusFor(err error) int {
	switch errs.CodeOf(err) {
	case errs.CodeInsufficientFunds:
		return http.StatusPaymentRequired
	case errs.CodeInvalidTransition, errs.CodeSlotFull, errs.CodeHoldActive, errs.CodeAlreadyResolved:
		return http.StatusConflict
	case errs.CodeInvalid, errs.CodeAccountInactive:
		return http.StatusUnprocessableEntity
	case errs.CodeContention:
		return http.StatusTooManyRequests
	case errs.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, status, errorBody{Code: "internal", Message: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Code: string(errs.CodeOf(err)), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.Wrap("http.decode", errs.CodeInvalid, err)
	}
	return nil
}
