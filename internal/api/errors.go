package api

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Error codes returned in ErrorResponse.Code.
const (
	codeBadRequest = "bad_request"
	codeNotFound   = "not_found"
	codeInternal   = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // The client may already be gone
	json.NewEncoder(w).Encode(v)
}

// writeError replies with an ErrorResponse carrying the request's ID, so an
// operator can match the reply to the server log line.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	resp := ErrorResponse{Code: code, Message: message}
	if id, ok := r.Context().Value(ctxKeyRequestID).(string); ok {
		resp.RequestID = id
	}
	writeJSON(w, status, resp)
}
