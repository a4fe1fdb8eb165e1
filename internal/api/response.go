package api

import (
	"encoding/json"
	"log"
	"net/http"
)

// requestIDHeader matches the header set by the request id middleware
const requestIDHeader = "X-Request-ID"

// ErrorResponse is the error envelope of every endpoint. RequestID echoes
// the X-Request-ID of the response so operators can find the server log line.
type ErrorResponse struct {
	Error     string            `json:"error"`
	Code      string            `json:"code,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// RespondJSON writes data as JSON with the given status code
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("API: failed to encode JSON response: %v", err)
	}
}

func respondErrorResponse(w http.ResponseWriter, status int, resp ErrorResponse) {
	resp.RequestID = w.Header().Get(requestIDHeader)
	RespondJSON(w, status, resp)
}

// RespondError writes an error envelope
func RespondError(w http.ResponseWriter, status int, message string) {
	respondErrorResponse(w, status, ErrorResponse{Error: message})
}

// RespondErrorWithCode writes an error envelope with a machine-readable code
func RespondErrorWithCode(w http.ResponseWriter, status int, code, message string) {
	respondErrorResponse(w, status, ErrorResponse{Error: message, Code: code})
}

// RespondValidationError writes field-level validation errors as a 422
func RespondValidationError(w http.ResponseWriter, fieldErrors map[string]string) {
	respondErrorResponse(w, http.StatusUnprocessableEntity, ErrorResponse{
		Error:   "Validation failed",
		Code:    "validation_error",
		Details: fieldErrors,
	})
}

// RespondNoContent writes a bodiless 204
func RespondNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
