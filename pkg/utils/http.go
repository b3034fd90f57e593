package utils

import (
	"encoding/json"
	"net/http"
)

// errorBody matches the code/message shape the websocket error event
// uses, so both surfaces report failures the same way.
type errorBody struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// JSONError writes a JSON error response with the given status code
// and message.
func JSONError(w http.ResponseWriter, status int, message string) {
	JSONErrorCode(w, status, "", message)
}

// JSONErrorCode writes a JSON error response carrying a wire error code
// alongside the message.
func JSONErrorCode(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]errorBody{"error": {Code: code, Message: message}})
}

// JSONWrite writes the provided value as JSON with the given status code.
func JSONWrite(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	return json.NewEncoder(w).Encode(v)
}
