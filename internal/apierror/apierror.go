// Package apierror defines the JSON error envelope shared by the server
// handlers and the client transport.
package apierror

import (
	"encoding/json"
	"net/http"
)

// Error codes sent in the envelope.
const (
	CodeBadRequest         = "bad_request"
	CodeValidation         = "validation_failed"
	CodeUnauthorized       = "unauthorized"
	CodeInvalidCredentials = "invalid_credentials"
	CodeInvalidSession     = "invalid_session"
	CodeUserExists         = "user_exists"
	CodeInternal           = "internal"
)

// Field is a validation failure of one input field.
type Field struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Body is the inner error object.
type Body struct {
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Fields  []Field `json:"fields,omitempty"`
}

// Envelope is the top-level JSON document of every error response.
type Envelope struct {
	Error     Body   `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// Write sends an error envelope with the given status.
func Write(w http.ResponseWriter, status int, code, message string, fields ...Field) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{
		Error:     Body{Code: code, Message: message, Fields: fields},
		RequestID: w.Header().Get("X-Request-Id"),
	})
}
