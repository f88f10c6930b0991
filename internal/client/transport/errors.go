package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/atinyakov/studydeck/internal/apierror"
)

// APIError is a non-2xx response of the API.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
	Fields    []apierror.Field
}

func (e *APIError) Error() string {
	code := e.Code
	if code == "" {
		code = "unknown"
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s (%d): %s", code, e.Status, msg)
}

// RefreshError reports that the access token could not be renewed. Every
// request waiting on the failed refresh receives the same RefreshError.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return "token refresh failed: " + e.Err.Error()
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Rejected reports whether the server refused the refresh credential, as
// opposed to a network or server failure.
func (e *RefreshError) Rejected() bool {
	var apiErr *APIError
	if errors.As(e.Err, &apiErr) {
		return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
	}
	return false
}

// IsUnauthorized reports whether err means the caller is not authenticated:
// a 401 response or a failed token refresh.
func IsUnauthorized(err error) bool {
	var refreshErr *RefreshError
	if errors.As(err, &refreshErr) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{Status: resp.StatusCode, RequestID: resp.Header.Get("X-Request-Id")}
	if len(data) == 0 {
		apiErr.Message = resp.Status
		return apiErr
	}
	var env apierror.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		apiErr.Message = string(data)
		return apiErr
	}
	apiErr.Code = env.Error.Code
	apiErr.Message = env.Error.Message
	apiErr.Fields = env.Error.Fields
	if env.RequestID != "" {
		apiErr.RequestID = env.RequestID
	}
	if apiErr.Message == "" {
		apiErr.Message = resp.Status
	}
	return apiErr
}
