package apierror

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("X-Request-Id", "req-42")

	Write(rec, http.StatusBadRequest, CodeValidation, "validation failed",
		Field{Field: "email", Message: "invalid email"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var env Envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.Equal(t, Envelope{
		Error: Body{
			Code:    CodeValidation,
			Message: "validation failed",
			Fields:  []Field{{Field: "email", Message: "invalid email"}},
		},
		RequestID: "req-42",
	}, env)
}

func TestWrite_OmitsEmptyFields(t *testing.T) {
	rec := httptest.NewRecorder()

	Write(rec, http.StatusUnauthorized, CodeUnauthorized, "missing bearer token")

	assert.JSONEq(t, `{"error":{"code":"unauthorized","message":"missing bearer token"}}`, rec.Body.String())
}
