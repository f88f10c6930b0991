package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// dummyHandler records whether it was called and the context it received.
type dummyHandler struct {
	called bool
	ctx    context.Context
}

func (d *dummyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.called = true
	d.ctx = r.Context()
	w.WriteHeader(http.StatusOK)
}

type fakeAuthenticator struct {
	want string
	id   uuid.UUID
}

func (f fakeAuthenticator) Authenticate(token string) (uuid.UUID, error) {
	if token != f.want {
		return uuid.Nil, errors.New("invalid token")
	}
	return f.id, nil
}

func TestBearerAuth(t *testing.T) {
	id := uuid.New()
	auth := fakeAuthenticator{want: "T1", id: id}

	tests := []struct {
		name       string
		header     string
		wantCalled bool
		wantCode   int
	}{
		{name: "no header", header: "", wantCode: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", wantCode: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer ", wantCode: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer T0", wantCode: http.StatusUnauthorized},
		{name: "valid token", header: "Bearer T1", wantCalled: true, wantCode: http.StatusOK},
		{name: "case insensitive scheme", header: "bearer T1", wantCalled: true, wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dummy := &dummyHandler{}
			h := BearerAuth(auth)(dummy)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCalled, dummy.called)
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCalled {
				assert.Equal(t, id, GetUserIDFromContext(dummy.ctx))
			} else {
				assert.Contains(t, rec.Body.String(), `"code":"unauthorized"`)
			}
		})
	}
}

func TestGetUserIDFromContext_NotSet(t *testing.T) {
	assert.Equal(t, uuid.Nil, GetUserIDFromContext(context.Background()))
}
