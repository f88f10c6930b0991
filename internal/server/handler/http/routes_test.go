package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/atinyakov/studydeck/internal/apierror"
	"github.com/atinyakov/studydeck/internal/metrics"
	"github.com/atinyakov/studydeck/internal/models"
	"github.com/atinyakov/studydeck/internal/service"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAuthenticator map[string]uuid.UUID

func (f fakeAuthenticator) Authenticate(token string) (uuid.UUID, error) {
	id, ok := f[token]
	if !ok {
		return uuid.Nil, service.ErrInvalidToken
	}
	return id, nil
}

func newTestRouter(t *testing.T, svc *fakeAuthService) (http.Handler, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewServer(reg)
	h := &AuthHandler{AuthService: svc, Metrics: m, Logger: zap.NewNop()}
	auth := fakeAuthenticator{"good-token": testUser.ID}
	return NewRouter(h, auth, m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), zap.NewNop()), reg
}

func TestRouter_Me(t *testing.T) {
	tests := []struct {
		name         string
		header       string
		expectedCode int
	}{
		{name: "no header", expectedCode: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", expectedCode: http.StatusUnauthorized},
		{name: "good token", header: "Bearer good-token", expectedCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t, &fakeAuthService{user: testUser})
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			require.Equal(t, tt.expectedCode, rec.Code)
			if tt.expectedCode == http.StatusOK {
				var id models.Identity
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&id))
				assert.Equal(t, testUser.Identity(), id)
				return
			}
			var env apierror.Envelope
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
			assert.Equal(t, apierror.CodeUnauthorized, env.Error.Code)
			assert.NotEmpty(t, env.RequestID)
		})
	}
}

func TestRouter_RejectsNonJSONBody(t *testing.T) {
	router, _ := newTestRouter(t, &fakeAuthService{result: okResult()})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString("email=a"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestRouter_RefreshWithoutBody(t *testing.T) {
	svc := &fakeAuthService{result: okResult()}
	router, _ := newTestRouter(t, svc)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: "refresh-1"})
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "refresh-1", svc.gotRefresh)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t, &fakeAuthService{result: okResult()})

	login := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		bytes.NewBufferString(`{"email":"ada@example.com","password":"password1"}`))
	login.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(httptest.NewRecorder(), login)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `studydeck_auth_events_total{event="login",outcome="ok"} 1`)
	assert.Contains(t, body, `route="/api/auth/login"`)
}
