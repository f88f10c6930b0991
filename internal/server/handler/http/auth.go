// Package http provides the HTTP handlers of the StudyDeck auth API:
// registration, login, cookie-based token refresh, logout and "who am I".
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/atinyakov/studydeck/internal/apierror"
	"github.com/atinyakov/studydeck/internal/metrics"
	"github.com/atinyakov/studydeck/internal/middleware"
	"github.com/atinyakov/studydeck/internal/models"
	"github.com/atinyakov/studydeck/internal/service"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RefreshCookieName is the cookie carrying the opaque refresh token.
const RefreshCookieName = "refresh_token"

// refreshCookiePath scopes the refresh cookie to the auth endpoints.
const refreshCookiePath = "/api/auth"

// AuthService defines the authentication operations required by the HTTP
// handlers.
type AuthService interface {
	// Register creates a user and opens its first session.
	Register(ctx context.Context, email, password, displayName string) (*service.Result, error)
	// Login verifies credentials and opens a session.
	Login(ctx context.Context, email, password string) (*service.Result, error)
	// Refresh rotates the session bound to refreshToken.
	Refresh(ctx context.Context, refreshToken string) (*service.Result, error)
	// Logout ends the session bound to refreshToken.
	Logout(ctx context.Context, refreshToken string) error
	// Me returns the user with the given id.
	Me(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

// AuthHandler handles HTTP requests of the auth API.
type AuthHandler struct {
	// AuthService performs the underlying authentication operations.
	AuthService AuthService
	// Logger receives unexpected service errors. Nil disables logging.
	Logger *zap.Logger
	// Metrics counts auth events. Nil disables counting.
	Metrics *metrics.Server
	// SecureCookies sets the Secure attribute on the refresh cookie.
	SecureCookies bool
}

// RegisterRequest is the JSON payload of POST /api/auth/register.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// LoginRequest is the JSON payload of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	User        models.Identity `json:"user"`
	AccessToken string          `json:"access_token"`
}

// RefreshResponse is returned by refresh.
type RefreshResponse struct {
	AccessToken string `json:"access_token"`
}

// Register handles POST /api/auth/register. On success it responds 201 with
// the identity and an access token, and sets the refresh cookie.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.Write(w, http.StatusBadRequest, apierror.CodeBadRequest, "invalid request")
		return
	}

	res, err := h.AuthService.Register(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		h.authEvent("register", err)
		h.writeServiceError(w, "register", err)
		return
	}
	h.authEvent("register", nil)

	h.setRefreshCookie(w, res.RefreshToken, res.RefreshExpiresAt)
	writeJSON(w, http.StatusCreated, AuthResponse{User: res.User.Identity(), AccessToken: res.AccessToken})
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.Write(w, http.StatusBadRequest, apierror.CodeBadRequest, "invalid request")
		return
	}

	res, err := h.AuthService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.authEvent("login", err)
		h.writeServiceError(w, "login", err)
		return
	}
	h.authEvent("login", nil)

	h.setRefreshCookie(w, res.RefreshToken, res.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, AuthResponse{User: res.User.Identity(), AccessToken: res.AccessToken})
}

// Refresh handles POST /api/auth/refresh. The only credential is the
// refresh cookie; a successful call rotates it.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(RefreshCookieName)
	if err != nil || c.Value == "" {
		h.authEvent("refresh", service.ErrInvalidSession)
		apierror.Write(w, http.StatusUnauthorized, apierror.CodeInvalidSession, "missing session cookie")
		return
	}

	res, err := h.AuthService.Refresh(r.Context(), c.Value)
	if err != nil {
		h.authEvent("refresh", err)
		if errors.Is(err, service.ErrInvalidSession) {
			h.clearRefreshCookie(w)
		}
		h.writeServiceError(w, "refresh", err)
		return
	}
	h.authEvent("refresh", nil)

	h.setRefreshCookie(w, res.RefreshToken, res.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, RefreshResponse{AccessToken: res.AccessToken})
}

// Logout handles POST /api/auth/logout. It always clears the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(RefreshCookieName); err == nil && c.Value != "" {
		if err := h.AuthService.Logout(r.Context(), c.Value); err != nil {
			h.authEvent("logout", err)
			h.writeServiceError(w, "logout", err)
			return
		}
	}
	h.authEvent("logout", nil)
	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/auth/me for a bearer-authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == uuid.Nil {
		apierror.Write(w, http.StatusUnauthorized, apierror.CodeUnauthorized, "not authenticated")
		return
	}

	user, err := h.AuthService.Me(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "me", err)
		return
	}
	writeJSON(w, http.StatusOK, user.Identity())
}

func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    token,
		Path:     refreshCookiePath,
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) writeServiceError(w http.ResponseWriter, op string, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		fields := make([]apierror.Field, 0, len(verr.Fields))
		for _, f := range verr.Fields {
			fields = append(fields, apierror.Field{Field: f.Field, Message: f.Message})
		}
		apierror.Write(w, http.StatusBadRequest, apierror.CodeValidation, "validation failed", fields...)
	case errors.Is(err, service.ErrUserExists):
		apierror.Write(w, http.StatusConflict, apierror.CodeUserExists, "user already exists")
	case errors.Is(err, service.ErrInvalidCredentials):
		apierror.Write(w, http.StatusUnauthorized, apierror.CodeInvalidCredentials, "invalid email or password")
	case errors.Is(err, service.ErrInvalidSession):
		apierror.Write(w, http.StatusUnauthorized, apierror.CodeInvalidSession, "session expired")
	case errors.Is(err, service.ErrInvalidToken), errors.Is(err, service.ErrTokenExpired):
		apierror.Write(w, http.StatusUnauthorized, apierror.CodeUnauthorized, err.Error())
	default:
		if h.Logger != nil {
			h.Logger.Error("auth operation failed", zap.String("op", op), zap.Error(err))
		}
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "internal error")
	}
}

func (h *AuthHandler) authEvent(event string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, service.ErrValidation):
		outcome = apierror.CodeValidation
	case errors.Is(err, service.ErrUserExists):
		outcome = apierror.CodeUserExists
	case errors.Is(err, service.ErrInvalidCredentials):
		outcome = apierror.CodeInvalidCredentials
	case errors.Is(err, service.ErrInvalidSession):
		outcome = apierror.CodeInvalidSession
	default:
		outcome = apierror.CodeInternal
	}
	h.Metrics.AuthEvent(event, outcome)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
