// Package api provides typed calls to the StudyDeck auth endpoints.
package api

import (
	"context"
	"net/http"

	"github.com/atinyakov/studydeck/internal/client/transport"
	"github.com/atinyakov/studydeck/internal/models"
)

const (
	pathRegister = "/api/auth/register"
	pathLogin    = "/api/auth/login"
	pathLogout   = "/api/auth/logout"
	pathMe       = "/api/auth/me"
)

// JSONDoer sends JSON requests. *transport.Transport implements it.
type JSONDoer interface {
	JSON(ctx context.Context, method, path string, in, out any) error
}

// AuthResponse is returned by login and register.
type AuthResponse struct {
	User        models.Identity `json:"user"`
	AccessToken string          `json:"access_token"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

// AuthAPI wraps the auth endpoints.
type AuthAPI struct {
	doer JSONDoer
}

// NewAuthAPI returns an AuthAPI sending through doer.
func NewAuthAPI(doer JSONDoer) *AuthAPI {
	return &AuthAPI{doer: doer}
}

// Me returns the identity of the current access token. It goes through the
// refresh protocol.
func (a *AuthAPI) Me(ctx context.Context) (*models.Identity, error) {
	var id models.Identity
	if err := a.doer.JSON(ctx, http.MethodGet, pathMe, nil, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// Login exchanges credentials for an access token. The server also sets the
// refresh cookie.
func (a *AuthAPI) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	var out AuthResponse
	err := a.doer.JSON(transport.WithoutRefresh(ctx), http.MethodPost, pathLogin,
		loginRequest{Email: email, Password: password}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account and signs it in.
func (a *AuthAPI) Register(ctx context.Context, email, password, displayName string) (*AuthResponse, error) {
	var out AuthResponse
	err := a.doer.JSON(transport.WithoutRefresh(ctx), http.MethodPost, pathRegister,
		registerRequest{Email: email, Password: password, DisplayName: displayName}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout ends the server session and clears the refresh cookie.
func (a *AuthAPI) Logout(ctx context.Context) error {
	return a.doer.JSON(transport.WithoutRefresh(ctx), http.MethodPost, pathLogout, nil, nil)
}
