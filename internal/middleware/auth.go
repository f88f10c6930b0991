// Package middleware provides HTTP middlewares for authentication, logging
// and metrics.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/atinyakov/studydeck/internal/apierror"
	"github.com/google/uuid"
)

type ctxKey string

const userKey ctxKey = "user"

// Authenticator validates a bearer access token.
type Authenticator interface {
	Authenticate(token string) (uuid.UUID, error)
}

// BearerAuth rejects requests without a valid "Authorization: Bearer" header
// with 401 and stores the authenticated user id in the request context.
func BearerAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				apierror.Write(w, http.StatusUnauthorized, apierror.CodeUnauthorized, "missing bearer token")
				return
			}
			userID, err := auth.Authenticate(token)
			if err != nil {
				apierror.Write(w, http.StatusUnauthorized, apierror.CodeUnauthorized, err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), userKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserIDFromContext extracts the authenticated user id from ctx.
// It returns uuid.Nil if the request was not authenticated.
func GetUserIDFromContext(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(userKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
