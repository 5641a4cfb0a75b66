package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/vedran77/stratchat/internal/auth"
	"github.com/vedran77/stratchat/internal/domain"
)

type contextKey string

const UserKey contextKey = "user"

// Authenticator resolves a bearer token to a directory user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.AuthenticatedUser, error)
}

// Auth requires a bearer token in the Authorization header, or a ?token=
// query parameter for clients that cannot set headers.
func Auth(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearerToken(r)
			if tokenStr == "" {
				unauthorized(w, "Missing or invalid token")
				return
			}

			user, err := a.Authenticate(r.Context(), tokenStr)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrUnknownUser):
					unauthorized(w, "User not found")
				case errors.Is(err, auth.ErrInvalidToken):
					unauthorized(w, "Invalid or expired token")
				default:
					writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
				}
				return
			}

			ctx := context.WithValue(r.Context(), UserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

// GetUser extracts the authenticated user from request context
func GetUser(ctx context.Context) domain.AuthenticatedUser {
	return ctx.Value(UserKey).(domain.AuthenticatedUser)
}

func unauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "error",
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
