package httpserver

import (
	"context"
	"errors"
	"log"
	"net/http"

	"chatgraph/internal/domain"
	"chatgraph/internal/security"
)

// Authenticator resolves a bearer token to a user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

// AuthMiddleware attaches the user identified by the Bearer token to the
// request context. Requests without a token pass through anonymously so
// resolvers can decide; a token that fails validation is rejected.
func AuthMiddleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := security.BearerToken(r.Header.Get("Authorization"))
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, err := auth.Authenticate(r.Context(), token)
			if errors.Is(err, domain.ErrUnauthorized) {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid token"})
				return
			}
			if err != nil {
				log.Printf("AuthMiddleware: authenticate: %v", err)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "authentication unavailable"})
				return
			}

			next.ServeHTTP(w, r.WithContext(security.WithUser(r.Context(), user)))
		})
	}
}
