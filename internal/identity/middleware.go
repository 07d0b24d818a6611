package identity

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// Middleware rejects requests whose bearer token does not resolve to a user
// and stores the resolved user on the request context.
func Middleware(resolver Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := resolver.Resolve(r.Context(), BearerToken(r))
			if err != nil {
				if errors.Is(err, ErrUnauthenticated) {
					writeError(w, http.StatusUnauthorized, "not authenticated")
					return
				}
				logger.Error("failed to resolve user", "error", err)
				writeError(w, http.StatusBadGateway, "identity provider unavailable")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := FromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			if user.Role != role {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
