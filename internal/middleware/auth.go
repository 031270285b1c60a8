// Package middleware holds the HTTP middleware chain: authentication,
// request ids and per-client rate limiting.
package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"querygate/internal/domain"
)

// Auth validates an HS256 Bearer token, resolves the subject to a stored
// principal with its group memberships, and stores the result in the request
// context. Requests without a valid token get 401.
func Auth(jwtSecret []byte, principals domain.PrincipalRepository, groups domain.GroupRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeUnauthorized(w, "missing bearer token")
				return
			}

			token, err := jwt.Parse(strings.TrimPrefix(auth, "Bearer "), func(t *jwt.Token) (interface{}, error) {
				return jwtSecret, nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				writeUnauthorized(w, "invalid token")
				return
			}
			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeUnauthorized(w, "invalid token claims")
				return
			}
			sub, ok := claims["sub"].(string)
			if !ok || sub == "" {
				writeUnauthorized(w, "token has no subject")
				return
			}

			principal, err := principals.GetByName(r.Context(), sub)
			if err != nil {
				writeUnauthorized(w, "unknown principal")
				return
			}
			groupIDs, err := groups.GroupIDsForPrincipal(r.Context(), principal.ID)
			if err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}

			ctx := domain.WithPrincipal(r.Context(), domain.ContextPrincipal{
				Name:    principal.Name,
				IsAdmin: principal.IsAdmin,
				Groups:  groupIDs,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    http.StatusUnauthorized,
		"message": "unauthorized: " + message,
	})
}
