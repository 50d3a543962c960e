package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/wolfman30/rehab-clinic-platform/internal/staff"
)

// StaffClaims are the claims carried by clinic staff tokens.
type StaffClaims struct {
	jwt.RegisteredClaims
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
}

// StaffJWT enforces an HS256-signed staff token and stores the identity on the request context.
func StaffJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				jsonError(w, http.StatusUnauthorized, "staff auth not configured")
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				jsonError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}
			claims := &StaffClaims{}
			token, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			}, jwt.WithExpirationRequired())
			if err != nil || !token.Valid {
				jsonError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if claims.Subject == "" || claims.Role == "" {
				jsonError(w, http.StatusUnauthorized, "token missing subject or role")
				return
			}
			ctx := staff.WithIdentity(r.Context(), staff.Identity{
				ID:    claims.Subject,
				Email: claims.Email,
				Role:  strings.ToLower(claims.Role),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole lets the request through only if the staff member holds one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[strings.ToLower(role)] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := staff.FromContext(r.Context())
			if !ok {
				jsonError(w, http.StatusUnauthorized, "missing staff identity")
				return
			}
			if _, ok := allowed[id.Role]; !ok {
				jsonError(w, http.StatusForbidden, "role "+id.Role+" may not perform this action")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func jsonError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
