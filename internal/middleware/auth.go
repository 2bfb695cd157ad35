package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/coralbank/backend/internal/services"
)

// AuthMiddleware verifies the bearer access token, rejects blacklisted
// tokens, and injects the authenticated user id into the request context.
func AuthMiddleware(creds *services.Credentials, rdb *redis.Client) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
				return
			}
			token := parts[1]

			claims, err := creds.VerifyAccessToken(token)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			if rdb != nil {
				key := fmt.Sprintf("blacklist:%s", token)
				if exists, err := rdb.Exists(r.Context(), key).Result(); err == nil && exists > 0 {
					http.Error(w, "Token has been revoked", http.StatusUnauthorized)
					return
				}
			}

			userID, err := claims.UserID()
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), "userID", userID)
			ctx = context.WithValue(ctx, "accessToken", token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
