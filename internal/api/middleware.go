/**
 * @description
 * This file contains custom middleware for the HTTP router: optional bearer-token
 * authentication for API callers and a per-client submission rate limit.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: HS256 token validation.
 * - internal/app: The submission rate limiter.
 */

package api

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/transfa/payout-service/internal/app"
)

// ClientIDContextKey is a custom type for the context key to avoid collisions.
type ClientIDContextKey string

const clientIDKey ClientIDContextKey = "clientID"

// APIAuthMiddleware validates HS256 bearer tokens signed with secret and stores the
// token subject as the client id.
func APIAuthMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authorization header required"})
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader || strings.TrimSpace(tokenString) == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid authorization header format"})
				return
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return key, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				log.Printf("level=warn component=api msg=\"rejected bearer token\" err=%v", err)
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
				return
			}

			subject, err := claims.GetSubject()
			if err != nil || strings.TrimSpace(subject) == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "token subject required"})
				return
			}

			ctx := context.WithValue(r.Context(), clientIDKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClientID returns the authenticated client id, if any.
func GetClientID(ctx context.Context) (string, bool) {
	clientID, ok := ctx.Value(clientIDKey).(string)
	return clientID, ok && clientID != ""
}

// SubmitRateLimitMiddleware limits submissions per client. Clients are identified by
// token subject when authenticated and by remote address otherwise. Limiter failures
// let the request through.
func SubmitRateLimitMiddleware(limiter app.SubmitRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := rateLimitKey(r)
			allowed, retryAfter, err := limiter.Allow(r.Context(), clientKey)
			if err != nil {
				log.Printf("level=warn component=api msg=\"rate limiter unavailable; allowing request\" client=%s err=%v", clientKey, err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				seconds := int(retryAfter.Seconds())
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many payout submissions"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if clientID, ok := GetClientID(r.Context()); ok {
		return "client:" + clientID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
