/**
 * @description
 * This file contains custom middleware for the HTTP router: bearer-token
 * authentication for contributors and shared-key authentication for internal callers.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 */

package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ContributorIDContextKey is a custom type for the context key to avoid collisions.
type ContributorIDContextKey string

const contributorIDKey ContributorIDContextKey = "contributorID"

// ContributorAuthMiddleware validates HS256 bearer tokens and puts the `sub` claim in
// the request context as the contributor id.
func ContributorAuthMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeErrorJSON(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeErrorJSON(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}
			if len(key) == 0 {
				log.Printf("level=error component=api msg=\"auth secret not configured; rejecting request\" path=%s", r.URL.Path)
				writeErrorJSON(w, http.StatusUnauthorized, "Authentication unavailable")
				return
			}

			opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
			if expectedAud := os.Getenv("AUTH_JWT_AUDIENCE"); expectedAud != "" {
				opts = append(opts, jwt.WithAudience(expectedAud))
			}
			if expectedIss := os.Getenv("AUTH_JWT_ISSUER"); expectedIss != "" {
				opts = append(opts, jwt.WithIssuer(expectedIss))
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return key, nil
			}, opts...)
			if err != nil || !token.Valid {
				writeErrorJSON(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			contributorID, err := claims.GetSubject()
			if err != nil || strings.TrimSpace(contributorID) == "" {
				writeErrorJSON(w, http.StatusUnauthorized, "Contributor ID not found in token")
				return
			}

			ctx := context.WithValue(r.Context(), contributorIDKey, strings.TrimSpace(contributorID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// InternalAPIKeyMiddleware admits requests carrying the shared X-Internal-API-Key.
func InternalAPIKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	expected := []byte(strings.TrimSpace(apiKey))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := []byte(strings.TrimSpace(r.Header.Get("X-Internal-API-Key")))
			if len(expected) == 0 || subtle.ConstantTimeCompare(provided, expected) != 1 {
				log.Printf("level=warn component=api msg=\"internal request rejected\" path=%s", r.URL.Path)
				writeErrorJSON(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetContributorID retrieves the authenticated contributor id from the request context.
func GetContributorID(ctx context.Context) (string, bool) {
	contributorID, ok := ctx.Value(contributorIDKey).(string)
	return contributorID, ok
}
