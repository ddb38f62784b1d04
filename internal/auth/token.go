// Package auth gates HTTP endpoints with HS256 bearer tokens. The gate is
// disabled when AUTH_JWT_SECRET is unset, which is the normal local setup.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type Verifier struct {
	secret []byte
}

// NewVerifierFromEnv builds a verifier from AUTH_JWT_SECRET, or nil when the
// variable is unset.
func NewVerifierFromEnv() *Verifier {
	secret := strings.TrimSpace(os.Getenv("AUTH_JWT_SECRET"))
	if secret == "" {
		return nil
	}
	return &Verifier{secret: []byte(secret)}
}

// VerifyToken validates an HS256 token and returns its claims.
func (v *Verifier) VerifyToken(tokenStr string) (jwt.MapClaims, error) {
	if strings.TrimSpace(tokenStr) == "" {
		return nil, errors.New("token is empty")
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// Middleware wraps an HTTP handler with a bearer-token check. A nil verifier
// passes everything through. WebSocket clients cannot set headers, so the
// token is also accepted as a ?token= query parameter.
func (v *Verifier) Middleware(next http.HandlerFunc) http.HandlerFunc {
	if v == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if tokenStr == "" || tokenStr == r.Header.Get("Authorization") {
			tokenStr = r.URL.Query().Get("token")
		}
		if _, err := v.VerifyToken(tokenStr); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
