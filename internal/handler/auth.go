package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Shivanand-hulikatti/library-lending/internal/service"
)

type ctxKey string

const emailKey ctxKey = "token_email"

// TokenEmail returns the email claim stored by RequireToken.
func TokenEmail(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(emailKey).(string)
	return email, ok
}

// RequireToken verifies an HS256 bearer token and stores its email claim in
// the request context. A missing token is 401, a bad one 403.
func RequireToken(secret []byte, issuer string) func(http.Handler) http.Handler {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized access")
				return
			}

			claims := jwt.MapClaims{}
			_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
				return secret, nil
			})
			if err != nil {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			email, _ := claims["email"].(string)
			if email == "" {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), emailKey, service.NormalizeEmail(email))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireEmailMatch only lets a caller query their own loans: the ?email=
// parameter must equal the token's email claim.
func RequireEmailMatch(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenEmail, ok := TokenEmail(r.Context())
		if !ok || service.NormalizeEmail(r.URL.Query().Get("email")) != tokenEmail {
			writeError(w, http.StatusForbidden, "unauthorized access")
			return
		}
		next.ServeHTTP(w, r)
	})
}
