// Package authn is the inbound API-key / admin-JWT gate of §6/§7:
// `/v1/*` and `/v1beta/*` calls require the configured API key, `/admin/*`
// calls require a JWT issued by `/admin/login`. Grounded on the teacher's
// internal/auth/auth.go token-extraction/constant-time-compare middleware,
// generalized from a SQLite-backed user-token lookup (out of scope here,
// per §1 Non-goals excluding full admin user management) down to the
// single configured API key plus admin credentials the spec names.
package authn

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const principalKey contextKey = "authn.principal"

// Principal is attached to the request context once a call is authenticated.
type Principal struct {
	IsAdmin bool
}

// Gate validates the configured API key for the public surface and issues
// / verifies admin JWTs for the admin surface.
type Gate struct {
	apiKey        string
	adminUsername string
	adminPassword string
	jwtSecret     []byte
	tokenTTL      time.Duration
}

func New(apiKey, adminUsername, adminPassword, jwtSecret string) *Gate {
	return &Gate{
		apiKey:        apiKey,
		adminUsername: adminUsername,
		adminPassword: adminPassword,
		jwtSecret:     []byte(jwtSecret),
		tokenTTL:      24 * time.Hour,
	}
}

// RequireAPIKey gates the public `/v1/*` and `/v1beta/*` surface, per §6.
func (g *Gate) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractKey(r)
		if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(g.apiKey)) != 1 {
			writeAuthError(w, http.StatusUnauthorized, "missing or invalid API key")
			return
		}
		ctx := context.WithValue(r.Context(), principalKey, &Principal{})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin gates `/admin/*` routes other than /admin/login.
func (g *Gate) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeAuthError(w, http.StatusUnauthorized, "missing admin token")
			return
		}
		if _, err := g.parseToken(token); err != nil {
			writeAuthError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		ctx := context.WithValue(r.Context(), principalKey, &Principal{IsAdmin: true})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Login validates admin credentials and returns a signed JWT, for the
// `/admin/login` handler.
func (g *Gate) Login(username, password string) (string, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(g.adminUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(g.adminPassword)) == 1
	if !userOK || !passOK {
		return "", fmt.Errorf("invalid admin credentials")
	}
	claims := jwt.RegisteredClaims{
		Subject:   g.adminUsername,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(g.tokenTTL)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.jwtSecret)
}

func (g *Gate) parseToken(raw string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func extractKey(r *http.Request) string {
	if key := r.Header.Get("x-api-key"); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"type":"error","error":{"type":"authentication_error","message":%q}}`, msg)
}
