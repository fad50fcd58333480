// internal/auth/auth.go
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/avivl/conference-lock/internal/lockservice"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoToken is returned when the request carries neither a bearer token nor the session cookie.
	ErrNoToken = errors.New("no authorization token found")
	// ErrInvalidToken is returned for tokens that fail verification or lack a numeric subject.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the token claims the service reads. Tokens are issued elsewhere.
type Claims struct {
	Name  string   `json:"name"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller.
type Identity struct {
	User  lockservice.User
	Roles []string
	Admin bool
}

// Authenticator verifies HS256 tokens and resolves the caller's identity.
type Authenticator struct {
	secret     []byte
	cookieName string
	adminRoles map[string]struct{}
	parser     *jwt.Parser
}

func NewAuthenticator(cfg *Config) *Authenticator {
	roles := make(map[string]struct{}, len(cfg.AdminRoles))
	for _, r := range cfg.AdminRoles {
		roles[r] = struct{}{}
	}
	return &Authenticator{
		secret:     []byte(cfg.JWTSecret),
		cookieName: cfg.CookieName,
		adminRoles: roles,
		parser:     jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()),
	}
}

// Authenticate reads the token from the Authorization header, falling back to
// the session cookie.
func (a *Authenticator) Authenticate(r *http.Request) (*Identity, error) {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" && a.cookieName != "" {
		if c, err := r.Cookie(a.cookieName); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		return nil, ErrNoToken
	}
	return a.Verify(token)
}

// Verify parses a signed token into an Identity
func (a *Authenticator) Verify(tokenString string) (*Identity, error) {
	claims := &Claims{}
	_, err := a.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: subject %q is not a user id", ErrInvalidToken, claims.Subject)
	}

	return &Identity{
		User:  lockservice.User{ID: id, Name: claims.Name, Email: claims.Email},
		Roles: claims.Roles,
		Admin: a.IsAdmin(claims.Roles),
	}, nil
}

// IsAdmin reports whether any of roles grants the admin capability
func (a *Authenticator) IsAdmin(roles []string) bool {
	for _, r := range roles {
		if _, ok := a.adminRoles[r]; ok {
			return true
		}
	}
	return false
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
