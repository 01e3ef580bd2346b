// Package auth issues and verifies the HS256 tokens that gate the REST and
// WebSocket surfaces. Bootstrap users come from AUTH_USERS; AUTH_MODE=none
// bypasses verification entirely for local development.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/parleyhq/parley/pkg/config"
)

// Role is an authorization level carried in the token.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleDeveloper Role = "developer"
	RoleOperator  Role = "operator"
	RoleUser      Role = "user"
	RoleAgent     Role = "agent"
	RoleGuest     Role = "guest"
)

// IsValid checks if the role is one of the closed set.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleDeveloper, RoleOperator, RoleUser, RoleAgent, RoleGuest:
		return true
	default:
		return false
	}
}

// Identity is the authenticated principal attached to a request or session.
type Identity struct {
	Sub  string
	Role Role
}

var (
	// ErrInvalidToken covers malformed, expired, or badly signed tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidCredentials is returned by Login for unknown user/password pairs.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Claims is the token payload: {sub, role, exp}.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type bootstrapUser struct {
	password string
	role     Role
}

// Service verifies handshake tokens and authenticates bootstrap users.
type Service struct {
	mode     string
	secret   []byte
	tokenTTL time.Duration
	users    map[string]bootstrapUser
}

// NewService builds the auth service from environment settings. AUTH_USERS
// entries are "user:pass:role" separated by ";"; malformed entries fail
// startup rather than silently dropping a user.
func NewService(settings config.Settings) (*Service, error) {
	s := &Service{
		mode:     settings.AuthMode,
		secret:   []byte(settings.AuthSecret),
		tokenTTL: 24 * time.Hour,
		users:    make(map[string]bootstrapUser),
	}

	if settings.AuthUsers != "" {
		for _, entry := range strings.Split(settings.AuthUsers, ";") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			parts := strings.SplitN(entry, ":", 3)
			if len(parts) != 3 {
				return nil, fmt.Errorf("malformed AUTH_USERS entry %q: want user:pass:role", entry)
			}
			role := Role(parts[2])
			if !role.IsValid() {
				return nil, fmt.Errorf("unknown role %q in AUTH_USERS entry for user %q", parts[2], parts[0])
			}
			s.users[parts[0]] = bootstrapUser{password: parts[1], role: role}
		}
	}

	return s, nil
}

// Enabled reports whether token verification is enforced.
func (s *Service) Enabled() bool {
	return s.mode == config.AuthModeJWT
}

// Login checks a bootstrap user's credentials and issues a signed token.
func (s *Service) Login(username, password string) (string, error) {
	u, ok := s.users[username]
	if !ok {
		// Constant-time compare against a dummy to keep unknown-user timing
		// close to wrong-password timing.
		subtle.ConstantTimeCompare([]byte(password), []byte("-"))
		return "", ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(u.password)) != 1 {
		return "", ErrInvalidCredentials
	}
	return s.Generate(Identity{Sub: username, Role: u.role})
}

// Generate issues a signed token for the identity.
func (s *Service) Generate(id Identity) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("auth secret not configured")
	}
	claims := Claims{
		Role: string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Sub,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses and validates a token. With AUTH_MODE=none every request is
// admitted as an anonymous admin, which keeps local development frictionless.
func (s *Service) Verify(token string) (Identity, error) {
	if !s.Enabled() {
		return Identity{Sub: "anonymous", Role: RoleAdmin}, nil
	}
	if token == "" {
		return Identity{}, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, ErrInvalidToken
	}
	role := Role(claims.Role)
	if !role.IsValid() {
		return Identity{}, ErrInvalidToken
	}
	return Identity{Sub: claims.Subject, Role: role}, nil
}

// RoleAllowed reports whether a role passes an allowed_roles gate.
// An empty gate admits everyone.
func RoleAllowed(allowed []string, role Role) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if Role(a) == role {
			return true
		}
	}
	return false
}
