package auth

import (
	"fmt"
	"time"

	"mindleap-provisioning/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

const (
	PermissionStudentsWrite  = "students:write"
	PermissionStudentsDelete = "students:delete"
	PermissionRegistryWrite  = "registry:write"
	PermissionUploads        = "uploads:run"

	RoleSuperAdmin = "superadmin"
)

// OperatorClaims identify an admin-console operator. States restricts the
// operator to those state codes; empty means every state.
type OperatorClaims struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	States      []string `json:"states,omitempty"`
	jwt.RegisteredClaims
}

func (c *OperatorClaims) Can(permission string) bool {
	if c.Role == RoleSuperAdmin {
		return true
	}
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

func (c *OperatorClaims) CanAccessState(code string) bool {
	if len(c.States) == 0 {
		return true
	}
	for _, s := range c.States {
		if s == code {
			return true
		}
	}
	return false
}

type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenManager(secret, issuer string, ttl time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

func (m *TokenManager) Issue(operator, role string, permissions, states []string) (string, error) {
	if len(m.secret) == 0 {
		return "", fmt.Errorf("jwt secret is not configured")
	}
	now := m.now()
	claims := OperatorClaims{
		Role:        role,
		Permissions: permissions,
		States:      states,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *TokenManager) Parse(tokenString string) (*OperatorClaims, error) {
	if len(m.secret) == 0 {
		return nil, fmt.Errorf("jwt secret is not configured")
	}
	claims := &OperatorClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrPermissionDenied, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.ErrPermissionDenied
	}
	return claims, nil
}
