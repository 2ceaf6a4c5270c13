// Package auth is the identity layer: token claims, their validation and the
// Principal the rest of the engine sees. It is HTTP-free; the api package
// owns the middleware that calls into it.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/baton/pkg/orchestra"
)

// Claims are the JWT claims the engine expects. TenantID is mandatory;
// Roles and Permissions feed the execution context the conductor dispatches
// with.
type Claims struct {
	jwt.RegisteredClaims
	TenantID    string   `json:"tenant_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// ExecutionContext projects the claims into the engine's per-request
// context. Trace and orchestration ids belong to the transport layer, not
// the token, and stay empty here.
func (c *Claims) ExecutionContext() *orchestra.ExecutionContext {
	return &orchestra.ExecutionContext{
		TenantID:    c.TenantID,
		UserID:      c.Subject,
		Roles:       c.Roles,
		Permissions: c.Permissions,
	}
}

// JWTValidator validates tokens and extracts claims.
type JWTValidator struct {
	KeySet KeySet
}

// NewJWTValidator creates a validator over the given KeySet.
func NewJWTValidator(ks KeySet) *JWTValidator {
	if ks == nil {
		return nil
	}
	return &JWTValidator{KeySet: ks}
}

// Validate parses and validates a token string, returning its claims.
func (v *JWTValidator) Validate(tokenStr string) (*Claims, error) {
	if v == nil || v.KeySet == nil {
		return nil, fmt.Errorf("validator uninitialized")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, v.KeySet.KeyFunc())
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// PrincipalFromClaims builds the Principal a validated token represents.
// Subject and tenant binding are required.
func PrincipalFromClaims(claims *Claims) (*BasePrincipal, error) {
	if claims.Subject == "" {
		return nil, fmt.Errorf("token subject is required")
	}
	if claims.TenantID == "" {
		return nil, fmt.Errorf("token tenant binding is required")
	}
	return &BasePrincipal{
		ID:          claims.Subject,
		TenantID:    claims.TenantID,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
	}, nil
}
