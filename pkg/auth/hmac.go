package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// HMACKeySet signs and verifies with a shared secret, for deployments where
// callers mint their own tokens against the same secret.
type HMACKeySet struct {
	secret []byte
}

// NewHMACKeySet wraps the shared secret. Secrets shorter than 32 bytes are
// rejected.
func NewHMACKeySet(secret []byte) (*HMACKeySet, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("auth: hmac secret must be at least 32 bytes")
	}
	return &HMACKeySet{secret: secret}, nil
}

// Sign issues a token under HS256.
func (ks *HMACKeySet) Sign(ctx context.Context, claims jwt.Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ks.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// KeyFunc verifies HS256 tokens against the shared secret.
func (ks *HMACKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ks.secret, nil
	}
}
