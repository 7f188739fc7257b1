package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every verification failure a caller should
// treat as "reject the connection": bad signature, expired, malformed,
// unknown token.
var ErrInvalidToken = errors.New("invalid token")

// Verifier resolves a device token to a stable user id.
type Verifier interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}

// JWTVerifier validates HMAC-signed tokens minted by the account
// service. The user id comes from the email claim, falling back to sub.
type JWTVerifier struct {
	secret []byte
}

// NewJWT creates a verifier for tokens signed with the given secret.
func NewJWT(secret []byte) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &JWTVerifier{secret: secret}, nil
}

// Verify parses and validates the token signature and registered
// claims, then extracts the user identity.
func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrInvalidToken
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	if email, _ := claims["email"].(string); email != "" {
		// Emails are compared case-insensitively everywhere downstream.
		return strings.ToLower(email), nil
	}
	if sub, _ := claims["sub"].(string); sub != "" {
		return sub, nil
	}
	return "", fmt.Errorf("%w: no user claim", ErrInvalidToken)
}

// StaticVerifier resolves tokens from a fixed table. Used in tests and
// single-tenant deployments.
type StaticVerifier struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewStatic creates an empty static verifier.
func NewStatic() *StaticVerifier {
	return &StaticVerifier{tokens: make(map[string]string)}
}

// Add registers a token for a user.
func (v *StaticVerifier) Add(token, userID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens[token] = userID
}

// Verify looks the token up in the table.
func (v *StaticVerifier) Verify(_ context.Context, token string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	userID, ok := v.tokens[token]
	if !ok {
		return "", ErrInvalidToken
	}
	return userID, nil
}

// InsecureVerifier accepts any non-empty token as the user id itself.
// Development only; never wire it when AUTH_JWT_SECRET is set.
type InsecureVerifier struct{}

// Verify returns the token verbatim as the user id.
func (InsecureVerifier) Verify(_ context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrInvalidToken
	}
	return strings.ToLower(token), nil
}
