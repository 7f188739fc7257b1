package catalog

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidKey is returned for any failed app authentication. Unknown
// packages and wrong keys produce the same error so probing the
// catalog reveals nothing.
var ErrInvalidKey = errors.New("invalid api key")

// Authenticator verifies app API keys against the catalog.
type Authenticator struct {
	store Store
}

// NewAuthenticator creates an authenticator backed by the given store.
func NewAuthenticator(store Store) *Authenticator {
	return &Authenticator{store: store}
}

// Authenticate checks the API key for a package and returns its
// catalog entry on success.
func (a *Authenticator) Authenticate(ctx context.Context, packageName, apiKey string) (*App, error) {
	if packageName == "" || apiKey == "" {
		return nil, ErrInvalidKey
	}

	app, err := a.store.Get(ctx, packageName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("catalog lookup for %s: %w", packageName, err)
	}
	if app.APIKeyHash == "" {
		return nil, ErrInvalidKey
	}

	if err := bcrypt.CompareHashAndPassword([]byte(app.APIKeyHash), []byte(apiKey)); err != nil {
		return nil, ErrInvalidKey
	}
	return app, nil
}

// HashKey produces the bcrypt hash stored in manifests. Used by
// provisioning tooling and tests.
func HashKey(apiKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}
