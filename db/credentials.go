package db

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// CredentialScheme decides how account secrets are stored and checked.
// The store never compares secrets itself.
type CredentialScheme interface {
	// Fingerprint returns the representation persisted for a secret.
	Fingerprint(secret string) (string, error)
	// Verify reports whether a presented secret matches the stored one.
	Verify(stored, presented string) bool
}

// PlainScheme stores secrets verbatim and compares by exact equality,
// case-sensitively. This matches deployments where an external admin
// tool reads the stored secret directly.
type PlainScheme struct{}

func (PlainScheme) Fingerprint(secret string) (string, error) {
	return secret, nil
}

func (PlainScheme) Verify(stored, presented string) bool {
	return stored == presented
}

// BcryptScheme stores bcrypt hashes instead of raw secrets.
type BcryptScheme struct{}

func (BcryptScheme) Fingerprint(secret string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func (BcryptScheme) Verify(stored, presented string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(presented)) == nil
}

// SchemeByName maps a config value to a scheme.
func SchemeByName(name string) (CredentialScheme, error) {
	switch name {
	case "", "plain":
		return PlainScheme{}, nil
	case "bcrypt":
		return BcryptScheme{}, nil
	default:
		return nil, fmt.Errorf("unknown credential scheme %q", name)
	}
}
