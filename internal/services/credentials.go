package services

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"

	"golang.org/x/crypto/pbkdf2"

	"github.com/foxxcyber/solvcaptcha/internal/config"
)

const keyIterations = 100000

// keySalt must not change once credentials have been stored
var keySalt = []byte("solvcaptcha-settings-v1")

// DeriveEncryptionKey derives the AES-256 key protecting stored solver
// credentials from the JWT secret
func DeriveEncryptionKey(secret string) []byte {
	return pbkdf2.Key([]byte(secret), keySalt, keyIterations, 32, sha256.New)
}

// CredentialStore reads solver API keys kept in system settings
type CredentialStore interface {
	GetSolverCredentials(ctx context.Context, encryptionKey []byte) (map[string]string, error)
}

// CredentialService resolves the credential map for a solve: keys stored by
// an admin take precedence over the environment
type CredentialService struct {
	store         CredentialStore
	env           config.Credentials
	encryptionKey []byte
}

// NewCredentialService validates the environment keys up front
func NewCredentialService(store CredentialStore, cfg *config.Config) (*CredentialService, error) {
	env, err := cfg.EnvCredentials()
	if err != nil {
		return nil, err
	}
	return &CredentialService{
		store:         store,
		env:           env,
		encryptionKey: DeriveEncryptionKey(cfg.JWTSecret),
	}, nil
}

// Resolve returns the immutable credential map to hand to one solve.
// A store failure falls back to the environment keys.
func (s *CredentialService) Resolve(ctx context.Context) (config.Credentials, error) {
	if s.store == nil {
		return s.env, nil
	}
	raw, err := s.store.GetSolverCredentials(ctx, s.encryptionKey)
	if err != nil {
		log.Printf("Warning: failed to load stored solver credentials: %v", err)
		return s.env, nil
	}
	stored, err := config.NewCredentials(raw)
	if err != nil {
		return config.Credentials{}, fmt.Errorf("stored solver credentials are invalid: %w", err)
	}
	return s.env.Merge(stored), nil
}

// EncryptionKey returns the key used for stored credentials
func (s *CredentialService) EncryptionKey() []byte {
	return s.encryptionKey
}
