package services

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/foxxcyber/solvcaptcha/internal/config"
)

type fakeStore struct {
	keys map[string]string
	err  error
}

func (f *fakeStore) GetSolverCredentials(ctx context.Context, encryptionKey []byte) (map[string]string, error) {
	if len(encryptionKey) != 32 {
		return nil, errors.New("bad key length")
	}
	return f.keys, f.err
}

func TestCredentialServiceResolve(t *testing.T) {
	cfg := &config.Config{
		JWTSecret:         "secret",
		TwoCaptchaAPIKey:  "env-two",
		AntiCaptchaAPIKey: "env-anti",
	}

	svc, err := NewCredentialService(&fakeStore{keys: map[string]string{
		config.ServiceAntiCaptcha: "db-anti",
		config.ServiceCapMonster:  "db-cap",
	}}, cfg)
	if err != nil {
		t.Fatalf("NewCredentialService() error = %v", err)
	}

	creds, err := svc.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := map[string]string{
		config.ServiceTwoCaptcha:  "env-two",
		config.ServiceAntiCaptcha: "db-anti",
		config.ServiceCapMonster:  "db-cap",
	}
	for service, key := range want {
		if got, _ := creds.Get(service); got != key {
			t.Errorf("%s = %q, want %q", service, got, key)
		}
	}
}

func TestCredentialServiceStoreFailure(t *testing.T) {
	cfg := &config.Config{JWTSecret: "secret", CapMonsterAPIKey: "env-cap"}
	svc, err := NewCredentialService(&fakeStore{err: errors.New("db down")}, cfg)
	if err != nil {
		t.Fatalf("NewCredentialService() error = %v", err)
	}
	creds, err := svc.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if creds.Len() != 1 {
		t.Fatalf("Len = %d, want env key only", creds.Len())
	}
}

func TestCredentialServiceRejectsMalformed(t *testing.T) {
	cfg := &config.Config{JWTSecret: "secret"}
	svc, err := NewCredentialService(&fakeStore{keys: map[string]string{"deathbycaptcha": "x"}}, cfg)
	if err != nil {
		t.Fatalf("NewCredentialService() error = %v", err)
	}
	_, err = svc.Resolve(context.Background())
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}

	if _, err := NewCredentialService(nil, &config.Config{TwoCaptchaAPIKey: "bad key"}); err == nil {
		t.Fatal("expected malformed env key to be rejected")
	}
}

func TestDeriveEncryptionKey(t *testing.T) {
	a := DeriveEncryptionKey("secret")
	if len(a) != 32 {
		t.Fatalf("key length = %d, want 32", len(a))
	}
	if !bytes.Equal(a, DeriveEncryptionKey("secret")) {
		t.Fatal("derivation is not deterministic")
	}
	if bytes.Equal(a, DeriveEncryptionKey("other")) {
		t.Fatal("different secrets share a key")
	}
}
