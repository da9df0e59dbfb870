package database

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// SystemSetting represents a configuration setting stored in the database
type SystemSetting struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	ValueType   string    `json:"value_type"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	IsSensitive bool      `json:"is_sensitive"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const (
	// SolverCategory groups the external solver API keys
	SolverCategory = "solvers"

	solverKeyPrefix = "solver_"
	solverKeySuffix = "_key"
	maskedValue     = "••••••••"
)

var ErrSettingNotFound = errors.New("setting not found")

// SolverSettingKey returns the settings key holding a service's API key
func SolverSettingKey(service string) string {
	return solverKeyPrefix + service + solverKeySuffix
}

// solverService is the inverse of SolverSettingKey
func solverService(key string) (string, bool) {
	if !strings.HasPrefix(key, solverKeyPrefix) || !strings.HasSuffix(key, solverKeySuffix) {
		return "", false
	}
	service := strings.TrimSuffix(strings.TrimPrefix(key, solverKeyPrefix), solverKeySuffix)
	return service, service != ""
}

// encrypt encrypts a string value with AES-GCM
func encrypt(plaintext string, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a value produced by encrypt
func decrypt(ciphertext string, key []byte) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// GetSetting retrieves a single setting by key, decrypting it when needed
func (db *DB) GetSetting(ctx context.Context, key string, encryptionKey []byte) (*SystemSetting, error) {
	var s SystemSetting
	err := db.Pool.QueryRow(ctx, `
		SELECT key, value, value_type, category, description, is_sensitive, created_at, updated_at
		FROM system_settings
		WHERE key = $1
	`, key).Scan(&s.Key, &s.Value, &s.ValueType, &s.Category, &s.Description, &s.IsSensitive, &s.CreatedAt, &s.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSettingNotFound
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}

	if s.ValueType == "encrypted" && s.Value != "" && encryptionKey != nil {
		decrypted, err := decrypt(s.Value, encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt setting %s: %w", key, err)
		}
		s.Value = decrypted
	}

	return &s, nil
}

// GetSettingsByCategory retrieves all settings in a category with sensitive
// values masked
func (db *DB) GetSettingsByCategory(ctx context.Context, category string) ([]SystemSetting, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT key, value, value_type, category, description, is_sensitive, created_at, updated_at
		FROM system_settings
		WHERE category = $1
		ORDER BY key
	`, category)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings by category: %w", err)
	}
	defer rows.Close()

	var settings []SystemSetting
	for rows.Next() {
		var s SystemSetting
		if err := rows.Scan(&s.Key, &s.Value, &s.ValueType, &s.Category, &s.Description, &s.IsSensitive, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		if s.IsSensitive && s.Value != "" {
			s.Value = maskedValue
		}
		settings = append(settings, s)
	}

	return settings, rows.Err()
}

// SetSettingWithMeta creates or updates a setting with full metadata
func (db *DB) SetSettingWithMeta(ctx context.Context, setting SystemSetting, encryptionKey []byte) error {
	finalValue := setting.Value
	if setting.ValueType == "encrypted" && setting.Value != "" {
		if encryptionKey == nil {
			return errors.New("encryption key required for encrypted setting")
		}
		encrypted, err := encrypt(setting.Value, encryptionKey)
		if err != nil {
			return fmt.Errorf("failed to encrypt value: %w", err)
		}
		finalValue = encrypted
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO system_settings (key, value, value_type, category, description, is_sensitive)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			value = $2,
			value_type = $3,
			category = $4,
			description = $5,
			is_sensitive = $6,
			updated_at = NOW()
	`, setting.Key, finalValue, setting.ValueType, setting.Category, setting.Description, setting.IsSensitive)

	return err
}

// GetSolverCredentials returns the decrypted solver API keys keyed by
// service identifier. Services with an empty stored key are omitted.
func (db *DB) GetSolverCredentials(ctx context.Context, encryptionKey []byte) (map[string]string, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT key, value, value_type
		FROM system_settings
		WHERE category = $1
	`, SolverCategory)
	if err != nil {
		return nil, fmt.Errorf("failed to get solver credentials: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]string)
	for rows.Next() {
		var key, value, valueType string
		if err := rows.Scan(&key, &value, &valueType); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		service, ok := solverService(key)
		if !ok || value == "" {
			continue
		}
		if valueType == "encrypted" {
			if value, err = decrypt(value, encryptionKey); err != nil {
				return nil, fmt.Errorf("failed to decrypt %s: %w", key, err)
			}
		}
		keys[service] = value
	}

	return keys, rows.Err()
}

// SetSolverCredential stores an encrypted API key for service.
// Submitting the masked placeholder leaves the stored key unchanged.
func (db *DB) SetSolverCredential(ctx context.Context, service, apiKey string, encryptionKey []byte) error {
	if apiKey == maskedValue {
		return nil
	}
	return db.SetSettingWithMeta(ctx, SystemSetting{
		Key:         SolverSettingKey(service),
		Value:       apiKey,
		ValueType:   "encrypted",
		Category:    SolverCategory,
		Description: service + " API key",
		IsSensitive: true,
	}, encryptionKey)
}

// DeleteSolverCredential clears the stored key for service
func (db *DB) DeleteSolverCredential(ctx context.Context, service string) error {
	result, err := db.Pool.Exec(ctx, `
		UPDATE system_settings SET value = '', updated_at = NOW() WHERE key = $1
	`, SolverSettingKey(service))
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrSettingNotFound
	}
	return nil
}
