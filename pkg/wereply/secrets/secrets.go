// Package secrets stores recovered credentials in the operating system's
// native keyring (Linux: Secret Service/GNOME Keyring, macOS: Keychain,
// Windows: Credential Manager).
//
// Two secrets live here: the chat-database encryption key recovered by the
// keyrecovery engine, and the optional API key for outbound integrations.
// Both survive restarts so expensive recovery runs only once per
// installation.
package secrets

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

const (
	// DefaultService is the service name used in the OS keyring.
	DefaultService = "wereply"

	// NameDatabaseKey is the entry holding the hex-encoded database key.
	NameDatabaseKey = "db_key_hex"

	// NameAPIKey is the entry holding the integration API key.
	NameAPIKey = "api_key"
)

// Database key lengths the cipher layer accepts: a raw 32-byte key or a
// 16-byte passphrase run through the KDF.
const (
	DatabaseKeySize      = 32
	DatabaseKeyShortSize = 16
)

// ErrNotFound reports a missing keyring entry.
var ErrNotFound = errors.New("secret not found")

// Store reads and writes named secrets under one keyring service.
type Store struct {
	service string
	logger  *slog.Logger
}

// NewStore builds a store. An empty service selects DefaultService; a nil
// logger disables logging.
func NewStore(service string, logger *slog.Logger) *Store {
	if service == "" {
		service = DefaultService
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{service: service, logger: logger}
}

// Set saves a secret.
func (s *Store) Set(name, value string) error {
	if err := keyring.Set(s.service, name, value); err != nil {
		return fmt.Errorf("keyring set %s: %w", name, err)
	}
	return nil
}

// Get retrieves a secret. A missing entry returns ErrNotFound.
func (s *Store) Get(name string) (string, error) {
	val, err := keyring.Get(s.service, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("keyring get %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("keyring get %s: %w", name, err)
	}
	return val, nil
}

// Delete removes a secret. Deleting a missing entry is not an error.
func (s *Store) Delete(name string) error {
	err := keyring.Delete(s.service, name)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete %s: %w", name, err)
	}
	return nil
}

// Available checks if the OS keyring is accessible.
func (s *Store) Available() bool {
	// Try a write+delete cycle with a test key.
	testKey := "__wereply_test__"
	if err := keyring.Set(s.service, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(s.service, testKey)
	return true
}

// SaveDatabaseKey persists a recovered raw database key, hex encoded.
func (s *Store) SaveDatabaseKey(key []byte) error {
	if len(key) != DatabaseKeySize && len(key) != DatabaseKeyShortSize {
		return fmt.Errorf("database key is %d bytes, want %d or %d", len(key), DatabaseKeySize, DatabaseKeyShortSize)
	}
	if err := s.Set(NameDatabaseKey, hex.EncodeToString(key)); err != nil {
		return err
	}
	s.logger.Debug("database key stored in OS keyring", "service", s.service)
	return nil
}

// LoadDatabaseKey returns the persisted raw database key. A malformed
// entry is treated as missing: the recovery engine then re-derives and
// overwrites it.
func (s *Store) LoadDatabaseKey() ([]byte, error) {
	val, err := s.Get(NameDatabaseKey)
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(val)
	if err != nil || (len(key) != DatabaseKeySize && len(key) != DatabaseKeyShortSize) {
		s.logger.Warn("persisted database key is malformed, ignoring it")
		return nil, fmt.Errorf("persisted database key malformed: %w", ErrNotFound)
	}
	return key, nil
}
