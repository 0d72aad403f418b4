package infra

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
)

const (
	keyFileName = "store.key"
	keySize     = 32 // 256-bit SQLCipher key

	// KeyEnvVar holds a hex encoded store key and takes precedence over the key file.
	KeyEnvVar = "AIMON_STORE_KEY"
)

// ErrReadOnlyKey is returned when storing into a provider that cannot persist keys.
var ErrReadOnlyKey = errors.New("key provider is read-only")

// FileKeyProvider implements domain.KeyProvider using a local file.
// The key is stored base64 encoded with 0600 permissions.
type FileKeyProvider struct {
	keyPath string
}

// NewFileKeyProvider creates a FileKeyProvider for the given data directory.
func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return &FileKeyProvider{
		keyPath: filepath.Join(dataDir, keyFileName),
	}
}

// GetKey reads the encryption key from the key file.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	encoded, err := os.ReadFile(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(encoded)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	return key, nil
}

// StoreKey writes the encryption key to the key file with restricted permissions.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	if len(key) != keySize {
		return fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	if err := os.MkdirAll(filepath.Dir(p.keyPath), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(p.keyPath, []byte(encoded), 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// KeyExists checks if the key file exists.
func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.keyPath)
	return err == nil
}

// EnvKeyProvider implements domain.KeyProvider from a hex encoded environment variable.
type EnvKeyProvider struct {
	name string
}

// NewEnvKeyProvider reads the key from the named variable.
func NewEnvKeyProvider(name string) *EnvKeyProvider {
	return &EnvKeyProvider{name: name}
}

// GetKey decodes the variable.
func (p *EnvKeyProvider) GetKey() ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(os.Getenv(p.name)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", p.name, err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key size in %s: got %d, want %d", p.name, len(key), keySize)
	}
	return key, nil
}

// StoreKey always fails; the environment is managed outside the process.
func (p *EnvKeyProvider) StoreKey([]byte) error {
	return fmt.Errorf("%s: %w", p.name, ErrReadOnlyKey)
}

// KeyExists reports whether the variable is set.
func (p *EnvKeyProvider) KeyExists() bool {
	return os.Getenv(p.name) != ""
}

// ResolveKeyProvider returns the environment provider when KeyEnvVar is set,
// otherwise the key file in dataDir.
func ResolveKeyProvider(dataDir string) domain.KeyProvider {
	if env := NewEnvKeyProvider(KeyEnvVar); env.KeyExists() {
		return env
	}
	return NewFileKeyProvider(dataDir)
}

// GenerateKey creates a new random 256-bit encryption key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}

// EnsureKey generates and stores a key if one doesn't exist.
// Returns the key (existing or newly generated).
func EnsureKey(provider domain.KeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Ensure providers implement domain.KeyProvider.
var (
	_ domain.KeyProvider = (*FileKeyProvider)(nil)
	_ domain.KeyProvider = (*EnvKeyProvider)(nil)
)
