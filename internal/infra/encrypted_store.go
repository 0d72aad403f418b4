package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"
)

// NewEncryptedStore opens (or creates) a SQLCipher encrypted state database
// at dbPath. The key is used as the raw SQLCipher key via PRAGMA key.
func NewEncryptedStore(ctx context.Context, dbPath string, key []byte) (*SQLStore, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	keyHex := hex.EncodeToString(key)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096&_busy_timeout=5000", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}
	// One writer; the router serializes access anyway
	db.SetMaxOpenConns(1)

	return newSQLStore(ctx, db, dbPath)
}

// IsEncrypted reports whether the file at dbPath is not a plaintext SQLite
// database (plaintext files start with "SQLite format 3").
func IsEncrypted(dbPath string) (bool, error) {
	f, err := os.Open(dbPath)
	if err != nil {
		return false, err
	}
	defer f.Close()

	header := make([]byte, 16)
	n, err := f.Read(header)
	if err != nil || n < 16 {
		return false, fmt.Errorf("failed to read database header: %w", err)
	}
	return string(header[:15]) != "SQLite format 3", nil
}
