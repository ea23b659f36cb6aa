// Package store is the persistent KEY/VALUE configuration store backing
// both the server daemon and the client. It is a single sqlite table;
// schema creation is idempotent.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ccurzio/luminum/internal/fault"
)

// Well-known configuration keys.
const (
	KeyServerKey  = "SVRKEY" // vault master secret (stored in the clear; protected by file permissions)
	KeyAddress    = "IPADDR" // server bind address
	KeyPort       = "PORT"   // server bind port
	KeyEnrollKey  = "EKEY"   // shared enrollment secret
	KeyPassphrase = "PKPASS" // private key passphrase, sealed by the vault
	KeyDBPass     = "DBPASS" // client registry database password, sealed by the vault

	KeyServerHost = "SVRHOST" // client: enrollment target host
	KeyServerPort = "SVRPORT" // client: enrollment target port
	KeyUID        = "UID"     // client: assigned unique identifier
)

// Setting is one row of the CONFIG table.
type Setting struct {
	Key   string `gorm:"column:KEY;primaryKey"`
	Value string `gorm:"column:VALUE;not null"`
}

// TableName keeps the on-disk schema compatible with earlier releases.
func (Setting) TableName() string { return "CONFIG" }

// Store wraps the configuration database. It is safe for concurrent use.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if necessary) the configuration database at path
// and ensures the CONFIG table exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create config directory: %v: %w", err, fault.ErrIO)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open configuration database %s: %w", path, err)
	}

	if err := db.AutoMigrate(&Setting{}); err != nil {
		return nil, fmt.Errorf("migrate CONFIG table: %w", err)
	}

	return &Store{db: db}, nil
}

// Exists reports whether a configuration database is already present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Get returns the value for key. A missing key is a fault.ErrConfig.
func (s *Store) Get(key string) (string, error) {
	var row Setting
	if err := s.db.Where("\"KEY\" = ?", key).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("missing configuration key %s: %w", key, fault.ErrConfig)
		}
		return "", fmt.Errorf("read configuration key %s: %w", key, err)
	}
	return row.Value, nil
}

// Lookup returns the value for key and whether it was present. Storage
// errors are returned as-is; a missing key is not an error.
func (s *Store) Lookup(key string) (string, bool, error) {
	var row Setting
	if err := s.db.Where("\"KEY\" = ?", key).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read configuration key %s: %w", key, err)
	}
	return row.Value, true, nil
}

// Set inserts or replaces the value for key.
func (s *Store) Set(key, value string) error {
	err := s.db.Where("\"KEY\" = ?", key).
		Assign(Setting{Value: value}).
		FirstOrCreate(&Setting{Key: key}).Error
	if err != nil {
		return fmt.Errorf("write configuration key %s: %w", key, err)
	}
	return nil
}

// All returns the full configuration map.
func (s *Store) All() (map[string]string, error) {
	var rows []Setting
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
