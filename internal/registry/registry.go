// Package registry persists the server's view of enrolled clients. The
// default backend is a local sqlite file; production deployments point it
// at the CLIENTS MySQL database over the local socket, authenticating with
// the vault-sealed DBPASS credential.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Client is one enrolled endpoint.
type Client struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	UID          string    `gorm:"uniqueIndex;not null;size:64"`
	Hostname     string    `gorm:"not null;index"`
	OSPlat       string    `gorm:""`
	OSVer        string    `gorm:""`
	IPv4         string    `gorm:""`
	IPv6         string    `gorm:""`
	RegisteredAt time.Time `gorm:"autoCreateTime"`
	LastSeen     time.Time `gorm:"autoUpdateTime"`
}

// Registry wraps the client database. Safe for concurrent use.
type Registry struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if necessary) a sqlite-backed registry.
func OpenSQLite(path string) (*Registry, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create registry directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open client registry %s: %w", path, err)
	}
	return migrate(db)
}

// OpenMySQL connects to the CLIENTS database over the local unix socket.
func OpenMySQL(socket, user, password, database string) (*Registry, error) {
	dsn := fmt.Sprintf("%s:%s@unix(%s)/%s?parseTime=true", user, password, socket, database)
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open client registry database %s: %w", database, err)
	}
	return migrate(db)
}

func migrate(db *gorm.DB) (*Registry, error) {
	if err := db.AutoMigrate(&Client{}); err != nil {
		return nil, fmt.Errorf("migrate client registry: %w", err)
	}
	return &Registry{db: db}, nil
}

// ByUID returns the client with the given UID, or nil if none exists.
func (r *Registry) ByUID(uid string) (*Client, error) {
	var c Client
	if err := r.db.Where("uid = ?", uid).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("look up client %s: %w", uid, err)
	}
	return &c, nil
}

// ByHostname returns the client with the given hostname, or nil if none
// exists. Hostnames are unique per tenant in this design; registration
// replays are resolved through this lookup.
func (r *Registry) ByHostname(hostname string) (*Client, error) {
	var c Client
	if err := r.db.Where("hostname = ?", hostname).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("look up client %q: %w", hostname, err)
	}
	return &c, nil
}

// Create persists a new client record.
func (r *Registry) Create(c *Client) error {
	if err := r.db.Create(c).Error; err != nil {
		return fmt.Errorf("create client record: %w", err)
	}
	return nil
}

// Touch updates the client's last-seen timestamp.
func (r *Registry) Touch(uid string) error {
	return r.db.Model(&Client{}).Where("uid = ?", uid).
		Update("last_seen", time.Now()).Error
}

// Count returns the number of enrolled clients.
func (r *Registry) Count() (int64, error) {
	var n int64
	err := r.db.Model(&Client{}).Count(&n).Error
	return n, err
}

// Close releases the underlying database handle.
func (r *Registry) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
