// Package config builds the immutable runtime settings for the server
// daemon and the client. Settings are resolved once at startup from
// environment variables (LUMINUM_* prefix) and command-line flags, then
// passed by value to every component that needs them.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// ServerSettings holds everything the server daemon needs at runtime.
type ServerSettings struct {
	ConfigDBPath string `envconfig:"SERVER_CONFIG_DB" default:"/opt/Luminum/LuminumServer/config/server.conf.db"`
	KeyPath      string `envconfig:"KEY_PATH" default:"/opt/Luminum/LuminumServer/config/luminum.key"`
	PubKeyPath   string `envconfig:"PUBKEY_PATH" default:"/opt/Luminum/LuminumServer/config/luminum.pub"`
	CertPath     string `envconfig:"CERT_PATH" default:"/opt/Luminum/LuminumServer/config/luminum.crt"`
	IdentityPath string `envconfig:"IDENTITY_PATH" default:"/opt/Luminum/LuminumServer/config/luminum.pfx"`

	// Address and Port override the persisted IPADDR/PORT values when set.
	Address string `envconfig:"ADDRESS" default:""`
	Port    string `envconfig:"PORT" default:""`

	// Client registry database. The sqlite driver is the default; the
	// mysql driver connects through the local socket with the DBPASS
	// credential held (sealed) in the configuration store.
	ClientsDBDriver string `envconfig:"CLIENTS_DB_DRIVER" default:"sqlite"`
	ClientsDBPath   string `envconfig:"CLIENTS_DB_PATH" default:"/opt/Luminum/LuminumServer/data/clients.db"`
	MySQLSocket     string `envconfig:"MYSQL_SOCKET" default:"/var/run/mysqld/mysqld.sock"`
	MySQLUser       string `envconfig:"MYSQL_USER" default:"luminum"`
	MySQLDatabase   string `envconfig:"MYSQL_DATABASE" default:"CLIENTS"`

	// RunUser is the system account the daemon drops privileges to.
	RunUser string `envconfig:"RUN_USER" default:"luminum"`

	LogPath string `envconfig:"SERVER_LOG" default:""`
	Debug   bool   `ignored:"true"`
}

// ClientSettings holds everything the client needs at runtime.
type ClientSettings struct {
	ConfigDBPath   string `envconfig:"CLIENT_CONFIG_DB" default:"/opt/Luminum/LuminumClient/config/client.conf.db"`
	ServerCertPath string `envconfig:"SERVER_CERT" default:"/opt/Luminum/LuminumClient/config/server.crt"`

	// ControlAddr is the loopback address of the local control plane.
	ControlAddr string `envconfig:"CONTROL_ADDR" default:"127.0.0.1:10466"`

	LogPath string `envconfig:"CLIENT_LOG" default:""`
	Debug   bool   `ignored:"true"`
}

// LoadServer resolves server settings from the environment.
func LoadServer() (ServerSettings, error) {
	var s ServerSettings
	if err := envconfig.Process("LUMINUM", &s); err != nil {
		return ServerSettings{}, fmt.Errorf("process environment: %w", err)
	}
	return s, nil
}

// LoadClient resolves client settings from the environment.
func LoadClient() (ClientSettings, error) {
	var s ClientSettings
	if err := envconfig.Process("LUMINUM", &s); err != nil {
		return ClientSettings{}, fmt.Errorf("process environment: %w", err)
	}
	return s, nil
}
