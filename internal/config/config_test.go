package config

import "testing"

func TestLoadServerDefaults(t *testing.T) {
	s, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
	if s.ConfigDBPath != "/opt/Luminum/LuminumServer/config/server.conf.db" {
		t.Errorf("ConfigDBPath = %q", s.ConfigDBPath)
	}
	if s.ClientsDBDriver != "sqlite" {
		t.Errorf("ClientsDBDriver = %q, want sqlite", s.ClientsDBDriver)
	}
	if s.RunUser != "luminum" {
		t.Errorf("RunUser = %q, want luminum", s.RunUser)
	}
}

func TestLoadServerEnvironmentOverride(t *testing.T) {
	t.Setenv("LUMINUM_SERVER_CONFIG_DB", "/tmp/test/server.conf.db")
	t.Setenv("LUMINUM_PORT", "10500")
	t.Setenv("LUMINUM_CLIENTS_DB_DRIVER", "mysql")

	s, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
	if s.ConfigDBPath != "/tmp/test/server.conf.db" {
		t.Errorf("ConfigDBPath = %q", s.ConfigDBPath)
	}
	if s.Port != "10500" {
		t.Errorf("Port = %q, want 10500", s.Port)
	}
	if s.ClientsDBDriver != "mysql" {
		t.Errorf("ClientsDBDriver = %q, want mysql", s.ClientsDBDriver)
	}
}

func TestLoadClientDefaults(t *testing.T) {
	s, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient() error = %v", err)
	}
	if s.ConfigDBPath != "/opt/Luminum/LuminumClient/config/client.conf.db" {
		t.Errorf("ConfigDBPath = %q", s.ConfigDBPath)
	}
	if s.ControlAddr != "127.0.0.1:10466" {
		t.Errorf("ControlAddr = %q", s.ControlAddr)
	}
}

func TestLoadClientEnvironmentOverride(t *testing.T) {
	t.Setenv("LUMINUM_CONTROL_ADDR", "127.0.0.1:4199")

	s, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient() error = %v", err)
	}
	if s.ControlAddr != "127.0.0.1:4199" {
		t.Errorf("ControlAddr = %q, want 127.0.0.1:4199", s.ControlAddr)
	}
}
