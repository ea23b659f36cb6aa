package setup

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ccurzio/luminum/internal/config"
	"github.com/ccurzio/luminum/internal/identity"
	"github.com/ccurzio/luminum/internal/store"
	"github.com/ccurzio/luminum/internal/vault"
)

func testServerSettings(t *testing.T) config.ServerSettings {
	t.Helper()
	dir := t.TempDir()
	return config.ServerSettings{
		ConfigDBPath: filepath.Join(dir, "server.conf.db"),
		KeyPath:      filepath.Join(dir, "luminum.key"),
		PubKeyPath:   filepath.Join(dir, "luminum.pub"),
		CertPath:     filepath.Join(dir, "luminum.crt"),
		IdentityPath: filepath.Join(dir, "luminum.pfx"),
	}
}

func fullPreseed() *Preseed {
	p := &Preseed{
		Address:    "10.20.30.40",
		Port:       "10465",
		Passphrase: "preseed passphrase",
	}
	p.Subject.Country = "US"
	p.Subject.State = "Maryland"
	p.Subject.Locality = "Baltimore"
	p.Subject.Organization = "Luminum"
	p.Subject.CommonName = "10.20.30.40"
	return p
}

func scriptedPrompter(input string) *Prompter {
	return NewPrompter(strings.NewReader(input), io.Discard)
}

func TestServerSetupPreseeded(t *testing.T) {
	settings := testServerSettings(t)
	s := &ServerSetup{
		Settings: settings,
		Prompt:   scriptedPrompter(""),
		Preseed:  fullPreseed(),
	}
	if err := s.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, path := range []string{settings.KeyPath, settings.PubKeyPath, settings.CertPath, settings.IdentityPath} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("artifact %s missing after setup: %v", path, err)
		}
	}

	st, err := store.Open(settings.ConfigDBPath)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer st.Close()

	address, err := st.Get(store.KeyAddress)
	if err != nil || address != "10.20.30.40" {
		t.Errorf("stored address = %q (err %v), want 10.20.30.40", address, err)
	}
	port, err := st.Get(store.KeyPort)
	if err != nil || port != "10465" {
		t.Errorf("stored port = %q (err %v), want 10465", port, err)
	}

	serverKey, err := st.Get(store.KeyServerKey)
	if err != nil {
		t.Fatalf("stored server key: %v", err)
	}
	if len(serverKey) != vault.ServerKeyLength {
		t.Errorf("server key length = %d, want %d", len(serverKey), vault.ServerKeyLength)
	}

	// The vault derived from the stored server key must open both sealed
	// secrets.
	v, err := vault.Derive(serverKey)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	sealedPass, err := st.Get(store.KeyPassphrase)
	if err != nil {
		t.Fatalf("stored passphrase: %v", err)
	}
	passphrase, err := v.Open(sealedPass)
	if err != nil {
		t.Fatalf("opening sealed passphrase: %v", err)
	}
	if passphrase != "preseed passphrase" {
		t.Errorf("unsealed passphrase = %q", passphrase)
	}
	sealedDBPass, err := st.Get(store.KeyDBPass)
	if err != nil {
		t.Fatalf("stored db password: %v", err)
	}
	dbPass, err := v.Open(sealedDBPass)
	if err != nil {
		t.Fatalf("opening sealed db password: %v", err)
	}
	if len(dbPass) != dbPasswordLength {
		t.Errorf("db password length = %d, want %d", len(dbPass), dbPasswordLength)
	}

	enrollKey, err := st.Get(store.KeyEnrollKey)
	if err != nil {
		t.Fatalf("stored enrollment key: %v", err)
	}
	if len(enrollKey) != enrollKeyLength {
		t.Errorf("enrollment key length = %d, want %d", len(enrollKey), enrollKeyLength)
	}

	// The identity bundle must open with the passphrase that was sealed.
	if _, err := identity.LoadIdentityBundle(settings.IdentityPath, passphrase); err != nil {
		t.Errorf("LoadIdentityBundle() error = %v", err)
	}
}

func TestServerSetupRefusesExistingConfig(t *testing.T) {
	settings := testServerSettings(t)
	s := &ServerSetup{
		Settings: settings,
		Prompt:   scriptedPrompter(""),
		Preseed:  fullPreseed(),
	}
	if err := s.Run(); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	again := &ServerSetup{
		Settings: settings,
		Prompt:   scriptedPrompter(""),
		Preseed:  fullPreseed(),
	}
	if err := again.Run(); !errors.Is(err, ErrAlreadyConfigured) {
		t.Errorf("second Run() error = %v, want ErrAlreadyConfigured", err)
	}
}

func TestServerSetupInteractive(t *testing.T) {
	settings := testServerSettings(t)

	// Loopback and garbage answers must be re-prompted; the blank port
	// answer takes the default.
	input := strings.Join([]string{
		"127.0.0.1",    // rejected: loopback
		"not-an-ip",    // rejected: unparseable
		"192.168.5.10", // accepted
		"",             // port: default
		"interactive pass",
		"interactive pass",
		"US",
		"Maryland",
		"Baltimore",
		"Luminum",
		"luminum.example.net",
	}, "\n") + "\n"

	s := &ServerSetup{
		Settings: settings,
		Prompt:   scriptedPrompter(input),
	}
	if err := s.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	st, err := store.Open(settings.ConfigDBPath)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer st.Close()

	address, _ := st.Get(store.KeyAddress)
	if address != "192.168.5.10" {
		t.Errorf("stored address = %q, want 192.168.5.10", address)
	}
	port, _ := st.Get(store.KeyPort)
	if port != DefaultPort {
		t.Errorf("stored port = %q, want default %s", port, DefaultPort)
	}

	cert, err := identity.LoadCertificate(settings.CertPath)
	if err != nil {
		t.Fatalf("LoadCertificate() error = %v", err)
	}
	if cert.Subject.CommonName != "luminum.example.net" {
		t.Errorf("certificate CN = %q", cert.Subject.CommonName)
	}
}

func TestServerSetupReusesExistingKey(t *testing.T) {
	settings := testServerSettings(t)
	if err := identity.GenerateKeyPair(settings.KeyPath, settings.PubKeyPath, "preseed passphrase"); err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	origKey, err := os.ReadFile(settings.KeyPath)
	if err != nil {
		t.Fatalf("read key: %v", err)
	}

	p := fullPreseed()
	reuse := true
	p.ReuseExistingKey = &reuse

	s := &ServerSetup{Settings: settings, Prompt: scriptedPrompter(""), Preseed: p}
	if err := s.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	afterKey, err := os.ReadFile(settings.KeyPath)
	if err != nil {
		t.Fatalf("read key after setup: %v", err)
	}
	if string(afterKey) != string(origKey) {
		t.Error("existing private key was replaced despite reuse")
	}
	if _, err := os.Stat(settings.KeyPath + ".old"); !os.IsNotExist(err) {
		t.Error("reuse flow left a rotation backup behind")
	}
}

func TestServerSetupRotatesKey(t *testing.T) {
	settings := testServerSettings(t)
	if err := identity.GenerateKeyPair(settings.KeyPath, settings.PubKeyPath, "old passphrase"); err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	origKey, err := os.ReadFile(settings.KeyPath)
	if err != nil {
		t.Fatalf("read key: %v", err)
	}

	p := fullPreseed()
	reuse := false
	p.ReuseExistingKey = &reuse

	s := &ServerSetup{Settings: settings, Prompt: scriptedPrompter(""), Preseed: p}
	if err := s.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	backedUp, err := os.ReadFile(settings.KeyPath + ".old")
	if err != nil {
		t.Fatalf("rotation backup missing: %v", err)
	}
	if string(backedUp) != string(origKey) {
		t.Error("rotation backup does not hold the old private key")
	}

	// The new key must open with the new passphrase, not the old one.
	if _, err := identity.LoadPrivateKey(settings.KeyPath, "preseed passphrase"); err != nil {
		t.Errorf("new key does not open with the new passphrase: %v", err)
	}
	if _, err := identity.LoadPrivateKey(settings.KeyPath, "old passphrase"); err == nil {
		t.Error("new key still opens with the old passphrase")
	}
}

func TestClientSetupWithFlags(t *testing.T) {
	dir := t.TempDir()
	settings := config.ClientSettings{ConfigDBPath: filepath.Join(dir, "client.conf.db")}

	c := &ClientSetup{
		Settings:  settings,
		Prompt:    scriptedPrompter(""),
		Host:      "luminum.example.net",
		Port:      "10465",
		EnrollKey: "shared-enrollment-key",
	}
	if err := c.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	st, err := store.Open(settings.ConfigDBPath)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer st.Close()

	host, _ := st.Get(store.KeyServerHost)
	port, _ := st.Get(store.KeyServerPort)
	key, _ := st.Get(store.KeyEnrollKey)
	if host != "luminum.example.net" || port != "10465" || key != "shared-enrollment-key" {
		t.Errorf("stored target = %s:%s key %s", host, port, key)
	}
}

func TestClientSetupInteractive(t *testing.T) {
	dir := t.TempDir()
	settings := config.ClientSettings{ConfigDBPath: filepath.Join(dir, "client.conf.db")}

	input := "luminum.example.net\n\nshared-enrollment-key\n"
	c := &ClientSetup{Settings: settings, Prompt: scriptedPrompter(input)}
	if err := c.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	st, err := store.Open(settings.ConfigDBPath)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer st.Close()

	port, _ := st.Get(store.KeyServerPort)
	if port != DefaultPort {
		t.Errorf("stored port = %q, want default %s", port, DefaultPort)
	}
}

func TestClientSetupRefusesExistingConfig(t *testing.T) {
	dir := t.TempDir()
	settings := config.ClientSettings{ConfigDBPath: filepath.Join(dir, "client.conf.db")}

	c := &ClientSetup{
		Settings: settings, Prompt: scriptedPrompter(""),
		Host: "h", Port: "10465", EnrollKey: "k",
	}
	if err := c.Run(); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	again := &ClientSetup{
		Settings: settings, Prompt: scriptedPrompter(""),
		Host: "h", Port: "10465", EnrollKey: "k",
	}
	if err := again.Run(); !errors.Is(err, ErrAlreadyConfigured) {
		t.Errorf("second Run() error = %v, want ErrAlreadyConfigured", err)
	}
}

func TestLoadPreseed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preseed.yaml")
	content := `
address: 10.1.2.3
port: "10465"
passphrase: secret
reuse_existing_key: false
subject:
  country: US
  state: Maryland
  locality: Baltimore
  organization: Luminum
  common_name: luminum.example.net
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write preseed: %v", err)
	}

	p, err := LoadPreseed(path)
	if err != nil {
		t.Fatalf("LoadPreseed() error = %v", err)
	}
	if p.Address != "10.1.2.3" || p.Port != "10465" || p.Passphrase != "secret" {
		t.Errorf("preseed = %+v", p)
	}
	if p.ReuseExistingKey == nil || *p.ReuseExistingKey {
		t.Error("reuse_existing_key not parsed as false")
	}
	if p.Subject.CommonName != "luminum.example.net" {
		t.Errorf("subject CN = %q", p.Subject.CommonName)
	}
}

func TestValidateBindIP(t *testing.T) {
	tests := []struct {
		addr string
		ok   bool
	}{
		{"192.168.1.10", true},
		{"10.0.0.1", true},
		{"2001:db8::1", true},
		{"127.0.0.1", false},
		{"::1", false},
		{"not-an-ip", false},
		{"", false},
	}
	for _, tt := range tests {
		err := validateBindIP(tt.addr)
		if (err == nil) != tt.ok {
			t.Errorf("validateBindIP(%q) error = %v, want ok=%v", tt.addr, err, tt.ok)
		}
	}
}

func TestValidatePort(t *testing.T) {
	tests := []struct {
		port string
		ok   bool
	}{
		{"10465", true},
		{"1", true},
		{"0", false},
		{"", false},
		{"-1", false},
		{"port", false},
	}
	for _, tt := range tests {
		err := validatePort(tt.port)
		if (err == nil) != tt.ok {
			t.Errorf("validatePort(%q) error = %v, want ok=%v", tt.port, err, tt.ok)
		}
	}
}
