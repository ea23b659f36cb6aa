package identity

import (
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ccurzio/luminum/internal/fault"
)

const testPassphrase = "unit test passphrase"

var testSubject = Subject{
	Country:      "US",
	State:        "Maryland",
	Locality:     "Baltimore",
	Organization: "Luminum",
	CommonName:   "luminum.example.net",
}

// generateTestIdentity writes a full set of identity artifacts into dir and
// returns their paths.
func generateTestIdentity(t *testing.T, dir string) Paths {
	t.Helper()
	p := Paths{
		Key:      filepath.Join(dir, "luminum.key"),
		Pub:      filepath.Join(dir, "luminum.pub"),
		Cert:     filepath.Join(dir, "luminum.crt"),
		Identity: filepath.Join(dir, "luminum.pfx"),
	}
	if err := GenerateKeyPair(p.Key, p.Pub, testPassphrase); err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	if err := GenerateCertificate(p.Key, p.Pub, p.Cert, testPassphrase, testSubject); err != nil {
		t.Fatalf("GenerateCertificate() error = %v", err)
	}
	if err := BuildIdentityBundle(p.Key, p.Cert, p.Identity, testPassphrase); err != nil {
		t.Fatalf("BuildIdentityBundle() error = %v", err)
	}
	return p
}

func TestKeyPairRoundTrip(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "luminum.key")
	pubPath := filepath.Join(dir, "luminum.pub")

	if err := GenerateKeyPair(keyPath, pubPath, testPassphrase); err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("stat private key: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("private key permissions = %o, want 0600", perm)
	}

	priv, err := LoadPrivateKey(keyPath, testPassphrase)
	if err != nil {
		t.Fatalf("LoadPrivateKey() error = %v", err)
	}
	pub, err := LoadPublicKey(pubPath)
	if err != nil {
		t.Fatalf("LoadPublicKey() error = %v", err)
	}
	if priv.PublicKey.N.Cmp(pub.N) != 0 {
		t.Error("public key file does not match the private key")
	}
}

func TestLoadPrivateKeyWrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "luminum.key")
	pubPath := filepath.Join(dir, "luminum.pub")

	if err := GenerateKeyPair(keyPath, pubPath, testPassphrase); err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	if _, err := LoadPrivateKey(keyPath, "not the passphrase"); !errors.Is(err, fault.ErrAuth) {
		t.Errorf("LoadPrivateKey() with wrong passphrase error = %v, want fault.ErrAuth", err)
	}
}

func TestGenerateCertificate(t *testing.T) {
	p := generateTestIdentity(t, t.TempDir())

	cert, err := LoadCertificate(p.Cert)
	if err != nil {
		t.Fatalf("LoadCertificate() error = %v", err)
	}

	if cert.Subject.CommonName != testSubject.CommonName {
		t.Errorf("CommonName = %q, want %q", cert.Subject.CommonName, testSubject.CommonName)
	}
	if len(cert.Subject.Organization) != 1 || cert.Subject.Organization[0] != testSubject.Organization {
		t.Errorf("Organization = %v, want [%s]", cert.Subject.Organization, testSubject.Organization)
	}

	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		t.Errorf("certificate not currently valid: %v-%v", cert.NotBefore, cert.NotAfter)
	}
	lifetime := cert.NotAfter.Sub(cert.NotBefore)
	if lifetime < CertValidity-time.Minute || lifetime > CertValidity+time.Minute {
		t.Errorf("certificate lifetime = %v, want about %v", lifetime, CertValidity)
	}

	if cert.SerialNumber.Sign() <= 0 || cert.SerialNumber.BitLen() > serialBits {
		t.Errorf("serial number out of range: %v", cert.SerialNumber)
	}

	if err := cert.CheckSignatureFrom(cert); err != nil {
		t.Errorf("self-signature check failed: %v", err)
	}
	if err := cert.VerifyHostname(testSubject.CommonName); err != nil {
		t.Errorf("certificate does not cover its own common name: %v", err)
	}
}

func TestIdentityBundleRoundTrip(t *testing.T) {
	p := generateTestIdentity(t, t.TempDir())

	id, err := LoadIdentityBundle(p.Identity, testPassphrase)
	if err != nil {
		t.Fatalf("LoadIdentityBundle() error = %v", err)
	}
	if id.Leaf == nil || id.Leaf.Subject.CommonName != testSubject.CommonName {
		t.Errorf("bundle leaf = %+v, want CN %s", id.Leaf, testSubject.CommonName)
	}
	if len(id.Certificate) != 1 {
		t.Errorf("bundle has %d certificates, want 1", len(id.Certificate))
	}

	if _, err := LoadIdentityBundle(p.Identity, "wrong password"); !errors.Is(err, fault.ErrAuth) {
		t.Errorf("LoadIdentityBundle() with wrong password error = %v, want fault.ErrAuth", err)
	}
}

func TestTrustAnchor(t *testing.T) {
	p := generateTestIdentity(t, t.TempDir())

	pool, err := TrustAnchor(p.Cert)
	if err != nil {
		t.Fatalf("TrustAnchor() error = %v", err)
	}
	if pool == nil {
		t.Fatal("TrustAnchor() returned nil pool")
	}

	cert, err := LoadCertificate(p.Cert)
	if err != nil {
		t.Fatalf("LoadCertificate() error = %v", err)
	}
	if _, err := cert.Verify(x509.VerifyOptions{Roots: pool}); err != nil {
		t.Errorf("pinned certificate does not verify against its own anchor: %v", err)
	}
}

func TestRotate(t *testing.T) {
	dir := t.TempDir()
	p := generateTestIdentity(t, dir)

	origKey, err := os.ReadFile(p.Key)
	if err != nil {
		t.Fatalf("read key: %v", err)
	}

	if err := Rotate(p); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	for _, path := range []string{p.Key, p.Pub, p.Cert, p.Identity} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("%s still present after rotation", path)
		}
		if _, err := os.Stat(path + ".old"); err != nil {
			t.Errorf("%s.old missing after rotation: %v", path, err)
		}
	}

	backedUp, err := os.ReadFile(p.Key + ".old")
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(backedUp) != string(origKey) {
		t.Error("backup content does not match original private key")
	}
}

func TestRotateReplacesStaleBackups(t *testing.T) {
	dir := t.TempDir()
	p := generateTestIdentity(t, dir)

	if err := os.WriteFile(p.Key+".old", []byte("stale"), 0600); err != nil {
		t.Fatalf("seed stale backup: %v", err)
	}

	if err := Rotate(p); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	backedUp, err := os.ReadFile(p.Key + ".old")
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(backedUp) == "stale" {
		t.Error("stale backup was not replaced")
	}
}

func TestRotateWithNoArtifacts(t *testing.T) {
	dir := t.TempDir()
	p := Paths{
		Key:      filepath.Join(dir, "luminum.key"),
		Pub:      filepath.Join(dir, "luminum.pub"),
		Cert:     filepath.Join(dir, "luminum.crt"),
		Identity: filepath.Join(dir, "luminum.pfx"),
	}
	if err := Rotate(p); err != nil {
		t.Errorf("Rotate() with nothing on disk error = %v, want nil", err)
	}
}
