// Package identity owns the server's cryptographic identity: the RSA key
// pair, the self-signed certificate, and the PKCS#12 bundle that stands up
// the TLS listener. The private key only ever reaches disk in
// passphrase-encrypted PKCS#8 form.
package identity

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"

	"github.com/youmark/pkcs8"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/ccurzio/luminum/internal/fault"
)

const (
	rsaKeyBits = 2048

	// CertValidity is the lifetime of a generated certificate.
	CertValidity = 365 * 24 * time.Hour

	// serialBits matches the serial width used by the original openssl
	// flow. Uniqueness is best-effort random; acceptable for a private
	// trust root.
	serialBits = 159

	pemTypeEncryptedKey = "ENCRYPTED PRIVATE KEY"
	pemTypePublicKey    = "PUBLIC KEY"
	pemTypeCertificate  = "CERTIFICATE"
)

// Subject holds the distinguished-name fields of a generated certificate.
type Subject struct {
	Country      string
	State        string
	Locality     string
	Organization string
	CommonName   string
}

// GenerateKeyPair creates a fresh RSA-2048 key pair and writes the private
// key (AES-256-CBC encrypted PKCS#8 PEM under passphrase) and the public
// key (PKIX PEM) to the given paths.
func GenerateKeyPair(keyPath, pubPath, passphrase string) error {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return fmt.Errorf("generate RSA key: %v: %w", err, fault.ErrCrypto)
	}

	encDER, err := pkcs8.MarshalPrivateKey(priv, []byte(passphrase), &pkcs8.Opts{
		Cipher: pkcs8.AES256CBC,
		KDFOpts: pkcs8.PBKDF2Opts{
			SaltSize: 16, IterationCount: 10000, HMACHash: crypto.SHA256,
		},
	})
	if err != nil {
		return fmt.Errorf("encrypt private key: %v: %w", err, fault.ErrCrypto)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: pemTypeEncryptedKey, Bytes: encDER})

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return fmt.Errorf("marshal public key: %v: %w", err, fault.ErrCrypto)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: pemTypePublicKey, Bytes: pubDER})

	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return fmt.Errorf("write private key %s: %v: %w", keyPath, err, fault.ErrIO)
	}
	if err := os.WriteFile(pubPath, pubPEM, 0644); err != nil {
		return fmt.Errorf("write public key %s: %v: %w", pubPath, err, fault.ErrIO)
	}
	return nil
}

// LoadPrivateKey decrypts the PKCS#8 private key at keyPath with the
// passphrase. A wrong passphrase is a fault.ErrAuth.
func LoadPrivateKey(keyPath, passphrase string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key %s: %v: %w", keyPath, err, fault.ErrIO)
	}
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != pemTypeEncryptedKey {
		return nil, fmt.Errorf("private key %s: not an encrypted PEM block: %w", keyPath, fault.ErrCrypto)
	}
	priv, err := pkcs8.ParsePKCS8PrivateKeyRSA(block.Bytes, []byte(passphrase))
	if err != nil {
		// Decryption failure here means the passphrase does not match.
		return nil, fmt.Errorf("decrypt private key: %w", fault.ErrAuth)
	}
	return priv, nil
}

// LoadPublicKey parses the PKIX public key at pubPath.
func LoadPublicKey(pubPath string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, fmt.Errorf("read public key %s: %v: %w", pubPath, err, fault.ErrIO)
	}
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != pemTypePublicKey {
		return nil, fmt.Errorf("public key %s: not a PEM public key: %w", pubPath, fault.ErrCrypto)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %v: %w", err, fault.ErrCrypto)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key %s: not an RSA key: %w", pubPath, fault.ErrCrypto)
	}
	return rsaPub, nil
}

// GenerateCertificate builds a self-signed X.509 certificate binding the
// subject to the key pair on disk, valid for one year from now, signed
// with SHA-256.
func GenerateCertificate(keyPath, pubPath, certPath, passphrase string, subject Subject) error {
	priv, err := LoadPrivateKey(keyPath, passphrase)
	if err != nil {
		return err
	}
	pub, err := LoadPublicKey(pubPath)
	if err != nil {
		return err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), serialBits))
	if err != nil {
		return fmt.Errorf("generate serial number: %v: %w", err, fault.ErrCrypto)
	}

	name := pkix.Name{
		Country:      []string{subject.Country},
		Province:     []string{subject.State},
		Locality:     []string{subject.Locality},
		Organization: []string{subject.Organization},
		CommonName:   subject.CommonName,
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               name,
		NotBefore:             now,
		NotAfter:              now.Add(CertValidity),
		SignatureAlgorithm:    x509.SHA256WithRSA,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		// The certificate is its own trust anchor; clients pin it as a
		// root, so chain verification requires the CA bit.
		IsCA:                  true,
		BasicConstraintsValid: true,
	}

	// Clients verify the connection against the common name, which callers
	// may supply as either a DNS name or a bare IP.
	if ip := net.ParseIP(subject.CommonName); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{subject.CommonName}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	if err != nil {
		return fmt.Errorf("create certificate: %v: %w", err, fault.ErrCrypto)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: pemTypeCertificate, Bytes: certDER})
	if err := os.WriteFile(certPath, certPEM, 0644); err != nil {
		return fmt.Errorf("write certificate %s: %v: %w", certPath, err, fault.ErrIO)
	}
	return nil
}

// BuildIdentityBundle packages the private key and certificate into a
// password-protected PKCS#12 archive. The bundle password reuses the key
// passphrase in this design.
func BuildIdentityBundle(keyPath, certPath, bundlePath, passphrase string) error {
	priv, err := LoadPrivateKey(keyPath, passphrase)
	if err != nil {
		return err
	}
	cert, err := LoadCertificate(certPath)
	if err != nil {
		return err
	}

	der, err := pkcs12.Modern.Encode(priv, cert, nil, passphrase)
	if err != nil {
		return fmt.Errorf("build identity bundle: %v: %w", err, fault.ErrCrypto)
	}
	if err := os.WriteFile(bundlePath, der, 0600); err != nil {
		return fmt.Errorf("write identity bundle %s: %v: %w", bundlePath, err, fault.ErrIO)
	}
	return nil
}

// LoadIdentityBundle opens the PKCS#12 archive and returns a TLS identity
// ready to serve with. A wrong password is a fault.ErrAuth.
func LoadIdentityBundle(bundlePath, passphrase string) (tls.Certificate, error) {
	raw, err := os.ReadFile(bundlePath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read identity bundle %s: %v: %w", bundlePath, err, fault.ErrIO)
	}
	priv, cert, err := pkcs12.Decode(raw, passphrase)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("open identity bundle: %w", fault.ErrAuth)
	}
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  priv,
		Leaf:        cert,
	}, nil
}

// LoadCertificate parses the PEM certificate at certPath.
func LoadCertificate(certPath string) (*x509.Certificate, error) {
	raw, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("read certificate %s: %v: %w", certPath, err, fault.ErrIO)
	}
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != pemTypeCertificate {
		return nil, fmt.Errorf("certificate %s: not a PEM certificate: %w", certPath, fault.ErrCrypto)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %v: %w", err, fault.ErrCrypto)
	}
	return cert, nil
}

// TrustAnchor loads the pinned server certificate into a pool suitable for
// client-side TLS verification.
func TrustAnchor(certPath string) (*x509.CertPool, error) {
	raw, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("read trust anchor %s: %v: %w", certPath, err, fault.ErrIO)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(raw) {
		return nil, fmt.Errorf("trust anchor %s: no usable certificate: %w", certPath, fault.ErrCrypto)
	}
	return pool, nil
}
