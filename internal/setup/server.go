package setup

import (
	"errors"
	"fmt"
	"os"

	"github.com/ccurzio/luminum/internal/config"
	"github.com/ccurzio/luminum/internal/fault"
	"github.com/ccurzio/luminum/internal/identity"
	"github.com/ccurzio/luminum/internal/store"
	"github.com/ccurzio/luminum/internal/vault"
)

// DefaultPort is the server's default listening port.
const DefaultPort = "10465"

const (
	dbPasswordLength = 16
	enrollKeyLength  = 64
)

// ErrAlreadyConfigured is returned when setup finds an existing
// configuration database. Setup never overwrites a configured install.
var ErrAlreadyConfigured = errors.New("configuration already exists")

// ServerSetup drives the one-shot server configuration flow.
type ServerSetup struct {
	Settings config.ServerSettings
	Prompt   *Prompter
	Preseed  *Preseed
}

// Run walks the operator through address, port, key material, certificate
// and secret generation, then persists the configuration. Any failure
// aborts setup; the daemon must never start half-configured.
func (s *ServerSetup) Run() error {
	if store.Exists(s.Settings.ConfigDBPath) {
		return ErrAlreadyConfigured
	}

	address, err := s.answerValidated("Enter server IP address", s.preseedAddress(), validateBindIP)
	if err != nil {
		return err
	}
	port, err := s.answerValidated("Enter server port", s.preseedPort(), validatePort)
	if err != nil {
		return err
	}

	passphrase, err := s.ensureKeyMaterial()
	if err != nil {
		return err
	}

	if _, err := os.Stat(s.Settings.CertPath); err != nil {
		fmt.Fprintln(s.Prompt.out, "\nServer certificate does not exist. Creating...")
		subject, err := s.askSubject()
		if err != nil {
			return err
		}
		if err := identity.GenerateCertificate(s.Settings.KeyPath, s.Settings.PubKeyPath, s.Settings.CertPath, passphrase, subject); err != nil {
			return err
		}
	}

	if err := identity.BuildIdentityBundle(s.Settings.KeyPath, s.Settings.CertPath, s.Settings.IdentityPath, passphrase); err != nil {
		return err
	}

	serverKey, err := vault.NewServerKey()
	if err != nil {
		return err
	}
	v, err := vault.Derive(serverKey)
	if err != nil {
		return err
	}
	sealedPass, err := v.Seal(passphrase)
	if err != nil {
		return err
	}
	dbPass, err := vault.NewPassword(dbPasswordLength)
	if err != nil {
		return err
	}
	sealedDBPass, err := v.Seal(dbPass)
	if err != nil {
		return err
	}
	enrollKey, err := vault.NewPassword(enrollKeyLength)
	if err != nil {
		return err
	}

	st, err := store.Open(s.Settings.ConfigDBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	pairs := map[string]string{
		store.KeyServerKey:  serverKey,
		store.KeyAddress:    address,
		store.KeyPort:       port,
		store.KeyPassphrase: sealedPass,
		store.KeyDBPass:     sealedDBPass,
		store.KeyEnrollKey:  enrollKey,
	}
	for key, value := range pairs {
		if err := st.Set(key, value); err != nil {
			return err
		}
	}

	fmt.Fprintf(s.Prompt.out, "\nServer IP address: %s\n", address)
	fmt.Fprintf(s.Prompt.out, "Server Port: %s\n", port)
	fmt.Fprintf(s.Prompt.out, "Private Key: %s\n", s.Settings.KeyPath)
	fmt.Fprintf(s.Prompt.out, "Public Key: %s\n", s.Settings.PubKeyPath)
	fmt.Fprintf(s.Prompt.out, "Certificate: %s\n", s.Settings.CertPath)
	fmt.Fprintf(s.Prompt.out, "Identity: %s\n", s.Settings.IdentityPath)
	fmt.Fprintf(s.Prompt.out, "\nEnrollment key (distribute to clients):\n%s\n", enrollKey)
	return nil
}

// ensureKeyMaterial creates the key pair if absent, or offers to reuse or
// rotate an existing one. It returns the passphrase protecting the
// (possibly new) private key.
func (s *ServerSetup) ensureKeyMaterial() (string, error) {
	if _, err := os.Stat(s.Settings.KeyPath); err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("stat private key: %v: %w", err, fault.ErrIO)
		}
		fmt.Fprintln(s.Prompt.out, "\nServer key pair does not exist. Creating...")
		return s.generateKeyPair()
	}

	fmt.Fprintf(s.Prompt.out, "\nA private key was found at %s\n", s.Settings.KeyPath)
	reuse, err := s.answerReuseKey()
	if err != nil {
		return "", err
	}

	if reuse {
		// Verify the passphrase actually opens the existing key before
		// accepting it.
		for {
			passphrase, err := s.answerPassphrase(false)
			if err != nil {
				return "", err
			}
			if _, err := identity.LoadPrivateKey(s.Settings.KeyPath, passphrase); err != nil {
				if errors.Is(err, fault.ErrAuth) {
					fmt.Fprintf(s.Prompt.out, "Error: Passphrase does not match the private key\n\n")
					continue
				}
				return "", err
			}
			return passphrase, nil
		}
	}

	if err := identity.Rotate(identity.Paths{
		Key:      s.Settings.KeyPath,
		Pub:      s.Settings.PubKeyPath,
		Cert:     s.Settings.CertPath,
		Identity: s.Settings.IdentityPath,
	}); err != nil {
		return "", err
	}
	fmt.Fprintln(s.Prompt.out, "\nCreating new keypair and identity...")
	return s.generateKeyPair()
}

func (s *ServerSetup) generateKeyPair() (string, error) {
	passphrase, err := s.answerPassphrase(true)
	if err != nil {
		return "", err
	}
	if err := identity.GenerateKeyPair(s.Settings.KeyPath, s.Settings.PubKeyPath, passphrase); err != nil {
		return "", err
	}
	return passphrase, nil
}

func (s *ServerSetup) askSubject() (identity.Subject, error) {
	if s.Preseed != nil && s.Preseed.Subject.CommonName != "" {
		return identity.Subject{
			Country:      s.Preseed.Subject.Country,
			State:        s.Preseed.Subject.State,
			Locality:     s.Preseed.Subject.Locality,
			Organization: s.Preseed.Subject.Organization,
			CommonName:   s.Preseed.Subject.CommonName,
		}, nil
	}

	var subject identity.Subject
	fields := []struct {
		label string
		dst   *string
	}{
		{"Two-letter country code", &subject.Country},
		{"State or province", &subject.State},
		{"City or locality name", &subject.Locality},
		{"Organization", &subject.Organization},
		{"Enter certificate common name (CN)", &subject.CommonName},
	}
	for _, f := range fields {
		answer, err := s.Prompt.AskValidated(f.label, "", validateNonEmpty(f.label))
		if err != nil {
			return identity.Subject{}, err
		}
		*f.dst = answer
	}
	return subject, nil
}

func (s *ServerSetup) answerValidated(label, preseeded string, validate func(string) error) (string, error) {
	if preseeded != "" {
		if err := validate(preseeded); err != nil {
			return "", fmt.Errorf("preseed: %v: %w", err, fault.ErrConfig)
		}
		return preseeded, nil
	}
	def := ""
	if label == "Enter server port" {
		def = DefaultPort
	}
	return s.Prompt.AskValidated(label, def, validate)
}

func (s *ServerSetup) answerPassphrase(confirm bool) (string, error) {
	if s.Preseed != nil && s.Preseed.Passphrase != "" {
		return s.Preseed.Passphrase, nil
	}
	if confirm {
		return s.Prompt.PasswordConfirmed("Enter PEM passphrase for private key", "Verify PEM passphrase")
	}
	return s.Prompt.Password("Enter PEM passphrase for private key")
}

func (s *ServerSetup) answerReuseKey() (bool, error) {
	if s.Preseed != nil && s.Preseed.ReuseExistingKey != nil {
		return *s.Preseed.ReuseExistingKey, nil
	}
	answer, err := s.Prompt.Ask("Do you want to use this key? [Y/n]", "Y")
	if err != nil {
		return false, err
	}
	switch answer {
	case "Y", "y", "":
		return true, nil
	default:
		return false, nil
	}
}

func (s *ServerSetup) preseedAddress() string {
	if s.Preseed == nil {
		return ""
	}
	return s.Preseed.Address
}

func (s *ServerSetup) preseedPort() string {
	if s.Preseed == nil {
		return ""
	}
	return s.Preseed.Port
}
