// Package vault protects secrets at rest. A Vault is a symmetric cipher
// derived deterministically from the per-install server key; anything
// sealed with it round-trips through the configuration store as an opaque
// base64 token.
package vault

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/argon2"

	"github.com/ccurzio/luminum/internal/fault"
)

// Fixed application salt for the key derivation. The server key itself is
// the high-entropy input; the salt only domain-separates this derivation.
var kdfSalt = []byte("luminum.vault.v1")

// serverKeyCharset is the alphabet used for generated server keys and
// database passwords.
const serverKeyCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*()-_=+[]{}<>?"

// ServerKeyLength is the length of a generated server key.
const ServerKeyLength = 128

// Vault seals and opens secrets with a key derived from the server key.
type Vault struct {
	key *fernet.Key
}

// Derive builds the vault cipher from the server key. The derivation is
// deterministic: the same server key always yields the same cipher.
func Derive(serverKey string) (*Vault, error) {
	if serverKey == "" {
		return nil, fmt.Errorf("empty server key: %w", fault.ErrConfig)
	}
	raw := argon2.IDKey([]byte(serverKey), kdfSalt, 1, 64*1024, 4, 32)
	var k fernet.Key
	copy(k[:], raw)
	return &Vault{key: &k}, nil
}

// Seal encrypts plaintext and returns an opaque token safe to persist.
func (v *Vault) Seal(plaintext string) (string, error) {
	tok, err := fernet.EncryptAndSign([]byte(plaintext), v.key)
	if err != nil {
		return "", fmt.Errorf("seal secret: %w", fault.ErrCrypto)
	}
	return string(tok), nil
}

// Open decrypts a token produced by Seal. A corrupt token or one sealed
// under a different server key is a fault.ErrCrypto.
func (v *Vault) Open(token string) (string, error) {
	msg := fernet.VerifyAndDecrypt([]byte(token), 0*time.Second, []*fernet.Key{v.key})
	if msg == nil {
		return "", fmt.Errorf("open secret: invalid token: %w", fault.ErrCrypto)
	}
	return string(msg), nil
}

// NewServerKey generates the per-install master secret: a 128-character
// random string over letters, digits and symbols.
func NewServerKey() (string, error) {
	return randomString(ServerKeyLength)
}

// NewPassword generates a random credential of the given length, used for
// the client registry database account at setup time.
func NewPassword(length int) (string, error) {
	return randomString(length)
}

func randomString(length int) (string, error) {
	max := big.NewInt(int64(len(serverKeyCharset)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate random string: %w", fault.ErrCrypto)
		}
		out[i] = serverKeyCharset[n.Int64()]
	}
	return string(out), nil
}
