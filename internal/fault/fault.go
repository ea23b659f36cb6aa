// Package fault defines the error classes shared across the daemon and
// client. Call sites wrap one of these sentinels with fmt.Errorf("...: %w")
// so callers can classify failures with errors.Is without string matching.
package fault

import "errors"

var (
	// ErrIO covers filesystem and socket failures.
	ErrIO = errors.New("i/o failure")

	// ErrCrypto covers key generation, encryption, decryption and
	// certificate signing failures.
	ErrCrypto = errors.New("cryptographic failure")

	// ErrAuth covers passphrase and enrollment-key mismatches.
	ErrAuth = errors.New("authentication failure")

	// ErrProtocol covers malformed or unexpected wire messages.
	ErrProtocol = errors.New("protocol violation")

	// ErrConfig covers missing or invalid required configuration keys.
	ErrConfig = errors.New("configuration error")
)
