// Package setup implements the one-shot configuration flows for the
// server daemon and the client. Setup refuses to run when a configuration
// already exists; otherwise it prompts interactively (or reads a YAML
// preseed file) and persists the result.
package setup

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"regexp"
	"strings"

	"golang.org/x/term"
)

var digitsOnly = regexp.MustCompile(`^\d+$`)

// Prompter reads interactive answers. Passwords are read without echo when
// the input is a real terminal.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
	raw io.Reader
}

// NewPrompter wraps an input/output pair for prompting.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out, raw: in}
}

// Ask prints the label and returns the trimmed answer, or def when the
// answer is empty.
func (p *Prompter) Ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}
	answer := strings.TrimSpace(line)
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// AskValidated re-prompts until validate accepts the answer.
func (p *Prompter) AskValidated(label, def string, validate func(string) error) (string, error) {
	for {
		answer, err := p.Ask(label, def)
		if err != nil {
			return "", err
		}
		if verr := validate(answer); verr != nil {
			fmt.Fprintf(p.out, "%v\n\n", verr)
			continue
		}
		return answer, nil
	}
}

// Password reads a secret without echoing when stdin is a terminal. In
// non-interactive contexts (tests, pipes) it falls back to a plain line
// read.
func (p *Prompter) Password(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)

	if f, ok := p.raw.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("read passphrase: %w", err)
		}
		return string(raw), nil
	}

	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// PasswordConfirmed prompts for a secret twice until both entries match.
func (p *Prompter) PasswordConfirmed(label, verifyLabel string) (string, error) {
	for {
		first, err := p.Password(label)
		if err != nil {
			return "", err
		}
		second, err := p.Password(verifyLabel)
		if err != nil {
			return "", err
		}
		if first != second {
			fmt.Fprintf(p.out, "Error: Passphrase mismatch\n\n")
			continue
		}
		return first, nil
	}
}

// validateBindIP accepts any valid non-loopback IP address. Loopback is
// excluded here, at setup time, only; registration-time address
// classification does not special-case it.
func validateBindIP(s string) error {
	ip := net.ParseIP(s)
	if ip == nil {
		return fmt.Errorf("Invalid IP address: %s", s)
	}
	if ip.IsLoopback() {
		return fmt.Errorf("Loopback address not allowed: %s", s)
	}
	return nil
}

// validatePort accepts a non-zero decimal port number.
func validatePort(s string) error {
	if s == "0" || !digitsOnly.MatchString(s) {
		return fmt.Errorf("Invalid port: %s", s)
	}
	return nil
}

// validateNonEmpty rejects blank answers.
func validateNonEmpty(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s must not be empty", field)
		}
		return nil
	}
}
