package setup

import (
	"fmt"

	"github.com/ccurzio/luminum/internal/config"
	"github.com/ccurzio/luminum/internal/store"
)

// ClientSetup drives the one-shot client configuration flow. Flags may
// pre-answer any field; missing values are prompted.
type ClientSetup struct {
	Settings config.ClientSettings
	Prompt   *Prompter

	Host      string
	Port      string
	EnrollKey string
}

// Run records the enrollment target and shared key. Like server setup, it
// refuses to touch an existing configuration.
func (c *ClientSetup) Run() error {
	if store.Exists(c.Settings.ConfigDBPath) {
		return ErrAlreadyConfigured
	}

	host := c.Host
	if host == "" {
		answer, err := c.Prompt.AskValidated("Enter server hostname or address", "", validateNonEmpty("Server host"))
		if err != nil {
			return err
		}
		host = answer
	}

	port := c.Port
	if port == "" {
		answer, err := c.Prompt.AskValidated("Enter server port", DefaultPort, validatePort)
		if err != nil {
			return err
		}
		port = answer
	} else if err := validatePort(port); err != nil {
		return err
	}

	enrollKey := c.EnrollKey
	if enrollKey == "" {
		answer, err := c.Prompt.Password("Enter enrollment key")
		if err != nil {
			return err
		}
		if answer == "" {
			return fmt.Errorf("enrollment key must not be empty")
		}
		enrollKey = answer
	}

	st, err := store.Open(c.Settings.ConfigDBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	pairs := map[string]string{
		store.KeyServerHost: host,
		store.KeyServerPort: port,
		store.KeyEnrollKey:  enrollKey,
	}
	for key, value := range pairs {
		if err := st.Set(key, value); err != nil {
			return err
		}
	}

	fmt.Fprintf(c.Prompt.out, "\nServer: %s:%s\n", host, port)
	fmt.Fprintf(c.Prompt.out, "Configuration written to %s\n", c.Settings.ConfigDBPath)
	return nil
}
