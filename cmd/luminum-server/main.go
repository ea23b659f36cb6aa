// Luminum Server Daemon: accepts TLS connections from Luminum clients,
// answers enrollment requests, and records the client fleet.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ccurzio/luminum/internal/channel"
	"github.com/ccurzio/luminum/internal/config"
	"github.com/ccurzio/luminum/internal/enroll"
	"github.com/ccurzio/luminum/internal/identity"
	"github.com/ccurzio/luminum/internal/jobs"
	"github.com/ccurzio/luminum/internal/logging"
	"github.com/ccurzio/luminum/internal/privdrop"
	"github.com/ccurzio/luminum/internal/registry"
	"github.com/ccurzio/luminum/internal/setup"
	"github.com/ccurzio/luminum/internal/store"
	"github.com/ccurzio/luminum/internal/vault"
)

const version = "0.0.1"

func main() {
	var (
		flagCert     string
		flagKey      string
		flagPubKey   string
		flagIdentity string
		flagAddress  string
		flagPort     string
		flagPreseed  string
		flagSetup    bool
		flagDebug    bool
	)

	root := &cobra.Command{
		Use:           "luminum-server",
		Short:         "Luminum Server Daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.LoadServer()
			if err != nil {
				return err
			}
			if flagKey != "" {
				settings.KeyPath = flagKey
			}
			if flagPubKey != "" {
				settings.PubKeyPath = flagPubKey
			}
			if flagCert != "" {
				settings.CertPath = flagCert
			}
			if flagIdentity != "" {
				settings.IdentityPath = flagIdentity
			}
			if flagAddress != "" {
				settings.Address = flagAddress
			}
			if flagPort != "" {
				settings.Port = flagPort
			}
			settings.Debug = flagDebug

			log, err := logging.New(settings.LogPath, settings.Debug)
			if err != nil {
				return err
			}
			defer log.Close()

			if flagSetup {
				return runSetup(settings, flagPreseed)
			}
			return serve(settings, log)
		},
	}

	root.Flags().StringVarP(&flagCert, "certificate", "c", "", "path to the certificate file")
	root.Flags().StringVarP(&flagKey, "key", "k", "", "path to the private key file")
	root.Flags().StringVarP(&flagPubKey, "pubkey", "b", "", "path to the public key file")
	root.Flags().StringVarP(&flagIdentity, "identity", "i", "", "path to the PKCS#12 identity file")
	root.Flags().StringVarP(&flagAddress, "address", "a", "", "network IP address to bind to")
	root.Flags().StringVarP(&flagPort, "port", "p", "", "network data port to use")
	root.Flags().BoolVarP(&flagSetup, "setup", "s", false, "set daemon configuration parameters")
	root.Flags().StringVar(&flagPreseed, "preseed", "", "YAML file with setup answers (non-interactive)")
	root.Flags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug mode")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSetup(settings config.ServerSettings, preseedPath string) error {
	var preseed *setup.Preseed
	if preseedPath != "" {
		p, err := setup.LoadPreseed(preseedPath)
		if err != nil {
			return err
		}
		preseed = p
	}

	s := setup.ServerSetup{
		Settings: settings,
		Prompt:   setup.NewPrompter(os.Stdin, os.Stdout),
		Preseed:  preseed,
	}
	fmt.Println("Luminum Server Daemon")
	fmt.Println("Daemon Configuration")
	fmt.Println("--------------------")
	if err := s.Run(); err != nil {
		if errors.Is(err, setup.ErrAlreadyConfigured) {
			return fmt.Errorf("server configuration already exists, aborting")
		}
		return err
	}
	return nil
}

func serve(settings config.ServerSettings, log *logging.Logger) error {
	if !store.Exists(settings.ConfigDBPath) {
		return fmt.Errorf("configuration database not found (run with --setup)")
	}

	st, err := store.Open(settings.ConfigDBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	serverKey, err := st.Get(store.KeyServerKey)
	if err != nil {
		return err
	}
	enrollKey, err := st.Get(store.KeyEnrollKey)
	if err != nil {
		return err
	}

	address := settings.Address
	if address == "" {
		if address, err = st.Get(store.KeyAddress); err != nil {
			return err
		}
	}
	port := settings.Port
	if port == "" {
		if port, err = st.Get(store.KeyPort); err != nil {
			return err
		}
	}

	for _, path := range []string{settings.KeyPath, settings.CertPath, settings.IdentityPath} {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("required identity artifact missing: %s", path)
		}
	}

	log.Printf("Starting Luminum Server Daemon v%s...", version)

	if err := privdrop.Drop(settings.RunUser); err != nil {
		return err
	}

	v, err := vault.Derive(serverKey)
	if err != nil {
		return err
	}
	sealedPass, err := st.Get(store.KeyPassphrase)
	if err != nil {
		return err
	}
	passphrase, err := v.Open(sealedPass)
	if err != nil {
		return err
	}

	reg, err := openRegistry(settings, st, v)
	if err != nil {
		return err
	}
	defer reg.Close()

	tlsIdentity, err := identity.LoadIdentityBundle(settings.IdentityPath, passphrase)
	if err != nil {
		return err
	}

	sched := jobs.New(log)
	if err := sched.WatchCertificate(settings.CertPath); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	addr := fmt.Sprintf("%s:%s", address, port)
	ln, err := channel.Listen(addr, tlsIdentity, log)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	es := enroll.NewServer(reg, enrollKey, log)
	log.Printf("Luminum Server Daemon started on %s", addr)
	if err := ln.Serve(ctx, es.Handle); err != nil {
		return err
	}
	log.Printf("Luminum Server Daemon stopped.")
	return nil
}

func openRegistry(settings config.ServerSettings, st *store.Store, v *vault.Vault) (*registry.Registry, error) {
	switch settings.ClientsDBDriver {
	case "mysql":
		sealed, err := st.Get(store.KeyDBPass)
		if err != nil {
			return nil, err
		}
		dbPass, err := v.Open(sealed)
		if err != nil {
			return nil, err
		}
		return registry.OpenMySQL(settings.MySQLSocket, settings.MySQLUser, dbPass, settings.MySQLDatabase)
	default:
		return registry.OpenSQLite(settings.ClientsDBPath)
	}
}
