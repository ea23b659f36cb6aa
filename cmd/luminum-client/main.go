// Luminum Client: maintains the secure channel to the Luminum server,
// enrolls on first start, and exposes the loopback control surface for
// co-located processes.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccurzio/luminum/internal/channel"
	"github.com/ccurzio/luminum/internal/config"
	"github.com/ccurzio/luminum/internal/enroll"
	"github.com/ccurzio/luminum/internal/fault"
	"github.com/ccurzio/luminum/internal/identity"
	"github.com/ccurzio/luminum/internal/localctl"
	"github.com/ccurzio/luminum/internal/logging"
	"github.com/ccurzio/luminum/internal/setup"
	"github.com/ccurzio/luminum/internal/store"
)

const version = "0.0.1"

func main() {
	var (
		flagConfig     string
		flagServerCert string
		flagHost       string
		flagPort       string
		flagEnrollKey  string
		flagSetup      bool
		flagDebug      bool
	)

	root := &cobra.Command{
		Use:           "luminum-client",
		Short:         "Luminum Client",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.LoadClient()
			if err != nil {
				return err
			}
			if flagConfig != "" {
				settings.ConfigDBPath = flagConfig
			}
			if flagServerCert != "" {
				settings.ServerCertPath = flagServerCert
			}
			settings.Debug = flagDebug

			log, err := logging.New(settings.LogPath, settings.Debug)
			if err != nil {
				return err
			}
			defer log.Close()

			if flagSetup {
				cs := setup.ClientSetup{
					Settings:  settings,
					Prompt:    setup.NewPrompter(os.Stdin, os.Stdout),
					Host:      flagHost,
					Port:      flagPort,
					EnrollKey: flagEnrollKey,
				}
				if err := cs.Run(); err != nil {
					if errors.Is(err, setup.ErrAlreadyConfigured) {
						return fmt.Errorf("client configuration already exists, aborting")
					}
					return err
				}
				return nil
			}
			return run(settings, log)
		},
	}

	root.Flags().StringVarP(&flagConfig, "config", "c", "", "path to the configuration database")
	root.Flags().StringVar(&flagServerCert, "server-cert", "", "path to the pinned server certificate")
	root.Flags().StringVar(&flagHost, "host", "", "server host (setup)")
	root.Flags().StringVar(&flagPort, "port", "", "server port (setup)")
	root.Flags().StringVar(&flagEnrollKey, "enroll-key", "", "enrollment key (setup)")
	root.Flags().BoolVarP(&flagSetup, "setup", "s", false, "set client configuration parameters")
	root.Flags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug mode")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(settings config.ClientSettings, log *logging.Logger) error {
	if !store.Exists(settings.ConfigDBPath) {
		return fmt.Errorf("configuration database not found (run with --setup)")
	}

	st, err := store.Open(settings.ConfigDBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	host, err := st.Get(store.KeyServerHost)
	if err != nil {
		return err
	}
	port, err := st.Get(store.KeyServerPort)
	if err != nil {
		return err
	}
	enrollKey, err := st.Get(store.KeyEnrollKey)
	if err != nil {
		return err
	}

	anchor, err := identity.TrustAnchor(settings.ServerCertPath)
	if err != nil {
		return err
	}
	serverCert, err := identity.LoadCertificate(settings.ServerCertPath)
	if err != nil {
		return err
	}
	serverName := serverCert.Subject.CommonName

	client, err := enroll.NewClient(st, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Starting Luminum Client v%s...", version)

	control, err := localctl.Listen(settings.ControlAddr, log)
	if err != nil {
		return err
	}
	defer control.Close()
	go func() {
		if err := control.Serve(ctx); err != nil {
			log.Printf("Local control listener: %v", err)
		}
	}()
	log.Printf("Local control plane on %s", control.Addr())

	addr := fmt.Sprintf("%s:%s", host, port)
	for ctx.Err() == nil {
		conn, err := channel.Dial(ctx, addr, anchor, serverName, log)
		if err != nil {
			return nil // context cancelled
		}

		if settleChannel(ctx, client, conn, enrollKey, log) {
			select {
			case <-time.After(channel.RetryInterval):
			case <-ctx.Done():
			}
		}
	}

	log.Printf("Luminum Client stopped.")
	return nil
}

// settleChannel enrolls if the client still needs a UID, then holds the
// channel until it drops. It reports whether the caller should wait a
// retry interval before redialing: any enrollment failure gets the same
// pause, so a server that accepts and immediately drops connections does
// not turn the reconnect loop into a tight spin.
func settleChannel(ctx context.Context, client *enroll.Client, conn *channel.Conn, enrollKey string, log *logging.Logger) bool {
	if client.State() != enroll.Registered {
		if err := client.Run(ctx, conn, enrollKey); err != nil {
			if errors.Is(err, fault.ErrAuth) {
				log.Printf("Enrollment rejected; check the configured enrollment key")
			} else {
				log.Printf("Enrollment did not complete: %v", err)
			}
			conn.Close()
			return true
		}
	}

	// A registered client never re-enrolls; only the transport is
	// re-established after a drop.
	select {
	case <-conn.Done():
		log.Printf("Channel lost; reconnecting")
	case <-ctx.Done():
		conn.Close()
	}
	return false
}
