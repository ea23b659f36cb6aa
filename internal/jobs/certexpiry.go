// Package jobs runs the daemon's background maintenance schedule.
package jobs

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ccurzio/luminum/internal/identity"
	"github.com/ccurzio/luminum/internal/logging"
)

// expiryWarning is how far ahead of certificate expiry the daemon starts
// warning. Renewal itself is a manual re-setup.
const expiryWarning = 30 * 24 * time.Hour

// Scheduler wraps the cron runner.
type Scheduler struct {
	cron *cron.Cron
	log  *logging.Logger
}

// New builds an empty scheduler.
func New(log *logging.Logger) *Scheduler {
	return &Scheduler{cron: cron.New(), log: log}
}

// WatchCertificate schedules a daily check of the server certificate's
// validity window, warning when expiry is near and once it has passed.
func (s *Scheduler) WatchCertificate(certPath string) error {
	check := func() {
		cert, err := identity.LoadCertificate(certPath)
		if err != nil {
			s.log.Printf("Certificate check: %v", err)
			return
		}
		now := time.Now()
		switch {
		case now.After(cert.NotAfter):
			s.log.Printf("Server certificate expired %s; re-run setup to rotate the identity", cert.NotAfter.Format(time.RFC3339))
		case now.Add(expiryWarning).After(cert.NotAfter):
			s.log.Printf("Server certificate expires %s (within %d days)", cert.NotAfter.Format(time.RFC3339), int(expiryWarning.Hours()/24))
		default:
			s.log.Debugf("Certificate valid until %s", cert.NotAfter.Format(time.RFC3339))
		}
	}

	if _, err := s.cron.AddFunc("@daily", check); err != nil {
		return err
	}
	// One immediate check at startup so an expired identity is visible
	// without waiting a day.
	check()
	return nil
}

// Start launches the schedule in its own goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the schedule, waiting for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
