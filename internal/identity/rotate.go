package identity

import (
	"fmt"
	"os"

	"github.com/ccurzio/luminum/internal/fault"
)

// Paths names the four identity artifacts on disk.
type Paths struct {
	Key      string
	Pub      string
	Cert     string
	Identity string
}

// Rotate backs up all four identity artifacts to ".old" siblings ahead of
// regeneration. Stale backups from a previous rotation are removed first.
// If any rename fails the rotation is aborted with fault.ErrIO; the caller
// must not regenerate after a failed rotation.
func Rotate(p Paths) error {
	artifacts := []string{p.Key, p.Pub, p.Cert, p.Identity}

	for _, path := range artifacts {
		old := path + ".old"
		if _, err := os.Stat(old); err == nil {
			if err := os.Remove(old); err != nil {
				return fmt.Errorf("remove stale backup %s: %v: %w", old, err, fault.ErrIO)
			}
		}
	}

	for _, path := range artifacts {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("stat %s: %v: %w", path, err, fault.ErrIO)
		}
		if err := os.Rename(path, path+".old"); err != nil {
			return fmt.Errorf("back up %s: %v: %w", path, err, fault.ErrIO)
		}
	}
	return nil
}
