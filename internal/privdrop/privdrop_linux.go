//go:build linux

// Package privdrop lowers the daemon's privileges to a dedicated system
// account before it starts serving.
package privdrop

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

const passwdPath = "/etc/passwd"

// Drop switches the process to the named system user. The user must exist;
// a missing account or a failed setuid is fatal to startup.
func Drop(username string) error {
	uid, ok, err := lookupUID(username)
	if err != nil {
		return fmt.Errorf("look up system user %q: %w", username, err)
	}
	if !ok {
		return fmt.Errorf("system user %q does not exist", username)
	}

	if err := syscall.Setuid(uid); err != nil {
		return fmt.Errorf("setuid to %q (%d): %w", username, uid, err)
	}
	return nil
}

func lookupUID(username string) (int, bool, error) {
	f, err := os.Open(passwdPath)
	if err != nil {
		return 0, false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), ":")
		if len(fields) < 3 || fields[0] != username {
			continue
		}
		uid, err := strconv.Atoi(fields[2])
		if err != nil {
			return 0, false, fmt.Errorf("malformed uid for %q: %w", username, err)
		}
		return uid, true, nil
	}
	return 0, false, scanner.Err()
}
