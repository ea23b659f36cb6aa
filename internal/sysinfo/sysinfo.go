// Package sysinfo reports the identity facts a client includes in its
// registration payload.
package sysinfo

import (
	"bufio"
	"os"
	"runtime"
	"strings"
)

const osReleasePath = "/etc/os-release"

// Hostname returns the local hostname, or "unknown" if it cannot be read.
func Hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "unknown"
	}
	return name
}

// Platform returns the operating system family, e.g. "linux".
func Platform() string {
	return runtime.GOOS
}

// Version returns a human-readable operating system version. On Linux it
// comes from /etc/os-release; elsewhere (and on read failure) it degrades
// to "unknown".
func Version() string {
	f, err := os.Open(osReleasePath)
	if err != nil {
		return "unknown"
	}
	defer f.Close()

	var name, version string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "PRETTY_NAME="):
			return strings.Trim(strings.TrimPrefix(line, "PRETTY_NAME="), `"`)
		case strings.HasPrefix(line, "NAME="):
			name = strings.Trim(strings.TrimPrefix(line, "NAME="), `"`)
		case strings.HasPrefix(line, "VERSION_ID="):
			version = strings.Trim(strings.TrimPrefix(line, "VERSION_ID="), `"`)
		}
	}
	if name != "" {
		return strings.TrimSpace(name + " " + version)
	}
	return "unknown"
}
