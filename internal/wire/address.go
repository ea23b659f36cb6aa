package wire

import "regexp"

// The registration payload reports the local socket address as either an
// IPv4 or an IPv6 string. Classification is purely syntactic: an address
// matching neither shape is reported blank, which the server accepts as
// degraded but valid.
var (
	ipv4Pattern = regexp.MustCompile(`^\d{1,3}(\.\d{1,3}){3}$`)
	ipv6Pattern = regexp.MustCompile(`^[0-9A-Fa-f]{1,4}(:[0-9A-Fa-f]{1,4}){7}$`)
)

// IsIPv4 reports whether addr is four dot-separated groups of 1-3 digits.
func IsIPv4(addr string) bool {
	return ipv4Pattern.MatchString(addr)
}

// IsIPv6 reports whether addr is eight colon-separated groups of 1-4 hex
// digits. Compressed ("::") notation deliberately does not match; the
// payload simply omits the address in that case.
func IsIPv6(addr string) bool {
	return ipv6Pattern.MatchString(addr)
}

// ClassifyAddr splits a host string into its IPv4 and IPv6 report fields.
// At most one of the two return values is non-empty.
func ClassifyAddr(host string) (ipv4, ipv6 string) {
	switch {
	case IsIPv4(host):
		return host, ""
	case IsIPv6(host):
		return "", host
	default:
		return "", ""
	}
}
