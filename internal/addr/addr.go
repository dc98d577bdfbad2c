// Package addr provides the small address-formatting helpers the
// per-connection verdict log needs, in the spirit of ctl::ctSockaddr from
// the original implementation but trimmed to what net.Addr already
// exposes (spec section 1 keeps full sockaddr handling out of scope as
// OS-specific glue).
package addr

import (
	"net"
	"strconv"
	"strings"
)

// Format renders a net.Addr the way verdict and status lines want it:
// host:port, with IPv6 hosts bracketed. Returns "-" for a nil addr, which
// happens when a connection failed before a socket existed.
func Format(a net.Addr) string {
	if a == nil {
		return "-"
	}
	return a.String()
}

// HostPort splits a formatted address back into host and port, tolerating
// the bracketed IPv6 form. It returns ("", "") if s is not a valid
// host:port pair.
func HostPort(s string) (host, port string) {
	h, p, err := net.SplitHostPort(s)
	if err != nil {
		return "", ""
	}
	return h, p
}

// IsLoopback reports whether the formatted address's host resolves to a
// loopback interface, used by the connection verdict log to flag
// same-host runs.
func IsLoopback(s string) bool {
	host, _ := HostPort(s)
	if host == "" {
		return false
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}

// ParsePort parses the numeric port out of a formatted address, returning
// -1 if absent or malformed.
func ParsePort(s string) int {
	_, p := HostPort(s)
	if p == "" {
		return -1
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return -1
	}
	return n
}
