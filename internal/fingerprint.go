package internal

import (
	"crypto/sha256"
	"strings"
)

// Fingerprint derives a device identity hash from the user agent and a
// coarsened IP. The IP prefix is deliberately coarse so routine DHCP or
// carrier churn inside one network does not invalidate device trust.
func Fingerprint(userAgent, ip string) [32]byte {
	return sha256.Sum256([]byte(userAgent + "|" + IPPrefix(ip)))
}

// IPPrefix reduces an address to its network identity: the first three octets
// of an IPv4 address, or an IPv6 address truncated at its last colon group.
// Unparseable input is returned unchanged so it still contributes entropy.
func IPPrefix(ip string) string {
	if strings.Contains(ip, ":") {
		if idx := strings.LastIndex(ip, ":"); idx > 0 {
			return ip[:idx]
		}
		return ip
	}
	parts := strings.Split(ip, ".")
	if len(parts) == 4 {
		return strings.Join(parts[:3], ".")
	}
	return ip
}
