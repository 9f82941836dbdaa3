package tenancy

import (
	"net"
	"strings"
)

// SubdomainFromHost extracts the tenant label from a request host. Only a
// single label directly under baseDomain matches; localhost, loopback
// addresses, the bare base domain, nested labels and custom domains do not.
func SubdomainFromHost(host, baseDomain string) (string, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" || host == "localhost" {
		return "", false
	}
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		return "", false
	}

	base := strings.Trim(strings.ToLower(strings.TrimSpace(baseDomain)), ".")
	if base == "" {
		return "", false
	}
	label, ok := strings.CutSuffix(host, "."+base)
	if !ok || label == "" || strings.Contains(label, ".") {
		return "", false
	}
	return label, true
}
