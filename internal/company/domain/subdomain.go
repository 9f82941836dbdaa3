package domain

import (
	"regexp"
	"strings"

	"github.com/gosimple/slug"
)

var subdomainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{1,61}[a-z0-9])$`)

var reservedSubdomains = map[string]struct{}{
	"www":      {},
	"api":      {},
	"app":      {},
	"admin":    {},
	"platform": {},
	"mail":     {},
	"static":   {},
	"assets":   {},
	"status":   {},
	"support":  {},
}

// SubdomainFromName derives a DNS label from a company name.
func SubdomainFromName(name string) string {
	label := slug.Make(strings.TrimSpace(name))
	if len(label) > 63 {
		label = strings.TrimRight(label[:63], "-")
	}
	return label
}

// ValidateSubdomain checks label syntax and the reserved list.
func ValidateSubdomain(label string) error {
	if !subdomainPattern.MatchString(label) {
		return ErrInvalidSubdomain
	}
	if _, ok := reservedSubdomains[label]; ok {
		return ErrReservedSubdomain
	}
	return nil
}
