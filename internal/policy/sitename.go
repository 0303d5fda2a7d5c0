package policy

import (
	"errors"
	"strings"
)

var ErrInvalidSiteName = errors.New("invalid site name")

const (
	minSiteNameLength = 3
	maxSiteNameLength = 63
)

// reservedSiteNames are routes and subdomains the platform keeps for itself.
var reservedSiteNames = map[string]struct{}{
	"admin":   {},
	"api":     {},
	"app":     {},
	"assets":  {},
	"builder": {},
	"queue":   {},
	"site":    {},
	"static":  {},
	"status":  {},
	"wizard":  {},
	"www":     {},
}

// NormalizeSiteName lowercases a candidate and collapses whitespace runs into
// single hyphens so "My Bakery" and "my-bakery" resolve to the same slug.
func NormalizeSiteName(raw string) string {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.Join(strings.Fields(normalized), "-")
	return normalized
}

// ValidateSiteName checks slug shape: length bounds, allowed charset, no
// leading/trailing/double hyphens, and the reserved-name list.
func ValidateSiteName(name string) error {
	if len(name) < minSiteNameLength || len(name) > maxSiteNameLength {
		return ErrInvalidSiteName
	}
	if strings.HasPrefix(name, "-") || strings.HasSuffix(name, "-") {
		return ErrInvalidSiteName
	}
	if strings.Contains(name, "--") {
		return ErrInvalidSiteName
	}
	for _, char := range name {
		isLower := char >= 'a' && char <= 'z'
		isDigit := char >= '0' && char <= '9'
		if !isLower && !isDigit && char != '-' {
			return ErrInvalidSiteName
		}
	}
	if _, reserved := reservedSiteNames[name]; reserved {
		return ErrInvalidSiteName
	}
	return nil
}
