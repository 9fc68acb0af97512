// Package normalize cleans scraped strings and parses the source's time,
// number and label formats into canonical values.
//
// Everything in this package is a pure function; failures surface as
// Normalisation errors from the racedata taxonomy.
package normalize

import (
	"crypto/md5" //nolint:gosec // Fingerprint for synthetic ids, not security.
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// CleanString applies Unicode NFKC, replaces non-breaking spaces with
// ordinary ones, collapses whitespace runs and trims.
//
// The source's tables mix NBSP padding with regular spaces; without NFKC,
// full-width digits from copy-pasted entry lists fail numeric parsing.
func CleanString(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ReplaceAll(s, " ", " ")
	s = whitespaceRun.ReplaceAllString(s, " ")

	return strings.TrimSpace(s)
}

// SyntheticDriverID derives the temporary source driver id used for drivers
// created from entry lists, where the source exposes no id. The id is
// "entry_" plus the first 16 hex chars of md5 over the lowercased trimmed
// name, so the same name always yields the same id within an event.
func SyntheticDriverID(driverName string) string {
	key := strings.ToLower(strings.TrimSpace(driverName))
	sum := md5.Sum([]byte(key)) //nolint:gosec // Fingerprint, not security.

	return "entry_" + hex.EncodeToString(sum[:])[:16]
}

// IsSyntheticDriverID reports whether the id was synthesized from an entry
// list rather than revealed by the source.
func IsSyntheticDriverID(sourceDriverID string) bool {
	return strings.HasPrefix(sourceDriverID, "entry_")
}
