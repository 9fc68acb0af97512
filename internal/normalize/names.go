package normalize

import (
	"regexp"
	"sort"
	"strings"
)

// noiseTokens are club/team suffixes that carry no identity signal. Only a
// trailing run of them is removed, so "RC Racing Club" as a full name is
// left alone while "John Smith RC" loses the suffix.
var noiseTokens = map[string]bool{
	"rc":      true,
	"raceway": true,
	"club":    true,
	"inc":     true,
	"team":    true,
}

var nonWordOrSpace = regexp.MustCompile(`[^\w\s]`)

// DriverName canonicalizes a driver display name for fuzzy matching.
//
// Steps, in order:
//  1. Lowercase and collapse whitespace.
//  2. "&" becomes "and".
//  3. Strip everything that is not a word character or space.
//  4. Drop a trailing run of noise tokens (rc, raceway, club, inc, team).
//  5. Split doubled tokens: an even-length token whose halves are equal
//     becomes two tokens ("jaysonjayson" -> "jayson jayson"), a frequent
//     transponder-registration artifact.
//  6. De-duplicate tokens, first occurrence wins.
//  7. Sort alphabetically when more than one token remains, making
//     "Smith John" and "John Smith" identical.
//
// The function is idempotent: DriverName(DriverName(x)) == DriverName(x).
func DriverName(name string) string {
	s := strings.ToLower(CleanString(name))
	s = strings.ReplaceAll(s, "&", "and")
	s = nonWordOrSpace.ReplaceAllString(s, "")
	s = whitespaceRun.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	if s == "" {
		return ""
	}

	tokens := strings.Fields(s)

	// Trailing noise-token run.
	for len(tokens) > 1 && noiseTokens[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}

	// Doubled-token split.
	split := make([]string, 0, len(tokens))

	for _, tok := range tokens {
		if half := doubledHalf(tok); half != "" {
			split = append(split, half, half)

			continue
		}

		split = append(split, tok)
	}

	// De-duplicate, preserving first occurrence.
	seen := make(map[string]bool, len(split))
	unique := split[:0]

	for _, tok := range split {
		if seen[tok] {
			continue
		}

		seen[tok] = true
		unique = append(unique, tok)
	}

	if len(unique) > 1 {
		sort.Strings(unique)
	}

	return strings.Join(unique, " ")
}

// doubledHalf returns the half of an even-length token whose two halves are
// equal, or "" when the token is not doubled. Single characters are never
// doubled ("aa" is, "a" is not).
func doubledHalf(tok string) string {
	if len(tok) < 2 || len(tok)%2 != 0 {
		return ""
	}

	half := tok[:len(tok)/2]
	if tok[len(tok)/2:] == half {
		return half
	}

	return ""
}
