// Package parser turns source HTML pages into domain records. Every
// parser is a pure function over the fetched body: selector-driven,
// tolerant of malformed rows (skipped with a warning) and strict about
// malformed page headers (typed error).
package parser

import (
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JaysonBrenton/mre/internal/config"
	"github.com/JaysonBrenton/mre/internal/connector"
	"github.com/JaysonBrenton/mre/internal/normalize"
)

// Parser parses source pages. URLs for the records it emits are built
// through the shared URL builder so parsed output and fetch requests
// never disagree about paths.
type Parser struct {
	urls   *connector.URLBuilder
	logger *slog.Logger
}

// New creates a Parser emitting URLs for the given builder.
func New(urls *connector.URLBuilder) *Parser {
	return &Parser{
		urls: urls,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// load parses an HTML body into a goquery document.
func load(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// cellText returns the cleaned text of a selection.
func cellText(sel *goquery.Selection) string {
	return normalize.CleanString(sel.Text())
}

// headerIndex maps cleaned lowercase header-cell text to column index for
// one table, so column positions never get hard-coded.
func headerIndex(table *goquery.Selection) map[string]int {
	return rowIndex(table.Find("tr").First())
}

// rowIndex builds the column map from one header row.
func rowIndex(row *goquery.Selection) map[string]int {
	idx := make(map[string]int)

	row.Find("th, td").Each(func(i int, cell *goquery.Selection) {
		key := strings.ToLower(cellText(cell))
		if key != "" {
			idx[key] = i
		}
	})

	return idx
}

// columnFor returns the column index for the first substring that any
// header contains. Among several matching headers the leftmost column
// wins, so "Pos" resolves ahead of "Qual Pos". Returns -1 when nothing
// matches.
func columnFor(idx map[string]int, substrings ...string) int {
	for _, want := range substrings {
		best := -1

		for header, i := range idx {
			if strings.Contains(header, want) && (best == -1 || i < best) {
				best = i
			}
		}

		if best >= 0 {
			return best
		}
	}

	return -1
}

// cellAt returns the cleaned text of the i-th cell, or "" when i is out
// of range or negative.
func cellAt(cells *goquery.Selection, i int) string {
	if i < 0 || i >= cells.Length() {
		return ""
	}

	return cellText(cells.Eq(i))
}

var leadingFloatRe = regexp.MustCompile(`^\d+(?:\.\d+)?`)

// leadingFloat parses the numeric prefix of a cell, discarding trailing
// decoration such as superscript lap markers. Returns nil when the cell
// has no numeric prefix.
func leadingFloat(s string) *float64 {
	m := leadingFloatRe.FindString(strings.TrimSpace(s))
	if m == "" {
		return nil
	}

	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil
	}

	return &v
}

// optionalFloat parses a cell as a float, tolerating percent signs and
// thousands separators. Returns nil for empty or non-numeric cells.
func optionalFloat(s string) *float64 {
	v, err := normalize.Float(s)
	if err != nil {
		return nil
	}

	return &v
}

// optionalInt parses a cell as an integer, nil when absent or malformed.
func optionalInt(s string) *int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil
	}

	return &v
}

// containsFold reports whether s contains substr case-insensitively.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

var transponderSuffixRe = regexp.MustCompile(`^(.*?)\s*\(([^()]+)\)\s*$`)

// classAndTransponder splits "Class (transponder)" cells. Cells without a
// parenthesised suffix return the whole text as the class.
func classAndTransponder(s string) (string, string) {
	s = normalize.CleanString(s)

	if m := transponderSuffixRe.FindStringSubmatch(s); m != nil {
		return normalize.CleanString(m[1]), normalize.CleanString(m[2])
	}

	return s, ""
}
