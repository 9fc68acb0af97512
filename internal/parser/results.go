package parser

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JaysonBrenton/mre/internal/normalize"
	"github.com/JaysonBrenton/mre/internal/racedata"
)

// extraColumns are the aggregate columns stored in the opaque extras bag
// rather than as first-class fields.
var extraColumns = []struct {
	key     string
	headers []string
}{
	{"avg_top_5", []string{"top 5"}},
	{"avg_top_10", []string{"top 10"}},
	{"avg_top_15", []string{"top 15"}},
	{"top_3_consecutive", []string{"consec"}},
	{"std_deviation", []string{"std"}},
}

// RacePage parses a race-result page: the scored results table plus the
// embedded racerLaps blocks. Returned laps are keyed by source driver id.
// Rows without a resolvable driver id or a readable position are skipped
// with a warning; a page without the results table is a RacePageFormat
// error, and one without any racerLaps block is LapTableMissing (the
// fetch layer retries both through the render path).
//
// The driver id for a row comes from its data-driver-id attribute when
// present, else from the uppercased display-name map built out of the
// racerLaps blocks.
func (p *Parser) RacePage(html, requestURL string) ([]racedata.ResultRow, map[string][]racedata.ParsedLap, error) {
	doc, err := load(html)
	if err != nil {
		return nil, nil, racedata.WrapError(racedata.CodeRacePageFormat, "unreadable race page",
			map[string]any{"url": requestURL}, err)
	}

	blocks, err := p.raceLapBlocks(html)
	if err != nil {
		return nil, nil, err
	}

	nameToID := make(map[string]string, len(blocks))
	laps := make(map[string][]racedata.ParsedLap, len(blocks))

	for driverID, block := range blocks {
		if block.driverName != "" {
			nameToID[strings.ToUpper(normalize.CleanString(block.driverName))] = driverID
		}

		laps[driverID] = block.laps
	}

	table, idx := p.resultsTable(doc)
	if table == nil {
		return nil, nil, racedata.NewError(racedata.CodeRacePageFormat, "race page has no results table",
			map[string]any{"url": requestURL})
	}

	var results []racedata.ResultRow

	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		if row.Find("th").Length() > 0 {
			return
		}

		result, ok := p.resultRow(row, idx, nameToID, requestURL)
		if ok {
			results = append(results, result)
		}
	})

	return results, laps, nil
}

// resultsTable finds the table whose header carries both a position and a
// driver column, with the header map for column lookup.
func (p *Parser) resultsTable(doc *goquery.Document) (*goquery.Selection, map[string]int) {
	var (
		found *goquery.Selection
		idx   map[string]int
	)

	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		candidate := headerIndex(table)

		if columnFor(candidate, "driver") >= 0 && columnFor(candidate, "pos") >= 0 {
			found, idx = table, candidate

			return false
		}

		return true
	})

	return found, idx
}

// resultRow parses one scored row, reporting false on any condition that
// makes the row unusable; the caller skips it.
func (p *Parser) resultRow(
	row *goquery.Selection,
	idx map[string]int,
	nameToID map[string]string,
	requestURL string,
) (racedata.ResultRow, bool) {
	cells := row.Find("td")

	driverName := cellAt(cells, columnFor(idx, "driver"))
	if driverName == "" {
		p.logger.Warn("skipping result row without a driver name",
			slog.String("url", requestURL))

		return racedata.ResultRow{}, false
	}

	driverID, _ := row.Attr("data-driver-id")
	if driverID == "" {
		driverID = nameToID[strings.ToUpper(driverName)]
	}

	if driverID == "" {
		p.logger.Warn("skipping result row with no resolvable driver id",
			slog.String("url", requestURL),
			slog.String("driver", driverName))

		return racedata.ResultRow{}, false
	}

	position, err := strconv.Atoi(cellAt(cells, columnFor(idx, "pos")))
	if err != nil || position < 1 {
		p.logger.Warn("skipping result row with unreadable position",
			slog.String("url", requestURL),
			slog.String("driver", driverName))

		return racedata.ResultRow{}, false
	}

	lapsCell := cellAt(cells, columnFor(idx, "laps"))

	lapsCompleted, totalSeconds, err := normalize.TotalRaceTime(lapsCell)
	if err != nil {
		p.logger.Warn("skipping result row with unreadable laps/time cell",
			slog.String("url", requestURL),
			slog.String("driver", driverName),
			slog.String("cell", lapsCell))

		return racedata.ResultRow{}, false
	}

	result := racedata.ResultRow{
		SourceDriverID:   driverID,
		DriverName:       driverName,
		TransponderID:    cellAt(cells, columnFor(idx, "transponder")),
		PositionFinal:    position,
		PositionQualify:  optionalInt(cellAt(cells, columnFor(idx, "qual"))),
		LapsCompleted:    lapsCompleted,
		TotalTimeRaw:     lapsCell,
		TotalTimeSeconds: totalSeconds,
		FastLapSeconds:   leadingFloat(ownText(cells, columnFor(idx, "fast"))),
		AvgLapSeconds:    optionalFloat(hiddenDivText(cells, columnFor(idx, "avg"))),
		Consistency:      optionalFloat(cellAt(cells, columnFor(idx, "consistency"))),
		BehindSeconds:    optionalFloat(cellAt(cells, columnFor(idx, "behind"))),
		Extra:            map[string]any{},
	}

	for _, col := range extraColumns {
		if v := optionalFloat(cellAt(cells, columnFor(idx, col.headers...))); v != nil {
			result.Extra[col.key] = *v
		}
	}

	return result, true
}

// ownText returns the i-th cell's direct text content, excluding child
// elements. The fastest-lap cell renders its lap marker in a sup element
// whose digits would otherwise fuse with the numeric prefix.
func ownText(cells *goquery.Selection, i int) string {
	if i < 0 || i >= cells.Length() {
		return ""
	}

	var b strings.Builder

	for _, node := range cells.Eq(i).Nodes {
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			if child.Type == html.TextNode {
				b.WriteString(child.Data)
			}
		}
	}

	return normalize.CleanString(b.String())
}

// hiddenDivText returns the text of the cell's inner div when present,
// falling back to the cell text. The average-lap column renders a rounded
// value and hides the precise one in a div.
func hiddenDivText(cells *goquery.Selection, i int) string {
	if i < 0 || i >= cells.Length() {
		return ""
	}

	cell := cells.Eq(i)

	if div := cell.Find("div").First(); div.Length() > 0 {
		return cellText(div)
	}

	return cellText(cell)
}
