package parser

import (
	"log/slog"

	"github.com/PuerkitoBio/goquery"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

// EntryList parses an event's declared entry list. Each class is its own
// table whose header carries a class_header element; data rows give car
// number, driver name and transponder. The source exposes no driver id
// here, so rows carry the name only and the normalizer synthesizes a
// temporary id downstream.
//
// Selectors: class tables "table:has(.class_header)"; class name from the
// ".class_header" text; columns mapped by header labels ("car",
// "driver", "transponder"), with a single-cell row read as the driver
// name.
func (p *Parser) EntryList(html string) ([]racedata.EntryRow, error) {
	doc, err := load(html)
	if err != nil {
		return nil, racedata.WrapError(racedata.CodeEventPageFormat, "unreadable entry list", nil, err)
	}

	tables := doc.Find("table:has(.class_header)")
	if tables.Length() == 0 {
		return nil, racedata.NewError(racedata.CodeEventPageFormat, "entry list has no class tables", nil)
	}

	var entries []racedata.EntryRow

	tables.Each(func(_ int, table *goquery.Selection) {
		className := cellText(table.Find(".class_header").First())
		if className == "" {
			p.logger.Warn("skipping entry table without a class name")

			return
		}

		// The class header occupies the table's first row; the column
		// labels sit in the first header row after it.
		columnRow := table.Find("tr").FilterFunction(func(_ int, row *goquery.Selection) bool {
			return row.Find("th").Length() > 0 && row.Find(".class_header").Length() == 0
		}).First()

		idx := rowIndex(columnRow)

		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			if row.Find("th").Length() > 0 || row.Find(".class_header").Length() > 0 {
				return
			}

			cells := row.Find("td")
			if cells.Length() == 0 {
				return
			}

			entry := racedata.EntryRow{
				ClassName:     className,
				DriverName:    cellAt(cells, columnFor(idx, "driver")),
				CarNumber:     cellAt(cells, columnFor(idx, "car")),
				TransponderID: cellAt(cells, columnFor(idx, "transponder")),
			}

			if entry.DriverName == "" && cells.Length() == 1 {
				entry.DriverName = cellAt(cells, 0)
			}

			if entry.DriverName == "" {
				p.logger.Warn("skipping entry row without a driver name",
					slog.String("class", className))

				return
			}

			entries = append(entries, entry)
		})
	})

	return entries, nil
}
