package parser

import (
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JaysonBrenton/mre/internal/connector"
	"github.com/JaysonBrenton/mre/internal/normalize"
	"github.com/JaysonBrenton/mre/internal/racedata"
)

var isoDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// EventList parses a track's event index. Rows come from the page's
// DataTable; each data row links to the event page and hides an ISO
// timestamp in a span so the pretty date stays sortable. Header rows and
// rows without an event link or timestamp are skipped with a warning.
//
// Selectors: "table.dataTable tr" (any table as fallback); event link
// "a[href*='p=view_event']"; timestamp: first span whose text starts with
// an ISO date.
func (p *Parser) EventList(html, slug string) ([]racedata.EventSummary, error) {
	doc, err := load(html)
	if err != nil {
		return nil, racedata.WrapError(racedata.CodeEventPageFormat, "unreadable event index", nil, err)
	}

	rows := doc.Find("table.dataTable tr")
	if rows.Length() == 0 {
		rows = doc.Find("table tr")
	}

	if rows.Length() == 0 {
		return nil, racedata.NewError(racedata.CodeEventPageFormat, "event index has no table",
			map[string]any{"track": slug})
	}

	events := make([]racedata.EventSummary, 0, rows.Length())

	rows.Each(func(_ int, row *goquery.Selection) {
		if row.Find("th").Length() > 0 {
			return
		}

		anchor := row.Find("a[href*='p=view_event']").First()

		href, _ := anchor.Attr("href")

		eventID := connector.QueryParam(href, "id")
		if eventID == "" {
			p.logger.Warn("skipping event row without an event link",
				slog.String("track", slug))

			return
		}

		scheduled, ok := hiddenTimestamp(row)
		if !ok {
			p.logger.Warn("skipping event row without a timestamp",
				slog.String("track", slug),
				slog.String("event_id", eventID))

			return
		}

		events = append(events, racedata.EventSummary{
			SourceEventID: eventID,
			Name:          cellText(anchor),
			ScheduledDate: scheduled,
			EventURL:      p.urls.EventResults(slug, eventID),
		})
	})

	return events, nil
}

// hiddenTimestamp finds the row's ISO timestamp span and parses it.
func hiddenTimestamp(row *goquery.Selection) (time.Time, bool) {
	var (
		found time.Time
		ok    bool
	)

	row.Find("span").EachWithBreak(func(_ int, span *goquery.Selection) bool {
		text := cellText(span)
		if !isoDateRe.MatchString(text) {
			return true
		}

		parsed, err := normalize.DateTime(text)
		if err != nil {
			return true
		}

		found, ok = parsed, true

		return false
	})

	return found, ok
}

var raceLabelRe = regexp.MustCompile(`^Race\s+(\d+):\s*(.+?)\s*(?:\(([^()]+)\))?$`)

// Event parses the event page: header metadata, the declared entry and
// driver counts from the stats table, and the race list grouped under
// section header rows. The event id comes from the request URL, not the
// body. A missing name or date is a page-format error; malformed race
// rows are skipped with a warning.
//
// Selectors: name "h2"; date: first of "h3, h4, .event_date" that parses
// as a datetime; stats "table.event_stats tr" with label/value cells;
// races "table.race_list tr" (any table with race-result links as
// fallback), race link "a[href*='p=view_race_result']".
func (p *Parser) Event(html, slug, requestURL string) (*racedata.ParsedEvent, error) {
	doc, err := load(html)
	if err != nil {
		return nil, racedata.WrapError(racedata.CodeEventPageFormat, "unreadable event page",
			map[string]any{"url": requestURL}, err)
	}

	eventID := connector.QueryParam(requestURL, "id")
	if eventID == "" {
		return nil, racedata.NewError(racedata.CodeEventPageFormat, "request URL carries no event id",
			map[string]any{"url": requestURL})
	}

	name := cellText(doc.Find("h2").First())
	if name == "" {
		return nil, racedata.NewError(racedata.CodeEventPageFormat, "event page has no name header",
			map[string]any{"url": requestURL, "event_id": eventID})
	}

	scheduled, ok := headerDate(doc)
	if !ok {
		return nil, racedata.NewError(racedata.CodeEventPageFormat, "event page has no parseable date",
			map[string]any{"url": requestURL, "event_id": eventID})
	}

	event := &racedata.ParsedEvent{
		SourceEventID: eventID,
		Name:          name,
		ScheduledDate: scheduled,
		EventURL:      p.urls.EventResults(slug, eventID),
	}

	p.eventStats(doc, event)

	event.Races = p.raceList(doc, slug, eventID)

	return event, nil
}

// headerDate scans header elements for the first parseable datetime.
func headerDate(doc *goquery.Document) (time.Time, bool) {
	var (
		found time.Time
		ok    bool
	)

	doc.Find("h3, h4, .event_date").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		parsed, err := normalize.DateTime(cellText(sel))
		if err != nil {
			return true
		}

		found, ok = parsed, true

		return false
	})

	return found, ok
}

// eventStats fills the declared entry and driver counts from the small
// label/value stats table. Absent labels leave the counts at zero.
func (p *Parser) eventStats(doc *goquery.Document, event *racedata.ParsedEvent) {
	doc.Find("table.event_stats tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("th, td")
		if cells.Length() < 2 {
			return
		}

		label := normalize.CleanString(cells.First().Text())
		value, err := strconv.Atoi(cellAt(cells, cells.Length()-1))

		if err != nil {
			return
		}

		switch {
		case containsFold(label, "entries"):
			event.EntriesCount = value
		case containsFold(label, "drivers"):
			event.DriversCount = value
		}
	})
}

// raceList extracts the event's races. Section header rows (rows with th
// cells) delimit groups and are skipped; every data row needs a race
// link and a label.
func (p *Parser) raceList(doc *goquery.Document, slug, eventID string) []racedata.RaceSummary {
	rows := doc.Find("table.race_list tr")
	if rows.Length() == 0 {
		rows = doc.Find("table:has(a[href*='p=view_race_result']) tr")
	}

	races := make([]racedata.RaceSummary, 0, rows.Length())

	rows.Each(func(_ int, row *goquery.Selection) {
		if row.Find("th").Length() > 0 {
			return
		}

		anchor := row.Find("a[href*='p=view_race_result']").First()

		href, _ := anchor.Attr("href")

		raceID := connector.QueryParam(href, "id")
		fullLabel := cellText(anchor)

		if raceID == "" || fullLabel == "" {
			p.logger.Warn("skipping race row without link or label",
				slog.String("event_id", eventID))

			return
		}

		race := racedata.RaceSummary{
			SourceRaceID: raceID,
			FullLabel:    fullLabel,
			RaceURL:      p.urls.RaceResult(slug, raceID),
		}

		race.ClassName, race.Label, race.RaceOrder = decomposeRaceLabel(fullLabel)

		cells := row.Find("td")
		if start := cellAt(cells, cells.Length()-1); start != "" {
			if t, err := normalize.DateTime(start); err == nil {
				race.StartTime = &t
			}
		}

		races = append(races, race)
	})

	return races
}

// decomposeRaceLabel splits "Race <n>: <class> (<label>)" into its parts.
// Without parentheses the label equals the class; labels that do not
// match the pattern at all keep the full text for both, with the order
// recovered from the first integer when present.
func decomposeRaceLabel(fullLabel string) (className, label string, order *int) {
	if m := raceLabelRe.FindStringSubmatch(fullLabel); m != nil {
		n, _ := strconv.Atoi(m[1])
		className = normalize.CleanString(m[2])
		label = className

		if m[3] != "" {
			label = normalize.CleanString(m[3])
		}

		return className, label, &n
	}

	cleaned, order := normalize.RaceLabel(fullLabel)

	return cleaned, cleaned, order
}
