package parser

import (
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JaysonBrenton/mre/internal/connector"
	"github.com/JaysonBrenton/mre/internal/normalize"
	"github.com/JaysonBrenton/mre/internal/racedata"
)

// PracticeDays collects the day links from a practice month view: every
// anchor whose href carries a d=YYYY-MM-DD parameter, deduplicated,
// filtered to the requested year and month, sorted ascending. A month
// with no sessions returns an empty slice, not an error.
func (p *Parser) PracticeDays(html string, year int, month time.Month) ([]time.Time, error) {
	doc, err := load(html)
	if err != nil {
		return nil, racedata.WrapError(racedata.CodeEventPageFormat, "unreadable practice month view", nil, err)
	}

	seen := make(map[time.Time]struct{})

	doc.Find("a[href*='d=']").Each(func(_ int, anchor *goquery.Selection) {
		href, _ := anchor.Attr("href")

		raw := connector.QueryParam(href, "d")
		if raw == "" {
			return
		}

		day, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return
		}

		if day.Year() == year && day.Month() == month {
			seen[day] = struct{}{}
		}
	})

	days := make([]time.Time, 0, len(seen))
	for day := range seen {
		days = append(days, day)
	}

	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	return days, nil
}

// PracticeDay parses a day's session overview. Each row links to a
// session detail page and hides the precise start datetime in a div; the
// class cell may carry the transponder in parentheses. Rows without a
// session link are skipped with a warning.
//
// Selectors: session link "a[href*='p=view_session']"; columns mapped by
// header labels ("class", "laps", "duration", "fast", "avg"); start
// datetime from the first div in the row that parses as a datetime.
func (p *Parser) PracticeDay(html, slug string) ([]racedata.PracticeSession, error) {
	doc, err := load(html)
	if err != nil {
		return nil, racedata.WrapError(racedata.CodeEventPageFormat, "unreadable practice day page",
			map[string]any{"track": slug}, err)
	}

	rows := doc.Find("table:has(a[href*='p=view_session']) tr")
	if rows.Length() == 0 {
		return nil, racedata.NewError(racedata.CodeEventPageFormat, "practice day page has no session table",
			map[string]any{"track": slug})
	}

	idx := headerIndex(rows.First().Closest("table"))

	var sessions []racedata.PracticeSession

	rows.Each(func(_ int, row *goquery.Selection) {
		if row.Find("th").Length() > 0 {
			return
		}

		anchor := row.Find("a[href*='p=view_session']").First()

		href, _ := anchor.Attr("href")

		sessionID := connector.QueryParam(href, "id")
		if sessionID == "" {
			p.logger.Warn("skipping practice row without a session link",
				slog.String("track", slug))

			return
		}

		cells := row.Find("td")
		className, transponder := classAndTransponder(cellAt(cells, columnFor(idx, "class")))

		session := racedata.PracticeSession{
			SourceSessionID: sessionID,
			DriverName:      cellText(anchor),
			ClassName:       className,
			TransponderID:   transponder,
			FastLapSeconds:  leadingFloat(cellAt(cells, columnFor(idx, "fast"))),
			AvgLapSeconds:   optionalFloat(cellAt(cells, columnFor(idx, "avg"))),
			SessionURL:      p.urls.PracticeSession(slug, sessionID),
		}

		if n, err := strconv.Atoi(cellAt(cells, columnFor(idx, "laps"))); err == nil {
			session.LapCount = n
		}

		if d := cellAt(cells, columnFor(idx, "duration")); d != "" {
			if seconds, err := normalize.LapTime(d); err == nil {
				session.DurationSeconds = &seconds
			}
		}

		row.Find("div").EachWithBreak(func(_ int, div *goquery.Selection) bool {
			start, err := normalize.DateTime(cellText(div))
			if err != nil {
				return true
			}

			session.StartTime = &start

			return false
		})

		sessions = append(sessions, session)
	})

	return sessions, nil
}

var lapsObjStartRe = regexp.MustCompile(`lapsObj\s*=\s*\[`)

// PracticeSession parses a session detail page. Header fields are looked
// up by row label substring rather than position, so a reordered header
// table still parses. Laps come from the page-level lapsObj array when
// present, else from the race-style racerLaps block matching the
// session's transponder.
func (p *Parser) PracticeSession(html, requestURL string) (*racedata.PracticeSessionDetail, error) {
	doc, err := load(html)
	if err != nil {
		return nil, racedata.WrapError(racedata.CodeEventPageFormat, "unreadable practice session page",
			map[string]any{"url": requestURL}, err)
	}

	sessionID := connector.QueryParam(requestURL, "id")
	if sessionID == "" {
		return nil, racedata.NewError(racedata.CodeEventPageFormat, "request URL carries no session id",
			map[string]any{"url": requestURL})
	}

	detail := &racedata.PracticeSessionDetail{SourceSessionID: sessionID}

	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		header := row.Find("th").First()
		value := row.Find("td").First()

		if header.Length() == 0 || value.Length() == 0 {
			return
		}

		label := cellText(header)
		text := cellText(value)

		switch {
		case containsFold(label, "driver"):
			detail.DriverName = text
		case containsFold(label, "class"):
			className, transponder := classAndTransponder(text)

			detail.ClassName = className
			if transponder != "" {
				detail.TransponderID = transponder
			}
		case containsFold(label, "transponder"):
			detail.TransponderID = text
		case containsFold(label, "start"), containsFold(label, "date"):
			if start, err := normalize.DateTime(text); err == nil {
				detail.StartTime = &start
			}
		}
	})

	if detail.DriverName == "" {
		return nil, racedata.NewError(racedata.CodeEventPageFormat, "session page has no driver row",
			map[string]any{"url": requestURL, "session_id": sessionID})
	}

	detail.Laps = p.practiceLaps(html, detail.TransponderID, sessionID)

	return detail, nil
}

// practiceLaps extracts a session's laps: the practice-specific lapsObj
// array first, the racerLaps block as fallback. A session with neither
// yields no laps.
func (p *Parser) practiceLaps(html, transponderID, sessionID string) []racedata.ParsedLap {
	if m := lapsObjStartRe.FindStringIndex(html); m != nil {
		arrText, ok := balancedSlice(html[m[1]-1:])
		if ok {
			if decoded, err := parseJSValue(arrText); err == nil {
				if rawLaps, ok := decoded.([]any); ok {
					return p.convertLaps(sessionID, rawLaps)
				}
			}
		}

		p.logger.Warn("undecodable lapsObj array, trying racerLaps",
			slog.String("session_id", sessionID))
	}

	blocks, err := p.raceLapBlocks(html)
	if err != nil {
		return []racedata.ParsedLap{}
	}

	if block, ok := blocks[transponderID]; ok {
		return block.laps
	}

	for _, block := range blocks {
		return block.laps
	}

	return []racedata.ParsedLap{}
}
