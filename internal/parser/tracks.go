package parser

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

// TrackCatalogue parses the source's top-level track listing. Each row
// carries an anchor to the track's subdomain; the slug is the first host
// label. Rows without a parseable track link are skipped with a warning.
//
// Selectors: rows under "table.track_list tr" (falling back to any table
// when the source drops the class), skipping header rows.
func (p *Parser) TrackCatalogue(html string) ([]racedata.TrackSummary, error) {
	doc, err := load(html)
	if err != nil {
		return nil, racedata.WrapError(racedata.CodeEventPageFormat, "unreadable track catalogue", nil, err)
	}

	rows := doc.Find("table.track_list tr")
	if rows.Length() == 0 {
		rows = doc.Find("table tr")
	}

	if rows.Length() == 0 {
		return nil, racedata.NewError(racedata.CodeEventPageFormat, "track catalogue has no table", nil)
	}

	tracks := make([]racedata.TrackSummary, 0, rows.Length())

	rows.Each(func(_ int, row *goquery.Selection) {
		if row.Find("th").Length() > 0 {
			return
		}

		anchor := row.Find("a[href]").First()

		href, _ := anchor.Attr("href")

		slug := trackSlug(href)
		if slug == "" {
			p.logger.Warn("skipping track row without a track link",
				slog.String("href", href))

			return
		}

		cells := row.Find("td")

		tracks = append(tracks, racedata.TrackSummary{
			SourceTrackSlug:  slug,
			Name:             cellText(anchor),
			TrackURL:         p.urls.TrackDashboard(slug),
			EventsURL:        p.urls.EventIndex(slug),
			LastUpdatedLabel: cellAt(cells, cells.Length()-1),
		})
	})

	return tracks, nil
}

// trackSlug extracts the subdomain slug from a track link such as
// "https://canberra.liverc.com/".
func trackSlug(href string) string {
	u, err := url.Parse(href)
	if err != nil || u.Host == "" {
		return ""
	}

	labels := strings.Split(u.Host, ".")
	if len(labels) < 3 {
		return ""
	}

	return labels[0]
}
