package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

const eventListFixture = `
<table class="dataTable">
  <tr><th>Event</th><th>Date</th></tr>
  <tr>
    <td><a href="/results/?p=view_event&id=111">Winter Series Rd 1</a></td>
    <td><span style="display:none">2025-06-14 09:00:00</span>June 14, 2025</td>
  </tr>
  <tr>
    <td><a href="/results/?p=view_event&id=112">Winter Series Rd 2</a></td>
    <td>June 28, 2025</td>
  </tr>
</table>
`

func TestEventList(t *testing.T) {
	p := newTestParser()

	events, err := p.EventList(eventListFixture, "canberra")
	require.NoError(t, err)
	require.Len(t, events, 1, "rows without a hidden timestamp are skipped")

	assert.Equal(t, "111", events[0].SourceEventID)
	assert.Equal(t, "Winter Series Rd 1", events[0].Name)
	assert.Equal(t, time.Date(2025, time.June, 14, 9, 0, 0, 0, time.UTC), events[0].ScheduledDate)
	assert.Equal(t, "https://canberra.liverc.com/results/?p=view_event&id=111", events[0].EventURL)
}

func TestEventListNoTable(t *testing.T) {
	p := newTestParser()

	_, err := p.EventList("<html><body></body></html>", "canberra")

	require.Error(t, err)
	assert.Equal(t, racedata.CodeEventPageFormat, racedata.CodeOf(err))
}

const eventPageFixture = `
<h2>Winter Series Rd 1</h2>
<h3>June 14, 2025 at 9:00AM</h3>
<table class="event_stats">
  <tr><th>Entries</th><td>42</td></tr>
  <tr><th>Drivers</th><td>38</td></tr>
</table>
<table class="race_list">
  <tr><th colspan="2">Main Events</th></tr>
  <tr>
    <td><a href="/results/?p=view_race_result&id=901">Race 3: 2WD Buggy (A-Main)</a></td>
    <td>June 14, 2025 at 2:30PM</td>
  </tr>
  <tr>
    <td><a href="/results/?p=view_race_result&id=902">Race 4: 4WD Buggy</a></td>
    <td>June 14, 2025 at 3:00PM</td>
  </tr>
  <tr>
    <td>Race with no link</td>
    <td></td>
  </tr>
</table>
`

func TestEvent(t *testing.T) {
	p := newTestParser()

	event, err := p.Event(eventPageFixture, "canberra", "https://canberra.liverc.com/results/?p=view_event&id=111")
	require.NoError(t, err)

	assert.Equal(t, "111", event.SourceEventID)
	assert.Equal(t, "Winter Series Rd 1", event.Name)
	assert.Equal(t, time.Date(2025, time.June, 14, 9, 0, 0, 0, time.UTC), event.ScheduledDate)
	assert.Equal(t, 42, event.EntriesCount)
	assert.Equal(t, 38, event.DriversCount)
	assert.Equal(t, "https://canberra.liverc.com/results/?p=view_event&id=111", event.EventURL)

	require.Len(t, event.Races, 2, "rows without a race link are skipped")

	aMain := event.Races[0]
	assert.Equal(t, "901", aMain.SourceRaceID)
	assert.Equal(t, "Race 3: 2WD Buggy (A-Main)", aMain.FullLabel)
	assert.Equal(t, "2WD Buggy", aMain.ClassName)
	assert.Equal(t, "A-Main", aMain.Label)
	require.NotNil(t, aMain.RaceOrder)
	assert.Equal(t, 3, *aMain.RaceOrder)
	assert.Equal(t, "https://canberra.liverc.com/results/?p=view_race_result&id=901", aMain.RaceURL)
	require.NotNil(t, aMain.StartTime)
	assert.Equal(t, time.Date(2025, time.June, 14, 14, 30, 0, 0, time.UTC), *aMain.StartTime)

	noParens := event.Races[1]
	assert.Equal(t, "4WD Buggy", noParens.ClassName)
	assert.Equal(t, "4WD Buggy", noParens.Label, "without parentheses the label equals the class")
	require.NotNil(t, noParens.RaceOrder)
	assert.Equal(t, 4, *noParens.RaceOrder)
}

func TestEventMissingHeaders(t *testing.T) {
	p := newTestParser()

	tests := []struct {
		name string
		html string
	}{
		{"no name", `<h3>June 14, 2025 at 9:00AM</h3>`},
		{"no date", `<h2>Winter Series Rd 1</h2>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Event(tt.html, "canberra", "https://canberra.liverc.com/results/?p=view_event&id=111")

			require.Error(t, err)
			assert.Equal(t, racedata.CodeEventPageFormat, racedata.CodeOf(err))
		})
	}
}

func TestEventNoIDInURL(t *testing.T) {
	p := newTestParser()

	_, err := p.Event(eventPageFixture, "canberra", "https://canberra.liverc.com/results/?p=view_event")

	require.Error(t, err)
	assert.Equal(t, racedata.CodeEventPageFormat, racedata.CodeOf(err))
}

func TestDecomposeRaceLabel(t *testing.T) {
	tests := []struct {
		name      string
		fullLabel string
		wantClass string
		wantLabel string
		wantOrder *int
	}{
		{"class and label", "Race 3: 2WD Buggy (A-Main)", "2WD Buggy", "A-Main", intPtr(3)},
		{"class only", "Race 12: Stadium Truck", "Stadium Truck", "Stadium Truck", intPtr(12)},
		{"unpatterned with number", "Heat 2 Stock Buggy", "Heat 2 Stock Buggy", "Heat 2 Stock Buggy", intPtr(2)},
		{"unpatterned no number", "Invitational", "Invitational", "Invitational", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, label, order := decomposeRaceLabel(tt.fullLabel)

			assert.Equal(t, tt.wantClass, class)
			assert.Equal(t, tt.wantLabel, label)
			assert.Equal(t, tt.wantOrder, order)
		})
	}
}

func intPtr(v int) *int { return &v }
