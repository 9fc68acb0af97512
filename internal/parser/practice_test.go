package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const practiceMonthFixture = `
<div class="calendar">
  <a href="/practice/?p=session_list&d=2025-03-09">9</a>
  <a href="/practice/?p=session_list&d=2025-03-09">9 (again)</a>
  <a href="/practice/?p=session_list&d=2025-03-02">2</a>
  <a href="/practice/?p=session_list&d=2025-02-28">28</a>
  <a href="/practice/?p=session_list&d=notadate">x</a>
  <a href="/practice/?p=month_view">next</a>
</div>
`

func TestPracticeDays(t *testing.T) {
	p := newTestParser()

	days, err := p.PracticeDays(practiceMonthFixture, 2025, time.March)
	require.NoError(t, err)

	want := []time.Time{
		time.Date(2025, time.March, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.March, 9, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, want, days, "deduplicated, filtered to the month, sorted")
}

func TestPracticeDaysEmptyMonth(t *testing.T) {
	p := newTestParser()

	days, err := p.PracticeDays(practiceMonthFixture, 2025, time.July)
	require.NoError(t, err)
	assert.Empty(t, days)
}

const practiceDayFixture = `
<table>
  <tr><th>Driver</th><th>Class</th><th>Laps</th><th>Duration</th><th>Fastest Lap</th><th>Avg Lap</th></tr>
  <tr>
    <td><a href="/practice/?p=view_session&id=777">Jayson Brenton</a><div style="display:none">2025-03-09 10:15:00</div></td>
    <td>2WD Buggy (1234567)</td>
    <td>23</td>
    <td>22:31.5</td>
    <td>45.1</td>
    <td>46.2</td>
  </tr>
  <tr>
    <td>No session link here</td>
    <td></td><td></td><td></td><td></td><td></td>
  </tr>
</table>
`

func TestPracticeDay(t *testing.T) {
	p := newTestParser()

	sessions, err := p.PracticeDay(practiceDayFixture, "canberra")
	require.NoError(t, err)
	require.Len(t, sessions, 1, "rows without a session link are skipped")

	s := sessions[0]
	assert.Equal(t, "777", s.SourceSessionID)
	assert.Equal(t, "Jayson Brenton", s.DriverName)
	assert.Equal(t, "2WD Buggy", s.ClassName)
	assert.Equal(t, "1234567", s.TransponderID)
	require.NotNil(t, s.StartTime)
	assert.Equal(t, time.Date(2025, time.March, 9, 10, 15, 0, 0, time.UTC), *s.StartTime)
	assert.Equal(t, 23, s.LapCount)
	require.NotNil(t, s.DurationSeconds)
	assert.InDelta(t, 1351.5, *s.DurationSeconds, 0.0001)
	require.NotNil(t, s.FastLapSeconds)
	assert.Equal(t, 45.1, *s.FastLapSeconds)
	require.NotNil(t, s.AvgLapSeconds)
	assert.Equal(t, 46.2, *s.AvgLapSeconds)
	assert.Equal(t, "https://canberra.liverc.com/practice/?p=view_session&id=777", s.SessionURL)
}

const practiceSessionFixture = `
<table>
  <tr><th>Driver</th><td>Jayson Brenton</td></tr>
  <tr><th>Class</th><td>2WD Buggy (1234567)</td></tr>
  <tr><th>Start Time</th><td>2025-03-09 10:15:00</td></tr>
</table>
<script>
lapsObj = [ { 'lapNum': 1, 'pos': 1, 'time': 45.5 }, { 'lapNum': 2, 'pos': 1, 'time': 46.1 } ];
</script>
`

func TestPracticeSession(t *testing.T) {
	p := newTestParser()

	detail, err := p.PracticeSession(practiceSessionFixture, "https://canberra.liverc.com/practice/?p=view_session&id=777")
	require.NoError(t, err)

	assert.Equal(t, "777", detail.SourceSessionID)
	assert.Equal(t, "Jayson Brenton", detail.DriverName)
	assert.Equal(t, "2WD Buggy", detail.ClassName)
	assert.Equal(t, "1234567", detail.TransponderID)
	require.NotNil(t, detail.StartTime)
	assert.Equal(t, time.Date(2025, time.March, 9, 10, 15, 0, 0, time.UTC), *detail.StartTime)

	require.Len(t, detail.Laps, 2)
	assert.Equal(t, 45.5, detail.Laps[0].LapTimeSeconds)
	assert.InDelta(t, 91.6, detail.Laps[1].ElapsedRaceTime, 0.0001)
}

const practiceSessionRacerLapsFixture = `
<table>
  <tr><th>Driver</th><td>Jayson Brenton</td></tr>
  <tr><th>Class</th><td>2WD Buggy (1234567)</td></tr>
</table>
<script>
racerLaps[1234567] = { 'driverName': 'Jayson Brenton', 'laps': [ { 'lapNum': 1, 'pos': 1, 'time': 44.9 } ] };
</script>
`

func TestPracticeSessionRacerLapsFallback(t *testing.T) {
	p := newTestParser()

	detail, err := p.PracticeSession(practiceSessionRacerLapsFixture, "https://canberra.liverc.com/practice/?p=view_session&id=778")
	require.NoError(t, err)

	require.Len(t, detail.Laps, 1)
	assert.Equal(t, 44.9, detail.Laps[0].LapTimeSeconds)
}

func TestPracticeSessionMissingDriver(t *testing.T) {
	p := newTestParser()

	_, err := p.PracticeSession("<table></table>", "https://canberra.liverc.com/practice/?p=view_session&id=779")

	require.Error(t, err)
}
