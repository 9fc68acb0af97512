package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

const racePageFixture = `
<table class="race_results">
  <tr>
    <th>Pos</th><th>Qual</th><th>Driver</th><th>Laps/Time</th><th>Behind</th>
    <th>Fastest Lap</th><th>Avg Lap</th><th>Consistency</th>
    <th>Top 5</th><th>Top 10</th><th>Top 15</th><th>Consecutive</th><th>Std Dev</th>
  </tr>
  <tr data-driver-id="5001">
    <td>1</td><td>2</td><td>Jayson Brenton</td><td>26/20:23.443</td><td></td>
    <td>45.12<sup>3</sup></td><td><span>47.1</span><div style="display:none">47.056</div></td><td>92.4%</td>
    <td>45.8</td><td>46.1</td><td>46.4</td><td>138.2</td><td>1.21</td>
  </tr>
  <tr>
    <td>2</td><td>1</td><td>Ryan O'Brien</td><td>25/20:31.101</td><td>1 Lap</td>
    <td>46.01</td><td>48.2</td><td>88.0%</td>
    <td></td><td></td><td></td><td></td><td></td>
  </tr>
  <tr>
    <td>3</td><td></td><td>Unknown Driver</td><td>0</td><td></td>
    <td></td><td></td><td></td>
    <td></td><td></td><td></td><td></td><td></td>
  </tr>
</table>
<script>
racerLaps[5001] = { 'driverName': 'Jayson Brenton', 'laps': [ { 'lapNum': 1, 'pos': 1, 'time': 45.5 } ] };
racerLaps[5002] = { "driverName": "Ryan O'Brien", "laps": [ { 'lapNum': 1, 'pos': 2, 'time': 46.2 } ] };
</script>
`

func TestRacePage(t *testing.T) {
	p := newTestParser()

	results, laps, err := p.RacePage(racePageFixture, "https://canberra.liverc.com/results/?p=view_race_result&id=901")
	require.NoError(t, err)

	require.Len(t, results, 2, "rows with no resolvable driver id are skipped")

	winner := results[0]
	assert.Equal(t, "5001", winner.SourceDriverID, "driver id from the row attribute")
	assert.Equal(t, "Jayson Brenton", winner.DriverName)
	assert.Equal(t, 1, winner.PositionFinal)
	require.NotNil(t, winner.PositionQualify)
	assert.Equal(t, 2, *winner.PositionQualify)
	assert.Equal(t, 26, winner.LapsCompleted)
	assert.Equal(t, "26/20:23.443", winner.TotalTimeRaw)
	require.NotNil(t, winner.TotalTimeSeconds)
	assert.InDelta(t, 1223.443, *winner.TotalTimeSeconds, 0.0001)
	require.NotNil(t, winner.FastLapSeconds)
	assert.Equal(t, 45.12, *winner.FastLapSeconds, "superscript suffix is discarded")
	require.NotNil(t, winner.AvgLapSeconds)
	assert.Equal(t, 47.056, *winner.AvgLapSeconds, "average comes from the hidden div")
	require.NotNil(t, winner.Consistency)
	assert.Equal(t, 92.4, *winner.Consistency)
	assert.Nil(t, winner.BehindSeconds)
	assert.Equal(t, 45.8, winner.Extra["avg_top_5"])
	assert.Equal(t, 46.1, winner.Extra["avg_top_10"])
	assert.Equal(t, 46.4, winner.Extra["avg_top_15"])
	assert.Equal(t, 138.2, winner.Extra["top_3_consecutive"])
	assert.Equal(t, 1.21, winner.Extra["std_deviation"])

	runnerUp := results[1]
	assert.Equal(t, "5002", runnerUp.SourceDriverID, "driver id recovered from the racerLaps name map")
	assert.Equal(t, 25, runnerUp.LapsCompleted)
	assert.Nil(t, runnerUp.BehindSeconds, "non-numeric behind cell parses to nil")

	require.Len(t, laps, 2)
	require.Len(t, laps["5001"], 1)
	assert.Equal(t, 45.5, laps["5001"][0].LapTimeSeconds)
	require.Len(t, laps["5002"], 1)
	assert.Equal(t, 2, laps["5002"][0].PositionOnLap)
}

func TestRacePageNoResultsTable(t *testing.T) {
	p := newTestParser()

	html := `<p>nothing</p><script>racerLaps[1] = { 'driverName': 'X', 'laps': [] };</script>`

	_, _, err := p.RacePage(html, "u")

	require.Error(t, err)
	assert.Equal(t, racedata.CodeRacePageFormat, racedata.CodeOf(err))
}

func TestRacePageNoLapBlocks(t *testing.T) {
	p := newTestParser()

	html := `<table><tr><th>Pos</th><th>Driver</th></tr><tr><td>1</td><td>X</td></tr></table>`

	_, _, err := p.RacePage(html, "u")

	require.Error(t, err)
	assert.Equal(t, racedata.CodeLapTableMissing, racedata.CodeOf(err))
}
