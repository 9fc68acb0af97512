package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

const entryListFixture = `
<table>
  <tr><th colspan="3" class="class_header">2WD Buggy</th></tr>
  <tr><th>Car</th><th>Driver</th><th>Transponder</th></tr>
  <tr><td>5</td><td>Jayson Brenton</td><td>1234567</td></tr>
  <tr><td>7</td><td>Ryan O'Brien</td><td></td></tr>
  <tr><td></td><td></td><td></td></tr>
</table>
<table>
  <tr><th colspan="3" class="class_header">4WD Buggy</th></tr>
  <tr><th>Car</th><th>Driver</th><th>Transponder</th></tr>
  <tr><td>2</td><td>Mia Chen</td><td>7654321</td></tr>
</table>
`

func TestEntryList(t *testing.T) {
	p := newTestParser()

	entries, err := p.EntryList(entryListFixture)
	require.NoError(t, err)
	require.Len(t, entries, 3, "rows without a driver name are skipped")

	assert.Equal(t, racedata.EntryRow{
		ClassName:     "2WD Buggy",
		DriverName:    "Jayson Brenton",
		CarNumber:     "5",
		TransponderID: "1234567",
	}, entries[0])

	assert.Equal(t, "Ryan O'Brien", entries[1].DriverName)
	assert.Empty(t, entries[1].TransponderID)

	assert.Equal(t, "4WD Buggy", entries[2].ClassName)
	assert.Equal(t, "Mia Chen", entries[2].DriverName)
}

func TestEntryListNoClassTables(t *testing.T) {
	p := newTestParser()

	_, err := p.EntryList("<table><tr><td>just a table</td></tr></table>")

	require.Error(t, err)
	assert.Equal(t, racedata.CodeEventPageFormat, racedata.CodeOf(err))
}
