package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

func entryWithDriver(driverID int64, sourceDriverID, normalizedName, transponder string) racedata.EventEntry {
	return racedata.EventEntry{
		DriverID:  driverID,
		ClassName: "2WD Buggy",
		Driver: &racedata.Driver{
			ID:             driverID,
			Source:         racedata.SourceLiveRC,
			SourceDriverID: sourceDriverID,
			NormalizedName: normalizedName,
			TransponderID:  transponder,
		},
	}
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, Similarity("jane doe", "jane doe"), 0.001)
	assert.Greater(t, Similarity("jane doe", "jane d"), 0.85)
	assert.Less(t, Similarity("jane doe", "peter smith"), 0.6)
	assert.Zero(t, Similarity("", "jane doe"))
	assert.Zero(t, Similarity("jane doe", ""))
}

func TestEntryForResultPrefersSourceID(t *testing.T) {
	entries := []racedata.EventEntry{
		entryWithDriver(1, "entry_aaaa", "jane doe", ""),
		entryWithDriver(2, "777", "john doe", ""),
	}

	result := &racedata.ResultRow{SourceDriverID: "777", DriverName: "Jane Doe"}

	matched := EntryForResult(result, entries)

	require.NotNil(t, matched)
	assert.Equal(t, int64(2), matched.DriverID)
}

func TestEntryForResultFallsBackToNormalizedName(t *testing.T) {
	entries := []racedata.EventEntry{
		entryWithDriver(1, "entry_aaaa", "jane doe", ""),
		entryWithDriver(2, "entry_bbbb", "john smith", ""),
	}

	result := &racedata.ResultRow{SourceDriverID: "777", DriverName: "JANE  DOE"}

	matched := EntryForResult(result, entries)

	require.NotNil(t, matched)
	assert.Equal(t, int64(1), matched.DriverID)
}

func TestEntryForResultUnmatched(t *testing.T) {
	entries := []racedata.EventEntry{
		entryWithDriver(1, "entry_aaaa", "jane doe", ""),
	}

	result := &racedata.ResultRow{DriverName: "Peter Smith"}

	assert.Nil(t, EntryForResult(result, entries))
	assert.Nil(t, EntryForResult(&racedata.ResultRow{}, entries))
}

func TestProposeTransponderTierWins(t *testing.T) {
	m := New(nil, nil)

	users := []racedata.User{
		{ID: 1, NormalizedName: "jane doe", TransponderID: "TX9"},
		{ID: 2, NormalizedName: "jane doe", TransponderID: ""},
	}

	entry := entryWithDriver(5, "123", "jane doe", "TX9")

	p := m.propose(users, entry)

	require.NotNil(t, p)
	assert.Equal(t, racedata.MatchTransponder, p.matchType)
	assert.Equal(t, racedata.LinkSuggested, p.status)
	assert.InDelta(t, 1.0, p.similarity, 0.001)
	assert.Equal(t, int64(1), p.user.ID)
}

func TestProposeExactNameConfirms(t *testing.T) {
	m := New(nil, nil)

	users := []racedata.User{
		{ID: 1, NormalizedName: "jane doe"},
	}

	entry := entryWithDriver(5, "123", "jane doe", "")

	p := m.propose(users, entry)

	require.NotNil(t, p)
	assert.Equal(t, racedata.MatchExact, p.matchType)
	assert.Equal(t, racedata.LinkConfirmed, p.status)
}

func TestProposeFuzzyTiers(t *testing.T) {
	m := New(nil, nil)

	tests := []struct {
		name       string
		userName   string
		driverName string
		wantStatus racedata.LinkStatus
		wantNil    bool
	}{
		{
			name:       "high similarity confirms",
			userName:   "jane doe",
			driverName: "jane do",
			wantStatus: racedata.LinkConfirmed,
		},
		{
			name:       "moderate similarity suggests",
			userName:   "jane elizabeth doe",
			driverName: "jane e doe",
			wantStatus: racedata.LinkSuggested,
		},
		{
			name:       "low similarity no match",
			userName:   "peter smith",
			driverName: "jane doe",
			wantNil:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := []racedata.User{{ID: 1, NormalizedName: tt.userName}}
			entry := entryWithDriver(5, "123", tt.driverName, "")

			p := m.propose(users, entry)

			if tt.wantNil {
				assert.Nil(t, p)

				return
			}

			require.NotNil(t, p)
			assert.Equal(t, racedata.MatchFuzzy, p.matchType)
			assert.Equal(t, tt.wantStatus, p.status)
		})
	}
}

func TestLinkTransponderFallbackOrder(t *testing.T) {
	user := racedata.User{TransponderID: "USER-TX"}

	entry := entryWithDriver(1, "123", "jane doe", "DRIVER-TX")
	entry.TransponderID = "ENTRY-TX"

	assert.Equal(t, "ENTRY-TX", linkTransponder(entry, user))

	entry.TransponderID = ""
	assert.Equal(t, "DRIVER-TX", linkTransponder(entry, user))

	entry.Driver.TransponderID = ""
	assert.Equal(t, "USER-TX", linkTransponder(entry, user))
}
