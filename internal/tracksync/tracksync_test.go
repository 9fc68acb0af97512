package tracksync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

func TestTrackChanged(t *testing.T) {
	existing := &racedata.Track{
		Name:             "Canberra Off Road",
		TrackURL:         "https://canberra.liverc.com/",
		EventsURL:        "https://canberra.liverc.com/events",
		LastUpdatedLabel: "2 days ago",
	}

	same := racedata.TrackSummary{
		Name:             "Canberra Off Road",
		TrackURL:         "https://canberra.liverc.com/",
		EventsURL:        "https://canberra.liverc.com/events",
		LastUpdatedLabel: "2 days ago",
	}

	assert.False(t, trackChanged(existing, same))

	renamed := same
	renamed.Name = "Canberra Off Road Model Car Club"
	assert.True(t, trackChanged(existing, renamed))

	touched := same
	touched.LastUpdatedLabel = "1 hour ago"
	assert.True(t, trackChanged(existing, touched))
}
