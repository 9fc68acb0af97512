package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "validation exits 1",
			err:  racedata.NewError(racedata.CodeValidation, "bad event", nil),
			want: exitValidation,
		},
		{
			name: "page format exits 1",
			err:  racedata.NewError(racedata.CodeRacePageFormat, "no table", nil),
			want: exitValidation,
		},
		{
			name: "connector exits 2",
			err:  racedata.NewError(racedata.CodeConnectorHTTP, "status 503", nil),
			want: exitGeneric,
		},
		{
			name: "persistence exits 2",
			err:  racedata.NewError(racedata.CodePersistence, "write failed", nil),
			want: exitGeneric,
		},
		{
			name: "plain error exits 2",
			err:  errors.New("boom"),
			want: exitGeneric,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exactlyten", truncate("exactlyten", 10))
	assert.Equal(t, "very long…", truncate("very long track name", 10))
}
