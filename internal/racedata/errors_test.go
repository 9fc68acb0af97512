package racedata

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorUnwrapsToSentinel(t *testing.T) {
	tests := []struct {
		name     string
		code     ErrorCode
		sentinel error
	}{
		{"connector", CodeConnectorHTTP, ErrConnectorHTTP},
		{"event page format", CodeEventPageFormat, ErrEventPageFormat},
		{"race page format", CodeRacePageFormat, ErrRacePageFormat},
		{"lap table missing", CodeLapTableMissing, ErrLapTableMissing},
		{"unsupported variant", CodeUnsupportedVariant, ErrUnsupportedVariant},
		{"normalisation", CodeNormalisation, ErrNormalisation},
		{"validation", CodeValidation, ErrValidation},
		{"state machine", CodeStateMachine, ErrStateMachine},
		{"ingestion in progress", CodeIngestionInProgress, ErrIngestionInProgress},
		{"persistence", CodePersistence, ErrPersistence},
		{"constraint violation", CodeConstraintViolation, ErrConstraintViolation},
		{"ingestion timeout", CodeIngestionTimeout, ErrIngestionTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewError(tt.code, "boom", nil)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.code, CodeOf(err))
		})
	}
}

func TestWrapErrorPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapError(CodeConnectorHTTP, "GET failed", map[string]any{"url": "https://x"}, cause)

	assert.ErrorIs(t, err, ErrConnectorHTTP)
	assert.ErrorIs(t, err, cause)

	// Wrapping again through fmt keeps the chain intact.
	wrapped := fmt.Errorf("fetch event page: %w", err)
	assert.ErrorIs(t, wrapped, ErrConnectorHTTP)
	assert.Equal(t, CodeConnectorHTTP, CodeOf(wrapped))
}

func TestErrorStringIncludesSortedDetails(t *testing.T) {
	err := NewError(CodeValidation, "position out of range", map[string]any{
		"race_id":  "1297031",
		"event_id": "445156",
		"field":    "position_final",
	})

	// Details render alphabetically so log lines are stable.
	assert.Equal(t,
		"validation: position out of range (event_id=445156, field=position_final, race_id=1297031)",
		err.Error())
}

func TestIsRetryableConstraint(t *testing.T) {
	retryable := NewError(CodeConstraintViolation, "driver insert race", map[string]any{"retryable": true})
	fatal := NewError(CodeConstraintViolation, "duplicate lap", nil)
	other := NewError(CodePersistence, "tx begin", nil)

	assert.True(t, IsRetryableConstraint(retryable))
	assert.True(t, IsRetryableConstraint(fmt.Errorf("ingest: %w", retryable)))
	assert.False(t, IsRetryableConstraint(fatal))
	assert.False(t, IsRetryableConstraint(other))
	assert.False(t, IsRetryableConstraint(errors.New("plain")))
}

func TestErrorDetail(t *testing.T) {
	err := NewError(CodeValidation, "x", map[string]any{"event_id": int64(7)})

	require.Equal(t, int64(7), err.Detail("event_id"))
	require.Nil(t, err.Detail("missing"))
	require.Nil(t, NewError(CodeValidation, "y", nil).Detail("anything"))
}

func TestIngestDepthValidity(t *testing.T) {
	assert.True(t, DepthNone.IsValid())
	assert.True(t, DepthLapsFull.IsValid())
	assert.False(t, IngestDepth("laps_partial").IsValid())
	assert.False(t, IngestDepth("").IsValid())
}

func TestLinkStatusTerminal(t *testing.T) {
	assert.True(t, LinkConfirmed.IsTerminal())
	assert.True(t, LinkRejected.IsTerminal())
	assert.False(t, LinkSuggested.IsTerminal())
	assert.False(t, LinkConflict.IsTerminal())
}
