package storage

import (
	"errors"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

func TestPersistenceErrorClassifiesUniqueViolation(t *testing.T) {
	dup := &pq.Error{Code: pq.ErrorCode(uniqueViolation), Constraint: "drivers_source_key"}

	err := persistenceError("inserting driver", map[string]any{"driver": "x"}, dup)

	assert.Equal(t, racedata.CodeConstraintViolation, racedata.CodeOf(err))
	assert.ErrorIs(t, err, racedata.ErrConstraintViolation)
	assert.False(t, racedata.IsRetryableConstraint(err))
}

func TestPersistenceErrorWrapsOtherFailures(t *testing.T) {
	cause := errors.New("connection reset")

	err := persistenceError("loading track", nil, cause)

	assert.Equal(t, racedata.CodePersistence, racedata.CodeOf(err))
	assert.ErrorIs(t, err, cause)
}

func TestRetryableConstraintFlagsTheError(t *testing.T) {
	err := retryableConstraint("driver race", map[string]any{"driver": "x"}, errors.New("not visible"))

	assert.True(t, racedata.IsRetryableConstraint(err))

	// The caller's details map must not be mutated.
	var e *racedata.Error

	require.ErrorAs(t, err, &e)
	assert.Equal(t, "x", e.Detail("driver"))
	assert.Equal(t, true, e.Detail("retryable"))
}

func TestMarshalJSONNilBecomesEmptyObject(t *testing.T) {
	data, err := marshalJSON(nil)

	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}

func TestMarshalStringsNilBecomesEmptyList(t *testing.T) {
	data, err := marshalStrings(nil)

	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestUnmarshalMapHandlesNull(t *testing.T) {
	var m map[string]any

	require.NoError(t, unmarshalMap(nil, &m))
	assert.Nil(t, m)

	require.NoError(t, unmarshalMap([]byte(`{"k":1}`), &m))
	assert.Equal(t, float64(1), m["k"])
}

func TestUnmarshalStringsHandlesNull(t *testing.T) {
	var list []string

	require.NoError(t, unmarshalStrings(nil, &list))
	assert.Equal(t, []string{}, list)

	require.NoError(t, unmarshalStrings([]byte(`["a","b"]`), &list))
	assert.Equal(t, []string{"a", "b"}, list)
}

func TestWritePlaceholderRow(t *testing.T) {
	var b strings.Builder

	writePlaceholderRow(&b, 0, 3)
	assert.Equal(t, "($1, $2, $3)", b.String())

	b.Reset()
	writePlaceholderRow(&b, 6, 2)
	assert.Equal(t, "($7, $8)", b.String())
}
