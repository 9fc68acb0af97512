package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockKeyIsDeterministic(t *testing.T) {
	first := LockKey("event:42")
	second := LockKey("event:42")

	assert.Equal(t, first, second)
}

func TestLockKeyStaysInRange(t *testing.T) {
	names := []string{
		"",
		"event:1",
		"event:9223372036854775807",
		"source_event:abc-123",
		"a very long lock name that should still hash into range without issue",
	}

	for _, name := range names {
		key := LockKey(name)

		assert.GreaterOrEqual(t, key, int64(0), "name %q", name)
		assert.Less(t, key, lockKeySpace, "name %q", name)
	}
}

func TestLockKeySeparatesScopes(t *testing.T) {
	// Event and source-event locks over the same id must not collide;
	// the scope prefix is part of the hashed name.
	assert.NotEqual(t, LockKey(eventLockName(7)), LockKey(sourceEventLockName("7")))
}

func TestLockNameFormats(t *testing.T) {
	assert.Equal(t, "event:42", eventLockName(42))
	assert.Equal(t, "source_event:evt-9", sourceEventLockName("evt-9"))
}
