package tracksync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFollowedFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "followed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoadFollowed(t *testing.T) {
	path := writeFollowedFile(t, "followed_tracks:\n  - canberra\n  - keilor\n")

	cfg, err := LoadFollowed(path)

	require.NoError(t, err)
	assert.Equal(t, []string{"canberra", "keilor"}, cfg.FollowedTracks)
}

func TestLoadFollowedEmptyList(t *testing.T) {
	path := writeFollowedFile(t, "followed_tracks: []\n")

	_, err := LoadFollowed(path)

	assert.ErrorIs(t, err, ErrNoFollowedTracks)
}

func TestLoadFollowedMalformedYAML(t *testing.T) {
	path := writeFollowedFile(t, "followed_tracks: [unclosed\n")

	_, err := LoadFollowed(path)

	assert.Error(t, err)
}

func TestLoadFollowedMissingFile(t *testing.T) {
	_, err := LoadFollowed(filepath.Join(t.TempDir(), "absent.yaml"))

	assert.Error(t, err)
}
