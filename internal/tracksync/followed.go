package tracksync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/JaysonBrenton/mre/internal/racedata"
	"github.com/JaysonBrenton/mre/internal/storage"
)

// ErrNoFollowedTracks is returned when the followed-tracks file lists
// nothing.
var ErrNoFollowedTracks = errors.New("followed-tracks file lists no tracks")

// FollowedConfig is the YAML shape of the followed-tracks file:
//
//	followed_tracks:
//	  - canberra
//	  - keilor
type FollowedConfig struct {
	FollowedTracks []string `yaml:"followed_tracks"`
}

// LoadFollowed reads the followed-tracks file.
func LoadFollowed(path string) (*FollowedConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading followed-tracks file: %w", err)
	}

	var cfg FollowedConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing followed-tracks file: %w", err)
	}

	if len(cfg.FollowedTracks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoFollowedTracks, path)
	}

	return &cfg, nil
}

// ApplyFollowed marks the listed tracks as followed. Slugs without a
// stored track are logged and skipped so a config written ahead of the
// first sync does not fail the run.
func (s *Syncer) ApplyFollowed(ctx context.Context, cfg *FollowedConfig) (int, error) {
	applied := 0

	for _, slug := range cfg.FollowedTracks {
		track, err := s.store.GetTrackBySlug(ctx, racedata.SourceLiveRC, slug)
		if err != nil {
			if errors.Is(err, storage.ErrTrackNotFound) {
				s.logger.Warn("followed track is not in the catalogue yet", slog.String("slug", slug))

				continue
			}

			return applied, err
		}

		if track.IsFollowed {
			applied++

			continue
		}

		if err := s.store.SetTrackFollowed(ctx, track.ID, true); err != nil {
			return applied, err
		}

		applied++
	}

	return applied, nil
}
