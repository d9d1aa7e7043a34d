package sampler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Discover lists *.mp4 files directly under dir, skipping files smaller than
// minBytes. Results are sorted by path.
func Discover(logger zerolog.Logger, dir string, minBytes int64) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read video dir: %w", err)
	}

	var videos []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".mp4") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			logger.Warn().Err(err).Str("file", path).Msg("skipping unreadable video")
			continue
		}
		if info.Size() < minBytes {
			logger.Warn().Str("file", path).Int64("bytes", info.Size()).Msg("skipping suspiciously small video")
			continue
		}
		videos = append(videos, path)
	}

	sort.Strings(videos)
	logger.Info().Int("videos", len(videos)).Str("dir", dir).Msg("discovered videos")
	return videos, nil
}
