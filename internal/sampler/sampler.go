// Package sampler probes short-form videos and pulls a time-uniform set of
// still frames out of them for text recognition.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/reelscribe/internal/failure"
	"github.com/kikiluvv/reelscribe/internal/ffmpeg"
	"github.com/kikiluvv/reelscribe/pkg/util"
)

// Decoder is the external probing/decoding capability
type Decoder interface {
	ProbeVideo(ctx context.Context, path string) (*ffmpeg.VideoInfo, error)
	ExtractFrames(ctx context.Context, input string, opts ffmpeg.FrameOptions) error
}

// VideoAsset is the probed metadata of one input file
type VideoAsset struct {
	ID       string  `json:"video_id"`
	Path     string  `json:"path"`
	Duration float64 `json:"duration_seconds"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	FPS      float64 `json:"fps"`
	Codec    string  `json:"codec"`
	HasAudio bool    `json:"has_audio"`
}

// SampledFrame is one still taken at Timestamp seconds
type SampledFrame struct {
	VideoID   string
	Index     int
	Timestamp float64
	Path      string
}

// Result bundles everything one sampling pass produced. Err is a probe or
// frame_extraction failure; Asset is set whenever the probe succeeded.
type Result struct {
	Asset    *VideoAsset
	Frames   []SampledFrame
	Expected int
	Dir      string
	Err      error
}

// Shortfall reports how many expected frames were not produced
func (r Result) Shortfall() int {
	if n := r.Expected - len(r.Frames); n > 0 {
		return n
	}
	return 0
}

// Options configures sampling
type Options struct {
	Interval      float64
	ImageFormat   string
	Width         int
	ProbeTimeout  time.Duration
	DecodeTimeout time.Duration
}

// Sampler writes frames under root/<videoID>/
type Sampler struct {
	logger  zerolog.Logger
	decoder Decoder
	root    string
	opts    Options
}

// New creates a sampler writing into root
func New(logger zerolog.Logger, decoder Decoder, root string, opts Options) *Sampler {
	if opts.ImageFormat == "" {
		opts.ImageFormat = "png"
	}
	return &Sampler{
		logger:  logger.With().Str("component", "sampler").Logger(),
		decoder: decoder,
		root:    root,
		opts:    opts,
	}
}

// Root returns the scratch directory frames are written under
func (s *Sampler) Root() string { return s.root }

// Sample probes path and extracts one frame per interval. It never returns an
// error directly; failures are reported through Result.Err.
func (s *Sampler) Sample(ctx context.Context, path, videoID string) Result {
	log := s.logger.With().Str("video_id", videoID).Logger()

	asset, err := s.probe(ctx, path, videoID)
	if err != nil {
		log.Warn().Err(err).Msg("probe failed")
		return Result{Err: err}
	}

	res := Result{
		Asset:    asset,
		Expected: ExpectedFrames(asset.Duration, s.opts.Interval),
		Dir:      s.dir(videoID),
	}

	// stale frames from an interrupted run would be picked up as ours
	if err := os.RemoveAll(res.Dir); err != nil {
		res.Err = failure.New(failure.FrameExtraction, "clear frame dir", err)
		return res
	}
	if err := util.EnsureDir(res.Dir); err != nil {
		res.Err = failure.New(failure.FrameExtraction, "create frame dir", err)
		return res
	}

	log.Info().
		Float64("duration", asset.Duration).
		Int("expected_frames", res.Expected).
		Msg("extracting frames")

	decodeCtx, cancel := withTimeout(ctx, s.opts.DecodeTimeout)
	defer cancel()

	pattern := filepath.Join(res.Dir, "frame_%03d."+s.opts.ImageFormat)
	decodeErr := s.decoder.ExtractFrames(decodeCtx, path, ffmpeg.FrameOptions{
		Interval: s.opts.Interval,
		Pattern:  pattern,
		Width:    s.opts.Width,
	})

	frames, listErr := s.collect(res.Dir, videoID)
	if listErr != nil {
		res.Err = failure.New(failure.FrameExtraction, "list frames", listErr)
		return res
	}

	if decodeErr != nil && ffmpeg.IsTimeout(decodeErr) {
		decodeErr = failure.New(failure.FrameExtraction, fmt.Sprintf("decode timed out after %s", s.opts.DecodeTimeout), decodeErr)
	} else if decodeErr != nil {
		decodeErr = failure.New(failure.FrameExtraction, "decode", decodeErr)
	}

	if len(frames) == 0 {
		if decodeErr == nil {
			decodeErr = failure.Newf(failure.FrameExtraction, "decoder produced no frames")
		}
		res.Err = decodeErr
		return res
	}
	if decodeErr != nil {
		// partial decode: keep what was written
		log.Warn().Err(decodeErr).Int("frames", len(frames)).Msg("decoder failed after writing frames")
	}

	res.Frames = frames
	if res.Shortfall() > 0 {
		log.Debug().Int("expected", res.Expected).Int("actual", len(frames)).Msg("frame shortfall")
	}
	log.Info().Int("frames", len(frames)).Msg("frames extracted")
	return res
}

func (s *Sampler) probe(ctx context.Context, path, videoID string) (*VideoAsset, error) {
	probeCtx, cancel := withTimeout(ctx, s.opts.ProbeTimeout)
	defer cancel()

	info, err := s.decoder.ProbeVideo(probeCtx, path)
	switch {
	case errors.Is(err, ffmpeg.ErrNoVideoStream):
		return nil, failure.New(failure.Probe, path, err)
	case err != nil && ffmpeg.IsTimeout(err):
		return nil, failure.New(failure.Probe, fmt.Sprintf("probe timed out after %s", s.opts.ProbeTimeout), err)
	case err != nil:
		return nil, failure.New(failure.Probe, path, err)
	case info == nil || !info.HasVideo:
		return nil, failure.New(failure.Probe, path, ffmpeg.ErrNoVideoStream)
	}

	return &VideoAsset{
		ID:       videoID,
		Path:     path,
		Duration: info.Duration.Seconds(),
		Width:    info.Width,
		Height:   info.Height,
		FPS:      info.FPS,
		Codec:    info.VideoCodec,
		HasAudio: info.HasAudio,
	}, nil
}

// collect lists written frames in sequence order and assigns timestamps
func (s *Sampler) collect(dir, videoID string) ([]SampledFrame, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "frame_*."+s.opts.ImageFormat))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(paths, func(i, j int) bool {
		return frameNumber(paths[i]) < frameNumber(paths[j])
	})

	frames := make([]SampledFrame, 0, len(paths))
	for i, p := range paths {
		frames = append(frames, SampledFrame{
			VideoID:   videoID,
			Index:     i,
			Timestamp: float64(i) * s.opts.Interval,
			Path:      p,
		})
	}
	return frames, nil
}

// frameNumber parses the sequence number out of frame_NNN.ext; %03d widens
// past 999 so lexical order is not enough
func frameNumber(path string) int {
	name := strings.TrimPrefix(filepath.Base(path), "frame_")
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	n, err := strconv.Atoi(name)
	if err != nil {
		return math.MaxInt
	}
	return n
}

// Cleanup removes the frame directory of videoID
func (s *Sampler) Cleanup(videoID string) error {
	dir := s.dir(videoID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("cleanup frames for %s: %w", videoID, err)
	}
	s.logger.Debug().Str("video_id", videoID).Msg("cleaned up frames")
	return nil
}

// Sweep deletes frame files older than maxAge left behind by crashed tasks
func (s *Sampler) Sweep(maxAge time.Duration) (int, error) {
	n, err := util.SweepOlderThan(s.root, maxAge, time.Now())
	if n > 0 {
		s.logger.Info().Int("files", n).Dur("max_age", maxAge).Msg("swept stale frames")
	}
	return n, err
}

func (s *Sampler) dir(videoID string) string {
	return filepath.Join(s.root, videoID)
}

// ExpectedFrames is max(1, floor(duration/interval))
func ExpectedFrames(duration, interval float64) int {
	if interval <= 0 {
		return 1
	}
	n := int(math.Floor(duration / interval))
	if n < 1 {
		return 1
	}
	return n
}

// VideoID derives the identifier from a file name. Names are expected to end
// in a long numeric token (creator_search_7312345678901234567.mp4); when they
// don't, the whole stem is used.
func VideoID(path string) string {
	stem := util.StemName(path)
	parts := strings.Split(stem, "_")
	last := parts[len(parts)-1]
	if len(last) > 15 && isDigits(last) {
		return last
	}
	return stem
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
