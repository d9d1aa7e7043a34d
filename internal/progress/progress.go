// Package progress tracks a pipeline run and checkpoints it to a JSON
// snapshot so an interrupted run can resume.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/reelscribe/pkg/util"
)

// Snapshot is the persisted run state
type Snapshot struct {
	TotalVideos     int       `json:"total_videos"`
	CompletedVideos int       `json:"completed_videos"`
	FailedVideos    int       `json:"failed_videos"`
	StartTime       time.Time `json:"start_time"`
	CurrentVideo    string    `json:"current_video"`
	Errors          []string  `json:"errors"`
}

// Processed counts videos that finished either way
func (s Snapshot) Processed() int { return s.CompletedVideos + s.FailedVideos }

// CompletionRate is the processed percentage of the total
func (s Snapshot) CompletionRate() float64 {
	if s.TotalVideos == 0 {
		return 0
	}
	return float64(s.Processed()) / float64(s.TotalVideos) * 100
}

// FailureRate is the failed percentage of processed videos
func (s Snapshot) FailureRate() float64 {
	if s.Processed() == 0 {
		return 0
	}
	return float64(s.FailedVideos) / float64(s.Processed()) * 100
}

// Elapsed is the time since the run started
func (s Snapshot) Elapsed(now time.Time) time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	return now.Sub(s.StartTime)
}

// ETA extrapolates the remaining time from the average per-video rate.
// Zero until at least one video is processed.
func (s Snapshot) ETA(now time.Time) time.Duration {
	done := s.Processed()
	if done == 0 || done >= s.TotalVideos {
		return 0
	}
	perVideo := s.Elapsed(now) / time.Duration(done)
	return perVideo * time.Duration(s.TotalVideos-done)
}

// Options configures a Tracker
type Options struct {
	// FlushEvery writes a snapshot after this many updates; 0 disables
	FlushEvery int
	// ErrorWindow bounds the recent-error list
	ErrorWindow int
	Now         func() time.Time
}

// Tracker is the run's progress state, safe for concurrent updates
type Tracker struct {
	logger zerolog.Logger
	path   string
	opts   Options

	mu      sync.Mutex
	state   Snapshot
	started bool
	pending int
}

// NewTracker creates a tracker that checkpoints to path
func NewTracker(logger zerolog.Logger, path string, opts Options) *Tracker {
	if opts.ErrorWindow <= 0 {
		opts.ErrorWindow = 50
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{
		logger: logger.With().Str("component", "progress").Logger(),
		path:   path,
		opts:   opts,
	}
}

// Start begins a session. With resume set, a readable snapshot whose total
// matches is continued; otherwise counters start from zero. The initial
// state is flushed either way.
func (t *Tracker) Start(total int, resume bool) (Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if resume {
		prev, err := Load(t.path)
		switch {
		case err != nil:
			t.logger.Warn().Err(err).Str("path", t.path).Msg("ignoring unreadable progress snapshot")
		case prev != nil && prev.TotalVideos == total:
			t.state = *prev
			t.started = true
			t.logger.Info().
				Int("processed", prev.Processed()).
				Int("total", total).
				Msg("resuming processing")
			return t.copyState(), nil
		}
	}

	t.state = Snapshot{
		TotalVideos: total,
		StartTime:   t.opts.Now().UTC(),
		Errors:      []string{},
	}
	t.started = true
	t.pending = 0
	t.logger.Info().Int("total", total).Msg("starting new processing session")
	return t.copyState(), t.flushLocked()
}

// Begin marks videoID as the one currently being processed
func (t *Tracker) Begin(videoID string) {
	t.mu.Lock()
	t.state.CurrentVideo = videoID
	t.mu.Unlock()
}

// Update records one finished video. A non-empty errMsg is kept in the
// bounded error window as "videoID: errMsg".
func (t *Tracker) Update(videoID string, failed bool, errMsg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return errors.New("progress tracking not started")
	}

	t.state.CurrentVideo = videoID
	if failed {
		t.state.FailedVideos++
	} else {
		t.state.CompletedVideos++
	}
	if errMsg != "" {
		t.state.Errors = append(t.state.Errors, fmt.Sprintf("%s: %s", videoID, errMsg))
		if over := len(t.state.Errors) - t.opts.ErrorWindow; over > 0 {
			t.state.Errors = append([]string(nil), t.state.Errors[over:]...)
		}
	}

	t.pending++
	if t.opts.FlushEvery > 0 && t.pending >= t.opts.FlushEvery {
		return t.flushLocked()
	}
	return nil
}

// Snapshot returns a copy of the current state
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.copyState()
}

// Flush writes the snapshot now
func (t *Tracker) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushLocked()
}

// Report logs a one-line status with process resource usage
func (t *Tracker) Report() {
	s := t.Snapshot()
	now := t.opts.Now()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	t.logger.Info().
		Int("completed", s.CompletedVideos).
		Int("failed", s.FailedVideos).
		Int("total", s.TotalVideos).
		Str("rate", fmt.Sprintf("%.1f%%", s.CompletionRate())).
		Dur("elapsed", s.Elapsed(now).Round(time.Second)).
		Dur("eta", s.ETA(now).Round(time.Second)).
		Uint64("heap_mb", mem.HeapAlloc>>20).
		Uint64("sys_mb", mem.Sys>>20).
		Int("goroutines", runtime.NumGoroutine()).
		Msg("progress")
}

func (t *Tracker) flushLocked() error {
	if !t.started {
		return nil
	}
	data, err := json.MarshalIndent(t.state, "", "  ")
	if err != nil {
		return err
	}
	if err := util.WriteFileAtomic(t.path, data, 0644); err != nil {
		t.logger.Error().Err(err).Str("path", t.path).Msg("failed to save progress")
		return err
	}
	t.pending = 0
	return nil
}

func (t *Tracker) copyState() Snapshot {
	s := t.state
	s.Errors = append([]string(nil), t.state.Errors...)
	return s
}

// Load reads a snapshot; a missing file returns nil, nil
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if s.Errors == nil {
		s.Errors = []string{}
	}
	return &s, nil
}
