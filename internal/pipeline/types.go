package pipeline

import (
	"time"

	"github.com/kikiluvv/reelscribe/internal/reconcile"
	"github.com/kikiluvv/reelscribe/internal/records"
	"github.com/kikiluvv/reelscribe/internal/sampler"
	"github.com/kikiluvv/reelscribe/internal/speech"
)

// RunOptions configures one batch run
type RunOptions struct {
	// Resume skips videos whose id is already in the record store and
	// continues a matching progress snapshot
	Resume bool
	// MaxVideos limits discovery when positive
	MaxVideos int
}

// RunReport totals a run
type RunReport struct {
	RunID      string        `json:"run_id"`
	Discovered int           `json:"discovered"`
	Skipped    int           `json:"skipped"`
	Processed  int           `json:"processed"`
	Persisted  int           `json:"persisted"`
	Rejected   int           `json:"rejected"`
	Success    int           `json:"success"`
	Partial    int           `json:"partial"`
	Failed     int           `json:"failed"`
	Batches    int           `json:"batches"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Outcome is everything one video's task produced. Record is what gets
// persisted; the rest is detail for inspection.
type Outcome struct {
	Record   records.VideoRecord `json:"record"`
	Asset    *sampler.VideoAsset `json:"asset,omitempty"`
	Expected int                 `json:"expected_frames"`
	Entries  []reconcile.Entry   `json:"text_entries"`
	Language string              `json:"language"`
	Segments []speech.Segment    `json:"segments"`
	Elapsed  time.Duration       `json:"elapsed"`
}

// visualResult is the on-screen text branch of a task
type visualResult struct {
	asset    *sampler.VideoAsset
	expected int
	stream   reconcile.TextStream
	err      error
}
