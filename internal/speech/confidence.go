package speech

import (
	"strings"

	"github.com/kikiluvv/reelscribe/pkg/util"
)

// confidenceTiers maps a mean avg_logprob floor to a coarse confidence. The
// mapping is monotonic, not calibrated.
var confidenceTiers = []struct {
	floor float64
	score float64
}{
	{-1.0, 0.95},
	{-2.0, 0.85},
	{-3.0, 0.75},
	{-5.0, 0.60},
	{-7.0, 0.40},
}

const floorConfidence = 0.20

// Confidence buckets the mean segment avg_logprob. No segments means 0.
func Confidence(segments []Segment) float64 {
	if len(segments) == 0 {
		return 0
	}
	var sum float64
	for _, s := range segments {
		sum += s.AvgLogprob
	}
	return TierFor(sum / float64(len(segments)))
}

// TierFor returns the confidence tier of a mean log-probability
func TierFor(meanLogprob float64) float64 {
	for _, t := range confidenceTiers {
		if meanLogprob >= t.floor {
			return t.score
		}
	}
	return floorConfidence
}

// Timestamps renders "1.5s-word" per word joined by ";", falling back to one
// entry per segment when the model gave no word timing.
func Timestamps(segments []Segment) string {
	var parts []string
	for _, s := range segments {
		for _, w := range s.Words {
			parts = append(parts, util.FormatSeconds(w.Start)+"-"+w.Word)
		}
	}
	if len(parts) == 0 {
		for _, s := range segments {
			if s.Text != "" {
				parts = append(parts, util.FormatSeconds(s.Start)+"-"+s.Text)
			}
		}
	}
	return strings.Join(parts, ";")
}

// Duration is the latest segment end
func Duration(segments []Segment) float64 {
	var d float64
	for _, s := range segments {
		d = max(d, s.End)
	}
	return d
}
