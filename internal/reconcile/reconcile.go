// Package reconcile collapses per-frame recognized text into one on-screen
// text stream per video, dropping captions that repeat across frames.
package reconcile

import (
	"strings"

	"github.com/kikiluvv/reelscribe/internal/failure"
	"github.com/kikiluvv/reelscribe/internal/ocr"
	"github.com/kikiluvv/reelscribe/pkg/util"
)

// DefaultThreshold is the similarity at or above which two texts are the
// same caption
const DefaultThreshold = 0.8

// FrameText is the recognition result of one frame at its timestamp
type FrameText struct {
	Timestamp float64
	Result    ocr.RecognitionResult
}

// Entry is one accepted caption
type Entry struct {
	Timestamp float64 `json:"timestamp"`
	Text      string  `json:"text"`
}

// TextStream is the reconciled on-screen text of a video
type TextStream struct {
	Entries           []Entry
	Text              string
	Timestamped       string
	FramesProcessed   int
	FramesRecognized  int
	TotalWords        int
	AverageConfidence float64
	// Err is set when frames were processed but none could be recognized
	Err error
}

// Reconcile deduplicates near-identical captions across frames. Frames are
// taken in the given order; the first occurrence of a caption wins.
func Reconcile(frames []FrameText, threshold float64) TextStream {
	stream := TextStream{FramesProcessed: len(frames)}

	var unique []string
	var stamped []string
	var confSum float64
	var confN int
	var lastErr error

	for _, f := range frames {
		res := f.Result
		if res.Err != nil {
			lastErr = res.Err
		} else {
			stream.FramesRecognized++
		}
		stream.TotalWords += res.WordCount
		if res.Confidence > 0 {
			confSum += res.Confidence
			confN++
		}

		text := strings.TrimSpace(res.Text)
		if text == "" {
			continue
		}
		stamped = append(stamped, util.FormatSeconds(f.Timestamp)+":"+text)

		if isDuplicate(text, unique, threshold) {
			continue
		}
		unique = append(unique, text)
		stream.Entries = append(stream.Entries, Entry{Timestamp: f.Timestamp, Text: text})
	}

	stream.Text = strings.Join(unique, "; ")
	stream.Timestamped = strings.Join(stamped, "; ")
	if confN > 0 {
		stream.AverageConfidence = confSum / float64(confN)
	}
	if stream.FramesProcessed > 0 && stream.FramesRecognized == 0 {
		stream.Err = failure.New(failure.OCR, "no frame could be recognized", lastErr)
	}
	return stream
}

func isDuplicate(text string, seen []string, threshold float64) bool {
	for _, s := range seen {
		if Ratio(text, s) >= threshold {
			return true
		}
	}
	return false
}
