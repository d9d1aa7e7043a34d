package speech

import (
	"context"
	"strings"
)

// AudioExtractor demuxes a video's audio track into a mono 16 kHz file
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, videoPath, outPath string) error
}

// Model turns an audio file into text with segment timing
type Model interface {
	Name() string
	Transcribe(ctx context.Context, audioPath string) (*ModelOutput, error)
}

// ModelOutput is what a model hands back before normalization. Any pointer
// or slice may be nil.
type ModelOutput struct {
	Text     string        `json:"text"`
	Language string        `json:"language"`
	Segments []*RawSegment `json:"segments"`
}

type RawSegment struct {
	Start      *float64   `json:"start"`
	End        *float64   `json:"end"`
	Text       *string    `json:"text"`
	AvgLogprob *float64   `json:"avg_logprob"`
	Words      []*RawWord `json:"words"`
}

type RawWord struct {
	Word  *string  `json:"word"`
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
}

// Segment is a normalized timed span of speech
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	// AvgLogprob is MissingLogprob when the model did not report one
	AvgLogprob float64 `json:"avg_logprob"`
	Words      []Word  `json:"words"`
}

type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// MissingLogprob stands in for an absent avg_logprob
const MissingLogprob = -10.0

// Normalize maps a raw model output onto non-nil, zero-valued structures.
// Nil segments and nil words are dropped; nil fields become zero values.
func Normalize(out *ModelOutput) (text, language string, segments []Segment) {
	segments = []Segment{}
	if out == nil {
		return "", "unknown", segments
	}

	language = strings.TrimSpace(out.Language)
	if language == "" {
		language = "unknown"
	}

	for _, raw := range out.Segments {
		if raw == nil {
			continue
		}
		seg := Segment{
			Start:      deref(raw.Start, 0),
			End:        deref(raw.End, 0),
			AvgLogprob: deref(raw.AvgLogprob, MissingLogprob),
			Words:      []Word{},
		}
		if raw.Text != nil {
			seg.Text = strings.TrimSpace(*raw.Text)
		}
		for _, w := range raw.Words {
			if w == nil || w.Word == nil {
				continue
			}
			word := strings.TrimSpace(*w.Word)
			if word == "" {
				continue
			}
			seg.Words = append(seg.Words, Word{
				Word:  word,
				Start: deref(w.Start, seg.Start),
				End:   deref(w.End, seg.End),
			})
		}
		segments = append(segments, seg)
	}

	text = strings.TrimSpace(out.Text)
	if text == "" && len(segments) > 0 {
		parts := make([]string, 0, len(segments))
		for _, s := range segments {
			if s.Text != "" {
				parts = append(parts, s.Text)
			}
		}
		text = strings.Join(parts, " ")
	}
	return text, language, segments
}

func deref[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}
