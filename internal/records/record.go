// Package records merges per-video extraction results into persisted rows
// and keeps the batch summary log.
package records

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kikiluvv/reelscribe/internal/failure"
	"github.com/kikiluvv/reelscribe/pkg/util"
)

// Status is the processing outcome of one video
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// DefaultTextCap bounds every sanitized text field, ellipsis included
const DefaultTextCap = 2000

const ellipsis = "..."

// Columns is the persisted column order
var Columns = []string{
	"video_id",
	"filename",
	"duration_seconds",
	"frame_count",
	"on_screen_text",
	"spoken_phrases",
	"text_timestamps",
	"audio_timestamps",
	"ocr_confidence",
	"transcription_confidence",
	"processing_status",
	"error_notes",
	"processed_timestamp",
}

// VideoRecord is one persisted row. Records are append-only.
type VideoRecord struct {
	VideoID                 string    `json:"video_id" gorm:"column:video_id;index;not null"`
	Filename                string    `json:"filename" gorm:"column:filename;not null"`
	DurationSeconds         float64   `json:"duration_seconds" gorm:"column:duration_seconds"`
	FrameCount              int       `json:"frame_count" gorm:"column:frame_count"`
	OnScreenText            string    `json:"on_screen_text" gorm:"column:on_screen_text;type:text"`
	SpokenPhrases           string    `json:"spoken_phrases" gorm:"column:spoken_phrases;type:text"`
	TextTimestamps          string    `json:"text_timestamps" gorm:"column:text_timestamps;type:text"`
	AudioTimestamps         string    `json:"audio_timestamps" gorm:"column:audio_timestamps;type:text"`
	OCRConfidence           float64   `json:"ocr_confidence" gorm:"column:ocr_confidence"`
	TranscriptionConfidence float64   `json:"transcription_confidence" gorm:"column:transcription_confidence"`
	ProcessingStatus        Status    `json:"processing_status" gorm:"column:processing_status;index;not null"`
	ErrorNotes              string    `json:"error_notes" gorm:"column:error_notes;type:text"`
	ProcessedTimestamp      time.Time `json:"processed_timestamp" gorm:"column:processed_timestamp"`
}

// BuildInput is everything the merger needs for one video. A nil error
// means that modality succeeded.
type BuildInput struct {
	VideoID  string
	Filename string
	Duration float64

	FrameCount     int
	OnScreenText   string
	TextTimestamps string
	OCRConfidence  float64
	OCRErr         error

	SpokenText              string
	AudioTimestamps         string
	TranscriptionConfidence float64
	AudioErr                error

	// TextCap defaults to DefaultTextCap
	TextCap int
}

// Build merges one video's results into a record stamped with now
func Build(in BuildInput, now time.Time) VideoRecord {
	limit := in.TextCap
	if limit <= 0 {
		limit = DefaultTextCap
	}
	return VideoRecord{
		VideoID:                 in.VideoID,
		Filename:                in.Filename,
		DurationSeconds:         util.Round(in.Duration, 2),
		FrameCount:              in.FrameCount,
		OnScreenText:            Sanitize(in.OnScreenText, limit),
		SpokenPhrases:           Sanitize(in.SpokenText, limit),
		TextTimestamps:          Sanitize(in.TextTimestamps, limit),
		AudioTimestamps:         Sanitize(in.AudioTimestamps, limit),
		OCRConfidence:           util.Round(in.OCRConfidence, 2),
		TranscriptionConfidence: util.Round(in.TranscriptionConfidence, 2),
		ProcessingStatus:        StatusOf(in.OCRErr, in.AudioErr),
		ErrorNotes:              Sanitize(ErrorNotes(in.OCRErr, in.AudioErr), limit),
		ProcessedTimestamp:      now.UTC().Truncate(time.Microsecond),
	}
}

// StatusOf derives the status from the two modality errors
func StatusOf(ocrErr, audioErr error) Status {
	switch {
	case ocrErr == nil && audioErr == nil:
		return StatusSuccess
	case ocrErr != nil && audioErr != nil:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// ErrorNotes renders "OCR: msg; Audio: msg" for whichever side failed
func ErrorNotes(ocrErr, audioErr error) string {
	var notes []string
	if ocrErr != nil {
		notes = append(notes, "OCR: "+ocrErr.Error())
	}
	if audioErr != nil {
		notes = append(notes, "Audio: "+audioErr.Error())
	}
	return strings.Join(notes, "; ")
}

// Sanitize collapses whitespace and caps the result at limit runes, the
// trailing ellipsis included. Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(s string, limit int) string {
	cleaned := strings.Join(strings.Fields(s), " ")
	r := []rune(cleaned)
	if len(r) <= limit {
		return cleaned
	}
	keep := limit - len(ellipsis)
	if keep < 0 {
		keep = 0
	}
	return string(r[:keep]) + ellipsis
}

// Valid reports whether s is one of the three statuses
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusPartial, StatusFailed:
		return true
	}
	return false
}

// Validate checks a record before it is persisted and returns a validation
// failure naming every problem found
func Validate(rec VideoRecord) error {
	var errs []error
	if strings.TrimSpace(rec.VideoID) == "" {
		errs = append(errs, errors.New("missing required field: video_id"))
	}
	if strings.TrimSpace(rec.Filename) == "" {
		errs = append(errs, errors.New("missing required field: filename"))
	}
	if rec.ProcessingStatus == "" {
		errs = append(errs, errors.New("missing required field: processing_status"))
	} else if !rec.ProcessingStatus.Valid() {
		errs = append(errs, fmt.Errorf("invalid processing_status %q: must be one of success, partial, failed", rec.ProcessingStatus))
	}
	if !finite(rec.DurationSeconds) || rec.DurationSeconds < 0 {
		errs = append(errs, fmt.Errorf("invalid duration_seconds: %v", rec.DurationSeconds))
	}
	if rec.FrameCount < 0 {
		errs = append(errs, fmt.Errorf("invalid frame_count: %d", rec.FrameCount))
	}
	if !finite(rec.OCRConfidence) || rec.OCRConfidence < 0 || rec.OCRConfidence > 100 {
		errs = append(errs, fmt.Errorf("invalid ocr_confidence: %v", rec.OCRConfidence))
	}
	if !finite(rec.TranscriptionConfidence) || rec.TranscriptionConfidence < 0 || rec.TranscriptionConfidence > 1 {
		errs = append(errs, fmt.Errorf("invalid transcription_confidence: %v", rec.TranscriptionConfidence))
	}
	if rec.ProcessedTimestamp.IsZero() {
		errs = append(errs, errors.New("missing required field: processed_timestamp"))
	}

	if len(errs) == 0 {
		return nil
	}
	return failure.New(failure.Validation, rec.VideoID, errors.Join(errs...))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
