package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/reelscribe/internal/failure"
	"github.com/kikiluvv/reelscribe/pkg/util"
)

// BatchSummary aggregates one batch of records
type BatchSummary struct {
	RunID                      string    `json:"run_id"`
	Batch                      int       `json:"batch"`
	BatchTimestamp             time.Time `json:"batch_timestamp"`
	TotalVideos                int       `json:"total_videos"`
	SuccessfulProcessing       int       `json:"successful_processing"`
	PartialProcessing          int       `json:"partial_processing"`
	FailedProcessing           int       `json:"failed_processing"`
	SuccessRate                float64   `json:"success_rate"`
	AvgVideoDuration           float64   `json:"avg_video_duration"`
	AvgFramesPerVideo          float64   `json:"avg_frames_per_video"`
	AvgOCRConfidence           float64   `json:"avg_ocr_confidence"`
	AvgTranscriptionConfidence float64   `json:"avg_transcription_confidence"`
	VideosWithText             int       `json:"videos_with_text"`
	VideosWithAudio            int       `json:"videos_with_audio"`
	TextExtractionRate         float64   `json:"text_extraction_rate"`
	AudioExtractionRate        float64   `json:"audio_extraction_rate"`
}

// Summarize computes batch statistics. Averages cover success and partial
// records; confidence averages skip zero entries.
func Summarize(recs []VideoRecord, runID string, batch int, now time.Time) BatchSummary {
	s := BatchSummary{
		RunID:          runID,
		Batch:          batch,
		BatchTimestamp: now.UTC(),
		TotalVideos:    len(recs),
	}
	if len(recs) == 0 {
		return s
	}

	var (
		usable               int
		duration, frames     float64
		ocrSum, transSum     float64
		ocrCount, transCount int
	)
	for _, r := range recs {
		switch r.ProcessingStatus {
		case StatusSuccess:
			s.SuccessfulProcessing++
		case StatusPartial:
			s.PartialProcessing++
		case StatusFailed:
			s.FailedProcessing++
		}
		if r.OnScreenText != "" {
			s.VideosWithText++
		}
		if r.SpokenPhrases != "" {
			s.VideosWithAudio++
		}
		if r.ProcessingStatus != StatusSuccess && r.ProcessingStatus != StatusPartial {
			continue
		}
		usable++
		duration += r.DurationSeconds
		frames += float64(r.FrameCount)
		if r.OCRConfidence > 0 {
			ocrSum += r.OCRConfidence
			ocrCount++
		}
		if r.TranscriptionConfidence > 0 {
			transSum += r.TranscriptionConfidence
			transCount++
		}
	}

	total := float64(len(recs))
	s.SuccessRate = util.Round(float64(s.SuccessfulProcessing)/total*100, 1)
	s.TextExtractionRate = util.Round(float64(s.VideosWithText)/total*100, 1)
	s.AudioExtractionRate = util.Round(float64(s.VideosWithAudio)/total*100, 1)
	if usable > 0 {
		s.AvgVideoDuration = util.Round(duration/float64(usable), 2)
		s.AvgFramesPerVideo = util.Round(frames/float64(usable), 1)
	}
	if ocrCount > 0 {
		s.AvgOCRConfidence = util.Round(ocrSum/float64(ocrCount), 1)
	}
	if transCount > 0 {
		s.AvgTranscriptionConfidence = util.Round(transSum/float64(transCount), 2)
	}
	return s
}

// SummaryLog is a JSON array of batch summaries, appended to and never
// overwritten in place
type SummaryLog struct {
	logger zerolog.Logger
	path   string
	mu     sync.Mutex
}

// NewSummaryLog creates a log backed by path
func NewSummaryLog(logger zerolog.Logger, path string) *SummaryLog {
	return &SummaryLog{
		logger: logger.With().Str("component", "summary_log").Logger(),
		path:   path,
	}
}

// errCorruptSummaries marks a summary file that exists but is not a JSON list
var errCorruptSummaries = errors.New("corrupted summary file")

// Append adds one entry. A file that does not decode is replaced by a
// fresh list; any other read error is returned and the file is left alone.
func (l *SummaryLog) Append(s BatchSummary) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.read()
	switch {
	case errors.Is(err, errCorruptSummaries):
		l.logger.Warn().Err(err).Str("path", l.path).Msg("corrupted summary file, starting fresh")
		entries = nil
	case err != nil:
		return failure.New(failure.Persistence, "read "+l.path, err)
	}
	entries = append(entries, s)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return failure.New(failure.Persistence, "encode summaries", err)
	}
	if err := util.WriteFileAtomic(l.path, data, 0644); err != nil {
		return failure.New(failure.Persistence, "write "+l.path, err)
	}
	return nil
}

// Entries returns every stored summary
func (l *SummaryLog) Entries() ([]BatchSummary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read()
}

func (l *SummaryLog) read() ([]BatchSummary, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []BatchSummary
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptSummaries, err)
	}
	return entries, nil
}
