package records

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/reelscribe/internal/failure"
	"github.com/kikiluvv/reelscribe/pkg/util"
)

const timestampLayout = time.RFC3339Nano

// CSVStore appends records to a CSV file. The header is written once when
// the file is created or empty.
type CSVStore struct {
	logger zerolog.Logger
	path   string
	mu     sync.Mutex
}

// NewCSVStore prepares the output directory for path
func NewCSVStore(logger zerolog.Logger, path string) (*CSVStore, error) {
	if path == "" {
		return nil, errors.New("csv path is empty")
	}
	if err := util.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &CSVStore{
		logger: logger.With().Str("component", "csv_store").Logger(),
		path:   path,
	}, nil
}

// Path returns the backing file
func (s *CSVStore) Path() string { return s.path }

// Append writes recs and fsyncs before returning
func (s *CSVStore) Append(ctx context.Context, recs ...VideoRecord) error {
	if len(recs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return failure.New(failure.Persistence, "append", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return failure.New(failure.Persistence, "open "+s.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return failure.New(failure.Persistence, "stat "+s.path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(Columns); err != nil {
			return failure.New(failure.Persistence, "write header", err)
		}
	}
	for _, rec := range recs {
		if err := w.Write(toRow(rec)); err != nil {
			return failure.New(failure.Persistence, "write row "+rec.VideoID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return failure.New(failure.Persistence, "flush", err)
	}
	if err := f.Sync(); err != nil {
		return failure.New(failure.Persistence, "sync", err)
	}

	s.logger.Debug().Int("rows", len(recs)).Str("path", s.path).Msg("appended records")
	return nil
}

// ProcessedIDs returns the ids already in the file; a missing file is empty
func (s *CSVStore) ProcessedIDs(ctx context.Context) (map[string]struct{}, error) {
	recs, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(recs))
	for _, r := range recs {
		ids[r.VideoID] = struct{}{}
	}
	return ids, nil
}

// Load reads every row. Rows that fail to parse are skipped with a warning.
func (s *CSVStore) Load(ctx context.Context) ([]VideoRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, failure.New(failure.Persistence, "open "+s.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, failure.New(failure.Persistence, "read header", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	if _, ok := index["video_id"]; !ok {
		return nil, failure.Newf(failure.Persistence, "%s has no video_id column", s.path)
	}

	var recs []VideoRecord
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.logger.Warn().Err(err).Int("line", line).Msg("skipping unreadable row")
			continue
		}
		rec, err := fromRow(row, index)
		if err != nil {
			s.logger.Warn().Err(err).Int("line", line).Msg("skipping malformed row")
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *CSVStore) Close() error { return nil }

func toRow(r VideoRecord) []string {
	return []string{
		r.VideoID,
		r.Filename,
		strconv.FormatFloat(r.DurationSeconds, 'f', -1, 64),
		strconv.Itoa(r.FrameCount),
		r.OnScreenText,
		r.SpokenPhrases,
		r.TextTimestamps,
		r.AudioTimestamps,
		strconv.FormatFloat(r.OCRConfidence, 'f', -1, 64),
		strconv.FormatFloat(r.TranscriptionConfidence, 'f', -1, 64),
		string(r.ProcessingStatus),
		r.ErrorNotes,
		r.ProcessedTimestamp.Format(timestampLayout),
	}
}

func fromRow(row []string, index map[string]int) (VideoRecord, error) {
	get := func(col string) string {
		if i, ok := index[col]; ok && i < len(row) {
			return row[i]
		}
		return ""
	}

	var rec VideoRecord
	var errs []error
	parseFloat := func(col string) float64 {
		v := get(col)
		if v == "" {
			return 0
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", col, err))
		}
		return f
	}

	rec.VideoID = get("video_id")
	rec.Filename = get("filename")
	rec.DurationSeconds = parseFloat("duration_seconds")
	if v := get("frame_count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("frame_count: %w", err))
		}
		rec.FrameCount = n
	}
	rec.OnScreenText = get("on_screen_text")
	rec.SpokenPhrases = get("spoken_phrases")
	rec.TextTimestamps = get("text_timestamps")
	rec.AudioTimestamps = get("audio_timestamps")
	rec.OCRConfidence = parseFloat("ocr_confidence")
	rec.TranscriptionConfidence = parseFloat("transcription_confidence")
	rec.ProcessingStatus = Status(get("processing_status"))
	rec.ErrorNotes = get("error_notes")
	if v := get("processed_timestamp"); v != "" {
		ts, err := time.Parse(timestampLayout, v)
		if err != nil {
			errs = append(errs, fmt.Errorf("processed_timestamp: %w", err))
		}
		rec.ProcessedTimestamp = ts
	}

	if rec.VideoID == "" {
		errs = append(errs, errors.New("empty video_id"))
	}
	return rec, errors.Join(errs...)
}
