// Package speech extracts the audio track of a video and transcribes it
// through a pluggable speech model.
package speech

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/reelscribe/internal/failure"
	"github.com/kikiluvv/reelscribe/pkg/util"
)

// maxErrorLen bounds error text carried into records
const maxErrorLen = 100

// TranscriptionResult is the spoken-text outcome for one video. Err is an
// audio_extraction or transcription failure; Segments is never nil.
type TranscriptionResult struct {
	Text       string
	Language   string
	Segments   []Segment
	Timestamps string
	Confidence float64
	Duration   float64
	Err        error
}

func errorResult(err error) TranscriptionResult {
	return TranscriptionResult{Language: "unknown", Segments: []Segment{}, Err: err}
}

// Options configures audio handling
type Options struct {
	// AudioDir holds the temporary per-video audio files
	AudioDir          string
	MinAudioBytes     int64
	ExtractTimeout    time.Duration
	TranscribeTimeout time.Duration
}

// Transcriber runs extraction then transcription for one video at a time
type Transcriber struct {
	logger    zerolog.Logger
	extractor AudioExtractor
	model     Model
	opts      Options
}

// NewTranscriber creates a transcriber
func NewTranscriber(logger zerolog.Logger, extractor AudioExtractor, model Model, opts Options) *Transcriber {
	if opts.MinAudioBytes <= 0 {
		opts.MinAudioBytes = 1000
	}
	return &Transcriber{
		logger:    logger.With().Str("component", "speech").Str("model", model.Name()).Logger(),
		extractor: extractor,
		model:     model,
		opts:      opts,
	}
}

// TranscribeVideo extracts audio from videoPath and transcribes it. The
// temporary audio file is removed on every path.
func (t *Transcriber) TranscribeVideo(ctx context.Context, videoPath, videoID string) TranscriptionResult {
	log := t.logger.With().Str("video_id", videoID).Logger()

	audioPath, err := t.extract(ctx, videoPath, videoID)
	if audioPath != "" {
		defer util.CleanupFiles(audioPath)
	}
	if err != nil {
		log.Warn().Err(err).Msg("audio extraction failed")
		return errorResult(err)
	}

	res := t.transcribe(ctx, audioPath)
	if res.Err != nil {
		log.Warn().Err(res.Err).Msg("transcription failed")
		return res
	}

	log.Info().
		Str("language", res.Language).
		Int("segments", len(res.Segments)).
		Float64("confidence", res.Confidence).
		Msg("transcribed")
	return res
}

func (t *Transcriber) extract(ctx context.Context, videoPath, videoID string) (string, error) {
	if err := util.EnsureDir(t.opts.AudioDir); err != nil {
		return "", failure.New(failure.AudioExtraction, "create audio dir", err)
	}
	f, err := os.CreateTemp(t.opts.AudioDir, videoID+"-*.wav")
	if err != nil {
		return "", failure.New(failure.AudioExtraction, "create temp file", err)
	}
	audioPath := f.Name()
	f.Close()

	extractCtx, cancel := withTimeout(ctx, t.opts.ExtractTimeout)
	defer cancel()

	if err := t.extractor.ExtractAudio(extractCtx, videoPath, audioPath); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return audioPath, failure.New(failure.AudioExtraction, fmt.Sprintf("timed out after %s", t.opts.ExtractTimeout), err)
		}
		return audioPath, failure.New(failure.AudioExtraction, "", err)
	}

	if size := util.FileSize(audioPath); size < t.opts.MinAudioBytes {
		return audioPath, failure.Newf(failure.AudioExtraction, "extracted audio too small: %d bytes", size)
	}
	return audioPath, nil
}

// transcribe invokes the model, converting errors and panics into a
// transcription failure result
func (t *Transcriber) transcribe(ctx context.Context, audioPath string) (res TranscriptionResult) {
	defer func() {
		if p := recover(); p != nil {
			t.logger.Error().Interface("panic", p).Str("audio", audioPath).Msg("speech model panicked")
			res = errorResult(&failure.Error{
				Kind: failure.Transcription,
				Op:   fmt.Sprintf("panic %T", p),
				Err:  errors.New(failure.Truncate(fmt.Sprint(p), maxErrorLen)),
			})
		}
	}()

	callCtx, cancel := withTimeout(ctx, t.opts.TranscribeTimeout)
	defer cancel()

	out, err := t.model.Transcribe(callCtx, audioPath)
	if err != nil {
		return errorResult(&failure.Error{
			Kind: failure.Transcription,
			Op:   fmt.Sprintf("%T", err),
			Err:  truncatedError{msg: failure.Truncate(err.Error(), maxErrorLen), cause: err},
		})
	}

	text, lang, segments := Normalize(out)
	return TranscriptionResult{
		Text:       text,
		Language:   lang,
		Segments:   segments,
		Timestamps: Timestamps(segments),
		Confidence: Confidence(segments),
		Duration:   Duration(segments),
	}
}

// truncatedError shortens the message but keeps the cause for errors.Is
type truncatedError struct {
	msg   string
	cause error
}

func (e truncatedError) Error() string { return e.msg }
func (e truncatedError) Unwrap() error { return e.cause }

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
