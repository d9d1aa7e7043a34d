package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime/debug"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kikiluvv/reelscribe/internal/reconcile"
	"github.com/kikiluvv/reelscribe/internal/records"
	"github.com/kikiluvv/reelscribe/internal/sampler"
	"github.com/kikiluvv/reelscribe/internal/speech"
)

// ProcessVideo runs both modality branches for one file and merges them into
// a record. It never fails: every error ends up in the record's status and
// notes.
func (p *Pipeline) ProcessVideo(ctx context.Context, path string) Outcome {
	start := p.now()
	videoID := sampler.VideoID(path)
	log := p.logger.With().Str("video_id", videoID).Logger()
	log.Info().Str("file", filepath.Base(path)).Msg("processing video")

	var (
		visual visualResult
		audio  speech.TranscriptionResult
	)

	var g errgroup.Group
	g.Go(func() error {
		if err := guard(log, "visual", func() { visual = p.visualBranch(ctx, path, videoID) }); err != nil {
			visual = visualResult{err: err}
		}
		return nil
	})
	g.Go(func() error {
		if err := guard(log, "audio", func() { audio = p.transcriber.TranscribeVideo(ctx, path, videoID) }); err != nil {
			audio = speech.TranscriptionResult{Language: "unknown", Segments: []speech.Segment{}, Err: err}
		}
		return nil
	})
	g.Wait()

	in := records.BuildInput{
		VideoID:                 videoID,
		Filename:                filepath.Base(path),
		FrameCount:              visual.stream.FramesProcessed,
		OnScreenText:            visual.stream.Text,
		TextTimestamps:          visual.stream.Timestamped,
		OCRConfidence:           visual.stream.AverageConfidence,
		OCRErr:                  visual.err,
		SpokenText:              audio.Text,
		AudioTimestamps:         audio.Timestamps,
		TranscriptionConfidence: audio.Confidence,
		AudioErr:                audio.Err,
		TextCap:                 p.cfg.Records.TextCap,
	}
	if visual.asset != nil {
		in.Duration = visual.asset.Duration
	}
	rec := records.Build(in, p.now())

	out := Outcome{
		Record:   rec,
		Asset:    visual.asset,
		Expected: visual.expected,
		Entries:  visual.stream.Entries,
		Language: audio.Language,
		Segments: audio.Segments,
		Elapsed:  p.now().Sub(start),
	}
	if out.Entries == nil {
		out.Entries = []reconcile.Entry{}
	}

	log.Info().
		Str("status", string(rec.ProcessingStatus)).
		Int("frames", rec.FrameCount).
		Float64("ocr_confidence", rec.OCRConfidence).
		Float64("transcription_confidence", rec.TranscriptionConfidence).
		Dur("elapsed", out.Elapsed).
		Msg("video processed")
	return out
}

// visualBranch samples, recognizes every frame, then reconciles. The frame
// dir is removed afterwards unless frames are kept.
func (p *Pipeline) visualBranch(ctx context.Context, path, videoID string) visualResult {
	if !p.cfg.Pipeline.KeepFrames {
		defer func() {
			if err := p.sampler.Cleanup(videoID); err != nil {
				p.logger.Warn().Err(err).Str("video_id", videoID).Msg("frame cleanup failed")
			}
		}()
	}

	sampled := p.sampler.Sample(ctx, path, videoID)
	res := visualResult{asset: sampled.Asset, expected: sampled.Expected}
	if sampled.Err != nil {
		res.stream = reconcile.Reconcile(nil, p.cfg.OCR.SimilarityThreshold)
		res.err = sampled.Err
		return res
	}

	frames := make([]reconcile.FrameText, 0, len(sampled.Frames))
	for _, f := range sampled.Frames {
		if ctx.Err() != nil {
			break
		}
		frames = append(frames, reconcile.FrameText{
			Timestamp: f.Timestamp,
			Result:    p.recognizer.RecognizeFile(ctx, f.Path),
		})
	}

	res.stream = reconcile.Reconcile(frames, p.cfg.OCR.SimilarityThreshold)
	res.err = res.stream.Err
	return res
}

// guard converts a panic in fn into an error so one video cannot take down
// the worker pool
func guard(log zerolog.Logger, branch string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("branch", branch).
				Bytes("stack", debug.Stack()).
				Msg("task panicked")
			err = fmt.Errorf("unexpected %s branch panic: %v", branch, r)
		}
	}()
	fn()
	return nil
}
