// Package pipeline drives batch extraction: discovery, resume filtering, a
// bounded worker pool running one task per video, persistence and
// checkpointing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kikiluvv/reelscribe/internal/config"
	"github.com/kikiluvv/reelscribe/internal/ocr"
	"github.com/kikiluvv/reelscribe/internal/records"
	"github.com/kikiluvv/reelscribe/internal/sampler"
	"github.com/kikiluvv/reelscribe/internal/speech"
	"github.com/kikiluvv/reelscribe/pkg/util"
)

// Pipeline orchestrates the extraction workflow
type Pipeline struct {
	logger      zerolog.Logger
	cfg         *config.Config
	deps        *Deps
	sampler     *sampler.Sampler
	recognizer  *ocr.Recognizer
	transcriber *speech.Transcriber
	now         func() time.Time
}

// New creates a pipeline over deps
func New(logger zerolog.Logger, cfg *config.Config, deps *Deps) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if deps == nil || deps.Decoder == nil || deps.Engine == nil || deps.Extractor == nil || deps.Model == nil {
		return nil, errors.New("pipeline needs a decoder, an ocr engine, an audio extractor and a speech model")
	}

	smp := sampler.New(logger, deps.Decoder, cfg.FramesDir(), sampler.Options{
		Interval:      cfg.Sampling.Interval,
		ImageFormat:   cfg.Sampling.ImageFormat,
		Width:         cfg.Sampling.FrameWidth,
		ProbeTimeout:  cfg.FFmpeg.ProbeTimeout,
		DecodeTimeout: cfg.FFmpeg.DecodeTimeout,
	})
	rec := ocr.NewRecognizer(logger, deps.Engine, cfg.OCR.ConfidenceThreshold, ocr.PreprocessOptions{
		UpscaleFactor: cfg.OCR.UpscaleFactor,
		ClipLimit:     cfg.OCR.ClipLimit,
		TileGrid:      cfg.OCR.TileGrid,
	})
	tr := speech.NewTranscriber(logger, deps.Extractor, deps.Model, speech.Options{
		AudioDir:          cfg.AudioDir(),
		MinAudioBytes:     cfg.FFmpeg.MinAudioBytes,
		ExtractTimeout:    cfg.FFmpeg.AudioTimeout,
		TranscribeTimeout: cfg.Speech.Timeout,
	})

	return &Pipeline{
		logger:      logger.With().Str("component", "pipeline").Logger(),
		cfg:         cfg,
		deps:        deps,
		sampler:     smp,
		recognizer:  rec,
		transcriber: tr,
		now:         time.Now,
	}, nil
}

// Run processes every pending video under the configured input dir. A
// cancelled context stops after the current batch without persisting it,
// so those videos are picked up again on resume.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	if p.deps.Store == nil || p.deps.Summaries == nil || p.deps.Progress == nil {
		return nil, errors.New("run needs a record store, a summary log and a progress tracker")
	}

	start := p.now()
	report := &RunReport{RunID: uuid.NewString()}
	log := p.logger.With().Str("run_id", report.RunID).Logger()

	videos, err := sampler.Discover(log, p.cfg.InputDir, p.cfg.Sampling.MinVideoBytes)
	if err != nil {
		return nil, err
	}
	if opts.MaxVideos > 0 && len(videos) > opts.MaxVideos {
		videos = videos[:opts.MaxVideos]
	}
	report.Discovered = len(videos)

	pending := videos
	if opts.Resume {
		pending, err = p.filterProcessed(ctx, videos)
		if err != nil {
			return nil, err
		}
		report.Skipped = len(videos) - len(pending)
	}

	log.Info().
		Str("input", p.cfg.InputDir).
		Int("discovered", report.Discovered).
		Int("skipped", report.Skipped).
		Int("pending", len(pending)).
		Int("workers", p.cfg.Pipeline.Workers).
		Msg("starting extraction run")

	if len(pending) == 0 {
		log.Info().Msg("nothing to process")
		report.Elapsed = p.now().Sub(start)
		return report, nil
	}

	if _, err := p.deps.Progress.Start(len(pending), opts.Resume); err != nil {
		log.Warn().Err(err).Msg("could not write initial progress snapshot")
	}

	for i, batch := range chunk(pending, p.cfg.Pipeline.BatchSize) {
		if err := ctx.Err(); err != nil {
			return p.finish(log, report, start), err
		}

		batchNo := i + 1
		log.Info().Int("batch", batchNo).Int("videos", len(batch)).Msg("processing batch")

		recs := p.processBatch(ctx, batch)
		if err := ctx.Err(); err != nil {
			log.Warn().Int("batch", batchNo).Msg("run cancelled, discarding unfinished batch")
			return p.finish(log, report, start), err
		}
		report.Batches++
		report.Processed += len(recs)

		persisted, err := p.persist(ctx, log, recs, report)
		if err != nil {
			return p.finish(log, report, start), err
		}

		summary := records.Summarize(persisted, report.RunID, batchNo, p.now())
		if err := retryOnce(log, "append summary", func() error { return p.deps.Summaries.Append(summary) }); err != nil {
			log.Error().Err(err).Int("batch", batchNo).Msg("failed to save batch summary")
		}

		if err := p.deps.Progress.Flush(); err != nil {
			log.Error().Err(err).Msg("failed to flush progress")
		}
		p.deps.Progress.Report()

		if every := p.cfg.Pipeline.SweepEvery; every > 0 && batchNo%every == 0 {
			p.sweep(log)
		}
	}

	return p.finish(log, report, start), nil
}

func (p *Pipeline) finish(log zerolog.Logger, report *RunReport, start time.Time) *RunReport {
	if err := p.deps.Progress.Flush(); err != nil {
		log.Error().Err(err).Msg("failed to flush progress")
	}
	report.Elapsed = p.now().Sub(start)
	log.Info().
		Int("processed", report.Processed).
		Int("persisted", report.Persisted).
		Int("success", report.Success).
		Int("partial", report.Partial).
		Int("failed", report.Failed).
		Int("rejected", report.Rejected).
		Dur("elapsed", report.Elapsed.Round(time.Millisecond)).
		Msg("extraction run complete")
	return report
}

// filterProcessed drops videos whose id the store already holds
func (p *Pipeline) filterProcessed(ctx context.Context, videos []string) ([]string, error) {
	done, err := p.deps.Store.ProcessedIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load processed ids: %w", err)
	}
	pending := make([]string, 0, len(videos))
	for _, v := range videos {
		if _, ok := done[sampler.VideoID(v)]; !ok {
			pending = append(pending, v)
		}
	}
	return pending, nil
}

// processBatch runs one task per video on a bounded pool. Results keep the
// batch order.
func (p *Pipeline) processBatch(ctx context.Context, batch []string) []records.VideoRecord {
	out := make([]records.VideoRecord, len(batch))
	done := make([]bool, len(batch))

	var g errgroup.Group
	g.SetLimit(max(p.cfg.Pipeline.Workers, 1))

	for i, path := range batch {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			videoID := sampler.VideoID(path)
			p.deps.Progress.Begin(videoID)

			outcome := p.ProcessVideo(ctx, path)
			out[i], done[i] = outcome.Record, true

			failed := outcome.Record.ProcessingStatus == records.StatusFailed
			if err := p.deps.Progress.Update(videoID, failed, outcome.Record.ErrorNotes); err != nil {
				p.logger.Error().Err(err).Str("video_id", videoID).Msg("failed to save progress")
			}
			return nil
		})
	}
	g.Wait()

	recs := make([]records.VideoRecord, 0, len(batch))
	for i := range out {
		if done[i] {
			recs = append(recs, out[i])
		}
	}
	return recs
}

// persist validates recs and appends the valid ones, retrying once. The
// returned slice is what was written.
func (p *Pipeline) persist(ctx context.Context, log zerolog.Logger, recs []records.VideoRecord, report *RunReport) ([]records.VideoRecord, error) {
	valid := make([]records.VideoRecord, 0, len(recs))
	for _, rec := range recs {
		if err := records.Validate(rec); err != nil {
			log.Error().Err(err).Str("video_id", rec.VideoID).Msg("rejecting invalid record")
			report.Rejected++
			continue
		}
		valid = append(valid, rec)
	}
	if len(valid) == 0 {
		return valid, nil
	}

	err := retryOnce(log, "append records", func() error { return p.deps.Store.Append(ctx, valid...) })
	if err != nil {
		log.Error().Err(err).Int("records", len(valid)).Msg("failed to persist records")
		return nil, err
	}

	report.Persisted += len(valid)
	for _, rec := range valid {
		switch rec.ProcessingStatus {
		case records.StatusSuccess:
			report.Success++
		case records.StatusPartial:
			report.Partial++
		case records.StatusFailed:
			report.Failed++
		}
	}
	return valid, nil
}

// sweep removes aged scratch files a crashed task may have left behind
func (p *Pipeline) sweep(log zerolog.Logger) {
	maxAge := p.cfg.Pipeline.SweepMaxAge
	frames, err := p.sampler.Sweep(maxAge)
	if err != nil {
		log.Warn().Err(err).Msg("frame sweep incomplete")
	}
	audio, err := util.SweepOlderThan(p.cfg.AudioDir(), maxAge, p.now())
	if err != nil {
		log.Warn().Err(err).Msg("audio sweep incomplete")
	}
	log.Info().
		Int("frames", frames).
		Int("audio", audio).
		Str("root", filepath.Clean(p.cfg.WorkDir)).
		Msg("swept temporary files")
}

func retryOnce(log zerolog.Logger, op string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	log.Warn().Err(err).Str("op", op).Msg("retrying once")
	return fn()
}

func chunk(items []string, size int) [][]string {
	if size <= 0 {
		size = len(items)
	}
	var out [][]string
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
