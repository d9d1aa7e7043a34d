package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/reelscribe/internal/config"
	"github.com/kikiluvv/reelscribe/internal/ffmpeg"
	"github.com/kikiluvv/reelscribe/internal/ocr"
	"github.com/kikiluvv/reelscribe/internal/progress"
	"github.com/kikiluvv/reelscribe/internal/records"
	"github.com/kikiluvv/reelscribe/internal/sampler"
	"github.com/kikiluvv/reelscribe/internal/speech"
)

// Deps are the capability providers and stores a Pipeline runs against.
// Store, Summaries and Progress may be nil for single-video inspection.
type Deps struct {
	Decoder   sampler.Decoder
	Engine    ocr.Engine
	Extractor speech.AudioExtractor
	Model     speech.Model
	Store     records.Store
	Summaries *records.SummaryLog
	Progress  *progress.Tracker

	closers []func() error
}

// Close releases whatever NewDeps opened
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// NewDeps wires the external tools selected by cfg. With persist unset the
// record store, summary log and progress tracker are left nil.
func NewDeps(ctx context.Context, logger zerolog.Logger, cfg *config.Config, persist bool) (*Deps, error) {
	exec, err := ffmpeg.New(logger, ffmpeg.Options{
		FFmpegPath:  cfg.FFmpeg.BinaryPath,
		FFprobePath: cfg.FFmpeg.ProbePath,
		Threads:     cfg.FFmpeg.Threads,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ffmpeg: %w", err)
	}

	format := ffmpeg.DefaultWhisperFormat()
	if cfg.FFmpeg.AudioSampleRate > 0 {
		format.SampleRate = cfg.FFmpeg.AudioSampleRate
	}

	d := &Deps{
		Decoder:   exec,
		Extractor: exec.AudioExtractor(format),
	}

	if d.Engine, err = newEngine(ctx, logger, cfg, d); err != nil {
		d.Close()
		return nil, err
	}
	if d.Model, err = newModel(logger, cfg); err != nil {
		d.Close()
		return nil, err
	}

	if !persist {
		return d, nil
	}

	store, err := records.Open(logger, cfg.Records.Store, cfg.Records.CSVFile)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}
	d.Store = store
	d.closers = append(d.closers, store.Close)

	d.Summaries = records.NewSummaryLog(logger, cfg.Records.SummaryFile)
	d.Progress = progress.NewTracker(logger, cfg.Pipeline.ProgressFile, progress.Options{
		FlushEvery:  cfg.Pipeline.FlushEvery,
		ErrorWindow: cfg.Pipeline.ErrorWindow,
	})
	return d, nil
}

func newEngine(ctx context.Context, logger zerolog.Logger, cfg *config.Config, d *Deps) (ocr.Engine, error) {
	switch cfg.OCR.Engine {
	case "vision":
		v, err := ocr.NewVision(ctx, logger, cfg.OCR.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vision engine: %w", err)
		}
		d.closers = append(d.closers, v.Close)
		return v, nil
	default:
		t, err := ocr.NewTesseract(logger, ocr.TesseractOptions{
			BinaryPath:  cfg.OCR.TesseractPath,
			Language:    cfg.OCR.Language,
			PageSegMode: cfg.OCR.PageSegMode,
			EngineMode:  cfg.OCR.EngineMode,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tesseract: %w", err)
		}
		return t, nil
	}
}

func newModel(logger zerolog.Logger, cfg *config.Config) (speech.Model, error) {
	switch cfg.Speech.Backend {
	case "openai":
		m, err := speech.NewOpenAIModel(speech.OpenAIOptions{
			APIKey:   cfg.Speech.OpenAIAPIKey,
			BaseURL:  cfg.Speech.OpenAIBaseURL,
			Model:    cfg.Speech.OpenAIModel,
			Language: cfg.Speech.Language,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai transcription: %w", err)
		}
		return m, nil
	default:
		w, err := speech.NewWhisperCLI(logger, speech.WhisperOptions{
			BinaryPath:     cfg.Speech.WhisperPath,
			Model:          cfg.Speech.WhisperModel,
			Language:       cfg.Speech.Language,
			WordTimestamps: cfg.Speech.WordTimestamps,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize whisper: %w", err)
		}
		return w, nil
	}
}
