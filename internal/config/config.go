package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// Config holds all application configuration
type Config struct {
	// Core settings
	InputDir  string `yaml:"input_dir"`
	WorkDir   string `yaml:"work_dir"`
	OutputDir string `yaml:"output_dir"`
	LogFile   string `yaml:"log_file"`

	FFmpeg   FFmpegConfig   `yaml:"ffmpeg"`
	Sampling SamplingConfig `yaml:"sampling"`
	OCR      OCRConfig      `yaml:"ocr"`
	Speech   SpeechConfig   `yaml:"speech"`
	Records  RecordsConfig  `yaml:"records"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

type FFmpegConfig struct {
	BinaryPath      string        `yaml:"binary_path"`
	ProbePath       string        `yaml:"probe_path"`
	Threads         int           `yaml:"threads"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
	DecodeTimeout   time.Duration `yaml:"decode_timeout"`
	AudioTimeout    time.Duration `yaml:"audio_timeout"`
	MinAudioBytes   int64         `yaml:"min_audio_bytes"`
	AudioSampleRate int           `yaml:"audio_sample_rate"`
}

type SamplingConfig struct {
	Interval    float64 `yaml:"interval"`
	ImageFormat string  `yaml:"image_format"`
	// FrameWidth downscales sampled frames when positive
	FrameWidth    int   `yaml:"frame_width"`
	MinVideoBytes int64 `yaml:"min_video_bytes"`
}

type OCRConfig struct {
	// Engine is "tesseract" or "vision"
	Engine              string  `yaml:"engine"`
	TesseractPath       string  `yaml:"tesseract_path"`
	Language            string  `yaml:"language"`
	PageSegMode         int     `yaml:"psm"`
	EngineMode          int     `yaml:"oem"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	UpscaleFactor       float64 `yaml:"upscale_factor"`
	ClipLimit           float64 `yaml:"clahe_clip_limit"`
	TileGrid            int     `yaml:"clahe_tile_grid"`
	// CredentialsFile falls back to GOOGLE_APPLICATION_CREDENTIALS
	CredentialsFile string `yaml:"-"`
}

type SpeechConfig struct {
	// Backend is "whisper" (local CLI) or "openai"
	Backend        string        `yaml:"backend"`
	WhisperPath    string        `yaml:"whisper_path"`
	WhisperModel   string        `yaml:"whisper_model"`
	Language       string        `yaml:"language"`
	WordTimestamps bool          `yaml:"word_timestamps"`
	Timeout        time.Duration `yaml:"timeout"`
	OpenAIModel    string        `yaml:"openai_model"`
	OpenAIBaseURL  string        `yaml:"openai_base_url"`
	OpenAIAPIKey   string        `yaml:"-"`
}

type RecordsConfig struct {
	// Store is "csv" or a SQL DSN ("sqlite://path", "postgres://...")
	Store       string `yaml:"store"`
	CSVFile     string `yaml:"csv_file"`
	SummaryFile string `yaml:"summary_file"`
	TextCap     int    `yaml:"text_cap"`
}

type PipelineConfig struct {
	Workers      int           `yaml:"workers"`
	BatchSize    int           `yaml:"batch_size"`
	ProgressFile string        `yaml:"progress_file"`
	FlushEvery   int           `yaml:"flush_every"`
	ErrorWindow  int           `yaml:"error_window"`
	SweepEvery   int           `yaml:"sweep_every"`
	SweepMaxAge  time.Duration `yaml:"sweep_max_age"`
	KeepFrames   bool          `yaml:"keep_frames"`
}

// Load reads configuration from file or returns defaults
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// Default returns the built-in configuration with environment secrets applied
func Default() *Config {
	cfg := defaultConfig()
	cfg.applyEnv()
	return cfg
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var errs []error
	if c.Sampling.Interval <= 0 {
		errs = append(errs, fmt.Errorf("sampling.interval must be positive, got %v", c.Sampling.Interval))
	}
	if c.Pipeline.Workers <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.workers must be positive, got %d", c.Pipeline.Workers))
	}
	if c.Pipeline.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.batch_size must be positive, got %d", c.Pipeline.BatchSize))
	}
	if c.OCR.ConfidenceThreshold < 0 || c.OCR.ConfidenceThreshold > 100 {
		errs = append(errs, fmt.Errorf("ocr.confidence_threshold must be within [0,100], got %v", c.OCR.ConfidenceThreshold))
	}
	if c.OCR.SimilarityThreshold <= 0 || c.OCR.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("ocr.similarity_threshold must be within (0,1], got %v", c.OCR.SimilarityThreshold))
	}
	if c.OCR.UpscaleFactor < 1 {
		errs = append(errs, fmt.Errorf("ocr.upscale_factor must be >= 1, got %v", c.OCR.UpscaleFactor))
	}
	if c.OCR.TileGrid <= 0 {
		errs = append(errs, fmt.Errorf("ocr.clahe_tile_grid must be positive, got %d", c.OCR.TileGrid))
	}
	if c.Records.TextCap <= 0 {
		errs = append(errs, fmt.Errorf("records.text_cap must be positive, got %d", c.Records.TextCap))
	}
	switch c.OCR.Engine {
	case "tesseract", "vision":
	default:
		errs = append(errs, fmt.Errorf("ocr.engine must be tesseract or vision, got %q", c.OCR.Engine))
	}
	switch c.Speech.Backend {
	case "whisper", "openai":
	default:
		errs = append(errs, fmt.Errorf("speech.backend must be whisper or openai, got %q", c.Speech.Backend))
	}
	return errors.Join(errs...)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Speech.OpenAIAPIKey = v
	}
	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" {
		c.OCR.CredentialsFile = v
	}
}

// FramesDir is the scratch root for sampled frames
func (c *Config) FramesDir() string {
	return filepath.Join(c.WorkDir, "frames")
}

// AudioDir is the scratch root for extracted audio
func (c *Config) AudioDir() string {
	return filepath.Join(c.WorkDir, "audio")
}

func defaultConfig() *Config {
	return &Config{
		InputDir:  "./videos",
		WorkDir:   "./work",
		OutputDir: "./output",
		LogFile:   "./logs/video_processing.log",
		FFmpeg: FFmpegConfig{
			BinaryPath:      "ffmpeg",
			ProbePath:       "ffprobe",
			Threads:         0,
			ProbeTimeout:    30 * time.Second,
			DecodeTimeout:   120 * time.Second,
			AudioTimeout:    60 * time.Second,
			MinAudioBytes:   1000,
			AudioSampleRate: 16000,
		},
		Sampling: SamplingConfig{
			Interval:      2.5,
			ImageFormat:   "png",
			MinVideoBytes: 1000,
		},
		OCR: OCRConfig{
			Engine:              "tesseract",
			TesseractPath:       "tesseract",
			Language:            "eng",
			PageSegMode:         11,
			EngineMode:          3,
			ConfidenceThreshold: 30,
			SimilarityThreshold: 0.8,
			UpscaleFactor:       2.0,
			ClipLimit:           3.0,
			TileGrid:            8,
		},
		Speech: SpeechConfig{
			Backend:      "whisper",
			WhisperPath:  "whisper",
			WhisperModel: "tiny",
			Timeout:      5 * time.Minute,
			OpenAIModel:  "whisper-1",
		},
		Records: RecordsConfig{
			Store:       "csv",
			CSVFile:     "./output/video_records.csv",
			SummaryFile: "./output/batch_summaries.json",
			TextCap:     2000,
		},
		Pipeline: PipelineConfig{
			Workers:      4,
			BatchSize:    100,
			ProgressFile: "./output/processing_progress.json",
			FlushEvery:   10,
			ErrorWindow:  50,
			SweepEvery:   5,
			SweepMaxAge:  24 * time.Hour,
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./reelscribe.yaml",
		"./config.yaml",
		filepath.Join(os.Getenv("HOME"), ".reelscribe", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return Default()
}
