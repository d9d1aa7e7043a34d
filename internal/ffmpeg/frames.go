package ffmpeg

import (
	"context"
	"fmt"
)

// FrameOptions configures interval frame sampling
type FrameOptions struct {
	// Interval is the spacing between frames in seconds
	Interval float64
	// Pattern is a printf-style output path such as dir/frame_%03d.png
	Pattern string
	// Width rescales frames when positive; height follows the aspect ratio
	Width int
	// Quality is the -q:v value for lossy formats
	Quality int
}

// ExtractFrames writes one frame every opts.Interval seconds starting at t=0
func (e *Executor) ExtractFrames(ctx context.Context, input string, opts FrameOptions) error {
	if input == "" {
		return fmt.Errorf("input path is required")
	}
	if opts.Pattern == "" {
		return fmt.Errorf("output pattern is required")
	}
	if opts.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if opts.Quality <= 0 {
		opts.Quality = 2
	}

	e.logger.Debug().
		Str("input", input).
		Str("pattern", opts.Pattern).
		Float64("interval", opts.Interval).
		Msg("extracting frames")

	filter := NewFilterBuilder().
		Every(opts.Interval).
		ScaleWidth(opts.Width).
		Build()

	args := []string{
		"-i", input,
		"-vf", filter,
		"-q:v", fmt.Sprintf("%d", opts.Quality),
		opts.Pattern,
	}

	return e.Run(ctx, RunOptions{
		Args: args,
		LogHandler: func(line string) {
			e.logger.Trace().Str("ffmpeg", line).Msg("frame extraction")
		},
	})
}
