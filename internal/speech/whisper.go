package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/reelscribe/pkg/util"
)

// WhisperOptions configures the local whisper CLI
type WhisperOptions struct {
	BinaryPath     string
	Model          string
	Language       string
	WordTimestamps bool
}

// WhisperCLI runs the openai-whisper command line tool and reads its JSON
// output file
type WhisperCLI struct {
	logger zerolog.Logger
	path   string
	opts   WhisperOptions
}

// NewWhisperCLI locates the whisper binary
func NewWhisperCLI(logger zerolog.Logger, opts WhisperOptions) (*WhisperCLI, error) {
	if opts.BinaryPath == "" {
		opts.BinaryPath = "whisper"
	}
	if opts.Model == "" {
		opts.Model = "tiny"
	}
	path, err := exec.LookPath(opts.BinaryPath)
	if err != nil {
		return nil, fmt.Errorf("whisper not found in PATH: %w", err)
	}
	return &WhisperCLI{
		logger: logger.With().Str("component", "whisper").Logger(),
		path:   path,
		opts:   opts,
	}, nil
}

func (w *WhisperCLI) Name() string { return "whisper-" + w.opts.Model }

// Transcribe writes <stem>.json into a scratch dir next to the audio and
// decodes it
func (w *WhisperCLI) Transcribe(ctx context.Context, audioPath string) (*ModelOutput, error) {
	outDir, err := os.MkdirTemp(filepath.Dir(audioPath), "whisper-")
	if err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	cmd := exec.CommandContext(ctx, w.path, w.args(audioPath, outDir)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	w.logger.Debug().Str("audio", audioPath).Str("model", w.opts.Model).Msg("executing whisper")

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("whisper failed: %w: %s", err, lastLine(stderr.String()))
	}

	data, err := os.ReadFile(filepath.Join(outDir, util.StemName(audioPath)+".json"))
	if err != nil {
		return nil, fmt.Errorf("read whisper output: %w", err)
	}
	return decodeWhisperJSON(data)
}

func (w *WhisperCLI) args(audioPath, outDir string) []string {
	args := []string{
		audioPath,
		"--model", w.opts.Model,
		"--output_format", "json",
		"--output_dir", outDir,
		"--fp16", "False",
		"--verbose", "False",
	}
	if w.opts.Language != "" {
		args = append(args, "--language", w.opts.Language)
	}
	if w.opts.WordTimestamps {
		args = append(args, "--word_timestamps", "True")
	}
	return args
}

func decodeWhisperJSON(data []byte) (*ModelOutput, error) {
	var out ModelOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse whisper output: %w", err)
	}
	return &out, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
