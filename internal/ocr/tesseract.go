package ocr

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// TesseractOptions configures the tesseract CLI
type TesseractOptions struct {
	BinaryPath string
	Language   string
	// PageSegMode 11 is sparse text, which suits scattered overlays
	PageSegMode int
	EngineMode  int
}

// TesseractEngine shells out to the tesseract binary and reads its TSV output
type TesseractEngine struct {
	logger zerolog.Logger
	path   string
	opts   TesseractOptions
}

// NewTesseract locates the tesseract binary
func NewTesseract(logger zerolog.Logger, opts TesseractOptions) (*TesseractEngine, error) {
	if opts.BinaryPath == "" {
		opts.BinaryPath = "tesseract"
	}
	if opts.Language == "" {
		opts.Language = "eng"
	}
	path, err := exec.LookPath(opts.BinaryPath)
	if err != nil {
		return nil, fmt.Errorf("tesseract not found in PATH: %w", err)
	}
	return &TesseractEngine{
		logger: logger.With().Str("component", "tesseract").Logger(),
		path:   path,
		opts:   opts,
	}, nil
}

func (t *TesseractEngine) Name() string { return "tesseract" }

// Recognize pipes img as PNG through tesseract
func (t *TesseractEngine) Recognize(ctx context.Context, img image.Image) ([]Token, error) {
	var in bytes.Buffer
	if err := png.Encode(&in, img); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	args := []string{
		"stdin", "stdout",
		"--psm", strconv.Itoa(t.opts.PageSegMode),
		"--oem", strconv.Itoa(t.opts.EngineMode),
		"-l", t.opts.Language,
		"tsv",
	}

	cmd := exec.CommandContext(ctx, t.path, args...)
	cmd.Stdin = &in
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	t.logger.Trace().Strs("args", args).Msg("executing tesseract")

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("tesseract failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return ParseTSV(&stdout)
}

// ParseTSV extracts word-level rows (level 5) from tesseract TSV output.
// Columns: level page_num block_num par_num line_num word_num left top width
// height conf text
func ParseTSV(r io.Reader) ([]Token, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var tokens []Token
	header := true
	for scanner.Scan() {
		line := scanner.Text()
		if header {
			header = false
			if strings.HasPrefix(line, "level") {
				continue
			}
		}
		cols := strings.SplitN(line, "\t", 12)
		if len(cols) < 11 || cols[0] != "5" {
			continue
		}

		conf, err := strconv.ParseFloat(strings.TrimSpace(cols[10]), 64)
		if err != nil || conf < 0 {
			continue
		}
		text := ""
		if len(cols) == 12 {
			text = cols[11]
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		tokens = append(tokens, Token{
			Text:       text,
			Confidence: conf,
			Box: Box{
				X:      atoi(cols[6]),
				Y:      atoi(cols[7]),
				Width:  atoi(cols[8]),
				Height: atoi(cols[9]),
			},
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read tesseract output: %w", err)
	}
	return tokens, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
