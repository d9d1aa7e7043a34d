// Package ocr recognizes overlay text in sampled video frames. Engines are
// external capability providers; this package owns preprocessing, token
// filtering and text cleanup.
package ocr

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/reelscribe/internal/failure"
)

// Box is a token bounding rectangle in preprocessed-image pixels
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Token is one recognized word with its engine confidence in [0,100]
type Token struct {
	Text       string
	Confidence float64
	Box        Box
}

// Engine runs text recognition on a single image
type Engine interface {
	Name() string
	Recognize(ctx context.Context, img image.Image) ([]Token, error)
}

// RecognitionResult is the outcome for one frame. Err is a preprocess or ocr
// failure; when it is set the text fields are empty.
type RecognitionResult struct {
	RawText     string
	Text        string
	Confidences []float64
	Tokens      []Token
	WordCount   int
	Confidence  float64
	Err         error
}

// Recognizer wires preprocessing, an engine and token filtering together
type Recognizer struct {
	logger    zerolog.Logger
	engine    Engine
	threshold float64
	prep      PreprocessOptions
}

// NewRecognizer creates a recognizer keeping tokens above threshold (0..100)
func NewRecognizer(logger zerolog.Logger, engine Engine, threshold float64, prep PreprocessOptions) *Recognizer {
	return &Recognizer{
		logger:    logger.With().Str("component", "ocr").Str("engine", engine.Name()).Logger(),
		engine:    engine,
		threshold: threshold,
		prep:      prep,
	}
}

// RecognizeFile loads, preprocesses and recognizes the image at path
func (r *Recognizer) RecognizeFile(ctx context.Context, path string) RecognitionResult {
	img, err := loadImage(path)
	if err != nil {
		r.logger.Warn().Err(err).Str("frame", path).Msg("could not load frame")
		return RecognitionResult{Err: failure.New(failure.Preprocess, path, err)}
	}
	return r.Recognize(ctx, img)
}

// Recognize runs the full chain on an in-memory image
func (r *Recognizer) Recognize(ctx context.Context, img image.Image) (res RecognitionResult) {
	defer func() {
		if p := recover(); p != nil {
			res = RecognitionResult{Err: failure.Newf(failure.OCR, "engine panic: %v", p)}
		}
	}()

	prepared, err := Preprocess(img, r.prep)
	if err != nil {
		return RecognitionResult{Err: failure.New(failure.Preprocess, "", err)}
	}

	tokens, err := r.engine.Recognize(ctx, prepared)
	if err != nil {
		r.logger.Warn().Err(err).Msg("recognition failed")
		return RecognitionResult{Err: failure.New(failure.OCR, r.engine.Name(), err)}
	}

	res = Filter(tokens, r.threshold)
	r.logger.Debug().
		Int("tokens", len(tokens)).
		Int("kept", res.WordCount).
		Float64("confidence", res.Confidence).
		Msg("frame recognized")
	return res
}

// Filter keeps tokens whose confidence exceeds threshold and whose text is
// meaningful, then assembles the result text and average confidence.
func Filter(tokens []Token, threshold float64) RecognitionResult {
	var res RecognitionResult
	var words []string
	var sum float64

	for _, tok := range tokens {
		if tok.Confidence <= threshold {
			continue
		}
		text := strings.TrimSpace(tok.Text)
		if !keepWord(text) {
			continue
		}
		tok.Text = text
		words = append(words, text)
		res.Tokens = append(res.Tokens, tok)
		res.Confidences = append(res.Confidences, tok.Confidence)
		sum += tok.Confidence
	}

	res.RawText = strings.Join(words, " ")
	res.Text = CleanText(res.RawText)
	res.WordCount = len(words)
	if len(words) > 0 {
		res.Confidence = sum / float64(len(words))
	}
	return res
}

// CleanText collapses whitespace and drops single-character artifacts other
// than digits and the words "I" and "a".
func CleanText(text string) string {
	fields := strings.Fields(text)
	kept := fields[:0]
	for _, w := range fields {
		if keepWord(w) {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

func keepWord(w string) bool {
	if w == "" {
		return false
	}
	if len([]rune(w)) >= 2 {
		return true
	}
	if strings.EqualFold(w, "i") || strings.EqualFold(w, "a") {
		return true
	}
	return isDigits(w)
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}
