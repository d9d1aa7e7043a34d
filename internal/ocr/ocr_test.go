package ocr

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"

	"github.com/kikiluvv/reelscribe/internal/failure"
)

type fakeEngine struct {
	tokens []Token
	err    error
	seen   image.Rectangle
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Recognize(ctx context.Context, img image.Image) ([]Token, error) {
	f.seen = img.Bounds()
	return f.tokens, f.err
}

func writeFrame(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 4), uint8(y * 4), 128, 255})
		}
	}
	path := filepath.Join(t.TempDir(), "frame_001.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFilterConfidenceThreshold(t *testing.T) {
	tokens := []Token{
		{Text: "WORKOUT", Confidence: 85},
		{Text: "blur", Confidence: 20},
		{Text: "TIME", Confidence: 90},
	}
	res := Filter(tokens, 30)

	if res.WordCount != 2 {
		t.Fatalf("expected 2 surviving tokens, got %d", res.WordCount)
	}
	if res.Text != "WORKOUT TIME" {
		t.Errorf("unexpected text %q", res.Text)
	}
	if math.Abs(res.Confidence-87.5) > 1e-9 {
		t.Errorf("expected confidence 87.5, got %v", res.Confidence)
	}
	if len(res.Confidences) != 2 || res.Confidences[0] != 85 || res.Confidences[1] != 90 {
		t.Errorf("unexpected confidences %v", res.Confidences)
	}
}

func TestFilterShortTokens(t *testing.T) {
	tokens := []Token{
		{Text: "I", Confidence: 90},
		{Text: "x", Confidence: 90},
		{Text: "3", Confidence: 90},
		{Text: "a", Confidence: 90},
		{Text: "  ", Confidence: 90},
		{Text: "sets", Confidence: 30}, // at threshold, dropped
	}
	res := Filter(tokens, 30)
	if res.Text != "I 3 a" {
		t.Errorf("unexpected text %q", res.Text)
	}
}

func TestFilterNothingSurvives(t *testing.T) {
	res := Filter([]Token{{Text: "noise", Confidence: 5}}, 30)
	if res.Text != "" || res.Confidence != 0 || res.Err != nil {
		t.Errorf("expected empty non-error result, got %+v", res)
	}
}

func TestCleanText(t *testing.T) {
	got := CleanText("  20   MIN \t HIIT  x  ~ ")
	if got != "20 MIN HIIT" {
		t.Errorf("unexpected cleaned text %q", got)
	}
}

func TestParseTSV(t *testing.T) {
	tsv := strings.Join([]string{
		"level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext",
		"1\t1\t0\t0\t0\t0\t0\t0\t1440\t2560\t-1\t",
		"4\t1\t1\t1\t1\t0\t100\t200\t500\t80\t-1\t",
		"5\t1\t1\t1\t1\t1\t100\t200\t240\t80\t96.5\tCORE",
		"5\t1\t1\t1\t1\t2\t360\t200\t120\t80\t91\tDAY",
		"5\t1\t1\t1\t1\t3\t500\t200\t40\t80\t12.25\t3",
		"5\t1\t1\t1\t1\t4\t560\t200\t40\t80\t95\t ",
	}, "\n")

	tokens, err := ParseTSV(strings.NewReader(tsv))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(tokens) != 3 {
		t.Fatalf("expected 3 word tokens, got %d: %+v", len(tokens), tokens)
	}
	if tokens[0].Text != "CORE" || tokens[0].Confidence != 96.5 {
		t.Errorf("unexpected first token %+v", tokens[0])
	}
	if tokens[0].Box != (Box{X: 100, Y: 200, Width: 240, Height: 80}) {
		t.Errorf("unexpected box %+v", tokens[0].Box)
	}
	if tokens[2].Confidence != 12.25 {
		t.Errorf("unexpected confidence %v", tokens[2].Confidence)
	}
}

func TestPreprocessUpscales(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 10, 6))
	out, err := Preprocess(src, DefaultPreprocessOptions())
	if err != nil {
		t.Fatal(err)
	}
	if out.Bounds().Dx() != 20 || out.Bounds().Dy() != 12 {
		t.Errorf("expected 20x12, got %v", out.Bounds())
	}
}

func TestPreprocessRejectsEmpty(t *testing.T) {
	if _, err := Preprocess(image.NewGray(image.Rect(0, 0, 0, 0)), DefaultPreprocessOptions()); err == nil {
		t.Error("expected error for empty image")
	}
}

func TestBlurKeepsFlatImage(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 5, 5))
	for i := range g.Pix {
		g.Pix[i] = 77
	}
	out := gaussianBlur3(g)
	for i, v := range out.Pix {
		if v != 77 {
			t.Fatalf("pixel %d changed to %d", i, v)
		}
	}
}

func TestCLAHEStretchesContrast(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			g.Pix[y*g.Stride+x] = uint8(100 + x%10)
		}
	}
	out := clahe(g, 3.0, 8)

	lo, hi := uint8(255), uint8(0)
	for _, v := range out.Pix {
		lo, hi = min(lo, v), max(hi, v)
	}
	if int(hi)-int(lo) <= 9 {
		t.Errorf("expected wider range than input, got [%d,%d]", lo, hi)
	}
}

func TestRecognizerFile(t *testing.T) {
	engine := &fakeEngine{tokens: []Token{
		{Text: "20", Confidence: 88},
		{Text: "MIN", Confidence: 92},
		{Text: "HIIT", Confidence: 90},
	}}
	r := NewRecognizer(zerolog.Nop(), engine, 30, DefaultPreprocessOptions())

	res := r.RecognizeFile(context.Background(), writeFrame(t, 32, 24))
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Text != "20 MIN HIIT" {
		t.Errorf("unexpected text %q", res.Text)
	}
	if engine.seen.Dx() != 64 || engine.seen.Dy() != 48 {
		t.Errorf("engine should see the upscaled frame, got %v", engine.seen)
	}
}

func TestRecognizerEngineError(t *testing.T) {
	r := NewRecognizer(zerolog.Nop(), &fakeEngine{err: errors.New("tesseract: exit status 1")}, 30, DefaultPreprocessOptions())
	res := r.RecognizeFile(context.Background(), writeFrame(t, 8, 8))
	if !failure.Is(res.Err, failure.OCR) {
		t.Fatalf("expected ocr failure, got %v", res.Err)
	}
	if res.Text != "" {
		t.Error("failed recognition should carry no text")
	}
}

func TestRecognizerUnreadableFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame_001.png")
	os.WriteFile(path, []byte("not a png"), 0644)

	r := NewRecognizer(zerolog.Nop(), &fakeEngine{}, 30, DefaultPreprocessOptions())
	res := r.RecognizeFile(context.Background(), path)
	if !failure.Is(res.Err, failure.Preprocess) {
		t.Fatalf("expected preprocess failure, got %v", res.Err)
	}
}

func TestTokensFromAnnotation(t *testing.T) {
	sym := func(s string) *visionpb.Symbol { return &visionpb.Symbol{Text: s} }
	fta := &visionpb.TextAnnotation{
		Pages: []*visionpb.Page{{
			Blocks: []*visionpb.Block{{
				Paragraphs: []*visionpb.Paragraph{{
					Words: []*visionpb.Word{
						{
							Symbols:    []*visionpb.Symbol{sym("L"), sym("E"), sym("G")},
							Confidence: 0.97,
							BoundingBox: &visionpb.BoundingPoly{Vertices: []*visionpb.Vertex{
								{X: 10, Y: 20}, {X: 70, Y: 20}, {X: 70, Y: 50}, {X: 10, Y: 50},
							}},
						},
						nil,
						{Symbols: []*visionpb.Symbol{sym("DAY")}, Confidence: 0.5},
					},
				}},
			}},
		}},
	}

	tokens := tokensFromAnnotation(fta)
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(tokens))
	}
	if tokens[0].Text != "LEG" {
		t.Errorf("unexpected text %q", tokens[0].Text)
	}
	if math.Abs(tokens[0].Confidence-97) > 1e-4 {
		t.Errorf("expected ~97, got %v", tokens[0].Confidence)
	}
	if tokens[0].Box != (Box{X: 10, Y: 20, Width: 60, Height: 30}) {
		t.Errorf("unexpected box %+v", tokens[0].Box)
	}
	if tokensFromAnnotation(nil) != nil {
		t.Error("nil annotation should yield no tokens")
	}
}

type fakeAnnotator struct {
	req  *visionpb.BatchAnnotateImagesRequest
	resp *visionpb.BatchAnnotateImagesResponse
}

func (f *fakeAnnotator) BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error) {
	f.req = req
	return f.resp, nil
}

func (f *fakeAnnotator) Close() error { return nil }

func TestVisionRequestsDocumentText(t *testing.T) {
	client := &fakeAnnotator{resp: &visionpb.BatchAnnotateImagesResponse{
		Responses: []*visionpb.AnnotateImageResponse{{
			FullTextAnnotation: &visionpb.TextAnnotation{Pages: []*visionpb.Page{{
				Blocks: []*visionpb.Block{{Paragraphs: []*visionpb.Paragraph{{
					Words: []*visionpb.Word{{
						Symbols:    []*visionpb.Symbol{{Text: "HIIT"}},
						Confidence: 0.9,
					}},
				}}}},
			}}},
		}},
	}}
	v := &VisionEngine{logger: zerolog.Nop(), client: client}
	r := NewRecognizer(zerolog.Nop(), v, 30, DefaultPreprocessOptions())

	res := r.RecognizeFile(context.Background(), writeFrame(t, 16, 16))
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	features := client.req.GetRequests()[0].GetFeatures()
	if len(features) != 1 || features[0].GetType() != visionpb.Feature_DOCUMENT_TEXT_DETECTION {
		t.Errorf("expected DOCUMENT_TEXT_DETECTION, got %v", features)
	}
	if res.Text != "HIIT" {
		t.Errorf("word confidence should clear the threshold, got %q", res.Text)
	}
}

func TestCLAHEUnevenTilesFlatImage(t *testing.T) {
	for _, size := range []image.Point{{10, 10}, {13, 11}, {80, 80}} {
		g := image.NewGray(image.Rect(0, 0, size.X, size.Y))
		for i := range g.Pix {
			g.Pix[i] = 200
		}
		out := clahe(g, 3.0, 8)
		for i, v := range out.Pix {
			if v != out.Pix[0] {
				t.Fatalf("%v: pixel %d is %d, want uniform %d", size, i, v, out.Pix[0])
			}
		}
	}
}
