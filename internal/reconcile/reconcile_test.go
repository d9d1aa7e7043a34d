package reconcile

import (
	"errors"
	"math"
	"testing"

	"github.com/kikiluvv/reelscribe/internal/failure"
	"github.com/kikiluvv/reelscribe/internal/ocr"
)

func text(s string, conf float64, words int) ocr.RecognitionResult {
	return ocr.RecognitionResult{Text: s, RawText: s, Confidence: conf, WordCount: words}
}

func TestRatio(t *testing.T) {
	cases := []struct {
		a, b string
		want float64
	}{
		{"abcd", "bcde", 0.75},
		{"", "", 1},
		{"abc", "", 0},
		{"WORKOUT TIME", "workout time", 1},
		{"WORKOUT TIME", "WORKOUT TIME!", 24.0 / 25.0},
	}
	for _, c := range cases {
		if got := Ratio(c.a, c.b); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("Ratio(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestRatioDistinctCaptions(t *testing.T) {
	if r := Ratio("WORKOUT TIME", "CORE DAY 3"); r >= DefaultThreshold {
		t.Errorf("distinct captions scored %v", r)
	}
}

func TestReconcileCollapsesNearDuplicates(t *testing.T) {
	frames := []FrameText{
		{Timestamp: 0, Result: text("WORKOUT TIME", 90, 2)},
		{Timestamp: 2.5, Result: text("WORKOUT TIME!", 80, 2)},
		{Timestamp: 5, Result: text("CORE DAY 3", 70, 3)},
	}
	s := Reconcile(frames, DefaultThreshold)

	if s.Text != "WORKOUT TIME; CORE DAY 3" {
		t.Errorf("unexpected deduplicated text %q", s.Text)
	}
	if len(s.Entries) != 2 || s.Entries[1].Timestamp != 5 {
		t.Errorf("unexpected entries %+v", s.Entries)
	}
	want := "0.0s:WORKOUT TIME; 2.5s:WORKOUT TIME!; 5.0s:CORE DAY 3"
	if s.Timestamped != want {
		t.Errorf("timestamped text should keep every frame:\n got %q\nwant %q", s.Timestamped, want)
	}
	if s.TotalWords != 7 {
		t.Errorf("expected 7 words, got %d", s.TotalWords)
	}
	if math.Abs(s.AverageConfidence-80) > 1e-9 {
		t.Errorf("expected mean confidence 80, got %v", s.AverageConfidence)
	}
	if s.Err != nil {
		t.Errorf("unexpected error %v", s.Err)
	}
}

func TestReconcileTenFrameScenario(t *testing.T) {
	frames := make([]FrameText, 10)
	for i := range frames {
		frames[i] = FrameText{Timestamp: float64(i) * 2.5}
	}
	frames[3].Result = text("20 MIN HIIT", 91, 3)
	frames[4].Result = text("20 MIN HIIT!", 88, 3)

	s := Reconcile(frames, DefaultThreshold)
	if s.Text != "20 MIN HIIT" {
		t.Errorf("expected exactly one caption, got %q", s.Text)
	}
	if s.FramesProcessed != 10 || s.FramesRecognized != 10 {
		t.Errorf("unexpected frame counts %d/%d", s.FramesRecognized, s.FramesProcessed)
	}
	// blank frames don't drag the mean down
	if math.Abs(s.AverageConfidence-89.5) > 1e-9 {
		t.Errorf("expected 89.5, got %v", s.AverageConfidence)
	}
}

func TestReconcileThresholdBoundary(t *testing.T) {
	frames := []FrameText{
		{Timestamp: 0, Result: text("abcd", 90, 1)},
		{Timestamp: 2.5, Result: text("bcde", 90, 1)},
	}
	if s := Reconcile(frames, 0.75); len(s.Entries) != 1 {
		t.Errorf("similarity equal to threshold should collapse, got %+v", s.Entries)
	}
	if s := Reconcile(frames, 0.76); len(s.Entries) != 2 {
		t.Errorf("similarity below threshold should keep both, got %+v", s.Entries)
	}
}

func TestReconcileAllFramesFailed(t *testing.T) {
	cause := errors.New("tesseract missing")
	frames := []FrameText{
		{Timestamp: 0, Result: ocr.RecognitionResult{Err: failure.New(failure.OCR, "tesseract", cause)}},
		{Timestamp: 2.5, Result: ocr.RecognitionResult{Err: failure.New(failure.OCR, "tesseract", cause)}},
	}
	s := Reconcile(frames, DefaultThreshold)
	if !failure.Is(s.Err, failure.OCR) {
		t.Fatalf("expected ocr failure, got %v", s.Err)
	}
	if !errors.Is(s.Err, cause) {
		t.Error("cause should be preserved")
	}
	if s.FramesRecognized != 0 || s.Text != "" {
		t.Errorf("unexpected stream %+v", s)
	}
}

func TestReconcilePartialFrameFailuresAreNotTerminal(t *testing.T) {
	frames := []FrameText{
		{Timestamp: 0, Result: ocr.RecognitionResult{Err: failure.Newf(failure.Preprocess, "bad frame")}},
		{Timestamp: 2.5, Result: text("LEG DAY", 75, 2)},
	}
	s := Reconcile(frames, DefaultThreshold)
	if s.Err != nil {
		t.Errorf("one good frame should keep the stream healthy: %v", s.Err)
	}
	if s.FramesRecognized != 1 {
		t.Errorf("expected 1 recognized frame, got %d", s.FramesRecognized)
	}
}

func TestReconcileNoFrames(t *testing.T) {
	s := Reconcile(nil, DefaultThreshold)
	if s.Err != nil || s.Text != "" || s.FramesProcessed != 0 {
		t.Errorf("empty input should give an empty stream, got %+v", s)
	}
}
