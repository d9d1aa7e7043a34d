package speech

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/kikiluvv/reelscribe/internal/failure"
)

type fakeExtractor struct {
	size int
	err  error
	path string
}

func (f *fakeExtractor) ExtractAudio(ctx context.Context, videoPath, outPath string) error {
	f.path = outPath
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(outPath, make([]byte, f.size), 0644)
}

type fakeModel struct {
	out   *ModelOutput
	err   error
	panic any
}

func (f *fakeModel) Name() string { return "fake" }

func (f *fakeModel) Transcribe(ctx context.Context, audioPath string) (*ModelOutput, error) {
	if f.panic != nil {
		panic(f.panic)
	}
	return f.out, f.err
}

func ptr[T any](v T) *T { return &v }

func newTestTranscriber(t *testing.T, ex AudioExtractor, m Model) *Transcriber {
	t.Helper()
	return NewTranscriber(zerolog.Nop(), ex, m, Options{
		AudioDir:          t.TempDir(),
		MinAudioBytes:     1000,
		ExtractTimeout:    time.Minute,
		TranscribeTimeout: time.Minute,
	})
}

func sampleOutput() *ModelOutput {
	return &ModelOutput{
		Text:     " Let's get this workout started ",
		Language: "en",
		Segments: []*RawSegment{
			{
				Start: ptr(0.0), End: ptr(2.4), Text: ptr(" Let's get this"), AvgLogprob: ptr(-0.4),
				Words: []*RawWord{
					{Word: ptr(" Let's"), Start: ptr(0.0), End: ptr(0.5)},
					{Word: ptr(" get"), Start: ptr(0.5), End: ptr(0.9)},
					{Word: ptr(" this"), Start: ptr(0.9), End: ptr(1.3)},
				},
			},
			{
				Start: ptr(2.4), End: ptr(4.0), Text: ptr(" workout started"), AvgLogprob: ptr(-1.2),
				Words: []*RawWord{
					{Word: ptr(" workout"), Start: ptr(2.4), End: ptr(3.1)},
					{Word: ptr(" started"), Start: ptr(3.1), End: ptr(4.0)},
				},
			},
		},
	}
}

func TestTranscribeVideoSuccess(t *testing.T) {
	ex := &fakeExtractor{size: 64000}
	tr := newTestTranscriber(t, ex, &fakeModel{out: sampleOutput()})

	res := tr.TranscribeVideo(context.Background(), "v.mp4", "7312345678901234567")
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Text != "Let's get this workout started" {
		t.Errorf("unexpected text %q", res.Text)
	}
	want := "0.0s-Let's;0.5s-get;0.9s-this;2.4s-workout;3.1s-started"
	if res.Timestamps != want {
		t.Errorf("timestamps:\n got %q\nwant %q", res.Timestamps, want)
	}
	// mean logprob -0.8
	if res.Confidence != 0.95 {
		t.Errorf("expected 0.95, got %v", res.Confidence)
	}
	if res.Duration != 4.0 {
		t.Errorf("expected duration 4.0, got %v", res.Duration)
	}
	if _, err := os.Stat(ex.path); !os.IsNotExist(err) {
		t.Error("temporary audio should be removed")
	}
}

func TestTranscribeVideoTinyAudio(t *testing.T) {
	ex := &fakeExtractor{size: 500}
	tr := newTestTranscriber(t, ex, &fakeModel{out: sampleOutput()})

	res := tr.TranscribeVideo(context.Background(), "silent.mp4", "silent")
	if !failure.Is(res.Err, failure.AudioExtraction) {
		t.Fatalf("expected audio extraction failure, got %v", res.Err)
	}
	if res.Text != "" || res.Confidence != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
	if res.Segments == nil {
		t.Error("segments should be empty, not nil")
	}
	if _, err := os.Stat(ex.path); !os.IsNotExist(err) {
		t.Error("temporary audio should be removed on failure")
	}
}

func TestTranscribeVideoExtractorTimeout(t *testing.T) {
	tr := newTestTranscriber(t, &fakeExtractor{err: context.DeadlineExceeded}, &fakeModel{})
	res := tr.TranscribeVideo(context.Background(), "v.mp4", "v")
	if !failure.Is(res.Err, failure.AudioExtraction) {
		t.Fatalf("expected audio extraction failure, got %v", res.Err)
	}
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Error("cause should be preserved")
	}
}

func TestTranscribeVideoModelError(t *testing.T) {
	long := errors.New(strings.Repeat("x", 300))
	tr := newTestTranscriber(t, &fakeExtractor{size: 4000}, &fakeModel{err: long})

	res := tr.TranscribeVideo(context.Background(), "v.mp4", "v")
	if !failure.Is(res.Err, failure.Transcription) {
		t.Fatalf("expected transcription failure, got %v", res.Err)
	}
	if !strings.Contains(res.Err.Error(), "*errors.errorString") {
		t.Errorf("error should name its type: %v", res.Err)
	}
	var fe *failure.Error
	errors.As(res.Err, &fe)
	if len(fe.Err.Error()) != maxErrorLen {
		t.Errorf("message should be truncated to %d, got %d", maxErrorLen, len(fe.Err.Error()))
	}
	if !errors.Is(res.Err, long) {
		t.Error("cause should remain reachable")
	}
}

func TestTranscribeVideoModelPanic(t *testing.T) {
	tr := newTestTranscriber(t, &fakeExtractor{size: 4000}, &fakeModel{panic: "index out of range"})
	res := tr.TranscribeVideo(context.Background(), "v.mp4", "v")
	if !failure.Is(res.Err, failure.Transcription) {
		t.Fatalf("panic should become a transcription failure, got %v", res.Err)
	}
	if !strings.Contains(res.Err.Error(), "panic string") {
		t.Errorf("panic type missing from %q", res.Err.Error())
	}
}

func TestNormalizeNilFields(t *testing.T) {
	out := &ModelOutput{
		Segments: []*RawSegment{
			nil,
			{Text: ptr("hello"), Words: []*RawWord{nil, {Word: nil}, {Word: ptr("hello")}}},
			{},
		},
	}
	text, lang, segs := Normalize(out)
	if lang != "unknown" {
		t.Errorf("expected unknown language, got %q", lang)
	}
	if text != "hello" {
		t.Errorf("text should fall back to segment text, got %q", text)
	}
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	if segs[0].AvgLogprob != MissingLogprob {
		t.Errorf("missing logprob should become %v", MissingLogprob)
	}
	if len(segs[0].Words) != 1 || segs[1].Words == nil {
		t.Errorf("words not normalized: %+v", segs)
	}

	_, _, none := Normalize(nil)
	if none == nil || len(none) != 0 {
		t.Error("nil output should normalize to empty segments")
	}
}

func TestConfidenceIsMonotonic(t *testing.T) {
	prev := -1.0
	for lp := -12.0; lp <= 0.5; lp += 0.25 {
		c := TierFor(lp)
		if c < prev {
			t.Fatalf("confidence dropped from %v to %v at logprob %v", prev, c, lp)
		}
		prev = c
	}
}

func TestConfidenceTiers(t *testing.T) {
	cases := map[float64]float64{
		-0.5: 0.95, -1.0: 0.95, -1.5: 0.85, -2.5: 0.75,
		-4.0: 0.60, -6.0: 0.40, -7.0: 0.40, -9.0: 0.20,
	}
	for lp, want := range cases {
		if got := TierFor(lp); got != want {
			t.Errorf("TierFor(%v) = %v, want %v", lp, got, want)
		}
	}
	if Confidence(nil) != 0 {
		t.Error("no segments should mean zero confidence")
	}
	if Confidence([]Segment{{AvgLogprob: MissingLogprob}}) != 0.20 {
		t.Error("missing logprob should land in the bottom tier")
	}
}

func TestTimestampsSegmentFallback(t *testing.T) {
	segs := []Segment{
		{Start: 0, Text: "first line"},
		{Start: 3.25, Text: ""},
		{Start: 5, Text: "second line"},
	}
	if got := Timestamps(segs); got != "0.0s-first line;5.0s-second line" {
		t.Errorf("unexpected fallback %q", got)
	}
}

func TestDecodeWhisperJSONWithNulls(t *testing.T) {
	data := []byte(`{"text": " Hi", "language": "en", "segments": [
		{"start": 0.0, "end": 1.2, "text": " Hi", "avg_logprob": -0.3, "words": null},
		null
	]}`)
	out, err := decodeWhisperJSON(data)
	if err != nil {
		t.Fatal(err)
	}
	_, _, segs := Normalize(out)
	if len(segs) != 1 || segs[0].Words == nil {
		t.Errorf("unexpected segments %+v", segs)
	}
}

func TestWhisperArgs(t *testing.T) {
	w := &WhisperCLI{opts: WhisperOptions{Model: "tiny", Language: "en"}}
	args := strings.Join(w.args("/tmp/a.wav", "/tmp/out"), " ")
	for _, want := range []string{"--model tiny", "--output_format json", "--output_dir /tmp/out", "--fp16 False", "--language en"} {
		if !strings.Contains(args, want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}
	if strings.Contains(args, "--word_timestamps") {
		t.Error("word timestamps should be off by default")
	}
}

func TestFromAudioResponseGroupsWords(t *testing.T) {
	body := []byte(`{
		"text": "core day three",
		"language": "english",
		"segments": [
			{"start": 0, "end": 1, "text": "core", "avg_logprob": -0.2},
			{"start": 1, "end": 2.5, "text": "day three", "avg_logprob": -2.5}
		],
		"words": [
			{"word": "core", "start": 0.1, "end": 0.8},
			{"word": "day", "start": 1.0, "end": 1.4},
			{"word": "three", "start": 1.5, "end": 2.6}
		]
	}`)
	var resp openai.AudioResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatal(err)
	}

	out := fromAudioResponse(resp)
	if len(out.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(out.Segments))
	}
	if len(out.Segments[0].Words) != 1 || len(out.Segments[1].Words) != 2 {
		t.Errorf("words grouped wrong: %d/%d", len(out.Segments[0].Words), len(out.Segments[1].Words))
	}

	_, _, segs := Normalize(out)
	if got := Confidence(segs); got != 0.85 {
		t.Errorf("expected 0.85 for mean logprob -1.35, got %v", got)
	}
}
