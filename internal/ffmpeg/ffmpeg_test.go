package ffmpeg

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/reelscribe/pkg/util"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not available
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH - install with: brew install ffmpeg")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH - install with: brew install ffmpeg")
	}
}

// generateTestVideo renders a short synthetic clip with a tone track
func generateTestVideo(t *testing.T, seconds int) string {
	t.Helper()
	out := filepath.Join(t.TempDir(), "synthetic_7312345678901234567.mp4")
	dur := strconv.Itoa(seconds)
	cmd := exec.Command("ffmpeg",
		"-f", "lavfi", "-i", "sine=frequency=1000:duration="+dur,
		"-f", "lavfi", "-i", "testsrc=duration="+dur+":size=320x240:rate=30",
		"-pix_fmt", "yuv420p", "-shortest", "-y", out)
	if err := cmd.Run(); err != nil {
		t.Skipf("could not generate test video: %v", err)
	}
	return out
}

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	skipIfNoFFmpeg(t)
	exec, err := New(zerolog.New(os.Stderr), Options{Threads: 2})
	if err != nil {
		t.Fatalf("failed to create executor: %v", err)
	}
	return exec
}

func TestExecutorCreation(t *testing.T) {
	exec := newTestExecutor(t)
	if exec.ffmpegPath == "" {
		t.Error("ffmpeg path is empty")
	}
	if exec.ffprobePath == "" {
		t.Error("ffprobe path is empty")
	}
}

func TestExecutorMissingBinary(t *testing.T) {
	_, err := New(zerolog.Nop(), Options{FFmpegPath: "definitely-not-ffmpeg-binary"})
	if err == nil {
		t.Error("expected error for missing binary")
	}
}

func TestProbeVideo(t *testing.T) {
	exec := newTestExecutor(t)
	path := generateTestVideo(t, 3)

	info, err := exec.ProbeVideo(context.Background(), path)
	if err != nil {
		t.Fatalf("ProbeVideo failed: %v", err)
	}
	if info.Width != 320 || info.Height != 240 {
		t.Errorf("expected 320x240, got %dx%d", info.Width, info.Height)
	}
	if info.Duration == 0 {
		t.Error("duration is zero")
	}
	if !info.HasAudio {
		t.Error("expected audio stream")
	}
}

func TestProbeVideoInvalidFile(t *testing.T) {
	exec := newTestExecutor(t)
	ctx := context.Background()

	if _, err := exec.ProbeVideo(ctx, "nonexistent.mp4"); err == nil {
		t.Error("ProbeVideo should fail for non-existent file")
	}

	invalidPath := filepath.Join(t.TempDir(), "invalid.mp4")
	os.WriteFile(invalidPath, []byte("not a video"), 0644)
	if _, err := exec.ProbeVideo(ctx, invalidPath); err == nil {
		t.Error("ProbeVideo should fail for invalid video file")
	}
}

func TestExtractFrames(t *testing.T) {
	exec := newTestExecutor(t)
	path := generateTestVideo(t, 5)

	dir := t.TempDir()
	err := exec.ExtractFrames(context.Background(), path, FrameOptions{
		Interval: 2.5,
		Pattern:  filepath.Join(dir, "frame_%03d.png"),
	})
	if err != nil {
		t.Fatalf("ExtractFrames failed: %v", err)
	}
	if !util.FileExists(filepath.Join(dir, "frame_001.png")) {
		t.Error("first frame missing")
	}
}

func TestExtractAudioWhisperFormat(t *testing.T) {
	exec := newTestExecutor(t)
	path := generateTestVideo(t, 2)

	out := filepath.Join(t.TempDir(), "audio.wav")
	if err := exec.AudioExtractor(DefaultWhisperFormat()).ExtractAudio(context.Background(), path, out); err != nil {
		t.Fatalf("ExtractAudio failed: %v", err)
	}
	// 2s of 16 kHz mono s16le is ~64 KB
	if size := util.FileSize(out); size < 1000 {
		t.Errorf("audio file unexpectedly small: %d bytes", size)
	}
}

func TestRunHonorsDeadline(t *testing.T) {
	exec := newTestExecutor(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	time.Sleep(5 * time.Millisecond)

	err := exec.Run(ctx, RunOptions{Args: []string{"-f", "lavfi", "-i", "testsrc", "-f", "null", "-"}})
	if err == nil {
		t.Fatal("expected deadline error")
	}
	if !IsTimeout(err) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestParseProbeOutput(t *testing.T) {
	data := []byte(`{
		"format": {"duration": "25.500000", "bit_rate": "1200000"},
		"streams": [
			{"codec_type": "video", "codec_name": "h264", "width": 720, "height": 1280, "r_frame_rate": "30000/1001"},
			{"codec_type": "audio", "codec_name": "aac", "bit_rate": "128000"}
		]
	}`)
	info, err := parseProbeOutput("x.mp4", data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if info.Duration != 25500*time.Millisecond {
		t.Errorf("expected 25.5s, got %v", info.Duration)
	}
	if info.VideoCodec != "h264" || info.Width != 720 || info.Height != 1280 {
		t.Errorf("unexpected video fields: %+v", info)
	}
	if info.AudioBitrate != 128000 {
		t.Errorf("expected audio bitrate 128000, got %d", info.AudioBitrate)
	}
}

func TestParseProbeOutputAudioOnly(t *testing.T) {
	data := []byte(`{"format": {"duration": "3.0"}, "streams": [{"codec_type": "audio", "codec_name": "mp3"}]}`)
	_, err := parseProbeOutput("a.mp4", data)
	if !errors.Is(err, ErrNoVideoStream) {
		t.Errorf("expected ErrNoVideoStream, got %v", err)
	}
}

func TestFilterBuilder(t *testing.T) {
	filter := NewFilterBuilder().Every(2.5).ScaleWidth(720).Build()

	expected := "fps=1/2.5,scale=720:-2"
	if filter != expected {
		t.Errorf("expected %q, got %q", expected, filter)
	}
}

func TestFilterBuilderEmpty(t *testing.T) {
	filter := NewFilterBuilder().Every(0).ScaleWidth(0).Build()

	if filter != "" {
		t.Errorf("expected empty string, got %q", filter)
	}
}
