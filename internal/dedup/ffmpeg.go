package dedup

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// FrameExtractor reads video metadata and single frames. It is an
// interface so tests can avoid shelling out to ffmpeg.
type FrameExtractor interface {
	// Duration returns the video duration in seconds, rounded to
	// millisecond precision.
	Duration(ctx context.Context, path string) (float64, error)
	// FrameCount returns the number of video frames.
	FrameCount(ctx context.Context, path string) (int, error)
	// ExtractFrame returns frame number index as PNG bytes.
	ExtractFrame(ctx context.Context, path string, index int) ([]byte, error)
}

// FFmpegExtractor implements FrameExtractor on the ffmpeg and ffprobe
// binaries.
type FFmpegExtractor struct {
	FFmpegPath  string
	FFprobePath string
}

// NewFFmpegExtractor builds an extractor, defaulting to binaries on
// PATH when the paths are empty.
func NewFFmpegExtractor(ffmpegPath, ffprobePath string) *FFmpegExtractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegExtractor{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}
}

func (e *FFmpegExtractor) Duration(ctx context.Context, path string) (float64, error) {
	out, err := e.probe(ctx,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	// Millisecond precision keeps durations comparable across probes of
	// the same file.
	return math.Round(seconds*1000) / 1000, nil
}

func (e *FFmpegExtractor) FrameCount(ctx context.Context, path string) (int, error) {
	out, err := e.probe(ctx,
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=nb_read_packets",
		"-of", "csv=p=0",
		path,
	)
	if err != nil {
		return 0, err
	}
	count, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("failed to parse frame count %q: %w", strings.TrimSpace(string(out)), err)
	}
	return count, nil
}

func (e *FFmpegExtractor) ExtractFrame(ctx context.Context, path string, index int) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.FFmpegPath,
		"-v", "error",
		"-i", path,
		"-vf", fmt.Sprintf("select=eq(n\\,%d)", index),
		"-vframes", "1",
		"-c:v", "png",
		"-f", "image2pipe",
		"pipe:1",
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg frame %d of %s: %w: %s", index, path, err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg frame %d of %s: empty output", index, path)
	}
	return stdout.Bytes(), nil
}

func (e *FFmpegExtractor) probe(ctx context.Context, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.FFprobePath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.Bytes(), nil
}
