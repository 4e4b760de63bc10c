package thumbnail

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// FrameExtractor invokes an external tool to pull a single frame out of a
// segment file, the same os/exec.CommandContext-with-timeout idiom
// internal/probe uses for duration and loudness (spec.md §4.1 step 5).
// GeneratePlaceholder remains the fallback for when this fails, mirroring
// the original implementation's extract_thumbnail/generate_error_thumbnail
// split: extraction is attempted first, and only a failure falls back to
// the placeholder.
type FrameExtractor struct {
	binary  string
	timeout time.Duration
}

// NewFrameExtractor returns an extractor that runs binary (e.g. "ffmpeg")
// with the given timeout (default 5s, matching internal/probe).
func NewFrameExtractor(binary string, timeout time.Duration) *FrameExtractor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &FrameExtractor{binary: binary, timeout: timeout}
}

// Extract pulls one frame from segPath at timestampSeconds, scaled to
// thumbWidth x thumbHeight, and returns the encoded JPEG bytes. Returns an
// error if the external tool is unavailable, times out, or produces no
// usable output — callers should fall back to GeneratePlaceholder.
func (f *FrameExtractor) Extract(ctx context.Context, segPath string, timestampSeconds float64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	out, err := os.CreateTemp("", "thumb-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("thumbnail: create temp output: %w", err)
	}
	outPath := out.Name()
	out.Close()
	defer os.Remove(outPath)

	cmd := exec.CommandContext(ctx, f.binary,
		"-ss", strconv.FormatFloat(timestampSeconds, 'f', 2, 64),
		"-i", segPath,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale=%d:%d", thumbWidth, thumbHeight),
		"-strict", "unofficial",
		"-y", outPath,
	)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("thumbnail: extract frame: %w", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("thumbnail: read extracted frame: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("thumbnail: extracted frame is empty")
	}
	return data, nil
}
