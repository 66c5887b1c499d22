// Package media derives audio from event recordings with ffmpeg.
package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"council-gather/pkg/pipeline"
)

// FFmpegSplitter extracts a mono 16 kHz wav track from a video, the
// layout speech recognition backends expect. The ffmpeg binary must be
// on PATH.
type FFmpegSplitter struct {
	binary string
}

// NewFFmpegSplitter verifies the ffmpeg binary is available.
func NewFFmpegSplitter() (*FFmpegSplitter, error) {
	binary, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found on PATH: %w", err)
	}
	return &FFmpegSplitter{binary: binary}, nil
}

// Split reads the video at videoURI and returns its audio track as wav
// bytes. ffmpeg fetches remote URIs itself, so no separate download
// step is needed.
func (f *FFmpegSplitter) Split(ctx context.Context, videoURI string) (pipeline.Artifact, error) {
	tmpDir, err := os.MkdirTemp("", "audiosplit")
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("%w: create temp dir: %v", pipeline.ErrMediaExtraction, err)
	}
	defer os.RemoveAll(tmpDir)
	outPath := filepath.Join(tmpDir, "audio.wav")

	cmd := exec.CommandContext(ctx, f.binary,
		"-hide_banner",
		"-nostdin",
		"-i", videoURI,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return pipeline.Artifact{}, ctx.Err()
		}
		return pipeline.Artifact{}, fmt.Errorf("%w: ffmpeg on %s: %v: %s", pipeline.ErrMediaExtraction, videoURI, err, lastLine(stderr.String()))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("%w: read extracted audio: %v", pipeline.ErrMediaExtraction, err)
	}
	if len(data) == 0 {
		return pipeline.Artifact{}, fmt.Errorf("%w: ffmpeg produced no audio for %s", pipeline.ErrMediaExtraction, videoURI)
	}
	return pipeline.Artifact{Bytes: data, ContentType: "audio/wav"}, nil
}

// lastLine keeps error messages readable; ffmpeg's stderr is long and
// only the final line states the failure.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
