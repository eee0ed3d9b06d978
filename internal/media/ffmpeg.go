// Package media wraps the external ffmpeg/ffprobe binaries used to prepare
// uploads for transcription.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// videoExtensions are the container formats that need audio extraction
// before transcription.
var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".webm": true,
}

// IsVideo reports whether the file needs its audio track extracted first.
func IsVideo(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

// Toolkit is the media-preparation surface the transcription stage uses.
// The production implementation shells out to ffmpeg.
type Toolkit interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
	ExtractAudio(ctx context.Context, videoPath, audioPath string) error
	Normalize(ctx context.Context, inputPath, wavPath string) error
	SplitChunks(ctx context.Context, path, dir string, chunkSeconds int) ([]string, error)
}

// FFmpeg runs the ffmpeg and ffprobe binaries found on PATH. Cancelling the
// context kills the child process.
type FFmpeg struct{}

// NewFFmpeg returns the ffmpeg-backed toolkit.
func NewFFmpeg() *FFmpeg {
	return &FFmpeg{}
}

// Duration probes the container duration in seconds.
func (f *FFmpeg) Duration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx,
		"ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe error: %w", err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected ffprobe output %q: %w", string(output), err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// ExtractAudio pulls the audio track out of a video container as MP3.
func (f *FFmpeg) ExtractAudio(ctx context.Context, videoPath, audioPath string) error {
	cmd := exec.CommandContext(ctx,
		"ffmpeg",
		"-i", videoPath,
		"-vn",
		"-acodec", "libmp3lame",
		"-q:a", "2",
		"-y",
		audioPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg audio extraction error: %w, output: %s", err, string(output))
	}
	slog.Info("Audio track extracted", "input", videoPath, "output", audioPath)
	return nil
}

// Normalize resamples audio to 16 kHz mono PCM WAV, the input format the
// speech model transcribes best.
func (f *FFmpeg) Normalize(ctx context.Context, inputPath, wavPath string) error {
	cmd := exec.CommandContext(ctx,
		"ffmpeg",
		"-i", inputPath,
		"-ar", "16000",
		"-ac", "1",
		"-c:a", "pcm_s16le",
		"-y",
		wavPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg normalize error: %w, output: %s", err, string(output))
	}
	return nil
}

// SplitChunks cuts audio into chunkSeconds segments with stream copy and
// returns the chunk paths in playback order.
func (f *FFmpeg) SplitChunks(ctx context.Context, path, dir string, chunkSeconds int) ([]string, error) {
	ext := filepath.Ext(path)
	pattern := filepath.Join(dir, "chunk_%04d"+ext)

	cmd := exec.CommandContext(ctx,
		"ffmpeg",
		"-i", path,
		"-f", "segment",
		"-segment_time", strconv.Itoa(chunkSeconds),
		"-c", "copy",
		"-y",
		pattern,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg split error: %w, output: %s", err, string(output))
	}

	chunks, err := filepath.Glob(filepath.Join(dir, "chunk_*"+ext))
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("ffmpeg produced no chunks for %s", path)
	}
	sort.Strings(chunks)

	slog.Info("Audio split into chunks", "input", path, "chunks", len(chunks))
	return chunks, nil
}
