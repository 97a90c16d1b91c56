package speech

import (
	"context"
	"fmt"
	"strings"
)

// ToWAV converts any ffmpeg-readable input into a PCM WAV file at outPath.
// sampleRate 0 keeps the source rate.
func ToWAV(ctx context.Context, ffmpeg, inPath, outPath string, sampleRate int) error {
	return toWAV(ctx, execRunner{}, ffmpeg, inPath, outPath, sampleRate)
}

func toWAV(ctx context.Context, runner commandRunner, ffmpeg, inPath, outPath string, sampleRate int) error {
	res, err := runner.Run(ctx, ffmpeg, buildFFmpegArgs(inPath, outPath, sampleRate)...)
	if err != nil {
		return fmt.Errorf("ffmpeg convert %s (exit=%d): %s: %w", inPath, res.ExitCode, lastLine(res.Stderr), err)
	}
	return nil
}

// buildFFmpegArgs builds args for a mono PCM WAV output.
func buildFFmpegArgs(inPath, outPath string, sampleRate int) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inPath,
		"-vn",
		"-ac", "1",
	}
	if sampleRate > 0 {
		args = append(args, "-ar", fmt.Sprint(sampleRate))
	}
	return append(args, "-c:a", "pcm_s16le", outPath)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
