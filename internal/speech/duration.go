package speech

import (
	"context"
	"strconv"
	"strings"
)

// AudioDuration returns the duration of an audio file in seconds using ffprobe.
func AudioDuration(ctx context.Context, ffprobe, path string) (float64, error) {
	return audioDuration(ctx, execRunner{}, ffprobe, path)
}

func audioDuration(ctx context.Context, runner commandRunner, ffprobe, path string) (float64, error) {
	res, err := runner.Run(ctx, ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}

	return strconv.ParseFloat(strings.TrimSpace(res.Stdout), 64)
}
