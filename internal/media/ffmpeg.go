// Package media wraps ffmpeg and ffprobe for muxing and inspecting videos.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/grid/explainer/internal/engine"
)

// ProbeResult is the subset of ffprobe output the pipeline cares about.
type ProbeResult struct {
	Duration      float64 // container duration, seconds
	Width         int
	Height        int
	VideoCodec    string
	HasVideo      bool
	AudioCodec    string
	AudioDuration float64
	HasAudio      bool
}

// FFmpeg muxes and probes media files through engine.Runner.
type FFmpeg struct {
	runner  engine.Runner
	ffmpeg  string
	ffprobe string
	logger  *slog.Logger
}

// NewFFmpeg creates an FFmpeg using the given binaries.
func NewFFmpeg(runner engine.Runner, ffmpegPath, ffprobePath string, logger *slog.Logger) *FFmpeg {
	return &FFmpeg{
		runner:  runner,
		ffmpeg:  ffmpegPath,
		ffprobe: ffprobePath,
		logger:  logger,
	}
}

// MuxArgs returns the ffmpeg arguments that take the first video stream of
// videoPath and the first audio stream of audioPath. Any audio already in the
// video is dropped. No -shortest: a narration longer than the animation is
// kept whole.
func MuxArgs(videoPath, audioPath, outputPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "192k",
		"-movflags", "+faststart",
		outputPath,
	}
}

// Mux writes outputPath from the video and narration inputs.
func (f *FFmpeg) Mux(ctx context.Context, videoPath, audioPath, outputPath string) error {
	res, err := f.runner.Run(ctx, engine.Command{
		Tool: f.ffmpeg,
		Args: MuxArgs(videoPath, audioPath, outputPath),
	})
	if err != nil {
		return fmt.Errorf("ffmpeg mux: %w", err)
	}
	f.logger.Debug("ffmpeg mux finished", "duration_ms", res.Duration.Milliseconds())
	return nil
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe inspects path with ffprobe.
func (f *FFmpeg) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	res, err := f.runner.Run(ctx, engine.Command{
		Tool: f.ffprobe,
		Args: []string{
			"-v", "error",
			"-print_format", "json",
			"-show_format",
			"-show_streams",
			path,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}
	return ParseProbe([]byte(res.Stdout))
}

// ParseProbe decodes ffprobe's JSON output.
func ParseProbe(data []byte) (*ProbeResult, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding ffprobe output: %w", err)
	}

	pr := &ProbeResult{Duration: parseSeconds(out.Format.Duration)}
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if pr.HasVideo {
				continue
			}
			pr.HasVideo = true
			pr.VideoCodec = s.CodecName
			pr.Width = s.Width
			pr.Height = s.Height
		case "audio":
			if pr.HasAudio {
				continue
			}
			pr.HasAudio = true
			pr.AudioCodec = s.CodecName
			pr.AudioDuration = parseSeconds(s.Duration)
		}
	}
	// Some muxers only report the container duration.
	if pr.HasAudio && pr.AudioDuration == 0 {
		pr.AudioDuration = pr.Duration
	}
	return pr, nil
}

func parseSeconds(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
