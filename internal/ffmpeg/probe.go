package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ProbeReason classifies why a probe failed
type ProbeReason string

const (
	ProbeToolFailed        ProbeReason = "tool_failed"
	ProbeBadOutput         ProbeReason = "bad_output"
	ProbeNoVideoStream     ProbeReason = "no_video_stream"
	ProbeMissingDimensions ProbeReason = "missing_dimensions"
)

// ErrNoVideoStream is matched by ProbeErrors with reason ProbeNoVideoStream.
var ErrNoVideoStream = errors.New("no video stream")

// ProbeError is returned when a file cannot be used as transcode input.
type ProbeError struct {
	Path   string
	Reason ProbeReason
	Err    error
}

func (e *ProbeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("probe %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("probe %s: %s", e.Path, e.Reason)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrNoVideoStream) match without wrapping.
func (e *ProbeError) Is(target error) bool {
	return target == ErrNoVideoStream && e.Reason == ProbeNoVideoStream
}

// VideoProbe is the read-only snapshot of one input file taken at task start.
type VideoProbe struct {
	Path            string  `json:"path"`
	DurationSeconds float64 `json:"duration_seconds"` // 0 = unknown
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	VideoCodec      string  `json:"video_codec"`
	Bitrate         int64   `json:"bitrate"` // bits per second
}

// ffprobeOutput represents the JSON output from ffprobe
type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
}

type ffprobeStream struct {
	Index     int    `json:"index"`
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Duration  string `json:"duration"`
	BitRate   string `json:"bit_rate"`
}

// Prober wraps ffprobe functionality
type Prober struct {
	ffprobePath string
}

// NewProber creates a new Prober with the given ffprobe path
func NewProber(ffprobePath string) *Prober {
	return &Prober{ffprobePath: ffprobePath}
}

// Probe returns duration and dimensions of the first video stream in path.
func (p *Prober) Probe(ctx context.Context, path string) (*VideoProbe, error) {
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			err = fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, &ProbeError{Path: path, Reason: ProbeToolFailed, Err: err}
	}

	return parseProbeOutput(path, output)
}

// parseProbeOutput turns raw ffprobe JSON into a VideoProbe.
func parseProbeOutput(path string, output []byte) (*VideoProbe, error) {
	var probeOutput ffprobeOutput
	if err := json.Unmarshal(output, &probeOutput); err != nil {
		return nil, &ProbeError{Path: path, Reason: ProbeBadOutput, Err: err}
	}

	var video *ffprobeStream
	for i := range probeOutput.Streams {
		if probeOutput.Streams[i].CodecType == "video" {
			video = &probeOutput.Streams[i]
			break
		}
	}
	if video == nil {
		return nil, &ProbeError{Path: path, Reason: ProbeNoVideoStream}
	}
	if video.Width <= 0 || video.Height <= 0 {
		return nil, &ProbeError{
			Path:   path,
			Reason: ProbeMissingDimensions,
			Err:    fmt.Errorf("width=%d height=%d", video.Width, video.Height),
		}
	}

	result := &VideoProbe{
		Path:       path,
		Width:      video.Width,
		Height:     video.Height,
		VideoCodec: video.CodecName,
	}

	// Container duration first, stream duration as fallback, else unknown
	result.DurationSeconds = parseSeconds(probeOutput.Format.Duration)
	if result.DurationSeconds == 0 {
		result.DurationSeconds = parseSeconds(video.Duration)
	}

	if probeOutput.Format.BitRate != "" {
		result.Bitrate, _ = strconv.ParseInt(probeOutput.Format.BitRate, 10, 64)
	} else if video.BitRate != "" {
		result.Bitrate, _ = strconv.ParseInt(video.BitRate, 10, 64)
	}

	return result, nil
}

// parseSeconds parses an ffprobe duration field; "N/A", garbage and negatives become 0.
func parseSeconds(s string) float64 {
	if s == "" || s == "N/A" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

// IsVideoFile returns true if the file extension suggests a video file
func IsVideoFile(path string) bool {
	ext := strings.ToLower(path)
	videoExtensions := []string{
		".mkv", ".mp4", ".avi", ".mov", ".wmv", ".flv",
		".webm", ".m4v", ".mpeg", ".mpg", ".m2ts", ".ts",
	}
	for _, ve := range videoExtensions {
		if strings.HasSuffix(ext, ve) {
			return true
		}
	}
	return false
}
