package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFFmpeg reports three positions on stderr, writes the last argument and exits with code.
const fakeFFmpegOK = `for last; do :; done
printf 'ffmpeg version fake\n' >&2
printf 'frame=1 time=00:00:02.50 bitrate=1\r' >&2
printf 'frame=2 time=00:00:05.00 bitrate=1\r' >&2
printf 'frame=3 time=00:00:12.00 bitrate=1\n' >&2
printf 'transcoded' > "$last"
exit 0`

const fakeFFmpegFail = `for last; do :; done
printf 'frame=1 time=00:00:01.00 bitrate=1\r' >&2
printf 'partial' > "$last"
printf 'Error while decoding stream #0:0: Invalid data found\n' >&2
exit 1`

func TestBuildOutputPath(t *testing.T) {
	tests := []struct {
		input, workDir, expected string
	}{
		{"/downloads/movie.mp4", "/downloads", "/downloads/movie.mp4.transcoded.mp4"},
		{"/downloads/clip.mkv", "/scratch", "/scratch/clip.mkv.transcoded.mp4"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, BuildOutputPath(tt.input, tt.workDir))
	}
}

func TestBuildArgs(t *testing.T) {
	tr := NewTranscoder("ffmpeg", EncodeOptions{
		Quality:   23,
		Preset:    "ultrafast",
		Tune:      "fastdecode",
		ExtraArgs: []string{"-movflags", "+faststart"},
	})

	args := tr.BuildArgs(TranscodeRequest{
		InputPath:  "/in/a.mp4",
		OutputPath: "/out/a.mp4.transcoded.mp4",
		Decision:   Decide(VideoProbe{Width: 3840, Height: 2160}),
	})
	joined := strings.Join(args, " ")

	assert.Equal(t, "/out/a.mp4.transcoded.mp4", args[len(args)-1])
	assert.Contains(t, joined, "-i /in/a.mp4")
	assert.Contains(t, joined, "-vf scale=1920:1080:force_original_aspect_ratio=decrease,pad=1920:1080:(ow-iw)/2:(oh-ih)/2,setsar=1,noise=alls=1:allf=t+u")
	assert.Contains(t, joined, "-c:v libx264 -crf 23 -preset ultrafast -tune fastdecode")
	assert.Contains(t, joined, "-threads 1")
	assert.Contains(t, joined, "-c:a aac -movflags +faststart /out/")
}

func TestBuildArgsWithoutTune(t *testing.T) {
	opts := DefaultEncodeOptions()
	opts.Tune = ""
	args := NewTranscoder("ffmpeg", opts).BuildArgs(TranscodeRequest{InputPath: "a", OutputPath: "b"})
	assert.NotContains(t, args, "-tune")
	assert.NotContains(t, args, "-vf")
}

func TestRunSuccess(t *testing.T) {
	tool := writeFakeTool(t, "ffmpeg", fakeFFmpegOK)
	out := filepath.Join(t.TempDir(), "a.mp4.transcoded.mp4")

	var events []ProgressEvent
	res, err := NewTranscoder(tool, DefaultEncodeOptions()).Run(context.Background(), TranscodeRequest{
		InputPath:    "/in/a.mp4",
		OutputPath:   out,
		Decision:     Decide(VideoProbe{Width: 1280, Height: 720}),
		TotalSeconds: 10,
	}, func(ev ProgressEvent) {
		events = append(events, ev)
	})

	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, int64(len("transcoded")), res.OutputSizeBytes)

	require.Len(t, events, 3)
	assert.InDelta(t, 25, events[0].Percent, 0.001)
	assert.InDelta(t, 50, events[1].Percent, 0.001)
	assert.InDelta(t, 100, events[2].Percent, 0.001)
}

func TestRunUnknownDurationEmitsNoProgress(t *testing.T) {
	tool := writeFakeTool(t, "ffmpeg", fakeFFmpegOK)
	out := filepath.Join(t.TempDir(), "a.out.mp4")

	called := false
	res, err := NewTranscoder(tool, DefaultEncodeOptions()).Run(context.Background(), TranscodeRequest{
		InputPath:  "/in/a.mp4",
		OutputPath: out,
	}, func(ProgressEvent) { called = true })

	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.False(t, called)
}

func TestRunFailureKeepsExitCodeAndRemovesPartialOutput(t *testing.T) {
	tool := writeFakeTool(t, "ffmpeg", fakeFFmpegFail)
	out := filepath.Join(t.TempDir(), "a.out.mp4")

	res, err := NewTranscoder(tool, DefaultEncodeOptions()).Run(context.Background(), TranscodeRequest{
		InputPath:    "/in/a.mp4",
		OutputPath:   out,
		TotalSeconds: 10,
	}, nil)

	require.Error(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Succeeded)
	assert.Equal(t, 1, res.ExitCode)

	var te *TranscodeError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 1, te.ExitCode)
	assert.Contains(t, te.Stderr, "Invalid data found")

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "partial output should be removed")
}

func TestRunMissingBinary(t *testing.T) {
	res, err := NewTranscoder("/nonexistent/ffmpeg", DefaultEncodeOptions()).Run(context.Background(), TranscodeRequest{
		InputPath:  "/in/a.mp4",
		OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
	}, nil)

	require.Error(t, err)
	assert.False(t, res.Succeeded)
	assert.Equal(t, -1, res.ExitCode)
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(16)
	_, _ = b.Write([]byte("0123456789"))
	_, _ = b.Write([]byte("abcdefghij"))
	assert.Equal(t, "456789abcdefghij", b.String())

	b = newTailBuffer(1024)
	_, _ = b.Write([]byte("l1\nl2\rl3\nl4\nl5\nl6\nl7\n"))
	assert.Equal(t, "l3 | l4 | l5 | l6 | l7", b.String())
}
