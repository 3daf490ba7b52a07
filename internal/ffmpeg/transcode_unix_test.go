//go:build !windows

package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFFmpegHang reports one position, writes a partial output, then sleeps.
const fakeFFmpegHang = `for last; do :; done
echo $$ > "$(dirname "$last")/pid"
printf 'partial' > "$last"
printf 'frame=1 time=00:00:01.00 bitrate=1\n' >&2
exec sleep 30`

func TestRunKillsFFmpegWhenProgressCallbackPanics(t *testing.T) {
	tool := writeFakeTool(t, "ffmpeg", fakeFFmpegHang)
	dir := t.TempDir()
	out := filepath.Join(dir, "a.out.mp4")

	assert.PanicsWithValue(t, "subscriber exploded", func() {
		_, _ = NewTranscoder(tool, DefaultEncodeOptions()).Run(context.Background(), TranscodeRequest{
			InputPath:    "/in/a.mp4",
			OutputPath:   out,
			TotalSeconds: 10,
		}, func(ProgressEvent) { panic("subscriber exploded") })
	})

	raw, err := os.ReadFile(filepath.Join(dir, "pid"))
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	require.NoError(t, err)

	// Killed and reaped, so the pid no longer exists.
	err = syscall.Kill(pid, 0)
	assert.True(t, errors.Is(err, syscall.ESRCH), "ffmpeg still running: %v", err)

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "partial output should be removed")
}
