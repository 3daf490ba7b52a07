package ffmpeg

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// writeFakeTool writes an executable shell script standing in for ffmpeg/ffprobe.
func writeFakeTool(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tools are shell scripts")
	}
	path := filepath.Join(t.TempDir(), name)
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("write fake %s: %v", name, err)
	}
	return path
}
