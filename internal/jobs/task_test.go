package jobs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"clip.mp4", "clip.mp4"},
		{"my clip.mp4", "my_clip.mp4"},
		{`a\b/c:d*e?f"g<h>i|j.mp4`, "a_b_c_d_e_f_g_h_i_j.mp4"},
		{"  padded.mp4  ", "padded.mp4"},
		{"视频.mp4", "视频.mp4"},
		{"", DefaultRemoteName},
		{"   ", DefaultRemoteName},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SafeFilename(tt.in), tt.in)
	}
}

func TestCanTransition(t *testing.T) {
	legal := [][2]State{
		{StateQueued, StateTranscoding},
		{StateTranscoding, StateTranscodeFailed},
		{StateTranscoding, StateTranscodeSucceeded},
		{StateTranscodeSucceeded, StateUploading},
		{StateUploading, StateUploadSucceeded},
		{StateUploading, StateUploadFailed},
		{StateTranscodeFailed, StateDone},
		{StateUploadSucceeded, StateDone},
		{StateUploadFailed, StateDone},
	}
	for _, e := range legal {
		assert.True(t, CanTransition(e[0], e[1]), "%s -> %s", e[0], e[1])
	}

	illegal := [][2]State{
		{StateQueued, StateUploading},
		{StateTranscodeFailed, StateUploading},
		{StateTranscodeSucceeded, StateDone},
		{StateDone, StateQueued},
		{StateUploadFailed, StateUploading},
	}
	for _, e := range illegal {
		assert.False(t, CanTransition(e[0], e[1]), "%s -> %s", e[0], e[1])
	}
}

func TestStateIsTerminal(t *testing.T) {
	assert.True(t, StateTranscodeFailed.IsTerminal())
	assert.True(t, StateUploadSucceeded.IsTerminal())
	assert.True(t, StateUploadFailed.IsTerminal())
	assert.True(t, StateDone.IsTerminal())
	assert.False(t, StateTranscodeSucceeded.IsTerminal())
	assert.False(t, StateUploading.IsTerminal())
}

func TestAdvanceRejectsIllegalTransition(t *testing.T) {
	j := &memJournal{}
	c := newController(nil, j, nil)
	task := &Task{ID: "t1"}
	c.queued(task)
	run := c.begin(task)

	err := run.advance(StateUploading, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, StateQueued, run.state)
	assert.Equal(t, []State{StateQueued}, j.states("t1"))
}

func TestErrorTypes(t *testing.T) {
	base := errors.New("boom")

	up := &UploadError{TaskID: "t1", RemoteName: "a.mp4", Detail: "code 500", Err: base}
	assert.ErrorIs(t, up, base)
	assert.Contains(t, up.Error(), "code 500")
	assert.Contains(t, up.Error(), "a.mp4")

	cl := &CleanupError{TaskID: "t1", Path: "/x", Role: "output", Err: base}
	assert.ErrorIs(t, cl, base)
	assert.Contains(t, cl.Error(), "output")

	var target *CleanupError
	assert.True(t, errors.As(error(cl), &target))
}

func TestNoUploaderIsUploadFailure(t *testing.T) {
	c := newController(nil, nil, nil)
	out, err := c.callUploader(t.Context(), &Task{ID: "t1"})
	assert.Error(t, err)
	assert.False(t, out.Succeeded)
}

func TestFreeSpace(t *testing.T) {
	free, err := FreeSpace(t.TempDir())
	require.NoError(t, err)
	assert.Positive(t, free)

	// Never panics or blocks, with or without a threshold.
	warnIfLowDisk("t1", t.TempDir(), 1<<62)
	warnIfLowDisk("t1", t.TempDir(), 0)
	warnIfLowDisk("t1", "/nonexistent/dir", 1)
}
