package jobs

import (
	"strings"
	"time"
)

// State is a task's position in the transcode/upload lifecycle
type State string

const (
	StateQueued             State = "queued"
	StateTranscoding        State = "transcoding"
	StateTranscodeFailed    State = "transcode_failed"
	StateTranscodeSucceeded State = "transcode_succeeded"
	StateUploading          State = "uploading"
	StateUploadSucceeded    State = "upload_succeeded"
	StateUploadFailed       State = "upload_failed"
	StateDone               State = "done"
)

// transitions lists the legal next states for each state.
var transitions = map[State][]State{
	StateQueued:             {StateTranscoding},
	StateTranscoding:        {StateTranscodeFailed, StateTranscodeSucceeded},
	StateTranscodeSucceeded: {StateUploading},
	StateUploading:          {StateUploadSucceeded, StateUploadFailed},
	StateTranscodeFailed:    {StateDone},
	StateUploadSucceeded:    {StateDone},
	StateUploadFailed:       {StateDone},
}

// CanTransition reports whether from -> to is a legal edge
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for states that route straight to Done
func (s State) IsTerminal() bool {
	return s == StateTranscodeFailed || s == StateUploadSucceeded || s == StateUploadFailed || s == StateDone
}

// Task is one file travelling through transcode, upload and cleanup.
// A task is immutable once created.
type Task struct {
	ID         string    `json:"id"`
	InputPath  string    `json:"input_path"`
	OutputPath string    `json:"output_path"`
	RemoteName string    `json:"remote_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// DefaultRemoteName is used when a name sanitizes to nothing
const DefaultRemoteName = "video.mp4"

var unsafeChars = strings.NewReplacer(
	`\`, "_", "/", "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_", " ", "_",
)

// SafeFilename makes name usable as a remote file name.
func SafeFilename(name string) string {
	name = unsafeChars.Replace(strings.TrimSpace(name))
	if name == "" {
		return DefaultRemoteName
	}
	return name
}
