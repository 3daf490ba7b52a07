// Package upload hands finished files to remote storage.
//
// The pipeline only sees the Uploader interface; authentication and transport
// stay inside each backend.
package upload

import (
	"context"
	"fmt"

	"github.com/gwlsn/vidrelay/internal/config"
)

// Outcome is the result contract of one upload call.
type Outcome struct {
	Succeeded bool   `json:"succeeded"`
	Detail    string `json:"detail,omitempty"`
}

// Uploader sends a local file to the storage service under remoteName.
type Uploader interface {
	Upload(ctx context.Context, localPath, remoteName string) (Outcome, error)
}

// UploadFunc adapts a function to Uploader.
type UploadFunc func(ctx context.Context, localPath, remoteName string) (Outcome, error)

func (f UploadFunc) Upload(ctx context.Context, localPath, remoteName string) (Outcome, error) {
	return f(ctx, localPath, remoteName)
}

// New builds the uploader selected by cfg.Backend.
func New(ctx context.Context, cfg config.UploadConfig) (Uploader, error) {
	switch cfg.Backend {
	case config.BackendAlist, "":
		return NewAlistClient(cfg.Alist), nil
	case config.BackendMinIO:
		return NewMinIOUploader(ctx, cfg.MinIO)
	default:
		return nil, fmt.Errorf("unknown upload backend %q", cfg.Backend)
	}
}
