package upload

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwlsn/vidrelay/internal/config"
)

func TestObjectName(t *testing.T) {
	tests := []struct {
		prefix, name, want string
		wantErr            bool
	}{
		{"", "clip.mp4", "clip.mp4", false},
		{cleanPrefix("/videos/"), "clip.mp4", "videos/clip.mp4", false},
		{cleanPrefix("videos"), "../../etc/passwd", "videos/etc/passwd", false},
		{"", "", "", true},
		{"", "   ", "", true},
		{"", "/", "", true},
	}

	for _, tt := range tests {
		got, err := objectName(tt.prefix, tt.name)
		if tt.wantErr {
			assert.Error(t, err, tt.name)
			continue
		}
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got)
	}
}

func TestCleanPrefix(t *testing.T) {
	assert.Equal(t, "", cleanPrefix(""))
	assert.Equal(t, "", cleanPrefix("/"))
	assert.Equal(t, "a/b/", cleanPrefix("/a/b/"))
}

func TestNewMinIOUploaderValidates(t *testing.T) {
	_, err := NewMinIOUploader(context.Background(), config.MinIOConfig{Bucket: "b"})
	assert.ErrorContains(t, err, "endpoint")

	_, err = NewMinIOUploader(context.Background(), config.MinIOConfig{Endpoint: "localhost:9000"})
	assert.ErrorContains(t, err, "bucket")
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), config.UploadConfig{Backend: "ftp"})
	assert.Error(t, err)
}

func TestNewDefaultsToAlist(t *testing.T) {
	u, err := New(context.Background(), config.UploadConfig{Alist: config.AlistConfig{URL: "http://x"}})
	require.NoError(t, err)
	assert.IsType(t, &AlistClient{}, u)
}
