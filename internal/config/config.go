package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// Upload backends
const (
	BackendAlist = "alist"
	BackendMinIO = "minio"
)

type Config struct {
	// LogLevel is one of debug, info, warn, error (default info)
	LogLevel string `yaml:"log_level"`

	// LogFormat is "text" or "json" (default text)
	LogFormat string `yaml:"log_format"`

	// FFmpegPath is the path to ffmpeg binary (default: "ffmpeg")
	FFmpegPath string `yaml:"ffmpeg_path"`

	// FFprobePath is the path to ffprobe binary (default: "ffprobe")
	FFprobePath string `yaml:"ffprobe_path"`

	// InboxPath is the directory watched for finished downloads
	InboxPath string `yaml:"inbox_path"`

	// WorkDir is where transcoded files are written before upload.
	// If empty, they go next to the source file.
	WorkDir string `yaml:"work_dir"`

	// Quality is the x264 CRF value (default 23)
	Quality int `yaml:"quality"`

	// Preset is the x264 preset (default ultrafast)
	Preset string `yaml:"preset"`

	// Tune is the x264 tune (default fastdecode)
	Tune string `yaml:"tune"`

	// ExtraArgs is a shell-quoted string of extra ffmpeg output args
	ExtraArgs string `yaml:"ffmpeg_extra_args"`

	// MinFreeDisk triggers a warning at enqueue time when free space drops below it
	MinFreeDisk datasize.ByteSize `yaml:"min_free_disk"`

	// JournalPath is the SQLite task journal. Empty disables the journal.
	JournalPath string `yaml:"journal_path"`

	Upload UploadConfig `yaml:"upload"`
}

type UploadConfig struct {
	// Backend is "alist" (default) or "minio"
	Backend string      `yaml:"backend"`
	Alist   AlistConfig `yaml:"alist"`
	MinIO   MinIOConfig `yaml:"minio"`
}

type AlistConfig struct {
	URL      string        `yaml:"url"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	BasePath string        `yaml:"base_path"`
	Timeout  time.Duration `yaml:"timeout"`
}

type MinIOConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		LogLevel:    "info",
		LogFormat:   "text",
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		InboxPath:   "downloads",
		WorkDir:     "", // same directory as source
		Quality:     23,
		Preset:      "ultrafast",
		Tune:        "fastdecode",
		MinFreeDisk: 500 * datasize.MB,
		Upload: UploadConfig{
			Backend: BackendAlist,
			Alist: AlistConfig{
				BasePath: "/videos/",
				Timeout:  300 * time.Second,
			},
		},
	}
}

// Load reads config from a YAML file, applying defaults for missing values.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.FFmpegPath == "" {
		c.FFmpegPath = def.FFmpegPath
	}
	if c.FFprobePath == "" {
		c.FFprobePath = def.FFprobePath
	}
	if c.Quality <= 0 {
		c.Quality = def.Quality
	}
	if c.Preset == "" {
		c.Preset = def.Preset
	}
	if c.Tune == "" {
		c.Tune = def.Tune
	}
	if c.Upload.Backend == "" {
		c.Upload.Backend = def.Upload.Backend
	}
	if c.Upload.Alist.BasePath == "" {
		c.Upload.Alist.BasePath = def.Upload.Alist.BasePath
	}
	if c.Upload.Alist.Timeout <= 0 {
		c.Upload.Alist.Timeout = def.Upload.Alist.Timeout
	}
}

// ApplyEnv overrides config values from environment variables.
func (c *Config) ApplyEnv() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.InboxPath, "VIDRELAY_INBOX")
	setString(&c.WorkDir, "VIDRELAY_WORK_DIR")
	setString(&c.JournalPath, "VIDRELAY_JOURNAL")
	setString(&c.Upload.Backend, "VIDRELAY_UPLOAD_BACKEND")

	setString(&c.Upload.Alist.URL, "ALIST_URL")
	setString(&c.Upload.Alist.Username, "ALIST_USER")
	setString(&c.Upload.Alist.Password, "ALIST_PASS")
	setString(&c.Upload.Alist.BasePath, "ALIST_PATH")

	setString(&c.Upload.MinIO.Endpoint, "MINIO_ENDPOINT")
	setString(&c.Upload.MinIO.AccessKeyID, "MINIO_ACCESS_KEY")
	setString(&c.Upload.MinIO.SecretAccessKey, "MINIO_SECRET_KEY")
	setString(&c.Upload.MinIO.Bucket, "MINIO_BUCKET")
	setString(&c.Upload.MinIO.Prefix, "MINIO_PREFIX")
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Upload.MinIO.UseSSL = b
		}
	}
}

// Validate checks the settings required before the worker may start.
func (c *Config) Validate() error {
	var errs []error

	switch c.Upload.Backend {
	case BackendAlist:
		if c.Upload.Alist.URL == "" {
			errs = append(errs, errors.New("upload.alist.url is required"))
		}
		if c.Upload.Alist.Username == "" {
			errs = append(errs, errors.New("upload.alist.username is required"))
		}
	case BackendMinIO:
		if c.Upload.MinIO.Endpoint == "" {
			errs = append(errs, errors.New("upload.minio.endpoint is required"))
		}
		if c.Upload.MinIO.Bucket == "" {
			errs = append(errs, errors.New("upload.minio.bucket is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown upload backend %q", c.Upload.Backend))
	}

	if _, err := c.ExtraArgList(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ExtraArgList splits ExtraArgs with shell quoting rules.
func (c *Config) ExtraArgList() ([]string, error) {
	if strings.TrimSpace(c.ExtraArgs) == "" {
		return nil, nil
	}
	args, err := shlex.Split(c.ExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg_extra_args: %w", err)
	}
	return args, nil
}

// Save writes the config to a YAML file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
