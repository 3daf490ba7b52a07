package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gwlsn/vidrelay/internal/config"
	"github.com/gwlsn/vidrelay/internal/logger"
)

// alistOK is the application-level success code in Alist responses.
const alistOK = 200

// AlistClient uploads through an Alist server's /api/fs/put endpoint.
// It logs in before every upload; tokens are never cached.
type AlistClient struct {
	baseURL  string
	username string
	password string
	basePath string
	http     *http.Client
}

// alistResponse is the envelope every Alist API call returns.
type alistResponse struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *alistData `json:"data"`
}

type alistData struct {
	Token string     `json:"token,omitempty"`
	Task  *alistTask `json:"task,omitempty"`
}

type alistTask struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Status json.RawMessage `json:"status"`
}

// NewAlistClient creates a client from config.
func NewAlistClient(cfg config.AlistConfig) *AlistClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &AlistClient{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		basePath: cfg.BasePath,
		http:     &http.Client{Timeout: timeout},
	}
}

// Upload logs in, then streams localPath to basePath+remoteName.
func (c *AlistClient) Upload(ctx context.Context, localPath, remoteName string) (Outcome, error) {
	token, err := c.login(ctx)
	if err != nil {
		return Outcome{Detail: "login failed"}, err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return Outcome{Detail: "open local file"}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Outcome{Detail: "stat local file"}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/api/fs/put", f)
	if err != nil {
		return Outcome{}, fmt.Errorf("build put request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Authorization", token)
	req.Header.Set("File-Path", EscapeRemotePath(c.basePath+remoteName))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	req.Header.Set("As-Task", "true")

	resp, err := c.http.Do(req)
	if err != nil {
		return Outcome{Detail: "put request failed"}, fmt.Errorf("alist put: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Outcome{Detail: "read response"}, fmt.Errorf("alist put: %w", err)
	}

	outcome := decodePutResponse(resp.StatusCode, body)
	if outcome.Succeeded {
		logger.Info("Uploaded to Alist",
			"remote", c.basePath+remoteName,
			"size", humanize.Bytes(uint64(info.Size())),
			"detail", outcome.Detail)
	}
	return outcome, nil
}

func (c *AlistClient) login(ctx context.Context) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/login", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("alist login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("alist login: HTTP %d", resp.StatusCode)
	}

	var out alistResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("alist login: decode response: %w", err)
	}
	if out.Code != alistOK || out.Data == nil || out.Data.Token == "" {
		return "", errors.New("alist login: " + describe(out))
	}
	return out.Data.Token, nil
}

// decodePutResponse maps an /api/fs/put reply onto an Outcome.
// Anything other than a 2xx with a well-formed code=200 envelope is a failure.
func decodePutResponse(status int, body []byte) Outcome {
	if status < 200 || status > 299 {
		return Outcome{Detail: fmt.Sprintf("HTTP %d", status)}
	}

	var out alistResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Outcome{Detail: "malformed response: " + truncate(string(body), 200)}
	}
	if out.Code != alistOK {
		return Outcome{Detail: describe(out)}
	}

	detail := "uploaded"
	if out.Data != nil && out.Data.Task != nil {
		detail = fmt.Sprintf("task %s submitted (status %s)", out.Data.Task.Name, strings.Trim(string(out.Data.Task.Status), `"`))
	}
	return Outcome{Succeeded: true, Detail: detail}
}

func describe(r alistResponse) string {
	if r.Message != "" {
		return fmt.Sprintf("code %d: %s", r.Code, r.Message)
	}
	return fmt.Sprintf("code %d", r.Code)
}

// EscapeRemotePath percent-encodes every byte of p except unreserved
// characters (RFC 3986) and '/'. Sub-delimiters such as $&+:=@ are escaped
// too, which url.PathEscape would leave alone.
func EscapeRemotePath(p string) string {
	var b strings.Builder
	b.Grow(len(p))
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '/' || isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0x0f])
	}
	return b.String()
}

const upperhex = "0123456789ABCDEF"

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return c == '-' || c == '.' || c == '_' || c == '~'
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
