// Package download fetches granule artifacts into a local directory.
//
// Fetch returns a status code: 0 (ftp transfer done), 200 (http transfer done)
// and 304 (already present) mean success; anything else is a failure that the
// caller escalates to ErrMissingArtifact when the expected file is absent.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/mohammed-shakir/lakeextract/internal/core/observability"
	"github.com/mohammed-shakir/lakeextract/internal/logger"
)

const (
	StatusTransferred = 0
	StatusOK          = http.StatusOK
	StatusNotModified = http.StatusNotModified
	// StatusFailed is returned alongside an error when no status was obtained.
	StatusFailed = -1
)

// ErrMissingArtifact means the expected local file is absent after a download.
var ErrMissingArtifact = errors.New("missing artifact")

// Succeeded reports whether status is one of the success codes.
func Succeeded(status int) bool {
	return status == StatusTransferred || status == StatusOK || status == StatusNotModified
}

// Doer sends one HTTP request. *httpclient.Retrier satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher is the download collaborator consumed by the pipeline.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, dir string) (int, error)
}

type Downloader struct {
	http       Doer
	token      string
	ftpTimeout time.Duration
	log        *slog.Logger
}

// New returns a downloader; token, when set, is sent as a bearer token on http(s).
func New(doer Doer, token string, log *slog.Logger) *Downloader {
	return &Downloader{http: doer, token: token, ftpTimeout: 30 * time.Second, log: logger.OrDiscard(log)}
}

// LocalName is the file name rawURL is stored under, compression suffix removed.
func LocalName(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	name := path.Base(p)
	for _, ext := range []string{".gz", ".zst"} {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext)
		}
	}
	return name
}

func (d *Downloader) Fetch(ctx context.Context, rawURL, dir string) (int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return StatusFailed, fmt.Errorf("parse download url: %w", err)
	}
	dst := filepath.Join(dir, LocalName(rawURL))
	if _, err := os.Stat(dst); err == nil {
		d.log.DebugContext(ctx, "artifact already present", "path", dst)
		return StatusNotModified, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return StatusFailed, fmt.Errorf("create download dir: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		return d.fetchHTTP(ctx, u, dst)
	case "ftp":
		return d.fetchFTP(ctx, u, dst)
	default:
		return StatusFailed, fmt.Errorf("unsupported download scheme %q", u.Scheme)
	}
}

func (d *Downloader) fetchHTTP(ctx context.Context, u *url.URL, dst string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return StatusFailed, fmt.Errorf("build download request: %w", err)
	}
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return StatusFailed, fmt.Errorf("download %s: %w", u.Redacted(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		d.log.WarnContext(ctx, "download failed", "url", u.Redacted(), "status", resp.StatusCode)
		return resp.StatusCode, nil
	}
	if err := writeArtifact(resp.Body, path.Base(u.Path), dst); err != nil {
		return StatusFailed, err
	}
	return StatusOK, nil
}

func (d *Downloader) fetchFTP(ctx context.Context, u *url.URL, dst string) (int, error) {
	host := u.Host
	if u.Port() == "" {
		host += ":21"
	}
	conn, err := ftp.Dial(host, ftp.DialWithContext(ctx), ftp.DialWithTimeout(d.ftpTimeout))
	if err != nil {
		return StatusFailed, fmt.Errorf("ftp dial: %w", err)
	}
	defer func() { _ = conn.Quit() }()

	user, pass := "anonymous", "anonymous"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		return StatusFailed, fmt.Errorf("ftp login: %w", err)
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		return StatusFailed, fmt.Errorf("ftp retr: %w", err)
	}
	defer func() { _ = resp.Close() }()

	if err := writeArtifact(resp, path.Base(u.Path), dst); err != nil {
		return StatusFailed, err
	}
	return StatusTransferred, nil
}

// writeArtifact streams r into dst through a temp file, decompressing by name suffix.
func writeArtifact(r io.Reader, remoteName, dst string) error {
	var src io.Reader = r
	switch {
	case strings.HasSuffix(remoteName, ".gz"):
		zr, err := gzip.NewReader(r)
		if err != nil {
			return fmt.Errorf("gzip reader: %w", err)
		}
		defer func() { _ = zr.Close() }()
		src = zr
	case strings.HasSuffix(remoteName, ".zst"):
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return fmt.Errorf("zstd reader: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}

// Ensure downloads rawURL into dir and returns the local path. A failed status
// or transport error is tolerated as long as the file ends up present.
func Ensure(ctx context.Context, f Fetcher, rawURL, dir string) (string, error) {
	dst := filepath.Join(dir, LocalName(rawURL))
	status, err := f.Fetch(ctx, rawURL, dir)
	switch {
	case status == StatusNotModified:
		observability.ObserveDownload(observability.OutcomeCached)
	case err == nil && Succeeded(status):
		observability.ObserveDownload(observability.OutcomeOK)
	default:
		observability.ObserveDownload(observability.OutcomeFailed)
	}

	if _, statErr := os.Stat(dst); statErr != nil {
		if err != nil {
			return "", fmt.Errorf("%w: %s (status %d): %v", ErrMissingArtifact, dst, status, err)
		}
		return "", fmt.Errorf("%w: %s (status %d)", ErrMissingArtifact, dst, status)
	}
	return dst, nil
}
