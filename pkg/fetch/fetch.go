// Package fetch materializes remote payloads onto the local filesystem.
//
// Every write goes through a temporary file in the destination directory
// and is renamed into place only when complete, so a path that exists always
// holds a whole payload. Existing destinations are never fetched again.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pixivsync/pkg/errors"
	"pixivsync/pkg/logger"
	"pixivsync/pkg/naming"
	"pixivsync/pkg/ratelimit"
	"pixivsync/pkg/storage"
)

// Referer is sent with every download; the pixiv image CDN rejects requests
// without it.
const Referer = "https://app-api.pixiv.net/"

// Config configures a Fetcher.
type Config struct {
	UserAgent  string
	Timeout    time.Duration
	Limiter    ratelimit.Limiter
	HTTPClient *http.Client
}

// Options tune a single fetch.
type Options struct {
	// ModTime, when set, becomes the file's modification time.
	ModTime time.Time
}

// Result describes what a fetch did.
type Result struct {
	Path    string
	Bytes   int64
	Skipped bool
}

// Fetcher downloads binaries and writes texts through a storage.FS.
type Fetcher struct {
	fs        *storage.FS
	client    *http.Client
	limiter   ratelimit.Limiter
	userAgent string
	logger    logger.Logger

	// OnWarning receives best-effort failures such as a refused mtime update.
	OnWarning func(error)
}

// New creates a Fetcher writing into fs.
func New(fs *storage.FS, cfg Config, log logger.Logger) *Fetcher {
	if log == nil {
		log = logger.GetLogger()
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Fetcher{
		fs:        fs,
		client:    client,
		limiter:   cfg.Limiter,
		userAgent: cfg.UserAgent,
		logger:    log,
	}
}

// Fetch downloads url into dest unless dest already exists.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string, opts Options) (Result, error) {
	exists, err := f.fs.Exists(dest)
	if err != nil {
		return Result{}, err
	}
	if exists {
		f.logger.DebugWithFields("Destination exists, skipping download", map[string]interface{}{
			"path": dest,
		})
		return Result{Path: dest, Skipped: true}, nil
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return Result{}, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, errors.Transport("download", 0, err)
	}
	req.Header.Set("Referer", Referer)
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, errors.Transport("download "+url, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, errors.Transport("download "+url, resp.StatusCode,
			fmt.Errorf("unexpected status %s", resp.Status))
	}

	body := &trackingReader{r: resp.Body}
	n, err := f.fs.WriteAtomic(dest, body)
	if err != nil {
		if body.err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, ctxErr
			}
			return Result{}, errors.Transport("download "+url, resp.StatusCode, body.err)
		}
		return Result{}, err
	}

	f.logger.DebugWithFields("Downloaded file", map[string]interface{}{
		"path":        dest,
		"size_bytes":  n,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	if !opts.ModTime.IsZero() {
		if err := f.fs.SetModTime(dest, opts.ModTime); err != nil {
			f.warn(err)
		}
	}

	return Result{Path: dest, Bytes: n}, nil
}

// WriteText writes text as "{name}.txt" in dir. An existing file with the
// same content is left alone; one with different content belongs to another
// work of the same title, so the text goes to "{name}_{id}.txt" instead.
func (f *Fetcher) WriteText(dir, name string, id int64, text string) (string, error) {
	content := []byte(NormalizeText(text))

	candidates := []string{
		f.fs.Join(dir, naming.FileName(name, ".txt")),
		f.fs.Join(dir, naming.FileName(name, "_"+strconv.FormatInt(id, 10)+".txt")),
	}

	for i, p := range candidates {
		existing, err := f.readIfExists(p)
		if err != nil {
			return "", err
		}
		if existing == nil {
			if _, err := f.fs.WriteAtomic(p, bytes.NewReader(content)); err != nil {
				return "", err
			}
			return p, nil
		}
		if bytes.Equal(existing, content) {
			return p, nil
		}
		if i == len(candidates)-1 {
			// The id-suffixed name is ours alone; replace a stale copy
			if _, err := f.fs.WriteAtomic(p, bytes.NewReader(content)); err != nil {
				return "", err
			}
			return p, nil
		}
		f.logger.InfoWithFields("Title collision, writing under id-suffixed name", map[string]interface{}{
			"path":     p,
			"novel_id": id,
		})
	}
	return "", nil
}

func (f *Fetcher) readIfExists(p string) ([]byte, error) {
	exists, err := f.fs.Exists(p)
	if err != nil || !exists {
		return nil, err
	}
	data, err := f.fs.ReadFile(p)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (f *Fetcher) warn(err error) {
	f.logger.WithError(err).Warn("Best-effort file update failed")
	if f.OnWarning != nil {
		f.OnWarning(err)
	}
}

// NormalizeText trims surrounding whitespace from every line and terminates
// each line with a newline.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	if text == "" {
		return ""
	}
	text = strings.TrimSuffix(text, "\n")

	var b strings.Builder
	b.Grow(len(text) + 1)
	for _, line := range strings.Split(text, "\n") {
		b.WriteString(strings.TrimSpace(line))
		b.WriteByte('\n')
	}
	return b.String()
}

// trackingReader remembers read errors so a failed copy can be attributed to
// the network rather than the disk.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}
