package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

const (
	// DefaultParallel is used when the configured parallelism is not positive
	DefaultParallel = 4

	defaultTimeout   = 300 * time.Second
	defaultUserAgent = "hpkg/0.1.0"
	partialSuffix    = ".part"
)

// Manager fetches artifacts over HTTP with bounded parallelism and resume support
type Manager struct {
	client    *http.Client
	fs        afero.Fs
	parallel  int
	userAgent string
	progress  Progress
	log       *zerolog.Logger
}

// New creates a download manager writing to the OS filesystem
func New(parallel int, log *zerolog.Logger) *Manager {
	return NewWithDeps(parallel, log, afero.NewOsFs(), nil)
}

// NewWithDeps creates a download manager with an injected filesystem and HTTP client.
// A nil client gets a default one that also understands file:// URLs.
func NewWithDeps(parallel int, log *zerolog.Logger, fs afero.Fs, client *http.Client) *Manager {
	if parallel <= 0 {
		parallel = DefaultParallel
	}
	if client == nil {
		client = newHTTPClient(defaultTimeout)
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &Manager{
		client:    client,
		fs:        fs,
		parallel:  parallel,
		userAgent: defaultUserAgent,
		progress:  nopProgress{},
		log:       log,
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.RegisterProtocol("file", http.NewFileTransport(http.Dir("/")))
	return &http.Client{Timeout: timeout, Transport: transport}
}

// SetProgress installs a progress reporter. nil restores the silent default.
func (m *Manager) SetProgress(p Progress) {
	if p == nil {
		p = nopProgress{}
	}
	m.progress = p
}

// SetUserAgent overrides the User-Agent header
func (m *Manager) SetUserAgent(ua string) {
	if ua != "" {
		m.userAgent = ua
	}
}

// Parallel returns the concurrency limit
func (m *Manager) Parallel() int {
	return m.parallel
}

// DownloadPackages fetches all requests with at most Parallel() transfers in flight.
// Results are returned in completion order; each carries its Request.
func (m *Manager) DownloadPackages(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, 0, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	tasks := make(chan Request)
	out := make(chan Result)
	var wg sync.WaitGroup

	workers := min(m.parallel, len(reqs))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range tasks {
				path, err := m.fetch(ctx, req)
				out <- Result{Request: req, Path: path, Err: err}
			}
		}()
	}

	go func() {
		defer close(tasks)
		for _, req := range reqs {
			select {
			case tasks <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	seen := make(map[string]bool, len(reqs))
	for res := range out {
		seen[res.Request.Dest] = true
		results = append(results, res)
	}

	// requests never handed to a worker because the context ended
	for _, req := range reqs {
		if !seen[req.Dest] {
			results = append(results, Result{Request: req, Err: ctx.Err()})
		}
	}
	return results
}

// fetch downloads one request, trying the mirrors after the primary URL.
// Known-size downloads go through a .part file so they can be resumed.
func (m *Manager) fetch(ctx context.Context, req Request) (string, error) {
	urls := append([]string{req.URL}, req.Mirrors...)

	var lastErr error
	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		var err error
		if req.ExpectedSize > 0 {
			err = m.fetchResumable(ctx, u, req)
		} else {
			_, err = m.DownloadFile(ctx, u, req.Dest, 0)
		}
		if err == nil {
			return req.Dest, nil
		}

		lastErr = err
		m.log.Warn().Err(err).Str("url", u).Str("dest", req.Dest).Msg("download attempt failed")
	}
	return "", lastErr
}

func (m *Manager) fetchResumable(ctx context.Context, u string, req Request) error {
	part := req.Dest + partialSuffix
	if _, err := m.DownloadWithResume(ctx, u, part, req.ExpectedSize); err != nil {
		return err
	}
	if err := m.fs.Rename(part, req.Dest); err != nil {
		return core.NewError(core.ErrIO, "finalize download", req.Dest, err)
	}
	return nil
}

// DownloadFile streams url into dest through a temporary file in the same
// directory, reporting progress. Any non-2xx status fails.
func (m *Manager) DownloadFile(ctx context.Context, url, dest string, expectedSize int64) (string, error) {
	resp, err := m.doRequest(ctx, url, 0)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError(url, resp.StatusCode)
	}

	dir := filepath.Dir(dest)
	if err := m.fs.MkdirAll(dir, 0755); err != nil {
		return "", core.NewError(core.ErrIO, "create download dir", dir, err)
	}

	tmp, err := afero.TempFile(m.fs, dir, "dl-*.tmp")
	if err != nil {
		return "", core.NewError(core.ErrIO, "create temp file", dir, err)
	}
	tmpPath := tmp.Name()

	total := expectedSize
	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}
	name := filepath.Base(dest)

	if err := m.stream(tmp, resp.Body, name, total, 0); err != nil {
		_ = tmp.Close()
		_ = m.fs.Remove(tmpPath)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = m.fs.Remove(tmpPath)
		return "", core.NewError(core.ErrIO, "close", tmpPath, err)
	}
	if err := m.fs.Rename(tmpPath, dest); err != nil {
		_ = m.fs.Remove(tmpPath)
		return "", core.NewError(core.ErrIO, "finalize download", dest, err)
	}

	m.log.Debug().Str("url", url).Str("dest", dest).Msg("download complete")
	return dest, nil
}

// DownloadWithResume continues a partial download of url into dest.
//
// A dest already holding expectedSize bytes or more is treated as complete.
// Otherwise a Range request starting at the current length is sent: a 206
// response is appended, a 200 response (server ignored the range) replaces
// the file from the beginning. A 416 response means the file is complete when
// the size is unknown; with a known size the file is discarded and fetched
// again.
func (m *Manager) DownloadWithResume(ctx context.Context, url, dest string, expectedSize int64) (string, error) {
	var offset int64
	if info, err := m.fs.Stat(dest); err == nil && !info.IsDir() {
		offset = info.Size()
		if expectedSize > 0 && offset >= expectedSize {
			m.log.Debug().Str("dest", dest).Msg("download already complete")
			return dest, nil
		}
	}

	resp, err := m.doRequest(ctx, url, offset)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var flags int
	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		start, err := contentRangeStart(resp.Header.Get("Content-Range"))
		if err != nil || start != offset {
			return "", core.NewError(core.ErrDownloadFailed, "resume", url,
				fmt.Errorf("unexpected Content-Range %q for offset %d", resp.Header.Get("Content-Range"), offset))
		}
		flags = os.O_WRONLY | os.O_APPEND
	case resp.StatusCode == http.StatusPartialContent || (resp.StatusCode >= 200 && resp.StatusCode <= 299):
		if offset > 0 {
			m.log.Debug().Str("url", url).Msg("server ignored range request, restarting download")
		}
		offset = 0
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		if expectedSize <= 0 {
			// nothing left to send for this offset
			return dest, nil
		}
		// shorter than expected yet past the end: the partial file is not a
		// prefix of this artifact
		m.log.Debug().Str("url", url).Int64("offset", offset).Msg("range not satisfiable, restarting download")
		_ = resp.Body.Close()
		if err := m.fs.Remove(dest); err != nil {
			return "", core.NewError(core.ErrIO, "remove partial download", dest, err)
		}
		return m.DownloadWithResume(ctx, url, dest, expectedSize)
	default:
		return "", statusError(url, resp.StatusCode)
	}

	dir := filepath.Dir(dest)
	if err := m.fs.MkdirAll(dir, 0755); err != nil {
		return "", core.NewError(core.ErrIO, "create download dir", dir, err)
	}

	f, err := m.fs.OpenFile(dest, flags, 0644)
	if err != nil {
		return "", core.NewError(core.ErrIO, "open", dest, err)
	}

	total := expectedSize
	if total <= 0 && resp.ContentLength > 0 {
		total = offset + resp.ContentLength
	}

	if err := m.stream(f, resp.Body, filepath.Base(dest), total, offset); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", core.NewError(core.ErrIO, "close", dest, err)
	}
	return dest, nil
}

// FetchBytes downloads a small resource (a repository index) into memory
func (m *Manager) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	resp, err := m.doRequest(ctx, url, 0)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewError(core.ErrDownloadFailed, "read", url, err)
	}
	return data, nil
}

func (m *Manager) doRequest(ctx context.Context, url string, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, core.NewError(core.ErrDownloadFailed, "create request", url, err)
	}
	req.Header.Set("User-Agent", m.userAgent)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, core.NewError(core.ErrDownloadFailed, "request", url, err)
	}
	return resp, nil
}

// stream copies body into w, reporting progress. The file is synced before returning.
func (m *Manager) stream(w afero.File, body io.Reader, name string, total, already int64) (err error) {
	m.progress.Start(name, total)
	if already > 0 {
		m.progress.Advance(name, already)
	}
	defer func() { m.progress.Done(name, err) }()

	pw := &progressWriter{w: w, name: name, progress: m.progress}
	if _, err := io.Copy(pw, body); err != nil {
		return core.NewError(core.ErrDownloadFailed, "write", w.Name(), err)
	}
	if err := w.Sync(); err != nil {
		return core.NewError(core.ErrIO, "sync", w.Name(), err)
	}
	return nil
}

type progressWriter struct {
	w        io.Writer
	name     string
	progress Progress
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if n > 0 {
		p.progress.Advance(p.name, int64(n))
	}
	return n, err
}

func statusError(url string, status int) error {
	return core.NewError(core.ErrDownloadFailed, "fetch", url,
		fmt.Errorf("unexpected status code: %d", status))
}

// contentRangeStart parses the first byte position of "bytes start-end/total"
func contentRangeStart(h string) (int64, error) {
	h = strings.TrimSpace(h)
	if !strings.HasPrefix(h, "bytes ") {
		return 0, fmt.Errorf("malformed Content-Range %q", h)
	}
	spec := strings.TrimPrefix(h, "bytes ")
	dash := strings.IndexByte(spec, '-')
	if dash <= 0 {
		return 0, fmt.Errorf("malformed Content-Range %q", h)
	}
	return strconv.ParseInt(spec[:dash], 10, 64)
}
