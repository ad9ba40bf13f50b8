package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

// DownloadProgress renders the byte progress of a batch of downloads as one
// aggregate bar. It implements download.Progress.
type DownloadProgress struct {
	mu       sync.Mutex
	bar      *progressbar.ProgressBar
	max      int64
	count    int
	finished int
	failed   int
}

// NewDownloadProgress creates a bar for count downloads written to w
func NewDownloadProgress(w io.Writer, count int) *DownloadProgress {
	bar := progressbar.NewOptions64(0,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(describe(0, count, "")),
		progressbar.OptionSetWidth(25),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
	)
	return &DownloadProgress{bar: bar, count: count}
}

// Start registers a download of total bytes. Unknown sizes are not added to
// the bar maximum.
func (p *DownloadProgress) Start(name string, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if total > 0 {
		p.max += total
		p.bar.ChangeMax64(p.max)
	}
	p.bar.Describe(describe(p.finished, p.count, name))
}

// Advance adds n downloaded bytes
func (p *DownloadProgress) Advance(_ string, n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.bar.Add64(n)
}

// Done marks one download as finished
func (p *DownloadProgress) Done(name string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.finished++
	if err != nil {
		p.failed++
	}
	p.bar.Describe(describe(p.finished, p.count, name))
}

// Finish completes the bar
func (p *DownloadProgress) Finish() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bar.Finish()
}

// Counts returns finished and failed download counts
func (p *DownloadProgress) Counts() (finished, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished, p.failed
}

func describe(done, count int, name string) string {
	if name == "" {
		return fmt.Sprintf("[%d/%d] downloading", done, count)
	}
	return fmt.Sprintf("[%d/%d] %s", done, count, name)
}

// Spinner is an indeterminate progress indicator
type Spinner struct {
	bar *progressbar.ProgressBar
}

// NewSpinner creates a spinner for unknown-length operations
func NewSpinner(w io.Writer, description string) *Spinner {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(10),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
	return &Spinner{bar: bar}
}

// Tick advances the spinner
func (s *Spinner) Tick() {
	_ = s.bar.Add(1)
}

// Stop clears the spinner
func (s *Spinner) Stop() error {
	return s.bar.Finish()
}
