package download

import "context"

// Request describes one artifact to fetch
type Request struct {
	ID           string   // Caller-chosen identifier, usually the package id
	URL          string   // Primary URL
	Mirrors      []string // Tried in order when URL fails
	Dest         string   // Final path of the downloaded file
	ExpectedSize int64    // Expected size in bytes, 0 if unknown
}

// Result is the outcome of one Request. Results identify their request
// because DownloadPackages returns them in completion order.
type Result struct {
	Request Request
	Path    string
	Err     error
}

// Progress receives byte-level progress. Implementations must be safe for
// concurrent use; the downloader never depends on them for correctness.
type Progress interface {
	Start(name string, total int64)
	Advance(name string, n int64)
	Done(name string, err error)
}

// Downloader is the contract the package manager consumes
type Downloader interface {
	DownloadPackages(ctx context.Context, reqs []Request) []Result
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

type nopProgress struct{}

func (nopProgress) Start(string, int64)  {}
func (nopProgress) Advance(string, int64) {}
func (nopProgress) Done(string, error)   {}
