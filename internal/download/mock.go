package download

import "context"

// MockDownloader is a mock implementation of Downloader for testing
type MockDownloader struct {
	DownloadPackagesFunc func(ctx context.Context, reqs []Request) []Result
	FetchBytesFunc       func(ctx context.Context, url string) ([]byte, error)
}

// DownloadPackages implements Downloader.DownloadPackages
func (m *MockDownloader) DownloadPackages(ctx context.Context, reqs []Request) []Result {
	if m.DownloadPackagesFunc != nil {
		return m.DownloadPackagesFunc(ctx, reqs)
	}
	results := make([]Result, 0, len(reqs))
	for _, r := range reqs {
		results = append(results, Result{Request: r, Path: r.Dest})
	}
	return results
}

// FetchBytes implements Downloader.FetchBytes
func (m *MockDownloader) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	if m.FetchBytesFunc != nil {
		return m.FetchBytesFunc(ctx, url)
	}
	return nil, nil
}
