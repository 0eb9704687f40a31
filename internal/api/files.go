package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPFileFetcher downloads attachments from the transport gateway, which
// exposes them as GET <base>/files/<id>.
type HTTPFileFetcher struct {
	baseURL string
	client  *http.Client
}

func NewHTTPFileFetcher(baseURL string) *HTTPFileFetcher {
	return &HTTPFileFetcher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (f *HTTPFileFetcher) Fetch(ctx context.Context, fileID string) ([]byte, error) {
	if f.baseURL == "" {
		return nil, fmt.Errorf("file downloads not configured")
	}

	fileURL := f.baseURL + "/files/" + url.PathEscape(fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build file request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch file %s: unexpected status %d", fileID, resp.StatusCode)
	}

	// Schedule files are small; cap reads to keep a misbehaving gateway from
	// exhausting memory.
	const maxFileSize = 10 << 20
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", fileID, err)
	}
	if len(data) > maxFileSize {
		return nil, fmt.Errorf("file %s exceeds %d bytes", fileID, maxFileSize)
	}
	return data, nil
}
