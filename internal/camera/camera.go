// Package camera provides frame sources for the obstacle pipeline.
package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/seesafe/seesafe-agent/pkg/types"
)

// Camera captures one encoded frame per call. Errors wrap types.ErrCapture.
type Camera interface {
	Capture(ctx context.Context) (types.Frame, error)
	Close() error
}

// DirectoryCamera replays the image files of a directory in name order, looping
type DirectoryCamera struct {
	mu    sync.Mutex
	files []string
	next  int
	count uint64
}

// NewDirectoryCamera lists *.jpg, *.jpeg and *.png files in dir
func NewDirectoryCamera(dir string) (*DirectoryCamera, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCapture, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no images in %s", types.ErrCapture, dir)
	}
	sort.Strings(files)
	return &DirectoryCamera{files: files}, nil
}

// Capture reads the next file
func (c *DirectoryCamera) Capture(ctx context.Context) (types.Frame, error) {
	c.mu.Lock()
	path := c.files[c.next]
	c.next = (c.next + 1) % len(c.files)
	c.count++
	num := c.count
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return types.Frame{}, fmt.Errorf("%w: %v", types.ErrCapture, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Frame{}, fmt.Errorf("%w: %v", types.ErrCapture, err)
	}
	return types.Frame{Data: data, Timestamp: time.Now(), FrameNum: num}, nil
}

// Close is a no-op
func (c *DirectoryCamera) Close() error { return nil }

// HTTPCamera fetches a still image from a snapshot URL, such as a phone
// camera bridge or an IP camera
type HTTPCamera struct {
	url    string
	client *http.Client

	mu    sync.Mutex
	count uint64
}

// maxSnapshotBytes caps a single snapshot body
const maxSnapshotBytes = 16 << 20

// NewHTTPCamera creates a camera polling url with the given per-request timeout
func NewHTTPCamera(url string, timeout time.Duration) *HTTPCamera {
	return &HTTPCamera{url: url, client: &http.Client{Timeout: timeout}}
}

// Capture performs one GET
func (c *HTTPCamera) Capture(ctx context.Context) (types.Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return types.Frame{}, fmt.Errorf("%w: %v", types.ErrCapture, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return types.Frame{}, fmt.Errorf("%w: %v", types.ErrCapture, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.Frame{}, fmt.Errorf("%w: snapshot returned %s", types.ErrCapture, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return types.Frame{}, fmt.Errorf("%w: %v", types.ErrCapture, err)
	}

	c.mu.Lock()
	c.count++
	num := c.count
	c.mu.Unlock()
	return types.Frame{Data: data, Timestamp: time.Now(), FrameNum: num}, nil
}

// Close releases idle connections
func (c *HTTPCamera) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// New builds a camera from a source string: "dir:<path>" or an http(s) URL
func New(source string, timeout time.Duration) (Camera, error) {
	switch {
	case strings.HasPrefix(source, "dir:"):
		return NewDirectoryCamera(strings.TrimPrefix(source, "dir:"))
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return NewHTTPCamera(source, timeout), nil
	default:
		return nil, fmt.Errorf("unknown camera source %q", source)
	}
}
