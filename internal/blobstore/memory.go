package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antiprophet/studio/internal/metrics"
)

// PathPrefix is where the API serves memory blobs
const PathPrefix = "/blobs/"

const memoryBackend = "memory"

// Blob is one stored body
type Blob struct {
	Data        []byte
	ContentType string
	CreatedAt   time.Time
}

// Memory keeps blobs in process memory
type Memory struct {
	mu      sync.RWMutex
	blobs   map[string]*Blob
	baseURL string
	maxSize int64
}

// NewMemory creates a memory store. baseURL is the public origin of the API
// serving PathPrefix; maxSize <= 0 disables the limit.
func NewMemory(baseURL string, maxSize int64) *Memory {
	return &Memory{
		blobs:   make(map[string]*Blob),
		baseURL: strings.TrimRight(baseURL, "/"),
		maxSize: maxSize,
	}
}

// Create implements Store
func (m *Memory) Create(ctx context.Context, r io.Reader, size int64, contentType string) (string, error) {
	if m.maxSize > 0 && size > m.maxSize {
		metrics.RecordBlobCreated(memoryBackend, 0, ErrTooLarge)
		return "", ErrTooLarge
	}

	var buf bytes.Buffer
	reader := r
	if m.maxSize > 0 {
		reader = io.LimitReader(r, m.maxSize+1)
	}
	if _, err := io.Copy(&buf, reader); err != nil {
		metrics.RecordBlobCreated(memoryBackend, 0, err)
		return "", fmt.Errorf("failed to read blob: %w", err)
	}
	if m.maxSize > 0 && int64(buf.Len()) > m.maxSize {
		metrics.RecordBlobCreated(memoryBackend, 0, ErrTooLarge)
		return "", ErrTooLarge
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id := uuid.New().String()
	m.mu.Lock()
	m.blobs[id] = &Blob{Data: buf.Bytes(), ContentType: contentType, CreatedAt: time.Now()}
	m.mu.Unlock()

	metrics.RecordBlobCreated(memoryBackend, int64(buf.Len()), nil)
	return m.baseURL + PathPrefix + id, nil
}

// Revoke implements Store
func (m *Memory) Revoke(_ context.Context, url string) error {
	id := m.idFromURL(url)

	m.mu.Lock()
	_, ok := m.blobs[id]
	delete(m.blobs, id)
	m.mu.Unlock()

	if !ok {
		metrics.RecordBlobRevoked(memoryBackend, ErrNotFound)
		return ErrNotFound
	}
	metrics.RecordBlobRevoked(memoryBackend, nil)
	return nil
}

// Open returns the blob with the given id
func (m *Memory) Open(id string) (*Blob, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[id]
	return b, ok
}

// Len returns the number of live blobs
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

func (m *Memory) idFromURL(url string) string {
	i := strings.LastIndex(url, PathPrefix)
	if i < 0 {
		return url
	}
	return url[i+len(PathPrefix):]
}
