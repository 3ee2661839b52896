package backend

import (
	"context"
	"io"
	"sync"

	"github.com/dory-project/dory/pkg/doryerr"
)

// Memory is an in-process Device backed by a single byte slice, used for
// fast unit tests that don't want file-system overhead.
type Memory struct {
	mu   sync.RWMutex
	buf  []byte
	size int64
}

// NewMemory allocates a zero-filled in-memory backing device of sizeBytes.
func NewMemory(sizeBytes int64) (*Memory, error) {
	if sizeBytes <= 0 {
		return nil, doryerr.NewConfigInvalid("memory backend size must be positive, got %d", sizeBytes)
	}
	return &Memory{buf: make([]byte, sizeBytes), size: sizeBytes}, nil
}

func (d *Memory) ReadAt(ctx context.Context, p []byte, off int64) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if off < 0 || off+int64(len(p)) > d.size {
		return io.ErrUnexpectedEOF
	}
	copy(p, d.buf[off:off+int64(len(p))])
	return nil
}

func (d *Memory) WriteAt(ctx context.Context, p []byte, off int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if off < 0 || off+int64(len(p)) > d.size {
		return io.ErrUnexpectedEOF
	}
	copy(d.buf[off:off+int64(len(p))], p)
	return nil
}

func (d *Memory) Flush(ctx context.Context) error {
	// Nothing buffered beyond the slice itself.
	return nil
}

func (d *Memory) Size() int64 {
	return d.size
}

func (d *Memory) Close() error {
	return nil
}

// Snapshot returns a copy of the current backing contents, useful in tests
// that want to compare post-failure state against a pre-recorded baseline.
func (d *Memory) Snapshot() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]byte, len(d.buf))
	copy(out, d.buf)
	return out
}
