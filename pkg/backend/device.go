// Package backend provides the backing block device that dory's cache
// shim sits in front of: a sink that accepts block-aligned reads/writes
// and may itself fail, treated by pkg/device as an opaque storage target.
package backend

import "context"

// Device is the backing block device a dory instance forwards traffic to.
// All offsets and lengths are in bytes, addressed from sector 0.
type Device interface {
	// ReadAt fills p starting at byte offset off.
	ReadAt(ctx context.Context, p []byte, off int64) error
	// WriteAt writes p starting at byte offset off.
	WriteAt(ctx context.Context, p []byte, off int64) error
	// Flush demands any buffering the backend itself performs reach
	// stable storage before returning.
	Flush(ctx context.Context) error
	// Size returns the device capacity in bytes.
	Size() int64
	// Close releases resources held by the backend.
	Close() error
}
