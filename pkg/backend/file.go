package backend

import (
	"context"
	"os"

	"github.com/dory-project/dory/pkg/doryerr"
)

// File is a Device backed by a single regular file opened by sector-
// addressed path, the realistic default backing store.
type File struct {
	f    *os.File
	size int64
}

// OpenFile opens (creating if necessary) path as a fixed-size backing
// device of sizeBytes. If the file already exists and is at least
// sizeBytes long, its existing contents are kept and size() reports
// sizeBytes; a shorter existing file is extended with zero bytes.
func OpenFile(path string, sizeBytes int64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, doryerr.Wrap(doryerr.Allocation, "open backing file "+path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, doryerr.Wrap(doryerr.Allocation, "stat backing file "+path, err)
	}
	if info.Size() < sizeBytes {
		if err := f.Truncate(sizeBytes); err != nil {
			f.Close()
			return nil, doryerr.Wrap(doryerr.Allocation, "grow backing file "+path, err)
		}
	}

	return &File{f: f, size: sizeBytes}, nil
}

func (d *File) ReadAt(ctx context.Context, p []byte, off int64) error {
	_, err := d.f.ReadAt(p, off)
	return err
}

func (d *File) WriteAt(ctx context.Context, p []byte, off int64) error {
	_, err := d.f.WriteAt(p, off)
	return err
}

func (d *File) Flush(ctx context.Context) error {
	return d.f.Sync()
}

func (d *File) Size() int64 {
	return d.size
}

func (d *File) Close() error {
	return d.f.Close()
}
