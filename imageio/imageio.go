// Package imageio is the lowest layer of the defragmenter: a byte-addressed
// random-access reader/writer over a FAT volume image. It knows nothing
// about FAT semantics, only offsets and lengths, and never hides a short
// read or write behind a partial result.
package imageio

import (
	"io"
	"os"

	"github.com/ninnikukawaii/Defrag/checkpoint"
	"github.com/spf13/afero"
)

// Image is a durable, random-access view of a volume image file. It wraps
// a single afero.File the way the teacher's Fs wraps a single io.ReadSeeker,
// except addressing is by absolute byte offset rather than sector number,
// matching the contract the Journal and Volume above it expect.
type Image struct {
	file afero.File
	size int64
}

// Open opens path on fs with flag/perm (the same arguments os.OpenFile takes)
// and wraps it as an Image. The file is not truncated or created unless flag
// says so.
func Open(fs afero.Fs, path string, flag int, perm os.FileMode) (*Image, error) {
	file, err := fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, checkpoint.WithKind(err, checkpoint.KindIoError, ErrOpen)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, checkpoint.WithKind(err, checkpoint.KindIoError, ErrOpen)
	}

	return &Image{file: file, size: info.Size()}, nil
}

// Size returns the current length of the image in bytes.
func (img *Image) Size() int64 {
	return img.size
}

// ReadAt reads exactly length bytes starting at offset. A short read (the
// image truncated under us, or offset+length past the end) is reported as
// IoError rather than returned as a partial slice.
func (img *Image) ReadAt(offset uint64, length uint32) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}

	if offset+uint64(length) > uint64(img.size) {
		return nil, checkpoint.FromKind(checkpoint.KindIoError, ErrOutOfRange)
	}

	buf := make([]byte, length)
	n, err := img.file.ReadAt(buf, int64(offset))
	if err != nil && err != io.EOF {
		return nil, checkpoint.WithKind(err, checkpoint.KindIoError, ErrRead)
	}
	if n != int(length) {
		return nil, checkpoint.FromKind(checkpoint.KindIoError, ErrShortRead)
	}

	return buf, nil
}

// WriteAt writes data at offset, extending the tracked size if the write
// reaches past the current end of the image. It does not flush; callers
// that need durability must call Flush.
func (img *Image) WriteAt(offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	n, err := img.file.WriteAt(data, int64(offset))
	if err != nil {
		return checkpoint.WithKind(err, checkpoint.KindIoError, ErrWrite)
	}
	if n != len(data) {
		return checkpoint.FromKind(checkpoint.KindIoError, ErrShortWrite)
	}

	if end := int64(offset) + int64(len(data)); end > img.size {
		img.size = end
	}

	return nil
}

// Flush forces everything written so far to durable storage.
func (img *Image) Flush() error {
	if err := img.file.Sync(); err != nil {
		return checkpoint.WithKind(err, checkpoint.KindIoError, ErrFlush)
	}
	return nil
}

// Close flushes and releases the underlying file handle.
func (img *Image) Close() error {
	if err := img.Flush(); err != nil {
		return err
	}
	if err := img.file.Close(); err != nil {
		return checkpoint.WithKind(err, checkpoint.KindIoError, ErrClose)
	}
	return nil
}
