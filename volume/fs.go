package volume

import (
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/ninnikukawaii/Defrag/checkpoint"
	"github.com/ninnikukawaii/Defrag/fatfs/codec"
)

// FS is a read-only path lookup over a Volume, generalizing the teacher's
// single-width Fs/File pair into one that walks real directory chains
// instead of a stub. It exists for the CLI's info --extract option, which
// needs to resolve a "/a/b/c" argument to the File that owns it; the
// relocator and fragmentator below this layer talk to Volume directly.
type FS struct {
	v *Volume
}

// NewFS wraps v for path lookups.
func NewFS(v *Volume) *FS {
	return &FS{v: v}
}

// Resolve walks name ("/" or "" means the root directory) component by
// component and returns the File it names.
func (f *FS) Resolve(name string) (File, error) {
	clean := strings.Trim(path.Clean("/"+name), "/")
	if clean == "" {
		return File{Entry: codec.DirectoryEntry{Attr: codec.AttrDirectory}, Loc: DirEntryLocation{Cluster: f.v.RootDirHead()}}, nil
	}

	parts := strings.Split(clean, "/")
	dirHead := f.v.RootDirHead()

	var found File
	for i, part := range parts {
		entries, err := f.v.WalkDirectory(dirHead)
		if err != nil {
			return File{}, err
		}

		match, ok := lookupEntry(entries, part)
		if !ok {
			return File{}, checkpoint.From(ErrNotFound)
		}

		found = match
		if i < len(parts)-1 {
			if !match.Entry.IsDirectory() {
				return File{}, checkpoint.From(ErrNotFound)
			}
			dirHead = match.Entry.FirstCluster
		}
	}

	return found, nil
}

func lookupEntry(entries []File, name string) (File, bool) {
	for _, e := range entries {
		if e.Entry.IsVolumeLabel() {
			continue
		}
		display := e.LongName
		if display == "" {
			display = e.Entry.ShortName
		}
		if strings.EqualFold(display, name) || strings.EqualFold(e.Entry.ShortName, name) {
			return e, true
		}
	}
	return File{}, false
}

// Open resolves name and returns a read-only handle over its contents.
// Opening a directory is allowed, matching afero's convention; Read on a
// directory handle returns ErrIsDirectory.
func (f *FS) Open(name string) (*FileHandle, error) {
	file, err := f.Resolve(name)
	if err != nil {
		return nil, err
	}

	var chain []uint32
	if file.Entry.IsDirectory() {
		chain = nil
	} else {
		chain, err = f.v.ReadChain(file.Entry.FirstCluster)
		if err != nil {
			return nil, err
		}
	}

	return &FileHandle{v: f.v, file: file, chain: chain, name: name}, nil
}

// FileHandle is a read-only, seekable view over one File's data, read
// directly from the volume's cluster chain rather than being buffered
// whole into memory.
type FileHandle struct {
	v      *Volume
	file   File
	chain  []uint32
	name   string
	offset int64
}

func (h *FileHandle) Name() string { return h.name }

func (h *FileHandle) Stat() (os.FileInfo, error) {
	return fileInfo{h.file}, nil
}

func (h *FileHandle) Read(p []byte) (int, error) {
	n, err := h.ReadAt(p, h.offset)
	h.offset += int64(n)
	return n, err
}

func (h *FileHandle) ReadAt(p []byte, off int64) (int, error) {
	if h.file.Entry.IsDirectory() {
		return 0, checkpoint.From(ErrIsDirectory)
	}
	size := int64(h.file.Entry.FileSize)
	if off >= size {
		return 0, io.EOF
	}

	bpc := int64(h.v.bp.BytesPerCluster())
	n := 0
	for n < len(p) && off+int64(n) < size {
		pos := off + int64(n)
		clusterIdx := pos / bpc
		if int(clusterIdx) >= len(h.chain) {
			break
		}
		inCluster := pos % bpc
		want := int64(len(p) - n)
		if want > bpc-inCluster {
			want = bpc - inCluster
		}
		if want > size-pos {
			want = size - pos
		}

		data, err := h.v.img.ReadAt(h.v.bp.ClusterOffset(h.chain[clusterIdx])+uint64(inCluster), uint32(want))
		if err != nil {
			return n, err
		}
		copy(p[n:], data)
		n += len(data)
	}

	if n < len(p) && off+int64(n) >= size {
		return n, io.EOF
	}
	return n, nil
}

func (h *FileHandle) Seek(offset int64, whence int) (int64, error) {
	size := int64(h.file.Entry.FileSize)
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += h.offset
	case io.SeekEnd:
		offset += size
	}
	if offset < 0 || offset > size {
		return 0, checkpoint.From(ErrSeekOutOfRange)
	}
	h.offset = offset
	return offset, nil
}

func (h *FileHandle) Close() error { return nil }

// fileInfo adapts a File to os.FileInfo for Stat and directory listings.
type fileInfo struct {
	file File
}

func (fi fileInfo) Name() string {
	if fi.file.LongName != "" {
		return fi.file.LongName
	}
	return fi.file.Entry.ShortName
}

func (fi fileInfo) Size() int64 { return int64(fi.file.Entry.FileSize) }

func (fi fileInfo) Mode() os.FileMode {
	if fi.file.Entry.IsDirectory() {
		return os.ModeDir
	}
	return 0
}

func (fi fileInfo) ModTime() time.Time { return fi.file.Entry.WriteTime }
func (fi fileInfo) IsDir() bool        { return fi.file.Entry.IsDirectory() }
func (fi fileInfo) Sys() interface{}   { return fi.file }
