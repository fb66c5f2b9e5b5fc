package volume

import (
	"io"
	"os"

	"github.com/ninnikukawaii/Defrag/checkpoint"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// fder is satisfied by a real *os.File, but not by afero's in-memory file,
// so tests backed by afero.NewMemMapFs skip locking instead of failing on a
// file descriptor that does not exist.
type fder interface {
	Fd() uintptr
}

type lock struct {
	file afero.File
	held bool
}

// acquireLock takes an exclusive advisory lock on path, creating a sibling
// descriptor for the purpose rather than locking the image handle itself so
// that closing the lock never races with in-flight reads. skip bypasses
// locking entirely, for callers that already own exclusivity.
func acquireLock(fs afero.Fs, path string, skip bool) (*lock, error) {
	if skip {
		return &lock{}, nil
	}

	file, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, checkpoint.WithKind(err, checkpoint.KindIoError, ErrLockBusy)
	}

	fd, ok := file.(fder)
	if !ok {
		// No real descriptor to lock (e.g. an in-memory filesystem in
		// tests); exclusivity is the caller's problem.
		return &lock{file: file}, nil
	}

	flock := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: int16(io.SeekStart),
		Start:  0,
		Len:    0,
	}
	if err := unix.FcntlFlock(fd.Fd(), unix.F_SETLK, &flock); err != nil {
		_ = file.Close()
		return nil, checkpoint.WithKind(err, checkpoint.KindBusy, ErrLockBusy)
	}

	return &lock{file: file, held: true}, nil
}

func (l *lock) release() error {
	if l == nil || l.file == nil {
		return nil
	}

	if l.held {
		if fd, ok := l.file.(fder); ok {
			flock := unix.Flock_t{
				Type:   unix.F_UNLCK,
				Whence: int16(io.SeekStart),
				Start:  0,
				Len:    0,
			}
			_ = unix.FcntlFlock(fd.Fd(), unix.F_SETLK, &flock)
		}
	}

	return l.file.Close()
}
