// Package journal is the write-ahead log that makes every Volume mutation
// crash-safe. A transaction's writes are appended to a sibling ".jrnl" file
// before they ever touch the image; on commit the log is flushed, the
// writes are applied to the image, the image is flushed, and only then is
// the log truncated. A crash at any point before truncation is repaired by
// ReplayOnOpen the next time the volume is opened.
package journal

import (
	"io"
	"os"

	"github.com/ninnikukawaii/Defrag/checkpoint"
	"github.com/ninnikukawaii/Defrag/imageio"
	"github.com/spf13/afero"
)

type pendingWrite struct {
	offset uint64
	data   []byte
}

// Journal owns exactly one sibling log file and mutates exactly one Image.
// It has no concept of concurrent transactions: Begin/Commit or Begin/Abort
// must alternate, matching Volume's single-threaded cooperative model.
type Journal struct {
	file afero.File
	img  *imageio.Image

	seq     uint64
	open    bool
	txStart int64
	pending []pendingWrite
}

// Open opens (creating if necessary) the log file at path and binds it to
// img, the image the journal will apply committed writes to. It does not
// replay; callers must call ReplayOnOpen explicitly once, before the first
// transaction, the way Volume.Open does.
func Open(fs afero.Fs, img *imageio.Image, path string) (*Journal, error) {
	file, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, checkpoint.WithKind(err, checkpoint.KindIoError, ErrOpenLog)
	}

	return &Journal{file: file, img: img}, nil
}

// Begin opens a new transaction. Only one may be open at a time.
func (j *Journal) Begin() error {
	if j.open {
		return checkpoint.FromKind(checkpoint.KindIoError, ErrTxAlreadyOpen)
	}

	info, err := j.file.Stat()
	if err != nil {
		return checkpoint.WithKind(err, checkpoint.KindIoError, ErrStatLog)
	}

	j.txStart = info.Size()
	j.open = true
	j.pending = nil
	return nil
}

// Stage appends a record capturing the bytes currently at offset (read
// through the bound Image) and the bytes that will replace them. The image
// itself is not touched until Commit.
func (j *Journal) Stage(offset uint64, newBytes []byte) error {
	if !j.open {
		return checkpoint.FromKind(checkpoint.KindIoError, ErrNoTx)
	}

	oldBytes, err := j.img.ReadAt(offset, uint32(len(newBytes)))
	if err != nil {
		return err
	}

	j.seq++
	if err := j.appendLog(encodeRecord(j.seq, offset, oldBytes, newBytes, false)); err != nil {
		return err
	}

	j.pending = append(j.pending, pendingWrite{offset: offset, data: append([]byte(nil), newBytes...)})
	return nil
}

// Commit writes a commit marker, flushes the log, applies every staged
// write to the image, flushes the image, then truncates the log back to
// zero length. This exact ordering is what makes a crash at any point
// recoverable by ReplayOnOpen.
func (j *Journal) Commit() error {
	if !j.open {
		return checkpoint.FromKind(checkpoint.KindIoError, ErrNoTx)
	}

	j.seq++
	if err := j.appendLog(encodeRecord(j.seq, 0, nil, nil, true)); err != nil {
		return err
	}
	if err := j.syncLog(); err != nil {
		return err
	}

	for _, w := range j.pending {
		if err := j.img.WriteAt(w.offset, w.data); err != nil {
			return err
		}
	}
	if err := j.img.Flush(); err != nil {
		return err
	}

	if err := j.truncateLog(); err != nil {
		return err
	}

	j.open = false
	j.pending = nil
	return nil
}

// Abort discards every record appended since Begin, leaving the image
// untouched (Stage never writes to the image, only the log).
func (j *Journal) Abort() error {
	if !j.open {
		return checkpoint.FromKind(checkpoint.KindIoError, ErrNoTx)
	}

	if err := j.file.Truncate(j.txStart); err != nil {
		return checkpoint.WithKind(err, checkpoint.KindIoError, ErrTruncateLog)
	}

	j.open = false
	j.pending = nil
	return nil
}

// ReplayOnOpen scans the log for committed-but-unapplied transactions and
// re-applies them to the image, then truncates the log. Any trailing
// records that never reached a commit marker are discarded. A record that
// fully decodes but fails its checksum is reported as CorruptJournal and
// replay stops immediately without touching the image any further.
func (j *Journal) ReplayOnOpen() error {
	info, err := j.file.Stat()
	if err != nil {
		return checkpoint.WithKind(err, checkpoint.KindIoError, ErrStatLog)
	}
	if info.Size() == 0 {
		return nil
	}

	data := make([]byte, info.Size())
	if _, err := j.file.ReadAt(data, 0); err != nil && err != io.EOF {
		return checkpoint.WithKind(err, checkpoint.KindIoError, ErrReadLog)
	}

	records, err := decodeRecords(data)
	if err != nil {
		return checkpoint.WithKind(err, checkpoint.KindCorruptJournal, ErrChecksumFailed)
	}

	var batch []pendingWrite
	applied := false
	for _, r := range records {
		if r.commit {
			for _, w := range batch {
				if err := j.img.WriteAt(w.offset, w.data); err != nil {
					return err
				}
				applied = true
			}
			batch = nil
			continue
		}
		batch = append(batch, pendingWrite{offset: r.offset, data: r.newBytes})
	}
	// batch left over here belongs to a transaction that never committed;
	// it is discarded, matching replay_on_open's contract.

	if applied {
		if err := j.img.Flush(); err != nil {
			return err
		}
	}

	return j.truncateLog()
}

// Close releases the log file handle. It does not flush or truncate: a
// clean shutdown is expected to have no open transaction and an
// already-empty log.
func (j *Journal) Close() error {
	if err := j.file.Close(); err != nil {
		return checkpoint.WithKind(err, checkpoint.KindIoError, ErrCloseLog)
	}
	return nil
}

func (j *Journal) appendLog(record []byte) error {
	info, err := j.file.Stat()
	if err != nil {
		return checkpoint.WithKind(err, checkpoint.KindIoError, ErrStatLog)
	}
	if _, err := j.file.WriteAt(record, info.Size()); err != nil {
		return checkpoint.WithKind(err, checkpoint.KindIoError, ErrWriteLog)
	}
	return nil
}

func (j *Journal) syncLog() error {
	if err := j.file.Sync(); err != nil {
		return checkpoint.WithKind(err, checkpoint.KindIoError, ErrSyncLog)
	}
	return nil
}

func (j *Journal) truncateLog() error {
	if err := j.file.Truncate(0); err != nil {
		return checkpoint.WithKind(err, checkpoint.KindIoError, ErrTruncateLog)
	}
	return nil
}
