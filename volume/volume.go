// Package volume is the mutable view of one FAT12/16/32 image: boot sector,
// both FAT copies, the derived free-cluster map, and the journal that makes
// every mutation crash-safe. Everything above this package (the relocator,
// the fragmentator, the CLI) drives the volume through MoveCluster,
// WalkDirectory and UpdateDirEntry rather than touching the image directly.
package volume

import (
	"os"

	"github.com/ninnikukawaii/Defrag/checkpoint"
	"github.com/ninnikukawaii/Defrag/fatfs/codec"
	"github.com/ninnikukawaii/Defrag/imageio"
	"github.com/ninnikukawaii/Defrag/internal/xlog"
	"github.com/ninnikukawaii/Defrag/journal"
	"github.com/spf13/afero"
)

// Options controls how Open behaves.
type Options struct {
	// JournalSuffix names the sibling log file, image path + suffix.
	JournalSuffix string
	// SkipLock disables the advisory exclusive lock, for callers that have
	// already arranged exclusivity themselves (tests, mostly).
	SkipLock bool
	// PreferredTable selects which FAT copy (0 or 1) Open treats as
	// authoritative when the two disagree; the other is rewritten to
	// match in the same transaction. Defaults to 0.
	PreferredTable int
}

func (o Options) journalSuffix() string {
	if o.JournalSuffix == "" {
		return ".jrnl"
	}
	return o.JournalSuffix
}

// Volume is one open image. It is not safe for concurrent use: the journal
// underneath it has no notion of overlapping transactions.
type Volume struct {
	fs   afero.Fs
	path string

	img *imageio.Image
	jnl *journal.Journal
	lck *lock

	bp   *codec.BootParameters
	fat0 []byte
	fat1 []byte

	free *FreeMap

	poisoned error
}

// Open opens the image at path, replays any crash-interrupted journal,
// parses the boot sector, reconciles the two FAT copies if they disagree,
// and builds the in-memory free-cluster map.
func Open(fs afero.Fs, path string, opts Options) (*Volume, error) {
	img, err := imageio.Open(fs, path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	lck, err := acquireLock(fs, path, opts.SkipLock)
	if err != nil {
		_ = img.Close()
		return nil, err
	}

	jnl, err := journal.Open(fs, img, path+opts.journalSuffix())
	if err != nil {
		_ = lck.release()
		_ = img.Close()
		return nil, err
	}

	if err := jnl.ReplayOnOpen(); err != nil {
		_ = jnl.Close()
		_ = lck.release()
		_ = img.Close()
		return nil, err
	}

	v := &Volume{fs: fs, path: path, img: img, jnl: jnl, lck: lck}

	if err := v.loadBootAndFATs(opts.PreferredTable); err != nil {
		_ = jnl.Close()
		_ = lck.release()
		_ = img.Close()
		return nil, err
	}

	v.free = buildFreeMap(v.fat0, v.bp)

	return v, nil
}

func (v *Volume) loadBootAndFATs(preferredTable int) error {
	sector0, err := v.img.ReadAt(0, 512)
	if err != nil {
		return err
	}

	bp, err := codec.ParseBoot(sector0)
	if err != nil {
		return err
	}
	v.bp = bp

	fatSize := bp.SectorsPerFAT * uint32(bp.BytesPerSector)
	fat0Off := uint64(bp.FirstFATSector) * uint64(bp.BytesPerSector)
	fat0, err := v.img.ReadAt(fat0Off, fatSize)
	if err != nil {
		return err
	}
	v.fat0 = fat0

	if bp.NumFATs < 2 {
		return nil
	}

	fat1Off := fat0Off + uint64(fatSize)
	fat1, err := v.img.ReadAt(fat1Off, fatSize)
	if err != nil {
		return err
	}
	v.fat1 = fat1

	if !bytesEqual(v.fat0, v.fat1) {
		xlog.Get().Warnf("volume: FAT copies disagree on %s, preferring table #%d", v.path, preferredTable)
		if err := v.reconcileFATs(fat0Off, fat1Off, fatSize, preferredTable); err != nil {
			return err
		}
	}

	return nil
}

// reconcileFATs overwrites the losing FAT copy with the winning one, per
// the resolution that a disagreement between copies always favors
// preferredTable (FAT#0 unless the caller overrode it): that is the copy
// every FAT implementation reads for allocation, so the other is always
// the stale one in practice.
func (v *Volume) reconcileFATs(fat0Off, fat1Off uint64, fatSize uint32, preferredTable int) error {
	loserOff := fat0Off
	winner := v.fat1
	if preferredTable != 1 {
		loserOff = fat1Off
		winner = v.fat0
	}

	if err := v.jnl.Begin(); err != nil {
		return v.poison(err)
	}
	if err := v.jnl.Stage(loserOff, winner); err != nil {
		_ = v.jnl.Abort()
		return v.poison(err)
	}
	if err := v.jnl.Commit(); err != nil {
		return v.poison(err)
	}

	copied := append([]byte(nil), winner...)
	if preferredTable == 1 {
		v.fat0 = copied
	} else {
		v.fat1 = copied
	}
	return nil
}

// Boot returns the parsed boot parameters. The returned pointer must not be
// mutated by callers.
func (v *Volume) Boot() *codec.BootParameters {
	return v.bp
}

// FreeMap returns the volume's free-cluster map.
func (v *Volume) FreeMap() *FreeMap {
	return v.free
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// poison marks the volume unusable after an I/O failure mid-transaction, the
// only situation where the in-memory FAT/FreeMap state might now disagree
// with what is actually on disk. Every subsequent call returns ErrPoisoned
// until the volume is closed and reopened.
func (v *Volume) poison(err error) error {
	v.poisoned = err
	return err
}

func (v *Volume) checkPoisoned() error {
	if v.poisoned != nil {
		return checkpoint.WithKind(v.poisoned, checkpoint.KindIoError, ErrPoisoned)
	}
	return nil
}

// Close releases the journal and image handles and the advisory lock. The
// journal is neither flushed nor truncated here, since every mutating call
// already commits (and truncates) its own transaction; closing the image
// handle flushes the image.
func (v *Volume) Close() error {
	jerr := v.jnl.Close()
	lerr := v.lck.release()
	ierr := v.img.Close()

	if jerr != nil {
		return jerr
	}
	if lerr != nil {
		return lerr
	}
	return ierr
}
