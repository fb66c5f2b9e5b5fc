package volume

import (
	"github.com/ninnikukawaii/Defrag/checkpoint"
	"github.com/ninnikukawaii/Defrag/fatfs/codec"
	"github.com/ninnikukawaii/Defrag/internal/xlog"
)

// DirEntryLocation pins down exactly where a short directory entry lives,
// so a later UpdateDirEntry can patch its first-cluster field in place
// without re-walking the directory. Cluster 0 is the sentinel for the fixed
// FAT12/FAT16 root region, which is not a cluster chain at all.
type DirEntryLocation struct {
	Cluster        uint32
	OffsetInRegion uint32
}

// File is one directory entry as seen by WalkDirectory: its decoded short
// entry, the long name assembled from the fragments that preceded it (if
// any and if they checksum-matched), and where to find it again.
type File struct {
	Entry    codec.DirectoryEntry
	LongName string
	Loc      DirEntryLocation
}

// RootDirHead returns the cluster number WalkDirectory should start from
// for the volume's root directory: BootParameters.RootCluster on FAT32, or
// 0 (the fixed-region sentinel) on FAT12/FAT16.
func (v *Volume) RootDirHead() uint32 {
	if v.bp.Variant == codec.FAT32 {
		return v.bp.RootCluster
	}
	return 0
}

// WalkDirectory decodes every entry in the directory rooted at dirHead (as
// returned by RootDirHead, or a subdirectory's DirectoryEntry.FirstCluster)
// and returns the short entries in on-disk order, each with its long name
// reassembled if present. A long-name run whose checksum does not match the
// short entry it precedes is left unattached (LongName is "") and logged,
// rather than discarded, per the policy of trusting the short name alone
// when the long name cannot be verified.
func (v *Volume) WalkDirectory(dirHead uint32) ([]File, error) {
	if err := v.checkPoisoned(); err != nil {
		return nil, err
	}

	region, err := v.readDirectoryRegion(dirHead)
	if err != nil {
		return nil, err
	}

	var (
		files   []File
		pending []codec.LongNameEntry
	)

	for off := uint32(0); off+32 <= uint32(len(region.data)); off += 32 {
		raw := region.data[off : off+32]

		switch codec.Classify(raw) {
		case codec.EntryEndOfDirectory:
			return files, nil

		case codec.EntryDeleted:
			pending = nil
			continue

		case codec.EntryLongName:
			frag, err := codec.ParseLongNameEntry(raw)
			if err != nil {
				xlog.Get().Warnf("volume: skipping unparsable long-name fragment at offset %d", off)
				continue
			}
			pending = append(pending, frag)

		case codec.EntryShort:
			entry, err := codec.ParseShortEntry(raw)
			if err != nil {
				return nil, checkpoint.WithKind(err, checkpoint.KindFormatError, ErrShortDirEntryDecode)
			}

			longName := ""
			if len(pending) > 0 {
				longName = assembleChecked(entry, pending)
				if longName == "" {
					xlog.Get().Warnf("volume: orphaned long-name fragments before %q, leaving short name as-is", entry.ShortName)
				}
			}
			pending = nil

			loc := region.locationFor(off)
			files = append(files, File{Entry: entry, LongName: longName, Loc: loc})
		}
	}

	return files, nil
}

// assembleChecked reverses the on-disk descending-order fragments into
// ascending order and verifies the checksum before assembling the name.
func assembleChecked(short codec.DirectoryEntry, fragments []codec.LongNameEntry) string {
	want := codec.ShortNameChecksum(short.RawName)
	for _, f := range fragments {
		if f.Checksum != want {
			return ""
		}
	}

	ordered := make([]codec.LongNameEntry, len(fragments))
	for i, f := range fragments {
		ordered[len(fragments)-1-i] = f
	}
	return codec.AssembleLongName(ordered)
}

// dirRegion is a directory's contents read into one contiguous buffer,
// plus enough bookkeeping to translate a byte offset within the buffer
// back into a DirEntryLocation for UpdateDirEntry.
type dirRegion struct {
	data     []byte
	fixed    bool   // true for the FAT12/FAT16 fixed root region
	baseOff  uint64 // byte offset of data[0] within the fixed region
	clusters []uint32
	bpc      uint32 // bytes per cluster, for locationFor's arithmetic
}

func (r dirRegion) locationFor(off uint32) DirEntryLocation {
	if r.fixed {
		return DirEntryLocation{Cluster: 0, OffsetInRegion: off}
	}
	clusterIdx := off / r.bpc
	return DirEntryLocation{Cluster: r.clusters[clusterIdx], OffsetInRegion: off % r.bpc}
}

func (v *Volume) readDirectoryRegion(dirHead uint32) (dirRegion, error) {
	if dirHead == 0 && v.bp.Variant != codec.FAT32 {
		data, err := v.img.ReadAt(v.bp.RootDirOffset(), v.bp.RootDirSectors*uint32(v.bp.BytesPerSector))
		if err != nil {
			return dirRegion{}, err
		}
		return dirRegion{data: data, fixed: true, baseOff: v.bp.RootDirOffset()}, nil
	}

	clusters, err := v.ReadChain(dirHead)
	if err != nil {
		return dirRegion{}, err
	}

	bpc := v.bp.BytesPerCluster()
	data := make([]byte, 0, int(bpc)*len(clusters))
	for _, c := range clusters {
		chunk, err := v.img.ReadAt(v.bp.ClusterOffset(c), bpc)
		if err != nil {
			return dirRegion{}, err
		}
		data = append(data, chunk...)
	}

	return dirRegion{data: data, clusters: clusters, bpc: bpc}, nil
}

// UpdateDirEntry patches a short entry's first-cluster field in place: a
// two-field write (high uint16, low uint16) rather than a full entry
// rewrite, matching how little of the entry actually changes when a file's
// first cluster moves.
func (v *Volume) UpdateDirEntry(loc DirEntryLocation, newFirstCluster uint32) error {
	if err := v.checkPoisoned(); err != nil {
		return err
	}

	base := v.entryBaseOffset(loc)

	hi := make([]byte, 2)
	lo := make([]byte, 2)
	putUint16(hi, uint16(newFirstCluster>>16))
	putUint16(lo, uint16(newFirstCluster))

	if err := v.jnl.Begin(); err != nil {
		return v.poison(err)
	}
	if err := v.jnl.Stage(base+20, hi); err != nil {
		_ = v.jnl.Abort()
		return v.poison(err)
	}
	if err := v.jnl.Stage(base+26, lo); err != nil {
		_ = v.jnl.Abort()
		return v.poison(err)
	}
	if err := v.jnl.Commit(); err != nil {
		return v.poison(err)
	}
	return nil
}

func (v *Volume) entryBaseOffset(loc DirEntryLocation) uint64 {
	if loc.Cluster == 0 {
		return v.bp.RootDirOffset() + uint64(loc.OffsetInRegion)
	}
	return v.bp.ClusterOffset(loc.Cluster) + uint64(loc.OffsetInRegion)
}

// UpdateRootCluster patches the BPB's RootCluster field, the FAT32-only
// path for relocating the root directory: FAT32's root has no owning
// directory entry, its first cluster lives in the boot sector itself.
func (v *Volume) UpdateRootCluster(newCluster uint32) error {
	if err := v.checkPoisoned(); err != nil {
		return err
	}
	if v.bp.Variant != codec.FAT32 {
		return checkpoint.FromKind(checkpoint.KindFormatError, ErrFixedRootImmovable)
	}

	buf := make([]byte, 4)
	putUint32(buf, newCluster)

	if err := v.jnl.Begin(); err != nil {
		return v.poison(err)
	}
	if err := v.jnl.Stage(44, buf); err != nil {
		_ = v.jnl.Abort()
		return v.poison(err)
	}
	if err := v.jnl.Commit(); err != nil {
		return v.poison(err)
	}

	v.bp.RootCluster = newCluster
	return nil
}

func putUint16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
