package volume

import (
	"strings"

	"github.com/ninnikukawaii/Defrag/checkpoint"
	"github.com/ninnikukawaii/Defrag/fatfs/codec"
)

// CreateFile allocates a fresh, contiguous run of clusters long enough to
// hold data, writes the chain and the data itself, and appends a new short
// directory entry named name to the directory rooted at parentDirHead. It
// is the allocation counterpart to MoveCluster: everything ErrorCreator and
// the fragment fixtures need a new file for goes through here rather than
// poking the FAT directly. It does not grow a directory that has run out
// of free entry slots.
func (v *Volume) CreateFile(parentDirHead uint32, name string, data []byte, attr byte) (File, error) {
	if err := v.checkPoisoned(); err != nil {
		return File{}, err
	}

	rawName, err := encodeShortName(name)
	if err != nil {
		return File{}, err
	}

	bpc := v.bp.BytesPerCluster()
	clusterCount := uint32((len(data) + int(bpc) - 1) / int(bpc))
	if clusterCount == 0 {
		clusterCount = 1
	}

	start, ok := v.free.AllocateContiguous(clusterCount)
	if !ok {
		return File{}, checkpoint.FromKind(checkpoint.KindNoSpace, ErrNoSpace)
	}

	region, err := v.readDirectoryRegion(parentDirHead)
	if err != nil {
		return File{}, err
	}
	slotOff, ok := findFreeSlot(region.data)
	if !ok {
		return File{}, checkpoint.FromKind(checkpoint.KindNoSpace, ErrDirectoryFull)
	}

	entry := codec.DirectoryEntry{RawName: rawName, Attr: attr, FirstCluster: start, FileSize: uint32(len(data))}
	rawEntry, err := codec.EncodeShortEntry(entry)
	if err != nil {
		return File{}, err
	}

	working0 := append([]byte(nil), v.fat0...)
	var working1 []byte
	if v.bp.NumFATs >= 2 {
		working1 = append([]byte(nil), v.fat1...)
	}
	for i := uint32(0); i < clusterCount; i++ {
		next := codec.FatEntry(start + i + 1)
		if i == clusterCount-1 {
			next = codec.EOC(v.bp.Variant)
		}
		if err := codec.WriteFATEntry(working0, start+i, next, v.bp.Variant); err != nil {
			return File{}, err
		}
		if working1 != nil {
			if err := codec.WriteFATEntry(working1, start+i, next, v.bp.Variant); err != nil {
				return File{}, err
			}
		}
	}

	if err := v.jnl.Begin(); err != nil {
		return File{}, v.poison(err)
	}

	for i := uint32(0); i < clusterCount; i++ {
		chunk := make([]byte, bpc)
		lo := int(i) * int(bpc)
		if lo < len(data) {
			copy(chunk, data[lo:min(lo+int(bpc), len(data))])
		}
		if err := v.jnl.Stage(v.bp.ClusterOffset(start+i), chunk); err != nil {
			_ = v.jnl.Abort()
			return File{}, v.poison(err)
		}
	}
	for i := uint32(0); i < clusterCount; i++ {
		if err := v.stageFATEntryBytes(start+i, working0, working1); err != nil {
			_ = v.jnl.Abort()
			return File{}, v.poison(err)
		}
	}

	entryLoc := region.locationFor(slotOff)
	if err := v.jnl.Stage(v.entryBaseOffset(entryLoc), rawEntry); err != nil {
		_ = v.jnl.Abort()
		return File{}, v.poison(err)
	}

	if err := v.jnl.Commit(); err != nil {
		return File{}, v.poison(err)
	}

	v.fat0 = working0
	if working1 != nil {
		v.fat1 = working1
	}
	for i := uint32(0); i < clusterCount; i++ {
		v.free.markAllocated(start + i)
	}

	decoded, err := codec.ParseShortEntry(rawEntry)
	if err != nil {
		return File{}, err
	}
	return File{Entry: decoded, Loc: entryLoc}, nil
}

func findFreeSlot(region []byte) (uint32, bool) {
	for off := uint32(0); off+32 <= uint32(len(region)); off += 32 {
		switch codec.Classify(region[off : off+32]) {
		case codec.EntryEndOfDirectory, codec.EntryDeleted:
			return off, true
		}
	}
	return 0, false
}

func encodeShortName(name string) ([11]byte, error) {
	base, ext, ok := splitShortName(name)
	if !ok {
		return [11]byte{}, checkpoint.FromKind(checkpoint.KindFormatError, ErrInvalidShortName)
	}

	var raw [11]byte
	for i := range raw {
		raw[i] = ' '
	}
	copy(raw[0:8], strings.ToUpper(base))
	copy(raw[8:11], strings.ToUpper(ext))
	return raw, nil
}

func splitShortName(name string) (base, ext string, ok bool) {
	base, ext = name, ""
	if i := strings.IndexByte(name, '.'); i >= 0 {
		base, ext = name[:i], name[i+1:]
	}
	if base == "" || len(base) > 8 || len(ext) > 3 {
		return "", "", false
	}
	return base, ext, true
}
