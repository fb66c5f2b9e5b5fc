package volume

import (
	"github.com/ninnikukawaii/Defrag/checkpoint"
	"github.com/ninnikukawaii/Defrag/fatfs/codec"
)

// ReadChain walks the FAT starting at head and returns every cluster number
// in order. head == 0 denotes a zero-length file (no clusters) and returns
// nil. A chain whose length would exceed the total number of data clusters
// is reported as ErrCorruptChainCycle rather than looped forever; a mid-
// chain entry that is free, reserved or bad is ErrCorruptChainLink.
func (v *Volume) ReadChain(head uint32) ([]uint32, error) {
	if err := v.checkPoisoned(); err != nil {
		return nil, err
	}
	if head == 0 {
		return nil, nil
	}

	limit := v.bp.DataClusterCount + 1
	chain := make([]uint32, 0, 8)
	cur := head

	for {
		chain = append(chain, cur)
		if uint32(len(chain)) > limit {
			return nil, checkpoint.FromKind(checkpoint.KindCorruptChain, ErrCorruptChainCycle)
		}

		entry, err := codec.ReadFATEntry(v.fat0, cur, v.bp.Variant)
		if err != nil {
			return nil, checkpoint.WithKind(err, checkpoint.KindCorruptChain, ErrCorruptChainLink)
		}

		if entry.IsEOC(v.bp.Variant) {
			return chain, nil
		}
		if !entry.IsAllocated(v.bp.Variant) {
			return nil, checkpoint.FromKind(checkpoint.KindCorruptChain, ErrCorruptChainLink)
		}

		cur = uint32(entry)
	}
}

// MoveCluster relocates the contents of cluster src to cluster dst, which
// must currently be free, and relinks the chain around it in a single
// transaction spanning both FAT copies. predecessor is the cluster whose
// FAT entry currently points at src, or 0 if src is a chain head; when 0,
// the caller is responsible for patching the owning directory entry (or, on
// FAT32, the BPB root cluster) to point at dst afterward via UpdateDirEntry
// or UpdateRootCluster.
//
// All three FAT entries touched by a move (dst, src, and predecessor) are
// first applied to an in-memory scratch copy of each FAT table, and the
// journal is staged from that single consistent scratch rather than from
// three independently-recomputed copies. FAT12 packs two entries per three
// bytes, so adjacent cluster numbers can share a byte; staging from a
// shared scratch guarantees both writes agree on that byte's final value
// regardless of the order Commit applies them in.
func (v *Volume) MoveCluster(src, dst, predecessor uint32) error {
	if err := v.checkPoisoned(); err != nil {
		return err
	}

	next, err := codec.ReadFATEntry(v.fat0, src, v.bp.Variant)
	if err != nil {
		return checkpoint.WithKind(err, checkpoint.KindCorruptChain, ErrCorruptChainLink)
	}

	data, err := v.img.ReadAt(v.bp.ClusterOffset(src), v.bp.BytesPerCluster())
	if err != nil {
		return err
	}

	working0 := append([]byte(nil), v.fat0...)
	var working1 []byte
	if v.bp.NumFATs >= 2 {
		working1 = append([]byte(nil), v.fat1...)
	}

	touched := []struct {
		idx   uint32
		value codec.FatEntry
	}{
		{dst, next},
		{src, codec.FatEntry(0)},
	}
	if predecessor != 0 {
		touched = append(touched, struct {
			idx   uint32
			value codec.FatEntry
		}{predecessor, codec.FatEntry(dst)})
	}

	for _, t := range touched {
		if err := codec.WriteFATEntry(working0, t.idx, t.value, v.bp.Variant); err != nil {
			return err
		}
		if working1 != nil {
			if err := codec.WriteFATEntry(working1, t.idx, t.value, v.bp.Variant); err != nil {
				return err
			}
		}
	}

	if err := v.jnl.Begin(); err != nil {
		return v.poison(err)
	}

	if err := v.jnl.Stage(v.bp.ClusterOffset(dst), data); err != nil {
		_ = v.jnl.Abort()
		return v.poison(err)
	}

	for _, t := range touched {
		if err := v.stageFATEntryBytes(t.idx, working0, working1); err != nil {
			_ = v.jnl.Abort()
			return v.poison(err)
		}
	}

	if err := v.jnl.Commit(); err != nil {
		return v.poison(err)
	}

	v.fat0 = working0
	if working1 != nil {
		v.fat1 = working1
	}
	v.free.markAllocated(dst)
	v.free.markFree(src)

	return nil
}

// stageFATEntryBytes stages the byte range covering cluster idx's FAT
// entry out of the already-finalized scratch buffers working0/working1,
// into both FAT copies at their respective offsets.
func (v *Volume) stageFATEntryBytes(idx uint32, working0, working1 []byte) error {
	relOff, length := v.fatEntryByteOffsetInTable(idx)
	base0 := v.fat0Offset()

	if err := v.jnl.Stage(base0+relOff, working0[relOff:relOff+length]); err != nil {
		return err
	}
	if working1 == nil {
		return nil
	}

	base1 := base0 + uint64(v.bp.SectorsPerFAT)*uint64(v.bp.BytesPerSector)
	return v.jnl.Stage(base1+relOff, working1[relOff:relOff+length])
}

// fatEntryByteOffsetInTable returns the byte offset (relative to the start
// of one FAT table) and byte length spanned by cluster idx's entry.
func (v *Volume) fatEntryByteOffsetInTable(idx uint32) (offset, length uint64) {
	switch v.bp.Variant {
	case codec.FAT12:
		byteIdx := idx + idx/2
		return uint64(byteIdx), 2
	case codec.FAT16:
		return uint64(idx) * 2, 2
	default:
		return uint64(idx) * 4, 4
	}
}

func (v *Volume) fat0Offset() uint64 {
	return uint64(v.bp.FirstFATSector) * uint64(v.bp.BytesPerSector)
}

// ReadFATEntryInTable reads cluster's entry out of FAT table 0 or 1
// specifically, rather than the table-0-is-authoritative view ReadChain
// uses. It exists so a caller inspecting a deliberately corrupted volume
// can see the two tables disagree instead of only ever seeing table 0.
func (v *Volume) ReadFATEntryInTable(table int, cluster uint32) (codec.FatEntry, error) {
	if err := v.checkPoisoned(); err != nil {
		return 0, err
	}

	working := v.fat0
	if table == 1 {
		if v.fat1 == nil {
			return 0, checkpoint.FromKind(checkpoint.KindFormatError, ErrNoSecondFAT)
		}
		working = v.fat1
	}
	return codec.ReadFATEntry(working, cluster, v.bp.Variant)
}

// WriteFATEntryInTable writes value into FAT table 0 or 1 only, bypassing
// the invariant every other mutating call keeps: that both copies always
// agree. It exists for ErrorCreator's single-table corruption fixture.
func (v *Volume) WriteFATEntryInTable(table int, cluster uint32, value codec.FatEntry) error {
	if err := v.checkPoisoned(); err != nil {
		return err
	}

	working := v.fat0
	if table == 1 {
		if v.fat1 == nil {
			return checkpoint.FromKind(checkpoint.KindFormatError, ErrNoSecondFAT)
		}
		working = v.fat1
	}

	scratch := append([]byte(nil), working...)
	if err := codec.WriteFATEntry(scratch, cluster, value, v.bp.Variant); err != nil {
		return err
	}

	relOff, length := v.fatEntryByteOffsetInTable(cluster)
	base := v.fat0Offset()
	if table == 1 {
		base += uint64(v.bp.SectorsPerFAT) * uint64(v.bp.BytesPerSector)
	}

	if err := v.jnl.Begin(); err != nil {
		return v.poison(err)
	}
	if err := v.jnl.Stage(base+relOff, scratch[relOff:relOff+length]); err != nil {
		_ = v.jnl.Abort()
		return v.poison(err)
	}
	if err := v.jnl.Commit(); err != nil {
		return v.poison(err)
	}

	if table == 1 {
		v.fat1 = scratch
	} else {
		v.fat0 = scratch
	}
	return nil
}

// WriteFATEntryBothTables writes value into every FAT copy the volume has,
// for ErrorCreator's bad-cluster and self-loop fixtures, which must corrupt
// a cluster consistently across both tables to be reproducible regardless
// of which table a reader trusts.
func (v *Volume) WriteFATEntryBothTables(cluster uint32, value codec.FatEntry) error {
	if err := v.WriteFATEntryInTable(0, cluster, value); err != nil {
		return err
	}
	if v.fat1 == nil {
		return nil
	}
	return v.WriteFATEntryInTable(1, cluster, value)
}
