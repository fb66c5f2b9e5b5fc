package volume

import (
	"github.com/ninnikukawaii/Defrag/fatfs/codec"
)

// FreeMap is the derived, in-memory allocation state of every data cluster.
// It is rebuilt from the FAT at Open and never persisted: the FAT itself
// remains the single source of truth on disk.
type FreeMap struct {
	free             []bool // indexed by cluster number; 0 and 1 are unused
	firstDataCluster uint32
	lastDataCluster  uint32
}

func buildFreeMap(fat []byte, bp *codec.BootParameters) *FreeMap {
	fm := &FreeMap{
		free:             make([]bool, bp.LastDataCluster+1),
		firstDataCluster: bp.FirstDataCluster,
		lastDataCluster:  bp.LastDataCluster,
	}

	for c := bp.FirstDataCluster; c <= bp.LastDataCluster; c++ {
		entry, err := codec.ReadFATEntry(fat, c, bp.Variant)
		if err != nil {
			continue
		}
		fm.free[c] = entry.IsFree()
	}

	return fm
}

// IsFree reports whether cluster c is currently unallocated.
func (fm *FreeMap) IsFree(c uint32) bool {
	if c < fm.firstDataCluster || c > fm.lastDataCluster {
		return false
	}
	return fm.free[c]
}

func (fm *FreeMap) markFree(c uint32) {
	if c >= fm.firstDataCluster && c <= fm.lastDataCluster {
		fm.free[c] = true
	}
}

func (fm *FreeMap) markAllocated(c uint32) {
	if c >= fm.firstDataCluster && c <= fm.lastDataCluster {
		fm.free[c] = false
	}
}

// FreeCount returns how many data clusters are currently unallocated.
func (fm *FreeMap) FreeCount() uint32 {
	var n uint32
	for c := fm.firstDataCluster; c <= fm.lastDataCluster; c++ {
		if fm.free[c] {
			n++
		}
	}
	return n
}

// LowestFree returns the lowest-numbered free cluster, if any.
func (fm *FreeMap) LowestFree() (uint32, bool) {
	for c := fm.firstDataCluster; c <= fm.lastDataCluster; c++ {
		if fm.free[c] {
			return c, true
		}
	}
	return 0, false
}

// LastDataCluster returns the highest valid data cluster number.
func (fm *FreeMap) LastDataCluster() uint32 { return fm.lastDataCluster }

// FirstDataCluster returns the lowest valid data cluster number.
func (fm *FreeMap) FirstDataCluster() uint32 { return fm.firstDataCluster }

// AllocateContiguous finds the lowest-numbered run of n consecutive free
// clusters without reserving them; callers reserve each cluster themselves
// as they actually move data into it via MoveCluster.
func (fm *FreeMap) AllocateContiguous(n uint32) (start uint32, ok bool) {
	if n == 0 {
		return 0, false
	}

	run := uint32(0)
	for c := fm.firstDataCluster; c <= fm.lastDataCluster; c++ {
		if fm.free[c] {
			run++
			if run == n {
				return c - n + 1, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}
