package volume

import "errors"

var (
	ErrPoisoned            = errors.New("volume: volume is poisoned after a prior I/O failure")
	ErrLockBusy            = errors.New("volume: image is locked by another process")
	ErrCorruptChainCycle   = errors.New("volume: cluster chain exceeds the data cluster count")
	ErrCorruptChainLink    = errors.New("volume: cluster chain references a bad or unallocated cluster")
	ErrFixedRootImmovable  = errors.New("volume: the FAT12/FAT16 root directory occupies a fixed region and cannot be relocated")
	ErrNoSpace             = errors.New("volume: no contiguous run of free clusters available")
	ErrNotFound            = errors.New("volume: path not found")
	ErrIsDirectory         = errors.New("volume: is a directory")
	ErrShortDirEntryDecode = errors.New("volume: could not decode short directory entry")
	ErrSeekOutOfRange      = errors.New("volume: seek offset out of range")
	ErrDirectoryFull       = errors.New("volume: directory has no free entry slot")
	ErrInvalidShortName    = errors.New("volume: name is not a valid 8.3 short name")
	ErrNoSecondFAT         = errors.New("volume: volume has only one FAT table")
)
