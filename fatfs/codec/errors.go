package codec

import "errors"

var (
	ErrShortBootSector     = errors.New("codec: boot sector shorter than 512 bytes")
	ErrBadSignature        = errors.New("codec: missing 0xAA55 boot signature")
	ErrBadBootSector       = errors.New("codec: malformed boot sector")
	ErrBadSectorSize       = errors.New("codec: bytes-per-sector must be 512, 1024, 2048 or 4096")
	ErrBadSectorsPerCluster = errors.New("codec: sectors-per-cluster must be a power of two in [1,128]")
	ErrBadNumFATs           = errors.New("codec: number of FATs must be at least 1")
	ErrBadTotalSectors      = errors.New("codec: total sector count is inconsistent with the image")
	ErrBadSectorsPerFAT     = errors.New("codec: sectors-per-FAT is zero")
	ErrFAT32RootEntryCount  = errors.New("codec: FAT32 volume must have a zero root entry count")

	ErrEntryOutOfRange = errors.New("codec: FAT entry index out of range")
	ErrShortDirEntry   = errors.New("codec: directory entry shorter than 32 bytes")
)
