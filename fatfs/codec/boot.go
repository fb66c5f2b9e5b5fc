// Package codec is the pure encode/decode layer for FAT on-disk structures:
// the boot sector, FAT entries of all three widths, directory entries, and
// long-name entries. Nothing in this package touches an image or a file
// handle; every function takes byte slices in and returns values or byte
// slices out.
package codec

import (
	"encoding/binary"

	"github.com/go-restruct/restruct"
	"github.com/ninnikukawaii/Defrag/checkpoint"
)

// Variant is which of the three FAT widths a volume uses, determined solely
// by data cluster count, never by a field in the boot sector itself.
type Variant int

const (
	FAT12 Variant = iota
	FAT16
	FAT32
)

func (v Variant) String() string {
	switch v {
	case FAT12:
		return "FAT12"
	case FAT16:
		return "FAT16"
	case FAT32:
		return "FAT32"
	default:
		return "unknown"
	}
}

// BitWidth returns how many bits wide one FAT entry is for this variant.
func (v Variant) BitWidth() int {
	switch v {
	case FAT12:
		return 12
	case FAT16:
		return 16
	default:
		return 32
	}
}

// BootParameters holds everything extracted from sector 0, plus the values
// derived from it. It is loaded once at Volume.Open and never mutated.
type BootParameters struct {
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors      uint32
	SectorsPerFAT     uint32
	Variant           Variant

	// RootCluster and FSInfoSector are meaningful only for FAT32; they are
	// zero for FAT12/FAT16, whose root directory is a fixed sector range
	// rather than a cluster chain.
	RootCluster  uint32
	FSInfoSector uint16

	FirstFATSector  uint32
	FirstDataSector uint32
	RootDirSectors  uint32

	DataClusterCount uint32
	FirstDataCluster uint32
	LastDataCluster  uint32
}

// BytesPerCluster is BytesPerSector * SectorsPerCluster.
func (bp *BootParameters) BytesPerCluster() uint32 {
	return uint32(bp.BytesPerSector) * uint32(bp.SectorsPerCluster)
}

// ClusterOffset returns the byte offset of the given data cluster's first
// byte within the image. Cluster numbers below 2 are not data clusters.
func (bp *BootParameters) ClusterOffset(cluster uint32) uint64 {
	sector := bp.FirstDataSector + (cluster-bp.FirstDataCluster)*uint32(bp.SectorsPerCluster)
	return uint64(sector) * uint64(bp.BytesPerSector)
}

// RootDirOffset returns the byte offset of the fixed root-directory region
// on FAT12/FAT16. It is meaningless on FAT32, where the root is a normal
// cluster chain starting at RootCluster.
func (bp *BootParameters) RootDirOffset() uint64 {
	return uint64(bp.FirstFATSector+uint32(bp.NumFATs)*bp.SectorsPerFAT) * uint64(bp.BytesPerSector)
}

type rawBootCommon struct {
	BootJump            [3]byte
	OEMName             [8]byte
	BytesPerSector      uint16
	SectorsPerCluster   uint8
	ReservedSectorCount uint16
	NumFATs             uint8
	RootEntryCount      uint16
	TotalSectors16      uint16
	Media               uint8
	SectorsPerFAT16     uint16
	SectorsPerTrack     uint16
	NumHeads            uint16
	HiddenSectors       uint32
	TotalSectors32      uint32
}

const bootCommonSize = 36

type rawBootExtended32 struct {
	SectorsPerFAT32  uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	Reserved         [12]byte
	DriveNumber      uint8
	Reserved1        uint8
	BootSignature    uint8
	VolumeID         uint32
	VolumeLabel      [11]byte
	FileSystemType   [8]byte
}

// ParseBoot decodes sector 0 of the image into BootParameters. It validates
// the 0xAA55 boot signature and the handful of BPB fields whose values are
// constrained by the FAT specification, and derives the FAT variant purely
// from the resulting data cluster count, per spec.
func ParseBoot(sector0 []byte) (*BootParameters, error) {
	if len(sector0) < 512 {
		return nil, checkpoint.FromKind(checkpoint.KindFormatError, ErrShortBootSector)
	}

	if sector0[510] != 0x55 || sector0[511] != 0xAA {
		return nil, checkpoint.FromKind(checkpoint.KindFormatError, ErrBadSignature)
	}

	var common rawBootCommon
	if err := restruct.Unpack(sector0[:bootCommonSize], binary.LittleEndian, &common); err != nil {
		return nil, checkpoint.WithKind(err, checkpoint.KindFormatError, ErrBadBootSector)
	}

	switch common.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return nil, checkpoint.FromKind(checkpoint.KindFormatError, ErrBadSectorSize)
	}

	if !isPowerOfTwoInRange(common.SectorsPerCluster, 1, 128) {
		return nil, checkpoint.FromKind(checkpoint.KindFormatError, ErrBadSectorsPerCluster)
	}

	if common.NumFATs == 0 {
		return nil, checkpoint.FromKind(checkpoint.KindFormatError, ErrBadNumFATs)
	}

	rootDirSectors := (uint32(common.RootEntryCount)*32 + uint32(common.BytesPerSector) - 1) / uint32(common.BytesPerSector)

	totalSectors := uint32(common.TotalSectors16)
	if totalSectors == 0 {
		totalSectors = common.TotalSectors32
	}
	if totalSectors == 0 {
		return nil, checkpoint.FromKind(checkpoint.KindFormatError, ErrBadTotalSectors)
	}

	var sectorsPerFAT uint32
	var ext32 rawBootExtended32
	isFAT32Layout := common.SectorsPerFAT16 == 0
	if isFAT32Layout {
		if len(sector0) < bootCommonSize+54 {
			return nil, checkpoint.FromKind(checkpoint.KindFormatError, ErrShortBootSector)
		}
		if err := restruct.Unpack(sector0[bootCommonSize:bootCommonSize+54], binary.LittleEndian, &ext32); err != nil {
			return nil, checkpoint.WithKind(err, checkpoint.KindFormatError, ErrBadBootSector)
		}
		sectorsPerFAT = ext32.SectorsPerFAT32
	} else {
		sectorsPerFAT = uint32(common.SectorsPerFAT16)
	}

	if sectorsPerFAT == 0 {
		return nil, checkpoint.FromKind(checkpoint.KindFormatError, ErrBadSectorsPerFAT)
	}

	firstFATSector := uint32(common.ReservedSectorCount)
	totalFATSectors := uint32(common.NumFATs) * sectorsPerFAT
	firstDataSector := firstFATSector + totalFATSectors + rootDirSectors

	if totalSectors <= firstDataSector {
		return nil, checkpoint.FromKind(checkpoint.KindFormatError, ErrBadTotalSectors)
	}

	dataSectors := totalSectors - firstDataSector
	dataClusterCount := dataSectors / uint32(common.SectorsPerCluster)

	variant := variantFromClusterCount(dataClusterCount)

	bp := &BootParameters{
		BytesPerSector:    common.BytesPerSector,
		SectorsPerCluster: common.SectorsPerCluster,
		ReservedSectors:   common.ReservedSectorCount,
		NumFATs:           common.NumFATs,
		RootEntryCount:    common.RootEntryCount,
		TotalSectors:      totalSectors,
		SectorsPerFAT:     sectorsPerFAT,
		Variant:           variant,
		FirstFATSector:    firstFATSector,
		FirstDataSector:   firstDataSector,
		RootDirSectors:    rootDirSectors,
		DataClusterCount:  dataClusterCount,
		FirstDataCluster:  2,
		LastDataCluster:   dataClusterCount + 1,
	}

	if variant == FAT32 {
		if rootDirSectors != 0 {
			return nil, checkpoint.FromKind(checkpoint.KindFormatError, ErrFAT32RootEntryCount)
		}
		bp.RootCluster = ext32.RootCluster
		bp.FSInfoSector = ext32.FSInfoSector
	}

	return bp, nil
}

func variantFromClusterCount(count uint32) Variant {
	switch {
	case count < 4085:
		return FAT12
	case count < 65525:
		return FAT16
	default:
		return FAT32
	}
}

func isPowerOfTwoInRange(v uint8, lo, hi uint8) bool {
	if v < lo || v > hi {
		return false
	}
	return v&(v-1) == 0
}
