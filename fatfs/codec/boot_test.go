package codec

import (
	"encoding/binary"
	"testing"
)

// buildBootSector assembles a minimal, valid 512-byte boot sector for
// tests. Pass sectorsPerFAT16 == 0 to get a FAT32-shaped extended region
// (sectorsPerFAT32/rootCluster are only written in that case).
func buildBootSector(bytesPerSector uint16, sectorsPerCluster uint8, reservedSectors uint16,
	numFATs uint8, rootEntryCount uint16, totalSectors16 uint16, totalSectors32 uint32,
	sectorsPerFAT16 uint16, sectorsPerFAT32 uint32, rootCluster uint32) []byte {

	sector := make([]byte, 512)
	sector[0], sector[1], sector[2] = 0xEB, 0x3C, 0x90
	binary.LittleEndian.PutUint16(sector[11:], bytesPerSector)
	sector[13] = sectorsPerCluster
	binary.LittleEndian.PutUint16(sector[14:], reservedSectors)
	sector[16] = numFATs
	binary.LittleEndian.PutUint16(sector[17:], rootEntryCount)
	binary.LittleEndian.PutUint16(sector[19:], totalSectors16)
	sector[21] = 0xF8
	binary.LittleEndian.PutUint16(sector[22:], sectorsPerFAT16)
	binary.LittleEndian.PutUint32(sector[32:], totalSectors32)

	if sectorsPerFAT16 == 0 {
		binary.LittleEndian.PutUint32(sector[36:], sectorsPerFAT32)
		binary.LittleEndian.PutUint32(sector[44:], rootCluster)
	}

	sector[510], sector[511] = 0x55, 0xAA
	return sector
}

func TestParseBootFAT16(t *testing.T) {
	// 512 bytes/sector, 4 sectors/cluster, 1 reserved, 2 FATs, 512 root
	// entries, small enough total sectors to land in the FAT16 cutoff.
	sector := buildBootSector(512, 4, 1, 2, 512, 20049, 0, 8, 0, 0)

	bp, err := ParseBoot(sector)
	if err != nil {
		t.Fatalf("ParseBoot: %v", err)
	}

	if bp.Variant != FAT16 {
		t.Fatalf("Variant = %v, want FAT16", bp.Variant)
	}
	if bp.BytesPerSector != 512 {
		t.Fatalf("BytesPerSector = %d", bp.BytesPerSector)
	}
	if bp.FirstFATSector != 1 {
		t.Fatalf("FirstFATSector = %d, want 1", bp.FirstFATSector)
	}
	wantRootDirSectors := uint32((512*32 + 511) / 512)
	if bp.RootDirSectors != wantRootDirSectors {
		t.Fatalf("RootDirSectors = %d, want %d", bp.RootDirSectors, wantRootDirSectors)
	}
	wantFirstData := bp.FirstFATSector + uint32(2)*8 + wantRootDirSectors
	if bp.FirstDataSector != wantFirstData {
		t.Fatalf("FirstDataSector = %d, want %d", bp.FirstDataSector, wantFirstData)
	}
}

func TestParseBootFAT32(t *testing.T) {
	// Large enough total sector count to push the data cluster count past
	// the FAT16 cutoff, rootEntryCount == 0 as FAT32 requires.
	sector := buildBootSector(512, 8, 32, 2, 0, 0, 600000, 0, 2000, 2)

	bp, err := ParseBoot(sector)
	if err != nil {
		t.Fatalf("ParseBoot: %v", err)
	}

	if bp.Variant != FAT32 {
		t.Fatalf("Variant = %v, want FAT32", bp.Variant)
	}
	if bp.RootCluster != 2 {
		t.Fatalf("RootCluster = %d, want 2", bp.RootCluster)
	}
	if bp.RootDirSectors != 0 {
		t.Fatalf("RootDirSectors = %d, want 0 on FAT32", bp.RootDirSectors)
	}
}

func TestParseBootRejectsBadSignature(t *testing.T) {
	sector := buildBootSector(512, 4, 1, 2, 512, 8000, 0, 8, 0, 0)
	sector[510] = 0x00

	if _, err := ParseBoot(sector); err == nil {
		t.Fatal("expected FormatError for missing boot signature")
	}
}

func TestParseBootRejectsBadSectorSize(t *testing.T) {
	sector := buildBootSector(300, 4, 1, 2, 512, 8000, 0, 8, 0, 0)

	if _, err := ParseBoot(sector); err == nil {
		t.Fatal("expected FormatError for invalid bytes-per-sector")
	}
}

func TestParseBootRejectsNonPowerOfTwoSectorsPerCluster(t *testing.T) {
	sector := buildBootSector(512, 3, 1, 2, 512, 8000, 0, 8, 0, 0)

	if _, err := ParseBoot(sector); err == nil {
		t.Fatal("expected FormatError for non-power-of-two sectors-per-cluster")
	}
}

func TestParseBootRejectsShortSector(t *testing.T) {
	if _, err := ParseBoot(make([]byte, 100)); err == nil {
		t.Fatal("expected FormatError for short boot sector")
	}
}

func TestParseBootRejectsFAT32WithNonzeroRootEntryCount(t *testing.T) {
	sector := buildBootSector(512, 8, 32, 2, 16, 0, 600000, 0, 2000, 2)

	if _, err := ParseBoot(sector); err == nil {
		t.Fatal("expected FormatError for FAT32 with nonzero root entry count")
	}
}
