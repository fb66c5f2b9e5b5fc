package relocator

import (
	"testing"
	"time"

	"github.com/ninnikukawaii/Defrag/fatfs/codec"
	"github.com/ninnikukawaii/Defrag/volume"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// buildFragmentedImage assembles a FAT12 image with three top-level entries
// (FILE1.TXT fragmented across clusters 2 and 10, FILE2.TXT a single
// already-contiguous cluster at 5, and SUBDIR fragmented across clusters 6
// and 25) and one nested directory SUBSUB at cluster 12 whose ".." entry
// points at SUBDIR's original head, so a defragmentation pass exercises
// both the ordinary move path and the directory-link fixups.
func buildFragmentedImage(t *testing.T) afero.Fs {
	t.Helper()

	const (
		bytesPerSector    = 512
		sectorsPerCluster = 1
		reservedSectors   = 1
		numFATs           = 2
		rootEntryCount    = 16
		sectorsPerFAT     = 1
		totalSectors      = 32
	)

	image := make([]byte, totalSectors*bytesPerSector)

	putU16 := func(off int, v uint16) { image[off], image[off+1] = byte(v), byte(v>>8) }
	putU32 := func(off int, v uint32) {
		image[off] = byte(v)
		image[off+1] = byte(v >> 8)
		image[off+2] = byte(v >> 16)
		image[off+3] = byte(v >> 24)
	}
	image[0], image[1], image[2] = 0xEB, 0x3C, 0x90
	putU16(11, bytesPerSector)
	image[13] = sectorsPerCluster
	putU16(14, reservedSectors)
	image[16] = numFATs
	putU16(17, rootEntryCount)
	putU16(19, totalSectors)
	image[21] = 0xF8
	putU16(22, sectorsPerFAT)
	putU32(32, 0)
	image[510], image[511] = 0x55, 0xAA

	fat0Off := reservedSectors * bytesPerSector
	fat1Off := fat0Off + sectorsPerFAT*bytesPerSector
	rootOff := fat1Off + sectorsPerFAT*bytesPerSector

	fat := make([]byte, sectorsPerFAT*bytesPerSector)
	write := func(idx uint32, v codec.FatEntry) {
		require.NoError(t, codec.WriteFATEntry(fat, idx, v, codec.FAT12))
	}
	write(2, codec.FatEntry(10))
	write(10, codec.EOC(codec.FAT12))
	write(5, codec.EOC(codec.FAT12))
	write(6, codec.FatEntry(25))
	write(25, codec.EOC(codec.FAT12))
	write(12, codec.EOC(codec.FAT12))
	copy(image[fat0Off:], fat)
	copy(image[fat1Off:], fat)

	clusterOff := func(c uint32) int {
		sector := 4 + int(c-2) // firstDataSector=4, sectorsPerCluster=1
		return sector * bytesPerSector
	}

	shortName := func(name string) [11]byte {
		var raw [11]byte
		for i := range raw {
			raw[i] = ' '
		}
		copy(raw[:], name)
		return raw
	}

	putEntry := func(region []byte, slot int, e codec.DirectoryEntry) {
		raw, err := codec.EncodeShortEntry(e)
		require.NoError(t, err)
		copy(region[slot*32:], raw)
	}

	wt := time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC)

	// Root directory (fixed region): FILE1.TXT, FILE2.TXT, SUBDIR.
	root := make([]byte, bytesPerSector)
	putEntry(root, 0, codec.DirectoryEntry{
		RawName: shortName("FILE1   TXT"), Attr: 0,
		FirstCluster: 2, FileSize: 1024, WriteTime: wt,
	})
	putEntry(root, 1, codec.DirectoryEntry{
		RawName: shortName("FILE2   TXT"), Attr: 0,
		FirstCluster: 5, FileSize: 100, WriteTime: wt,
	})
	putEntry(root, 2, codec.DirectoryEntry{
		RawName: shortName("SUBDIR     "), Attr: codec.AttrDirectory,
		FirstCluster: 6, FileSize: 0, WriteTime: wt,
	})
	copy(image[rootOff:], root)

	// SUBDIR's own data, in cluster 6: ".", "..", "SUBSUB".
	subdir := make([]byte, bytesPerSector)
	putEntry(subdir, 0, codec.DirectoryEntry{
		RawName: shortName(".          "), Attr: codec.AttrDirectory,
		FirstCluster: 6, WriteTime: wt,
	})
	putEntry(subdir, 1, codec.DirectoryEntry{
		RawName: shortName("..         "), Attr: codec.AttrDirectory,
		FirstCluster: 0, WriteTime: wt,
	})
	putEntry(subdir, 2, codec.DirectoryEntry{
		RawName: shortName("SUBSUB     "), Attr: codec.AttrDirectory,
		FirstCluster: 12, WriteTime: wt,
	})
	copy(image[clusterOff(6):], subdir)

	// SUBSUB's own data, in cluster 12: ".", "..".
	subsub := make([]byte, bytesPerSector)
	putEntry(subsub, 0, codec.DirectoryEntry{
		RawName: shortName(".          "), Attr: codec.AttrDirectory,
		FirstCluster: 12, WriteTime: wt,
	})
	putEntry(subsub, 1, codec.DirectoryEntry{
		RawName: shortName("..         "), Attr: codec.AttrDirectory,
		FirstCluster: 6, WriteTime: wt,
	})
	copy(image[clusterOff(12):], subsub)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "image.bin", image, 0o644))
	return fs
}

func TestRunDefragmentsFilesAndFixesDirectoryLinks(t *testing.T) {
	fs := buildFragmentedImage(t)
	v, err := volume.Open(fs, "image.bin", volume.Options{})
	require.NoError(t, err)
	defer v.Close()

	before, err := FragmentationLevel(v)
	require.NoError(t, err)
	require.Greater(t, before, 0.0)

	report, err := Run(v)
	require.NoError(t, err)
	require.Equal(t, 2, report.Relocated)
	require.Equal(t, 2, report.SkippedAlreadyContiguous)
	require.Empty(t, report.NoSpace)

	after, err := FragmentationLevel(v)
	require.NoError(t, err)
	require.Zero(t, after)

	files, err := v.WalkDirectory(v.RootDirHead())
	require.NoError(t, err)

	var file1, subdir codec.DirectoryEntry
	for _, f := range files {
		switch f.Entry.ShortName {
		case "FILE1.TXT":
			file1 = f.Entry
		case "SUBDIR":
			subdir = f.Entry
		}
	}

	chain1, err := v.ReadChain(file1.FirstCluster)
	require.NoError(t, err)
	require.Equal(t, []uint32{chain1[0], chain1[0] + 1}, chain1)

	subdirChain, err := v.ReadChain(subdir.FirstCluster)
	require.NoError(t, err)
	require.Equal(t, []uint32{subdir.FirstCluster, subdir.FirstCluster + 1}, subdirChain)

	subdirEntries, err := v.WalkDirectory(subdir.FirstCluster)
	require.NoError(t, err)

	var dot, subsub codec.DirectoryEntry
	for _, e := range subdirEntries {
		switch e.Entry.ShortName {
		case ".":
			dot = e.Entry
		case "SUBSUB":
			subsub = e.Entry
		}
	}
	require.Equal(t, subdir.FirstCluster, dot.FirstCluster)

	subsubEntries, err := v.WalkDirectory(subsub.FirstCluster)
	require.NoError(t, err)
	for _, e := range subsubEntries {
		if e.Entry.ShortName == ".." {
			require.Equal(t, subdir.FirstCluster, e.Entry.FirstCluster)
		}
	}
}

func TestRunIsIdempotent(t *testing.T) {
	fs := buildFragmentedImage(t)
	v, err := volume.Open(fs, "image.bin", volume.Options{})
	require.NoError(t, err)
	defer v.Close()

	_, err = Run(v)
	require.NoError(t, err)

	second, err := Run(v)
	require.NoError(t, err)
	require.Equal(t, 0, second.Relocated)
	require.Equal(t, 4, second.SkippedAlreadyContiguous)
	require.Empty(t, second.NoSpace)
}

// buildFullImage assembles a four-cluster FAT12 image with no free clusters
// at all: FILE_A (fragmented, chain 2->4) and FILE_B (chain 3->5) between
// them occupy every data cluster, so a defragmentation pass cannot find
// room for either.
func buildFullImage(t *testing.T) afero.Fs {
	t.Helper()

	const (
		bytesPerSector    = 512
		sectorsPerCluster = 1
		reservedSectors   = 1
		numFATs           = 2
		rootEntryCount    = 16
		sectorsPerFAT     = 1
		totalSectors      = 8
	)

	image := make([]byte, totalSectors*bytesPerSector)
	putU16 := func(off int, v uint16) { image[off], image[off+1] = byte(v), byte(v>>8) }
	putU32 := func(off int, v uint32) {
		image[off] = byte(v)
		image[off+1] = byte(v >> 8)
		image[off+2] = byte(v >> 16)
		image[off+3] = byte(v >> 24)
	}
	image[0], image[1], image[2] = 0xEB, 0x3C, 0x90
	putU16(11, bytesPerSector)
	image[13] = sectorsPerCluster
	putU16(14, reservedSectors)
	image[16] = numFATs
	putU16(17, rootEntryCount)
	putU16(19, totalSectors)
	image[21] = 0xF8
	putU16(22, sectorsPerFAT)
	putU32(32, 0)
	image[510], image[511] = 0x55, 0xAA

	fat0Off := reservedSectors * bytesPerSector
	fat1Off := fat0Off + sectorsPerFAT*bytesPerSector
	rootOff := fat1Off + sectorsPerFAT*bytesPerSector

	fat := make([]byte, sectorsPerFAT*bytesPerSector)
	write := func(idx uint32, v codec.FatEntry) {
		require.NoError(t, codec.WriteFATEntry(fat, idx, v, codec.FAT12))
	}
	write(2, codec.FatEntry(4))
	write(4, codec.EOC(codec.FAT12))
	write(3, codec.FatEntry(5))
	write(5, codec.EOC(codec.FAT12))
	copy(image[fat0Off:], fat)
	copy(image[fat1Off:], fat)

	shortName := func(name string) [11]byte {
		var raw [11]byte
		for i := range raw {
			raw[i] = ' '
		}
		copy(raw[:], name)
		return raw
	}
	putEntry := func(region []byte, slot int, e codec.DirectoryEntry) {
		raw, err := codec.EncodeShortEntry(e)
		require.NoError(t, err)
		copy(region[slot*32:], raw)
	}

	wt := time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC)
	root := make([]byte, bytesPerSector)
	putEntry(root, 0, codec.DirectoryEntry{
		RawName: shortName("FILEA   TXT"), FirstCluster: 2, FileSize: 1024, WriteTime: wt,
	})
	putEntry(root, 1, codec.DirectoryEntry{
		RawName: shortName("FILEB   TXT"), FirstCluster: 3, FileSize: 1024, WriteTime: wt,
	})
	copy(image[rootOff:], root)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "image.bin", image, 0o644))
	return fs
}

func TestRunReportsNoSpaceWhenNoRoomExists(t *testing.T) {
	fs := buildFullImage(t)
	v, err := volume.Open(fs, "image.bin", volume.Options{})
	require.NoError(t, err)
	defer v.Close()

	require.Zero(t, v.FreeMap().FreeCount())

	report, err := Run(v)
	require.NoError(t, err)
	require.Equal(t, 0, report.Relocated)
	require.ElementsMatch(t, []string{"FILEA.TXT", "FILEB.TXT"}, report.NoSpace)
}

// buildInterleavedImage assembles a FAT12 image with two three-cluster files
// whose chains interleave one another (FILEA at 9 -> 4 -> 11, FILEB at
// 5 -> 10 -> 7) and no free run of length 3 anywhere on the volume (the free
// clusters are 2, 3, 6, 8, 12, 13, none of them three in a row), so neither
// file can be relocated by a plain AllocateContiguous call and both must go
// through makeRoom's displacement pass, one of them displacing a cluster
// belonging to the other candidate and the other displacing one of its own
// not-yet-moved clusters.
func buildInterleavedImage(t *testing.T) afero.Fs {
	t.Helper()

	const (
		bytesPerSector    = 512
		sectorsPerCluster = 1
		reservedSectors   = 1
		numFATs           = 2
		rootEntryCount    = 16
		sectorsPerFAT     = 1
		totalSectors      = 16
	)

	image := make([]byte, totalSectors*bytesPerSector)
	putU16 := func(off int, v uint16) { image[off], image[off+1] = byte(v), byte(v>>8) }
	putU32 := func(off int, v uint32) {
		image[off] = byte(v)
		image[off+1] = byte(v >> 8)
		image[off+2] = byte(v >> 16)
		image[off+3] = byte(v >> 24)
	}
	image[0], image[1], image[2] = 0xEB, 0x3C, 0x90
	putU16(11, bytesPerSector)
	image[13] = sectorsPerCluster
	putU16(14, reservedSectors)
	image[16] = numFATs
	putU16(17, rootEntryCount)
	putU16(19, totalSectors)
	image[21] = 0xF8
	putU16(22, sectorsPerFAT)
	putU32(32, 0)
	image[510], image[511] = 0x55, 0xAA

	fat0Off := reservedSectors * bytesPerSector
	fat1Off := fat0Off + sectorsPerFAT*bytesPerSector
	rootOff := fat1Off + sectorsPerFAT*bytesPerSector

	fat := make([]byte, sectorsPerFAT*bytesPerSector)
	write := func(idx uint32, v codec.FatEntry) {
		require.NoError(t, codec.WriteFATEntry(fat, idx, v, codec.FAT12))
	}
	// FILEA: 9 -> 4 -> 11 -> EOC.
	write(9, codec.FatEntry(4))
	write(4, codec.FatEntry(11))
	write(11, codec.EOC(codec.FAT12))
	// FILEB: 5 -> 10 -> 7 -> EOC.
	write(5, codec.FatEntry(10))
	write(10, codec.FatEntry(7))
	write(7, codec.EOC(codec.FAT12))
	// 2, 3, 6, 8, 12, 13 stay free.
	copy(image[fat0Off:], fat)
	copy(image[fat1Off:], fat)

	shortName := func(name string) [11]byte {
		var raw [11]byte
		for i := range raw {
			raw[i] = ' '
		}
		copy(raw[:], name)
		return raw
	}
	putEntry := func(region []byte, slot int, e codec.DirectoryEntry) {
		raw, err := codec.EncodeShortEntry(e)
		require.NoError(t, err)
		copy(region[slot*32:], raw)
	}

	wt := time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC)
	root := make([]byte, bytesPerSector)
	putEntry(root, 0, codec.DirectoryEntry{
		RawName: shortName("FILEA   TXT"), FirstCluster: 9, FileSize: 1536, WriteTime: wt,
	})
	putEntry(root, 1, codec.DirectoryEntry{
		RawName: shortName("FILEB   TXT"), FirstCluster: 5, FileSize: 1536, WriteTime: wt,
	})
	copy(image[rootOff:], root)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "image.bin", image, 0o644))
	return fs
}

func TestRunDisplacesOccupiedClustersWhenNoFreeRunExists(t *testing.T) {
	fs := buildInterleavedImage(t)
	v, err := volume.Open(fs, "image.bin", volume.Options{})
	require.NoError(t, err)
	defer v.Close()

	require.Equal(t, uint32(6), v.FreeMap().FreeCount(), "fixture should start with exactly 6 free clusters")

	report, err := Run(v)
	require.NoError(t, err)
	require.Equal(t, 2, report.Relocated)
	require.Empty(t, report.NoSpace)

	files, err := v.WalkDirectory(v.RootDirHead())
	require.NoError(t, err)

	var fileA, fileB codec.DirectoryEntry
	for _, f := range files {
		switch f.Entry.ShortName {
		case "FILEA.TXT":
			fileA = f.Entry
		case "FILEB.TXT":
			fileB = f.Entry
		}
	}

	chainA, err := v.ReadChain(fileA.FirstCluster)
	require.NoError(t, err)
	chainB, err := v.ReadChain(fileB.FirstCluster)
	require.NoError(t, err)

	require.Len(t, chainA, 3)
	require.Len(t, chainB, 3)
	for i := 1; i < len(chainA); i++ {
		require.Equal(t, chainA[i-1]+1, chainA[i], "FILEA.TXT should be contiguous")
	}
	for i := 1; i < len(chainB); i++ {
		require.Equal(t, chainB[i-1]+1, chainB[i], "FILEB.TXT should be contiguous")
	}

	seen := make(map[uint32]bool, 6)
	for _, c := range append(append([]uint32{}, chainA...), chainB...) {
		require.False(t, seen[c], "FILEA.TXT and FILEB.TXT should not share cluster %d", c)
		seen[c] = true
	}
}

// buildSettledDisplacementImage assembles a FAT12 image with four top-level
// files across data clusters 2-12: FILEP1 (fragmented, chain 2 -> 7),
// DUMMY1 and DUMMY2 (single, already-contiguous clusters at 6 and 8), and
// FILEP2 (fragmented, chain 10 -> 12). The only free clusters are 3, 4, 5,
// 9, and 11. Processing order (sorted by origHead) relocates FILEP1 first,
// landing it cleanly on the one free run long enough for it, 3 -> 4; by the
// time FILEP2 is considered, AllocateContiguous fails and the region
// makeRoom would anchor on, [2, 3], has cluster 3 occupied by FILEP1 — which
// is now a settled candidate. Displacing it would leave FILEP1 non-
// contiguous with no later pass able to repair it.
func buildSettledDisplacementImage(t *testing.T) afero.Fs {
	t.Helper()

	const (
		bytesPerSector    = 512
		sectorsPerCluster = 1
		reservedSectors   = 1
		numFATs           = 2
		rootEntryCount    = 16
		sectorsPerFAT     = 1
		totalSectors      = 15
	)

	image := make([]byte, totalSectors*bytesPerSector)
	putU16 := func(off int, v uint16) { image[off], image[off+1] = byte(v), byte(v>>8) }
	putU32 := func(off int, v uint32) {
		image[off] = byte(v)
		image[off+1] = byte(v >> 8)
		image[off+2] = byte(v >> 16)
		image[off+3] = byte(v >> 24)
	}
	image[0], image[1], image[2] = 0xEB, 0x3C, 0x90
	putU16(11, bytesPerSector)
	image[13] = sectorsPerCluster
	putU16(14, reservedSectors)
	image[16] = numFATs
	putU16(17, rootEntryCount)
	putU16(19, totalSectors)
	image[21] = 0xF8
	putU16(22, sectorsPerFAT)
	putU32(32, 0)
	image[510], image[511] = 0x55, 0xAA

	fat0Off := reservedSectors * bytesPerSector
	fat1Off := fat0Off + sectorsPerFAT*bytesPerSector
	rootOff := fat1Off + sectorsPerFAT*bytesPerSector

	fat := make([]byte, sectorsPerFAT*bytesPerSector)
	write := func(idx uint32, v codec.FatEntry) {
		require.NoError(t, codec.WriteFATEntry(fat, idx, v, codec.FAT12))
	}
	// FILEP1: 2 -> 7 -> EOC.
	write(2, codec.FatEntry(7))
	write(7, codec.EOC(codec.FAT12))
	// DUMMY1: single cluster at 6.
	write(6, codec.EOC(codec.FAT12))
	// DUMMY2: single cluster at 8.
	write(8, codec.EOC(codec.FAT12))
	// FILEP2: 10 -> 12 -> EOC.
	write(10, codec.FatEntry(12))
	write(12, codec.EOC(codec.FAT12))
	// 3, 4, 5, 9, 11 stay free.
	copy(image[fat0Off:], fat)
	copy(image[fat1Off:], fat)

	shortName := func(name string) [11]byte {
		var raw [11]byte
		for i := range raw {
			raw[i] = ' '
		}
		copy(raw[:], name)
		return raw
	}
	putEntry := func(region []byte, slot int, e codec.DirectoryEntry) {
		raw, err := codec.EncodeShortEntry(e)
		require.NoError(t, err)
		copy(region[slot*32:], raw)
	}

	wt := time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC)
	root := make([]byte, bytesPerSector)
	putEntry(root, 0, codec.DirectoryEntry{
		RawName: shortName("FILEP1  TXT"), FirstCluster: 2, FileSize: 1024, WriteTime: wt,
	})
	putEntry(root, 1, codec.DirectoryEntry{
		RawName: shortName("DUMMY1  TXT"), FirstCluster: 6, FileSize: 10, WriteTime: wt,
	})
	putEntry(root, 2, codec.DirectoryEntry{
		RawName: shortName("DUMMY2  TXT"), FirstCluster: 8, FileSize: 10, WriteTime: wt,
	})
	putEntry(root, 3, codec.DirectoryEntry{
		RawName: shortName("FILEP2  TXT"), FirstCluster: 10, FileSize: 1024, WriteTime: wt,
	})
	copy(image[rootOff:], root)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "image.bin", image, 0o644))
	return fs
}

func TestRunNeverDisturbsASettledCandidate(t *testing.T) {
	fs := buildSettledDisplacementImage(t)
	v, err := volume.Open(fs, "image.bin", volume.Options{})
	require.NoError(t, err)
	defer v.Close()

	require.Equal(t, uint32(5), v.FreeMap().FreeCount(), "fixture should start with exactly 5 free clusters")

	report, err := Run(v)
	require.NoError(t, err)
	require.Equal(t, 1, report.Relocated, "only FILEP1 has a free run long enough for it")
	require.Equal(t, 2, report.SkippedAlreadyContiguous, "DUMMY1 and DUMMY2 are single clusters")
	require.ElementsMatch(t, []string{"FILEP2.TXT"}, report.NoSpace,
		"FILEP2 must be reported NoSpace rather than displace settled FILEP1")

	files, err := v.WalkDirectory(v.RootDirHead())
	require.NoError(t, err)

	var fileP1 codec.DirectoryEntry
	for _, f := range files {
		if f.Entry.ShortName == "FILEP1.TXT" {
			fileP1 = f.Entry
		}
	}

	chainP1, err := v.ReadChain(fileP1.FirstCluster)
	require.NoError(t, err)
	require.Len(t, chainP1, 2)
	require.Equal(t, chainP1[0]+1, chainP1[1],
		"FILEP1 was already relocated and must stay contiguous even though FILEP2 later needed room")
}
