package fragment

import (
	"fmt"
	"math/rand"

	"github.com/ninnikukawaii/Defrag/fatfs/codec"
	"github.com/ninnikukawaii/Defrag/volume"
)

// ErrorCreator builds small structurally-broken files on an otherwise
// healthy volume, for testing how a reader and the relocator cope with FAT
// corruption they cannot have caused themselves.
type ErrorCreator struct {
	v *volume.Volume
}

// NewErrorCreator wraps v for fixture creation.
func NewErrorCreator(v *volume.Volume) *ErrorCreator {
	return &ErrorCreator{v: v}
}

// CreateFileInOnlyOneTable creates a two-cluster file and then erases its
// chain entries from every FAT table except table, so the tables disagree
// about whether the file is even allocated.
func (ec *ErrorCreator) CreateFileInOnlyOneTable(table int) (volume.File, error) {
	f, err := ec.createFile(2)
	if err != nil {
		return volume.File{}, err
	}

	chain, err := ec.v.ReadChain(f.Entry.FirstCluster)
	if err != nil {
		return volume.File{}, err
	}

	numFATs := ec.v.Boot().NumFATs
	for t := 0; t < int(numFATs); t++ {
		if t == table {
			continue
		}
		for _, cluster := range chain {
			if err := ec.v.WriteFATEntryInTable(t, cluster, codec.FatEntry(0)); err != nil {
				return volume.File{}, err
			}
		}
	}

	return f, nil
}

// CreateFileWithBadCluster creates a two-cluster file and marks the second
// cluster in its chain as a bad sector in every FAT table.
func (ec *ErrorCreator) CreateFileWithBadCluster() (volume.File, error) {
	f, err := ec.createFile(2)
	if err != nil {
		return volume.File{}, err
	}

	chain, err := ec.v.ReadChain(f.Entry.FirstCluster)
	if err != nil {
		return volume.File{}, err
	}
	if len(chain) < 2 {
		return volume.File{}, fmt.Errorf("fragment: file has no second cluster to corrupt")
	}

	bad := codec.Bad(ec.v.Boot().Variant)
	if err := ec.v.WriteFATEntryBothTables(chain[1], bad); err != nil {
		return volume.File{}, err
	}

	return f, nil
}

// CreateFileWithSelfLoop creates a two-cluster file and rewrites its head
// cluster's FAT entry to point at itself, so walking its chain never
// terminates.
func (ec *ErrorCreator) CreateFileWithSelfLoop() (volume.File, error) {
	f, err := ec.createFile(2)
	if err != nil {
		return volume.File{}, err
	}

	head := f.Entry.FirstCluster
	if err := ec.v.WriteFATEntryBothTables(head, codec.FatEntry(head)); err != nil {
		return volume.File{}, err
	}

	return f, nil
}

// CreateIntersectingFiles creates two three-cluster files and then makes
// the second cluster of the first file's chain point at the second cluster
// of the second file's chain, so the two chains share a tail.
func (ec *ErrorCreator) CreateIntersectingFiles() (volume.File, volume.File, error) {
	first, err := ec.createFile(3)
	if err != nil {
		return volume.File{}, volume.File{}, err
	}
	second, err := ec.createFile(3)
	if err != nil {
		return volume.File{}, volume.File{}, err
	}

	firstChain, err := ec.v.ReadChain(first.Entry.FirstCluster)
	if err != nil {
		return volume.File{}, volume.File{}, err
	}
	secondChain, err := ec.v.ReadChain(second.Entry.FirstCluster)
	if err != nil {
		return volume.File{}, volume.File{}, err
	}
	if len(firstChain) < 2 || len(secondChain) < 2 {
		return volume.File{}, volume.File{}, fmt.Errorf("fragment: file too short to intersect")
	}

	if err := ec.v.WriteFATEntryBothTables(firstChain[1], codec.FatEntry(secondChain[1])); err != nil {
		return volume.File{}, volume.File{}, err
	}

	return first, second, nil
}

// createFile allocates a file of length clusters full of filler bytes under
// the volume's root. Its name carries a random suffix, mirroring the
// randomized retry tail the original _create_file_ appends on a name
// collision, since CreateFile itself never checks for one.
func (ec *ErrorCreator) createFile(length int) (volume.File, error) {
	bpc := int(ec.v.Boot().BytesPerCluster())
	data := make([]byte, bpc*length)
	for i := range data {
		data[i] = 'e'
	}

	name := fmt.Sprintf("F%d.BIN", rand.Intn(10000))
	return ec.v.CreateFile(ec.v.RootDirHead(), name, data, 0)
}
