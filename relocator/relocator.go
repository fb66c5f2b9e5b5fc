// Package relocator implements the defragmentation pass: moving every
// fragmented file and directory reachable from a volume's root onto a
// contiguous run of clusters, using nothing but Volume's own public
// operations. It holds no on-disk state of its own.
package relocator

import (
	"sort"

	"github.com/ninnikukawaii/Defrag/volume"
)

// Report summarizes one defragmentation pass.
type Report struct {
	Relocated                int
	SkippedAlreadyContiguous int
	NoSpace                  []string
}

type ownerRef struct {
	cand *candidate
	pos  int
}

// candidate is one file or directory discovered during enumeration.
// origHead and shortName are its identity as found on disk and never
// change; chain is live and mutated in place as clusters move.
type candidate struct {
	origHead       uint32
	chain          []uint32
	isDir          bool
	shortName      string
	parentOrigHead uint32
	depth          int
}

// Relocator drives one volume through a full defragmentation pass.
type Relocator struct {
	v         *volume.Volume
	owner     map[uint32]*ownerRef
	headRemap map[uint32]uint32
	settled   map[*candidate]bool
	report    Report
}

// Run enumerates every file and directory under the volume's root by
// depth-first traversal, skipping zero-length files, sorts the candidates
// by directory depth then by starting cluster, and relocates each in turn
// onto the lowest free contiguous run long enough to hold it, displacing
// whatever already occupies that run if nothing is free elsewhere. Running
// Run again on an already-defragmented volume is a no-op: every candidate's
// chain is already contiguous and is only counted, never moved. The root
// directory itself is never relocated, matching how the original tool's
// file enumeration explicitly excludes it.
//
// A file for which no contiguous run can be made room for is recorded in
// the returned Report's NoSpace list and skipped; any other error aborts
// the pass and is returned directly.
func Run(v *volume.Volume) (*Report, error) {
	candidates, err := enumerate(v)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].depth != candidates[j].depth {
			return candidates[i].depth < candidates[j].depth
		}
		return candidates[i].origHead < candidates[j].origHead
	})

	r := &Relocator{
		v:         v,
		owner:     buildOwnerIndex(candidates),
		headRemap: make(map[uint32]uint32),
		settled:   make(map[*candidate]bool, len(candidates)),
	}

	for _, c := range candidates {
		if err := r.relocateOne(c); err != nil {
			return &r.report, err
		}
	}

	return &r.report, nil
}

func buildOwnerIndex(candidates []*candidate) map[uint32]*ownerRef {
	idx := make(map[uint32]*ownerRef, len(candidates)*2)
	for _, c := range candidates {
		for i, cl := range c.chain {
			idx[cl] = &ownerRef{cand: c, pos: i}
		}
	}
	return idx
}

// enumerate walks the directory tree from the root, recording every file
// and subdirectory along with the directory depth and cluster chain it had
// at discovery time. "." and ".." entries are not independent files: they
// are aliases inside a directory's own data, fixed up as a side effect of
// relocating the directories they refer to. The root directory is walked
// for its children but is never itself added as a candidate.
func enumerate(v *volume.Volume) ([]*candidate, error) {
	var out []*candidate

	var walk func(dirHead uint32, depth int) error
	walk = func(dirHead uint32, depth int) error {
		files, err := v.WalkDirectory(dirHead)
		if err != nil {
			return err
		}

		for _, f := range files {
			if f.Entry.IsVolumeLabel() {
				continue
			}
			if f.Entry.ShortName == "." || f.Entry.ShortName == ".." {
				continue
			}

			chain, err := v.ReadChain(f.Entry.FirstCluster)
			if err != nil {
				return err
			}
			if len(chain) == 0 {
				continue
			}

			c := &candidate{
				origHead:       chain[0],
				chain:          chain,
				isDir:          f.Entry.IsDirectory(),
				shortName:      f.Entry.ShortName,
				parentOrigHead: dirHead,
				depth:          depth,
			}
			out = append(out, c)

			if c.isDir {
				if err := walk(c.origHead, depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(v.RootDirHead(), 0); err != nil {
		return nil, err
	}
	return out, nil
}

func alreadyContiguous(chain []uint32) bool {
	for i := 1; i < len(chain); i++ {
		if chain[i] != chain[i-1]+1 {
			return false
		}
	}
	return true
}

func (r *Relocator) currentHead(origHead uint32) uint32 {
	if h, ok := r.headRemap[origHead]; ok {
		return h
	}
	return origHead
}

func (r *Relocator) relocateOne(cand *candidate) error {
	if alreadyContiguous(cand.chain) {
		r.report.SkippedAlreadyContiguous++
		r.settled[cand] = true
		return nil
	}

	length := uint32(len(cand.chain))
	start, ok := r.v.FreeMap().AllocateContiguous(length)
	if !ok {
		var err error
		start, ok, err = r.makeRoom(length)
		if err != nil {
			return err
		}
	}
	if !ok {
		r.report.NoSpace = append(r.report.NoSpace, cand.shortName)
		return nil
	}

	if err := r.moveChain(cand, start); err != nil {
		return err
	}
	if err := r.fixupDirEntry(cand, start); err != nil {
		return err
	}
	if cand.isDir {
		if err := r.fixupDirectoryLinks(cand, start); err != nil {
			return err
		}
	}

	r.report.Relocated++
	r.settled[cand] = true
	return nil
}

// moveChain relocates every cluster of cand's chain, in order, onto
// start..start+len-1. Because the predecessor of cluster i (for i>0) has
// already been relinked to its new location start+i-1 by the previous
// iteration, the chain stays walkable at every intermediate step, not just
// at the end.
func (r *Relocator) moveChain(cand *candidate, start uint32) error {
	length := uint32(len(cand.chain))
	for i := uint32(0); i < length; i++ {
		src := cand.chain[i]
		dst := start + i

		var predecessor uint32
		if i > 0 {
			predecessor = start + i - 1
		}

		if err := r.v.MoveCluster(src, dst, predecessor); err != nil {
			return err
		}

		delete(r.owner, src)
		r.owner[dst] = &ownerRef{cand: cand, pos: int(i)}
		cand.chain[i] = dst
	}
	return nil
}

// fixupDirEntry re-walks cand's parent directory, resolved through any
// earlier head relocation, to find cand's own entry by its last known
// first-cluster value, and patches it to newHead.
func (r *Relocator) fixupDirEntry(cand *candidate, newHead uint32) error {
	parentHead := r.currentHead(cand.parentOrigHead)
	matchHead := r.currentHead(cand.origHead)

	siblings, err := r.v.WalkDirectory(parentHead)
	if err != nil {
		return err
	}

	for _, f := range siblings {
		if f.Entry.ShortName == cand.shortName && f.Entry.FirstCluster == matchHead {
			if err := r.v.UpdateDirEntry(f.Loc, newHead); err != nil {
				return err
			}
			break
		}
	}

	r.headRemap[cand.origHead] = newHead
	return nil
}

// fixupDirectoryLinks patches the '.' entry inside the directory now headed
// at newHead to reference itself, and the '..' entry inside every child
// subdirectory to reference newHead instead of the directory's old
// location. The directory's own '..' entry, pointing at its parent, is
// fixed up when the parent itself relocates, not here.
func (r *Relocator) fixupDirectoryLinks(cand *candidate, newHead uint32) error {
	entries, err := r.v.WalkDirectory(newHead)
	if err != nil {
		return err
	}

	for _, e := range entries {
		switch e.Entry.ShortName {
		case ".":
			if err := r.v.UpdateDirEntry(e.Loc, newHead); err != nil {
				return err
			}
		case "..":
		default:
			if e.Entry.IsDirectory() {
				if err := r.patchParentLink(e.Entry.FirstCluster, newHead); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (r *Relocator) patchParentLink(childHead, newParentHead uint32) error {
	childEntries, err := r.v.WalkDirectory(childHead)
	if err != nil {
		return err
	}
	for _, ce := range childEntries {
		if ce.Entry.ShortName == ".." {
			return r.v.UpdateDirEntry(ce.Loc, newParentHead)
		}
	}
	return nil
}

// makeRoom builds a contiguous run of length free clusters by displacing
// whatever currently occupies the region anchored at the lowest free
// cluster, relocating each occupant's cluster to a single free slot outside
// the region. An occupant belonging to a candidate already settled this
// pass — either relocated onto its own final run or found already
// contiguous and left alone — is never displaced: disturbing it after the
// fact would leave it non-contiguous with no later pass left to repair it.
// If the only occupant standing in the region is settled, makeRoom refuses
// the whole region rather than risk that corruption; the caller reports the
// file it was making room for as NoSpace and continues with the rest of the
// pass.
func (r *Relocator) makeRoom(length uint32) (uint32, bool, error) {
	fm := r.v.FreeMap()
	anchor, ok := fm.LowestFree()
	if !ok || anchor+length-1 > fm.LastDataCluster() {
		return 0, false, nil
	}

	for c := anchor; c < anchor+length; c++ {
		if fm.IsFree(c) {
			continue
		}

		ref, ok := r.owner[c]
		if !ok || r.settled[ref.cand] {
			return 0, false, nil
		}

		dst, ok := r.freeClusterOutside(anchor, anchor+length-1)
		if !ok {
			return 0, false, nil
		}

		var predecessor uint32
		if ref.pos > 0 {
			predecessor = ref.cand.chain[ref.pos-1]
		}

		if err := r.v.MoveCluster(c, dst, predecessor); err != nil {
			return 0, false, err
		}

		delete(r.owner, c)
		r.owner[dst] = ref
		ref.cand.chain[ref.pos] = dst

		if ref.pos == 0 {
			if err := r.fixupDirEntry(ref.cand, dst); err != nil {
				return 0, false, err
			}
			if ref.cand.isDir {
				if err := r.fixupDirectoryLinks(ref.cand, dst); err != nil {
					return 0, false, err
				}
			}
		}
	}

	return anchor, true, nil
}

func (r *Relocator) freeClusterOutside(lo, hi uint32) (uint32, bool) {
	fm := r.v.FreeMap()
	for c := fm.FirstDataCluster(); c <= fm.LastDataCluster(); c++ {
		if c >= lo && c <= hi {
			continue
		}
		if fm.IsFree(c) {
			return c, true
		}
	}
	return 0, false
}
