// Package fragment is the inverse of relocator: it scatters a volume's
// files across non-contiguous clusters, and builds volumes with deliberately
// corrupt FAT structures, both for exercising the defragmenter against
// realistic input.
package fragment

import (
	"math/rand"
	"sort"

	"github.com/ninnikukawaii/Defrag/volume"
)

// Report summarizes one fragmentation pass.
type Report struct {
	Misplaced int
}

type candidate struct {
	firstCluster uint32
	chain        []uint32
}

// Run scatters every file and directory reachable from the volume's root
// (the root directory itself excluded) across non-adjacent clusters,
// without ever moving a chain's head cluster: a file's first-cluster value,
// and therefore every directory entry pointing at it, is left untouched.
// Running Run on an already-fragmented volume is safe; it simply attempts
// to scatter clusters that may already be out of order.
func Run(v *volume.Volume) (*Report, error) {
	candidates, err := enumerate(v)
	if err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].firstCluster < candidates[j].firstCluster
	})

	report := &Report{}
	for _, c := range candidates {
		n, err := misplaceFileClusters(v, c)
		if err != nil {
			return nil, err
		}
		report.Misplaced += n
	}
	return report, nil
}

// enumerate mirrors relocator's own enumeration rather than sharing it: the
// two packages walk the same tree but never need each other's candidate
// bookkeeping (fragment never fixes up directory entries, since it never
// moves a head cluster), so keeping them independent avoids coupling two
// unrelated algorithms to one shared type.
func enumerate(v *volume.Volume) ([]*candidate, error) {
	var out []*candidate

	var walk func(dirHead uint32) error
	walk = func(dirHead uint32) error {
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

			out = append(out, &candidate{firstCluster: chain[0], chain: chain})

			if f.Entry.IsDirectory() {
				if err := walk(chain[0]); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(v.RootDirHead()); err != nil {
		return nil, err
	}
	return out, nil
}

// misplaceFileClusters relocates every cluster of cand's chain past the
// head, in order, to a randomly chosen cluster elsewhere on the volume,
// acting only on positions still contiguous with their predecessor and
// leaving already-scattered ones alone. Each candidate target is tried up
// to 5 times, advancing by one cluster and re-checking free/bad/reserved
// status on a miss, matching how little retry budget the original
// fragmentator spends before giving up on one cluster and moving to the
// next.
func misplaceFileClusters(v *volume.Volume, cand *candidate) (int, error) {
	bp := v.Boot()
	misplaced := 0

	for i := 1; i < len(cand.chain); i++ {
		cluster := cand.chain[i]
		predecessor := cand.chain[i-1]

		if cluster != predecessor+1 {
			continue
		}

		lo := cand.firstCluster
		hi := bp.LastDataCluster
		if hi > 15 {
			hi -= 15
		}
		if hi < lo {
			hi = lo
		}

		target := lo
		if hi > lo {
			target = lo + uint32(rand.Intn(int(hi-lo+1)))
		}

		fm := v.FreeMap()
		attempts := 5
		for attempts > 0 {
			if target < fm.FirstDataCluster() || target > fm.LastDataCluster() || !fm.IsFree(target) {
				target++
				attempts--
				continue
			}

			if err := v.MoveCluster(cluster, target, predecessor); err != nil {
				return misplaced, err
			}
			cand.chain[i] = target
			misplaced++
			break
		}
	}

	return misplaced, nil
}
