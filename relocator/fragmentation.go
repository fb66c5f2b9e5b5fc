package relocator

import "github.com/ninnikukawaii/Defrag/volume"

// FragmentationLevel reports the percentage of occupied clusters that sit
// somewhere other than immediately after their chain predecessor, across
// every file and directory reachable from the root (the root directory
// itself excluded, same as Run). 0 means fully contiguous; a volume with no
// occupied clusters reports 0 rather than dividing by zero.
func FragmentationLevel(v *volume.Volume) (float64, error) {
	candidates, err := enumerate(v)
	if err != nil {
		return 0, err
	}

	var misplaced, total int
	for _, c := range candidates {
		total += len(c.chain)
		for i := 1; i < len(c.chain); i++ {
			if c.chain[i] != c.chain[i-1]+1 {
				misplaced++
			}
		}
	}

	if total == 0 {
		return 0, nil
	}
	return float64(misplaced) * 100 / float64(total), nil
}
