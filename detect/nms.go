package detect

import "sort"

// candidate is a decoded box before suppression, in model input coordinates
type candidate struct {
	box   BBox
	class int
	score float32
}

// nms applies class wise non-maximum suppression.  Candidates are visited in
// descending score order and any later candidate of the same class whose IoU
// with a kept box exceeds threshold is dropped.  At most maxKeep candidates
// are returned, zero means no limit.
func nms(cands []candidate, threshold float32, maxKeep int) []candidate {

	order := make([]int, len(cands))

	for i := range order {
		order[i] = i
	}

	sort.SliceStable(order, func(a, b int) bool {
		return cands[order[a]].score > cands[order[b]].score
	})

	for i := 0; i < len(order); i++ {
		if order[i] == -1 {
			continue
		}

		n := cands[order[i]]

		for j := i + 1; j < len(order); j++ {
			if order[j] == -1 {
				continue
			}

			m := cands[order[j]]

			if m.class != n.class {
				continue
			}

			if n.box.IoU(m.box) > float64(threshold) {
				order[j] = -1
			}
		}
	}

	kept := make([]candidate, 0, len(order))

	for _, idx := range order {
		if idx == -1 {
			continue
		}

		if maxKeep > 0 && len(kept) >= maxKeep {
			break
		}

		kept = append(kept, cands[idx])
	}

	return kept
}
