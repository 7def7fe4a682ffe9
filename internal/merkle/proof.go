package merkle

// Proof extracts the membership proof for the leaf at the given index: the
// ordered list of sibling hashes, bottom-up. Returns nil when the index is
// out of range. A single-leaf tree has an empty proof.
func (t *Tree) Proof(index int) []string {
	if index < 0 || index >= len(t.Leaves) {
		return nil
	}

	proof := make([]string, 0, len(t.Layers))
	idx := index
	for level := 0; level < len(t.Layers)-1; level++ {
		layer := t.Layers[level]
		sibling := idx ^ 1
		if sibling < len(layer) {
			proof = append(proof, layer[sibling])
		}
		idx /= 2
	}
	return proof
}

// VerifyProof replays a proof from a leaf hash and reports whether it
// reproduces the expected root.
//
// In ModeOrdered the index determines, at each level, whether the running
// node was the left or right child (even index: left). In ModeSorted the
// index is ignored; the pairing normalizes order.
func VerifyProof(leaf string, proof []string, root string, index int, mode Mode) bool {
	current := leaf
	idx := index

	for _, sibling := range proof {
		var (
			combined string
			err      error
		)
		switch mode {
		case ModeOrdered:
			if idx%2 == 0 {
				combined, err = combine(current, sibling, mode)
			} else {
				combined, err = combine(sibling, current, mode)
			}
		case ModeSorted:
			combined, err = combine(current, sibling, mode)
		default:
			return false
		}
		if err != nil {
			return false
		}
		current = combined
		idx /= 2
	}

	return current == root
}
