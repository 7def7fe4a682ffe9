// Package merkle builds Merkle trees over event hashes and produces and
// verifies membership proofs. Two pairing conventions are supported and are
// never mixed within one tree:
//
//   - ModeOrdered: parent = SHA256(left || right). Position-sensitive; proof
//     verification derives left/right placement from the leaf index parity at
//     each level. Used for the internal audit tree.
//   - ModeSorted: the two children are sorted lexicographically before
//     concatenation and hashed with Keccak-256. Position-insensitive; used
//     for roots submitted to external ledgers whose minimal verifiers check
//     membership without tracking position.
package merkle

import (
	"encoding/hex"
	"fmt"

	"github.com/anvilchain/anvilchain/internal/digest"
)

// Mode selects the pairing convention for a tree.
type Mode int

const (
	// ModeOrdered is position-sensitive SHA-256 pairing.
	ModeOrdered Mode = iota
	// ModeSorted is lexicographically normalized Keccak-256 pairing.
	ModeSorted
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeOrdered:
		return "ORDERED"
	case ModeSorted:
		return "SORTED"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Tree is an immutable Merkle tree. Leaves preserve insertion order; layers
// run bottom-up, each padded to even length by duplicating its last node
// (except the root layer).
type Tree struct {
	Mode   Mode
	Leaves []string
	Layers [][]string
	Root   string
}

// Build constructs a tree over the given lowercase-hex leaf hashes in
// insertion order.
//
// Edge cases: zero leaves yield root = H("") and no layers; a single leaf is
// its own root with an empty proof. An odd layer duplicates its last node
// before pairing, never zero-pads.
func Build(leaves []string, mode Mode) (*Tree, error) {
	for _, leaf := range leaves {
		if _, err := hex.DecodeString(leaf); err != nil {
			return nil, fmt.Errorf("merkle: invalid leaf hash %q: %w", leaf, err)
		}
	}

	t := &Tree{
		Mode:   mode,
		Leaves: append([]string(nil), leaves...),
	}

	if len(leaves) == 0 {
		t.Root = emptyRoot(mode)
		return t, nil
	}

	layer := append([]string(nil), leaves...)
	for {
		if len(layer)%2 != 0 && len(layer) > 1 {
			layer = append(layer, layer[len(layer)-1])
		}
		t.Layers = append(t.Layers, layer)

		if len(layer) == 1 {
			break
		}

		next := make([]string, 0, len(layer)/2)
		for i := 0; i < len(layer); i += 2 {
			parent, err := combine(layer[i], layer[i+1], mode)
			if err != nil {
				return nil, err
			}
			next = append(next, parent)
		}
		layer = next
	}

	t.Root = t.Layers[len(t.Layers)-1][0]
	return t, nil
}

// combine hashes two child node hashes into their parent under the given
// pairing convention.
func combine(a, b string, mode Mode) (string, error) {
	ab, err := hex.DecodeString(a)
	if err != nil {
		return "", fmt.Errorf("merkle: invalid node hash %q: %w", a, err)
	}
	bb, err := hex.DecodeString(b)
	if err != nil {
		return "", fmt.Errorf("merkle: invalid node hash %q: %w", b, err)
	}

	switch mode {
	case ModeOrdered:
		return digest.SHA256Hex(append(ab, bb...)), nil
	case ModeSorted:
		if a > b {
			ab, bb = bb, ab
		}
		return digest.Keccak256Hex(append(ab, bb...)), nil
	default:
		return "", fmt.Errorf("merkle: unknown mode %d", int(mode))
	}
}

// emptyRoot is the root of a tree with no leaves: the bare hash of the empty
// byte string under the mode's primitive.
func emptyRoot(mode Mode) string {
	if mode == ModeSorted {
		return digest.Keccak256Hex(nil)
	}
	return digest.SHA256Hex(nil)
}
