package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_ProofRoundTrip validates that for arbitrary leaf sets, every
// leaf's proof verifies against the root at its own index, in both modes.
func TestProperty_ProofRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	hashAll := func(seeds []string) []string {
		leaves := make([]string, len(seeds))
		for i, s := range seeds {
			sum := sha256.Sum256([]byte(s))
			leaves[i] = hex.EncodeToString(sum[:])
		}
		return leaves
	}

	properties.Property("every ordered proof verifies at its index", prop.ForAll(
		func(seeds []string) bool {
			leaves := hashAll(seeds)
			tree, err := Build(leaves, ModeOrdered)
			if err != nil {
				return false
			}
			for i, leaf := range leaves {
				if !VerifyProof(leaf, tree.Proof(i), tree.Root, i, ModeOrdered) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AnyString()),
	))

	// Sorted pairing normalizes child order, so swapping the two members of
	// any leaf pair leaves the root unchanged. Permutations that cross pair
	// boundaries repair differently (duplicate-padding pairs the last odd
	// leaf with itself) and are not invariant.
	properties.Property("sorted root ignores child order within each pair", prop.ForAll(
		func(seeds []string) bool {
			leaves := hashAll(seeds)
			swapped := append([]string(nil), leaves...)
			for i := 0; i+1 < len(swapped); i += 2 {
				swapped[i], swapped[i+1] = swapped[i+1], swapped[i]
			}

			a, err := Build(leaves, ModeSorted)
			if err != nil {
				return false
			}
			b, err := Build(swapped, ModeSorted)
			if err != nil {
				return false
			}
			return a.Root == b.Root
		},
		gen.SliceOf(gen.AnyString()),
	))

	properties.Property("a foreign leaf never verifies", prop.ForAll(
		func(seeds []string, intruder string) bool {
			leaves := hashAll(seeds)
			if len(leaves) == 0 {
				return true
			}
			foreign := hashAll([]string{"intruder:" + intruder})[0]
			for _, leaf := range leaves {
				if leaf == foreign {
					return true
				}
			}

			tree, err := Build(leaves, ModeOrdered)
			if err != nil {
				return false
			}
			for i := range leaves {
				if VerifyProof(foreign, tree.Proof(i), tree.Root, i, ModeOrdered) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AnyString()),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
