package merkle

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoot_Empty(t *testing.T) {
	want := sha256.Sum256([]byte(""))
	got := Root(nil)
	require.Equal(t, want[:], got)
}

// TestRoot_FourLeaves is S2: root == sha256(sha256(L0||L1) || sha256(L2||L3)).
func TestRoot_FourLeaves(t *testing.T) {
	leaves := [][]byte{[]byte("L0"), []byte("L1"), []byte("L2"), []byte("L3")}
	left := pairHash(leaves[0], leaves[1])
	right := pairHash(leaves[2], leaves[3])
	want := pairHash(left, right)

	got := Root(leaves)
	require.Equal(t, want, got)
}

// TestRoot_ThreeLeaves_OddDuplication is S2's odd-leaf case:
// root == sha256(sha256(L0||L1) || sha256(L2||L2)).
func TestRoot_ThreeLeaves_OddDuplication(t *testing.T) {
	leaves := [][]byte{[]byte("L0"), []byte("L1"), []byte("L2")}
	left := pairHash(leaves[0], leaves[1])
	right := pairHash(leaves[2], leaves[2])
	want := pairHash(left, right)

	got := Root(leaves)
	require.Equal(t, want, got)
}

func TestRoot_SingleLeaf(t *testing.T) {
	leaves := [][]byte{[]byte("only")}
	require.Equal(t, leaves[0], Root(leaves))
}
