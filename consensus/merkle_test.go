package consensus

import "testing"

func leafHash(b byte) Hash {
	var h Hash
	h[0] = b
	return h
}

func TestMerkleRootSingleLeaf(t *testing.T) {
	h := leafHash(1)
	if got := MerkleRoot([]Hash{h}); got != h {
		t.Fatalf("single leaf root = %s, want %s", got, h)
	}
}

func TestMerkleRootEmpty(t *testing.T) {
	if got := MerkleRoot(nil); got != ZeroHash {
		t.Fatalf("empty root = %s, want zero hash", got)
	}
}

func TestMerkleRootOddCountDuplicatesLast(t *testing.T) {
	leaves := []Hash{leafHash(1), leafHash(2), leafHash(3)}
	want := MerkleRoot([]Hash{leaves[0], leaves[1], leaves[2], leaves[2]})
	got := MerkleRoot(leaves)
	if got != want {
		t.Fatalf("odd-count root = %s, want %s", got, want)
	}
}

func TestMerkleRootDeterministic(t *testing.T) {
	leaves := []Hash{leafHash(1), leafHash(2), leafHash(3), leafHash(4)}
	a := MerkleRoot(leaves)
	b := MerkleRoot(leaves)
	if a != b {
		t.Fatalf("merkle root not deterministic: %s != %s", a, b)
	}
	swapped := []Hash{leaves[1], leaves[0], leaves[2], leaves[3]}
	if MerkleRoot(swapped) == a {
		t.Fatalf("merkle root should depend on leaf order")
	}
}
