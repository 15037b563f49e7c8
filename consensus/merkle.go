package consensus

// MerkleRoot computes the root of a binary hash tree over leaves (txids),
// pairing adjacent hashes and duplicating the last one at each level that
// has an odd count, in the classic Bitcoin manner (§3, §4.6 step 2). A
// single leaf's root is itself; an empty list's root is ZeroHash.
func MerkleRoot(leaves []Hash) Hash {
	if len(leaves) == 0 {
		return ZeroHash
	}
	level := make([]Hash, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]Hash, len(level)/2)
		for i := 0; i < len(next); i++ {
			buf := make([]byte, 0, 128)
			buf = append(buf, level[2*i][:]...)
			buf = append(buf, level[2*i+1][:]...)
			next[i] = DoubleSHA512(buf)
		}
		level = next
	}
	return level[0]
}
