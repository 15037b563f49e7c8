package consensus

import "encoding/binary"

func appendU32le(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

func appendU64le(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

// appendVarInt appends n as a Bitcoin-style CompactSize integer (§6).
func appendVarInt(dst []byte, n uint64) []byte {
	switch {
	case n < 0xfd:
		return append(dst, byte(n))
	case n <= 0xffff:
		dst = append(dst, 0xfd)
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(n))
		return append(dst, buf[:]...)
	case n <= 0xffff_ffff:
		dst = append(dst, 0xfe)
		return appendU32le(dst, uint32(n))
	default:
		dst = append(dst, 0xff)
		return appendU64le(dst, n)
	}
}

// EncodeVarInt and DecodeVarInt expose the CompactSize codec for callers
// outside this package (wire codec, storage layer).
func EncodeVarInt(n uint64) []byte { return appendVarInt(nil, n) }

func DecodeVarInt(b []byte) (uint64, int, error) {
	off := 0
	v, err := readVarInt(b, &off)
	if err != nil {
		return 0, 0, err
	}
	return v, off, nil
}
