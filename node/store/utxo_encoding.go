package store

import (
	"encoding/binary"
	"fmt"

	"btpc.dev/node/consensus"
)

func encodeOutpointKey(p consensus.OutPoint) []byte {
	// txid(64) || vout(u32 little-endian)
	out := make([]byte, 64+4)
	copy(out[0:64], p.TxID[:])
	binary.LittleEndian.PutUint32(out[64:68], p.Vout)
	return out
}

func decodeOutpointKey(b []byte) (consensus.OutPoint, error) {
	if len(b) != 68 {
		return consensus.OutPoint{}, fmt.Errorf("outpoint: expected 68 bytes, got %d", len(b))
	}
	var txid consensus.Hash
	copy(txid[:], b[0:64])
	vout := binary.LittleEndian.Uint32(b[64:68])
	return consensus.OutPoint{TxID: txid, Vout: vout}, nil
}

func encodeUtxoEntry(u consensus.UTXO) ([]byte, error) {
	spk := u.Output.ScriptPubkey.Serialize()
	if len(spk) > 0xffffffff {
		return nil, fmt.Errorf("utxo: script_pubkey too large")
	}
	// Layout: value u64le | height u32le | is_coinbase u8 | spk_len VarInt | spk_bytes
	spkLen := consensus.EncodeVarInt(uint64(len(spk)))
	out := make([]byte, 0, 8+4+1+len(spkLen)+len(spk))
	var tmp8 [8]byte
	var tmp4 [4]byte
	binary.LittleEndian.PutUint64(tmp8[:], u.Output.Value)
	out = append(out, tmp8[:]...)
	binary.LittleEndian.PutUint32(tmp4[:], u.Height)
	out = append(out, tmp4[:]...)
	if u.IsCoinbase {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	out = append(out, spkLen...)
	out = append(out, spk...)
	return out, nil
}

func decodeUtxoEntry(b []byte) (consensus.UTXO, error) {
	if len(b) < 8+4+1 {
		return consensus.UTXO{}, fmt.Errorf("utxo: truncated")
	}
	off := 0
	value := binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	height := binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	isCoinbase := b[off] == 1
	off++

	spkLen, n, err := consensus.DecodeVarInt(b[off:])
	if err != nil {
		return consensus.UTXO{}, fmt.Errorf("utxo: spk_len: %w", err)
	}
	off += n
	if off+int(spkLen) != len(b) {
		return consensus.UTXO{}, fmt.Errorf("utxo: bad spk_len")
	}
	spk, err := consensus.ParseScript(b[off:])
	if err != nil {
		return consensus.UTXO{}, fmt.Errorf("utxo: script_pubkey: %w", err)
	}
	return consensus.UTXO{
		Output: consensus.TransactionOutput{
			Value:        value,
			ScriptPubkey: spk,
		},
		Height:     height,
		IsCoinbase: isCoinbase,
	}, nil
}
