package consensus

// BlockHeader is the fixed-size portion of a block that determines its hash
// and proof of work (§3, §4.6).
type BlockHeader struct {
	Version       uint32
	PrevBlockHash Hash
	MerkleRoot    Hash
	Timestamp     uint64
	Bits          uint32 // compact encoding of the target (§4.4)
	Nonce         uint32
}

// Block pairs a header with its ordered transaction list; Transactions[0]
// is always the coinbase (§3, §4.6 step 7).
type Block struct {
	Header       BlockHeader
	Transactions []Transaction
}

// HeaderBytesLen is the fixed wire size of a serialized BlockHeader.
const HeaderBytesLen = 4 + HashSize + HashSize + 8 + 4 + 4

// HeaderBytes renders the fixed-size header encoding used for header-first
// sync and compact-block relay, independent of the rest of the block.
func HeaderBytes(h BlockHeader) []byte {
	return h.serialize()
}

func (h *BlockHeader) serialize() []byte {
	out := make([]byte, 0, 4+64+64+8+4+4)
	out = appendU32le(out, h.Version)
	out = append(out, h.PrevBlockHash[:]...)
	out = append(out, h.MerkleRoot[:]...)
	out = appendU64le(out, h.Timestamp)
	out = appendU32le(out, h.Bits)
	out = appendU32le(out, h.Nonce)
	return out
}

// Hash is DoubleSHA512 of the serialized header — the block's identity and
// the quantity proof of work is measured against (§3, §4.4).
func (h *BlockHeader) Hash() Hash {
	return DoubleSHA512(h.serialize())
}

func parseBlockHeader(b []byte, off *int) (BlockHeader, error) {
	var h BlockHeader
	var err error
	h.Version, err = readU32le(b, off)
	if err != nil {
		return h, err
	}
	h.PrevBlockHash, err = readHash(b, off)
	if err != nil {
		return h, err
	}
	h.MerkleRoot, err = readHash(b, off)
	if err != nil {
		return h, err
	}
	h.Timestamp, err = readU64le(b, off)
	if err != nil {
		return h, err
	}
	h.Bits, err = readU32le(b, off)
	if err != nil {
		return h, err
	}
	h.Nonce, err = readU32le(b, off)
	if err != nil {
		return h, err
	}
	return h, nil
}

// ParseBlockHeaderBytes parses a standalone, fixed-size serialized header
// (used for header-first sync and the block index, §4.8).
func ParseBlockHeaderBytes(b []byte) (BlockHeader, error) {
	off := 0
	h, err := parseBlockHeader(b, &off)
	if err != nil {
		return BlockHeader{}, err
	}
	if off != len(b) {
		return BlockHeader{}, newErr(ErrParse, "trailing bytes after header")
	}
	return h, nil
}

// SerializeHeader renders only the header (used for header-first sync, §4.8).
func (b *Block) SerializeHeader() []byte {
	return b.Header.serialize()
}

// Serialize renders the full block: header followed by the var_int-counted
// transaction list (§6).
func (b *Block) Serialize() []byte {
	out := b.Header.serialize()
	out = appendVarInt(out, uint64(len(b.Transactions)))
	for i := range b.Transactions {
		out = append(out, b.Transactions[i].Serialize()...)
	}
	return out
}

// BlockHash is the hash of the block's header.
func (b *Block) BlockHash() Hash {
	return b.Header.Hash()
}

func ParseBlock(raw []byte) (Block, error) {
	off := 0
	header, err := parseBlockHeader(raw, &off)
	if err != nil {
		return Block{}, err
	}
	nTx, err := readVarInt(raw, &off)
	if err != nil {
		return Block{}, err
	}
	if nTx == 0 {
		return Block{}, newErr(ErrBlockEmpty, "block has no transactions")
	}
	txs := make([]Transaction, 0, nTx)
	for i := uint64(0); i < nTx; i++ {
		tx, err := parseTransactionAt(raw, &off)
		if err != nil {
			return Block{}, err
		}
		txs = append(txs, tx)
	}
	return Block{Header: header, Transactions: txs}, nil
}

// ValidateStructure checks the stateless, context-free block invariants of
// §4.1/§4.6 steps 1-5,7: non-empty, size limit, sole leading coinbase, no
// duplicate txids, merkle root match, and per-transaction structure.
func (b *Block) ValidateStructure() error {
	if len(b.Transactions) == 0 {
		return newErr(ErrBlockEmpty, "block has no transactions")
	}
	if len(b.Serialize()) > MaxBlockSizeBytes {
		return newErr(ErrBlockTooLarge, "block exceeds %d bytes", MaxBlockSizeBytes)
	}

	if !b.Transactions[0].IsCoinbase() {
		return newErr(ErrNoCoinbaseTransaction, "first transaction must be coinbase")
	}
	for i := 1; i < len(b.Transactions); i++ {
		if b.Transactions[i].IsCoinbase() {
			return newErr(ErrInvalidCoinbaseInput, "coinbase-shaped transaction outside position 0")
		}
	}

	seen := make(map[Hash]struct{}, len(b.Transactions))
	leaves := make([]Hash, len(b.Transactions))
	for i := range b.Transactions {
		if err := b.Transactions[i].ValidateStructure(); err != nil {
			return err
		}
		txid := b.Transactions[i].TxID()
		if _, dup := seen[txid]; dup {
			return newErr(ErrDuplicateTxInBlock, "duplicate txid %s in block", txid)
		}
		seen[txid] = struct{}{}
		leaves[i] = txid
	}

	if MerkleRoot(leaves) != b.Header.MerkleRoot {
		return newErr(ErrInvalidMerkleRoot, "computed merkle root does not match header")
	}
	return nil
}
