package consensus

// TransactionInput spends a previous output, authorizing the spend with
// script_sig (§3).
type TransactionInput struct {
	PreviousOutput OutPoint
	ScriptSig      Script
	Sequence       uint32
}

// TransactionOutput creates a new spendable value locked under
// script_pubkey (§3).
type TransactionOutput struct {
	Value        uint64
	ScriptPubkey Script
}

// Transaction is the core unit of value transfer (§3). ForkID binds a
// signed transaction to one network, giving cross-network replay
// protection when included in the signature image (§4.6, §6, S4).
type Transaction struct {
	Version  uint32
	Inputs   []TransactionInput
	Outputs  []TransactionOutput
	LockTime uint32
	ForkID   byte
}

// IsCoinbase reports whether this transaction has the single-null-input
// shape required of the first transaction in every block (§3, §4.6 step 7).
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].PreviousOutput.IsNull()
}

// Serialize renders the transaction to its canonical wire bytes (§6).
func (tx *Transaction) Serialize() []byte {
	return tx.serialize(false)
}

// serialize builds the wire encoding. When stripSigs is true every
// script_sig is replaced with an empty script — this is the signature
// image used as the message signed/verified for each input (§4.6 step 6,
// §6 "Signature image").
func (tx *Transaction) serialize(stripSigs bool) []byte {
	out := make([]byte, 0, 128)
	out = appendU32le(out, tx.Version)
	out = appendVarInt(out, uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		out = in.PreviousOutput.serialize(out)
		var sigBytes []byte
		if !stripSigs {
			sigBytes = in.ScriptSig.Serialize()
		}
		out = appendVarInt(out, uint64(len(sigBytes)))
		out = append(out, sigBytes...)
		out = appendU32le(out, in.Sequence)
	}
	out = appendVarInt(out, uint64(len(tx.Outputs)))
	for _, o := range tx.Outputs {
		out = appendU64le(out, o.Value)
		spk := o.ScriptPubkey.Serialize()
		out = appendVarInt(out, uint64(len(spk)))
		out = append(out, spk...)
	}
	out = appendU32le(out, tx.LockTime)
	out = append(out, tx.ForkID)
	return out
}

// SignatureImage is the message signed and verified for every input of tx:
// the full transaction reserialized with all script_sigs blanked, with
// ForkID included (§4.6 step 6, §6). It does not depend on the contents of
// any script_sig, including the one being verified (invariant 2, §8).
func (tx *Transaction) SignatureImage() []byte {
	return tx.serialize(true)
}

// TxID is DoubleSHA512 of the canonical (unstripped) serialization (§3).
func (tx *Transaction) TxID() Hash {
	return DoubleSHA512(tx.Serialize())
}

func ParseTransaction(b []byte) (Transaction, int, error) {
	off := 0
	tx, err := parseTransactionAt(b, &off)
	return tx, off, err
}

func parseTransactionAt(b []byte, off *int) (Transaction, error) {
	var tx Transaction
	var err error
	tx.Version, err = readU32le(b, off)
	if err != nil {
		return tx, err
	}

	nIn, err := readVarInt(b, off)
	if err != nil {
		return tx, err
	}
	if nIn > MaxTxInputs {
		return tx, newErr(ErrTooManyInputs, "%d > %d", nIn, MaxTxInputs)
	}
	tx.Inputs = make([]TransactionInput, 0, nIn)
	for i := uint64(0); i < nIn; i++ {
		op, err := parseOutPoint(b, off)
		if err != nil {
			return tx, err
		}
		sigLen, err := readVarInt(b, off)
		if err != nil {
			return tx, err
		}
		sigBytes, err := readBytes(b, off, int(sigLen))
		if err != nil {
			return tx, err
		}
		sigScript, err := ParseScript(sigBytes)
		if err != nil {
			return tx, err
		}
		seq, err := readU32le(b, off)
		if err != nil {
			return tx, err
		}
		tx.Inputs = append(tx.Inputs, TransactionInput{PreviousOutput: op, ScriptSig: sigScript, Sequence: seq})
	}

	nOut, err := readVarInt(b, off)
	if err != nil {
		return tx, err
	}
	if nOut > MaxTxOutputs {
		return tx, newErr(ErrTooManyOutputs, "%d > %d", nOut, MaxTxOutputs)
	}
	tx.Outputs = make([]TransactionOutput, 0, nOut)
	for i := uint64(0); i < nOut; i++ {
		value, err := readU64le(b, off)
		if err != nil {
			return tx, err
		}
		spkLen, err := readVarInt(b, off)
		if err != nil {
			return tx, err
		}
		spkBytes, err := readBytes(b, off, int(spkLen))
		if err != nil {
			return tx, err
		}
		spk, err := ParseScript(spkBytes)
		if err != nil {
			return tx, err
		}
		tx.Outputs = append(tx.Outputs, TransactionOutput{Value: value, ScriptPubkey: spk})
	}

	tx.LockTime, err = readU32le(b, off)
	if err != nil {
		return tx, err
	}
	tx.ForkID, err = readU8(b, off)
	if err != nil {
		return tx, err
	}
	return tx, nil
}

// ValidateStructure checks the stateless, context-free transaction
// invariants of §3/§4.1. It does not touch the UTXO set.
func (tx *Transaction) ValidateStructure() error {
	if tx.Version == 0 {
		return newErr(ErrInvalidVersion, "tx version must be non-zero")
	}
	if len(tx.Inputs) == 0 {
		return newErr(ErrNoInputs, "tx has no inputs")
	}
	if len(tx.Outputs) == 0 {
		return newErr(ErrNoOutputs, "tx has no outputs")
	}
	if len(tx.Inputs) > MaxTxInputs {
		return newErr(ErrTooManyInputs, "%d > %d", len(tx.Inputs), MaxTxInputs)
	}
	if len(tx.Outputs) > MaxTxOutputs {
		return newErr(ErrTooManyOutputs, "%d > %d", len(tx.Outputs), MaxTxOutputs)
	}

	isCoinbase := tx.IsCoinbase()
	seen := make(map[OutPoint]struct{}, len(tx.Inputs))
	for i, in := range tx.Inputs {
		if in.PreviousOutput.IsNull() && !(isCoinbase && i == 0) {
			return newErr(ErrInvalidCoinbase, "null outpoint outside sole coinbase input")
		}
		if _, dup := seen[in.PreviousOutput]; dup {
			return newErr(ErrDuplicateInput, "duplicate outpoint %v", in.PreviousOutput)
		}
		seen[in.PreviousOutput] = struct{}{}
	}

	var total uint64
	for _, o := range tx.Outputs {
		if o.Value == 0 {
			return newErr(ErrZeroValue, "output value must be non-zero")
		}
		if o.Value > MaxOutputValueSatoshis {
			return newErr(ErrValueTooLarge, "output value %d exceeds max", o.Value)
		}
		if o.ScriptPubkey.Size() > MaxTransactionSizeBytes/2 {
			return newErr(ErrScriptTooLarge, "script_pubkey exceeds half of max tx size")
		}
		newTotal := total + o.Value
		if newTotal < total {
			return newErr(ErrValueOverflow, "sum of output values overflows u64")
		}
		total = newTotal
	}

	if len(tx.Serialize()) > MaxTransactionSizeBytes {
		return newErr(ErrTransactionTooLarge, "tx exceeds %d bytes", MaxTransactionSizeBytes)
	}
	return nil
}

// OutputSum returns the total output value, erroring on overflow (re-derived
// here so callers that already validated structure can reuse it cheaply).
func (tx *Transaction) OutputSum() (uint64, error) {
	var total uint64
	for _, o := range tx.Outputs {
		newTotal := total + o.Value
		if newTotal < total {
			return 0, newErr(ErrValueOverflow, "sum of output values overflows u64")
		}
		total = newTotal
	}
	return total, nil
}
