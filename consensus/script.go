package consensus

import "bytes"

// Opcodes. Codes below OpPushData1 are literal push-length bytes (1..75),
// matching the classic Bitcoin script convention; only the P2PKH-shaped
// subset is interpreted (§3, §4.1).
const (
	OpPushData1  byte = 0x4c
	OpPushData2  byte = 0x4d
	OpDup        byte = 0x76
	OpHashPubkey byte = 0xa9 // pop pubkey, push first 20 bytes of DoubleSHA512(pubkey)
	OpEqualVerify byte = 0x88
	OpCheckSigMLDSA byte = 0xac
)

// ScriptOp is one instruction: either a literal opcode or a data push.
type ScriptOp struct {
	Code byte
	Data []byte // non-nil for push ops
}

// Script is an ordered opcode list plus its canonical byte serialization
// (§3). Transaction wire format carries the serialized bytes; validation
// operates on the parsed op list.
type Script struct {
	Ops []ScriptOp
}

func (s Script) Size() int {
	return len(s.Serialize())
}

// Serialize renders the op list back to bytes. Data pushes up to 75 bytes
// use the literal length-prefix byte; longer pushes (lattice pubkeys and
// signatures routinely exceed 75 bytes) use OP_PUSHDATA1/OP_PUSHDATA2.
func (s Script) Serialize() []byte {
	var out []byte
	for _, op := range s.Ops {
		if op.Data == nil {
			out = append(out, op.Code)
			continue
		}
		n := len(op.Data)
		switch {
		case n <= 75:
			out = append(out, byte(n))
		case n <= 0xff:
			out = append(out, OpPushData1, byte(n))
		default:
			out = append(out, OpPushData2)
			out = appendU16le(out, uint16(n))
		}
		out = append(out, op.Data...)
	}
	return out
}

func appendU16le(dst []byte, v uint16) []byte {
	return append(dst, byte(v), byte(v>>8))
}

func ParseScript(b []byte) (Script, error) {
	var s Script
	off := 0
	for off < len(b) {
		code, err := readU8(b, &off)
		if err != nil {
			return Script{}, err
		}
		switch {
		case code >= 1 && code <= 75:
			data, err := readBytes(b, &off, int(code))
			if err != nil {
				return Script{}, err
			}
			s.Ops = append(s.Ops, ScriptOp{Code: code, Data: append([]byte(nil), data...)})
		case code == OpPushData1:
			n, err := readU8(b, &off)
			if err != nil {
				return Script{}, err
			}
			data, err := readBytes(b, &off, int(n))
			if err != nil {
				return Script{}, err
			}
			s.Ops = append(s.Ops, ScriptOp{Code: code, Data: append([]byte(nil), data...)})
		case code == OpPushData2:
			n, err := readU16leScript(b, &off)
			if err != nil {
				return Script{}, err
			}
			data, err := readBytes(b, &off, int(n))
			if err != nil {
				return Script{}, err
			}
			s.Ops = append(s.Ops, ScriptOp{Code: code, Data: append([]byte(nil), data...)})
		default:
			s.Ops = append(s.Ops, ScriptOp{Code: code})
		}
	}
	return s, nil
}

func readU16leScript(b []byte, off *int) (uint16, error) {
	lo, err := readU8(b, off)
	if err != nil {
		return 0, err
	}
	hi, err := readU8(b, off)
	if err != nil {
		return 0, err
	}
	return uint16(lo) | uint16(hi)<<8, nil
}

// NewP2PKHLockScript builds the canonical "pay to pubkey hash" scriptPubKey:
// OP_DUP OP_HASHPUBKEY <20-byte hash> OP_EQUALVERIFY OP_CHECKSIGMLDSA.
func NewP2PKHLockScript(pubkeyHash [PublicKeyHashSize]byte) Script {
	return Script{Ops: []ScriptOp{
		{Code: OpDup},
		{Code: OpHashPubkey},
		{Code: byte(PublicKeyHashSize), Data: pubkeyHash[:]},
		{Code: OpEqualVerify},
		{Code: OpCheckSigMLDSA},
	}}
}

// NewP2PKHUnlockScript builds the scriptSig carrying the signature and
// spender's public key.
func NewP2PKHUnlockScript(signature, pubkey []byte) Script {
	return Script{Ops: []ScriptOp{
		{Code: 0, Data: signature},
		{Code: 0, Data: pubkey},
	}}
}

// PubkeyHash truncates DoubleSHA512(pubkey) to PublicKeyHashSize bytes,
// the P2PKH convention carried over from Bitcoin's script description even
// though the underlying hash function changed (SPEC_FULL §3-FULL).
func PubkeyHash(pubkey []byte) [PublicKeyHashSize]byte {
	full := DoubleSHA512(pubkey)
	var out [PublicKeyHashSize]byte
	copy(out[:], full[:PublicKeyHashSize])
	return out
}

// VerifySigner is the narrow oracle the script interpreter calls to check a
// lattice signature (§9 Design Notes: "core consumes a signature-verification
// oracle"). Implementations live in package crypto.
type VerifySigner interface {
	VerifyMLDSA65(pubkey, sig, message []byte) bool
}

// ExecuteP2PKH runs scriptSig followed by scriptPubKey against message (the
// transaction's signature image for the spending input) and reports whether
// the combined script succeeds (§3, §4.1, §4.6 step 6).
//
// This interpreter only understands the P2PKH op sequence the core's script
// model defines; any other shape is a ScriptExecutionFailed error, not a
// more general script language.
func ExecuteP2PKH(sigScript, pubkeyScript Script, message []byte, verifier VerifySigner) error {
	var stack [][]byte
	push := func(b []byte) { stack = append(stack, b) }
	pop := func() ([]byte, error) {
		if len(stack) == 0 {
			return nil, newErr(ErrScriptExecutionFailed, "stack underflow")
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, nil
	}

	run := func(ops []ScriptOp) error {
		for _, op := range ops {
			if op.Data != nil {
				push(op.Data)
				continue
			}
			switch op.Code {
			case OpDup:
				if len(stack) == 0 {
					return newErr(ErrScriptExecutionFailed, "OP_DUP: empty stack")
				}
				top := stack[len(stack)-1]
				push(append([]byte(nil), top...))
			case OpHashPubkey:
				pubkey, err := pop()
				if err != nil {
					return err
				}
				h := PubkeyHash(pubkey)
				push(h[:])
			case OpEqualVerify:
				a, err := pop()
				if err != nil {
					return err
				}
				b, err := pop()
				if err != nil {
					return err
				}
				if !bytes.Equal(a, b) {
					return newErr(ErrScriptExecutionFailed, "OP_EQUALVERIFY: mismatch")
				}
			case OpCheckSigMLDSA:
				pubkey, err := pop()
				if err != nil {
					return err
				}
				sig, err := pop()
				if err != nil {
					return err
				}
				if verifier == nil || !verifier.VerifyMLDSA65(pubkey, sig, message) {
					return newErr(ErrSignatureVerificationFailed, "ML-DSA-65 verification failed")
				}
				push([]byte{1})
			default:
				return newErr(ErrScriptExecutionFailed, "unsupported opcode 0x%02x", op.Code)
			}
		}
		return nil
	}

	if err := run(sigScript.Ops); err != nil {
		return err
	}
	if err := run(pubkeyScript.Ops); err != nil {
		return err
	}
	if len(stack) != 1 || len(stack[0]) == 0 || stack[0][0] == 0 {
		return newErr(ErrScriptExecutionFailed, "final stack value is false")
	}
	return nil
}
