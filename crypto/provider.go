package crypto

// Provider is the narrow crypto interface consensus and node code depend on:
// the hash function used for block/transaction identity, and a verification
// oracle for the lattice signature scheme (§3, §9 Design Notes: "core
// consumes a signature-verification oracle"). Implementations may provide a
// wolfCrypt shim or a native backend; DevStdProvider below is the
// development fallback compiled by default.
type Provider interface {
	DoubleSHA512(input []byte) [64]byte
	VerifyMLDSA65(pubkey, sig, message []byte) bool
}

// Signer extends Provider with the operations a wallet or miner needs to
// produce new signatures and keys. Nodes that only validate never need this
// half; it is kept separate so a pure verifier deployment can satisfy
// Provider without carrying private-key material.
type Signer interface {
	Provider
	GenerateKey() (pubkey, privkey []byte, err error)
	Sign(privkey, message []byte) (sig []byte, err error)
}

// ML-DSA-65 (NIST level 3) parameter sizes the core's script and wire
// formats are built around (§1, §3).
const (
	MLDSA65PublicKeySize  = 1952
	MLDSA65PrivateKeySize = 4032
	MLDSA65SignatureSize  = 3309
)
