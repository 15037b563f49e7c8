package crypto

import (
	"crypto/rand"
	"crypto/sha512"
)

// DevStdProvider is a development-only Provider. It implements the hash half
// honestly (plain stdlib double-SHA-512) but has no real ML-DSA-65
// implementation to call — no Go lattice-signature library is available —
// so VerifyMLDSA65 always reports failure and GenerateKey/Sign produce
// correctly-sized but cryptographically meaningless material. It exists
// only to unblock wiring and tests; it does NOT claim any security property
// and must never be selected in a production build.
type DevStdProvider struct{}

func (DevStdProvider) DoubleSHA512(input []byte) [64]byte {
	first := sha512.Sum512(input)
	return sha512.Sum512(first[:])
}

func (DevStdProvider) VerifyMLDSA65(_, _, _ []byte) bool { return false }

func (DevStdProvider) GenerateKey() (pubkey, privkey []byte, err error) {
	privkey = make([]byte, MLDSA65PrivateKeySize)
	if _, err := rand.Read(privkey); err != nil {
		return nil, nil, err
	}
	pubkey = make([]byte, MLDSA65PublicKeySize)
	if _, err := rand.Read(pubkey); err != nil {
		return nil, nil, err
	}
	return pubkey, privkey, nil
}

func (DevStdProvider) Sign(privkey, message []byte) ([]byte, error) {
	h := sha512.Sum512(append(append([]byte{}, privkey...), message...))
	sig := make([]byte, MLDSA65SignatureSize)
	for i := range sig {
		sig[i] = h[i%len(h)]
	}
	return sig, nil
}
