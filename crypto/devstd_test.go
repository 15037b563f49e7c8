package crypto

import (
	"crypto/sha512"
	"testing"
)

func TestDevStdDoubleSHA512MatchesManualComposition(t *testing.T) {
	p := DevStdProvider{}
	input := []byte("abc")
	first := sha512.Sum512(input)
	want := sha512.Sum512(first[:])
	if got := p.DoubleSHA512(input); got != want {
		t.Fatalf("digest mismatch: got=%x want=%x", got, want)
	}
}

func TestDevStdVerifyAlwaysFalse(t *testing.T) {
	p := DevStdProvider{}
	if p.VerifyMLDSA65(make([]byte, MLDSA65PublicKeySize), make([]byte, MLDSA65SignatureSize), []byte("msg")) {
		t.Fatalf("VerifyMLDSA65 unexpectedly returned true")
	}
}

func TestDevStdGenerateKeySizes(t *testing.T) {
	p := DevStdProvider{}
	pub, priv, err := p.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if len(pub) != MLDSA65PublicKeySize {
		t.Fatalf("pubkey size = %d, want %d", len(pub), MLDSA65PublicKeySize)
	}
	if len(priv) != MLDSA65PrivateKeySize {
		t.Fatalf("privkey size = %d, want %d", len(priv), MLDSA65PrivateKeySize)
	}
}

func TestDevStdSignSizeAndDeterminism(t *testing.T) {
	p := DevStdProvider{}
	_, priv, err := p.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sig1, err := p.Sign(priv, []byte("message"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig1) != MLDSA65SignatureSize {
		t.Fatalf("sig size = %d, want %d", len(sig1), MLDSA65SignatureSize)
	}
	sig2, _ := p.Sign(priv, []byte("message"))
	if string(sig1) != string(sig2) {
		t.Fatalf("Sign should be deterministic for the same key and message")
	}
}
