package node

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"btpc.dev/node/crypto"
)

// KeyStoreV1 is the on-disk wrapped-key format: a public key alongside its
// private key encrypted under an operator-supplied key-encryption key, never
// the plaintext private key itself (§4.11-FULL).
type KeyStoreV1 struct {
	Version      string `json:"version"` // "BTPCKSv1"
	PubkeyHex    string `json:"pubkey_hex"`
	KeyIDHex     string `json:"key_id_hex"`
	WrapAlg      string `json:"wrap_alg"` // "AES-256-KW"
	WrappedSKHex string `json:"wrapped_sk_hex"`
}

const keystoreVersion = "BTPCKSv1"

// keyID derives the keystore's lookup id from a public key: DoubleSHA512
// truncated to 32 bytes, the same hash function the consensus core uses
// everywhere else (§3, §4.11-FULL).
func keyID(provider crypto.Provider, pubkey []byte) [32]byte {
	full := provider.DoubleSHA512(pubkey)
	var id [32]byte
	copy(id[:], full[:32])
	return id
}

// ExportWrappedKey wraps a raw ML-DSA-65 private key under kek (32 bytes,
// AES-256) and returns the keystore record to persist. provider supplies the
// hash used to derive the key id.
func ExportWrappedKey(provider crypto.Provider, pubkey, privkey, kek []byte) (KeyStoreV1, error) {
	if len(pubkey) != crypto.MLDSA65PublicKeySize {
		return KeyStoreV1{}, fmt.Errorf("pubkey must be %d bytes, got %d", crypto.MLDSA65PublicKeySize, len(pubkey))
	}
	if len(privkey) == 0 || len(privkey)%8 != 0 {
		return KeyStoreV1{}, errors.New("privkey must be a non-zero multiple of 8 bytes (AES-KW requirement)")
	}
	wrapped, err := crypto.AESKeyWrapRFC3394(kek, privkey)
	if err != nil {
		return KeyStoreV1{}, err
	}
	id := keyID(provider, pubkey)
	return KeyStoreV1{
		Version:      keystoreVersion,
		PubkeyHex:    hex.EncodeToString(pubkey),
		KeyIDHex:     hex.EncodeToString(id[:]),
		WrapAlg:      "AES-256-KW",
		WrappedSKHex: hex.EncodeToString(wrapped),
	}, nil
}

// ImportWrappedKey rewraps a keystore's private key material under a new
// key-encryption key, for KEK rotation without ever writing the plaintext
// private key to disk.
func ImportWrappedKey(ks KeyStoreV1, oldKEK, newKEK []byte) (KeyStoreV1, error) {
	if err := validateKeystore(ks); err != nil {
		return KeyStoreV1{}, err
	}
	wrapped, err := hexDecodeStrict(ks.WrappedSKHex)
	if err != nil {
		return KeyStoreV1{}, fmt.Errorf("wrapped_sk_hex: %w", err)
	}
	plain, err := crypto.AESKeyUnwrapRFC3394(oldKEK, wrapped)
	if err != nil {
		return KeyStoreV1{}, err
	}
	rewrapped, err := crypto.AESKeyWrapRFC3394(newKEK, plain)
	if err != nil {
		return KeyStoreV1{}, err
	}
	ks.WrappedSKHex = hex.EncodeToString(rewrapped)
	return ks, nil
}

// VerifyKeystorePubkey recomputes the key id from the embedded public key
// and checks it against the id stored in the keystore (and, if given, an
// externally expected id), returning the computed id as hex.
func VerifyKeystorePubkey(provider crypto.Provider, ks KeyStoreV1, expectedKeyIDHex string) (string, error) {
	if err := validateKeystore(ks); err != nil {
		return "", err
	}
	pub, err := hexDecodeStrict(ks.PubkeyHex)
	if err != nil {
		return "", fmt.Errorf("pubkey_hex: %w", err)
	}
	id := keyID(provider, pub)
	gotHex := hex.EncodeToString(id[:])
	if ks.KeyIDHex != "" && !strings.EqualFold(ks.KeyIDHex, gotHex) {
		return "", fmt.Errorf("keystore key_id mismatch: embedded=%s computed=%s", ks.KeyIDHex, gotHex)
	}
	if expectedKeyIDHex != "" {
		exp := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(expectedKeyIDHex), "0x"))
		if exp != gotHex {
			return "", fmt.Errorf("expected key_id mismatch: expected=%s computed=%s", exp, gotHex)
		}
	}
	return gotHex, nil
}

func validateKeystore(ks KeyStoreV1) error {
	if ks.Version != keystoreVersion {
		return fmt.Errorf("unsupported keystore version: %q", ks.Version)
	}
	if strings.ToUpper(ks.WrapAlg) != "AES-256-KW" {
		return fmt.Errorf("unsupported wrap_alg: %q", ks.WrapAlg)
	}
	return nil
}

func hexDecodeStrict(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	return hex.DecodeString(s)
}

// ReadKeystoreFile loads and validates a KeyStoreV1 JSON file from disk.
func ReadKeystoreFile(path string) (KeyStoreV1, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-provided path
	if err != nil {
		return KeyStoreV1{}, err
	}
	var ks KeyStoreV1
	if err := json.Unmarshal(raw, &ks); err != nil {
		return KeyStoreV1{}, err
	}
	return ks, validateKeystore(ks)
}

// WriteKeystoreFile persists a KeyStoreV1 as indented JSON with owner-only
// permissions, since it contains wrapped private key material.
func WriteKeystoreFile(path string, ks KeyStoreV1) error {
	b, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o600)
}
