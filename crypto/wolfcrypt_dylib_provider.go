//go:build wolfcrypt_dylib

package crypto

/*
#cgo linux LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdint.h>
#include <stdlib.h>

typedef int32_t (*btpc_sha512d_fn)(const uint8_t*, size_t, uint8_t*);
typedef int32_t (*btpc_verify_mldsa65_fn)(const uint8_t*, size_t, const uint8_t*, size_t, const uint8_t*, size_t);

typedef struct {
	void* handle;
	btpc_sha512d_fn sha512d;
	btpc_verify_mldsa65_fn verify_mldsa65;
} btpc_wc_provider_t;

static int btpc_wc_load(btpc_wc_provider_t* p, const char* path) {
	p->handle = dlopen(path, RTLD_LAZY);
	if (!p->handle) return -1;

	p->sha512d = (btpc_sha512d_fn)dlsym(p->handle, "btpc_wc_sha512d");
	p->verify_mldsa65 = (btpc_verify_mldsa65_fn)dlsym(p->handle, "btpc_wc_verify_mldsa65");

	if (!p->sha512d || !p->verify_mldsa65) {
		dlclose(p->handle);
		p->handle = NULL;
		return -2;
	}
	return 0;
}

static int32_t btpc_wc_sha512d_call(btpc_wc_provider_t* p, const uint8_t* input, size_t len, uint8_t* out) {
	if (!p || !p->sha512d) {
		return -1;
	}
	return p->sha512d(input, len, out);
}

static int32_t btpc_wc_verify_mldsa65_call(
	btpc_wc_provider_t* p,
	const uint8_t* pk,
	size_t pk_len,
	const uint8_t* sig,
	size_t sig_len,
	const uint8_t* msg,
	size_t msg_len
) {
	if (!p || !p->verify_mldsa65) {
		return -1;
	}
	return p->verify_mldsa65(pk, pk_len, sig, sig_len, msg, msg_len);
}

static void btpc_wc_close(btpc_wc_provider_t* p) {
	if (p->handle) {
		dlclose(p->handle);
		p->handle = NULL;
	}
}
*/
import "C"

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"unsafe"

	"golang.org/x/crypto/sha3"
)

// WolfcryptDylibProvider loads a local shim dylib exposing a stable
// ML-DSA-65 verification ABI. The shim is expected to be provided by the
// compliance build pipeline and linked to wolfCrypt's PQC module.
type WolfcryptDylibProvider struct {
	p C.btpc_wc_provider_t
}

// LoadWolfcryptDylibProviderFromEnv loads the shim from BTPC_WOLFCRYPT_SHIM_PATH.
func LoadWolfcryptDylibProviderFromEnv() (*WolfcryptDylibProvider, error) {
	path, ok := os.LookupEnv("BTPC_WOLFCRYPT_SHIM_PATH")
	if !ok || path == "" {
		return nil, errors.New("BTPC_WOLFCRYPT_SHIM_PATH is not set")
	}
	strict := func() bool {
		v := os.Getenv("BTPC_WOLFCRYPT_STRICT")
		return v == "1" || strings.EqualFold(v, "true")
	}()

	if expected := os.Getenv("BTPC_WOLFCRYPT_SHIM_SHA3_256"); expected != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		h := sha3.New256()
		if _, err := io.Copy(h, f); err != nil {
			return nil, err
		}
		sum := h.Sum(nil)
		actual := hex.EncodeToString(sum)
		if actual != strings.ToLower(expected) {
			return nil, errors.New("wolfcrypt shim hash mismatch (BTPC_WOLFCRYPT_SHIM_SHA3_256)")
		}
	} else if strict {
		return nil, errors.New("BTPC_WOLFCRYPT_SHIM_SHA3_256 required when BTPC_WOLFCRYPT_STRICT=1")
	}
	return LoadWolfcryptDylibProvider(path)
}

func LoadWolfcryptDylibProvider(path string) (*WolfcryptDylibProvider, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	var p C.btpc_wc_provider_t
	rc := C.btpc_wc_load(&p, cpath)
	if rc != 0 {
		return nil, errors.New("failed to load wolfcrypt shim dylib")
	}

	prov := &WolfcryptDylibProvider{p: p}
	runtime.SetFinalizer(prov, func(x *WolfcryptDylibProvider) { C.btpc_wc_close(&x.p) })
	return prov, nil
}

func (w *WolfcryptDylibProvider) DoubleSHA512(input []byte) [64]byte {
	var out [64]byte
	if len(input) == 0 {
		rc := C.int32_t(C.btpc_wc_sha512d_call(&w.p, nil, 0, (*C.uint8_t)(unsafe.Pointer(&out[0]))))
		if rc != 1 {
			panic(fmt.Sprintf("wolfcrypt shim error: btpc_wc_sha512d rc=%d", rc))
		}
		return out
	}
	rc := C.int32_t(C.btpc_wc_sha512d_call(&w.p, (*C.uint8_t)(unsafe.Pointer(&input[0])), C.size_t(len(input)), (*C.uint8_t)(unsafe.Pointer(&out[0]))))
	if rc != 1 {
		panic(fmt.Sprintf("wolfcrypt shim error: btpc_wc_sha512d rc=%d", rc))
	}
	return out
}

func (w *WolfcryptDylibProvider) VerifyMLDSA65(pubkey, sig, message []byte) bool {
	if len(pubkey) == 0 || len(sig) == 0 {
		return false
	}
	var msgPtr *C.uint8_t
	if len(message) > 0 {
		msgPtr = (*C.uint8_t)(unsafe.Pointer(&message[0]))
	}
	rc := C.int32_t(C.btpc_wc_verify_mldsa65_call(
		&w.p,
		(*C.uint8_t)(unsafe.Pointer(&pubkey[0])), C.size_t(len(pubkey)),
		(*C.uint8_t)(unsafe.Pointer(&sig[0])), C.size_t(len(sig)),
		msgPtr, C.size_t(len(message)),
	))
	switch rc {
	case 1:
		return true
	case 0:
		return false
	default:
		panic(fmt.Sprintf("wolfcrypt shim error: btpc_wc_verify_mldsa65 rc=%d", rc))
	}
}
