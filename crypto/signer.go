package crypto

import "btpc.dev/node/consensus"

// AsScriptVerifier adapts a Provider to consensus.VerifySigner so the script
// interpreter can call into whichever crypto backend the node was built
// with, without the consensus package importing crypto directly.
func AsScriptVerifier(p Provider) consensus.VerifySigner {
	return scriptVerifierAdapter{p}
}

type scriptVerifierAdapter struct{ p Provider }

func (a scriptVerifierAdapter) VerifyMLDSA65(pubkey, sig, message []byte) bool {
	return a.p.VerifyMLDSA65(pubkey, sig, message)
}
