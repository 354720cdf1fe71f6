package chain

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

var ErrInvalidSignature = errors.New("chain: invalid signature")

// DecodeSignature parses a 65-byte r‖s‖v signature in hex.
func DecodeSignature(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil || len(b) != 65 {
		return nil, ErrInvalidSignature
	}
	return b, nil
}

// RecoverAddress returns the lower-case address that produced sig over digest.
// v may be 0/1 or 27/28.
func RecoverAddress(digest Hash, sig []byte) (string, error) {
	if len(sig) != 65 {
		return "", ErrInvalidSignature
	}
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return "", ErrInvalidSignature
	}
	compact := make([]byte, 65)
	compact[0] = 27 + v
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, digest[:])
	if err != nil {
		return "", ErrInvalidSignature
	}
	return PubkeyToAddress(pub), nil
}

// PubkeyToAddress derives the 20-byte account address of a public key.
func PubkeyToAddress(pub *secp256k1.PublicKey) string {
	raw := pub.SerializeUncompressed()
	h := Keccak256(raw[1:])
	return "0x" + hex.EncodeToString(h[12:])
}

// SignDigest signs digest and returns r‖s‖v with v in {27, 28}.
// Production signers sign out of band; this is used by tooling and tests.
func SignDigest(key *secp256k1.PrivateKey, digest Hash) []byte {
	compact := ecdsa.SignCompact(key, digest[:], false)
	sig := make([]byte, 65)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return sig
}
