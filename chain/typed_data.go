// Package chain holds the on-chain side of minting: the typed-data payload
// signers approve, signer recovery, fixed-point amounts and the relay client.
package chain

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	domainType = "EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"
	mintType   = "Mint(address recipient,uint256 amount,bytes32 actionsHash,bytes32 nonce,uint256 deadline)"
)

var (
	domainTypeHash = Keccak256([]byte(domainType))
	mintTypeHash   = Keccak256([]byte(mintType))

	ErrInvalidAddress = errors.New("chain: invalid address")
	ErrInvalidHash    = errors.New("chain: invalid 32-byte hex value")
)

// Hash is a 32-byte keccak digest.
type Hash [32]byte

func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// HexToHash parses a 0x-prefixed 32-byte hex string.
func HexToHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil || len(b) != len(h) {
		return h, ErrInvalidHash
	}
	copy(h[:], b)
	return h, nil
}

// Keccak256 hashes the concatenation of data with legacy Keccak-256.
func Keccak256(data ...[]byte) Hash {
	var h Hash
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	d.Sum(h[:0])
	return h
}

// ParseAddress decodes a 0x-prefixed 20-byte address.
func ParseAddress(s string) ([20]byte, error) {
	var a [20]byte
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return a, ErrInvalidAddress
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil || len(b) != len(a) {
		return a, ErrInvalidAddress
	}
	copy(a[:], b)
	return a, nil
}

// IsAddress reports whether s is a well-formed 0x address.
func IsAddress(s string) bool {
	_, err := ParseAddress(s)
	return err == nil
}

func word(b []byte) []byte {
	w := make([]byte, 32)
	copy(w[32-len(b):], b)
	return w
}

func uint256(v *big.Int) ([]byte, error) {
	if v == nil || v.Sign() < 0 || v.BitLen() > 256 {
		return nil, fmt.Errorf("chain: value out of uint256 range")
	}
	return v.FillBytes(make([]byte, 32)), nil
}

// Domain identifies the network and contract a payload is valid for.
type Domain struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           int64  `json:"chain_id"`
	VerifyingContract string `json:"verifying_contract"`
}

// Separator returns the EIP-712 domain separator.
func (d Domain) Separator() (Hash, error) {
	contract, err := ParseAddress(d.VerifyingContract)
	if err != nil {
		return Hash{}, fmt.Errorf("verifying contract: %w", err)
	}
	chainID, err := uint256(big.NewInt(d.ChainID))
	if err != nil {
		return Hash{}, err
	}
	name := Keccak256([]byte(d.Name))
	version := Keccak256([]byte(d.Version))
	return Keccak256(domainTypeHash[:], name[:], version[:], chainID, word(contract[:])), nil
}

// MintMessage is the message authorized signers approve.
type MintMessage struct {
	Recipient   string   `json:"recipient"`
	Amount      *big.Int `json:"amount"` // base units
	ActionsHash Hash     `json:"actions_hash"`
	Nonce       Hash     `json:"nonce"`
	Deadline    int64    `json:"deadline"`
}

func (m MintMessage) StructHash() (Hash, error) {
	recipient, err := ParseAddress(m.Recipient)
	if err != nil {
		return Hash{}, fmt.Errorf("recipient: %w", err)
	}
	amount, err := uint256(m.Amount)
	if err != nil {
		return Hash{}, fmt.Errorf("amount: %w", err)
	}
	deadline, err := uint256(big.NewInt(m.Deadline))
	if err != nil {
		return Hash{}, fmt.Errorf("deadline: %w", err)
	}
	return Keccak256(mintTypeHash[:], word(recipient[:]), amount, m.ActionsHash[:], m.Nonce[:], deadline), nil
}

// Digest returns the hash signers sign: keccak256(0x19 0x01 ‖ domainSeparator ‖ structHash).
func Digest(d Domain, m MintMessage) (Hash, error) {
	sep, err := d.Separator()
	if err != nil {
		return Hash{}, err
	}
	sh, err := m.StructHash()
	if err != nil {
		return Hash{}, err
	}
	return Keccak256([]byte{0x19, 0x01}, sep[:], sh[:]), nil
}

// ActionsHash commits to a set of action ids independent of their order,
// encoded like a bytes32[] of per-id hashes.
func ActionsHash(ids []string) Hash {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	buf := make([]byte, 0, 32*len(sorted))
	for _, id := range sorted {
		h := Keccak256([]byte(id))
		buf = append(buf, h[:]...)
	}
	return Keccak256(buf)
}

// NewNonce returns 32 random bytes.
func NewNonce() (Hash, error) {
	var n Hash
	if _, err := rand.Read(n[:]); err != nil {
		return n, fmt.Errorf("chain: read nonce: %w", err)
	}
	return n, nil
}
