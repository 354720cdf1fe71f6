package chain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDomain = Domain{
	Name:              "LightToken",
	Version:           "1",
	ChainID:           97,
	VerifyingContract: "0x1111111111111111111111111111111111111111",
}

func TestKeccak256_KnownVector(t *testing.T) {
	// keccak256("") is a well known constant
	assert.Equal(t,
		"0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		Keccak256().Hex())
}

func TestDomainSeparator_DependsOnChainAndContract(t *testing.T) {
	a, err := testDomain.Separator()
	require.NoError(t, err)

	other := testDomain
	other.ChainID = 56
	b, err := other.Separator()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	other = testDomain
	other.VerifyingContract = "0x2222222222222222222222222222222222222222"
	c, err := other.Separator()
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestDomainSeparator_InvalidContract(t *testing.T) {
	d := testDomain
	d.VerifyingContract = "not-an-address"
	_, err := d.Separator()
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestActionsHash_OrderIndependent(t *testing.T) {
	a := ActionsHash([]string{"a1", "b2", "c3"})
	b := ActionsHash([]string{"c3", "a1", "b2"})
	c := ActionsHash([]string{"a1", "b2"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestDigest_ChangesWithAmount(t *testing.T) {
	nonce, err := NewNonce()
	require.NoError(t, err)
	msg := MintMessage{
		Recipient:   "0x3333333333333333333333333333333333333333",
		Amount:      ToBaseUnits(130, 18),
		ActionsHash: ActionsHash([]string{"x"}),
		Nonce:       nonce,
		Deadline:    1700000000,
	}
	d1, err := Digest(testDomain, msg)
	require.NoError(t, err)

	msg.Amount = ToBaseUnits(131, 18)
	d2, err := Digest(testDomain, msg)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d2)
}

func TestDigest_RejectsNegativeAmount(t *testing.T) {
	msg := MintMessage{
		Recipient: "0x3333333333333333333333333333333333333333",
		Amount:    big.NewInt(-1),
	}
	_, err := Digest(testDomain, msg)
	assert.Error(t, err)
}

func TestHexToHash_RoundTrip(t *testing.T) {
	n, err := NewNonce()
	require.NoError(t, err)
	parsed, err := HexToHash(n.Hex())
	require.NoError(t, err)
	assert.Equal(t, n, parsed)

	_, err = HexToHash("0x1234")
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestAmounts(t *testing.T) {
	assert.Equal(t, "130000000000000000000", ToBaseUnits(130, 18).String())
	assert.Equal(t, "130", FormatUnits(ToBaseUnits(130, 18), 18))

	v, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.Equal(t, "1.5", FormatUnits(v, 18))
	assert.Equal(t, "0.05", FormatUnits(big.NewInt(5), 2))
}
