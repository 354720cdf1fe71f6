package services

import (
	"context"
	"math/big"
	"testing"

	"light-mint-service/chain"
	"light-mint-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBalances struct {
	total, locked *big.Int
	err           error
}

func (s *stubBalances) Balances(ctx context.Context, wallet string) (*chain.Balances, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &chain.Balances{Wallet: wallet, Total: s.total, Locked: s.locked}, nil
}

func TestAuthorizeClaim(t *testing.T) {
	db := newTestDB(t)
	bal := &stubBalances{total: chain.ToBaseUnits(100, 18), locked: chain.ToBaseUnits(60, 18)}
	svc := NewClaimService(db, bal, NewAuditLogger(db), 18)
	ctx := context.Background()

	_, err := svc.AuthorizeClaim(ctx, "u1", "", 10)
	assert.ErrorIs(t, err, ErrNoWallet)

	seedProfile(t, db, "u1", walletA)
	claim, err := svc.AuthorizeClaim(ctx, "u1", "", 40)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimAuthorized, claim.Status)
	assert.Equal(t, walletA, claim.WalletAddress)

	_, err = svc.AuthorizeClaim(ctx, "u1", "", 41)
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr, "only unlocked tokens are claimable")

	_, err = svc.AuthorizeClaim(ctx, "u1", "garbage", 1)
	assert.ErrorAs(t, err, &vErr)
	_, err = svc.AuthorizeClaim(ctx, "u1", "", 0)
	assert.ErrorAs(t, err, &vErr)

	bal.err = chain.ErrTimeout
	_, err = svc.AuthorizeClaim(ctx, "u1", "", 1)
	var extErr *ExternalDependencyError
	require.ErrorAs(t, err, &extErr)
	assert.True(t, extErr.Timeout)
}

func TestAuthorizeClaim_GateDenialIsRecorded(t *testing.T) {
	db := newTestDB(t)
	svc := NewClaimService(db, nil, NewAuditLogger(db), 18)
	ctx := context.Background()
	seedProfile(t, db, "u1", walletA)
	require.NoError(t, db.Create(&models.BlacklistedWallet{WalletAddress: walletB, Reason: "scam"}).Error)

	claim, err := svc.AuthorizeClaim(ctx, "u1", walletB, 5)
	assert.ErrorIs(t, err, ErrWalletBlacklisted)
	require.NotNil(t, claim)
	assert.Equal(t, models.ClaimDenied, claim.Status)

	var rows []models.TokenClaim
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, walletB, rows[0].WalletAddress)

	var audits int64
	db.Model(&models.AuditLog{}).Where("action = ? AND success = ?", "claim.authorize", false).Count(&audits)
	assert.Equal(t, int64(1), audits)

	// without a balance reader only the gate applies
	claim, err = svc.AuthorizeClaim(ctx, "u1", "", 5)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimAuthorized, claim.Status)
}

func TestWalletBalance(t *testing.T) {
	db := newTestDB(t)
	bal := &stubBalances{total: big.NewInt(1500000000000000000), locked: big.NewInt(500000000000000000)}
	svc := NewClaimService(db, bal, nil, 18)
	seedProfile(t, db, "u1", walletA)

	out, err := svc.WalletBalance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "1.5", out.Total)
	assert.Equal(t, "0.5", out.Locked)
	assert.Equal(t, "1", out.Unlocked)

	_, err = svc.WalletBalance(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNoWallet)
}
