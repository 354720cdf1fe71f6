// services/claim_service.go
package services

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"light-mint-service/chain"
	"light-mint-service/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// BalanceReader reads on-chain token balances.
type BalanceReader interface {
	Balances(ctx context.Context, wallet string) (*chain.Balances, error)
}

// ClaimService authorizes claims of unlocked tokens. The claim transaction
// itself is sent by the user; this only decides and records.
type ClaimService struct {
	DB       *gorm.DB
	Balances BalanceReader
	Audit    *AuditLogger
	Decimals uint8
	Timeout  time.Duration
	Clock    Clock
}

func NewClaimService(db *gorm.DB, balances BalanceReader, audit *AuditLogger, decimals uint8) *ClaimService {
	return &ClaimService{DB: db, Balances: balances, Audit: audit, Decimals: decimals, Timeout: 10 * time.Second}
}

// WalletBalance is a formatted balance snapshot.
type WalletBalance struct {
	Wallet   string `json:"wallet"`
	Total    string `json:"total"`
	Locked   string `json:"locked"`
	Unlocked string `json:"unlocked"`
}

func (s *ClaimService) readBalances(ctx context.Context, wallet string) (*chain.Balances, error) {
	if s.Balances == nil {
		return nil, &ExternalDependencyError{Service: "rpc", Err: errors.New("rpc not configured")}
	}
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	started := time.Now()
	b, err := s.Balances.Balances(ctx, wallet)
	observeExternal("rpc", err == nil, time.Since(started).Seconds())
	if err != nil {
		return nil, &ExternalDependencyError{
			Service: "rpc",
			Timeout: errors.Is(err, chain.ErrTimeout) || errors.Is(err, context.DeadlineExceeded),
			Err:     err,
		}
	}
	return b, nil
}

func unlocked(b *chain.Balances) *big.Int {
	u := new(big.Int).Sub(b.Total, b.Locked)
	if u.Sign() < 0 {
		u.SetInt64(0)
	}
	return u
}

// WalletBalance returns the on-chain balance of the caller's bound wallet.
func (s *ClaimService) WalletBalance(ctx context.Context, userID string) (*WalletBalance, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	p, err := findProfile(s.DB.WithContext(ctx), userID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoWallet
	}
	if err != nil {
		return nil, err
	}
	if p.WalletAddress == nil || *p.WalletAddress == "" {
		return nil, ErrNoWallet
	}
	wallet := models.NormalizeAddress(*p.WalletAddress)
	b, err := s.readBalances(ctx, wallet)
	if err != nil {
		return nil, err
	}
	return &WalletBalance{
		Wallet:   wallet,
		Total:    chain.FormatUnits(b.Total, s.Decimals),
		Locked:   chain.FormatUnits(b.Locked, s.Decimals),
		Unlocked: chain.FormatUnits(unlocked(b), s.Decimals),
	}, nil
}

// AuthorizeClaim gates a claim of amount whole tokens to wallet (the bound
// wallet when empty). Allowed and gate-denied attempts are both recorded.
func (s *ClaimService) AuthorizeClaim(ctx context.Context, userID, wallet string, amount int64) (*models.TokenClaim, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	if amount <= 0 {
		return nil, invalid("amount", "must be positive")
	}
	db := s.DB.WithContext(ctx)

	p, err := findProfile(db, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoWallet
	}
	if err != nil {
		return nil, err
	}
	wallet = models.NormalizeAddress(wallet)
	if wallet == "" {
		if p.WalletAddress == nil || strings.TrimSpace(*p.WalletAddress) == "" {
			return nil, ErrNoWallet
		}
		wallet = models.NormalizeAddress(*p.WalletAddress)
	}
	if !chain.IsAddress(wallet) {
		return nil, invalid("wallet_address", "not a valid address")
	}

	claim := &models.TokenClaim{UserID: userID, WalletAddress: wallet, Amount: amount, Status: models.ClaimAuthorized}

	var gateErr *FraudGateError
	if reason := gateProfile(p, s.Clock.now()); reason != nil {
		gateErr = &FraudGateError{UserID: userID, Wallet: wallet, Reason: reason}
	} else if blocked, err := isBlacklisted(db, wallet); err != nil {
		return nil, err
	} else if blocked {
		gateErr = &FraudGateError{UserID: userID, Wallet: wallet, Reason: ErrWalletBlacklisted}
	}

	if gateErr != nil {
		claim.Status = models.ClaimDenied
		claim.DenyReason = gateErr.Reason.Error()
		if err := db.Create(claim).Error; err != nil {
			return nil, err
		}
		recordGateDenial(ctx, s.DB, s.Audit, "claim.authorize", gateErr)
		return claim, gateErr
	}

	if s.Balances != nil {
		b, err := s.readBalances(ctx, wallet)
		if err != nil {
			return nil, err
		}
		if unlocked(b).Cmp(chain.ToBaseUnits(amount, s.Decimals)) < 0 {
			return nil, invalid("amount", "exceeds unlocked balance")
		}
	}

	if err := db.Create(claim).Error; err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"user_id": userID, "wallet": wallet, "amount": amount}).Info("✅ [CLAIM] claim authorized")
	return claim, nil
}
