package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ClaimStatus string

const (
	ClaimAuthorized ClaimStatus = "authorized"
	ClaimDenied     ClaimStatus = "denied"
)

// TokenClaim records a user's request to claim unlocked tokens to a wallet.
// The on-chain claim call itself is made by the client; this row is the
// gate decision and the wallet history used by the ban cascade.
type TokenClaim struct {
	ID            string      `gorm:"primaryKey;type:uuid" json:"id"`
	UserID        string      `gorm:"type:varchar(64);not null;index" json:"user_id"`
	WalletAddress string      `gorm:"type:varchar(64);not null;index" json:"wallet_address"`
	Amount        int64       `gorm:"not null" json:"amount"`
	Status        ClaimStatus `gorm:"type:varchar(16);not null" json:"status"`
	DenyReason    string      `gorm:"type:text" json:"deny_reason,omitempty"`
	TxHash        *string     `gorm:"type:varchar(66)" json:"tx_hash,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

func (c *TokenClaim) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.WalletAddress = NormalizeAddress(c.WalletAddress)
	return nil
}
