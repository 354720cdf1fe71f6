package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RewardStatus string

const (
	RewardPending RewardStatus = "pending"
	RewardOnHold  RewardStatus = "on_hold"
	RewardBanned  RewardStatus = "banned"
	RewardActive  RewardStatus = "active"
)

type WalletRiskStatus string

const (
	WalletRiskNormal  WalletRiskStatus = "normal"
	WalletRiskFrozen  WalletRiskStatus = "frozen"
	WalletRiskBlocked WalletRiskStatus = "blocked"
)

// Profile is the local snapshot of a user: identity fields synced from the
// profile service plus the containment state owned by this service.
// The sync worker never writes the containment columns.
type Profile struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID   string `gorm:"type:varchar(64);uniqueIndex;not null" json:"user_id"` // profile service id
	Username string `gorm:"index" json:"username"`
	Email    string `json:"email,omitempty"`
	IsAdmin  bool   `gorm:"not null;default:false;index" json:"is_admin"`

	// Wallet fields; WalletAddress is the mint destination.
	WalletAddress         *string `gorm:"type:varchar(64)" json:"wallet_address,omitempty"`
	ExternalWalletAddress *string `gorm:"type:varchar(64)" json:"external_wallet_address,omitempty"`

	// Containment state
	RewardStatus     RewardStatus     `gorm:"type:varchar(16);not null;default:'active'" json:"reward_status"`
	RewardStatusNote string           `gorm:"type:text" json:"reward_status_note,omitempty"`
	IsBanned         bool             `gorm:"not null;default:false" json:"is_banned"`
	BanReason        *string          `gorm:"type:text" json:"ban_reason,omitempty"`
	BannedAt         *time.Time       `json:"banned_at,omitempty"`
	BannedBy         *string          `gorm:"type:varchar(64)" json:"banned_by,omitempty"`
	WalletRiskStatus WalletRiskStatus `gorm:"type:varchar(16);not null;default:'normal'" json:"wallet_risk_status"`
	ClaimFreezeUntil *time.Time       `json:"claim_freeze_until,omitempty"`
	PendingRewards   int64            `gorm:"not null;default:0" json:"pending_rewards"`
	ApprovedRewards  int64            `gorm:"not null;default:0" json:"approved_rewards"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (p *Profile) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.RewardStatus == "" {
		p.RewardStatus = RewardActive
	}
	if p.WalletRiskStatus == "" {
		p.WalletRiskStatus = WalletRiskNormal
	}
	return nil
}

// Wallets returns the non-empty wallet addresses stored on the profile.
func (p *Profile) Wallets() []string {
	var out []string
	for _, w := range []*string{p.WalletAddress, p.ExternalWalletAddress} {
		if w != nil && strings.TrimSpace(*w) != "" {
			out = append(out, *w)
		}
	}
	return out
}

// NormalizeAddress lower-cases and trims a wallet address so blacklist
// lookups are case-insensitive.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
