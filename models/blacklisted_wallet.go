package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BlacklistedWallet blocks any mint or claim to the address.
type BlacklistedWallet struct {
	ID            string    `gorm:"primaryKey;type:uuid" json:"id"`
	WalletAddress string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"wallet_address"` // normalized
	Reason        string    `gorm:"type:text" json:"reason"`
	IsPermanent   bool      `gorm:"not null;default:false" json:"is_permanent"`
	UserID        *string   `gorm:"type:varchar(64);index" json:"user_id,omitempty"`
	CreatedBy     string    `gorm:"type:varchar(64)" json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (w *BlacklistedWallet) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	w.WalletAddress = NormalizeAddress(w.WalletAddress)
	return nil
}
