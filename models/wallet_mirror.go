// models/wallet_mirror.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// WalletMirror mirrors custodial wallets from the wallet service.
// Every address ever mirrored for a user is part of that user's ban cascade,
// so deactivated wallets are kept (IsActive=false) rather than deleted.
type WalletMirror struct {
	ID                 string    `gorm:"primaryKey;type:uuid;not null" json:"id"`
	UserID             string    `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Chain              string    `gorm:"type:varchar(64);not null;index" json:"chain"`
	Token              string    `gorm:"type:varchar(64);not null" json:"token"`
	Address            string    `gorm:"type:varchar(128);not null;uniqueIndex" json:"address"` // Primary lookup key
	DerivationIndex    int32     `gorm:"not null" json:"derivation_index"`
	IsTreasury         bool      `gorm:"not null" json:"is_treasury"`
	IsActive           bool      `gorm:"not null" json:"is_active"`
	LastBalanceCheckAt time.Time `gorm:"not null" json:"last_balance_check_at"`
	CreatedAt          time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time `gorm:"not null" json:"updated_at"`
}

func (w *WalletMirror) BeforeSave(tx *gorm.DB) error {
	w.Address = NormalizeAddress(w.Address)
	return nil
}
