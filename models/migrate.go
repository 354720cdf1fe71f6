package models

import "gorm.io/gorm"

// AutoMigrate creates or updates every table owned by the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Profile{},
		&WalletMirror{},
		&LightAction{},
		&ActionDailyCount{},
		&Epoch{},
		&UserDailyMint{},
		&MintRequest{},
		&MintSignature{},
		&MintEvent{},
		&LoginEvent{},
		&Device{},
		&DeviceRegistryEntry{},
		&FraudSignal{},
		&AdminNotification{},
		&BlacklistedWallet{},
		&TokenClaim{},
		&AuditLog{},
	)
}
