package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LoginEvent is the raw login trail fed to the fraud detector.
type LoginEvent struct {
	ID         string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID     string    `gorm:"type:varchar(64);not null;index" json:"user_id"`
	IPAddress  string    `gorm:"type:varchar(64)" json:"ip_address"`
	UserAgent  string    `gorm:"type:text" json:"user_agent"`
	DeviceHash string    `gorm:"type:varchar(128);index" json:"device_hash"`
	CreatedAt  time.Time `json:"created_at"`
}

func (e *LoginEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// Device is one row per device hash. Logins upsert it first, which takes
// its row lock and serialises concurrent logins from the same device.
type Device struct {
	Hash        string    `gorm:"primaryKey;type:varchar(128)" json:"hash"`
	Logins      int64     `gorm:"not null;default:0" json:"logins"`
	FirstSeenAt time.Time `gorm:"not null" json:"first_seen_at"`
	LastSeenAt  time.Time `gorm:"not null" json:"last_seen_at"`
}

// DeviceRegistryEntry maps users to devices. Many users on one device_hash
// is the shared-device fraud signal.
type DeviceRegistryEntry struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID      string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_device_user,priority:1" json:"user_id"`
	DeviceHash  string    `gorm:"type:varchar(128);not null;index;uniqueIndex:idx_device_user,priority:2" json:"device_hash"`
	UsageCount  int64     `gorm:"not null;default:1" json:"usage_count"`
	FirstSeenAt time.Time `gorm:"not null" json:"first_seen_at"`
	LastSeenAt  time.Time `gorm:"not null;index" json:"last_seen_at"`
	IsFlagged   bool      `gorm:"not null;default:false" json:"is_flagged"`
	FlagReason  string    `gorm:"type:text" json:"flag_reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (d *DeviceRegistryEntry) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}
