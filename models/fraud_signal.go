package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FraudSignalType string

const (
	SignalSharedDevice FraudSignalType = "SHARED_DEVICE"
	SignalBanCascade   FraudSignalType = "BAN_CASCADE"
	SignalGateDenied   FraudSignalType = "GATE_DENIED"
)

// FraudSignal is an append-only audit record of suspicious behaviour.
type FraudSignal struct {
	ID         string                 `gorm:"primaryKey;type:uuid" json:"id"`
	ActorID    string                 `gorm:"type:varchar(64);not null;index" json:"actor_id"`
	SignalType FraudSignalType        `gorm:"type:varchar(32);not null;index" json:"signal_type"`
	Severity   int                    `gorm:"not null;default:1" json:"severity"` // 1 (info) .. 5 (critical)
	Details    map[string]interface{} `gorm:"serializer:json;type:text" json:"details"`
	Source     string                 `gorm:"type:varchar(64)" json:"source"`
	CreatedAt  time.Time              `gorm:"index" json:"created_at"`
}

func (f *FraudSignal) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

// AdminNotification is queued for every admin when a fraud cascade fires.
// Delivery is handled by the notification service.
type AdminNotification struct {
	ID        string                 `gorm:"primaryKey;type:uuid" json:"id"`
	AdminID   string                 `gorm:"type:varchar(64);not null;index" json:"admin_id"`
	Kind      string                 `gorm:"type:varchar(32);not null" json:"kind"`
	Title     string                 `gorm:"not null" json:"title"`
	Body      string                 `gorm:"type:text" json:"body"`
	Payload   map[string]interface{} `gorm:"serializer:json;type:text" json:"payload,omitempty"`
	Read      bool                   `gorm:"not null;default:false" json:"read"`
	CreatedAt time.Time              `json:"created_at"`
}

func (n *AdminNotification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
