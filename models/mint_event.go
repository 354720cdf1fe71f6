package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MintEvent is the outbox row emitted for every mint request transition.
// Seq is assigned by the database on insert and is the stream cursor.
type MintEvent struct {
	Seq           int64             `gorm:"primaryKey;autoIncrement" json:"seq"`
	ID            string            `gorm:"type:uuid;not null;uniqueIndex" json:"id"`
	MintRequestID string            `gorm:"type:uuid;not null;index" json:"mint_request_id"`
	UserID        string            `gorm:"type:varchar(64);not null;index" json:"user_id"`
	FromStatus    MintRequestStatus `gorm:"type:varchar(16)" json:"from_status,omitempty"`
	ToStatus      MintRequestStatus `gorm:"type:varchar(16);not null" json:"to_status"`
	Amount        int64             `json:"amount"`
	TxHash        string            `gorm:"type:varchar(66)" json:"tx_hash,omitempty"`
	Note          string            `gorm:"type:text" json:"note,omitempty"`
	CreatedAt     time.Time         `gorm:"index" json:"created_at"`
}

func (e *MintEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
