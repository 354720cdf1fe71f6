package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditLog is written for every mutating admin action and every gate denial,
// whether or not the action itself succeeded.
type AuditLog struct {
	ID           string                 `gorm:"primaryKey;type:uuid" json:"id"`
	ActorID      string                 `gorm:"type:varchar(64);index" json:"actor_id"`
	Action       string                 `gorm:"type:varchar(64);not null;index" json:"action"`
	TargetUserID string                 `gorm:"type:varchar(64);index" json:"target_user_id,omitempty"`
	Target       string                 `gorm:"type:varchar(128)" json:"target,omitempty"`
	Success      bool                   `gorm:"not null" json:"success"`
	Error        string                 `gorm:"type:text" json:"error,omitempty"`
	Details      map[string]interface{} `gorm:"serializer:json;type:text" json:"details,omitempty"`
	CreatedAt    time.Time              `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
