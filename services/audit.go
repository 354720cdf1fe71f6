// services/audit.go
package services

import (
	"context"

	"light-mint-service/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AuditLogger appends to the audit log outside any business transaction,
// so an entry lands whether or not the audited action committed.
type AuditLogger struct {
	DB *gorm.DB
}

func NewAuditLogger(db *gorm.DB) *AuditLogger {
	return &AuditLogger{DB: db}
}

// Record writes one entry. opErr is the outcome of the audited action.
func (a *AuditLogger) Record(ctx context.Context, entry models.AuditLog, opErr error) {
	if a == nil {
		return
	}
	entry.Success = opErr == nil
	if opErr != nil {
		entry.Error = opErr.Error()
	}
	if err := a.DB.WithContext(ctx).Create(&entry).Error; err != nil {
		log.WithFields(log.Fields{"action": entry.Action, "actor": entry.ActorID}).
			Errorf("❌ [AUDIT] failed to write audit entry: %v", err)
	}
}

// List returns the newest entries, optionally for one target user.
func (a *AuditLogger) List(ctx context.Context, targetUserID string, limit int) ([]models.AuditLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := a.DB.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if targetUserID != "" {
		q = q.Where("target_user_id = ?", targetUserID)
	}
	var out []models.AuditLog
	return out, q.Find(&out).Error
}
