// services/fraud_detector.go
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"light-mint-service/models"

	log "github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultDeviceWindow = 30 * 24 * time.Hour

// FraudDetector watches logins for several accounts on one device.
type FraudDetector struct {
	DB     *gorm.DB
	Window time.Duration
	Clock  Clock
}

func NewFraudDetector(db *gorm.DB, window time.Duration) *FraudDetector {
	if window <= 0 {
		window = defaultDeviceWindow
	}
	return &FraudDetector{DB: db, Window: window}
}

// LoginResult describes what a login triggered.
type LoginResult struct {
	DeviceHash string   `json:"device_hash"`
	SharedWith []string `json:"shared_with,omitempty"`
	Flagged    bool     `json:"flagged"`
	SignalID   string   `json:"signal_id,omitempty"`
}

// DeviceFingerprint hashes the NFC-normalised user agent with the client IP.
func DeviceFingerprint(userAgent, ip string) string {
	ua := norm.NFC.String(strings.TrimSpace(userAgent))
	sum := sha256.Sum256([]byte(ua + "|" + strings.TrimSpace(ip)))
	return hex.EncodeToString(sum[:])
}

// LogLogin records a login and, when other accounts used the same device
// within the window, puts the whole set on hold in one transaction.
func (f *FraudDetector) LogLogin(ctx context.Context, userID, ip, userAgent, deviceHash string) (*LoginResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalid("user_id", "required")
	}
	deviceHash = strings.TrimSpace(deviceHash)
	if deviceHash == "" {
		if strings.TrimSpace(userAgent) == "" && strings.TrimSpace(ip) == "" {
			return nil, invalid("device_hash", "device hash or user agent and ip required")
		}
		deviceHash = DeviceFingerprint(userAgent, ip)
	}

	now := f.Clock.now()
	res := &LoginResult{DeviceHash: deviceHash}
	var notified int

	err := f.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&models.LoginEvent{
			UserID:     userID,
			IPAddress:  ip,
			UserAgent:  userAgent,
			DeviceHash: deviceHash,
		}).Error; err != nil {
			return fmt.Errorf("record login: %w", err)
		}

		// two first logins on a new device must not both see a single account
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "hash"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"logins":       gorm.Expr("devices.logins + 1"),
				"last_seen_at": now,
			}),
		}).Create(&models.Device{
			Hash:        deviceHash,
			Logins:      1,
			FirstSeenAt: now,
			LastSeenAt:  now,
		}).Error; err != nil {
			return fmt.Errorf("lock device: %w", err)
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "device_hash"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"usage_count":  gorm.Expr("device_registry_entries.usage_count + 1"),
				"last_seen_at": now,
				"updated_at":   now,
			}),
		}).Create(&models.DeviceRegistryEntry{
			UserID:      userID,
			DeviceHash:  deviceHash,
			UsageCount:  1,
			FirstSeenAt: now,
			LastSeenAt:  now,
		}).Error; err != nil {
			return fmt.Errorf("upsert device: %w", err)
		}

		var entries []models.DeviceRegistryEntry
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("device_hash = ? AND last_seen_at >= ?", deviceHash, now.Add(-f.Window)).
			Order("user_id ASC").Find(&entries).Error; err != nil {
			return err
		}
		if len(entries) < 2 {
			return nil
		}

		users := make([]string, 0, len(entries))
		allFlagged := true
		for _, e := range entries {
			users = append(users, e.UserID)
			allFlagged = allFlagged && e.IsFlagged
		}
		res.SharedWith = others(users, userID)
		if allFlagged {
			return nil
		}

		note := fmt.Sprintf("shared device %s with %d accounts", shortHash(deviceHash), len(users))
		for _, uid := range users {
			if _, err := ensureProfileTx(tx, uid); err != nil {
				return err
			}
		}
		if err := tx.Model(&models.Profile{}).
			Where("user_id IN ? AND is_banned = ? AND reward_status <> ?", users, false, models.RewardBanned).
			Updates(map[string]interface{}{
				"reward_status":      models.RewardOnHold,
				"reward_status_note": note,
			}).Error; err != nil {
			return fmt.Errorf("hold accounts: %w", err)
		}

		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		if err := tx.Model(&models.DeviceRegistryEntry{}).Where("id IN ?", ids).
			Updates(map[string]interface{}{"is_flagged": true, "flag_reason": note}).Error; err != nil {
			return err
		}

		sig := models.FraudSignal{
			ActorID:    userID,
			SignalType: models.SignalSharedDevice,
			Severity:   3,
			Details: map[string]interface{}{
				"device_hash": deviceHash,
				"user_ids":    users,
				"ip_address":  ip,
				"window":      f.Window.String(),
			},
			Source: "login",
		}
		if err := tx.Create(&sig).Error; err != nil {
			return err
		}
		res.Flagged = true
		res.SignalID = sig.ID

		var admins []string
		if err := tx.Model(&models.Profile{}).Where("is_admin = ?", true).Pluck("user_id", &admins).Error; err != nil {
			return err
		}
		for _, admin := range admins {
			if err := tx.Create(&models.AdminNotification{
				AdminID: admin,
				Kind:    "fraud_alert",
				Title:   "Shared device detected",
				Body:    fmt.Sprintf("%d accounts logged in from one device and were put on hold.", len(users)),
				Payload: map[string]interface{}{"signal_id": sig.ID, "user_ids": users},
			}).Error; err != nil {
				return err
			}
		}
		notified = len(admins)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Flagged {
		fraudSignals.WithLabelValues(string(models.SignalSharedDevice)).Inc()
		log.WithFields(log.Fields{"device": shortHash(deviceHash), "users": len(res.SharedWith) + 1, "admins_notified": notified}).
			Warn("🚨 [FRAUD] shared device, accounts put on hold")
	}
	return res, nil
}

func others(users []string, self string) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		if u != self {
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
