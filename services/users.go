// services/users.go
package services

import (
	"context"
	"errors"
	"strings"

	"light-mint-service/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ensureProfileTx makes sure a profile row exists for userID and returns it
// locked for update.
func ensureProfileTx(tx *gorm.DB, userID string) (*models.Profile, error) {
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&models.Profile{UserID: userID}).Error; err != nil {
		return nil, err
	}
	var p models.Profile
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func findProfile(db *gorm.DB, userID string) (*models.Profile, error) {
	var p models.Profile
	err := db.Where("user_id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UserSummary is the admin-facing view of a profile.
type UserSummary struct {
	UserID           string                  `json:"user_id"`
	Username         string                  `json:"username"`
	Email            string                  `json:"email"`
	WalletAddress    *string                 `json:"wallet_address,omitempty"`
	RewardStatus     models.RewardStatus     `json:"reward_status"`
	WalletRiskStatus models.WalletRiskStatus `json:"wallet_risk_status"`
	IsBanned         bool                    `json:"is_banned"`
}

// SearchUsers matches username or email, case-insensitively.
func SearchUsers(ctx context.Context, db *gorm.DB, query string, limit int) ([]UserSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := db.WithContext(ctx).Model(&models.Profile{}).Order("username ASC").Limit(limit)
	if query = strings.TrimSpace(query); query != "" {
		term := "%" + strings.ToLower(query) + "%"
		q = q.Where("LOWER(username) LIKE ? OR LOWER(email) LIKE ? OR user_id = ?", term, term, query)
	}

	var profiles []models.Profile
	if err := q.Find(&profiles).Error; err != nil {
		return nil, err
	}
	res := make([]UserSummary, len(profiles))
	for i, p := range profiles {
		res[i] = UserSummary{
			UserID:           p.UserID,
			Username:         p.Username,
			Email:            p.Email,
			WalletAddress:    p.WalletAddress,
			RewardStatus:     p.RewardStatus,
			WalletRiskStatus: p.WalletRiskStatus,
			IsBanned:         p.IsBanned,
		}
	}
	return res, nil
}
