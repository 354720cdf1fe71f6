// services/score_aggregator.go
package services

import (
	"context"
	"strings"

	"light-mint-service/models"

	"gorm.io/gorm"
)

const (
	defaultRecentActions = 20
	maxRecentActions     = 100
)

// ScoreSummary is a user's light score, tier and mint position.
type ScoreSummary struct {
	UserID        string               `json:"user_id"`
	TotalScore    int64                `json:"total_score"`
	Tier          string               `json:"tier"`
	TierIndex     int                  `json:"tier_index"`
	NextTier      *string              `json:"next_tier,omitempty"`
	NextThreshold *int64               `json:"next_threshold,omitempty"`
	Progress      float64              `json:"progress"`
	DailyLimit    int64                `json:"daily_mint_limit"`
	TodayMinted   int64                `json:"today_minted"`
	TodayReserved int64                `json:"today_reserved"`
	TotalMinted   int64                `json:"lifetime_minted"`
	PendingCount  int64                `json:"pending_eligible_count"`
	PendingAmount int64                `json:"pending_eligible_amount"`
	QueuedAmount  int64                `json:"queued_amount"`
	Recent        []models.LightAction `json:"recent_actions"`
}

// ScoreAggregator derives score summaries from the action ledger and the
// epoch counters. It never writes.
type ScoreAggregator struct {
	DB    *gorm.DB
	Clock Clock
}

func NewScoreAggregator(db *gorm.DB) *ScoreAggregator {
	return &ScoreAggregator{DB: db}
}

// totalScore sums the user's eligible light score.
func totalScore(db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.Model(&models.LightAction{}).
		Where("actor_id = ? AND is_eligible = ?", userID, true).
		Select("COALESCE(SUM(light_score), 0)").
		Scan(&total).Error
	return total, err
}

// DailyLimitFor is the tier limit that applies to userID right now.
func DailyLimitFor(db *gorm.DB, userID string) (int64, error) {
	total, err := totalScore(db, userID)
	if err != nil {
		return 0, err
	}
	return Tiers[TierFor(total)].DailyLimit, nil
}

type sumCount struct {
	Count  int64
	Amount int64
}

func (s *ScoreAggregator) GetScore(ctx context.Context, userID string, recentLimit int) (*ScoreSummary, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUnauthorized
	}
	if recentLimit <= 0 {
		recentLimit = defaultRecentActions
	}
	if recentLimit > maxRecentActions {
		recentLimit = maxRecentActions
	}
	db := s.DB.WithContext(ctx)

	total, err := totalScore(db, userID)
	if err != nil {
		return nil, err
	}
	idx := TierFor(total)
	out := &ScoreSummary{
		UserID:     userID,
		TotalScore: total,
		Tier:       Tiers[idx].Name,
		TierIndex:  idx,
		Progress:   TierProgress(total),
		DailyLimit: Tiers[idx].DailyLimit,
	}
	if idx+1 < len(Tiers) {
		next := Tiers[idx+1]
		out.NextTier = &next.Name
		out.NextThreshold = &next.Threshold
	}

	var today models.UserDailyMint
	if err := db.Where("user_id = ? AND date = ?", userID, s.Clock.today()).
		Limit(1).Find(&today).Error; err != nil {
		return nil, err
	}
	out.TodayMinted = today.Minted
	out.TodayReserved = today.Reserved

	if err := db.Model(&models.LightAction{}).
		Where("actor_id = ? AND mint_status = ?", userID, models.MintStatusMinted).
		Select("COALESCE(SUM(light_score), 0)").Scan(&out.TotalMinted).Error; err != nil {
		return nil, err
	}

	var pending sumCount
	if err := db.Model(&models.LightAction{}).
		Where("actor_id = ? AND is_eligible = ? AND mint_status = ?", userID, true, models.MintStatusUnminted).
		Select("COUNT(*) AS count, COALESCE(SUM(light_score), 0) AS amount").
		Scan(&pending).Error; err != nil {
		return nil, err
	}
	out.PendingCount = pending.Count
	out.PendingAmount = pending.Amount

	if err := db.Model(&models.LightAction{}).
		Where("actor_id = ? AND mint_status = ?", userID, models.MintStatusQueued).
		Select("COALESCE(SUM(light_score), 0)").Scan(&out.QueuedAmount).Error; err != nil {
		return nil, err
	}

	out.Recent = []models.LightAction{}
	if err := db.Where("actor_id = ?", userID).
		Order("created_at DESC").Limit(recentLimit).
		Find(&out.Recent).Error; err != nil {
		return nil, err
	}
	return out, nil
}
