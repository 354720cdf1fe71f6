// services/light_ledger.go
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"light-mint-service/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DailyActionLimits caps how many actions of each type earn score per UTC day.
var DailyActionLimits = map[models.ActionType]int64{
	models.ActionPost:         10,
	models.ActionComment:      50,
	models.ActionReaction:     100,
	models.ActionShare:        20,
	models.ActionFriend:       20,
	models.ActionLivestream:   5,
	models.ActionNewUserBonus: 1,
}

// EvaluateResult is the outcome of EvaluateAction. Limited means the daily
// limit for the type was already reached and nothing was recorded.
type EvaluateResult struct {
	Action     *models.LightAction `json:"action,omitempty"`
	Existing   bool                `json:"existing"`
	Limited    bool                `json:"daily_limit"`
	DailyCount int64               `json:"daily_count"`
	DailyLimit int64               `json:"daily_limit_max"`
}

// LightLedger records scored actions.
type LightLedger struct {
	DB      *gorm.DB
	Scorer  ActionScorer
	Timeout time.Duration
	Clock   Clock
}

func NewLightLedger(db *gorm.DB, scorer ActionScorer, timeout time.Duration) *LightLedger {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &LightLedger{DB: db, Scorer: scorer, Timeout: timeout}
}

var errActionExists = errors.New("action already recorded")

func countToday(db *gorm.DB, userID string, t models.ActionType, date string) (int64, error) {
	var n int64
	err := db.Model(&models.LightAction{}).
		Where("actor_id = ? AND action_type = ? AND action_date = ?", userID, t, date).
		Count(&n).Error
	return n, err
}

// usedToday reads the day's counter, falling back to counting actions when
// the counter row does not exist yet.
func usedToday(db *gorm.DB, userID string, t models.ActionType, date string) (int64, error) {
	var c models.ActionDailyCount
	err := db.Where("user_id = ? AND action_type = ? AND date = ?", userID, t, date).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return countToday(db, userID, t, date)
	}
	return c.Used, err
}

// takeDailySlotTx increments the day's counter unless it already reached
// limit. The counter row is seeded from the stored actions on first use.
func takeDailySlotTx(tx *gorm.DB, userID string, t models.ActionType, date string, limit int64) (int64, bool, error) {
	seed, err := countToday(tx, userID, t, date)
	if err != nil {
		return 0, false, err
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.ActionDailyCount{
		UserID:     userID,
		ActionType: t,
		Date:       date,
		Used:       seed,
	}).Error; err != nil {
		return 0, false, err
	}

	res := tx.Model(&models.ActionDailyCount{}).
		Where("user_id = ? AND action_type = ? AND date = ? AND used < ?", userID, t, date, limit).
		Update("used", gorm.Expr("used + 1"))
	if res.Error != nil {
		return 0, false, res.Error
	}
	var c models.ActionDailyCount
	if err := tx.Where("user_id = ? AND action_type = ? AND date = ?", userID, t, date).First(&c).Error; err != nil {
		return 0, false, err
	}
	return c.Used, res.RowsAffected == 1, nil
}

// EvaluateAction scores one action through the scoring service and stores it.
// Re-evaluating the same (user, type, reference) returns the stored action.
func (s *LightLedger) EvaluateAction(ctx context.Context, userID string, actionType models.ActionType, referenceID, content string) (*EvaluateResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUnauthorized
	}
	if !actionType.Valid() {
		return nil, invalid("action_type", "unknown action type")
	}
	referenceID = strings.TrimSpace(referenceID)
	if referenceID == "" {
		return nil, invalid("reference_id", "required")
	}

	db := s.DB.WithContext(ctx)
	limit := DailyActionLimits[actionType]
	today := s.Clock.today()

	var existing models.LightAction
	err := db.Where("actor_id = ? AND action_type = ? AND reference_id = ?", userID, actionType, referenceID).
		First(&existing).Error
	if err == nil {
		return &EvaluateResult{Action: &existing, Existing: true, DailyLimit: limit}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	count, err := usedToday(db, userID, actionType, today)
	if err != nil {
		return nil, err
	}
	if count >= limit {
		actionsScored.WithLabelValues("limited").Inc()
		return &EvaluateResult{Limited: true, DailyCount: count, DailyLimit: limit}, nil
	}

	if s.Scorer == nil {
		return nil, &ExternalDependencyError{Service: "scoring", Err: errors.New("scorer not configured")}
	}
	scoreCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	started := time.Now()
	score, err := s.Scorer.Score(scoreCtx, ScoreRequest{
		UserID:      userID,
		ActionType:  actionType,
		ReferenceID: referenceID,
		Content:     content,
	})
	observeExternal("scoring", err == nil, time.Since(started).Seconds())
	if err != nil {
		log.WithFields(log.Fields{"user_id": userID, "ref": referenceID}).Warnf("[LEDGER] scoring failed: %v", err)
		return nil, &ExternalDependencyError{
			Service: "scoring",
			Timeout: errors.Is(err, context.DeadlineExceeded) || errors.Is(scoreCtx.Err(), context.DeadlineExceeded),
			Err:     err,
		}
	}

	action := &models.LightAction{
		ActorID:        userID,
		ActionType:     actionType,
		ReferenceID:    referenceID,
		QualityScore:   score.QualityScore,
		ImpactScore:    score.ImpactScore,
		IntegrityScore: score.IntegrityScore,
		UnityScore:     score.UnityScore,
		Multiplier:     score.Multiplier,
		LightScore:     score.LightScore,
		IsEligible:     score.IsEligible && score.LightScore > 0,
		ActionDate:     today,
	}
	result := &EvaluateResult{DailyLimit: limit}

	err = db.Transaction(func(tx *gorm.DB) error {
		used, ok, err := takeDailySlotTx(tx, userID, actionType, today, limit)
		if err != nil {
			return err
		}
		result.DailyCount = used
		if !ok {
			result.Limited = true
			return nil
		}

		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "actor_id"}, {Name: "action_type"}, {Name: "reference_id"}},
			DoNothing: true,
		}).Create(action)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// lost a race with the same action; give the slot back
			return errActionExists
		}
		result.Action = action

		if action.IsEligible {
			if _, err := ensureProfileTx(tx, userID); err != nil {
				return err
			}
			if err := tx.Model(&models.Profile{}).Where("user_id = ?", userID).
				Update("pending_rewards", gorm.Expr("pending_rewards + ?", action.LightScore)).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, errActionExists) {
		var stored models.LightAction
		if err := db.Where("actor_id = ? AND action_type = ? AND reference_id = ?", userID, actionType, referenceID).
			First(&stored).Error; err != nil {
			return nil, err
		}
		result = &EvaluateResult{Action: &stored, Existing: true, DailyLimit: limit}
		err = nil
	}
	if err != nil {
		return nil, err
	}

	switch {
	case result.Limited:
		actionsScored.WithLabelValues("limited").Inc()
	case result.Existing:
		actionsScored.WithLabelValues("duplicate").Inc()
	case result.Action.IsEligible:
		actionsScored.WithLabelValues("eligible").Inc()
		log.WithFields(log.Fields{"user_id": userID, "type": actionType, "score": action.LightScore}).
			Info("✨ [LEDGER] light action recorded")
	default:
		actionsScored.WithLabelValues("ineligible").Inc()
	}
	return result, nil
}
