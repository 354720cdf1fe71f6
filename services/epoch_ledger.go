// services/epoch_ledger.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"light-mint-service/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EpochLedger enforces the global daily emission cap and the per-user tier
// limits. All state lives in the epochs / user_daily_mints tables; the *Tx
// methods run inside the caller's transaction so a mint request and its
// reservation commit or roll back together.
type EpochLedger struct {
	DB         *gorm.DB
	DefaultCap int64
}

func NewEpochLedger(db *gorm.DB, defaultCap int64) *EpochLedger {
	return &EpochLedger{DB: db, DefaultCap: defaultCap}
}

func validDate(date string) error {
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return invalid("date", "expected YYYY-MM-DD")
	}
	return nil
}

// ensureRows lazily creates the epoch and (when userID is set) the user row.
func (l *EpochLedger) ensureRows(tx *gorm.DB, userID, date string) error {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Epoch{Date: date, TotalCap: l.DefaultCap}).Error; err != nil {
		return fmt.Errorf("ensure epoch %s: %w", date, err)
	}
	if userID == "" {
		return nil
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.UserDailyMint{UserID: userID, Date: date}).Error; err != nil {
		return fmt.Errorf("ensure user counter %s/%s: %w", userID, date, err)
	}
	return nil
}

func lockEpoch(tx *gorm.DB, date string) (*models.Epoch, error) {
	var ep models.Epoch
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&ep, "date = ?", date).Error; err != nil {
		return nil, err
	}
	return &ep, nil
}

func lockUserDaily(tx *gorm.DB, userID, date string) (*models.UserDailyMint, error) {
	var u models.UserDailyMint
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&u, "user_id = ? AND date = ?", userID, date).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// Reserve runs ReserveTx in its own transaction.
func (l *EpochLedger) Reserve(ctx context.Context, userID, date string, amount, userLimit int64) (int64, error) {
	var granted int64
	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		granted, err = l.ReserveTx(tx, userID, date, amount, userLimit)
		return err
	})
	return granted, err
}

// ReserveTx grants up to amount from the date's epoch, bounded by what is left
// of the global cap and of the user's daily limit (userLimit <= 0 means no
// per-user limit). A grant of zero is a *CapacityError.
func (l *EpochLedger) ReserveTx(tx *gorm.DB, userID, date string, amount, userLimit int64) (int64, error) {
	if amount <= 0 {
		return 0, invalid("amount", "must be positive")
	}
	if err := validDate(date); err != nil {
		return 0, err
	}
	if err := l.ensureRows(tx, userID, date); err != nil {
		return 0, err
	}
	ep, err := lockEpoch(tx, date)
	if err != nil {
		return 0, err
	}
	ud, err := lockUserDaily(tx, userID, date)
	if err != nil {
		return 0, err
	}

	globalLeft := ep.TotalCap - ep.TotalReserved
	grant := min(amount, globalLeft)
	scope := "global"
	if userLimit > 0 {
		userLeft := userLimit - ud.Reserved
		if userLeft < grant {
			grant = userLeft
			scope = "user"
		}
	}
	if grant <= 0 {
		return 0, &CapacityError{Scope: scope, Remaining: max(grant, 0)}
	}

	res := tx.Model(&models.Epoch{}).
		Where("date = ? AND total_reserved + ? <= total_cap", date, grant).
		Updates(map[string]interface{}{"total_reserved": gorm.Expr("total_reserved + ?", grant)})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, &CapacityError{Scope: "global", Remaining: 0}
	}
	if err := tx.Model(&models.UserDailyMint{}).
		Where("user_id = ? AND date = ?", userID, date).
		Updates(map[string]interface{}{"reserved": gorm.Expr("reserved + ?", grant)}).Error; err != nil {
		return 0, err
	}

	log.WithFields(log.Fields{"user_id": userID, "date": date, "requested": amount, "granted": grant}).
		Debug("[EPOCH] reserved")
	return grant, nil
}

// Release runs ReleaseTx in its own transaction.
func (l *EpochLedger) Release(ctx context.Context, userID, date string, amount int64) error {
	return l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return l.ReleaseTx(tx, userID, date, amount)
	})
}

// ReleaseTx returns reserved capacity. Reserved never drops below minted.
func (l *EpochLedger) ReleaseTx(tx *gorm.DB, userID, date string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	ep, err := lockEpoch(tx, date)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	dec := min(amount, ep.TotalReserved-ep.TotalMinted)
	if dec > 0 {
		if err := tx.Model(&models.Epoch{}).Where("date = ?", date).
			Updates(map[string]interface{}{"total_reserved": gorm.Expr("total_reserved - ?", dec)}).Error; err != nil {
			return err
		}
	}

	ud, err := lockUserDaily(tx, userID, date)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	userDec := min(amount, ud.Reserved-ud.Minted)
	if userDec > 0 {
		if err := tx.Model(&models.UserDailyMint{}).Where("user_id = ? AND date = ?", userID, date).
			Updates(map[string]interface{}{"reserved": gorm.Expr("reserved - ?", userDec)}).Error; err != nil {
			return err
		}
	}
	return nil
}

// CommitTx moves a confirmed amount from reserved to minted.
func (l *EpochLedger) CommitTx(tx *gorm.DB, userID, date string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	res := tx.Model(&models.Epoch{}).
		Where("date = ? AND total_minted + ? <= total_reserved", date, amount).
		Updates(map[string]interface{}{"total_minted": gorm.Expr("total_minted + ?", amount)})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("commit %d to epoch %s: exceeds reserved", amount, date)
	}
	res = tx.Model(&models.UserDailyMint{}).
		Where("user_id = ? AND date = ? AND minted + ? <= reserved", userID, date, amount).
		Updates(map[string]interface{}{"minted": gorm.Expr("minted + ?", amount)})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("commit %d for user %s on %s: exceeds reserved", amount, userID, date)
	}
	return nil
}

// GetEpoch returns the epoch for date. A day nobody has touched yet is
// reported with the default cap and is not written.
func (l *EpochLedger) GetEpoch(ctx context.Context, date string) (*models.Epoch, error) {
	if err := validDate(date); err != nil {
		return nil, err
	}
	var ep models.Epoch
	err := l.DB.WithContext(ctx).First(&ep, "date = ?", date).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.Epoch{Date: date, TotalCap: l.DefaultCap}, nil
	}
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

// SetCap changes the cap of one day. It may not go below what is reserved.
func (l *EpochLedger) SetCap(ctx context.Context, date string, newCap int64) (*models.Epoch, error) {
	if err := validDate(date); err != nil {
		return nil, err
	}
	if newCap < 0 {
		return nil, invalid("cap", "must not be negative")
	}
	var out *models.Epoch
	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.ensureRows(tx, "", date); err != nil {
			return err
		}
		ep, err := lockEpoch(tx, date)
		if err != nil {
			return err
		}
		if newCap < ep.TotalReserved {
			return invalid("cap", fmt.Sprintf("below reserved amount %d", ep.TotalReserved))
		}
		if err := tx.Model(ep).Update("total_cap", newCap).Error; err != nil {
			return err
		}
		ep.TotalCap = newCap
		out = ep
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("📅 [EPOCH] cap for %s set to %d", date, newCap)
	return out, nil
}

// WarmUp creates the epoch rows for the given days ahead of traffic.
func (l *EpochLedger) WarmUp(ctx context.Context, dates ...string) error {
	for _, d := range dates {
		if err := l.ensureRows(l.DB.WithContext(ctx), "", d); err != nil {
			return err
		}
	}
	return nil
}

// UserDaily returns the user's counters for date (zero if absent).
func (l *EpochLedger) UserDaily(ctx context.Context, userID, date string) (*models.UserDailyMint, error) {
	var u models.UserDailyMint
	err := l.DB.WithContext(ctx).First(&u, "user_id = ? AND date = ?", userID, date).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.UserDailyMint{UserID: userID, Date: date}, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
