// services/containment.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"light-mint-service/chain"
	"light-mint-service/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReportArchiver stores a finished ban report in object storage.
type ReportArchiver interface {
	Archive(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// ContainmentService owns account and wallet containment: bans, freezes,
// the wallet blacklist and the gate every mint and claim passes through.
type ContainmentService struct {
	DB       *gorm.DB
	Ledger   *EpochLedger
	Audit    *AuditLogger
	Events   *EventPublisher
	Archiver ReportArchiver
	Clock    Clock
}

func NewContainmentService(db *gorm.DB, ledger *EpochLedger, audit *AuditLogger, events *EventPublisher, archiver ReportArchiver) *ContainmentService {
	return &ContainmentService{DB: db, Ledger: ledger, Audit: audit, Events: events, Archiver: archiver}
}

// --- Gate ---

// gateProfile checks the ban and freeze state of a profile.
func gateProfile(p *models.Profile, now time.Time) error {
	switch {
	case p.IsBanned || p.RewardStatus == models.RewardBanned:
		return ErrAccountBanned
	case p.RewardStatus == models.RewardOnHold,
		p.WalletRiskStatus == models.WalletRiskFrozen,
		p.WalletRiskStatus == models.WalletRiskBlocked,
		p.ClaimFreezeUntil != nil && p.ClaimFreezeUntil.After(now):
		return ErrAccountFrozen
	}
	return nil
}

func isBlacklisted(db *gorm.DB, wallet string) (bool, error) {
	var n int64
	err := db.Model(&models.BlacklistedWallet{}).
		Where("wallet_address = ?", models.NormalizeAddress(wallet)).Count(&n).Error
	return n > 0, err
}

// checkMintGateTx loads the caller's profile and returns its mint destination
// if the account may mint.
func checkMintGateTx(tx *gorm.DB, userID string, now time.Time) (*models.Profile, string, error) {
	var p models.Profile
	err := tx.Where("user_id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", ErrNoWallet
	}
	if err != nil {
		return nil, "", err
	}
	if reason := gateProfile(&p, now); reason != nil {
		return &p, "", &FraudGateError{UserID: userID, Reason: reason}
	}
	if p.WalletAddress == nil || strings.TrimSpace(*p.WalletAddress) == "" {
		return &p, "", ErrNoWallet
	}
	wallet := models.NormalizeAddress(*p.WalletAddress)
	if !chain.IsAddress(wallet) {
		return &p, "", invalid("wallet_address", "bound wallet is not a valid address")
	}
	blocked, err := isBlacklisted(tx, wallet)
	if err != nil {
		return &p, "", err
	}
	if blocked {
		return &p, wallet, &FraudGateError{UserID: userID, Wallet: wallet, Reason: ErrWalletBlacklisted}
	}
	return &p, wallet, nil
}

// recordGateDenial audits a denial and, for blacklisted wallets, raises a
// fraud signal. audit may be nil when the caller audits on its own.
func recordGateDenial(ctx context.Context, db *gorm.DB, audit *AuditLogger, action string, gateErr *FraudGateError) {
	gateDenials.WithLabelValues(gateErr.Reason.Error()).Inc()
	log.WithFields(log.Fields{"user_id": gateErr.UserID, "wallet": gateErr.Wallet, "action": action}).
		Warnf("🚫 [GATE] denied: %v", gateErr.Reason)

	audit.Record(ctx, models.AuditLog{
		ActorID:      gateErr.UserID,
		Action:       action,
		TargetUserID: gateErr.UserID,
		Target:       gateErr.Wallet,
	}, gateErr)

	if errors.Is(gateErr, ErrWalletBlacklisted) {
		sig := models.FraudSignal{
			ActorID:    gateErr.UserID,
			SignalType: models.SignalGateDenied,
			Severity:   4,
			Details:    map[string]interface{}{"wallet": gateErr.Wallet, "action": action},
			Source:     "gate",
		}
		if err := db.WithContext(ctx).Create(&sig).Error; err != nil {
			log.Printf("⚠️ [GATE] failed to record signal: %v", err)
			return
		}
		fraudSignals.WithLabelValues(string(models.SignalGateDenied)).Inc()
	}
}

// GateResult is a passed gate check.
type GateResult struct {
	UserID string `json:"user_id"`
	Wallet string `json:"wallet"`
}

// CheckMintGate reports whether userID may mint right now.
func (s *ContainmentService) CheckMintGate(ctx context.Context, userID string) (*GateResult, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	_, wallet, err := checkMintGateTx(s.DB.WithContext(ctx), userID, s.Clock.now())
	if err != nil {
		var gateErr *FraudGateError
		if errors.As(err, &gateErr) {
			recordGateDenial(ctx, s.DB, s.Audit, "mint.gate", gateErr)
		}
		return nil, err
	}
	return &GateResult{UserID: userID, Wallet: wallet}, nil
}

// --- Ban cascade ---

type BanResult struct {
	UserID             string   `json:"user_id"`
	Success            bool     `json:"success"`
	Error              string   `json:"error,omitempty"`
	WalletsBlacklisted []string `json:"wallets_blacklisted"`
	RequestsRejected   int      `json:"requests_rejected"`
}

// BanError is one user the cascade could not ban.
type BanError struct {
	UserID string `json:"user_id"`
	Error  string `json:"error"`
}

// BanReport summarises a batch: who was banned, how many wallets were
// blacklisted and mint requests rejected in total, and who failed. Results
// keeps the per-user detail.
type BanReport struct {
	ID                 string      `json:"id"`
	AdminID            string      `json:"admin_id"`
	Reason             string      `json:"reason"`
	StartedAt          time.Time   `json:"started_at"`
	Banned             []string    `json:"banned"`
	WalletsBlacklisted int         `json:"wallets_blacklisted"`
	MintRejected       int         `json:"mint_rejected"`
	Errors             []BanError  `json:"errors"`
	Results            []BanResult `json:"results"`
	Succeeded          int         `json:"succeeded"`
	Failed             int         `json:"failed"`
	ArchiveURL         string      `json:"archive_url,omitempty"`
}

// BatchBan bans each user in its own transaction: the profile is banned and
// its counters zeroed, every wallet the user ever touched is permanently
// blacklisted, and unresolved mint requests are rejected. One user failing
// does not stop the batch.
func (s *ContainmentService) BatchBan(ctx context.Context, userIDs []string, reason, adminID string) (*BanReport, error) {
	if adminID == "" {
		return nil, ErrUnauthorized
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalid("reason", "required")
	}
	ids := dedupe(userIDs)
	if len(ids) == 0 {
		return nil, invalid("user_ids", "at least one user id is required")
	}

	now := s.Clock.now()
	report := &BanReport{
		ID:        uuid.NewString(),
		AdminID:   adminID,
		Reason:    reason,
		StartedAt: now,
		Banned:    []string{},
		Errors:    []BanError{},
	}

	for _, uid := range ids {
		res, events, err := s.banOne(ctx, uid, reason, adminID, now)
		if err != nil {
			res = BanResult{UserID: uid, Error: err.Error(), WalletsBlacklisted: []string{}}
			report.Errors = append(report.Errors, BanError{UserID: uid, Error: err.Error()})
			report.Failed++
			bans.WithLabelValues("failed").Inc()
			log.WithFields(log.Fields{"user_id": uid}).Errorf("❌ [BAN] cascade failed: %v", err)
		} else {
			res.Success = true
			report.Banned = append(report.Banned, uid)
			report.WalletsBlacklisted += len(res.WalletsBlacklisted)
			report.MintRejected += res.RequestsRejected
			report.Succeeded++
			bans.WithLabelValues("banned").Inc()
			s.Events.Publish(ctx, events...)
			log.WithFields(log.Fields{"user_id": uid, "wallets": len(res.WalletsBlacklisted), "requests": res.RequestsRejected}).
				Info("🔨 [BAN] user banned")
		}
		report.Results = append(report.Results, res)

		s.Audit.Record(ctx, models.AuditLog{
			ActorID:      adminID,
			Action:       "user.ban",
			TargetUserID: uid,
			Details: map[string]interface{}{
				"reason":            reason,
				"report_id":         report.ID,
				"wallets":           res.WalletsBlacklisted,
				"requests_rejected": res.RequestsRejected,
			},
		}, err)
	}

	if s.Archiver != nil {
		body, err := json.MarshalIndent(report, "", "  ")
		if err == nil {
			key := fmt.Sprintf("ban-reports/%s/%s.json", now.Format(models.DateLayout), report.ID)
			if url, err := s.Archiver.Archive(ctx, key, body, "application/json"); err != nil {
				log.Printf("⚠️ [BAN] report %s not archived: %v", report.ID, err)
			} else {
				report.ArchiveURL = url
			}
		}
	}
	return report, nil
}

func (s *ContainmentService) banOne(ctx context.Context, userID, reason, adminID string, now time.Time) (BanResult, []models.MintEvent, error) {
	res := BanResult{UserID: userID}
	var events []models.MintEvent

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := ensureProfileTx(tx, userID)
		if err != nil {
			return err
		}
		if err := tx.Model(&models.Profile{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
			"is_banned":          true,
			"reward_status":      models.RewardBanned,
			"reward_status_note": reason,
			"ban_reason":         reason,
			"banned_at":          now,
			"banned_by":          adminID,
			"wallet_risk_status": models.WalletRiskBlocked,
			"pending_rewards":    0,
			"approved_rewards":   0,
		}).Error; err != nil {
			return fmt.Errorf("ban profile: %w", err)
		}

		wallets, err := collectWalletsTx(tx, p)
		if err != nil {
			return err
		}
		for _, w := range wallets {
			if err := upsertPermanentBlacklistTx(tx, w, "ban: "+reason, userID, adminID, now); err != nil {
				return fmt.Errorf("blacklist %s: %w", w, err)
			}
		}
		res.WalletsBlacklisted = wallets

		var reqs []models.MintRequest
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND status IN ?", userID, models.ActiveMintStatuses).
			Find(&reqs).Error; err != nil {
			return err
		}
		for i := range reqs {
			ev, err := rejectForBanTx(tx, s.Ledger, &reqs[i], reason, now)
			if err != nil {
				return err
			}
			events = append(events, ev)
		}
		res.RequestsRejected = len(reqs)

		if err := tx.Create(&models.FraudSignal{
			ActorID:    userID,
			SignalType: models.SignalBanCascade,
			Severity:   5,
			Details: map[string]interface{}{
				"reason":            reason,
				"banned_by":         adminID,
				"wallets":           wallets,
				"requests_rejected": len(reqs),
			},
			Source: "containment",
		}).Error; err != nil {
			return err
		}
		fraudSignals.WithLabelValues(string(models.SignalBanCascade)).Inc()
		return nil
	})
	return res, events, err
}

// collectWalletsTx gathers every address associated with the profile:
// profile fields, custodial wallets, claim history and mint destinations.
func collectWalletsTx(tx *gorm.DB, p *models.Profile) ([]string, error) {
	set := map[string]bool{}
	add := func(ws ...string) {
		for _, w := range ws {
			if w = models.NormalizeAddress(w); w != "" {
				set[w] = true
			}
		}
	}
	add(p.Wallets()...)

	var custodial, claimed, minted []string
	if err := tx.Model(&models.WalletMirror{}).Where("user_id = ?", p.UserID).
		Pluck("address", &custodial).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&models.TokenClaim{}).Where("user_id = ?", p.UserID).
		Distinct("wallet_address").Pluck("wallet_address", &claimed).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&models.MintRequest{}).Where("user_id = ?", p.UserID).
		Distinct("wallet_address").Pluck("wallet_address", &minted).Error; err != nil {
		return nil, err
	}
	add(custodial...)
	add(claimed...)
	add(minted...)

	out := make([]string, 0, len(set))
	for w := range set {
		out = append(out, w)
	}
	sort.Strings(out)
	return out, nil
}

func upsertPermanentBlacklistTx(tx *gorm.DB, wallet, reason, userID, adminID string, now time.Time) error {
	uid := userID
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "wallet_address"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"is_permanent": true,
			"reason":       reason,
			"user_id":      uid,
			"created_by":   adminID,
			"updated_at":   now,
		}),
	}).Create(&models.BlacklistedWallet{
		WalletAddress: wallet,
		Reason:        reason,
		IsPermanent:   true,
		UserID:        &uid,
		CreatedBy:     adminID,
	}).Error
}

// rejectForBanTx rejects an unresolved request of a banned user. Requests
// already broadcast keep their actions and reservation, since the
// transaction may still be mined.
func rejectForBanTx(tx *gorm.DB, ledger *EpochLedger, req *models.MintRequest, reason string, now time.Time) (models.MintEvent, error) {
	release := req.Status == models.MintPendingSig || req.Status == models.MintSigned
	ev, err := transitionTx(tx, req, models.MintRejected, map[string]interface{}{
		"reject_reason": "account banned: " + reason,
		"rejected_at":   now,
	}, "account banned")
	if err != nil {
		return ev, err
	}
	if release {
		if err := releaseRequestTx(tx, ledger, req); err != nil {
			return ev, err
		}
	}
	return ev, nil
}

// --- Admin operations ---

// FreezeAccount blocks minting and claims. With until set the freeze lapses
// on its own; without it the wallet risk status stays frozen until lifted.
func (s *ContainmentService) FreezeAccount(ctx context.Context, userID string, until *time.Time, reason, adminID string) (*models.Profile, error) {
	if userID == "" {
		return nil, invalid("user_id", "required")
	}
	var (
		out *models.Profile
		err error
	)
	if until != nil && !until.After(s.Clock.now()) {
		err = invalid("until", "must be in the future")
	} else {
		out, err = s.updateProfile(ctx, userID, func(p *models.Profile) (map[string]interface{}, error) {
			if p.IsBanned {
				return nil, conflict(nil, "account is banned")
			}
			fields := map[string]interface{}{"reward_status_note": reason}
			if until != nil {
				fields["claim_freeze_until"] = until.UTC()
			} else {
				fields["wallet_risk_status"] = models.WalletRiskFrozen
			}
			return fields, nil
		})
	}
	details := map[string]interface{}{"reason": reason}
	if until != nil {
		details["until"] = until.UTC()
	}
	s.Audit.Record(ctx, models.AuditLog{ActorID: adminID, Action: "user.freeze", TargetUserID: userID, Details: details}, err)
	return out, err
}

// UnfreezeAccount lifts freezes and a fraud hold. Banned accounts stay banned.
func (s *ContainmentService) UnfreezeAccount(ctx context.Context, userID, adminID string) (*models.Profile, error) {
	if userID == "" {
		return nil, invalid("user_id", "required")
	}
	out, err := s.updateProfile(ctx, userID, func(p *models.Profile) (map[string]interface{}, error) {
		if p.IsBanned {
			return nil, conflict(nil, "account is banned")
		}
		fields := map[string]interface{}{
			"wallet_risk_status": models.WalletRiskNormal,
			"claim_freeze_until": nil,
		}
		if p.RewardStatus == models.RewardOnHold {
			fields["reward_status"] = models.RewardActive
			fields["reward_status_note"] = ""
		}
		return fields, nil
	})
	s.Audit.Record(ctx, models.AuditLog{ActorID: adminID, Action: "user.unfreeze", TargetUserID: userID}, err)
	return out, err
}

// SetRewardStatus moves a profile between pending, on_hold and active.
// Banning goes through BatchBan.
func (s *ContainmentService) SetRewardStatus(ctx context.Context, userID string, status models.RewardStatus, note, adminID string) (*models.Profile, error) {
	if userID == "" {
		return nil, invalid("user_id", "required")
	}
	switch status {
	case models.RewardPending, models.RewardOnHold, models.RewardActive:
	default:
		return nil, invalid("status", "must be pending, on_hold or active")
	}
	out, err := s.updateProfile(ctx, userID, func(p *models.Profile) (map[string]interface{}, error) {
		if p.IsBanned {
			return nil, conflict(nil, "account is banned")
		}
		return map[string]interface{}{"reward_status": status, "reward_status_note": note}, nil
	})
	s.Audit.Record(ctx, models.AuditLog{
		ActorID: adminID, Action: "user.reward_status", TargetUserID: userID,
		Details: map[string]interface{}{"status": status, "note": note},
	}, err)
	return out, err
}

func (s *ContainmentService) updateProfile(ctx context.Context, userID string, mutate func(*models.Profile) (map[string]interface{}, error)) (*models.Profile, error) {
	var out models.Profile
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := ensureProfileTx(tx, userID)
		if err != nil {
			return err
		}
		fields, err := mutate(p)
		if err != nil {
			return err
		}
		if err := tx.Model(&models.Profile{}).Where("id = ?", p.ID).Updates(fields).Error; err != nil {
			return err
		}
		return tx.First(&out, "id = ?", p.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// BlacklistWallet blocks an address. Re-listing keeps an existing permanent flag.
func (s *ContainmentService) BlacklistWallet(ctx context.Context, address, reason string, permanent bool, userID *string, adminID string) (*models.BlacklistedWallet, error) {
	addr := models.NormalizeAddress(address)
	var out models.BlacklistedWallet
	err := func() error {
		if !chain.IsAddress(addr) {
			return invalid("wallet_address", "not a valid address")
		}
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("wallet_address = ?", addr).First(&out).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				out = models.BlacklistedWallet{
					WalletAddress: addr,
					Reason:        reason,
					IsPermanent:   permanent,
					UserID:        userID,
					CreatedBy:     adminID,
				}
				return tx.Create(&out).Error
			}
			if err != nil {
				return err
			}
			out.Reason = reason
			out.IsPermanent = out.IsPermanent || permanent
			if userID != nil {
				out.UserID = userID
			}
			return tx.Save(&out).Error
		})
	}()
	s.Audit.Record(ctx, models.AuditLog{
		ActorID: adminID, Action: "wallet.blacklist", Target: addr,
		Details: map[string]interface{}{"reason": reason, "permanent": permanent},
	}, err)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"wallet": addr, "permanent": out.IsPermanent}).Info("⛔ [BLACKLIST] wallet blacklisted")
	return &out, nil
}

// RemoveBlacklistedWallet lifts a non-permanent entry.
func (s *ContainmentService) RemoveBlacklistedWallet(ctx context.Context, address, adminID string) error {
	addr := models.NormalizeAddress(address)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var w models.BlacklistedWallet
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("wallet_address = ?", addr).First(&w).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if w.IsPermanent {
			return conflict(nil, "permanent blacklist entries cannot be removed")
		}
		return tx.Delete(&w).Error
	})
	s.Audit.Record(ctx, models.AuditLog{ActorID: adminID, Action: "wallet.unblacklist", Target: addr}, err)
	return err
}

type FraudSignalFilter struct {
	ActorID    string
	SignalType models.FraudSignalType
	Limit      int
	Offset     int
}

// ListFraudSignals returns signals newest first with the total match count.
func (s *ContainmentService) ListFraudSignals(ctx context.Context, f FraudSignalFilter) ([]models.FraudSignal, int64, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	q := s.DB.WithContext(ctx).Model(&models.FraudSignal{})
	if f.ActorID != "" {
		q = q.Where("actor_id = ?", f.ActorID)
	}
	if f.SignalType != "" {
		q = q.Where("signal_type = ?", f.SignalType)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	out := []models.FraudSignal{}
	if err := q.Order("created_at DESC").Limit(f.Limit).Offset(f.Offset).Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
