// services/mint_orchestrator.go
package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"light-mint-service/chain"
	"light-mint-service/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxClaimAttempts = 3

var errClaimConflict = errors.New("actions claimed concurrently")

// MintRelay broadcasts signed mints and reports their receipts.
type MintRelay interface {
	SubmitMint(ctx context.Context, call chain.MintCall) (string, error)
	GetReceipt(ctx context.Context, txHash string) (*chain.Receipt, error)
}

type MintConfig struct {
	Domain        chain.Domain
	Decimals      uint8
	Signers       []string // lower-case addresses
	Threshold     int
	PayloadTTL    time.Duration
	SubmitTimeout time.Duration
}

// MintOrchestrator drives mint requests through
// pending_sig -> signed -> submitting -> submitted -> confirmed | failed, with rejected
// reachable from pending_sig (and from any unresolved state on a ban).
type MintOrchestrator struct {
	DB     *gorm.DB
	Ledger *EpochLedger
	Relay  MintRelay
	Events *EventPublisher
	Audit  *AuditLogger
	Config MintConfig
	Clock  Clock

	signers map[string]bool
}

func NewMintOrchestrator(db *gorm.DB, ledger *EpochLedger, relay MintRelay, events *EventPublisher, audit *AuditLogger, cfg MintConfig) *MintOrchestrator {
	if cfg.PayloadTTL <= 0 {
		cfg.PayloadTTL = 24 * time.Hour
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 20 * time.Second
	}
	signers := make(map[string]bool, len(cfg.Signers))
	for _, s := range cfg.Signers {
		signers[models.NormalizeAddress(s)] = true
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = len(signers)
	}
	return &MintOrchestrator{
		DB:      db,
		Ledger:  ledger,
		Relay:   relay,
		Events:  events,
		Audit:   audit,
		Config:  cfg,
		signers: signers,
	}
}

// MintRequestList splits a user's requests for the wallet screen.
type MintRequestList struct {
	Active     []models.MintRequest `json:"active"`
	History    []models.MintRequest `json:"history"`
	TodayCount int64                `json:"today_count"`
}

// SignPayload is everything an off-line signer needs to reproduce the digest.
type SignPayload struct {
	RequestID      string                   `json:"request_id"`
	Status         models.MintRequestStatus `json:"status"`
	Domain         chain.Domain             `json:"domain"`
	Recipient      string                   `json:"recipient"`
	Amount         string                   `json:"amount"` // base units
	ActionsHash    string                   `json:"actions_hash"`
	Nonce          string                   `json:"nonce"`
	Deadline       int64                    `json:"deadline"`
	Digest         string                   `json:"digest"`
	SignatureCount int                      `json:"signature_count"`
	Threshold      int                      `json:"threshold"`
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// consumeGreedy walks actions in order and takes every one that still fits
// in budget, skipping those that would overflow it.
func consumeGreedy(actions []models.LightAction, budget int64) ([]models.LightAction, int64) {
	var (
		chosen []models.LightAction
		sum    int64
	)
	for _, a := range actions {
		if sum+a.LightScore > budget {
			continue
		}
		chosen = append(chosen, a)
		sum += a.LightScore
	}
	return chosen, sum
}

func lockRequest(tx *gorm.DB, id string) (*models.MintRequest, error) {
	var req models.MintRequest
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&req, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// transitionTx moves req from its current status to `to`, guarded on the
// current status, and writes the outbox event.
func transitionTx(tx *gorm.DB, req *models.MintRequest, to models.MintRequestStatus, fields map[string]interface{}, note string) (models.MintEvent, error) {
	from := req.Status
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["status"] = to
	res := tx.Model(&models.MintRequest{}).Where("id = ? AND status = ?", req.ID, from).Updates(fields)
	if res.Error != nil {
		return models.MintEvent{}, res.Error
	}
	if res.RowsAffected == 0 {
		return models.MintEvent{}, conflict(req, "status changed concurrently")
	}
	req.Status = to
	return recordEventTx(tx, req, from, note)
}

// releaseRequestTx hands a request's actions back to the ledger and frees
// its epoch reservation.
func releaseRequestTx(tx *gorm.DB, ledger *EpochLedger, req *models.MintRequest) error {
	if err := tx.Model(&models.LightAction{}).
		Where("mint_request_id = ? AND mint_status = ?", req.ID, models.MintStatusQueued).
		Updates(map[string]interface{}{
			"mint_status":     models.MintStatusUnminted,
			"mint_request_id": nil,
		}).Error; err != nil {
		return fmt.Errorf("release actions of %s: %w", req.ID, err)
	}
	return ledger.ReleaseTx(tx, req.UserID, req.EpochDate, req.RequestedAmount)
}

// Create turns the caller's eligible actions into a pending_sig request.
// A repeated client nonce returns the request it created.
func (o *MintOrchestrator) Create(ctx context.Context, userID string, actionIDs []string, nonceHex string) (*models.MintRequest, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUnauthorized
	}
	ids := dedupe(actionIDs)
	if len(ids) == 0 {
		return nil, invalid("action_ids", "at least one action id is required")
	}

	var clientNonce *chain.Hash
	if nonceHex != "" {
		n, err := chain.HexToHash(nonceHex)
		if err != nil {
			return nil, invalid("nonce", "expected 32-byte hex")
		}
		clientNonce = &n
		if existing, err := o.existingForNonce(ctx, userID, n); existing != nil || err != nil {
			return existing, err
		}
	}

	var (
		reqID  string
		events []models.MintEvent
		err    error
	)
	for attempt := 1; attempt <= maxClaimAttempts; attempt++ {
		reqID, events, err = o.createOnce(ctx, userID, ids, clientNonce)
		if !errors.Is(err, errClaimConflict) {
			break
		}
		log.WithFields(log.Fields{"user_id": userID, "attempt": attempt}).Warn("[MINT] action claim conflict, retrying")
	}
	if err != nil {
		if clientNonce != nil {
			// a concurrent create with the same nonce won
			if existing, e := o.existingForNonce(ctx, userID, *clientNonce); existing != nil && e == nil {
				return existing, nil
			}
		}
		if errors.Is(err, errClaimConflict) {
			return nil, conflict(nil, "actions were claimed concurrently")
		}
		var gateErr *FraudGateError
		if errors.As(err, &gateErr) {
			recordGateDenial(ctx, o.DB, o.Audit, "mint.create", gateErr)
		}
		var capErr *CapacityError
		if errors.As(err, &capErr) {
			capRejections.WithLabelValues(capErr.Scope).Inc()
		}
		return nil, err
	}

	o.Events.Publish(ctx, events...)
	req, err := o.load(ctx, reqID)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"user_id": userID, "request_id": req.ID, "amount": req.RequestedAmount, "actions": len(req.ActionIDs)}).
		Info("🪙 [MINT] request created")
	return req, nil
}

func (o *MintOrchestrator) existingForNonce(ctx context.Context, userID string, nonce chain.Hash) (*models.MintRequest, error) {
	var req models.MintRequest
	err := o.DB.WithContext(ctx).Preload("Signatures").Where("nonce = ?", nonce.Hex()).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if req.UserID != userID {
		return nil, conflict(nil, "nonce already used")
	}
	return &req, nil
}

func (o *MintOrchestrator) createOnce(ctx context.Context, userID string, ids []string, clientNonce *chain.Hash) (string, []models.MintEvent, error) {
	now := o.Clock.now()
	date := now.Format(models.DateLayout)
	reqID := uuid.NewString()
	var events []models.MintEvent

	err := o.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, wallet, err := checkMintGateTx(tx, userID, now)
		if err != nil {
			return err
		}

		var found []models.LightAction
		if err := tx.Where("id IN ? AND actor_id = ? AND is_eligible = ? AND mint_status = ? AND mint_request_id IS NULL",
			ids, userID, true, models.MintStatusUnminted).Find(&found).Error; err != nil {
			return err
		}
		byID := make(map[string]models.LightAction, len(found))
		for _, a := range found {
			byID[a.ID] = a
		}
		ordered := make([]models.LightAction, 0, len(found))
		var total int64
		for _, id := range ids {
			if a, ok := byID[id]; ok && a.LightScore > 0 {
				ordered = append(ordered, a)
				total += a.LightScore
			}
		}
		if len(ordered) == 0 {
			return invalid("action_ids", "no eligible unminted actions")
		}

		limit, err := DailyLimitFor(tx, userID)
		if err != nil {
			return err
		}
		granted, err := o.Ledger.ReserveTx(tx, userID, date, total, limit)
		if err != nil {
			return err
		}
		chosen, consumed := consumeGreedy(ordered, granted)
		if consumed == 0 {
			return &CapacityError{Scope: "action", Remaining: granted}
		}
		if granted > consumed {
			if err := o.Ledger.ReleaseTx(tx, userID, date, granted-consumed); err != nil {
				return err
			}
		}

		chosenIDs := make([]string, len(chosen))
		for i, a := range chosen {
			chosenIDs[i] = a.ID
		}
		res := tx.Model(&models.LightAction{}).
			Where("id IN ? AND mint_status = ? AND mint_request_id IS NULL", chosenIDs, models.MintStatusUnminted).
			Updates(map[string]interface{}{
				"mint_status":     models.MintStatusQueued,
				"mint_request_id": reqID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(len(chosenIDs)) {
			return errClaimConflict
		}

		var nonce chain.Hash
		if clientNonce != nil {
			nonce = *clientNonce
		} else if nonce, err = chain.NewNonce(); err != nil {
			return err
		}
		amount := chain.ToBaseUnits(consumed, o.Config.Decimals)
		actionsHash := chain.ActionsHash(chosenIDs)
		deadline := now.Add(o.Config.PayloadTTL).Unix()

		sep, err := o.Config.Domain.Separator()
		if err != nil {
			return err
		}
		digest, err := chain.Digest(o.Config.Domain, chain.MintMessage{
			Recipient:   wallet,
			Amount:      amount,
			ActionsHash: actionsHash,
			Nonce:       nonce,
			Deadline:    deadline,
		})
		if err != nil {
			return err
		}

		req := &models.MintRequest{
			ID:              reqID,
			UserID:          userID,
			RequestedAmount: consumed,
			AmountBaseUnits: amount.String(),
			ActionIDs:       chosenIDs,
			EpochDate:       date,
			Status:          models.MintPendingSig,
			WalletAddress:   wallet,
			ChainID:         o.Config.Domain.ChainID,
			ContractAddress: models.NormalizeAddress(o.Config.Domain.VerifyingContract),
			DomainSeparator: sep.Hex(),
			ActionsHash:     actionsHash.Hex(),
			Nonce:           nonce.Hex(),
			Deadline:        deadline,
			Digest:          digest.Hex(),
		}
		if err := tx.Create(req).Error; err != nil {
			return err
		}
		ev, err := recordEventTx(tx, req, "", fmt.Sprintf("%d of %d requested", consumed, total))
		if err != nil {
			return err
		}
		events = append(events, ev)
		return nil
	})
	return reqID, events, err
}

// Sign records one signer's countersignature over the stored digest.
func (o *MintOrchestrator) Sign(ctx context.Context, id, signatureHex string) (*models.MintRequest, error) {
	sig, err := chain.DecodeSignature(signatureHex)
	if err != nil {
		return nil, invalid("signature", "expected 65-byte hex r||s||v")
	}
	now := o.Clock.now()
	var (
		events []models.MintEvent
		signer string
	)

	err = o.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := lockRequest(tx, id)
		if err != nil {
			return err
		}
		if req.Status != models.MintPendingSig {
			return conflict(req, "request is not awaiting signatures")
		}
		if now.Unix() > req.Deadline {
			return conflict(req, "signing payload expired")
		}
		digest, err := chain.HexToHash(req.Digest)
		if err != nil {
			return err
		}
		signer, err = chain.RecoverAddress(digest, sig)
		if err != nil {
			return invalid("signature", "signer cannot be recovered")
		}
		if !o.signers[signer] {
			return invalid("signature", "signer is not authorized")
		}

		var dup int64
		if err := tx.Model(&models.MintSignature{}).
			Where("mint_request_id = ? AND signer = ?", req.ID, signer).Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			return conflict(req, "signer already signed")
		}
		if err := tx.Create(&models.MintSignature{
			MintRequestID: req.ID,
			Signer:        signer,
			Signature:     "0x" + hex.EncodeToString(sig),
		}).Error; err != nil {
			return err
		}

		count := req.SignatureCount + 1
		fields := map[string]interface{}{"signature_count": count}
		if count < o.Config.Threshold {
			return tx.Model(&models.MintRequest{}).Where("id = ?", req.ID).Updates(fields).Error
		}
		fields["signed_at"] = now
		ev, err := transitionTx(tx, req, models.MintSigned, fields,
			fmt.Sprintf("%d/%d signatures", count, o.Config.Threshold))
		if err != nil {
			return err
		}
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.Events.Publish(ctx, events...)
	log.WithFields(log.Fields{"request_id": id, "signer": signer}).Info("✍️ [MINT] signature accepted")
	return o.load(ctx, id)
}

// Submit broadcasts a signed request through the relay. Submitting an
// already submitted or confirmed request returns it unchanged.
//
// The request is committed as submitting before the relay is called, and
// the broadcast itself runs outside any transaction. A submitting request
// is never released by the expiry sweep: it stays put until a later Submit
// re-broadcasts it (the relay dedupes on the request id) or a receipt
// resolves it.
func (o *MintOrchestrator) Submit(ctx context.Context, id, adminID string) (*models.MintRequest, error) {
	call, userID, gateErr, err := o.beginSubmit(ctx, id)
	if err == nil && call != nil {
		err = o.broadcast(ctx, call)
	}

	if !errors.Is(err, ErrNotFound) {
		o.Audit.Record(ctx, models.AuditLog{
			ActorID:      adminID,
			Action:       "mint.submit",
			TargetUserID: userID,
			Target:       id,
		}, firstErr(err, gateErrOrNil(gateErr)))
	}
	if err != nil {
		log.WithFields(log.Fields{"request_id": id}).Warnf("❌ [MINT] submit failed: %v", err)
		return nil, err
	}

	req, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if gateErr != nil {
		recordGateDenial(ctx, o.DB, nil, "mint.submit", gateErr)
		return req, gateErr
	}
	return req, nil
}

// beginSubmit moves a signed request to submitting and returns the relay
// call. A nil call means there is nothing to broadcast.
func (o *MintOrchestrator) beginSubmit(ctx context.Context, id string) (*chain.MintCall, string, *FraudGateError, error) {
	now := o.Clock.now()
	var (
		events  []models.MintEvent
		gateErr *FraudGateError
		userID  string
		call    *chain.MintCall
	)

	err := o.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := lockRequest(tx, id)
		if err != nil {
			return err
		}
		userID = req.UserID
		switch req.Status {
		case models.MintSubmitted, models.MintConfirmed:
			return nil
		case models.MintSubmitting:
			// an earlier broadcast never recorded its outcome
		case models.MintSigned:
			if now.Unix() > req.Deadline {
				return conflict(req, "signing payload expired")
			}
			blocked, err := isBlacklisted(tx, req.WalletAddress)
			if err != nil {
				return err
			}
			if blocked {
				gateErr = &FraudGateError{UserID: req.UserID, Wallet: req.WalletAddress, Reason: ErrWalletBlacklisted}
				ev, err := transitionTx(tx, req, models.MintFailed, map[string]interface{}{
					"failure_reason": "destination wallet blacklisted",
					"failed_at":      now,
				}, "destination wallet blacklisted")
				if err != nil {
					return err
				}
				events = append(events, ev)
				return releaseRequestTx(tx, o.Ledger, req)
			}
			ev, err := transitionTx(tx, req, models.MintSubmitting, map[string]interface{}{
				"submitted_at": now,
			}, "broadcasting")
			if err != nil {
				return err
			}
			events = append(events, ev)
		default:
			return conflict(req, "only signed requests can be submitted")
		}

		if o.Relay == nil {
			return &ExternalDependencyError{Service: "relay", Err: errors.New("relay not configured")}
		}
		var sigs []models.MintSignature
		if err := tx.Where("mint_request_id = ?", req.ID).Order("created_at ASC").Find(&sigs).Error; err != nil {
			return err
		}
		call = &chain.MintCall{
			RequestID:   req.ID,
			Contract:    req.ContractAddress,
			Recipient:   req.WalletAddress,
			Amount:      req.AmountBaseUnits,
			ActionsHash: req.ActionsHash,
			Nonce:       req.Nonce,
			Deadline:    req.Deadline,
		}
		for _, s := range sigs {
			call.Signatures = append(call.Signatures, s.Signature)
		}
		return nil
	})
	if err != nil {
		return nil, userID, nil, err
	}
	o.Events.Publish(ctx, events...)
	return call, userID, gateErr, nil
}

// broadcast hands call to the relay with no transaction open and records
// the outcome. A relay rejection means nothing was broadcast, so the
// request goes back to signed. Any other failure leaves it submitting.
func (o *MintOrchestrator) broadcast(ctx context.Context, call *chain.MintCall) error {
	relayCtx, cancel := context.WithTimeout(ctx, o.Config.SubmitTimeout)
	started := time.Now()
	txHash, relayErr := o.Relay.SubmitMint(relayCtx, *call)
	cancel()
	observeExternal("relay", relayErr == nil, time.Since(started).Seconds())

	var events []models.MintEvent
	err := o.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := lockRequest(tx, call.RequestID)
		if err != nil {
			return err
		}
		if relayErr != nil {
			if req.Status != models.MintSubmitting || !errors.Is(relayErr, chain.ErrRelayRejected) {
				return nil
			}
			ev, err := transitionTx(tx, req, models.MintSigned, map[string]interface{}{
				"submitted_at": nil,
			}, "relay rejected")
			if err != nil {
				return err
			}
			events = append(events, ev)
			return nil
		}

		switch req.Status {
		case models.MintSubmitting:
			req.TxHash = &txHash
			ev, err := transitionTx(tx, req, models.MintSubmitted, map[string]interface{}{
				"tx_hash": txHash,
			}, "broadcast")
			if err != nil {
				return err
			}
			events = append(events, ev)
		case models.MintRejected:
			// banned mid-broadcast; keep the hash for reconciliation
			if req.TxHash == nil {
				return tx.Model(&models.MintRequest{}).Where("id = ?", req.ID).Update("tx_hash", txHash).Error
			}
		}
		return nil
	})
	if err != nil {
		if relayErr == nil {
			log.WithFields(log.Fields{"request_id": call.RequestID, "tx_hash": txHash}).
				Errorf("❌ [MINT] broadcast succeeded but was not recorded: %v", err)
		}
		return err
	}
	o.Events.Publish(ctx, events...)

	if relayErr != nil {
		return &ExternalDependencyError{
			Service: "relay",
			Timeout: errors.Is(relayErr, chain.ErrTimeout) || errors.Is(relayErr, context.DeadlineExceeded),
			Err:     relayErr,
		}
	}
	return nil
}

// ReportReceipt applies the on-chain outcome of a submitted request. A
// submitting request is accepted when the receipt names its tx hash.
// Receipts for confirmed, failed or rejected requests change nothing.
func (o *MintOrchestrator) ReportReceipt(ctx context.Context, id, txHash string, success bool, reason string) (*models.MintRequest, error) {
	now := o.Clock.now()
	var events []models.MintEvent

	err := o.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := lockRequest(tx, id)
		if err != nil {
			return err
		}
		fields := map[string]interface{}{}
		switch req.Status {
		case models.MintConfirmed, models.MintFailed, models.MintRejected:
			return nil
		case models.MintSubmitted:
		case models.MintSubmitting:
			// the broadcast went out but its hash was never stored
			if txHash == "" {
				return conflict(req, "request has no recorded transaction")
			}
			req.TxHash = &txHash
			fields["tx_hash"] = txHash
		default:
			return conflict(req, "request was never submitted")
		}
		if txHash != "" && req.TxHash != nil && !strings.EqualFold(*req.TxHash, txHash) {
			return conflict(req, "tx hash does not match submitted transaction")
		}

		if !success {
			if reason == "" {
				reason = "transaction reverted"
			}
			fields["failure_reason"] = reason
			fields["failed_at"] = now
			ev, err := transitionTx(tx, req, models.MintFailed, fields, reason)
			if err != nil {
				return err
			}
			events = append(events, ev)
			return releaseRequestTx(tx, o.Ledger, req)
		}

		res := tx.Model(&models.LightAction{}).
			Where("mint_request_id = ? AND mint_status = ?", req.ID, models.MintStatusQueued).
			Updates(map[string]interface{}{
				"mint_status": models.MintStatusMinted,
				"minted_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if err := o.Ledger.CommitTx(tx, req.UserID, req.EpochDate, req.RequestedAmount); err != nil {
			return err
		}
		amt := req.RequestedAmount
		if err := tx.Model(&models.Profile{}).Where("user_id = ?", req.UserID).Updates(map[string]interface{}{
			"pending_rewards":  gorm.Expr("CASE WHEN pending_rewards > ? THEN pending_rewards - ? ELSE 0 END", amt, amt),
			"approved_rewards": gorm.Expr("approved_rewards + ?", amt),
		}).Error; err != nil {
			return err
		}
		fields["confirmed_at"] = now
		ev, err := transitionTx(tx, req, models.MintConfirmed, fields, "confirmed")
		if err != nil {
			return err
		}
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.Events.Publish(ctx, events...)
	if len(events) > 0 {
		log.WithFields(log.Fields{"request_id": id, "success": success}).Info("⛓️ [MINT] receipt applied")
	}
	return o.load(ctx, id)
}

// Reject cancels a request that is still collecting signatures.
func (o *MintOrchestrator) Reject(ctx context.Context, id, adminID, reason string) (*models.MintRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalid("reason", "required")
	}
	now := o.Clock.now()
	var (
		events []models.MintEvent
		userID string
	)
	err := o.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := lockRequest(tx, id)
		if err != nil {
			return err
		}
		userID = req.UserID
		if req.Status == models.MintRejected {
			return nil
		}
		if req.Status != models.MintPendingSig {
			return conflict(req, "only requests awaiting signatures can be rejected")
		}
		ev, err := transitionTx(tx, req, models.MintRejected, map[string]interface{}{
			"reject_reason": reason,
			"rejected_at":   now,
		}, reason)
		if err != nil {
			return err
		}
		events = append(events, ev)
		return releaseRequestTx(tx, o.Ledger, req)
	})
	if !errors.Is(err, ErrNotFound) {
		o.Audit.Record(ctx, models.AuditLog{
			ActorID:      adminID,
			Action:       "mint.reject",
			TargetUserID: userID,
			Target:       id,
			Details:      map[string]interface{}{"reason": reason},
		}, err)
	}
	if err != nil {
		return nil, err
	}
	o.Events.Publish(ctx, events...)
	return o.load(ctx, id)
}

// ExpireStale closes requests whose signing payload passed its deadline:
// pending_sig becomes rejected, signed becomes failed. Both are released.
// Submitting requests may already be on chain and are left to Submit and
// the receipt watcher.
func (o *MintOrchestrator) ExpireStale(ctx context.Context) (int, error) {
	now := o.Clock.now()
	var ids []string
	if err := o.DB.WithContext(ctx).Model(&models.MintRequest{}).
		Where("status IN ? AND deadline < ?", []models.MintRequestStatus{models.MintPendingSig, models.MintSigned}, now.Unix()).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		var events []models.MintEvent
		err := o.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			req, err := lockRequest(tx, id)
			if err != nil {
				return err
			}
			if now.Unix() <= req.Deadline {
				return nil
			}
			var ev models.MintEvent
			switch req.Status {
			case models.MintPendingSig:
				ev, err = transitionTx(tx, req, models.MintRejected, map[string]interface{}{
					"reject_reason": "signing payload expired",
					"rejected_at":   now,
				}, "expired")
			case models.MintSigned:
				ev, err = transitionTx(tx, req, models.MintFailed, map[string]interface{}{
					"failure_reason": "signing payload expired",
					"failed_at":      now,
				}, "expired")
			default:
				return nil
			}
			if err != nil {
				return err
			}
			events = append(events, ev)
			return releaseRequestTx(tx, o.Ledger, req)
		})
		if err != nil {
			log.WithFields(log.Fields{"request_id": id}).Errorf("[MINT] expire failed: %v", err)
			continue
		}
		if len(events) > 0 {
			expired++
			o.Events.Publish(ctx, events...)
		}
	}
	if expired > 0 {
		log.Printf("⏰ [MINT] expired %d stale request(s)", expired)
	}
	return expired, nil
}

func (o *MintOrchestrator) load(ctx context.Context, id string) (*models.MintRequest, error) {
	var req models.MintRequest
	err := o.DB.WithContext(ctx).
		Preload("Signatures", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&req, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// Get returns a request. Non-privileged callers only see their own.
func (o *MintOrchestrator) Get(ctx context.Context, userID, id string, privileged bool) (*models.MintRequest, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	req, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !privileged && req.UserID != userID {
		return nil, ErrNotFound
	}
	return req, nil
}

// List returns the caller's unresolved requests, the newest resolved ones
// and how many non-failed requests were made today.
func (o *MintOrchestrator) List(ctx context.Context, userID string, historyLimit int) (*MintRequestList, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	if historyLimit <= 0 || historyLimit > 100 {
		historyLimit = 20
	}
	db := o.DB.WithContext(ctx)
	out := &MintRequestList{Active: []models.MintRequest{}, History: []models.MintRequest{}}

	if err := db.Where("user_id = ? AND status IN ?", userID, models.ActiveMintStatuses).
		Order("created_at DESC").Find(&out.Active).Error; err != nil {
		return nil, err
	}
	if err := db.Where("user_id = ? AND status IN ?", userID, models.TerminalMintStatuses).
		Order("created_at DESC").Limit(historyLimit).Find(&out.History).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.MintRequest{}).
		Where("user_id = ? AND epoch_date = ? AND status <> ?", userID, o.Clock.today(), models.MintFailed).
		Count(&out.TodayCount).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Payload returns the typed data signers sign for request id.
func (o *MintOrchestrator) Payload(ctx context.Context, id string) (*SignPayload, error) {
	req, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SignPayload{
		RequestID:      req.ID,
		Status:         req.Status,
		Domain:         o.Config.Domain,
		Recipient:      req.WalletAddress,
		Amount:         req.AmountBaseUnits,
		ActionsHash:    req.ActionsHash,
		Nonce:          req.Nonce,
		Deadline:       req.Deadline,
		Digest:         req.Digest,
		SignatureCount: req.SignatureCount,
		Threshold:      o.Config.Threshold,
	}, nil
}

// Submitted lists requests waiting for a receipt, oldest first.
func (o *MintOrchestrator) Submitted(ctx context.Context, limit int) ([]models.MintRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []models.MintRequest
	err := o.DB.WithContext(ctx).
		Where("status = ? AND tx_hash IS NOT NULL", models.MintSubmitted).
		Order("submitted_at ASC").Limit(limit).Find(&out).Error
	return out, err
}

// Stalled lists submitting requests whose broadcast started before
// olderThan ago and never recorded an outcome.
func (o *MintOrchestrator) Stalled(ctx context.Context, olderThan time.Duration, limit int) ([]models.MintRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []models.MintRequest
	err := o.DB.WithContext(ctx).
		Where("status = ? AND submitted_at < ?", models.MintSubmitting, o.Clock.now().Add(-olderThan)).
		Order("submitted_at ASC").Limit(limit).Find(&out).Error
	return out, err
}

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

func gateErrOrNil(e *FraudGateError) error {
	if e == nil {
		return nil
	}
	return e
}
