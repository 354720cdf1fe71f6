package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MintRequestStatus is the state of a mint request.
//
//	pending_sig -> signed -> submitting -> submitted -> confirmed | failed
//	pending_sig -> rejected
//	submitting -> signed (relay refused the broadcast)
type MintRequestStatus string

const (
	MintPendingSig MintRequestStatus = "pending_sig"
	MintSigned     MintRequestStatus = "signed"
	MintSubmitting MintRequestStatus = "submitting"
	MintSubmitted  MintRequestStatus = "submitted"
	MintConfirmed  MintRequestStatus = "confirmed"
	MintFailed     MintRequestStatus = "failed"
	MintRejected   MintRequestStatus = "rejected"
)

// ActiveMintStatuses are the unresolved states.
var ActiveMintStatuses = []MintRequestStatus{MintPendingSig, MintSigned, MintSubmitting, MintSubmitted}

// TerminalMintStatuses never change again.
var TerminalMintStatuses = []MintRequestStatus{MintConfirmed, MintFailed, MintRejected}

func (s MintRequestStatus) Terminal() bool {
	return s == MintConfirmed || s == MintFailed || s == MintRejected
}

// MintRequest batches light actions into one signed, capped on-chain mint.
type MintRequest struct {
	ID              string            `gorm:"primaryKey;type:uuid" json:"id"`
	UserID          string            `gorm:"type:varchar(64);not null;index" json:"user_id"`
	RequestedAmount int64             `gorm:"not null" json:"requested_amount"`
	AmountBaseUnits string            `gorm:"type:varchar(80);not null" json:"amount_base_units"` // requested_amount * 10^decimals
	ActionIDs       []string          `gorm:"serializer:json;type:text" json:"action_ids"`
	EpochDate       string            `gorm:"type:varchar(10);not null;index" json:"epoch_date"`
	Status          MintRequestStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	WalletAddress   string            `gorm:"type:varchar(64);not null;index" json:"wallet_address"`

	// Signed payload (EIP-712 style typed data)
	ChainID         int64  `gorm:"not null" json:"chain_id"`
	ContractAddress string `gorm:"type:varchar(64);not null" json:"contract_address"`
	DomainSeparator string `gorm:"type:varchar(66);not null" json:"domain_separator"`
	ActionsHash     string `gorm:"type:varchar(66);not null" json:"actions_hash"`
	Nonce           string `gorm:"type:varchar(66);not null;uniqueIndex" json:"nonce"`
	Deadline        int64  `gorm:"not null" json:"deadline"` // unix seconds
	Digest          string `gorm:"type:varchar(66);not null" json:"digest"`

	SignatureCount int             `gorm:"not null;default:0" json:"signature_count"`
	Signatures     []MintSignature `gorm:"foreignKey:MintRequestID" json:"signatures,omitempty"`

	TxHash        *string `gorm:"type:varchar(66);index" json:"tx_hash,omitempty"`
	FailureReason string  `gorm:"type:text" json:"failure_reason,omitempty"`
	RejectReason  string  `gorm:"type:text" json:"reject_reason,omitempty"`

	SignedAt    *time.Time `json:"signed_at,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (r *MintRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// MintSignature is one signer's countersignature. The unique index makes
// the first valid signature per signer the only one that counts.
type MintSignature struct {
	ID            string    `gorm:"primaryKey;type:uuid" json:"id"`
	MintRequestID string    `gorm:"type:uuid;not null;uniqueIndex:idx_mint_sig_signer,priority:1" json:"mint_request_id"`
	Signer        string    `gorm:"type:varchar(42);not null;uniqueIndex:idx_mint_sig_signer,priority:2" json:"signer"`
	Signature     string    `gorm:"type:varchar(132);not null" json:"signature"`
	CreatedAt     time.Time `json:"created_at"`
}

func (s *MintSignature) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
