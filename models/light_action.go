package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ActionType is the kind of user action that earned light score
type ActionType string

const (
	ActionPost         ActionType = "post"
	ActionComment      ActionType = "comment"
	ActionReaction     ActionType = "reaction"
	ActionShare        ActionType = "share"
	ActionFriend       ActionType = "friend"
	ActionLivestream   ActionType = "livestream"
	ActionNewUserBonus ActionType = "new_user_bonus"
)

// ValidActionTypes lists every action type the scoring collaborator understands.
var ValidActionTypes = []ActionType{
	ActionPost, ActionComment, ActionReaction, ActionShare,
	ActionFriend, ActionLivestream, ActionNewUserBonus,
}

func (t ActionType) Valid() bool {
	for _, v := range ValidActionTypes {
		if v == t {
			return true
		}
	}
	return false
}

// MintStatus tracks whether an action's score has been turned into tokens
type MintStatus string

const (
	MintStatusUnminted MintStatus = "unminted"
	MintStatusQueued   MintStatus = "queued" // consumed by an unresolved mint request
	MintStatusMinted   MintStatus = "minted" // immutable from here on
)

// LightAction is one scored user action. Sub-scores come from the upstream
// scoring service and are stored as-is.
type LightAction struct {
	ID          string     `gorm:"primaryKey;type:uuid" json:"id"`
	ActorID     string     `gorm:"type:varchar(64);not null;index;uniqueIndex:idx_light_action_ref,priority:1" json:"actor_id"`
	ActionType  ActionType `gorm:"type:varchar(32);not null;uniqueIndex:idx_light_action_ref,priority:2" json:"action_type"`
	ReferenceID string     `gorm:"type:varchar(128);not null;uniqueIndex:idx_light_action_ref,priority:3" json:"reference_id"`

	QualityScore   float64 `json:"quality_score"`
	ImpactScore    float64 `json:"impact_score"`
	IntegrityScore float64 `json:"integrity_score"`
	UnityScore     float64 `json:"unity_score"`
	Multiplier     float64 `json:"multiplier"`
	LightScore     int64   `gorm:"not null;default:0" json:"light_score"` // whole-token units

	IsEligible    bool       `gorm:"not null;default:false" json:"is_eligible"`
	MintStatus    MintStatus `gorm:"type:varchar(16);not null;default:'unminted';index" json:"mint_status"`
	MintRequestID *string    `gorm:"type:uuid;index" json:"mint_request_id,omitempty"`
	MintedAt      *time.Time `json:"minted_at,omitempty"`

	// ActionDate is the UTC calendar day the action was scored on (YYYY-MM-DD),
	// used for the per-type daily limits.
	ActionDate string    `gorm:"type:varchar(10);not null;index" json:"action_date"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (a *LightAction) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.MintStatus == "" {
		a.MintStatus = MintStatusUnminted
	}
	return nil
}

// ActionDailyCount is how many actions of one type a user recorded on one
// UTC day. Slots are taken with a conditional increment so concurrent
// evaluations cannot pass the limit together.
type ActionDailyCount struct {
	UserID     string     `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	ActionType ActionType `gorm:"primaryKey;type:varchar(32)" json:"action_type"`
	Date       string     `gorm:"primaryKey;type:varchar(10)" json:"date"`
	Used       int64      `gorm:"not null;default:0" json:"used"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
