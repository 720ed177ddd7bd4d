package model

import (
	"time"

	"github.com/kioku-app/kioku/internal/srs"
)

// ItemMemoryState is the derived per-(user, item) scheduling state. Except
// for Status, which carries explicit intent, every field is a cache of a
// replay result: it is always safe to discard and recompute from the event
// ledger, and it is never an independent source of truth.
type ItemMemoryState struct {
	UserID       string      `json:"user_id"`
	ItemID       string      `json:"item_id"`
	Status       Status      `json:"status"`
	Memory       srs.Memory  `json:"memory"`
	NextReviewAt time.Time   `json:"next_review_at"`
	LastReviewAt time.Time   `json:"last_review_at"`
	ReviewCount  int         `json:"review_count"`
	LapseCount   int         `json:"lapse_count"`
	UpdatedAt    LogicalTime `json:"updated_at"` // governs LWW merge of Status only
}

// NewItemMemoryState returns the fixed baseline for an item with no history.
func NewItemMemoryState(userID, itemID string) ItemMemoryState {
	return ItemMemoryState{
		UserID: userID,
		ItemID: itemID,
		Status: StatusNew,
	}
}

// UserProfile is the slow-moving per-user aggregate. Its fields fall into
// three groups with different merge rules: the proficiency signals (Rank,
// RecentEasyRatio, CycleCount) are a pure fold of the event ledger and carry
// no timestamp of their own, the user-authored intent (TopicWeights,
// SuppressedItems) competes last-writer-wins on IntentUpdatedAt, and the
// verified entitlement fact (Tier and its dates) competes last-writer-wins
// on TierUpdatedAt. The two stamps are independent: a routine intent edit
// must never outrank an earlier verified tier, and vice versa.
type UserProfile struct {
	UserID          string             `json:"user_id"`
	Rank            float64            `json:"rank"` // estimated proficiency
	TopicWeights    map[string]float64 `json:"topic_weights,omitempty"`
	SuppressedItems map[string]bool    `json:"suppressed_items,omitempty"`
	RecentEasyRatio float64            `json:"recent_easy_ratio"`
	CycleCount      int64              `json:"cycle_count"`
	Tier            Tier               `json:"tier"`
	TierVerifiedAt  time.Time          `json:"tier_verified_at"`
	TierExpiresAt   time.Time          `json:"tier_expires_at"`
	IntentUpdatedAt LogicalTime        `json:"intent_updated_at"`
	TierUpdatedAt   LogicalTime        `json:"tier_updated_at"`
}

// NewUserProfile returns the default profile for a user with no history.
func NewUserProfile(userID string) UserProfile {
	return UserProfile{
		UserID: userID,
		Tier:   TierFree,
	}
}

// Clone returns a deep copy of the profile. Map fields are copied.
func (p UserProfile) Clone() UserProfile {
	out := p
	if p.TopicWeights != nil {
		out.TopicWeights = make(map[string]float64, len(p.TopicWeights))
		for k, v := range p.TopicWeights {
			out.TopicWeights[k] = v
		}
	}
	if p.SuppressedItems != nil {
		out.SuppressedItems = make(map[string]bool, len(p.SuppressedItems))
		for k, v := range p.SuppressedItems {
			out.SuppressedItems[k] = v
		}
	}
	return out
}
