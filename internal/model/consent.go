// Package model defines the core entities of the intervention portfolio:
// interventions, evidence, outcomes, consent records, and portfolio scores.
package model

import "time"

// EntityType identifies which table a consent record governs.
type EntityType string

const (
	EntityIntervention EntityType = "intervention"
	EntityEvidence     EntityType = "evidence"
	EntityOutcome      EntityType = "outcome"
)

// ConsentLevel is the disclosure tier granted for an entity's data.
type ConsentLevel string

const (
	ConsentNone          ConsentLevel = "none"
	ConsentAnonymousOnly ConsentLevel = "anonymous-only"
	ConsentAttributed    ConsentLevel = "attributed"
	ConsentFull          ConsentLevel = "full"
	ConsentCommunityOnly ConsentLevel = "community-only"
)

// Action is a kind of use that consent can permit or deny.
type Action string

const (
	ActionRead    Action = "read"
	ActionExport  Action = "export"
	ActionCite    Action = "cite"
	ActionTrain   Action = "train"
	ActionPublish Action = "publish"
)

// Role is the caller's access tier. Internal roles may read entities that
// are pending cultural-authority review; community roles may read
// community-only data; public callers get neither.
type Role string

const (
	RoleInternal  Role = "internal"
	RoleCommunity Role = "community"
	RolePublic    Role = "public"
)

// Caller is the consent context carried by every request.
type Caller struct {
	Actor string `json:"actor"`
	Role  Role   `json:"role"`
}

// System is the caller identity used by the refresher's own recomputes.
var System = Caller{Actor: "system:refresher", Role: RoleInternal}

// ConsentState is the evaluated state of an entity's consent.
type ConsentState string

const (
	StateNoConsent     ConsentState = "no-consent"
	StateActive        ConsentState = "active"
	StateExpired       ConsentState = "expired"
	StateRevoked       ConsentState = "revoked"
	StatePendingReview ConsentState = "pending-review"
)

// ConsentRecord governs one (entity_type, entity_id) pair. At most one
// record per entity is active at a time; a new grant supersedes the prior
// record rather than deleting it, and a revoked record is never reactivated.
type ConsentRecord struct {
	ID         string     `json:"id"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`

	Level         ConsentLevel `json:"consent_level"`
	PermittedUses []Action     `json:"permitted_uses"`

	// RequiresReview marks the entity for cultural-authority review. While
	// the review is open only internal reads are permitted.
	RequiresReview  bool   `json:"requires_review"`
	ReviewCompleted bool   `json:"review_completed"`
	GrantedBy       string `json:"granted_by"`
	GrantReason     string `json:"grant_reason"`

	GrantedAt time.Time  `json:"granted_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	Revoked      bool       `json:"revoked"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokedBy    string     `json:"revoked_by,omitempty"`
	RevokeReason string     `json:"revoke_reason,omitempty"`

	// SupersededAt is set when a newer grant replaces this record. A
	// superseded record is kept for the audit trail and is never active.
	SupersededAt *time.Time `json:"superseded_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Effective reports whether the record grants anything at the given time:
// not revoked, not superseded, and not past its expiry.
func (c *ConsentRecord) Effective(now time.Time) bool {
	if c == nil || c.Revoked || c.SupersededAt != nil {
		return false
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
		return false
	}
	return true
}

// State evaluates the record's consent state at the given time. A nil
// record is no-consent; revoked wins over expired.
func (c *ConsentRecord) State(now time.Time) ConsentState {
	switch {
	case c == nil:
		return StateNoConsent
	case c.Revoked:
		return StateRevoked
	case c.ExpiresAt != nil && !c.ExpiresAt.After(now):
		return StateExpired
	case c.RequiresReview && !c.ReviewCompleted:
		return StatePendingReview
	default:
		return StateActive
	}
}

// Permits reports whether the record's permitted-use set includes action.
func (c *ConsentRecord) Permits(action Action) bool {
	if c == nil {
		return false
	}
	for _, a := range c.PermittedUses {
		if a == action {
			return true
		}
	}
	return false
}
