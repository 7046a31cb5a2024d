// Package store persists the portfolio engine's entities. The engine owns
// portfolio_scores, weight_sets, and the consent ledger; interventions,
// evidence, and outcomes are owned by the upstream curation workflow and
// only their cached signal columns are written here, atomically with each
// score row.
package store

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/justicehub-au/alma-engine/internal/model"
)

// warnWeightDivergence logs when an EnsureWeightSet call asks for weights
// that differ from the vector already stored under that name. The stored
// vector wins, so scoring silently continues under the old weights unless
// the operator renames the set; the warning makes that visible.
func warnWeightDivergence(requested, stored model.WeightSet) {
	const tol = 1e-9
	if math.Abs(requested.EvidenceStrength-stored.EvidenceStrength) < tol &&
		math.Abs(requested.HarmRisk-stored.HarmRisk) < tol &&
		math.Abs(requested.ImplementationCapability-stored.ImplementationCapability) < tol &&
		math.Abs(requested.CommunityAuthority-stored.CommunityAuthority) < tol &&
		math.Abs(requested.OptionValue-stored.OptionValue) < tol {
		return
	}
	zap.L().Warn("weight set already exists with different weights; stored weights apply",
		zap.String("name", stored.Name),
		zap.String("id", stored.ID),
		zap.Float64s("requested", []float64{
			requested.EvidenceStrength, requested.HarmRisk,
			requested.ImplementationCapability, requested.CommunityAuthority,
			requested.OptionValue,
		}),
		zap.Float64s("stored", []float64{
			stored.EvidenceStrength, stored.HarmRisk,
			stored.ImplementationCapability, stored.CommunityAuthority,
			stored.OptionValue,
		}))
}

// InterventionFilter specifies criteria for listing interventions and
// current scores.
type InterventionFilter struct {
	Geography       []string               `json:"geography,omitempty"`
	Type            model.InterventionType `json:"type,omitempty"`
	ReviewStatus    model.ReviewStatus     `json:"review_status,omitempty"`
	IncludeArchived bool                   `json:"include_archived,omitempty"`
	Limit           int                    `json:"limit,omitempty"`
	Offset          int                    `json:"offset,omitempty"`
}

// ScoreRow pairs an intervention with its current portfolio score, if any.
type ScoreRow struct {
	Intervention model.Intervention    `json:"intervention"`
	Score        *model.PortfolioScore `json:"score,omitempty"`
}

// GrantRequest carries a new consent grant. The ledger supersedes the prior
// active record rather than editing it; actor and reason are mandatory for
// the audit trail.
type GrantRequest struct {
	EntityType     model.EntityType   `json:"entity_type"`
	EntityID       string             `json:"entity_id"`
	Level          model.ConsentLevel `json:"consent_level"`
	PermittedUses  []model.Action     `json:"permitted_uses"`
	RequiresReview bool               `json:"requires_review"`
	ExpiresAt      *string            `json:"expires_at,omitempty"` // RFC 3339
	Actor          string             `json:"actor"`
	Reason         string             `json:"reason"`
}

// Store defines the persistence interface for the scoring engine.
type Store interface {
	// Interventions (read-only except cached score columns)
	GetIntervention(ctx context.Context, id string) (*model.Intervention, error)
	ListInterventions(ctx context.Context, f InterventionFilter) ([]model.Intervention, error)

	// SignalInputs assembles the read snapshot for one recompute: the
	// intervention, its active consent record, linked evidence with their
	// active consent records, and outcome counts.
	SignalInputs(ctx context.Context, id string) (*model.SignalInputs, error)

	// DirtyInterventionIDs returns non-archived interventions whose linked
	// data changed since their last recompute, or that were never scored.
	DirtyInterventionIDs(ctx context.Context) ([]string, error)

	// Consent ledger. GrantConsent and RevokeConsent enforce the
	// single-active-record invariant with a transactional guard; finding
	// more than one active record returns InvariantViolation and blocks
	// the write.
	ActiveConsent(ctx context.Context, et model.EntityType, id string) (*model.ConsentRecord, error)
	GrantConsent(ctx context.Context, req GrantRequest) (*model.ConsentRecord, error)
	RevokeConsent(ctx context.Context, et model.EntityType, id, actor, reason string) (*model.ConsentRecord, error)
	ConsentHistory(ctx context.Context, et model.EntityType, id string) ([]model.ConsentRecord, error)

	// Scores. SaveScore appends one portfolio_scores row and refreshes the
	// intervention's cached signal columns in a single transaction.
	SaveScore(ctx context.Context, score *model.PortfolioScore) error
	CurrentScore(ctx context.Context, interventionID string) (*model.PortfolioScore, error)
	CurrentScores(ctx context.Context, f InterventionFilter) ([]ScoreRow, error)
	ScoreHistory(ctx context.Context, interventionID string, limit int) ([]model.PortfolioScore, error)

	// Weight sets
	EnsureWeightSet(ctx context.Context, ws model.WeightSet) (*model.WeightSet, error)
	GetWeightSet(ctx context.Context, id string) (*model.WeightSet, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
