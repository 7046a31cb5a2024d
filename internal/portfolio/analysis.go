package portfolio

import (
	"sort"

	"github.com/justicehub-au/alma-engine/internal/model"
	"github.com/justicehub-au/alma-engine/internal/store"
)

// Rank orders scored interventions best-first: composite descending, ties
// broken by community authority descending, then most recent recompute
// first. Unscored interventions sort last by name.
func Rank(rows []store.ScoreRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].Score, rows[j].Score
		switch {
		case a == nil && b == nil:
			return rows[i].Intervention.Name < rows[j].Intervention.Name
		case a == nil:
			return false
		case b == nil:
			return true
		}
		if a.Composite != b.Composite {
			return a.Composite > b.Composite
		}
		if a.Signals.CommunityAuthority != b.Signals.CommunityAuthority {
			return a.Signals.CommunityAuthority > b.Signals.CommunityAuthority
		}
		return a.ScoredAt.After(b.ScoredAt)
	})
}

// Analysis summarizes the scored portfolio for a funder-facing dashboard.
type Analysis struct {
	Total    int `json:"total"`
	Unscored int `json:"unscored"`

	ByRecommendation map[model.Recommendation]int `json:"by_recommendation"`

	// Category lists carry intervention IDs in rank order; the dashboard
	// resolves names itself.
	ReadyToScale            []string `json:"ready_to_scale"`
	PromisingPilots         []string `json:"promising_pilots"`
	UnderfundedHighEvidence []string `json:"underfunded_high_evidence"`
	HighRiskFlagged         []string `json:"high_risk_flagged"`
	LearningOpportunities   []string `json:"learning_opportunities"`

	AverageComposite float64 `json:"average_composite"`
}

// Category cutoffs. Underfunded means strong evidence with no stable money
// behind it; a learning opportunity is thin evidence worth buying
// information about.
const (
	underfundedEvidenceMin = 0.6
	learningEvidenceMax    = 0.4
	learningOptionMin      = 0.6
)

// Analyze buckets the portfolio by recommendation. The input is re-ranked
// in place so the ID lists come out in rank order.
func Analyze(rows []store.ScoreRow) Analysis {
	Rank(rows)

	a := Analysis{
		Total:            len(rows),
		ByRecommendation: make(map[model.Recommendation]int),
	}

	var sum float64
	scored := 0
	for _, r := range rows {
		if r.Score == nil {
			a.Unscored++
			continue
		}
		scored++
		sum += r.Score.Composite
		a.ByRecommendation[r.Score.Recommendation]++

		switch r.Score.Recommendation {
		case model.RecScaleNow:
			a.ReadyToScale = append(a.ReadyToScale, r.Intervention.ID)
		case model.RecFundPilot:
			a.PromisingPilots = append(a.PromisingPilots, r.Intervention.ID)
		case model.RecMitigateRisk, model.RecCulturalReview:
			a.HighRiskFlagged = append(a.HighRiskFlagged, r.Intervention.ID)
		}

		funding := r.Intervention.FundingStatus
		if r.Score.Signals.EvidenceStrength >= underfundedEvidenceMin &&
			(funding == model.FundingUnfunded || funding == model.FundingAtRisk) {
			a.UnderfundedHighEvidence = append(a.UnderfundedHighEvidence, r.Intervention.ID)
		}
		if r.Score.Signals.EvidenceStrength < learningEvidenceMax &&
			r.Score.Signals.OptionValue >= learningOptionMin {
			a.LearningOpportunities = append(a.LearningOpportunities, r.Intervention.ID)
		}
	}
	if scored > 0 {
		a.AverageComposite = sum / float64(scored)
	}
	return a
}
