package model

import (
	"math"
	"time"

	"github.com/rotisserie/eris"
)

// Signals holds the five normalized [0,1] components of a portfolio score.
// HarmRisk is inverse-scored: it represents safety, not danger, so it
// composes additively with the others.
type Signals struct {
	EvidenceStrength         float64 `json:"evidence_strength"`
	HarmRisk                 float64 `json:"harm_risk"`
	ImplementationCapability float64 `json:"implementation_capability"`
	CommunityAuthority       float64 `json:"community_authority"`
	OptionValue              float64 `json:"option_value"`
}

// WeightSet is a versioned weight vector. Every portfolio score row
// references the weight set it was computed under, so historical scores can
// be audited or re-scored under old weights.
type WeightSet struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`

	EvidenceStrength         float64 `json:"evidence_strength" yaml:"evidence_strength" mapstructure:"evidence_strength"`
	HarmRisk                 float64 `json:"harm_risk" yaml:"harm_risk" mapstructure:"harm_risk"`
	ImplementationCapability float64 `json:"implementation_capability" yaml:"implementation_capability" mapstructure:"implementation_capability"`
	CommunityAuthority       float64 `json:"community_authority" yaml:"community_authority" mapstructure:"community_authority"`
	OptionValue              float64 `json:"option_value" yaml:"option_value" mapstructure:"option_value"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// weightTolerance is the allowed deviation of the weight sum from 1.0.
const weightTolerance = 1e-6

// Sum returns the total of the five weights.
func (w WeightSet) Sum() float64 {
	return w.EvidenceStrength + w.HarmRisk + w.ImplementationCapability +
		w.CommunityAuthority + w.OptionValue
}

// Validate checks that all weights are non-negative and sum to 1.0.
func (w WeightSet) Validate() error {
	for name, v := range map[string]float64{
		"evidence_strength":         w.EvidenceStrength,
		"harm_risk":                 w.HarmRisk,
		"implementation_capability": w.ImplementationCapability,
		"community_authority":       w.CommunityAuthority,
		"option_value":              w.OptionValue,
	} {
		if v < 0 {
			return eris.Errorf("weights: %s must be >= 0, got %v", name, v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > weightTolerance {
		return eris.Errorf("weights: must sum to 1.0, got %v", sum)
	}
	return nil
}

// Composite returns the weighted sum of s under w.
func (w WeightSet) Composite(s Signals) float64 {
	return s.EvidenceStrength*w.EvidenceStrength +
		s.HarmRisk*w.HarmRisk +
		s.ImplementationCapability*w.ImplementationCapability +
		s.CommunityAuthority*w.CommunityAuthority +
		s.OptionValue*w.OptionValue
}

// Recommendation is the human-readable funding guidance attached to a score.
type Recommendation string

const (
	RecScaleNow             Recommendation = "scale now"
	RecFundPilot            Recommendation = "fund pilot + evaluate"
	RecStrengthenEvidence   Recommendation = "strengthen evidence base"
	RecMitigateRisk         Recommendation = "require harm mitigation plan"
	RecCulturalReview       Recommendation = "complete cultural-authority review"
	RecInsufficientEvidence Recommendation = "insufficient evidence"
	RecMonitor              Recommendation = "monitor"
)

// PortfolioScore is one recompute generation for one intervention. Rows are
// append-only per intervention with monotonically increasing ScoredAt; the
// current score is the max-ScoredAt row.
type PortfolioScore struct {
	ID             string  `json:"id"`
	InterventionID string  `json:"intervention_id"`
	WeightSetID    string  `json:"weight_set_id"`
	Signals        Signals `json:"signals"`
	Composite      float64 `json:"composite"`

	Recommendation Recommendation `json:"recommendation"`

	// EvidenceCount and OutcomeCount record the visible input sizes at
	// recompute time, for trend analysis.
	EvidenceCount int `json:"evidence_count"`
	OutcomeCount  int `json:"outcome_count"`

	ScoredAt time.Time `json:"scored_at"`
}
