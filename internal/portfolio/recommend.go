package portfolio

import "github.com/justicehub-au/alma-engine/internal/model"

// Thresholds are the calibration points for turning a signal vector into
// a recommendation. They come from configuration, never from constants in
// this package: the numbers must survive stakeholder review without a code
// change.
type Thresholds struct {
	ScaleEvidenceMin  float64
	ScaleSafetyMin    float64
	PilotEvidenceMax  float64
	PilotAuthorityMin float64
	PilotOptionMin    float64
	MitigateSafetyMax float64
	MonitorComposite  float64
}

// Recommend maps the shape of the signal vector to funding guidance. Rules
// are ordered most-specific first; the first match wins.
func (t Thresholds) Recommend(s model.Signals, composite float64, iv *model.Intervention, evidenceCount, outcomeCount int) model.Recommendation {
	switch {
	// Nothing to go on: no visible evidence, no outcomes, and no community
	// backing strong enough to justify a pilot on trust.
	case s.EvidenceStrength == 0 && evidenceCount == 0 && outcomeCount == 0 &&
		s.CommunityAuthority < t.PilotAuthorityMin:
		return model.RecInsufficientEvidence

	// A flagged cultural review blocks every other recommendation until
	// completed.
	case iv.HarmRiskLevel == model.HarmCulturalReview:
		return model.RecCulturalReview

	// HarmRisk is safety, so a low value means high danger.
	case s.HarmRisk < t.MitigateSafetyMax:
		return model.RecMitigateRisk

	case s.EvidenceStrength >= t.ScaleEvidenceMin && s.HarmRisk >= t.ScaleSafetyMin:
		return model.RecScaleNow

	// Thin evidence but the community stands behind it and the upside is
	// real: fund a pilot and evaluate.
	case s.EvidenceStrength < t.PilotEvidenceMax &&
		s.CommunityAuthority >= t.PilotAuthorityMin &&
		s.OptionValue >= t.PilotOptionMin:
		return model.RecFundPilot

	case composite >= t.MonitorComposite:
		return model.RecStrengthenEvidence

	default:
		return model.RecMonitor
	}
}
