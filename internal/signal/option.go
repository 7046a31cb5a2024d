package signal

import "github.com/justicehub-au/alma-engine/internal/model"

// OptionValue is the forward-looking signal: it rewards interventions with
// a thin evidence base but strong community authority, surfacing "fund a
// pilot to learn more" candidates distinctly from already-proven ones.
//
// It recomputes evidence strength and community authority from the same
// snapshot rather than taking other calculators' outputs, so the five
// calculators stay independent and this one stays a pure function of the
// inputs.
func OptionValue(in *model.SignalInputs, visible []model.EvidenceInput) float64 {
	es := EvidenceStrength(in, visible)
	ca := CommunityAuthority(in)
	return clamp01(0.55*(1-es) + 0.45*ca)
}
