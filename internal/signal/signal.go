// Package signal computes the five normalized components of an
// intervention's portfolio score. Each calculator is a pure function over a
// SignalInputs snapshot: no I/O, no clock, same inputs always produce the
// same value, so the five can run concurrently and any of them can be
// replayed for audit.
package signal

import (
	"github.com/justicehub-au/alma-engine/internal/model"
)

// Engine bundles the calculator tuning knobs. The zero value is usable;
// HarmKeywords defaults to nothing flagged.
type Engine struct {
	// HarmKeywords are scanned case-insensitively in free-text risk notes.
	HarmKeywords []string
}

// Compute runs the five calculators over one snapshot. The visible slice is
// the consent-filtered evidence for the requesting caller; the engine never
// consults the ledger itself.
func (e *Engine) Compute(in *model.SignalInputs, visible []model.EvidenceInput) model.Signals {
	return model.Signals{
		EvidenceStrength:         EvidenceStrength(in, visible),
		HarmRisk:                 e.HarmRisk(in),
		ImplementationCapability: ImplementationCapability(in),
		CommunityAuthority:       CommunityAuthority(in),
		OptionValue:              OptionValue(in, visible),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
