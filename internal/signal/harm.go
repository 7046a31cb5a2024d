package signal

import (
	"strings"

	"github.com/justicehub-au/alma-engine/internal/model"
)

// harmBase maps the curated harm classification to a safety starting point.
// The signal represents safety, not danger, so it composes additively with
// the other four.
var harmBase = map[model.HarmRiskLevel]float64{
	model.HarmLow:            0.9,
	model.HarmMedium:         0.6,
	model.HarmHigh:           0.2,
	model.HarmCulturalReview: 0.4,
	model.HarmUnknown:        0.5,
}

// maxMediaPenalty caps how far negative media coverage alone can drag the
// safety signal. Media counts arrive from an external pipeline the engine
// does not control; a pile-on should not zero out a low-harm intervention.
const maxMediaPenalty = 0.3

// HarmRisk inverse-scores the harm classification: higher raw harm gives a
// lower signal. Negative media mentions subtract 0.05 each up to the cap,
// and a harm keyword hit in the free-text risk notes subtracts a flat 0.1.
func (e *Engine) HarmRisk(in *model.SignalInputs) float64 {
	base, ok := harmBase[in.Intervention.HarmRiskLevel]
	if !ok {
		base = harmBase[model.HarmUnknown]
	}

	penalty := 0.05 * float64(in.Intervention.NegativeMediaCount)
	if penalty > maxMediaPenalty {
		penalty = maxMediaPenalty
	}

	if e.keywordHit(in.Intervention.Risks) {
		penalty += 0.1
	}

	return clamp01(base - penalty)
}

func (e *Engine) keywordHit(risks string) bool {
	if risks == "" {
		return false
	}
	lower := strings.ToLower(risks)
	for _, kw := range e.HarmKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
