package signal

import "github.com/justicehub-au/alma-engine/internal/model"

// smallSampleCutoff is the sample size below which a study's rigor rank is
// discounted. Studies with no recorded sample size are not discounted.
const smallSampleCutoff = 30

// EvidenceStrength aggregates the visible evidence base. Three parts:
//
//	quality  = 0.6 * (best rigor / max) + 0.4 * (summed rigor, saturating)
//	volume   = count of visible evidence, saturating at 4
//	corro    = distinct linked outcome types (saturating at 5), blended
//	           with the count of evidence linking at least one outcome
//
// weighted 0.5 / 0.25 / 0.25. Every term is non-decreasing in the visible
// set, so revoking consent on a record can only lower the signal, never
// raise it. Exactly 0 when no evidence is visible: a bare or fully
// restricted intervention never accrues strength from outcome counts alone.
func EvidenceStrength(in *model.SignalInputs, visible []model.EvidenceInput) float64 {
	if len(visible) == 0 {
		return 0
	}

	var best, sum float64
	corroborated := 0
	for _, ev := range visible {
		r := float64(ev.Type.Rigor()) / model.MaxRigor
		if ev.SampleSize != nil && *ev.SampleSize < smallSampleCutoff {
			r *= 0.8
		}
		if r > best {
			best = r
		}
		sum += r
		if ev.OutcomeLinks > 0 {
			corroborated++
		}
	}
	depth := sum / 3
	if depth > 1 {
		depth = 1
	}
	quality := 0.6*best + 0.4*depth

	volume := float64(len(visible)) / 4
	if volume > 1 {
		volume = 1
	}

	distinct := float64(in.DistinctOutcomeTypes) / 5
	if distinct > 1 {
		distinct = 1
	}
	backed := float64(corroborated) / 3
	if backed > 1 {
		backed = 1
	}
	corro := 0.7*distinct + 0.3*backed

	return clamp01(0.5*quality + 0.25*volume + 0.25*corro)
}
