package signal

import "github.com/justicehub-au/alma-engine/internal/model"

// ImplementationCapability scores operational maturity. Adjustments are
// applied to a neutral midpoint of 0.5 so a sparsely documented but
// plausibly viable intervention degrades toward neutral, not toward zero.
func ImplementationCapability(in *model.SignalInputs) float64 {
	iv := in.Intervention
	v := 0.5

	if iv.YearsOperating != nil {
		switch y := *iv.YearsOperating; {
		case y >= 5:
			v += 0.15
		case y >= 2:
			v += 0.05
		default:
			v -= 0.05
		}
	}

	if iv.OrgVerified {
		v += 0.15
	}

	switch iv.ReplicationReadiness {
	case model.ReplicationReady:
		v += 0.2
	case model.ReplicationWithSupport:
		v += 0.1
	case model.ReplicationCommunityGated:
		v += 0.05
	case model.ReplicationNotReady:
		v -= 0.15
	}

	// Service-area coverage: operating in several regions is weak evidence
	// the model travels; no recorded region at all is a gap.
	switch n := len(iv.Geography); {
	case n >= 3:
		v += 0.05
	case n == 0:
		v -= 0.05
	}

	return clamp01(v)
}
